// Package remote defines the contract between the caches and the forge.
//
// A Gateway lists and mutates repositories, pull requests, issues, branches
// and check runs. Implementations live in subpackages: fixture serves a YAML
// file for offline use and tests, ghcli shells out to the gh CLI.
//
// Failed calls return *Error carrying the HTTP status when one is known.
// HumanMessage turns such an error into text suitable for a status line.
package remote
