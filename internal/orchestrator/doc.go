// Package orchestrator runs a full sync: the repository list first, then the
// open pull requests of every repository, one after another.
//
// A sync moves through idle, running and then success or partial-failure.
// A failing repository does not stop the run; its error is collected and the
// next repository is tried. When the run ends the orchestrator records the
// sync time (in memory and in the durable sync_state table), publishes a
// status message, and clears the message again after a hold period, returning
// to idle.
//
// Overlapping runs are allowed. The caches skip a fetch for a scope that is
// already loading, so a second run costs little.
package orchestrator
