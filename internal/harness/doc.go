// Package harness runs end-to-end cache scenarios.
//
// A scenario describes a forge (served by the fixture gateway), a sequence
// of steps against a fully wired app, and assertions on the final state.
// Each run also produces a text snapshot that is compared with a golden file.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: approve_then_422
//	description: "What this scenario demonstrates"
//	remote:
//	  login: alice
//	  repositories:
//	    - ref: {owner: acme, name: widgets}
//	  pull_requests:
//	    acme/widgets:
//	      - {number: 3, title: Bump deps, author: alice}
//	steps:
//	  - do: fetch
//	    kind: pull_requests
//	    repo: acme/widgets
//	  - do: approve
//	    repo: acme/widgets
//	    number: 3
//	    expect: {outcome: rejected}
//	assertions:
//	  - type: entity
//	    kind: pull_requests
//	    repo: acme/widgets
//	    key: "3"
//	    expect: {review_status: none}
//
// # Steps
//
//   - sync: one orchestrator run
//   - fetch: kind (repositories, pull_requests, issues, branches, checks), repo, force
//   - approve, request_changes, merge, toggle_draft: repo, number
//   - add_labels, remove_labels: repo, number, labels; kind issues targets an issue
//   - close_issues, reopen_issues: repo, numbers
//   - fail: install a fixture fault
//   - advance: move the fake clock by duration
//   - restart: close the app, reopen it on the same database and hydrate
//
// A step without expect must not fail.
//
// # Assertion Types
//
//   - remote_calls: the fixture saw method exactly count times
//   - count: a cache scope holds count entities
//   - entity: an entity's JSON form contains expect (subset match)
//   - meta: a scope's error, stale and fetched flags
//   - store_rows: a store table holds count rows, optionally for one repo
//
// # Deterministic Testing
//
// The app runs on a fresh SQLite file with a fake clock
// (testutil.FakeClock) and sequential run ids, so snapshots are identical
// across runs.
package harness
