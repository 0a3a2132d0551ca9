package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/forgecache/internal/cache"
	"github.com/roach88/forgecache/internal/domain"
)

const widgetsRemote = `
name: inline
description: inline scenario
remote:
  login: alice
  repositories:
    - ref: {owner: acme, name: widgets}
      default_branch: main
  pull_requests:
    acme/widgets:
      - {number: 1, title: "feat: sprockets", author: bob}
      - {number: 3, title: Bump deps, author: alice}
  issues:
    acme/widgets:
      - {number: 10, title: Broken widget, author: carol}
`

func parseInline(t *testing.T, steps string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(widgetsRemote + steps))
	require.NoError(t, err)
	return s
}

func TestRun_FetchThenCacheHit(t *testing.T) {
	s := parseInline(t, `
steps:
  - do: fetch
    kind: pull_requests
    repo: acme/widgets
  - do: fetch
    kind: pull_requests
    repo: acme/widgets
`)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Steps, 2)
	assert.Equal(t, "fetch pull_requests acme/widgets: fetched", result.Steps[0].Line)
	assert.Equal(t, map[cache.Kind]int{cache.KindPullRequests: 2}, result.Steps[0].Events)
	assert.Equal(t, "fetch pull_requests acme/widgets: cache-hit", result.Steps[1].Line)
	assert.Empty(t, result.Steps[1].Events)
	assert.Equal(t, map[string]int{"ListPullRequests": 1}, result.Calls)
}

func TestRun_UnexpectedFailureFails(t *testing.T) {
	s := parseInline(t, `
steps:
  - do: fail
    fault: {method: ListIssues, status: 500}
  - do: fetch
    kind: issues
    repo: acme/widgets
`)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "steps[1] (fetch): unexpected failed")
	assert.Equal(t, "fetch issues acme/widgets: failed status=500", result.Steps[1].Line)
}

func TestRun_ExpectMismatch(t *testing.T) {
	s := parseInline(t, `
steps:
  - do: fetch
    kind: pull_requests
    repo: acme/widgets
  - do: approve
    repo: acme/widgets
    number: 3
    expect: {outcome: ok}
`)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], `expected outcome "ok", got "rejected"`)
}

func TestRun_MutationWithoutCacheIsError(t *testing.T) {
	s := parseInline(t, `
steps:
  - do: approve
    repo: acme/widgets
    number: 1
    expect: {outcome: error}
`)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 0, result.Calls["CreateReview"])
}

func TestRun_RestartHydratesFromStore(t *testing.T) {
	s := parseInline(t, `
steps:
  - do: fetch
    kind: repositories
  - do: fetch
    kind: issues
    repo: acme/widgets
  - do: restart
assertions:
  - type: remote_calls
    method: ListIssues
    count: 1
  - type: count
    kind: issues
    repo: acme/widgets
    count: 1
  - type: meta
    kind: issues
    repo: acme/widgets
    fetched: false
    stale: true
`)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "restart", result.Steps[2].Line)
	assert.Equal(t, map[cache.Kind]int{cache.KindRepositories: 1, cache.KindIssues: 1}, result.Steps[2].Events)
}

func TestRun_DoesNotMutateScenario(t *testing.T) {
	s := parseInline(t, `
steps:
  - do: fetch
    kind: issues
    repo: acme/widgets
  - do: close_issues
    repo: acme/widgets
    numbers: [10]
`)

	_, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.NotEqual(t, domain.StateClosed, s.Remote.Issues["acme/widgets"][0].State)

	// A second run over the same scenario sees the same forge.
	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_WithDatabaseDir(t *testing.T) {
	dir := t.TempDir()
	s := parseInline(t, `
steps:
  - do: fetch
    kind: repositories
`)

	result, err := Run(context.Background(), s, WithDatabaseDir(dir))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	_, err = os.Stat(filepath.Join(dir, "forgecache.db"))
	assert.NoError(t, err)
}

func TestRun_AdvanceMakesScopeStale(t *testing.T) {
	s := parseInline(t, `
steps:
  - do: fetch
    kind: issues
    repo: acme/widgets
  - do: advance
    duration: 5m
assertions:
  - type: meta
    kind: issues
    repo: acme/widgets
    stale: true
    fetched: true
    error: false
`)

	result, err := Run(context.Background(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "advance 5m0s", result.Steps[1].Line)
}
