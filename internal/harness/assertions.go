package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/forgecache/internal/app"
	"github.com/roach88/forgecache/internal/cache"
	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/remote/fixture"
	"github.com/roach88/forgecache/internal/store"
)

// validIdentifier matches safe SQL identifiers (table names).
// Only alphanumeric characters and underscores, must start with letter or underscore.
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// AssertionError provides detailed information about assertion failures.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("%s assertion failed: expected %s, got %s", e.Type, e.Expected, e.Actual)
}

// AssertionContext provides what assertions inspect: the app's caches and
// store, and the fixture's call counters.
type AssertionContext struct {
	Ctx    context.Context
	App    *app.App
	Remote *fixture.Gateway
}

// EvaluateAssertions evaluates all assertions and returns one message per
// failure.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertRemoteCalls:
			err = assertRemoteCalls(actx.Remote, assertion)
		case AssertCount:
			err = assertCount(actx.App, assertion)
		case AssertEntity:
			err = assertEntity(actx.App, assertion)
		case AssertMeta:
			err = assertMeta(actx.App, assertion)
		case AssertStoreRows:
			if actx.App == nil || actx.App.Store == nil {
				err = fmt.Errorf("store_rows requires database context")
			} else {
				err = assertStoreRows(actx.Ctx, actx.App.Store, assertion)
			}
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}

		if err != nil {
			errors = append(errors, fmt.Sprintf("assertion[%d]: %v", i, err))
		}
	}

	return errors
}

func assertRemoteCalls(g *fixture.Gateway, a Assertion) error {
	if got := g.Calls(a.Method); got != a.Count {
		return &AssertionError{
			Type:     AssertRemoteCalls,
			Expected: fmt.Sprintf("%d calls to %s", a.Count, a.Method),
			Actual:   fmt.Sprintf("%d calls", got),
		}
	}
	return nil
}

// entities returns the cached entities of one scope, keyed the way entity
// assertions address them.
func entities(a *app.App, kind cache.Kind, repo domain.RepoRef) map[string]any {
	out := map[string]any{}
	switch kind {
	case cache.KindRepositories:
		for _, r := range a.Repositories.List() {
			out[r.Ref.String()] = r
		}
	case cache.KindPullRequests:
		for _, p := range a.PullRequests.List(repo) {
			out[strconv.Itoa(p.Number)] = p
		}
	case cache.KindIssues:
		for _, i := range a.Issues.List(repo) {
			out[strconv.Itoa(i.Number)] = i
		}
	case cache.KindBranches:
		for _, b := range a.Branches.List(repo) {
			out[b.Name] = b
		}
	case cache.KindChecks:
		for _, c := range a.Checks.List(repo) {
			out[c.Branch] = c
		}
	}
	return out
}

func assertCount(a *app.App, as Assertion) error {
	repo, _ := domain.ParseRepoRef(as.Repo)
	if got := len(entities(a, cache.Kind(as.Kind), repo)); got != as.Count {
		return &AssertionError{
			Type:     AssertCount,
			Expected: fmt.Sprintf("%d %s in %s", as.Count, as.Kind, scopeName(as)),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}

// assertEntity compares the entity's JSON form against Expect using subset
// semantics. Both sides go through encoding/json so YAML ints and JSON
// numbers compare equal.
func assertEntity(a *app.App, as Assertion) error {
	repo, _ := domain.ParseRepoRef(as.Repo)
	e, ok := entities(a, cache.Kind(as.Kind), repo)[as.Key]
	if !ok {
		return &AssertionError{
			Type:     AssertEntity,
			Expected: fmt.Sprintf("%s %s in %s", as.Kind, as.Key, scopeName(as)),
			Actual:   "not cached",
		}
	}

	actual, err := jsonMap(e)
	if err != nil {
		return err
	}
	expected, err := jsonMap(as.Expect)
	if err != nil {
		return err
	}

	keys := make([]string, 0, len(expected))
	for k := range expected {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		got, exists := actual[k]
		if !exists {
			return &AssertionError{
				Type:     AssertEntity,
				Expected: fmt.Sprintf("field %q to exist", k),
				Actual:   "field not present",
			}
		}
		if !valuesEqual(got, expected[k]) {
			return &AssertionError{
				Type:     AssertEntity,
				Expected: fmt.Sprintf("%s %s field %q = %v", as.Kind, as.Key, k, expected[k]),
				Actual:   fmt.Sprintf("%v", got),
			}
		}
	}
	return nil
}

func jsonMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return out, nil
}

// valuesEqual compares two decoded JSON values. Handles nested maps and
// slices.
func valuesEqual(actual, expected any) bool {
	if actual == nil && expected == nil {
		return true
	}
	if actual == nil || expected == nil {
		return false
	}
	return reflect.DeepEqual(actual, expected)
}

func assertMeta(a *app.App, as Assertion) error {
	repo, _ := domain.ParseRepoRef(as.Repo)
	var (
		meta  cache.Meta
		stale bool
	)
	switch cache.Kind(as.Kind) {
	case cache.KindRepositories:
		meta, stale = a.Repositories.Meta(), a.Repositories.IsStale()
	case cache.KindPullRequests:
		meta, stale = a.PullRequests.Meta(repo), a.PullRequests.IsStale(repo)
	case cache.KindIssues:
		meta, stale = a.Issues.Meta(repo), a.Issues.IsStale(repo)
	case cache.KindBranches:
		meta, stale = a.Branches.Meta(repo), a.Branches.IsStale(repo)
	case cache.KindChecks:
		meta, stale = a.Checks.Meta(repo), a.Checks.IsStale(repo)
	}

	check := func(field string, want *bool, got bool) error {
		if want == nil || *want == got {
			return nil
		}
		return &AssertionError{
			Type:     AssertMeta,
			Expected: fmt.Sprintf("%s of %s %s to be %t", field, as.Kind, scopeName(as), *want),
			Actual:   fmt.Sprintf("%t", got),
		}
	}
	if err := check("error", as.Error, meta.Err != nil); err != nil {
		return err
	}
	if err := check("stale", as.Stale, stale); err != nil {
		return err
	}
	return check("fetched", as.Fetched, meta.Fetched())
}

// assertStoreRows counts persisted rows, optionally narrowed to one
// repository. Call after the persister has been flushed.
//
// Security: the table name is validated against a whitelist pattern and the
// store's known tables; the repository id is bound as a parameter.
func assertStoreRows(ctx context.Context, st *store.Store, as Assertion) error {
	if !validIdentifier.MatchString(as.Table) || store.KeyColumns(as.Table) == nil {
		return fmt.Errorf("invalid table name %q", as.Table)
	}

	query := fmt.Sprintf("SELECT COUNT(*) AS n FROM %s", as.Table)
	var args []any
	if as.Repo != "" {
		query += fmt.Sprintf(" WHERE %s = ?", store.ColRepoID)
		args = append(args, as.Repo)
	}

	res := st.Query(ctx, query, args...)
	if !res.Success {
		return &AssertionError{
			Type:     AssertStoreRows,
			Expected: fmt.Sprintf("query table %s", as.Table),
			Actual:   fmt.Sprintf("query error: %v", res.Err),
		}
	}
	var got int64
	if len(res.Data) == 1 {
		got, _ = res.Data[0]["n"].(int64)
	}
	if got != int64(as.Count) {
		return &AssertionError{
			Type:     AssertStoreRows,
			Expected: fmt.Sprintf("%d rows in %s%s", as.Count, as.Table, repoSuffix(as.Repo)),
			Actual:   fmt.Sprintf("%d rows", got),
		}
	}
	return nil
}

func scopeName(a Assertion) string {
	if a.Repo == "" {
		return "*"
	}
	return a.Repo
}

func repoSuffix(repo string) string {
	if repo == "" {
		return ""
	}
	return " for " + strings.TrimSpace(repo)
}
