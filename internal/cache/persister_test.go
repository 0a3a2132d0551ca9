package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/remote"
	"github.com/roach88/forgecache/internal/store"
)

// recordingWriter captures batches and can be told to fail.
type recordingWriter struct {
	mu      sync.Mutex
	batches [][]store.Statement
	fail    bool
}

func (w *recordingWriter) ExecuteBatch(_ context.Context, stmts []store.Statement) store.ExecResult {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches = append(w.batches, stmts)
	if w.fail {
		return store.ExecResult{Err: errors.New("disk full")}
	}
	return store.ExecResult{Success: true, RowsAffected: int64(len(stmts))}
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.batches)
}

func runPersister(t *testing.T, p *Persister) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestPersister_AppliesInOrderAndFlushes(t *testing.T) {
	w := &recordingWriter{}
	p := NewPersister(w)
	runPersister(t, p)

	require.True(t, p.Enqueue(Job{Kind: KindIssues, Statements: []store.Statement{{SQL: "one"}}}))
	require.True(t, p.Enqueue(Job{Kind: KindIssues, Statements: []store.Statement{{SQL: "two"}, {SQL: "three"}}}))
	require.True(t, p.Enqueue(Job{Kind: KindIssues}))
	require.NoError(t, p.Flush(context.Background()))

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.batches, 2, "empty jobs are not written")
	assert.Equal(t, "one", w.batches[0][0].SQL)
	assert.Len(t, w.batches[1], 2)
}

func TestPersister_FailureIsLoggedAndDropped(t *testing.T) {
	w := &recordingWriter{fail: true}
	p := NewPersister(w)
	runPersister(t, p)

	p.Enqueue(Job{Kind: KindBranches, Statements: []store.Statement{{SQL: "x"}}})
	p.Enqueue(Job{Kind: KindBranches, Statements: []store.Statement{{SQL: "y"}}})
	require.NoError(t, p.Flush(context.Background()))

	assert.Equal(t, 2, w.count())
	assert.Equal(t, 0, p.Len())
}

func TestPersister_CloseDrainsThenStops(t *testing.T) {
	w := &recordingWriter{}
	p := NewPersister(w)
	p.Enqueue(Job{Kind: KindChecks, Statements: []store.Statement{{SQL: "x"}}})
	p.Close()

	assert.False(t, p.Enqueue(Job{Kind: KindChecks, Statements: []store.Statement{{SQL: "late"}}}))
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, 1, w.count())
	assert.NoError(t, p.Flush(context.Background()))
}

func TestPersister_NilIsSafe(t *testing.T) {
	var p *Persister
	assert.False(t, p.Enqueue(Job{}))
	assert.NoError(t, p.Flush(context.Background()))
	p.Close()
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "forgecache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func countRows(t *testing.T, st *store.Store, table string) int64 {
	t.Helper()
	res := st.Query(context.Background(), "SELECT COUNT(*) AS n FROM "+table)
	require.True(t, res.Success, "%v", res.Err)
	return res.Data[0]["n"].(int64)
}

func TestWriteBehind_MirrorsFetchesAndReplaces(t *testing.T) {
	e := newEnv(t, widgetsData())
	st := openStore(t)
	p := NewPersister(st)
	runPersister(t, p)
	deps := e.deps
	deps.Store = st
	deps.Persister = p
	prs := NewPullRequests(deps)
	ctx := context.Background()

	_, err := prs.Fetch(ctx, widgets, false)
	require.NoError(t, err)
	require.NoError(t, p.Flush(ctx))
	assert.Equal(t, int64(3), countRows(t, st, store.TablePullRequests))

	_, err = e.remote.MergePullRequest(ctx, widgets, 1, remote.MergeSquash)
	require.NoError(t, err)
	_, err = prs.Fetch(ctx, widgets, true)
	require.NoError(t, err)
	require.NoError(t, p.Flush(ctx))
	assert.Equal(t, int64(2), countRows(t, st, store.TablePullRequests))
}

func TestHydrate_WarmStartIsStaleButPopulated(t *testing.T) {
	e := newEnv(t, widgetsData())
	st := openStore(t)
	p := NewPersister(st)
	runPersister(t, p)
	deps := e.deps
	deps.Store = st
	deps.Persister = p
	ctx := context.Background()

	warm := NewPullRequests(deps)
	_, err := warm.Fetch(ctx, widgets, false)
	require.NoError(t, err)
	_, err = warm.Approve(ctx, widgets, 2)
	require.NoError(t, err)
	require.NoError(t, p.Flush(ctx))
	want := warm.List(widgets)

	cold := NewPullRequests(deps)
	rec := newRecorder()
	cold.Subscribe(rec.observe)
	require.NoError(t, cold.Hydrate(ctx, widgets))

	got := cold.List(widgets)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].Number, got[i].Number)
		assert.Equal(t, want[i].Title, got[i].Title)
		assert.Equal(t, want[i].ApprovedBy, got[i].ApprovedBy)
		assert.Equal(t, want[i].Labels, got[i].Labels)
		assert.Equal(t, want[i].ReviewStatus, got[i].ReviewStatus)
	}
	assert.True(t, cold.IsStale(widgets))
	assert.False(t, cold.Meta(widgets).Fetched())
	assert.Len(t, cold.Groups(widgets), 3)
	assert.Len(t, rec.drain(), 1)
}

func TestHydrate_LeavesPopulatedScopeAlone(t *testing.T) {
	e := newEnv(t, widgetsData())
	st := openStore(t)
	deps := e.deps
	deps.Store = st
	issues := NewIssues(deps)
	issues.Update(domain.Issue{Repo: widgets, Number: 42, Title: "in memory"})
	stmt := store.Upsert(store.TableIssues, deps.Mapper.IssueToRow(domain.Issue{Repo: widgets, Number: 7, Title: "on disk"}))
	require.True(t, st.Execute(context.Background(), stmt.SQL, stmt.Args...).Success)

	require.NoError(t, issues.Hydrate(context.Background(), widgets))

	list := issues.List(widgets)
	require.Len(t, list, 1)
	assert.Equal(t, 42, list[0].Number)
}

func TestHydrate_WithoutStoreIsNoop(t *testing.T) {
	e := newEnv(t, widgetsData())
	branches := NewBranches(e.deps, nil)

	require.NoError(t, branches.Hydrate(context.Background(), widgets))
	assert.Empty(t, branches.List(widgets))
}
