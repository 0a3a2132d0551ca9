package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/forgecache/internal/cache"
	"github.com/roach88/forgecache/internal/config"
	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/orchestrator"
	"github.com/roach88/forgecache/internal/remote"
	"github.com/roach88/forgecache/internal/store"
	"github.com/roach88/forgecache/internal/testutil"
)

var widgets = domain.RepoRef{Owner: "acme", Name: "widgets"}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Database: config.Database{
			Path: filepath.Join(t.TempDir(), "nested", "forgecache.db"),
		},
		Remote: config.Remote{
			Kind:    config.RemoteFixture,
			Fixture: "../remote/fixture/testdata/basic.yaml",
			Binary:  "gh",
			Timeout: 30 * time.Second,
		},
		Auth: config.Auth{
			TokenEnv: "FORGECACHE_TEST_TOKEN_UNSET",
		},
		Cache: config.Cache{
			RepositoryTTL:  5 * time.Minute,
			PullRequestTTL: 5 * time.Minute,
			IssueTTL:       5 * time.Minute,
			BranchTTL:      5 * time.Minute,
			CheckTTL:       2 * time.Minute,
		},
		PullRequests: config.PullRequests{
			State: remote.ListOpen,
		},
		Refresh: config.Refresh{
			CheckInterval: 30 * time.Second,
		},
		Sync: config.Sync{
			AutoSyncAfter: 5 * time.Minute,
			StatusHold:    3 * time.Second,
		},
	}
}

func TestNew_SyncThenWarmStart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	clock := testutil.NewFakeClock(time.Time{})

	a, err := New(ctx, cfg, WithClock(clock.Now), WithRunIDGenerator(testutil.NewSequentialRunIDs()))
	require.NoError(t, err)
	assert.True(t, a.Orchestrator.ShouldAutoSync(), "never synced")

	st := a.Orchestrator.Run(ctx)
	assert.Equal(t, orchestrator.StateSuccess, st.State)
	assert.Equal(t, "run-0001", st.RunID)
	assert.Equal(t, 1, st.Synced)
	// basic.yaml has one open and one merged pull request.
	require.Len(t, a.PullRequests.List(widgets), 1)
	require.NoError(t, a.Close(ctx))
	require.NoError(t, a.Close(ctx), "second close is a no-op")

	b, err := New(ctx, cfg, WithClock(clock.Now))
	require.NoError(t, err)
	defer func() { _ = b.Close(ctx) }()

	assert.True(t, b.Orchestrator.LastSync().Equal(clock.Now()))
	assert.False(t, b.Orchestrator.ShouldAutoSync())

	require.NoError(t, b.Hydrate(ctx))
	require.Len(t, b.Repositories.List(), 1)
	prs := b.PullRequests.List(widgets)
	require.Len(t, prs, 1)
	assert.Equal(t, 1, prs[0].Number)
	assert.True(t, b.PullRequests.IsStale(widgets), "hydrated data waits for a fetch")
}

func TestNew_FixtureIsTheCredentialSource(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t))
	require.NoError(t, err)
	defer func() { _ = a.Close(ctx) }()

	c, err := a.Credentials.Credentials(ctx)
	require.NoError(t, err)
	assert.True(t, c.Authenticated())
	assert.Equal(t, "alice", c.Login)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote.Fixture = ""
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote.fixture")
}

func TestNew_MissingFixture(t *testing.T) {
	cfg := testConfig(t)
	cfg.Remote.Fixture = filepath.Join(t.TempDir(), "absent.yaml")
	_, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read fixture")
}

func countRows(t *testing.T, a *App, table string) int64 {
	t.Helper()
	res := a.Store.Query(context.Background(), "SELECT COUNT(*) AS n FROM "+table)
	require.True(t, res.Success, "%v", res.Err)
	return res.Data[0]["n"].(int64)
}

func TestClearCache_StopsRefreshAndEmptiesEveryCache(t *testing.T) {
	ctx := context.Background()
	ticker := testutil.NewManualTicker()
	a, err := New(ctx, testConfig(t), WithTicker(func(time.Duration) cache.Ticker { return ticker }))
	require.NoError(t, err)
	defer func() { _ = a.Close(ctx) }()

	require.Equal(t, orchestrator.StateSuccess, a.Orchestrator.Run(ctx).State)
	_, err = a.Branches.Fetch(ctx, widgets, false)
	require.NoError(t, err)
	_, err = a.Checks.Fetch(ctx, widgets, a.Branches.Known(widgets), false)
	require.NoError(t, err)
	a.Scheduler.Start(ctx, widgets)
	require.Equal(t, []domain.RepoRef{widgets}, a.Scheduler.Running())
	require.NoError(t, a.Persister.Flush(ctx))

	a.ClearCache()

	assert.Empty(t, a.Scheduler.Running())
	assert.True(t, ticker.Stopped())
	assert.Empty(t, a.Repositories.List())
	assert.Empty(t, a.PullRequests.List(widgets))
	assert.Empty(t, a.Issues.List(widgets))
	assert.Empty(t, a.Branches.List(widgets))
	assert.Empty(t, a.Checks.List(widgets))
	assert.False(t, a.PullRequests.Meta(widgets).Fetched())

	// Memory only: the rows are still there for the next start.
	assert.Equal(t, int64(1), countRows(t, a, store.TableRepositories))
	assert.Equal(t, int64(2), countRows(t, a, store.TableBranches))
}

func TestPurgeStore_DeletesEveryRow(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a, err := New(ctx, cfg)
	require.NoError(t, err)

	require.Equal(t, orchestrator.StateSuccess, a.Orchestrator.Run(ctx).State)
	_, err = a.Branches.Fetch(ctx, widgets, false)
	require.NoError(t, err)

	n, err := a.PurgeStore(ctx)
	require.NoError(t, err)
	assert.Positive(t, n)
	for _, table := range purgeTables {
		assert.Zero(t, countRows(t, a, table), table)
	}
	assert.Empty(t, a.Repositories.List())
	require.NoError(t, a.Close(ctx))

	b, err := New(ctx, cfg)
	require.NoError(t, err)
	defer func() { _ = b.Close(ctx) }()
	assert.True(t, b.Orchestrator.ShouldAutoSync(), "purge forgets the last sync")
	require.NoError(t, b.Hydrate(ctx))
	assert.Empty(t, b.Repositories.List())
}

type countingSource struct {
	calls atomic.Int32
	creds remote.Credentials
	err   error
}

func (s *countingSource) Credentials(context.Context) (remote.Credentials, error) {
	s.calls.Add(1)
	return s.creds, s.err
}

func TestMemoCredentials(t *testing.T) {
	ctx := context.Background()
	clock := testutil.NewFakeClock(time.Time{})

	t.Run("authenticated result is reused until it expires", func(t *testing.T) {
		src := &countingSource{creds: remote.Credentials{Token: "t", Login: "alice"}}
		m := &memoCredentials{src: src, ttl: time.Minute, now: clock.Now}

		for range 3 {
			c, err := m.Credentials(ctx)
			require.NoError(t, err)
			assert.Equal(t, "alice", c.Login)
		}
		assert.Equal(t, int32(1), src.calls.Load())

		clock.Advance(time.Minute)
		_, err := m.Credentials(ctx)
		require.NoError(t, err)
		assert.Equal(t, int32(2), src.calls.Load())
	})

	t.Run("signed out is asked again", func(t *testing.T) {
		src := &countingSource{}
		m := &memoCredentials{src: src, ttl: time.Minute, now: clock.Now}
		_, _ = m.Credentials(ctx)
		_, _ = m.Credentials(ctx)
		assert.Equal(t, int32(2), src.calls.Load())
	})

	t.Run("errors are not remembered", func(t *testing.T) {
		boom := errors.New("gh not available")
		src := &countingSource{err: boom}
		m := &memoCredentials{src: src, ttl: time.Minute, now: clock.Now}
		_, err := m.Credentials(ctx)
		assert.ErrorIs(t, err, boom)
		_, err = m.Credentials(ctx)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, int32(2), src.calls.Load())
	})
}
