package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/remote"
	"github.com/roach88/forgecache/internal/remote/fixture"
)

func TestFetch_CacheHitWithinTTL(t *testing.T) {
	e := newEnv(t, widgetsData())
	prs := NewPullRequests(e.deps)
	ctx := context.Background()

	res, err := prs.Fetch(ctx, widgets, false)
	require.NoError(t, err)
	assert.Equal(t, FetchFetched, res)

	e.clock.Advance(DefaultPullRequestTTL - time.Second)
	res, err = prs.Fetch(ctx, widgets, false)
	require.NoError(t, err)
	assert.Equal(t, FetchCacheHit, res)
	assert.Equal(t, 1, e.remote.Calls(fixture.MethodListPullRequests))

	e.clock.Advance(time.Second)
	res, err = prs.Fetch(ctx, widgets, false)
	require.NoError(t, err)
	assert.Equal(t, FetchFetched, res)
	assert.Equal(t, 2, e.remote.Calls(fixture.MethodListPullRequests))
}

func TestFetch_ForceBypassesTTL(t *testing.T) {
	e := newEnv(t, widgetsData())
	prs := NewPullRequests(e.deps)
	ctx := context.Background()

	_, err := prs.Fetch(ctx, widgets, false)
	require.NoError(t, err)
	res, err := prs.Fetch(ctx, widgets, true)
	require.NoError(t, err)

	assert.Equal(t, FetchFetched, res)
	assert.Equal(t, 2, e.remote.Calls(fixture.MethodListPullRequests))
}

func TestFetch_StalenessFollowsTheClock(t *testing.T) {
	e := newEnv(t, widgetsData())
	prs := NewPullRequests(e.deps, WithTTL(time.Minute))

	assert.True(t, prs.IsStale(widgets), "never fetched")
	assert.False(t, prs.Meta(widgets).Fetched())

	_, err := prs.Fetch(context.Background(), widgets, false)
	require.NoError(t, err)
	assert.False(t, prs.IsStale(widgets))
	assert.Equal(t, e.clock.Now(), prs.Meta(widgets).LastFetch)

	e.clock.Advance(59 * time.Second)
	assert.False(t, prs.IsStale(widgets))
	e.clock.Advance(time.Second)
	assert.True(t, prs.IsStale(widgets))
}

func TestFetch_ConcurrentFetchIsSkipped(t *testing.T) {
	g := newGate(fixture.MethodListPullRequests)
	e := newEnv(t, widgetsData(), fixture.WithHook(g.hook()))
	prs := NewPullRequests(e.deps)
	ctx := context.Background()

	first := make(chan fetchOutcome, 1)
	go func() {
		res, err := prs.Fetch(ctx, widgets, false)
		first <- fetchOutcome{res, err}
	}()
	<-g.entered

	assert.True(t, prs.Meta(widgets).Loading)

	res, err := prs.Fetch(ctx, widgets, false)
	require.NoError(t, err)
	assert.Equal(t, FetchSkipped, res)

	res, err = prs.Fetch(ctx, widgets, true)
	require.NoError(t, err)
	assert.Equal(t, FetchSkipped, res, "force does not bypass an in-flight fetch")

	g.open()
	out := <-first
	require.NoError(t, out.err)
	assert.Equal(t, FetchFetched, out.res)
	assert.Equal(t, 1, e.remote.Calls(fixture.MethodListPullRequests))
	assert.False(t, prs.Meta(widgets).Loading)
}

func TestFetch_NotAuthenticatedChangesNothing(t *testing.T) {
	tests := []struct {
		name  string
		creds func(*env) remote.CredentialSource
	}{
		{"no credential source", func(*env) remote.CredentialSource { return nil }},
		{"signed out", func(*env) remote.CredentialSource { return remote.StaticCredentials{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, widgetsData())
			deps := e.deps
			deps.Credentials = tt.creds(e)
			prs := NewPullRequests(deps)
			rec := newRecorder()
			prs.Subscribe(rec.observe)

			res, err := prs.Fetch(context.Background(), widgets, false)

			assert.Equal(t, FetchFailed, res)
			assert.True(t, IsNotAuthenticated(err))
			assert.Equal(t, 0, e.remote.Calls(fixture.MethodListPullRequests))
			assert.Equal(t, Meta{}, prs.Meta(widgets))
			assert.Empty(t, rec.drain())
		})
	}
}

func TestFetch_RemoteErrorKeepsData(t *testing.T) {
	e := newEnv(t, widgetsData())
	prs := NewPullRequests(e.deps)
	ctx := context.Background()

	_, err := prs.Fetch(ctx, widgets, false)
	require.NoError(t, err)
	fetchedAt := prs.Meta(widgets).LastFetch
	before := prs.List(widgets)

	e.clock.Advance(time.Minute)
	e.remote.Fail(fixture.Fault{Method: fixture.MethodListPullRequests, Status: 502, Message: "Bad Gateway"})
	res, err := prs.Fetch(ctx, widgets, true)

	require.Error(t, err)
	assert.Equal(t, FetchFailed, res)
	assert.Equal(t, 502, remote.StatusOf(err))
	assert.Equal(t, before, prs.List(widgets))

	meta := prs.Meta(widgets)
	assert.Equal(t, fetchedAt, meta.LastFetch)
	assert.False(t, meta.Loading)
	assert.Error(t, meta.Err)

	e.remote.ClearFaults()
	_, err = prs.Fetch(ctx, widgets, true)
	require.NoError(t, err)
	assert.NoError(t, prs.Meta(widgets).Err)
}

// flakyGateway returns a malformed pull request list while bad is set.
type flakyGateway struct {
	*fixture.Gateway
	bad atomic.Bool
}

func (g *flakyGateway) ListPullRequests(ctx context.Context, repo domain.RepoRef, state remote.ListState) ([]domain.PullRequest, error) {
	if g.bad.Load() {
		return []domain.PullRequest{{Repo: repo, Number: 7}, {Repo: repo, Number: 7}}, nil
	}
	return g.Gateway.ListPullRequests(ctx, repo, state)
}

func TestFetch_MalformedResponseAppliesNothing(t *testing.T) {
	e := newEnv(t, widgetsData())
	flaky := &flakyGateway{Gateway: e.remote}
	deps := e.deps
	deps.Remote = flaky
	prs := NewPullRequests(deps)
	ctx := context.Background()

	_, err := prs.Fetch(ctx, widgets, false)
	require.NoError(t, err)
	before := prs.List(widgets)

	flaky.bad.Store(true)
	res, err := prs.Fetch(ctx, widgets, true)

	assert.Equal(t, FetchFailed, res)
	assert.True(t, IsMalformedResponse(err))
	assert.Equal(t, before, prs.List(widgets))
	_, ok := prs.Get(widgets, 7)
	assert.False(t, ok)
	assert.True(t, IsMalformedResponse(prs.Meta(widgets).Err))
}

func TestFetch_ForeignRepositoryIsMalformed(t *testing.T) {
	e := newEnv(t, widgetsData())
	other := domain.RepoRef{Owner: "acme", Name: "gadgets"}
	deps := e.deps
	deps.Remote = &foreignGateway{Gateway: e.remote, other: other}
	prs := NewPullRequests(deps)

	_, err := prs.Fetch(context.Background(), widgets, false)

	assert.True(t, IsMalformedResponse(err))
	assert.Empty(t, prs.List(widgets))
}

// foreignGateway answers every pull request list with entities of another
// repository.
type foreignGateway struct {
	*fixture.Gateway
	other domain.RepoRef
}

func (g *foreignGateway) ListPullRequests(context.Context, domain.RepoRef, remote.ListState) ([]domain.PullRequest, error) {
	return []domain.PullRequest{{Repo: g.other, Number: 1}}, nil
}

func TestFetch_ReplaceDropsMissingEntities(t *testing.T) {
	e := newEnv(t, widgetsData())
	prs := NewPullRequests(e.deps)
	ctx := context.Background()

	_, err := prs.Fetch(ctx, widgets, false)
	require.NoError(t, err)
	require.Len(t, prs.List(widgets), 3)

	_, err = e.remote.MergePullRequest(ctx, widgets, 1, remote.MergeSquash)
	require.NoError(t, err)
	_, err = prs.Fetch(ctx, widgets, true)
	require.NoError(t, err)

	numbers := []int{}
	for _, pr := range prs.List(widgets) {
		numbers = append(numbers, pr.Number)
	}
	assert.Equal(t, []int{3, 2}, numbers)
}

func TestFetch_ObserversSeeLoadingAndResult(t *testing.T) {
	e := newEnv(t, widgetsData())
	prs := NewPullRequests(e.deps)
	rec := newRecorder()
	unsubscribe := prs.Subscribe(rec.observe)
	ctx := context.Background()

	_, err := prs.Fetch(ctx, widgets, false)
	require.NoError(t, err)

	want := Event{Kind: KindPullRequests, Scope: domain.RepoScope(widgets)}
	assert.Equal(t, []Event{want, want}, rec.drain())

	_, err = prs.Fetch(ctx, widgets, false)
	require.NoError(t, err)
	assert.Empty(t, rec.drain(), "cache hit is silent")

	unsubscribe()
	unsubscribe()
	_, err = prs.Fetch(ctx, widgets, true)
	require.NoError(t, err)
	assert.Empty(t, rec.drain())
}

func TestObserver_MayReadBackInsideCallback(t *testing.T) {
	e := newEnv(t, widgetsData())
	prs := NewPullRequests(e.deps)
	var seen []int
	prs.Subscribe(func(Event) { seen = append(seen, len(prs.List(widgets))) })

	_, err := prs.Fetch(context.Background(), widgets, false)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 3}, seen)
}

func TestListAndGet_ReturnCopies(t *testing.T) {
	e := newEnv(t, widgetsData())
	prs := NewPullRequests(e.deps)
	_, err := prs.Fetch(context.Background(), widgets, false)
	require.NoError(t, err)

	list := prs.List(widgets)
	list[0].Labels = append(list[0].Labels, domain.Label{Name: "mutated"})
	list[0].Title = "mutated"

	got, ok := prs.Get(widgets, list[0].Number)
	require.True(t, ok)
	assert.NotEqual(t, "mutated", got.Title)
	assert.False(t, domain.HasLabel(got.Labels, "mutated"))
}

func TestClear_DropsDataAndMeta(t *testing.T) {
	e := newEnv(t, widgetsData())
	prs := NewPullRequests(e.deps)
	_, err := prs.Fetch(context.Background(), widgets, false)
	require.NoError(t, err)

	prs.Clear(widgets)

	assert.Empty(t, prs.List(widgets))
	assert.Empty(t, prs.Groups(widgets))
	assert.True(t, prs.IsStale(widgets))
	assert.Equal(t, Meta{}, prs.Meta(widgets))
}

func TestClearAll_NotifiesEveryScope(t *testing.T) {
	data := widgetsData()
	gadgets := domain.RepoRef{Owner: "acme", Name: "gadgets"}
	data.Repositories = append(data.Repositories, domain.Repository{Ref: gadgets, DefaultBranch: "main"})
	e := newEnv(t, data)
	prs := NewPullRequests(e.deps)
	ctx := context.Background()
	_, err := prs.Fetch(ctx, widgets, false)
	require.NoError(t, err)
	_, err = prs.Fetch(ctx, gadgets, false)
	require.NoError(t, err)

	rec := newRecorder()
	prs.Subscribe(rec.observe)
	prs.ClearAll()

	assert.Equal(t, []Event{
		{Kind: KindPullRequests, Scope: domain.RepoScope(gadgets)},
		{Kind: KindPullRequests, Scope: domain.RepoScope(widgets)},
	}, rec.drain())
	assert.True(t, prs.IsStale(widgets))
	assert.True(t, prs.IsStale(gadgets))
}

func TestFetchResult_String(t *testing.T) {
	assert.Equal(t, "failed", FetchFailed.String())
	assert.Equal(t, "skipped", FetchSkipped.String())
	assert.Equal(t, "cache-hit", FetchCacheHit.String())
	assert.Equal(t, "fetched", FetchFetched.String())
}
