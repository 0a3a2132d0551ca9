package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/remote/fixture"
)

func TestRepositories_FetchAndDefaultBranch(t *testing.T) {
	e := newEnv(t, widgetsData())
	repos := NewRepositories(e.deps)

	res, err := repos.Fetch(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, FetchFetched, res)

	list := repos.List()
	require.Len(t, list, 1)
	assert.Equal(t, widgets, list[0].Ref)
	assert.Equal(t, "main", repos.DefaultBranch(widgets))
	assert.Equal(t, "", repos.DefaultBranch(domain.RepoRef{Owner: "acme", Name: "nope"}))
	assert.False(t, repos.IsStale())
}

func TestRepositories_DuplicateIsMalformed(t *testing.T) {
	data := widgetsData()
	data.Repositories = append(data.Repositories, data.Repositories[0])
	e := newEnv(t, data)
	repos := NewRepositories(e.deps)

	_, err := repos.Fetch(context.Background(), false)

	assert.True(t, IsMalformedResponse(err))
	assert.Empty(t, repos.List())
}

func TestBranches_FetchMarksDefaultCurrent(t *testing.T) {
	e := newEnv(t, widgetsData())
	ctx := context.Background()
	repos := NewRepositories(e.deps)
	_, err := repos.Fetch(ctx, false)
	require.NoError(t, err)
	branches := NewBranches(e.deps, repos)

	_, err = branches.Fetch(ctx, widgets, false)
	require.NoError(t, err)

	list := branches.List(widgets)
	require.Len(t, list, 2)
	assert.Equal(t, "main", list[0].Name)
	assert.True(t, list[0].Current)
	assert.False(t, list[1].Current)
	assert.Equal(t, []domain.BranchRef{
		{Name: "main", SHA: "bbb"},
		{Name: "feat/sprockets", SHA: "aaa"},
	}, branches.Known(widgets))
}

func TestBranches_WithoutDefaultsNothingIsCurrent(t *testing.T) {
	e := newEnv(t, widgetsData())
	branches := NewBranches(e.deps, nil)

	_, err := branches.Fetch(context.Background(), widgets, false)
	require.NoError(t, err)

	list := branches.List(widgets)
	require.Len(t, list, 2)
	assert.Equal(t, "feat/sprockets", list[0].Name)
	for _, br := range list {
		assert.False(t, br.Current)
	}
}

func TestBranches_UpdateKeepsOneCurrent(t *testing.T) {
	e := newEnv(t, widgetsData())
	repos := NewRepositories(e.deps)
	_, err := repos.Fetch(context.Background(), false)
	require.NoError(t, err)
	branches := NewBranches(e.deps, repos)

	branches.Update(domain.Branch{Repo: widgets, Name: "topic", Current: true})
	branches.Update(domain.Branch{Repo: widgets, Name: "main"})

	topic, _ := branches.Get(widgets, "topic")
	mainBranch, _ := branches.Get(widgets, "main")
	assert.False(t, topic.Current)
	assert.True(t, mainBranch.Current)
}

func TestBranches_DefaultChangeMovesCurrent(t *testing.T) {
	e := newEnv(t, widgetsData())
	ctx := context.Background()
	repos := NewRepositories(e.deps)
	_, err := repos.Fetch(ctx, false)
	require.NoError(t, err)
	branches := NewBranches(e.deps, repos)
	_, err = branches.Fetch(ctx, widgets, false)
	require.NoError(t, err)

	repos.Update(domain.Repository{Ref: widgets, DefaultBranch: "feat/sprockets"})
	feat, ok := branches.Get(widgets, "feat/sprockets")
	require.True(t, ok)
	branches.Update(feat)

	var current []string
	for _, br := range branches.List(widgets) {
		if br.Current {
			current = append(current, br.Name)
		}
	}
	assert.Equal(t, []string{"feat/sprockets"}, current)
}

func TestBranches_HydrateMarksCurrent(t *testing.T) {
	e := newEnv(t, widgetsData())
	st := openStore(t)
	deps := e.deps
	deps.Store = st
	ctx := context.Background()
	repos := NewRepositories(deps)
	_, err := repos.Fetch(ctx, false)
	require.NoError(t, err)

	require.NoError(t, st.Execute(ctx,
		"INSERT INTO branches (repo_id, name, is_default) VALUES (?, ?, 1), (?, ?, 1)",
		"acme/widgets", "main", "acme/widgets", "stale-default",
	).Err)

	branches := NewBranches(deps, repos)
	require.NoError(t, branches.Hydrate(ctx, widgets))

	list := branches.List(widgets)
	require.Len(t, list, 2)
	assert.Equal(t, "main", list[0].Name)
	assert.True(t, list[0].Current)
	assert.False(t, list[1].Current)
}

func TestChecks_FetchSummarizesPerBranch(t *testing.T) {
	e := newEnv(t, widgetsData())
	checks := NewChecks(e.deps)

	_, err := checks.Fetch(context.Background(), widgets, []domain.BranchRef{
		{Name: "main", SHA: "bbb"},
		{Name: "feat/sprockets", SHA: "aaa"},
	}, false)
	require.NoError(t, err)

	mainStatus, ok := checks.Get(widgets, "main")
	require.True(t, ok)
	assert.Equal(t, domain.OverallSuccess, mainStatus.OverallStatus)
	assert.Equal(t, domain.CheckSummary{Total: 1, Success: 1}, mainStatus.Summary)

	feat, ok := checks.Get(widgets, "feat/sprockets")
	require.True(t, ok)
	assert.Equal(t, domain.OverallNoChecks, feat.OverallStatus)
	assert.Equal(t, "aaa", feat.SHA)
	assert.Equal(t, []domain.BranchRef{
		{Name: "feat/sprockets", SHA: "aaa"},
		{Name: "main", SHA: "bbb"},
	}, checks.Known(widgets))
}

func TestChecks_FetchMergesBranches(t *testing.T) {
	e := newEnv(t, widgetsData())
	checks := NewChecks(e.deps)
	ctx := context.Background()

	_, err := checks.Fetch(ctx, widgets, []domain.BranchRef{{Name: "main", SHA: "bbb"}}, false)
	require.NoError(t, err)
	_, err = checks.Fetch(ctx, widgets, []domain.BranchRef{{Name: "feat/sprockets", SHA: "aaa"}}, true)
	require.NoError(t, err)

	assert.Len(t, checks.List(widgets), 2)
}

func TestChecks_NoBranchesMakesNoCall(t *testing.T) {
	e := newEnv(t, widgetsData())
	checks := NewChecks(e.deps)

	res, err := checks.Fetch(context.Background(), widgets, nil, false)

	require.NoError(t, err)
	assert.Equal(t, FetchFetched, res)
	assert.Equal(t, 0, e.remote.Calls(fixture.MethodGetCheckStatus))
	assert.Empty(t, checks.List(widgets))
}

func TestChecks_UpdateRecomputes(t *testing.T) {
	e := newEnv(t, widgetsData())
	checks := NewChecks(e.deps)

	checks.Update(domain.CheckStatus{
		Repo:   widgets,
		Branch: "main",
		CheckRuns: []domain.CheckRun{
			{Name: "build", Status: domain.CheckCompleted, Conclusion: domain.ConclusionFailure},
			{Name: "lint", Status: domain.CheckInProgress},
		},
		OverallStatus: domain.OverallSuccess,
	})

	cs, ok := checks.Get(widgets, "main")
	require.True(t, ok)
	assert.Equal(t, domain.OverallFailure, cs.OverallStatus)
	assert.Equal(t, domain.CheckSummary{Total: 2, Failure: 1, Pending: 1}, cs.Summary)
}
