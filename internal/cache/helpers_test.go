package cache

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/mapper"
	"github.com/roach88/forgecache/internal/remote/fixture"
	"github.com/roach88/forgecache/internal/testutil"
)

var widgets = domain.RepoRef{Owner: "acme", Name: "widgets"}

// widgetsData is the shared fixture: one repository with three open pull
// requests, two open issues, two branches and a green main.
func widgetsData() fixture.Data {
	return fixture.Data{
		Login: "alice",
		Repositories: []domain.Repository{
			{Ref: widgets, DefaultBranch: "main", Visibility: domain.VisibilityPrivate},
		},
		PullRequests: map[string][]domain.PullRequest{
			"acme/widgets": {
				{
					Number: 1,
					Title:  "feat: sprockets",
					State:  domain.StateOpen,
					Author: "bob",
					Head:   domain.GitRef{Ref: "feat/sprockets", SHA: "aaa"},
					Labels: []domain.Label{{Name: "enhancement", Color: "a2eeef"}},
				},
				{
					Number:             2,
					Title:              "fix(api): timeouts",
					State:              domain.StateOpen,
					Author:             "carol",
					Head:               domain.GitRef{Ref: "fix/timeouts", SHA: "ccc"},
					RequestedReviewers: []string{"alice"},
				},
				{
					Number: 3,
					Title:  "Bump deps",
					State:  domain.StateOpen,
					Author: "alice",
					Head:   domain.GitRef{Ref: "claude/bump-deps", SHA: "ddd"},
				},
			},
		},
		Issues: map[string][]domain.Issue{
			"acme/widgets": {
				{Number: 10, Title: "Broken widget", State: domain.StateOpen, Author: "carol"},
				{Number: 11, Title: "Slow sprockets", State: domain.StateOpen, Author: "bob"},
			},
		},
		Branches: map[string][]domain.Branch{
			"acme/widgets": {
				{Name: "main", Commit: domain.Commit{SHA: "bbb"}, Protected: true},
				{Name: "feat/sprockets", Commit: domain.Commit{SHA: "aaa"}, Ahead: 2},
			},
		},
		Checks: map[string][]domain.CheckStatus{
			"acme/widgets": {
				{Branch: "main", SHA: "bbb", CheckRuns: []domain.CheckRun{
					{ID: 1, Name: "build", Status: domain.CheckCompleted, Conclusion: domain.ConclusionSuccess},
				}},
			},
		},
	}
}

// env bundles a fixture remote with a fake clock.
type env struct {
	clock  *testutil.FakeClock
	remote *fixture.Gateway
	deps   Deps
}

func newEnv(t *testing.T, data fixture.Data, opts ...fixture.Option) *env {
	t.Helper()
	clock := testutil.NewFakeClock(time.Time{})
	opts = append([]fixture.Option{fixture.WithClock(clock.Now)}, opts...)
	gw := fixture.New(data, opts...)
	logger := slog.New(slog.DiscardHandler)
	return &env{
		clock:  clock,
		remote: gw,
		deps: Deps{
			Remote:      gw,
			Credentials: gw,
			Mapper:      mapper.MustNew(mapper.WithClock(clock.Now), mapper.WithLogger(logger)),
			Now:         clock.Now,
			Logger:      logger,
		},
	}
}

// gate blocks one remote method until released so tests can observe the
// in-flight state.
type gate struct {
	method  string
	entered chan struct{}
	release chan struct{}
}

func newGate(method string) *gate {
	return &gate{method: method, entered: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *gate) hook() fixture.Hook {
	return func(ctx context.Context, method string, _ domain.RepoRef) {
		if method != g.method {
			return
		}
		g.entered <- struct{}{}
		select {
		case <-g.release:
		case <-ctx.Done():
		}
	}
}

func (g *gate) open() { close(g.release) }

// recorder collects observer events.
type recorder struct {
	events chan Event
}

func newRecorder() *recorder { return &recorder{events: make(chan Event, 64)} }

func (r *recorder) observe(ev Event) { r.events <- ev }

func (r *recorder) drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-r.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

type fetchOutcome struct {
	res FetchResult
	err error
}
