package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/forgecache/internal/app"
	"github.com/roach88/forgecache/internal/cache"
	"github.com/roach88/forgecache/internal/config"
	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/orchestrator"
	"github.com/roach88/forgecache/internal/remote"
	"github.com/roach88/forgecache/internal/remote/fixture"
	"github.com/roach88/forgecache/internal/testutil"
)

// Harness drives one scenario against a fully wired app: real caches, a
// real SQLite store and the fixture gateway, with a fake clock and
// sequential run ids so every run is reproducible.
type Harness struct {
	scenario *Scenario
	cfg      *config.Config
	clock    *testutil.FakeClock
	runIDs   *testutil.SequentialRunIDs
	remote   *fixture.Gateway
	logger   *slog.Logger
	app      *app.App

	mu     sync.Mutex
	events map[cache.Kind]int
	unsubs []func()
}

// Option configures Run.
type Option func(*runOptions)

type runOptions struct {
	dir    string
	logger *slog.Logger
}

// WithDatabaseDir keeps the database in dir instead of a temporary
// directory removed after the run.
func WithDatabaseDir(dir string) Option {
	return func(o *runOptions) { o.dir = dir }
}

// WithLogger routes the app's logs to l. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *runOptions) { o.logger = l }
}

// Run executes a scenario and returns the result. An error means the
// scenario could not be run at all; failed expectations and assertions are
// reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := runOptions{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dir == "" {
		dir, err := os.MkdirTemp("", "forgecache-harness-*")
		if err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		defer os.RemoveAll(dir)
		o.dir = dir
	}

	// The gateway owns and mutates its data, so it gets a private copy.
	raw, err := yaml.Marshal(scenario.Remote)
	if err != nil {
		return nil, fmt.Errorf("failed to copy remote data: %w", err)
	}
	data, err := fixture.Parse(raw)
	if err != nil {
		return nil, err
	}

	clock := testutil.NewFakeClock(scenario.Start)
	h := &Harness{
		scenario: scenario,
		cfg:      harnessConfig(scenario, filepath.Join(o.dir, "forgecache.db")),
		clock:    clock,
		runIDs:   testutil.NewSequentialRunIDs(),
		remote:   fixture.New(data, fixture.WithClock(clock.Now)),
		logger:   o.logger,
		events:   map[cache.Kind]int{},
	}

	if err := h.open(ctx); err != nil {
		return nil, fmt.Errorf("failed to start app: %w", err)
	}
	defer func() { _ = h.close(context.Background()) }()

	result := NewResult()
	for i, step := range scenario.Steps {
		rec, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d] (%s): %w", i, step.Do, err)
		}
		checkExpect(result, i, step, rec)
		result.AddStep(rec)
	}

	if err := h.app.Persister.Flush(ctx); err != nil {
		return nil, fmt.Errorf("failed to flush persister: %w", err)
	}
	result.Calls = h.remote.CallCounts()
	result.State = h.renderState()

	actx := &AssertionContext{Ctx: ctx, App: h.app, Remote: h.remote}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// harnessConfig is the default configuration with the database at path. The
// status hold is long so a run never races the idle timer.
func harnessConfig(s *Scenario, path string) *config.Config {
	source := s.Source
	if source == "" {
		source = s.Name
	}
	return &config.Config{
		Database: config.Database{Path: path},
		Remote:   config.Remote{Kind: config.RemoteFixture, Fixture: source, Timeout: 30 * time.Second},
		Auth:     config.Auth{TokenEnv: "FORGECACHE_HARNESS_TOKEN"},
		Cache: config.Cache{
			RepositoryTTL:  cache.DefaultRepositoryTTL,
			PullRequestTTL: cache.DefaultPullRequestTTL,
			IssueTTL:       cache.DefaultIssueTTL,
			BranchTTL:      cache.DefaultBranchTTL,
			CheckTTL:       cache.DefaultCheckTTL,
		},
		PullRequests: config.PullRequests{State: remote.ListOpen},
		Refresh:      config.Refresh{CheckInterval: cache.DefaultCheckInterval},
		Sync:         config.Sync{AutoSyncAfter: orchestrator.DefaultAutoSyncAfter, StatusHold: time.Hour},
	}
}

// open builds the app and subscribes to every cache.
func (h *Harness) open(ctx context.Context) error {
	a, err := app.New(ctx, h.cfg,
		app.WithRemote(h.remote),
		app.WithClock(h.clock.Now),
		app.WithRunIDGenerator(h.runIDs),
		app.WithLogger(h.logger),
	)
	if err != nil {
		return err
	}
	h.app = a

	count := func(ev cache.Event) {
		h.mu.Lock()
		h.events[ev.Kind]++
		h.mu.Unlock()
	}
	h.unsubs = []func(){
		a.Repositories.Subscribe(count),
		a.PullRequests.Subscribe(count),
		a.Issues.Subscribe(count),
		a.Branches.Subscribe(count),
		a.Checks.Subscribe(count),
	}
	return nil
}

func (h *Harness) close(ctx context.Context) error {
	if h.app == nil {
		return nil
	}
	for _, unsub := range h.unsubs {
		unsub()
	}
	h.unsubs = nil
	err := h.app.Close(ctx)
	h.app = nil
	return err
}

// execute runs one step and collects the events it caused.
func (h *Harness) execute(ctx context.Context, step Step) (StepRecord, error) {
	h.mu.Lock()
	h.events = map[cache.Kind]int{}
	h.mu.Unlock()

	rec, err := h.dispatch(ctx, step)
	if err != nil {
		return StepRecord{}, err
	}

	h.mu.Lock()
	rec.Events = h.events
	h.events = map[cache.Kind]int{}
	h.mu.Unlock()
	return rec, nil
}

func (h *Harness) dispatch(ctx context.Context, step Step) (StepRecord, error) {
	a := h.app
	repo, _ := domain.ParseRepoRef(step.Repo)
	target := fmt.Sprintf("%s %s#%d", step.Do, repo, step.Number)

	switch step.Do {
	case DoSync:
		return syncRecord(a.Orchestrator.Run(ctx)), nil

	case DoFetch:
		return h.fetch(ctx, cache.Kind(step.Kind), repo, step.Force), nil

	case DoApprove:
		_, err := a.PullRequests.Approve(ctx, repo, step.Number)
		return mutationRecord(target, err), nil

	case DoRequestChanges:
		_, err := a.PullRequests.RequestChanges(ctx, repo, step.Number, step.Body)
		return mutationRecord(target, err), nil

	case DoMerge:
		method := remote.MergeMethod(step.Method)
		if method == "" {
			method = remote.MergeCommit
		}
		_, err := a.PullRequests.Merge(ctx, repo, step.Number, method)
		return mutationRecord(target, err), nil

	case DoToggleDraft:
		_, err := a.PullRequests.ToggleDraft(ctx, repo, step.Number)
		return mutationRecord(target, err), nil

	case DoAddLabels, DoRemoveLabels:
		add := step.Do == DoAddLabels
		var err error
		switch {
		case step.Kind == string(cache.KindIssues) && add:
			_, err = a.Issues.AddLabels(ctx, repo, step.Number, step.Labels...)
		case step.Kind == string(cache.KindIssues):
			_, err = a.Issues.RemoveLabels(ctx, repo, step.Number, step.Labels...)
		case add:
			_, err = a.PullRequests.AddLabels(ctx, repo, step.Number, step.Labels...)
		default:
			_, err = a.PullRequests.RemoveLabels(ctx, repo, step.Number, step.Labels...)
		}
		return mutationRecord(target, err), nil

	case DoCloseIssues, DoReopenIssues:
		numbers := make([]string, len(step.Numbers))
		for i, n := range step.Numbers {
			numbers[i] = strconv.Itoa(n)
		}
		target = fmt.Sprintf("%s %s#%s", step.Do, repo, strings.Join(numbers, ","))
		var err error
		if step.Do == DoCloseIssues {
			_, err = a.Issues.Close(ctx, repo, step.Numbers...)
		} else {
			_, err = a.Issues.Reopen(ctx, repo, step.Numbers...)
		}
		return mutationRecord(target, err), nil

	case DoFail:
		f := *step.Fault
		h.remote.Fail(f)
		line := "fail " + f.Method
		if f.Repo != "" {
			line += " " + f.Repo
		}
		line += fmt.Sprintf(" status=%d", f.Status)
		if f.Times > 0 {
			line += fmt.Sprintf(" times=%d", f.Times)
		}
		return StepRecord{Line: line, Outcome: "ok"}, nil

	case DoAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil {
			return StepRecord{}, err
		}
		h.clock.Advance(d)
		return StepRecord{Line: "advance " + d.String(), Outcome: "ok"}, nil

	case DoRestart:
		if err := h.close(ctx); err != nil {
			return StepRecord{}, fmt.Errorf("close: %w", err)
		}
		if err := h.open(ctx); err != nil {
			return StepRecord{}, fmt.Errorf("reopen: %w", err)
		}
		if err := h.app.Hydrate(ctx); err != nil {
			return StepRecord{Line: fmt.Sprintf("restart: error %q", err.Error()), Outcome: "error", Message: err.Error()}, nil
		}
		return StepRecord{Line: "restart", Outcome: "ok"}, nil
	}
	return StepRecord{}, fmt.Errorf("unknown step %q", step.Do)
}

func (h *Harness) fetch(ctx context.Context, kind cache.Kind, repo domain.RepoRef, force bool) StepRecord {
	a := h.app
	var (
		res cache.FetchResult
		err error
	)
	switch kind {
	case cache.KindRepositories:
		res, err = a.Repositories.Fetch(ctx, force)
	case cache.KindPullRequests:
		res, err = a.PullRequests.Fetch(ctx, repo, force)
	case cache.KindIssues:
		res, err = a.Issues.Fetch(ctx, repo, force)
	case cache.KindBranches:
		res, err = a.Branches.Fetch(ctx, repo, force)
	case cache.KindChecks:
		res, err = a.Checks.Fetch(ctx, repo, a.Branches.Known(repo), force)
	}

	line := "fetch " + string(kind)
	if kind != cache.KindRepositories {
		line += " " + repo.String()
	}
	line += ": " + res.String()
	if err != nil {
		line += " " + describeError(err)
	}
	return StepRecord{Line: line, Outcome: res.String()}
}

func syncRecord(st orchestrator.Status) StepRecord {
	line := fmt.Sprintf("sync %s: %s %q", st.RunID, st.State, st.Message)
	if len(st.Errors) > 0 {
		failed := make([]string, len(st.Errors))
		for i, e := range st.Errors {
			name := e.Repo.String()
			if e.Repo.IsZero() {
				name = string(cache.KindRepositories)
			}
			failed[i] = name + " " + describeError(e.Err)
		}
		line += " failed=[" + strings.Join(failed, ", ") + "]"
	}
	return StepRecord{Line: line, Outcome: string(st.State), Message: st.Message}
}

// mutationRecord classifies a mutation's error: a rolled-back mutation is
// rejected, anything else (not cached, not signed in) is an error.
func mutationRecord(target string, err error) StepRecord {
	var me *cache.MutationError
	switch {
	case err == nil:
		return StepRecord{Line: target + ": ok", Outcome: "ok"}
	case errors.As(err, &me):
		return StepRecord{Line: fmt.Sprintf("%s: rejected %q", target, me.Message), Outcome: "rejected", Message: me.Message}
	default:
		return StepRecord{Line: fmt.Sprintf("%s: error %q", target, err.Error()), Outcome: "error", Message: err.Error()}
	}
}

// describeError prefers the HTTP status, which is stable across wording
// changes.
func describeError(err error) string {
	if status := remote.StatusOf(err); status != 0 {
		return fmt.Sprintf("status=%d", status)
	}
	return fmt.Sprintf("error=%q", err.Error())
}

var failedOutcomes = map[string]bool{
	cache.FetchFailed.String():                true,
	"rejected":                                true,
	"error":                                   true,
	string(orchestrator.StatePartialFailure): true,
}

func checkExpect(result *Result, index int, step Step, rec StepRecord) {
	prefix := fmt.Sprintf("steps[%d] (%s)", index, step.Do)
	if step.Expect == nil {
		if failedOutcomes[rec.Outcome] {
			result.AddError(fmt.Sprintf("%s: unexpected %s: %s", prefix, rec.Outcome, rec.Line))
		}
		return
	}
	if rec.Outcome != step.Expect.Outcome {
		result.AddError(fmt.Sprintf("%s: expected outcome %q, got %q (%s)", prefix, step.Expect.Outcome, rec.Outcome, rec.Line))
	}
	if step.Expect.Message != "" && rec.Message != step.Expect.Message {
		result.AddError(fmt.Sprintf("%s: expected message %q, got %q", prefix, step.Expect.Message, rec.Message))
	}
}

// repos lists every repository the scenario mentions plus any the cache
// holds, ordered by name.
func (h *Harness) repos() []domain.RepoRef {
	seen := map[string]domain.RepoRef{}
	add := func(s string) {
		if ref, err := domain.ParseRepoRef(s); err == nil {
			seen[ref.String()] = ref
		}
	}
	for _, r := range h.scenario.Remote.Repositories {
		add(r.Ref.String())
	}
	for k := range h.scenario.Remote.PullRequests {
		add(k)
	}
	for k := range h.scenario.Remote.Issues {
		add(k)
	}
	for k := range h.scenario.Remote.Branches {
		add(k)
	}
	for k := range h.scenario.Remote.Checks {
		add(k)
	}
	for _, r := range h.app.Repositories.List() {
		add(r.Ref.String())
	}

	out := make([]domain.RepoRef, 0, len(seen))
	for _, r := range seen {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// renderState describes the final cache contents: the repository list, then
// per repository every non-empty or fetched scope.
func (h *Harness) renderState() []string {
	a := h.app
	var lines []string

	if meta := a.Repositories.Meta(); len(a.Repositories.List()) > 0 || meta.Fetched() || meta.Err != nil {
		line := fmt.Sprintf("repositories (%s):", metaLabel(meta, a.Repositories.IsStale()))
		for _, r := range a.Repositories.List() {
			line += " " + r.Ref.String()
		}
		lines = append(lines, line)
	}

	for _, repo := range h.repos() {
		var prs, issues, branches, checks []string
		for _, p := range a.PullRequests.List(repo) {
			prs = append(prs, pullRequestLine(p))
		}
		for _, i := range a.Issues.List(repo) {
			issues = append(issues, fmt.Sprintf("#%d %s labels=[%s] %q", i.Number, i.State, labelNames(i.Labels), i.Title))
		}
		for _, b := range a.Branches.List(repo) {
			line := fmt.Sprintf("%s sha=%s", b.Name, b.Commit.SHA)
			if b.Current {
				line += " current"
			}
			branches = append(branches, line)
		}
		for _, c := range a.Checks.List(repo) {
			checks = append(checks, fmt.Sprintf("%s %s runs=%d", c.Branch, c.OverallStatus, len(c.CheckRuns)))
		}

		lines = appendScope(lines, cache.KindPullRequests, repo, a.PullRequests.Meta(repo), a.PullRequests.IsStale(repo), prs)
		lines = appendScope(lines, cache.KindIssues, repo, a.Issues.Meta(repo), a.Issues.IsStale(repo), issues)
		lines = appendScope(lines, cache.KindBranches, repo, a.Branches.Meta(repo), a.Branches.IsStale(repo), branches)
		lines = appendScope(lines, cache.KindChecks, repo, a.Checks.Meta(repo), a.Checks.IsStale(repo), checks)
	}
	return lines
}

func appendScope(lines []string, kind cache.Kind, repo domain.RepoRef, meta cache.Meta, stale bool, items []string) []string {
	if len(items) == 0 && !meta.Fetched() && meta.Err == nil {
		return lines
	}
	lines = append(lines, fmt.Sprintf("%s %s (%s):", kind, repo, metaLabel(meta, stale)))
	for _, item := range items {
		lines = append(lines, "  "+item)
	}
	return lines
}

func metaLabel(m cache.Meta, stale bool) string {
	switch {
	case m.Err != nil:
		if status := remote.StatusOf(m.Err); status != 0 {
			return fmt.Sprintf("error status=%d", status)
		}
		return "error"
	case !m.Fetched():
		return "never fetched"
	case stale:
		return "stale"
	default:
		return "fresh"
	}
}

func pullRequestLine(p domain.PullRequest) string {
	state := string(p.State)
	if p.Merged {
		state += " merged"
	}
	if p.Draft {
		state += " draft"
	}
	return fmt.Sprintf("#%d %s review=%s labels=[%s] %q", p.Number, state, p.ReviewStatus, labelNames(p.Labels), p.Title)
}

func labelNames(labels []domain.Label) string {
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}
	return strings.Join(names, ",")
}
