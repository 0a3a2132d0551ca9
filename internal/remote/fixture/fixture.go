// Package fixture implements remote.Gateway over an in-memory data set loaded
// from YAML. Mutations change the data set, so a later list call observes
// them. Faults can be injected per method and repository, and every call is
// counted.
package fixture

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/remote"
)

// Method names used for call counting and fault matching.
const (
	MethodListRepositories = "ListRepositories"
	MethodListPullRequests = "ListPullRequests"
	MethodGetPullRequest   = "GetPullRequest"
	MethodListIssues       = "ListIssues"
	MethodListBranches     = "ListBranches"
	MethodGetCheckStatus   = "GetCheckStatusForBranches"
	MethodCreateReview     = "CreateReview"
	MethodMergePullRequest = "MergePullRequest"
	MethodUpdateDraft      = "UpdatePullRequestDraft"
	MethodAddLabels        = "AddLabels"
	MethodRemoveLabels     = "RemoveLabels"
	MethodCloseIssues      = "CloseIssues"
	MethodReopenIssues     = "ReopenIssues"
)

// Data is the YAML document. Per-repository maps are keyed by "owner/name".
type Data struct {
	Login        string                          `yaml:"login"`
	Repositories []domain.Repository             `yaml:"repositories"`
	PullRequests map[string][]domain.PullRequest `yaml:"pull_requests"`
	Issues       map[string][]domain.Issue       `yaml:"issues"`
	Branches     map[string][]domain.Branch      `yaml:"branches"`
	Checks       map[string][]domain.CheckStatus `yaml:"checks"`
	Faults       []Fault                         `yaml:"faults"`
}

// Fault makes matching calls fail. An empty Repo matches every repository.
// Times limits how often the fault fires; 0 means always.
type Fault struct {
	Method  string `yaml:"method"`
	Repo    string `yaml:"repo,omitempty"`
	Status  int    `yaml:"status"`
	Message string `yaml:"message,omitempty"`
	Times   int    `yaml:"times,omitempty"`
}

// Hook runs at the start of every call, before faults are evaluated. Tests
// use it to block a call and observe in-flight state.
type Hook func(ctx context.Context, method string, repo domain.RepoRef)

// Gateway serves Data.
type Gateway struct {
	mu     sync.Mutex
	data   Data
	calls  map[string]int
	faults []*Fault
	hook   Hook
	now    func() time.Time
	seq    int
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock sets the clock used for timestamps written by mutations.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithHook installs a call hook.
func WithHook(h Hook) Option {
	return func(g *Gateway) { g.hook = h }
}

// New returns a gateway over data. The data is normalised and owned by the
// gateway afterwards.
func New(data Data, opts ...Option) *Gateway {
	g := &Gateway{data: data, calls: map[string]int{}, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	g.normalize()
	for i := range data.Faults {
		f := data.Faults[i]
		g.faults = append(g.faults, &f)
	}
	return g
}

// Load reads a fixture file. Unknown fields are rejected.
func Load(path string, opts ...Option) (*Gateway, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	data, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return New(data, opts...), nil
}

// Parse decodes a fixture document.
func Parse(raw []byte) (Data, error) {
	var data Data
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&data); err != nil {
		return Data{}, fmt.Errorf("failed to parse fixture YAML: %w", err)
	}
	return data, nil
}

// normalize fills the repository of every nested entity from its map key and
// derives the values a real forge would compute.
func (g *Gateway) normalize() {
	for i := range g.data.Repositories {
		g.data.Repositories[i].Normalize()
	}
	for key, prs := range g.data.PullRequests {
		ref, _ := domain.ParseRepoRef(key)
		for i := range prs {
			prs[i].Repo = ref
			prs[i].Normalize()
		}
	}
	for key, issues := range g.data.Issues {
		ref, _ := domain.ParseRepoRef(key)
		for i := range issues {
			issues[i].Repo = ref
			issues[i].Normalize()
		}
	}
	for key, branches := range g.data.Branches {
		ref, _ := domain.ParseRepoRef(key)
		for i := range branches {
			branches[i].Repo = ref
		}
	}
	for key, checks := range g.data.Checks {
		ref, _ := domain.ParseRepoRef(key)
		for i := range checks {
			checks[i].Repo = ref
			checks[i].Recompute()
		}
	}
}

// Fail adds a fault at runtime.
func (g *Gateway) Fail(f Fault) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.faults = append(g.faults, &f)
}

// ClearFaults removes every fault.
func (g *Gateway) ClearFaults() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.faults = nil
}

// Calls returns how often method was called.
func (g *Gateway) Calls(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[method]
}

// CallCounts returns a copy of the per-method call counters. Methods never
// called are absent.
func (g *Gateway) CallCounts() map[string]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int, len(g.calls))
	for m, n := range g.calls {
		out[m] = n
	}
	return out
}

// Login returns the fixture's signed-in user.
func (g *Gateway) Login() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.data.Login
}

// Credentials makes the fixture its own credential source: signed in as
// Login with a placeholder token whenever Login is set.
func (g *Gateway) Credentials(context.Context) (remote.Credentials, error) {
	login := g.Login()
	if login == "" {
		return remote.Credentials{}, nil
	}
	return remote.Credentials{Token: "fixture", Login: login}, nil
}

// enter counts the call, runs the hook outside the lock, then locks and
// evaluates faults. On success the caller holds g.mu and must unlock.
func (g *Gateway) enter(ctx context.Context, method string, repo domain.RepoRef) error {
	g.mu.Lock()
	g.calls[method]++
	hook := g.hook
	g.mu.Unlock()

	if hook != nil {
		hook(ctx, method, repo)
	}
	if err := ctx.Err(); err != nil {
		return &remote.Error{Method: method, Err: err}
	}

	g.mu.Lock()
	for _, f := range g.faults {
		if f.Method != method || (f.Repo != "" && f.Repo != repo.String()) {
			continue
		}
		if f.Times < 0 {
			continue
		}
		if f.Times > 0 {
			f.Times--
			if f.Times == 0 {
				f.Times = -1
			}
		}
		g.mu.Unlock()
		return &remote.Error{Method: method, Status: f.Status, Message: f.Message}
	}
	return nil
}

func (g *Gateway) ListRepositories(ctx context.Context) ([]domain.Repository, error) {
	if err := g.enter(ctx, MethodListRepositories, domain.RepoRef{}); err != nil {
		return nil, err
	}
	defer g.mu.Unlock()
	out := append([]domain.Repository{}, g.data.Repositories...)
	sort.Slice(out, func(i, j int) bool { return out[i].Ref.String() < out[j].Ref.String() })
	return out, nil
}

func (g *Gateway) ListPullRequests(ctx context.Context, repo domain.RepoRef, state remote.ListState) ([]domain.PullRequest, error) {
	if err := g.enter(ctx, MethodListPullRequests, repo); err != nil {
		return nil, err
	}
	defer g.mu.Unlock()
	if !g.hasRepo(repo) {
		return nil, notFound(MethodListPullRequests)
	}
	out := []domain.PullRequest{}
	for _, p := range g.data.PullRequests[repo.String()] {
		if state.Matches(p.State) {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (g *Gateway) GetPullRequest(ctx context.Context, repo domain.RepoRef, number int) (domain.PullRequest, error) {
	if err := g.enter(ctx, MethodGetPullRequest, repo); err != nil {
		return domain.PullRequest{}, err
	}
	defer g.mu.Unlock()
	p := g.pullRequest(repo, number)
	if p == nil {
		return domain.PullRequest{}, notFound(MethodGetPullRequest)
	}
	return p.Clone(), nil
}

func (g *Gateway) ListIssues(ctx context.Context, repo domain.RepoRef, state remote.ListState) ([]domain.Issue, error) {
	if err := g.enter(ctx, MethodListIssues, repo); err != nil {
		return nil, err
	}
	defer g.mu.Unlock()
	if !g.hasRepo(repo) {
		return nil, notFound(MethodListIssues)
	}
	out := []domain.Issue{}
	for _, i := range g.data.Issues[repo.String()] {
		if state.Matches(i.State) {
			out = append(out, i.Clone())
		}
	}
	return out, nil
}

func (g *Gateway) ListBranches(ctx context.Context, repo domain.RepoRef) ([]domain.Branch, error) {
	if err := g.enter(ctx, MethodListBranches, repo); err != nil {
		return nil, err
	}
	defer g.mu.Unlock()
	if !g.hasRepo(repo) {
		return nil, notFound(MethodListBranches)
	}
	out := append([]domain.Branch{}, g.data.Branches[repo.String()]...)
	for i := range out {
		out[i].Current = false
	}
	return out, nil
}

func (g *Gateway) GetCheckStatusForBranches(ctx context.Context, repo domain.RepoRef, branches []domain.BranchRef) (map[string]domain.CheckStatus, error) {
	if err := g.enter(ctx, MethodGetCheckStatus, repo); err != nil {
		return nil, err
	}
	defer g.mu.Unlock()
	out := make(map[string]domain.CheckStatus, len(branches))
	for _, b := range branches {
		cs := domain.NewCheckStatus(repo, b.Name, b.SHA, nil, g.now().UTC())
		for _, known := range g.data.Checks[repo.String()] {
			if known.Branch == b.Name {
				cs = known.Clone()
				if cs.SHA == "" {
					cs.SHA = b.SHA
				}
				break
			}
		}
		out[b.Name] = cs
	}
	return out, nil
}

func (g *Gateway) CreateReview(ctx context.Context, repo domain.RepoRef, number int, event remote.ReviewEvent, _ string) (domain.PullRequest, error) {
	if err := g.enter(ctx, MethodCreateReview, repo); err != nil {
		return domain.PullRequest{}, err
	}
	defer g.mu.Unlock()
	p := g.pullRequest(repo, number)
	if p == nil {
		return domain.PullRequest{}, notFound(MethodCreateReview)
	}
	if p.Author != "" && p.Author == g.data.Login {
		return domain.PullRequest{}, &remote.Error{Method: MethodCreateReview, Status: 422,
			Message: "Can not approve your own pull request"}
	}
	if p.State != domain.StateOpen {
		return domain.PullRequest{}, &remote.Error{Method: MethodCreateReview, Status: 422,
			Message: "Pull request is closed"}
	}
	login := g.data.Login
	p.ApprovedBy = domain.WithoutLogin(p.ApprovedBy, login)
	p.ChangesRequestedBy = domain.WithoutLogin(p.ChangesRequestedBy, login)
	switch event {
	case remote.ReviewApprove:
		p.ApprovedBy = append(p.ApprovedBy, login)
	case remote.ReviewRequestChanges:
		p.ChangesRequestedBy = append(p.ChangesRequestedBy, login)
	default:
		return domain.PullRequest{}, &remote.Error{Method: MethodCreateReview, Status: 422,
			Message: fmt.Sprintf("unknown review event %q", event)}
	}
	p.RequestedReviewers = domain.WithoutLogin(p.RequestedReviewers, login)
	p.UpdatedAt = g.now().UTC()
	p.Normalize()
	return p.Clone(), nil
}

func (g *Gateway) MergePullRequest(ctx context.Context, repo domain.RepoRef, number int, _ remote.MergeMethod) (domain.PullRequest, error) {
	if err := g.enter(ctx, MethodMergePullRequest, repo); err != nil {
		return domain.PullRequest{}, err
	}
	defer g.mu.Unlock()
	p := g.pullRequest(repo, number)
	if p == nil {
		return domain.PullRequest{}, notFound(MethodMergePullRequest)
	}
	if p.State != domain.StateOpen || p.Draft || p.Mergeable == domain.MergeableNo {
		return domain.PullRequest{}, &remote.Error{Method: MethodMergePullRequest, Status: 405,
			Message: "Pull Request is not mergeable"}
	}
	now := g.now().UTC()
	g.seq++
	p.Merged = true
	p.MergedAt = &now
	closed := now
	p.ClosedAt = &closed
	p.MergeCommitSHA = fmt.Sprintf("merge%04d", g.seq)
	p.UpdatedAt = now
	p.Normalize()
	return p.Clone(), nil
}

func (g *Gateway) UpdatePullRequestDraft(ctx context.Context, repo domain.RepoRef, number int, draft bool) (domain.PullRequest, error) {
	if err := g.enter(ctx, MethodUpdateDraft, repo); err != nil {
		return domain.PullRequest{}, err
	}
	defer g.mu.Unlock()
	p := g.pullRequest(repo, number)
	if p == nil {
		return domain.PullRequest{}, notFound(MethodUpdateDraft)
	}
	if p.State != domain.StateOpen {
		return domain.PullRequest{}, &remote.Error{Method: MethodUpdateDraft, Status: 422,
			Message: "Pull request is closed"}
	}
	p.Draft = draft
	p.UpdatedAt = g.now().UTC()
	return p.Clone(), nil
}

func (g *Gateway) AddLabels(ctx context.Context, repo domain.RepoRef, number int, labels []string) ([]domain.Label, error) {
	if err := g.enter(ctx, MethodAddLabels, repo); err != nil {
		return nil, err
	}
	defer g.mu.Unlock()
	target := g.labelsOf(repo, number)
	if target == nil {
		return nil, notFound(MethodAddLabels)
	}
	for _, l := range labels {
		if domain.LabelKey(l) == "" {
			return nil, &remote.Error{Method: MethodAddLabels, Status: 422, Message: "label name is empty"}
		}
	}
	*target = domain.WithLabels(*target, labels...)
	return domain.CloneLabels(*target), nil
}

func (g *Gateway) RemoveLabels(ctx context.Context, repo domain.RepoRef, number int, labels []string) ([]domain.Label, error) {
	if err := g.enter(ctx, MethodRemoveLabels, repo); err != nil {
		return nil, err
	}
	defer g.mu.Unlock()
	target := g.labelsOf(repo, number)
	if target == nil {
		return nil, notFound(MethodRemoveLabels)
	}
	for _, l := range labels {
		if !domain.HasLabel(*target, l) {
			return nil, &remote.Error{Method: MethodRemoveLabels, Status: 404, Message: "Label does not exist"}
		}
	}
	*target = domain.WithoutLabels(*target, labels...)
	return domain.CloneLabels(*target), nil
}

func (g *Gateway) CloseIssues(ctx context.Context, repo domain.RepoRef, numbers []int) ([]domain.Issue, error) {
	return g.setIssueState(ctx, MethodCloseIssues, repo, numbers, domain.StateClosed)
}

func (g *Gateway) ReopenIssues(ctx context.Context, repo domain.RepoRef, numbers []int) ([]domain.Issue, error) {
	return g.setIssueState(ctx, MethodReopenIssues, repo, numbers, domain.StateOpen)
}

func (g *Gateway) setIssueState(ctx context.Context, method string, repo domain.RepoRef, numbers []int, state domain.State) ([]domain.Issue, error) {
	if err := g.enter(ctx, method, repo); err != nil {
		return nil, err
	}
	defer g.mu.Unlock()

	targets := make([]*domain.Issue, 0, len(numbers))
	for _, n := range numbers {
		i := g.issue(repo, n)
		if i == nil {
			return nil, notFound(method)
		}
		targets = append(targets, i)
	}

	now := g.now().UTC()
	out := make([]domain.Issue, 0, len(targets))
	for _, i := range targets {
		i.State = state
		i.UpdatedAt = now
		if state == domain.StateClosed {
			closed := now
			i.ClosedAt = &closed
		} else {
			i.ClosedAt = nil
		}
		out = append(out, i.Clone())
	}
	return out, nil
}

func (g *Gateway) hasRepo(repo domain.RepoRef) bool {
	for _, r := range g.data.Repositories {
		if r.Ref == repo {
			return true
		}
	}
	return false
}

func (g *Gateway) pullRequest(repo domain.RepoRef, number int) *domain.PullRequest {
	prs := g.data.PullRequests[repo.String()]
	for i := range prs {
		if prs[i].Number == number {
			return &prs[i]
		}
	}
	return nil
}

func (g *Gateway) issue(repo domain.RepoRef, number int) *domain.Issue {
	issues := g.data.Issues[repo.String()]
	for i := range issues {
		if issues[i].Number == number {
			return &issues[i]
		}
	}
	return nil
}

// labelsOf finds the label set of a pull request or issue; they share a
// number space on the forge.
func (g *Gateway) labelsOf(repo domain.RepoRef, number int) *[]domain.Label {
	if p := g.pullRequest(repo, number); p != nil {
		return &p.Labels
	}
	if i := g.issue(repo, number); i != nil {
		return &i.Labels
	}
	return nil
}

func notFound(method string) error {
	return &remote.Error{Method: method, Status: 404, Message: "Not Found"}
}

var _ remote.Gateway = (*Gateway)(nil)
var _ remote.CredentialSource = (*Gateway)(nil)
