// Package ghcli implements remote.Gateway by running the gh CLI. REST calls
// go through "gh api", which handles authentication, hosts and pagination;
// draft toggling uses "gh pr ready" because REST has no endpoint for it.
package ghcli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/remote"
)

// DefaultTimeout bounds every gh invocation.
const DefaultTimeout = 30 * time.Second

// Gateway talks to the forge through gh.
type Gateway struct {
	run           Runner
	timeout       time.Duration
	branchDetails bool
	now           func() time.Time
	logger        *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithRunner replaces the subprocess runner.
func WithRunner(r Runner) Option {
	return func(g *Gateway) { g.run = r }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithBranchDetails controls whether ListBranches fetches the head commit
// and ahead/behind counts of every branch (two extra calls per branch).
func WithBranchDetails(on bool) Option {
	return func(g *Gateway) { g.branchDetails = on }
}

// WithClock sets the clock stamped on check statuses.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// New returns a gateway using the gh binary on PATH unless overridden.
func New(opts ...Option) *Gateway {
	g := &Gateway{
		run:           ExecRunner{},
		timeout:       DefaultTimeout,
		branchDetails: true,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Gateway) exec(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	start := time.Now()
	out, err := g.run.Run(ctx, args...)
	g.logger.Debug("gh", "args", strings.Join(args, " "), "duration", time.Since(start), "error", err)
	return out, err
}

// get decodes a single JSON document.
func (g *Gateway) get(ctx context.Context, out any, args ...string) error {
	body, err := g.exec(ctx, append([]string{"api"}, args...)...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &remote.Error{Method: method(append([]string{"api"}, args...)), Message: "malformed response", Err: err}
	}
	return nil
}

// pages fetches a paginated list. gh --paginate concatenates one JSON
// document per page.
func pages[T any](ctx context.Context, g *Gateway, path string) ([]T, error) {
	args := []string{"api", "--paginate", path}
	body, err := g.exec(ctx, args...)
	if err != nil {
		return nil, err
	}
	out := []T{}
	dec := json.NewDecoder(bytes.NewReader(body))
	for {
		var page []T
		if err := dec.Decode(&page); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, &remote.Error{Method: method(args), Message: "malformed response", Err: err}
		}
		out = append(out, page...)
	}
}

func repoPath(repo domain.RepoRef, parts ...string) string {
	p := "repos/" + url.PathEscape(repo.Owner) + "/" + url.PathEscape(repo.Name)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (g *Gateway) ListRepositories(ctx context.Context) ([]domain.Repository, error) {
	repos, err := pages[ghRepo](ctx, g, "user/repos?per_page=100&sort=updated")
	if err != nil {
		return nil, err
	}
	out := make([]domain.Repository, 0, len(repos))
	for _, r := range repos {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (g *Gateway) ListPullRequests(ctx context.Context, repo domain.RepoRef, state remote.ListState) ([]domain.PullRequest, error) {
	pulls, err := pages[ghPull](ctx, g, repoPath(repo, "pulls?per_page=100&state="+string(state)))
	if err != nil {
		return nil, err
	}
	out := make([]domain.PullRequest, 0, len(pulls))
	for _, p := range pulls {
		reviews, err := pages[ghReview](ctx, g, repoPath(repo, "pulls", strconv.Itoa(p.Number), "reviews?per_page=100"))
		if err != nil {
			return nil, err
		}
		out = append(out, p.toDomain(repo, reviews))
	}
	return out, nil
}

func (g *Gateway) GetPullRequest(ctx context.Context, repo domain.RepoRef, number int) (domain.PullRequest, error) {
	var p ghPull
	if err := g.get(ctx, &p, repoPath(repo, "pulls", strconv.Itoa(number))); err != nil {
		return domain.PullRequest{}, err
	}
	reviews, err := pages[ghReview](ctx, g, repoPath(repo, "pulls", strconv.Itoa(number), "reviews?per_page=100"))
	if err != nil {
		return domain.PullRequest{}, err
	}
	return p.toDomain(repo, reviews), nil
}

func (g *Gateway) ListIssues(ctx context.Context, repo domain.RepoRef, state remote.ListState) ([]domain.Issue, error) {
	issues, err := pages[ghIssue](ctx, g, repoPath(repo, "issues?per_page=100&state="+string(state)))
	if err != nil {
		return nil, err
	}
	out := make([]domain.Issue, 0, len(issues))
	for _, i := range issues {
		// The issues endpoint also lists pull requests.
		if len(i.PullRequest) > 0 && string(i.PullRequest) != "null" {
			continue
		}
		out = append(out, i.toDomain(repo))
	}
	return out, nil
}

func (g *Gateway) ListBranches(ctx context.Context, repo domain.RepoRef) ([]domain.Branch, error) {
	branches, err := pages[ghBranch](ctx, g, repoPath(repo, "branches?per_page=100"))
	if err != nil {
		return nil, err
	}
	var defaultBranch string
	if g.branchDetails {
		var r ghRepo
		if err := g.get(ctx, &r, repoPath(repo)); err != nil {
			return nil, err
		}
		defaultBranch = r.DefaultBranch
	}

	out := make([]domain.Branch, 0, len(branches))
	for _, b := range branches {
		br := domain.Branch{
			Repo:      repo,
			Name:      b.Name,
			Commit:    domain.Commit{SHA: b.Commit.SHA},
			Protected: b.Protected,
		}
		if g.branchDetails {
			if err := g.branchDetail(ctx, repo, defaultBranch, &br); err != nil {
				return nil, err
			}
		}
		out = append(out, br)
	}
	return out, nil
}

func (g *Gateway) branchDetail(ctx context.Context, repo domain.RepoRef, defaultBranch string, b *domain.Branch) error {
	var c ghCommit
	if err := g.get(ctx, &c, repoPath(repo, "commits", url.PathEscape(b.Commit.SHA))); err != nil {
		return err
	}
	b.Commit.Author = c.Commit.Author.Name
	if c.Author != nil && c.Author.Login != "" {
		b.Commit.Author = c.Author.Login
	}
	b.Commit.AuthorEmail = c.Commit.Author.Email
	b.Commit.Message = c.Commit.Message
	b.Commit.Date = c.Commit.Author.Date

	if defaultBranch == "" || b.Name == defaultBranch {
		return nil
	}
	var cmp ghCompare
	basehead := url.PathEscape(defaultBranch) + "..." + url.PathEscape(b.Name)
	if err := g.get(ctx, &cmp, repoPath(repo, "compare", basehead)); err != nil {
		// Unrelated histories make compare fail; counts stay zero.
		if remote.IsNotFound(err) || remote.StatusOf(err) == 422 {
			return nil
		}
		return err
	}
	b.Ahead, b.Behind = cmp.AheadBy, cmp.BehindBy
	return nil
}

func (g *Gateway) GetCheckStatusForBranches(ctx context.Context, repo domain.RepoRef, branches []domain.BranchRef) (map[string]domain.CheckStatus, error) {
	out := make(map[string]domain.CheckStatus, len(branches))
	for _, b := range branches {
		ref := b.SHA
		if ref == "" {
			ref = b.Name
		}
		body, err := g.exec(ctx, "api", "--paginate", repoPath(repo, "commits", url.PathEscape(ref), "check-runs?per_page=100"))
		if err != nil {
			return nil, err
		}
		var merged ghCheckRuns
		dec := json.NewDecoder(bytes.NewReader(body))
		for {
			var page ghCheckRuns
			if err := dec.Decode(&page); err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return nil, &remote.Error{Method: "api check-runs", Message: "malformed response", Err: err}
			}
			merged.TotalCount = page.TotalCount
			merged.CheckRuns = append(merged.CheckRuns, page.CheckRuns...)
		}
		out[b.Name] = merged.toDomain(repo, b.Name, b.SHA, g.now().UTC())
	}
	return out, nil
}

func (g *Gateway) CreateReview(ctx context.Context, repo domain.RepoRef, number int, event remote.ReviewEvent, body string) (domain.PullRequest, error) {
	args := []string{"api", "--method", "POST", repoPath(repo, "pulls", strconv.Itoa(number), "reviews"),
		"-f", "event=" + string(event)}
	if body != "" {
		args = append(args, "-f", "body="+body)
	}
	if _, err := g.exec(ctx, args...); err != nil {
		return domain.PullRequest{}, err
	}
	return g.GetPullRequest(ctx, repo, number)
}

func (g *Gateway) MergePullRequest(ctx context.Context, repo domain.RepoRef, number int, m remote.MergeMethod) (domain.PullRequest, error) {
	if m == "" {
		m = remote.MergeCommit
	}
	if _, err := g.exec(ctx, "api", "--method", "PUT", repoPath(repo, "pulls", strconv.Itoa(number), "merge"),
		"-f", "merge_method="+string(m)); err != nil {
		return domain.PullRequest{}, err
	}
	return g.GetPullRequest(ctx, repo, number)
}

func (g *Gateway) UpdatePullRequestDraft(ctx context.Context, repo domain.RepoRef, number int, draft bool) (domain.PullRequest, error) {
	args := []string{"pr", "ready", strconv.Itoa(number), "--repo", repo.String()}
	if draft {
		args = append(args, "--undo")
	}
	if _, err := g.exec(ctx, args...); err != nil {
		return domain.PullRequest{}, err
	}
	return g.GetPullRequest(ctx, repo, number)
}

func (g *Gateway) AddLabels(ctx context.Context, repo domain.RepoRef, number int, names []string) ([]domain.Label, error) {
	args := []string{"api", "--method", "POST", repoPath(repo, "issues", strconv.Itoa(number), "labels")}
	for _, n := range names {
		args = append(args, "-f", "labels[]="+n)
	}
	body, err := g.exec(ctx, args...)
	if err != nil {
		return nil, err
	}
	return decodeLabels(args, body)
}

func (g *Gateway) RemoveLabels(ctx context.Context, repo domain.RepoRef, number int, names []string) ([]domain.Label, error) {
	if len(names) == 0 {
		args := []string{"api", repoPath(repo, "issues", strconv.Itoa(number), "labels")}
		body, err := g.exec(ctx, args...)
		if err != nil {
			return nil, err
		}
		return decodeLabels(args, body)
	}
	var body []byte
	var args []string
	for _, n := range names {
		args = []string{"api", "--method", "DELETE", repoPath(repo, "issues", strconv.Itoa(number), "labels", url.PathEscape(n))}
		var err error
		if body, err = g.exec(ctx, args...); err != nil {
			return nil, err
		}
	}
	return decodeLabels(args, body)
}

func decodeLabels(args []string, body []byte) ([]domain.Label, error) {
	var ls []ghLabel
	if err := json.Unmarshal(body, &ls); err != nil {
		return nil, &remote.Error{Method: method(args), Message: "malformed response", Err: err}
	}
	return labels(ls), nil
}

func (g *Gateway) CloseIssues(ctx context.Context, repo domain.RepoRef, numbers []int) ([]domain.Issue, error) {
	return g.setIssueState(ctx, repo, numbers, "closed")
}

func (g *Gateway) ReopenIssues(ctx context.Context, repo domain.RepoRef, numbers []int) ([]domain.Issue, error) {
	return g.setIssueState(ctx, repo, numbers, "open")
}

// setIssueState patches issues one by one. The first failure stops the batch;
// issues already changed stay changed on the forge.
func (g *Gateway) setIssueState(ctx context.Context, repo domain.RepoRef, numbers []int, state string) ([]domain.Issue, error) {
	out := make([]domain.Issue, 0, len(numbers))
	for _, n := range numbers {
		var i ghIssue
		if err := g.get(ctx, &i, "--method", "PATCH", repoPath(repo, "issues", strconv.Itoa(n)), "-f", "state="+state); err != nil {
			return nil, fmt.Errorf("issue #%d: %w", n, err)
		}
		out = append(out, i.toDomain(repo))
	}
	return out, nil
}

// Credentials reads the token gh is signed in with and the matching login.
// A gh that is installed but signed out yields empty credentials, not an error.
func (g *Gateway) Credentials(ctx context.Context) (remote.Credentials, error) {
	tok, err := g.exec(ctx, "auth", "token")
	if err != nil {
		var re *remote.Error
		if errors.As(err, &re) && re.Err == nil {
			return remote.Credentials{}, nil
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return remote.Credentials{}, fmt.Errorf("gh not available: %w", err)
		}
		return remote.Credentials{}, err
	}
	var u ghUser
	if err := g.get(ctx, &u, "user"); err != nil {
		return remote.Credentials{}, err
	}
	return remote.Credentials{Token: strings.TrimSpace(string(tok)), Login: u.Login}, nil
}

var _ remote.Gateway = (*Gateway)(nil)
var _ remote.CredentialSource = (*Gateway)(nil)
