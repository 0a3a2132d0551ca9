package mapper

import (
	"log/slog"
	"time"

	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/store"
)

// Mapper converts rows and entities. It holds only configuration (clock,
// logger, compiled schemas); conversions perform no I/O.
type Mapper struct {
	now     func() time.Time
	logger  *slog.Logger
	schemas *validator
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithClock sets the clock used for the missing updated_at default.
func WithClock(now func() time.Time) Option {
	return func(m *Mapper) { m.now = now }
}

// WithLogger sets the logger for decode fallbacks.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mapper) { m.logger = l }
}

// New compiles the column schemas. It fails only if schema.cue is broken.
func New(opts ...Option) (*Mapper, error) {
	v, err := newValidator()
	if err != nil {
		return nil, err
	}
	m := &Mapper{now: time.Now, logger: slog.Default(), schemas: v}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// MustNew is New for static configurations; it panics on a broken schema.
func MustNew(opts ...Option) *Mapper {
	m, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return m
}

// repoFromRow prefers the scope's repository and falls back to the row's repo_id.
func repoFromRow(row store.Row, scope domain.RepoRef) domain.RepoRef {
	if !scope.IsZero() {
		return scope
	}
	if id, ok := text(row, store.ColRepoID); ok {
		if ref, err := domain.ParseRepoRef(id); err == nil {
			return ref
		}
	}
	return domain.RepoRef{}
}

// RepositoryFromRow maps a repositories row. Missing visibility is public.
func (m *Mapper) RepositoryFromRow(row store.Row) domain.Repository {
	ref := domain.RepoRef{
		Owner: stringCol(row, "owner", ""),
		Name:  stringCol(row, "name", ""),
	}
	if ref.IsZero() {
		ref = repoFromRow(row, domain.RepoRef{})
	}
	r := domain.Repository{
		Ref:           ref,
		DefaultBranch: stringCol(row, "default_branch", ""),
		Visibility:    domain.Visibility(stringCol(row, "visibility", string(domain.VisibilityPublic))),
		CloneURL:      stringCol(row, "clone_url", ""),
		UpdatedAt:     timeCol(row, "updated_at", m.now().UTC()),
	}
	r.Normalize()
	return r
}

// RepositoryToRow maps a repository for upsert.
func (m *Mapper) RepositoryToRow(r domain.Repository) store.Row {
	return store.Row{
		store.ColRepoID:  r.Ref.String(),
		"owner":          r.Ref.Owner,
		"name":           r.Ref.Name,
		"default_branch": r.DefaultBranch,
		"visibility":     string(r.Visibility),
		"clone_url":      r.CloneURL,
		"updated_at":     formatTime(r.UpdatedAt),
	}
}

// PullRequestFromRow maps a pull_requests row. Defaults: state open,
// mergeable unknown, empty sets, zero counts, updated_at now.
func (m *Mapper) PullRequestFromRow(row store.Row, scope domain.RepoRef) domain.PullRequest {
	p := domain.PullRequest{
		Repo:      repoFromRow(row, scope),
		Number:    intCol(row, "number", 0),
		Title:     stringCol(row, "title", ""),
		Body:      stringCol(row, "body", ""),
		State:     domain.ParseState(stringCol(row, "state", string(domain.StateOpen))),
		Draft:     boolCol(row, "draft"),
		Merged:    boolCol(row, "merged"),
		Mergeable: domain.ParseMergeable(stringCol(row, "mergeable", "")),
		Head: domain.GitRef{
			Ref:  stringCol(row, "head_ref", ""),
			SHA:  stringCol(row, "head_sha", ""),
			Repo: stringCol(row, "head_repo", ""),
		},
		Base: domain.GitRef{
			Ref:  stringCol(row, "base_ref", ""),
			SHA:  stringCol(row, "base_sha", ""),
			Repo: stringCol(row, "base_repo", ""),
		},
		Author:         stringCol(row, "author", ""),
		Comments:       intCol(row, "comments", 0),
		Additions:      intCol(row, "additions", 0),
		Deletions:      intCol(row, "deletions", 0),
		ChangedFiles:   intCol(row, "changed_files", 0),
		CreatedAt:      timeCol(row, "created_at", time.Time{}),
		UpdatedAt:      timeCol(row, "updated_at", m.now().UTC()),
		ClosedAt:       timePtrCol(row, "closed_at"),
		MergedAt:       timePtrCol(row, "merged_at"),
		MergeCommitSHA: stringCol(row, "merge_commit_sha", ""),
	}
	var assignees, reviewers, approved, changes []string
	var labels []domain.Label
	m.decodeColumn(row, "assignees", SchemaLogins, &assignees)
	m.decodeColumn(row, "requested_reviewers", SchemaLogins, &reviewers)
	m.decodeColumn(row, "labels", SchemaLabels, &labels)
	m.decodeColumn(row, "approved_by", SchemaLogins, &approved)
	m.decodeColumn(row, "changes_requested_by", SchemaLogins, &changes)
	p.Assignees = loginsOrEmpty(assignees)
	p.RequestedReviewers = loginsOrEmpty(reviewers)
	p.Labels = labels
	p.ApprovedBy = loginsOrEmpty(approved)
	p.ChangesRequestedBy = loginsOrEmpty(changes)

	p.Normalize()
	return p
}

// PullRequestToRow maps a pull request for upsert. TogglingDraft is transient
// and never written.
func (m *Mapper) PullRequestToRow(p domain.PullRequest) store.Row {
	return store.Row{
		store.ColRepoID:        p.Repo.String(),
		"number":               int64(p.Number),
		"title":                p.Title,
		"body":                 p.Body,
		"state":                string(p.State),
		"draft":                boolInt(p.Draft),
		"merged":               boolInt(p.Merged),
		"mergeable":            string(p.Mergeable),
		"head_ref":             p.Head.Ref,
		"head_sha":             p.Head.SHA,
		"head_repo":            p.Head.Repo,
		"base_ref":             p.Base.Ref,
		"base_sha":             p.Base.SHA,
		"base_repo":            p.Base.Repo,
		"author":               p.Author,
		"assignees":            encodeColumn(loginsOrEmpty(p.Assignees)),
		"requested_reviewers":  encodeColumn(loginsOrEmpty(p.RequestedReviewers)),
		"labels":               encodeColumn(labelsOrEmpty(p.Labels)),
		"comments":             int64(p.Comments),
		"additions":            int64(p.Additions),
		"deletions":            int64(p.Deletions),
		"changed_files":        int64(p.ChangedFiles),
		"created_at":           formatTime(p.CreatedAt),
		"updated_at":           formatTime(p.UpdatedAt),
		"closed_at":            formatTimePtr(p.ClosedAt),
		"merged_at":            formatTimePtr(p.MergedAt),
		"merge_commit_sha":     p.MergeCommitSHA,
		"approved_by":          encodeColumn(loginsOrEmpty(p.ApprovedBy)),
		"changes_requested_by": encodeColumn(loginsOrEmpty(p.ChangesRequestedBy)),
	}
}

// IssueFromRow maps an issues row. Defaults: state open, empty sets and refs.
func (m *Mapper) IssueFromRow(row store.Row, scope domain.RepoRef) domain.Issue {
	i := domain.Issue{
		Repo:      repoFromRow(row, scope),
		Number:    intCol(row, "number", 0),
		Title:     stringCol(row, "title", ""),
		Body:      stringCol(row, "body", ""),
		State:     domain.ParseState(stringCol(row, "state", string(domain.StateOpen))),
		Author:    stringCol(row, "author", ""),
		Comments:  intCol(row, "comments", 0),
		CreatedAt: timeCol(row, "created_at", time.Time{}),
		UpdatedAt: timeCol(row, "updated_at", m.now().UTC()),
		ClosedAt:  timePtrCol(row, "closed_at"),
	}

	var labels []domain.Label
	var assignees []string
	var prs []domain.IssueRef
	var branches []domain.BranchRef
	m.decodeColumn(row, "labels", SchemaLabels, &labels)
	m.decodeColumn(row, "assignees", SchemaLogins, &assignees)
	m.decodeColumn(row, "linked_pull_requests", SchemaIssueRefs, &prs)
	m.decodeColumn(row, "linked_branches", SchemaBranchRefs, &branches)
	i.Labels = labels
	i.Assignees = loginsOrEmpty(assignees)
	i.LinkedPullRequests = prs
	i.LinkedBranches = branches

	i.Normalize()
	return i
}

// IssueToRow maps an issue for upsert.
func (m *Mapper) IssueToRow(i domain.Issue) store.Row {
	prs := i.LinkedPullRequests
	if prs == nil {
		prs = []domain.IssueRef{}
	}
	branches := i.LinkedBranches
	if branches == nil {
		branches = []domain.BranchRef{}
	}
	return store.Row{
		store.ColRepoID:        i.Repo.String(),
		"number":               int64(i.Number),
		"title":                i.Title,
		"body":                 i.Body,
		"state":                string(i.State),
		"author":               i.Author,
		"labels":               encodeColumn(labelsOrEmpty(i.Labels)),
		"assignees":            encodeColumn(loginsOrEmpty(i.Assignees)),
		"comments":             int64(i.Comments),
		"created_at":           formatTime(i.CreatedAt),
		"updated_at":           formatTime(i.UpdatedAt),
		"closed_at":            formatTimePtr(i.ClosedAt),
		"linked_pull_requests": encodeColumn(prs),
		"linked_branches":      encodeColumn(branches),
	}
}

// BranchFromRow maps a branches row.
func (m *Mapper) BranchFromRow(row store.Row, scope domain.RepoRef) domain.Branch {
	return domain.Branch{
		Repo: repoFromRow(row, scope),
		Name: stringCol(row, "name", ""),
		Commit: domain.Commit{
			SHA:         stringCol(row, "commit_sha", ""),
			Author:      stringCol(row, "commit_author", ""),
			AuthorEmail: stringCol(row, "commit_author_email", ""),
			Message:     stringCol(row, "commit_message", ""),
			Date:        timeCol(row, "commit_date", time.Time{}),
		},
		Protected: boolCol(row, "protected"),
		Ahead:     intCol(row, "ahead", 0),
		Behind:    intCol(row, "behind", 0),
		Current:   boolCol(row, "is_default"),
	}
}

// BranchToRow maps a branch for upsert.
func (m *Mapper) BranchToRow(b domain.Branch) store.Row {
	return store.Row{
		store.ColRepoID:       b.Repo.String(),
		"name":                b.Name,
		"commit_sha":          b.Commit.SHA,
		"commit_author":       b.Commit.Author,
		"commit_author_email": b.Commit.AuthorEmail,
		"commit_message":      b.Commit.Message,
		"commit_date":         formatTime(b.Commit.Date),
		"protected":           boolInt(b.Protected),
		"ahead":               int64(b.Ahead),
		"behind":              int64(b.Behind),
		"is_default":          boolInt(b.Current),
	}
}

// CheckStatusFromRow maps a check_statuses row. Summary and overall status
// are always recomputed from the decoded runs.
func (m *Mapper) CheckStatusFromRow(row store.Row, scope domain.RepoRef) domain.CheckStatus {
	var runs []domain.CheckRun
	m.decodeColumn(row, "check_runs", SchemaCheckRuns, &runs)
	return domain.NewCheckStatus(
		repoFromRow(row, scope),
		stringCol(row, "branch", ""),
		stringCol(row, "sha", ""),
		runs,
		timeCol(row, "updated_at", m.now().UTC()),
	)
}

// CheckStatusToRow maps a check status for upsert. Derived fields are not stored.
func (m *Mapper) CheckStatusToRow(c domain.CheckStatus) store.Row {
	runs := c.CheckRuns
	if runs == nil {
		runs = []domain.CheckRun{}
	}
	return store.Row{
		store.ColRepoID: c.Repo.String(),
		"branch":        c.Branch,
		"sha":           c.SHA,
		"check_runs":    encodeColumn(runs),
		"updated_at":    formatTime(c.UpdatedAt),
	}
}

func labelsOrEmpty(v []domain.Label) []domain.Label {
	if v == nil {
		return []domain.Label{}
	}
	return v
}
