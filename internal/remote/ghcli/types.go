package ghcli

import (
	"encoding/json"
	"time"

	"github.com/roach88/forgecache/internal/domain"
)

// REST payload shapes, reduced to the fields the caches keep.

type ghUser struct {
	Login string `json:"login"`
}

type ghRepo struct {
	Name          string    `json:"name"`
	Owner         ghUser    `json:"owner"`
	DefaultBranch string    `json:"default_branch"`
	Private       bool      `json:"private"`
	CloneURL      string    `json:"clone_url"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type ghLabel struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

type ghRef struct {
	Ref  string  `json:"ref"`
	SHA  string  `json:"sha"`
	Repo *ghRepo `json:"repo"`
}

type ghPull struct {
	Number             int        `json:"number"`
	Title              string     `json:"title"`
	Body               string     `json:"body"`
	State              string     `json:"state"`
	Draft              bool       `json:"draft"`
	Merged             bool       `json:"merged"`
	Mergeable          *bool      `json:"mergeable"`
	Head               ghRef      `json:"head"`
	Base               ghRef      `json:"base"`
	User               ghUser     `json:"user"`
	Assignees          []ghUser   `json:"assignees"`
	RequestedReviewers []ghUser   `json:"requested_reviewers"`
	Labels             []ghLabel  `json:"labels"`
	Comments           int        `json:"comments"`
	Additions          int        `json:"additions"`
	Deletions          int        `json:"deletions"`
	ChangedFiles       int        `json:"changed_files"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	ClosedAt           *time.Time `json:"closed_at"`
	MergedAt           *time.Time `json:"merged_at"`
	MergeCommitSHA     string     `json:"merge_commit_sha"`
}

type ghReview struct {
	User  ghUser `json:"user"`
	State string `json:"state"`
}

type ghIssue struct {
	Number      int             `json:"number"`
	Title       string          `json:"title"`
	Body        string          `json:"body"`
	State       string          `json:"state"`
	User        ghUser          `json:"user"`
	Labels      []ghLabel       `json:"labels"`
	Assignees   []ghUser        `json:"assignees"`
	Comments    int             `json:"comments"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	ClosedAt    *time.Time      `json:"closed_at"`
	PullRequest json.RawMessage `json:"pull_request"`
}

type ghBranch struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
	Protected bool `json:"protected"`
}

type ghCommit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Message string `json:"message"`
		Author  struct {
			Name  string    `json:"name"`
			Email string    `json:"email"`
			Date  time.Time `json:"date"`
		} `json:"author"`
	} `json:"commit"`
	Author *ghUser `json:"author"`
}

type ghCompare struct {
	AheadBy  int `json:"ahead_by"`
	BehindBy int `json:"behind_by"`
}

type ghCheckRuns struct {
	TotalCount int `json:"total_count"`
	CheckRuns  []struct {
		ID          int64      `json:"id"`
		Name        string     `json:"name"`
		Status      string     `json:"status"`
		Conclusion  *string    `json:"conclusion"`
		StartedAt   *time.Time `json:"started_at"`
		CompletedAt *time.Time `json:"completed_at"`
		App         *struct {
			Name string `json:"name"`
		} `json:"app"`
		DetailsURL string `json:"details_url"`
		HTMLURL    string `json:"html_url"`
	} `json:"check_runs"`
}

type ghError struct {
	Message string `json:"message"`
	Errors  []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// apiMessage extracts the most specific message from a REST error body.
func apiMessage(body []byte) string {
	var e ghError
	if err := json.Unmarshal(body, &e); err != nil {
		return ""
	}
	for _, sub := range e.Errors {
		if sub.Message != "" {
			return sub.Message
		}
	}
	return e.Message
}

func logins(users []ghUser) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Login)
	}
	return out
}

func labels(in []ghLabel) []domain.Label {
	out := make([]domain.Label, 0, len(in))
	for _, l := range in {
		out = append(out, domain.Label{Name: l.Name, Color: l.Color})
	}
	return domain.NormalizeLabels(out)
}

func (r ghRepo) toDomain() domain.Repository {
	vis := domain.VisibilityPublic
	if r.Private {
		vis = domain.VisibilityPrivate
	}
	return domain.Repository{
		Ref:           domain.RepoRef{Owner: r.Owner.Login, Name: r.Name},
		DefaultBranch: r.DefaultBranch,
		Visibility:    vis,
		CloneURL:      r.CloneURL,
		UpdatedAt:     r.UpdatedAt,
	}
}

func gitRef(r ghRef) domain.GitRef {
	out := domain.GitRef{Ref: r.Ref, SHA: r.SHA}
	if r.Repo != nil {
		out.Repo = r.Repo.Owner.Login + "/" + r.Repo.Name
	}
	return out
}

// toDomain folds the pull and its reviews. Only the latest verdict per
// reviewer counts; comments and dismissals do not change it except that a
// dismissal clears it.
func (p ghPull) toDomain(repo domain.RepoRef, reviews []ghReview) domain.PullRequest {
	verdict := map[string]string{}
	var order []string
	for _, r := range reviews {
		switch r.State {
		case "APPROVED", "CHANGES_REQUESTED", "DISMISSED":
			if _, seen := verdict[r.User.Login]; !seen {
				order = append(order, r.User.Login)
			}
			verdict[r.User.Login] = r.State
		}
	}
	var approved, changes []string
	for _, login := range order {
		switch verdict[login] {
		case "APPROVED":
			approved = append(approved, login)
		case "CHANGES_REQUESTED":
			changes = append(changes, login)
		}
	}

	out := domain.PullRequest{
		Repo:               repo,
		Number:             p.Number,
		Title:              p.Title,
		Body:               p.Body,
		State:              domain.ParseState(p.State),
		Draft:              p.Draft,
		Merged:             p.Merged || p.MergedAt != nil,
		Mergeable:          domain.MergeableFromPtr(p.Mergeable),
		Head:               gitRef(p.Head),
		Base:               gitRef(p.Base),
		Author:             p.User.Login,
		Assignees:          logins(p.Assignees),
		RequestedReviewers: logins(p.RequestedReviewers),
		Labels:             labels(p.Labels),
		Comments:           p.Comments,
		Additions:          p.Additions,
		Deletions:          p.Deletions,
		ChangedFiles:       p.ChangedFiles,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
		ClosedAt:           p.ClosedAt,
		MergedAt:           p.MergedAt,
		MergeCommitSHA:     p.MergeCommitSHA,
		ApprovedBy:         approved,
		ChangesRequestedBy: changes,
	}
	out.Normalize()
	return out
}

func (i ghIssue) toDomain(repo domain.RepoRef) domain.Issue {
	out := domain.Issue{
		Repo:      repo,
		Number:    i.Number,
		Title:     i.Title,
		Body:      i.Body,
		State:     domain.ParseState(i.State),
		Author:    i.User.Login,
		Labels:    labels(i.Labels),
		Assignees: logins(i.Assignees),
		Comments:  i.Comments,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
		ClosedAt:  i.ClosedAt,
	}
	out.Normalize()
	return out
}

func (c ghCheckRuns) toDomain(repo domain.RepoRef, branch, sha string, now time.Time) domain.CheckStatus {
	runs := make([]domain.CheckRun, 0, len(c.CheckRuns))
	for _, r := range c.CheckRuns {
		run := domain.CheckRun{
			ID:          r.ID,
			Name:        r.Name,
			Status:      domain.CheckRunStatus(r.Status),
			StartedAt:   r.StartedAt,
			CompletedAt: r.CompletedAt,
			DetailsURL:  r.DetailsURL,
			HTMLURL:     r.HTMLURL,
		}
		if r.Conclusion != nil {
			run.Conclusion = *r.Conclusion
		}
		if r.App != nil {
			run.App = r.App.Name
		}
		runs = append(runs, run)
	}
	return domain.NewCheckStatus(repo, branch, sha, runs, now)
}
