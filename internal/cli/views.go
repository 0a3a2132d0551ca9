package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/roach88/forgecache/internal/cache"
	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/orchestrator"
)

// table renders rows with aligned columns.
func table(header []string, rows [][]string) string {
	var b strings.Builder
	w := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(w, strings.Join(r, "\t"))
	}
	_ = w.Flush()
	return b.String()
}

func labelNames(labels []domain.Label) string {
	names := make([]string, len(labels))
	for i, l := range labels {
		names[i] = l.Name
	}
	return strings.Join(names, ",")
}

// freshness describes how current a cache scope is.
type freshness struct {
	LastFetch *time.Time `json:"last_fetch,omitempty"`
	Stale     bool       `json:"stale"`
	Error     string     `json:"error,omitempty"`
}

func freshnessOf(m cache.Meta, stale bool) freshness {
	f := freshness{Stale: stale}
	if m.Fetched() {
		t := m.LastFetch
		f.LastFetch = &t
	}
	if m.Err != nil {
		f.Error = m.Err.Error()
	}
	return f
}

func (f freshness) footer() string {
	switch {
	case f.Error != "":
		return "(last refresh failed: " + f.Error + ")"
	case f.LastFetch == nil:
		return "(from local cache; never refreshed)"
	case f.Stale:
		return "(stale; fetched " + f.LastFetch.Format(time.RFC3339) + ")"
	}
	return ""
}

func withFooter(body string, f freshness) string {
	if s := f.footer(); s != "" {
		return body + s + "\n"
	}
	return body
}

type reposView struct {
	Repositories []domain.Repository `json:"repositories"`
	Freshness    freshness           `json:"freshness"`
}

func (v reposView) Text() string {
	if len(v.Repositories) == 0 {
		return withFooter("No repositories.\n", v.Freshness)
	}
	rows := make([][]string, 0, len(v.Repositories))
	for _, r := range v.Repositories {
		rows = append(rows, []string{r.Ref.String(), r.DefaultBranch, string(r.Visibility)})
	}
	return withFooter(table([]string{"REPOSITORY", "DEFAULT", "VISIBILITY"}, rows), v.Freshness)
}

type prGroupView struct {
	Prefix       string               `json:"prefix"`
	PullRequests []domain.PullRequest `json:"pull_requests"`
}

type prsView struct {
	Repo         domain.RepoRef       `json:"repo"`
	PullRequests []domain.PullRequest `json:"pull_requests,omitempty"`
	Groups       []prGroupView        `json:"groups,omitempty"`
	Freshness    freshness            `json:"freshness"`
}

func prRows(prs []domain.PullRequest) [][]string {
	rows := make([][]string, 0, len(prs))
	for _, p := range prs {
		title := p.Title
		if p.Draft {
			title = "[draft] " + title
		}
		agent := ""
		if a := cache.DetectAgent(p); a != cache.AgentNone {
			agent = string(a)
		}
		rows = append(rows, []string{
			fmt.Sprintf("#%d", p.Number), title, p.Author, string(p.ReviewStatus), agent, labelNames(p.Labels),
		})
	}
	return rows
}

var prHeader = []string{"NUMBER", "TITLE", "AUTHOR", "REVIEW", "AGENT", "LABELS"}

func (v prsView) Text() string {
	if v.Groups != nil {
		var b strings.Builder
		for _, g := range v.Groups {
			name := g.Prefix
			if name == "" {
				name = "ungrouped"
			}
			fmt.Fprintf(&b, "%s (%d)\n", name, len(g.PullRequests))
			b.WriteString(table(prHeader, prRows(g.PullRequests)))
			b.WriteString("\n")
		}
		if len(v.Groups) == 0 {
			b.WriteString("No pull requests.\n")
		}
		return withFooter(b.String(), v.Freshness)
	}
	if len(v.PullRequests) == 0 {
		return withFooter("No pull requests.\n", v.Freshness)
	}
	return withFooter(table(prHeader, prRows(v.PullRequests)), v.Freshness)
}

type issuesView struct {
	Repo      domain.RepoRef `json:"repo"`
	Issues    []domain.Issue `json:"issues"`
	Freshness freshness      `json:"freshness"`
}

func (v issuesView) Text() string {
	if len(v.Issues) == 0 {
		return withFooter("No issues.\n", v.Freshness)
	}
	rows := make([][]string, 0, len(v.Issues))
	for _, i := range v.Issues {
		rows = append(rows, []string{fmt.Sprintf("#%d", i.Number), i.Title, string(i.State), i.Author, labelNames(i.Labels)})
	}
	return withFooter(table([]string{"NUMBER", "TITLE", "STATE", "AUTHOR", "LABELS"}, rows), v.Freshness)
}

type branchesView struct {
	Repo      domain.RepoRef  `json:"repo"`
	Branches  []domain.Branch `json:"branches"`
	Freshness freshness       `json:"freshness"`
}

func (v branchesView) Text() string {
	if len(v.Branches) == 0 {
		return withFooter("No branches.\n", v.Freshness)
	}
	rows := make([][]string, 0, len(v.Branches))
	for _, br := range v.Branches {
		marker := ""
		if br.Current {
			marker = "*"
		}
		sha := br.Commit.SHA
		if len(sha) > 7 {
			sha = sha[:7]
		}
		rows = append(rows, []string{marker, br.Name, sha, fmt.Sprintf("+%d/-%d", br.Ahead, br.Behind)})
	}
	return withFooter(table([]string{"", "BRANCH", "COMMIT", "AHEAD/BEHIND"}, rows), v.Freshness)
}

type checksView struct {
	Repo      domain.RepoRef       `json:"repo"`
	Checks    []domain.CheckStatus `json:"checks"`
	Freshness freshness            `json:"freshness"`
}

func (v checksView) Text() string {
	if len(v.Checks) == 0 {
		return withFooter("No checks.\n", v.Freshness)
	}
	rows := make([][]string, 0, len(v.Checks))
	for _, c := range v.Checks {
		s := c.Summary
		rows = append(rows, []string{
			c.Branch, string(c.OverallStatus),
			fmt.Sprintf("%d/%d passed, %d failed, %d pending", s.Success, s.Total, s.Failure, s.Pending),
		})
	}
	return withFooter(table([]string{"BRANCH", "STATUS", "SUMMARY"}, rows), v.Freshness)
}

type syncView struct {
	RunID    string     `json:"run_id"`
	State    string     `json:"state"`
	Synced   int        `json:"synced"`
	Total    int        `json:"total"`
	Message  string     `json:"message"`
	LastSync *time.Time `json:"last_sync,omitempty"`
	Errors   []string   `json:"errors,omitempty"`
	Skipped  bool       `json:"skipped,omitempty"`
}

func newSyncView(st orchestrator.Status) syncView {
	v := syncView{
		RunID:   st.RunID,
		State:   string(st.State),
		Synced:  st.Synced,
		Total:   st.Total,
		Message: st.Message,
	}
	if !st.LastSync.IsZero() {
		t := st.LastSync
		v.LastSync = &t
	}
	for _, e := range st.Errors {
		v.Errors = append(v.Errors, e.Error())
	}
	return v
}

func (v syncView) Text() string {
	if v.Skipped {
		if v.LastSync != nil {
			return "Up to date (last sync " + v.LastSync.Format(time.RFC3339) + ")"
		}
		return "Up to date"
	}
	var b strings.Builder
	b.WriteString(v.Message)
	b.WriteString("\n")
	for _, e := range v.Errors {
		b.WriteString("  " + e + "\n")
	}
	return b.String()
}

type prView struct {
	PullRequest domain.PullRequest `json:"pull_request"`
	Action      string             `json:"action"`
}

func (v prView) Text() string {
	p := v.PullRequest
	state := string(p.State)
	if p.Merged {
		state = "merged"
	} else if p.Draft {
		state += ", draft"
	}
	return fmt.Sprintf("%s %s#%d: %s (%s, review %s, labels [%s])",
		v.Action, p.Repo, p.Number, p.Title, state, p.ReviewStatus, labelNames(p.Labels))
}

type issueResultView struct {
	Issues []domain.Issue `json:"issues"`
	Action string         `json:"action"`
}

func (v issueResultView) Text() string {
	var b strings.Builder
	for _, i := range v.Issues {
		fmt.Fprintf(&b, "%s %s#%d: %s (%s, labels [%s])\n", v.Action, i.Repo, i.Number, i.Title, i.State, labelNames(i.Labels))
	}
	return b.String()
}
