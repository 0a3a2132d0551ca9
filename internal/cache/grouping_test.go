package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/forgecache/internal/domain"
)

func TestGroupPrefix(t *testing.T) {
	tests := []struct {
		name  string
		title string
		head  string
		want  string
	}{
		{"conventional commit", "feat: add sprockets", "", "feat"},
		{"conventional with scope and bang", "Refactor(core)!: drop v1", "", "refactor"},
		{"branch prefix", "Add sprockets", "feature/sprockets", "feature"},
		{"title beats branch", "docs: readme", "feature/readme", "docs"},
		{"ticket branch", "Fix login", "ABC-123/login", "abc-123"},
		{"hyphenated branch prefix", "Fix login", "fix-login/session-expiry", "fix-login"},
		{"hyphenated branch prefix with digits", "Dark theme", "dark-mode/v2", "dark-mode"},
		{"conventional title beats hyphenated branch", "feat: dark theme", "dark-mode/v2", "feat"},
		{"short prefix ignored", "ci: bump", "", ""},
		{"short title falls back to branch", "ci: bump", "chore/ci", "chore"},
		{"no colon content", "feat:", "", ""},
		{"nothing", "Tidy README", "tidy-readme", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pr := domain.PullRequest{Title: tt.title, Head: domain.GitRef{Ref: tt.head}}
			assert.Equal(t, tt.want, GroupPrefix(pr))
		})
	}
}

func TestGroupPullRequests_Order(t *testing.T) {
	prs := []domain.PullRequest{
		{Number: 1, Title: "Tidy README"},
		{Number: 2, Title: "fix: crash"},
		{Number: 5, Title: "feat: b"},
		{Number: 3, Title: "feat: a"},
		{Number: 4, Title: "Misc"},
	}

	groups := GroupPullRequests(prs)

	var got [][]int
	var prefixes []string
	for _, g := range groups {
		prefixes = append(prefixes, g.Prefix)
		var numbers []int
		for _, pr := range g.PullRequests {
			numbers = append(numbers, pr.Number)
		}
		got = append(got, numbers)
	}
	assert.Equal(t, []string{"feat", "fix", ""}, prefixes)
	assert.Equal(t, [][]int{{5, 3}, {2}, {4, 1}}, got)
}

func TestGroupPullRequests_Empty(t *testing.T) {
	assert.Empty(t, GroupPullRequests(nil))
}

func TestDetectAgent(t *testing.T) {
	tests := []struct {
		name   string
		head   string
		labels []string
		want   Agent
	}{
		{"claude branch", "claude/fix-auth", nil, AgentClaude},
		{"copilot branch", "copilot/issue-12", nil, AgentCopilot},
		{"codex label", "fix-auth", []string{"codex"}, AgentCodex},
		{"named beats generic", "ai/devin-run", nil, AgentDevin},
		{"generic ai label", "fix-auth", []string{"AI"}, AgentAI},
		{"substring does not match", "maintain/claudette", nil, AgentNone},
		{"human", "feature/login", []string{"bug"}, AgentNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pr := domain.PullRequest{Head: domain.GitRef{Ref: tt.head}}
			for _, l := range tt.labels {
				pr.Labels = append(pr.Labels, domain.Label{Name: l})
			}
			assert.Equal(t, tt.want, DetectAgent(pr))
		})
	}
}
