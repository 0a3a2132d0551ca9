package cache

import (
	"strings"

	"github.com/roach88/forgecache/internal/domain"
)

// Agent names a coding agent that likely authored a pull request.
type Agent string

const (
	AgentNone    Agent = ""
	AgentClaude  Agent = "claude"
	AgentCopilot Agent = "copilot"
	AgentCodex   Agent = "codex"
	AgentDevin   Agent = "devin"
	AgentCursor  Agent = "cursor"
	AgentAI      Agent = "ai"
)

// namedAgents are checked before the generic "ai" token.
var namedAgents = []Agent{AgentClaude, AgentCopilot, AgentCodex, AgentDevin, AgentCursor}

// DetectAgent guesses the coding agent behind a pull request from its head
// branch and labels. Only whole tokens match, so "maintain" is not "ai".
// This is a heuristic: a human branch named "cursor/fix" will be reported.
func DetectAgent(p domain.PullRequest) Agent {
	tokens := map[string]struct{}{}
	addTokens(tokens, p.Head.Ref)
	for _, l := range p.Labels {
		addTokens(tokens, l.Name)
	}

	for _, a := range namedAgents {
		if _, ok := tokens[string(a)]; ok {
			return a
		}
	}
	if _, ok := tokens[string(AgentAI)]; ok {
		return AgentAI
	}
	return AgentNone
}

func addTokens(into map[string]struct{}, s string) {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		switch r {
		case '/', '-', '_', '.', ':', ' ', '(', ')', '[', ']':
			return true
		}
		return false
	})
	for _, f := range fields {
		into[f] = struct{}{}
	}
}
