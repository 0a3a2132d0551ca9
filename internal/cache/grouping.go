package cache

import (
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/forgecache/internal/domain"
)

// Group is a set of pull requests sharing a prefix. The ungrouped set has an
// empty Prefix.
type Group struct {
	Prefix       string
	PullRequests []domain.PullRequest
}

// minPrefixLen discards short prefixes such as "ci" or "v2".
const minPrefixLen = 3

// prefixPatterns are tried in order; each is applied to the title and then
// to the head branch before moving on to the next pattern.
var prefixPatterns = []*regexp.Regexp{
	// Conventional commit: "feat(ui)!: ..." -> "feat".
	regexp.MustCompile(`^([A-Za-z]+)(?:\([^)]*\))?!?:\s*\S`),
	// Generic branch prefix: "feature/..." -> "feature", "dark-mode/..." -> "dark-mode".
	regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_.-]*)/`),
	// Ticket prefix: "abc-123/..." -> "abc-123". The generic pattern yields
	// the same prefix, so this only names the case.
	regexp.MustCompile(`^([A-Za-z]+-[0-9]+)/`),
}

// GroupPrefix returns the grouping prefix of a pull request, lower-cased, or
// "" when no pattern yields one of at least three characters.
func GroupPrefix(p domain.PullRequest) string {
	candidates := []string{strings.TrimSpace(p.Title), strings.TrimSpace(p.Head.Ref)}
	for _, re := range prefixPatterns {
		for _, s := range candidates {
			m := re.FindStringSubmatch(s)
			if m == nil {
				continue
			}
			if prefix := strings.ToLower(m[1]); len(prefix) >= minPrefixLen {
				return prefix
			}
		}
	}
	return ""
}

// GroupPullRequests buckets pull requests by GroupPrefix. Named groups come
// first in prefix order, the ungrouped set last; inside a group pull
// requests keep newest-number-first order.
func GroupPullRequests(prs []domain.PullRequest) []Group {
	byPrefix := map[string][]domain.PullRequest{}
	for _, p := range prs {
		prefix := GroupPrefix(p)
		byPrefix[prefix] = append(byPrefix[prefix], p)
	}

	prefixes := make([]string, 0, len(byPrefix))
	for prefix := range byPrefix {
		if prefix != "" {
			prefixes = append(prefixes, prefix)
		}
	}
	sort.Strings(prefixes)
	if _, ok := byPrefix[""]; ok {
		prefixes = append(prefixes, "")
	}

	groups := make([]Group, 0, len(prefixes))
	for _, prefix := range prefixes {
		members := byPrefix[prefix]
		sort.Slice(members, func(i, j int) bool { return members[i].Number > members[j].Number })
		groups = append(groups, Group{Prefix: prefix, PullRequests: members})
	}
	return groups
}
