package domain

import (
	"fmt"
	"strings"
)

// RepoRef identifies a repository on the forge.
type RepoRef struct {
	Owner string `json:"owner" yaml:"owner"`
	Name  string `json:"name" yaml:"name"`
}

// String returns the "owner/name" form, which is also the repository id used
// by the durable store and the cache scope key.
func (r RepoRef) String() string {
	return r.Owner + "/" + r.Name
}

// IsZero reports whether the reference is unset.
func (r RepoRef) IsZero() bool {
	return r.Owner == "" && r.Name == ""
}

// ParseRepoRef parses "owner/name".
func ParseRepoRef(s string) (RepoRef, error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return RepoRef{}, fmt.Errorf("invalid repository %q: want owner/name", s)
	}
	return RepoRef{Owner: owner, Name: name}, nil
}

// Scope is a cache granularity key: "owner/name" or "owner/name#branch".
type Scope string

// RepoScope returns the scope covering a whole repository.
func RepoScope(r RepoRef) Scope {
	return Scope(r.String())
}

// BranchScope returns the scope covering one branch of a repository.
func BranchScope(r RepoRef, branch string) Scope {
	return Scope(r.String() + "#" + branch)
}

// Repo extracts the repository part of the scope.
func (s Scope) Repo() (RepoRef, error) {
	repo, _, _ := strings.Cut(string(s), "#")
	return ParseRepoRef(repo)
}

// Branch returns the branch part of a branch scope, or "".
func (s Scope) Branch() string {
	_, branch, _ := strings.Cut(string(s), "#")
	return branch
}

// NumberKey identifies a pull request or issue within a repository.
type NumberKey struct {
	Repo   RepoRef
	Number int
}

func (k NumberKey) String() string {
	return fmt.Sprintf("%s#%d", k.Repo, k.Number)
}
