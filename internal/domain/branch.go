package domain

import "time"

// Commit is the latest commit on a branch.
type Commit struct {
	SHA         string    `json:"sha" yaml:"sha"`
	Author      string    `json:"author" yaml:"author"`
	AuthorEmail string    `json:"author_email" yaml:"author_email"`
	Message     string    `json:"message" yaml:"message"`
	Date        time.Time `json:"date" yaml:"date"`
}

// Branch is a cached branch. Current marks the repository default branch,
// not the local git HEAD.
type Branch struct {
	Repo      RepoRef `json:"repo" yaml:"repo"`
	Name      string  `json:"name" yaml:"name"`
	Commit    Commit  `json:"commit" yaml:"commit"`
	Protected bool    `json:"protected" yaml:"protected"`
	Ahead     int     `json:"ahead" yaml:"ahead"`
	Behind    int     `json:"behind" yaml:"behind"`
	Current   bool    `json:"current" yaml:"current"`
}

// MarkCurrent sets Current on the branch named defaultBranch and clears it
// everywhere else. With an empty defaultBranch no branch is current.
func MarkCurrent(branches []Branch, defaultBranch string) {
	for i := range branches {
		branches[i].Current = defaultBranch != "" && branches[i].Name == defaultBranch
	}
}
