package domain

import "time"

// Visibility of a repository.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Repository is a forge repository as listed for the signed-in user.
type Repository struct {
	Ref           RepoRef    `json:"ref" yaml:"ref"`
	DefaultBranch string     `json:"default_branch" yaml:"default_branch"`
	Visibility    Visibility `json:"visibility" yaml:"visibility"`
	CloneURL      string     `json:"clone_url" yaml:"clone_url"`
	UpdatedAt     time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Normalize fills defaults.
func (r *Repository) Normalize() {
	if r.Visibility == "" {
		r.Visibility = VisibilityPublic
	}
}
