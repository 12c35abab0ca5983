package models

import (
	"strings"
	"time"
)

// Repository is a hosted git repository, identified by its clone URL.
// ParentURL links a fork to the repository it was forked from.
type Repository struct {
	CloneURL          string     `json:"clone_url"`
	Name              string     `json:"name"`
	FullName          string     `json:"full_name"`
	ParentURL         *string    `json:"parent_url"`
	CreatedAt         *time.Time `json:"created_at"`
	CompletelyScanned bool       `json:"completely_scanned"`
	Broken            bool       `json:"broken"`
	TooBig            bool       `json:"too_big"`
	Fork              bool       `json:"fork"`
	UpdatedAt         *time.Time `json:"updated_at"`
}

// NewRepository creates a repository record that has not been scanned yet
func NewRepository(cloneURL, name, fullName string) *Repository {
	return &Repository{
		CloneURL: cloneURL,
		Name:     name,
		FullName: fullName,
	}
}

// ShouldScan reports whether the repository should be (re)scanned at now.
// Broken, oversized and fork repositories are never scanned; completely
// scanned ones only after the rescan interval has passed.
func (r *Repository) ShouldScan(now time.Time, interval time.Duration) bool {
	if r.Broken || r.TooBig || r.Fork {
		return false
	}
	if !r.CompletelyScanned || r.UpdatedAt == nil {
		return true
	}
	return now.Sub(*r.UpdatedAt) >= interval
}

// Owner returns the owner part of the full name
func (r *Repository) Owner() string {
	owner, _, _ := strings.Cut(r.FullName, "/")
	return owner
}
