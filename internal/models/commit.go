package models

import "time"

// Commit is a git commit, identified globally by its hash. The same commit
// may belong to many repositories (forks share history).
type Commit struct {
	SHA                string    `json:"sha"`
	AuthorEmail        string    `json:"author_email"`
	CommitterEmail     string    `json:"committer_email"`
	CommitTime         time.Time `json:"commit_time"`
	CommitTimeOffset   int       `json:"commit_time_offset"`
	CreationTime       time.Time `json:"creation_time"`
	CreationTimeOffset int       `json:"creation_time_offset"`
	Additions          *int      `json:"additions"`
	Deletions          *int      `json:"deletions"`
}

// NewCommit creates a commit from its author and committer signatures. The
// creation time is the authored time, the commit time is the committed time.
// Offsets are seconds east of UTC.
func NewCommit(sha, authorEmail, committerEmail string, authored, committed time.Time) *Commit {
	_, authorOffset := authored.Zone()
	_, committerOffset := committed.Zone()
	return &Commit{
		SHA:                sha,
		AuthorEmail:        NormalizeEmail(authorEmail),
		CommitterEmail:     NormalizeEmail(committerEmail),
		CommitTime:         committed,
		CommitTimeOffset:   committerOffset,
		CreationTime:       authored,
		CreationTimeOffset: authorOffset,
	}
}

// SetStats sets the line statistics against the single parent
func (c *Commit) SetStats(additions, deletions int) {
	c.Additions = &additions
	c.Deletions = &deletions
}

// LocalCreationTime returns the authored time in the author's own timezone
func (c *Commit) LocalCreationTime() time.Time {
	return c.CreationTime.In(time.FixedZone("", c.CreationTimeOffset))
}

// LocalCommitTime returns the committed time in the committer's own timezone
func (c *Commit) LocalCommitTime() time.Time {
	return c.CommitTime.In(time.FixedZone("", c.CommitTimeOffset))
}
