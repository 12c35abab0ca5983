package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/alimgiray/gitalizer/internal/models"
)

const commitColumns = `sha, author_email, committer_email, commit_time, commit_time_offset, creation_time, creation_time_offset, additions, deletions`

type CommitRepository struct {
	db *sql.DB
}

func NewCommitRepository(db *sql.DB) *CommitRepository {
	return &CommitRepository{db: db}
}

// ContributorCommit is a commit authored by a contributor together with one
// of the repositories it was seen in.
type ContributorCommit struct {
	Commit     *models.Commit
	Repository string
}

func scanCommit(row rowScanner, extra ...interface{}) (*models.Commit, error) {
	c := &models.Commit{}
	var authorEmail, committerEmail sql.NullString
	dest := []interface{}{&c.SHA, &authorEmail, &committerEmail, &c.CommitTime, &c.CommitTimeOffset,
		&c.CreationTime, &c.CreationTimeOffset, &c.Additions, &c.Deletions}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	c.AuthorEmail = authorEmail.String
	c.CommitterEmail = committerEmail.String
	return c, nil
}

func nullableEmail(address string) interface{} {
	if address == "" {
		return nil
	}
	return address
}

// GetBySHA retrieves a commit by its hash
func (r *CommitRepository) GetBySHA(ctx context.Context, sha string) (*models.Commit, error) {
	query := `SELECT ` + commitColumns + ` FROM commits WHERE sha = ?`
	c, err := scanCommit(r.db.QueryRowContext(ctx, query, sha))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// GetSHAsByRepository returns the set of commit hashes already associated with a repository
func (r *CommitRepository) GetSHAsByRepository(ctx context.Context, cloneURL string) (map[string]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT commit_sha FROM commit_repositories WHERE repository_clone_url = ?`, cloneURL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var sha string
		if err := rows.Scan(&sha); err != nil {
			return nil, err
		}
		known[sha] = struct{}{}
	}
	return known, rows.Err()
}

// CreateBatch inserts commits and their association with a repository in a
// single transaction. Commits that already exist (seen through another fork)
// only gain the association. It returns the number of new commit rows.
func (r *CommitRepository) CreateBatch(ctx context.Context, cloneURL string, commits []*models.Commit) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	insertCommit, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO commits (`+commitColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer insertCommit.Close()

	insertLink, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO commit_repositories (commit_sha, repository_clone_url) VALUES (?, ?)`)
	if err != nil {
		return 0, err
	}
	defer insertLink.Close()

	created := 0
	for _, c := range commits {
		res, err := insertCommit.ExecContext(ctx, c.SHA, nullableEmail(c.AuthorEmail), nullableEmail(c.CommitterEmail),
			c.CommitTime.UTC(), c.CommitTimeOffset, c.CreationTime.UTC(), c.CreationTimeOffset, c.Additions, c.Deletions)
		if err != nil {
			return 0, fmt.Errorf("failed to insert commit %s: %w", c.SHA, err)
		}
		if affected, err := res.RowsAffected(); err == nil {
			created += int(affected)
		}
		if _, err := insertLink.ExecContext(ctx, c.SHA, cloneURL); err != nil {
			return 0, fmt.Errorf("failed to link commit %s: %w", c.SHA, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return created, nil
}

// GetOldestByRepository returns the commit with the earliest creation time in a repository
func (r *CommitRepository) GetOldestByRepository(ctx context.Context, cloneURL string) (*models.Commit, error) {
	query := `SELECT c.sha, c.author_email, c.committer_email, c.commit_time, c.commit_time_offset,
		c.creation_time, c.creation_time_offset, c.additions, c.deletions
		FROM commits c JOIN commit_repositories cr ON cr.commit_sha = c.sha
		WHERE cr.repository_clone_url = ? ORDER BY c.creation_time ASC LIMIT 1`
	c, err := scanCommit(r.db.QueryRowContext(ctx, query, cloneURL))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// ListByContributor returns all commits authored through emails linked to a contributor
func (r *CommitRepository) ListByContributor(ctx context.Context, login string) ([]*ContributorCommit, error) {
	query := `SELECT c.sha, c.author_email, c.committer_email, c.commit_time, c.commit_time_offset,
		c.creation_time, c.creation_time_offset, c.additions, c.deletions, MIN(cr.repository_clone_url)
		FROM commits c
		JOIN emails e ON e.address = c.author_email
		JOIN commit_repositories cr ON cr.commit_sha = c.sha
		WHERE e.contributor_login = ?
		GROUP BY c.sha
		ORDER BY c.creation_time ASC`
	rows, err := r.db.QueryContext(ctx, query, login)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commits []*ContributorCommit
	for rows.Next() {
		var repository string
		c, err := scanCommit(rows, &repository)
		if err != nil {
			return nil, err
		}
		commits = append(commits, &ContributorCommit{Commit: c, Repository: repository})
	}
	return commits, rows.Err()
}

func (r *CommitRepository) CountByRepository(ctx context.Context, cloneURL string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commit_repositories WHERE repository_clone_url = ?`, cloneURL).Scan(&count)
	return count, err
}

func (r *CommitRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commits`).Scan(&count)
	return count, err
}
