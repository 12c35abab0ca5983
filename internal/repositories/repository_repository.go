package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/alimgiray/gitalizer/internal/models"
)

const repositoryColumns = `clone_url, name, full_name, parent_url, created_at, completely_scanned, broken, too_big, fork, updated_at`

type RepositoryRepository struct {
	db *sql.DB
}

func NewRepositoryRepository(db *sql.DB) *RepositoryRepository {
	return &RepositoryRepository{db: db}
}

func scanRepository(row rowScanner) (*models.Repository, error) {
	r := &models.Repository{}
	err := row.Scan(&r.CloneURL, &r.Name, &r.FullName, &r.ParentURL, &r.CreatedAt,
		&r.CompletelyScanned, &r.Broken, &r.TooBig, &r.Fork, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Create inserts a new repository. A duplicate clone URL is reported as a unique violation.
func (r *RepositoryRepository) Create(ctx context.Context, repo *models.Repository) error {
	query := `INSERT INTO repositories (` + repositoryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, repo.CloneURL, repo.Name, repo.FullName, repo.ParentURL, repo.CreatedAt,
		repo.CompletelyScanned, repo.Broken, repo.TooBig, repo.Fork, repo.UpdatedAt)
	return err
}

// GetByCloneURL retrieves a repository by its clone URL
func (r *RepositoryRepository) GetByCloneURL(ctx context.Context, cloneURL string) (*models.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE clone_url = ?`
	repo, err := scanRepository(r.db.QueryRowContext(ctx, query, cloneURL))
	if err != nil {
		return nil, notFound(err)
	}
	return repo, nil
}

// GetByFullName retrieves a repository by its owner/name
func (r *RepositoryRepository) GetByFullName(ctx context.Context, fullName string) (*models.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE full_name = ? LIMIT 1`
	repo, err := scanRepository(r.db.QueryRowContext(ctx, query, fullName))
	if err != nil {
		return nil, notFound(err)
	}
	return repo, nil
}

// Update stores the mutable attributes. completely_scanned never goes back to false.
func (r *RepositoryRepository) Update(ctx context.Context, repo *models.Repository) error {
	query := `UPDATE repositories SET name = ?, full_name = ?, created_at = COALESCE(created_at, ?),
		completely_scanned = (completely_scanned OR ?), broken = ?, too_big = ?, fork = ?, updated_at = COALESCE(?, updated_at)
		WHERE clone_url = ?`
	_, err := r.db.ExecContext(ctx, query, repo.Name, repo.FullName, repo.CreatedAt,
		repo.CompletelyScanned, repo.Broken, repo.TooBig, repo.Fork, repo.UpdatedAt, repo.CloneURL)
	return err
}

// SetParent links a repository to its parent. The link is only written once;
// the returned flag reports whether this call set it.
func (r *RepositoryRepository) SetParent(ctx context.Context, cloneURL, parentURL string) (bool, error) {
	query := `UPDATE repositories SET parent_url = ? WHERE clone_url = ? AND parent_url IS NULL AND clone_url != ?`
	res, err := r.db.ExecContext(ctx, query, parentURL, cloneURL, parentURL)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *RepositoryRepository) MarkBroken(ctx context.Context, cloneURL string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE repositories SET broken = 1 WHERE clone_url = ?`, cloneURL)
	return err
}

func (r *RepositoryRepository) MarkTooBig(ctx context.Context, cloneURL string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE repositories SET too_big = 1 WHERE clone_url = ?`, cloneURL)
	return err
}

// MarkScanned flags the repository as completely scanned at now and fills
// created_at if it is still unset.
func (r *RepositoryRepository) MarkScanned(ctx context.Context, cloneURL string, createdAt *time.Time, now time.Time) error {
	query := `UPDATE repositories SET completely_scanned = 1, updated_at = ?, created_at = COALESCE(created_at, ?) WHERE clone_url = ?`
	_, err := r.db.ExecContext(ctx, query, now, createdAt, cloneURL)
	return err
}

// ResetFlags clears too_big and broken so the repository gets scheduled again
func (r *RepositoryRepository) ResetFlags(ctx context.Context, fullName string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE repositories SET too_big = 0, broken = 0 WHERE full_name = ?`, fullName)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListScanCandidates returns every repository that is not a fork, broken or too big
func (r *RepositoryRepository) ListScanCandidates(ctx context.Context) ([]*models.Repository, error) {
	query := `SELECT ` + repositoryColumns + ` FROM repositories WHERE fork = 0 AND broken = 0 AND too_big = 0 ORDER BY clone_url`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []*models.Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

func (r *RepositoryRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM repositories`).Scan(&count)
	return count, err
}
