package repositories

import (
	"context"
	"database/sql"

	"github.com/alimgiray/gitalizer/internal/models"
)

type ContributorRepository struct {
	db *sql.DB
}

func NewContributorRepository(db *sql.DB) *ContributorRepository {
	return &ContributorRepository{db: db}
}

func scanContributor(row rowScanner) (*models.Contributor, error) {
	c := &models.Contributor{}
	if err := row.Scan(&c.Login, &c.Location, &c.TooBig, &c.LastFullScan); err != nil {
		return nil, err
	}
	return c, nil
}

// Create inserts a new contributor. A duplicate login is reported as a unique violation.
func (r *ContributorRepository) Create(ctx context.Context, c *models.Contributor) error {
	query := `INSERT INTO contributors (login, location, too_big, last_full_scan) VALUES (?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, c.Login, c.Location, c.TooBig, c.LastFullScan)
	return err
}

// GetByLogin retrieves a contributor by login
func (r *ContributorRepository) GetByLogin(ctx context.Context, login string) (*models.Contributor, error) {
	query := `SELECT login, location, too_big, last_full_scan FROM contributors WHERE login = ?`
	c, err := scanContributor(r.db.QueryRowContext(ctx, query, login))
	if err != nil {
		return nil, notFound(err)
	}
	return c, nil
}

// Update stores location, too_big and last_full_scan
func (r *ContributorRepository) Update(ctx context.Context, c *models.Contributor) error {
	query := `UPDATE contributors SET location = ?, too_big = ?, last_full_scan = ? WHERE login = ?`
	_, err := r.db.ExecContext(ctx, query, c.Location, c.TooBig, c.LastFullScan, c.Login)
	return err
}

// ListAll returns every known contributor ordered by login
func (r *ContributorRepository) ListAll(ctx context.Context) ([]*models.Contributor, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT login, location, too_big, last_full_scan FROM contributors ORDER BY login`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contributors []*models.Contributor
	for rows.Next() {
		c, err := scanContributor(rows)
		if err != nil {
			return nil, err
		}
		contributors = append(contributors, c)
	}
	return contributors, rows.Err()
}

// AddRepository records that a contributor committed to a repository
func (r *ContributorRepository) AddRepository(ctx context.Context, login, cloneURL string) error {
	query := `INSERT OR IGNORE INTO contributor_repositories (contributor_login, repository_clone_url) VALUES (?, ?)`
	_, err := r.db.ExecContext(ctx, query, login, cloneURL)
	return err
}

// AddOrganization records an organization membership
func (r *ContributorRepository) AddOrganization(ctx context.Context, login, organization string) error {
	query := `INSERT OR IGNORE INTO contributor_organizations (contributor_login, organization_login) VALUES (?, ?)`
	_, err := r.db.ExecContext(ctx, query, login, organization)
	return err
}

// ListRepositoryURLs returns the clone URLs a contributor is associated with
func (r *ContributorRepository) ListRepositoryURLs(ctx context.Context, login string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT repository_clone_url FROM contributor_repositories WHERE contributor_login = ? ORDER BY repository_clone_url`, login)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, rows.Err()
}

func (r *ContributorRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contributors`).Scan(&count)
	return count, err
}
