package repositories

import (
	"context"
	"database/sql"

	"github.com/alimgiray/gitalizer/internal/models"
)

type OrganizationRepository struct {
	db *sql.DB
}

func NewOrganizationRepository(db *sql.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

func (r *OrganizationRepository) Create(ctx context.Context, o *models.Organization) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO organizations (login, url) VALUES (?, ?)`, o.Login, o.URL)
	return err
}

func (r *OrganizationRepository) GetByLogin(ctx context.Context, login string) (*models.Organization, error) {
	o := &models.Organization{}
	err := r.db.QueryRowContext(ctx, `SELECT login, url FROM organizations WHERE login = ?`, login).Scan(&o.Login, &o.URL)
	if err != nil {
		return nil, notFound(err)
	}
	return o, nil
}

// ListMemberLogins returns the logins of all known members of an organization
func (r *OrganizationRepository) ListMemberLogins(ctx context.Context, login string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT contributor_login FROM contributor_organizations WHERE organization_login = ? ORDER BY contributor_login`, login)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, err
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

func (r *OrganizationRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM organizations`).Scan(&count)
	return count, err
}
