package repositories

import (
	"context"
	"database/sql"

	"github.com/alimgiray/gitalizer/internal/models"
)

type EmailRepository struct {
	db *sql.DB
}

func NewEmailRepository(db *sql.DB) *EmailRepository {
	return &EmailRepository{db: db}
}

// Create inserts a new email. A duplicate address is reported as a unique violation.
func (r *EmailRepository) Create(ctx context.Context, e *models.Email) error {
	query := `INSERT INTO emails (address, contributor_login, unknown) VALUES (?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, e.Address, e.ContributorLogin, e.Unknown)
	return err
}

// GetByAddress retrieves an email by its address
func (r *EmailRepository) GetByAddress(ctx context.Context, address string) (*models.Email, error) {
	query := `SELECT address, contributor_login, unknown FROM emails WHERE address = ?`
	e := &models.Email{}
	err := r.db.QueryRowContext(ctx, query, address).Scan(&e.Address, &e.ContributorLogin, &e.Unknown)
	if err != nil {
		return nil, notFound(err)
	}
	return e, nil
}

// GetByAddresses retrieves all existing emails for a set of addresses, keyed by address
func (r *EmailRepository) GetByAddresses(ctx context.Context, addresses []string) (map[string]*models.Email, error) {
	emails := make(map[string]*models.Email, len(addresses))
	for _, chunk := range chunks(addresses, maxVariables) {
		query := `SELECT address, contributor_login, unknown FROM emails WHERE address IN (` + placeholders(len(chunk)) + `)`
		rows, err := r.db.QueryContext(ctx, query, toArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			e := &models.Email{}
			if err := rows.Scan(&e.Address, &e.ContributorLogin, &e.Unknown); err != nil {
				rows.Close()
				return nil, err
			}
			emails[e.Address] = e
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return emails, nil
}

// LinkContributor attaches an email to a contributor login
func (r *EmailRepository) LinkContributor(ctx context.Context, address, login string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE emails SET contributor_login = ? WHERE address = ?`, login, address)
	return err
}

// MarkUnknown flags an unlinked email so it is never looked up again
func (r *EmailRepository) MarkUnknown(ctx context.Context, address string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE emails SET unknown = 1 WHERE address = ? AND contributor_login IS NULL`, address)
	return err
}

func (r *EmailRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM emails`).Scan(&count)
	return count, err
}
