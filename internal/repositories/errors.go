package repositories

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup by key matches no row
var ErrNotFound = errors.New("record not found")

// maxVariables bounds the number of placeholders per bulk query
const maxVariables = 500

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// IsUniqueViolation reports whether err is a primary key or unique constraint failure
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// IsBusy reports whether err is a lock contention error worth retrying
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

func chunks(keys []string, size int) [][]string {
	var out [][]string
	for start := 0; start < len(keys); start += size {
		end := start + size
		if end > len(keys) {
			end = len(keys)
		}
		out = append(out, keys[start:end])
	}
	return out
}

func toArgs(keys []string) []interface{} {
	args := make([]interface{}, len(keys))
	for i, key := range keys {
		args[i] = key
	}
	return args
}
