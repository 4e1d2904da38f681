package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// IsUniqueViolation reports whether err carries a Postgres unique_violation,
// optionally restricted to one constraint name.
func IsUniqueViolation(err error, constraint ...string) bool {
	return hasCode(err, pgUniqueViolation, constraint)
}

func IsForeignKeyViolation(err error, constraint ...string) bool {
	return hasCode(err, pgForeignKeyViolation, constraint)
}

func hasCode(err error, code string, constraint []string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != code {
		return false
	}
	if len(constraint) == 0 {
		return true
	}
	for _, c := range constraint {
		if pgErr.ConstraintName == c {
			return true
		}
	}
	return false
}
