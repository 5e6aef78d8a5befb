// Package sqlerr classifies driver errors surfaced through gorm.
package sqlerr

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	postgresUniqueViolation  = "23505"
	postgresNotNullViolation = "23502"
	sqliteUniqueViolation    = "unique constraint failed"
	sqliteNotNullViolation   = "not null constraint failed"
)

// IsUniqueViolation reports whether err was raised by a unique or primary key constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == postgresUniqueViolation
	}
	return strings.Contains(strings.ToLower(err.Error()), sqliteUniqueViolation)
}

// IsNotNullViolation reports whether err was raised by a NOT NULL constraint.
func IsNotNullViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == postgresNotNullViolation
	}
	return strings.Contains(strings.ToLower(err.Error()), sqliteNotNullViolation)
}
