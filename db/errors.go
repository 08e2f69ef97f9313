package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write matched no rows or hit a unique index.
	ErrConflict = errors.New("conflicting update")
)

func IgnoreErrNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// ExpectAffected turns a write that touched no rows into ErrConflict.
func ExpectAffected(n int64) error {
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// MapUniqueViolation turns a unique index violation into ErrConflict and passes other errors through.
func MapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, ErrConflict)
	}
	return err
}
