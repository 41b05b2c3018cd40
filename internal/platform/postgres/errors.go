package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/gradeflow/internal/store"
)

// ErrSchemaMissing is returned when a query hits a table that does not
// exist, which means the migrations were never applied.
var ErrSchemaMissing = errors.New("database schema missing, run the server with -migrate up")

// PostgreSQL error codes the stores react to.
const (
	uniqueViolationCode     = "23505"
	foreignKeyViolationCode = "23503"
	checkViolationCode      = "23514"
	notNullViolationCode    = "23502"
	undefinedTableCode      = "42P01"
)

// chainVersionConstraint guards one version number per document chain.
const chainVersionConstraint = "documents_chain_version_key"

// MapError translates a database error into the store sentinels, keeping the
// original error in the chain.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case uniqueViolationCode:
		if pgErr.ConstraintName == chainVersionConstraint {
			return fmt.Errorf("%w: document version already taken: %w", store.ErrDuplicate, err)
		}
		return fmt.Errorf("%w: %w", store.ErrDuplicate, err)
	case foreignKeyViolationCode:
		return fmt.Errorf("%w: unknown reference (%s): %w", store.ErrInvalidEntity, pgErr.ConstraintName, err)
	case checkViolationCode:
		return fmt.Errorf("%w: check %s failed: %w", store.ErrInvalidEntity, pgErr.ConstraintName, err)
	case notNullViolationCode:
		return fmt.Errorf("%w: column %s is required: %w", store.ErrInvalidEntity, pgErr.ColumnName, err)
	case undefinedTableCode:
		return fmt.Errorf("%w: %w", ErrSchemaMissing, err)
	}
	return err
}
