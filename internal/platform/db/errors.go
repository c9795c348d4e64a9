package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bedalloc/bedalloc/internal/platform/apperr"
)

// WrapErr annotates a Postgres failure with op. Errors reported by the server
// itself (constraint violations, syntax errors) are definitive and wrapped as
// is; anything else (refused connections, timeouts, pool exhaustion) leaves the
// outcome unknown and is marked apperr.ErrStoreUnavailable.
func WrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, apperr.ErrStoreUnavailable, err)
}
