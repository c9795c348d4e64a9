package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/bedalloc/bedalloc/internal/platform/apperr"
)

func TestWrapErr_Nil(t *testing.T) {
	if WrapErr("op", nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestWrapErr_ConnectionFailureIsUnavailable(t *testing.T) {
	err := WrapErr("commit admission", context.DeadlineExceeded)
	if !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected the cause to stay in the chain")
	}
}

func TestWrapErr_ServerErrorIsDefinitive(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23514", Message: "violates check constraint"}
	err := WrapErr("set capacity", fmt.Errorf("exec: %w", pgErr))
	if errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Error("server-reported errors must not be marked unavailable")
	}
	var got *pgconn.PgError
	if !errors.As(err, &got) || got.Code != "23514" {
		t.Errorf("expected PgError in chain, got %v", err)
	}
}
