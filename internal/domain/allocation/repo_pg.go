package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bedalloc/bedalloc/internal/platform/apperr"
	"github.com/bedalloc/bedalloc/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn() queryable { return r.pool }

const bookingCols = `id, patient_name, phone, symptoms, facility, status, created_at, updated_at`

func (r *repoPG) scanBooking(row pgx.Row) (*Booking, error) {
	var b Booking
	err := row.Scan(&b.ID, &b.PatientName, &b.Phone, &b.Symptoms, &b.Facility, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	return &b, err
}

func (r *repoPG) Create(ctx context.Context, b *Booking) error {
	_, err := r.conn().Exec(ctx, `
		INSERT INTO booking (`+bookingCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.PatientName, b.Phone, b.Symptoms, b.Facility, string(b.Status), b.CreatedAt, b.UpdatedAt)
	return db.WrapErr("create booking", err)
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn().Exec(ctx, `DELETE FROM booking WHERE id = $1`, id)
	if err != nil {
		return db.WrapErr("delete booking", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", apperr.ErrBookingNotFound, id)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	b, err := r.scanBooking(r.conn().QueryRow(ctx, `SELECT `+bookingCols+` FROM booking WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrBookingNotFound, id)
	}
	if err != nil {
		return nil, db.WrapErr("get booking", err)
	}
	return b, nil
}

func (r *repoPG) Transition(ctx context.Context, id uuid.UUID, to Status, at time.Time, from ...Status) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	tag, err := r.conn().Exec(ctx, `
		UPDATE booking SET status = $2, updated_at = $3
		WHERE id = $1 AND status = ANY($4::text[])`,
		id, string(to), at, allowed)
	if err != nil {
		return false, db.WrapErr("transition booking", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) ListRecent(ctx context.Context, facility string, limit int) ([]*Booking, error) {
	return r.list(ctx, `
		SELECT `+bookingCols+` FROM booking
		WHERE facility = $1
		ORDER BY created_at DESC, id
		LIMIT $2`, facility, limit)
}

func (r *repoPG) ListPending(ctx context.Context, cutoff time.Time, limit int) ([]*Booking, error) {
	return r.list(ctx, `
		SELECT `+bookingCols+` FROM booking
		WHERE status = 'Pending' AND created_at < $1
		ORDER BY created_at, id
		LIMIT $2`, cutoff, limit)
}

func (r *repoPG) list(ctx context.Context, sql string, args ...interface{}) ([]*Booking, error) {
	rows, err := r.conn().Query(ctx, sql, args...)
	if err != nil {
		return nil, db.WrapErr("list bookings", err)
	}
	defer rows.Close()
	var items []*Booking
	for rows.Next() {
		b, err := r.scanBooking(rows)
		if err != nil {
			return nil, db.WrapErr("scan booking", err)
		}
		items = append(items, b)
	}
	if err := rows.Err(); err != nil {
		return nil, db.WrapErr("iterate bookings", err)
	}
	return items, nil
}
