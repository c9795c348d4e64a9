package facility

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

// registryPG stores one facility per row. The roster lives in a JSONB column
// so that roster and counters change together in a single UPDATE statement.
type registryPG struct{ pool *pgxpool.Pool }

func NewRegistryPG(pool *pgxpool.Pool) Registry { return &registryPG{pool: pool} }

func (r *registryPG) conn() queryable { return r.pool }

const facilityCols = `id::text, name, latitude, longitude, total, available, occupied, roster, created_at, updated_at`

func (r *registryPG) scanFacility(row pgx.Row) (*Facility, error) {
	var f Facility
	err := row.Scan(&f.ID, &f.Name, &f.Location.Latitude, &f.Location.Longitude,
		&f.Total, &f.Available, &f.Occupied, &f.Roster, &f.CreatedAt, &f.UpdatedAt)
	return &f, err
}

func (r *registryPG) GetByName(ctx context.Context, name string) (*Facility, error) {
	f, err := r.scanFacility(r.conn().QueryRow(ctx, `SELECT `+facilityCols+` FROM facility WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", apperr.ErrFacilityNotFound, name)
	}
	if err != nil {
		return nil, db.WrapErr("get facility", err)
	}
	return f, nil
}

func (r *registryPG) List(ctx context.Context) ([]*Facility, error) {
	return r.query(ctx, `SELECT `+facilityCols+` FROM facility ORDER BY name`)
}

func (r *registryPG) ListAvailable(ctx context.Context) ([]*Facility, error) {
	return r.query(ctx, `SELECT `+facilityCols+` FROM facility WHERE available > 0 ORDER BY name`)
}

func (r *registryPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Facility, error) {
	rows, err := r.conn().Query(ctx, sql, args...)
	if err != nil {
		return nil, db.WrapErr("list facilities", err)
	}
	defer rows.Close()
	var items []*Facility
	for rows.Next() {
		f, err := r.scanFacility(rows)
		if err != nil {
			return nil, db.WrapErr("scan facility", err)
		}
		items = append(items, f)
	}
	if err := rows.Err(); err != nil {
		return nil, db.WrapErr("iterate facilities", err)
	}
	return items, nil
}

func (r *registryPG) CommitAdmission(ctx context.Context, name string, entry RosterEntry) (bool, error) {
	appended, err := json.Marshal([]RosterEntry{entry})
	if err != nil {
		return false, fmt.Errorf("encode roster entry: %w", err)
	}
	tag, err := r.conn().Exec(ctx, `
		UPDATE facility SET available = available - 1, occupied = occupied + 1,
			roster = roster || $2::jsonb, updated_at = NOW()
		WHERE name = $1 AND available > 0`,
		name, string(appended))
	if err != nil {
		return false, db.WrapErr("commit admission", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *registryPG) CommitDischarge(ctx context.Context, name string, bookingID uuid.UUID) (bool, error) {
	if bookingID == uuid.Nil {
		return false, nil
	}
	tag, err := r.conn().Exec(ctx, `
		UPDATE facility SET available = available + 1, occupied = occupied - 1,
			roster = COALESCE((
				SELECT jsonb_agg(t.e ORDER BY t.ord)
				FROM jsonb_array_elements(facility.roster) WITH ORDINALITY AS t(e, ord)
				WHERE t.e->>'booking_id' <> $2::text), '[]'::jsonb),
			updated_at = NOW()
		WHERE name = $1 AND occupied > 0
			AND roster @> jsonb_build_array(jsonb_build_object('booking_id', $2::text))`,
		name, bookingID.String())
	if err != nil {
		return false, db.WrapErr("commit discharge", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *registryPG) SetCapacity(ctx context.Context, name string, total, available, occupied int) error {
	tag, err := r.conn().Exec(ctx, `
		UPDATE facility SET total = $2, available = $3, occupied = $4, updated_at = NOW()
		WHERE name = $1`,
		name, total, available, occupied)
	if err != nil {
		return db.WrapErr("set capacity", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", apperr.ErrFacilityNotFound, name)
	}
	return nil
}

func (r *registryPG) Provision(ctx context.Context, f *Facility) (bool, error) {
	roster := f.Roster
	if roster == nil {
		roster = []RosterEntry{}
	}
	err := r.conn().QueryRow(ctx, `
		INSERT INTO facility (name, latitude, longitude, total, available, occupied, roster)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO NOTHING
		RETURNING id::text, created_at, updated_at`,
		f.Name, f.Location.Latitude, f.Location.Longitude, f.Total, f.Available, f.Occupied, roster,
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, db.WrapErr("provision facility", err)
	}
	return true, nil
}
