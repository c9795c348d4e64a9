// Package mongostore connects to MongoDB and owns the collection layout used
// by the Mongo-backed facility registry and booking repository.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/bedalloc/bedalloc/internal/platform/apperr"
)

const (
	FacilitiesCollection = "facilities"
	BookingsCollection   = "bookings"
)

// Store wraps a connected client and the application database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect dials uri and verifies the primary is reachable.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(5 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetRetryWrites(true)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

func (s *Store) Database() *mongo.Database { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// EnsureIndexes creates the unique facility name index and the booking
// lookup indexes. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(FacilitiesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("facility_name_unique"),
	})
	if err != nil {
		return WrapErr("create facility index", err)
	}

	_, err = s.db.Collection(BookingsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "facility", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("booking_facility_created"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("booking_status_created"),
		},
	})
	if err != nil {
		return WrapErr("create booking indexes", err)
	}
	return nil
}

// legacyRosterEntry matches roster elements written without a usable
// booking id: missing, null, empty, or the all-zero uuid.
var legacyRosterEntry = bson.M{"roster": bson.M{"$elemMatch": bson.M{
	"booking_id": bson.M{"$in": bson.A{nil, "", uuid.Nil.String()}},
}}}

// BackfillRosterBookingIDs gives every roster entry without a booking id a
// fresh one, one positional update per entry. Discharge removes entries by
// booking id, so an entry without one could never be discharged.
func (s *Store) BackfillRosterBookingIDs(ctx context.Context) (int, error) {
	coll := s.db.Collection(FacilitiesCollection)
	fixed := 0
	for {
		res, err := coll.UpdateOne(ctx, legacyRosterEntry,
			bson.M{"$set": bson.M{"roster.$.booking_id": uuid.NewString()}})
		if err != nil {
			return fixed, WrapErr("backfill roster booking ids", err)
		}
		if res.MatchedCount == 0 {
			return fixed, nil
		}
		fixed++
	}
}

// WrapErr classifies a driver error. Errors the server answered with
// (write conflicts, validation failures) are wrapped with the operation name
// only; network, timeout and server selection failures become
// apperr.ErrStoreUnavailable.
func WrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se mongo.ServerError
	if errors.As(err, &se) && !mongo.IsNetworkError(err) && !mongo.IsTimeout(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, apperr.ErrStoreUnavailable, err)
}
