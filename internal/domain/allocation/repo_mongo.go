package allocation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bedalloc/bedalloc/internal/platform/apperr"
	"github.com/bedalloc/bedalloc/internal/platform/mongostore"
)

// bookingDoc stores the booking id as the string _id.
type bookingDoc struct {
	ID          string    `bson:"_id"`
	PatientName string    `bson:"patient_name"`
	Phone       string    `bson:"phone"`
	Symptoms    string    `bson:"symptoms"`
	Facility    string    `bson:"facility"`
	Status      string    `bson:"status"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func toDoc(b *Booking) bookingDoc {
	return bookingDoc{
		ID:          b.ID.String(),
		PatientName: b.PatientName,
		Phone:       b.Phone,
		Symptoms:    b.Symptoms,
		Facility:    b.Facility,
		Status:      string(b.Status),
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func (d bookingDoc) toModel() (*Booking, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, fmt.Errorf("booking %q has a malformed id: %w", d.ID, err)
	}
	return &Booking{
		ID:          id,
		PatientName: d.PatientName,
		Phone:       d.Phone,
		Symptoms:    d.Symptoms,
		Facility:    d.Facility,
		Status:      Status(d.Status),
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}, nil
}

type repoMongo struct {
	coll *mongo.Collection
}

func NewRepoMongo(db *mongo.Database) Repository {
	return &repoMongo{coll: db.Collection(mongostore.BookingsCollection)}
}

func (r *repoMongo) Create(ctx context.Context, b *Booking) error {
	_, err := r.coll.InsertOne(ctx, toDoc(b))
	return mongostore.WrapErr("create booking", err)
}

func (r *repoMongo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id.String()})
	if err != nil {
		return mongostore.WrapErr("delete booking", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", apperr.ErrBookingNotFound, id)
	}
	return nil
}

func (r *repoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Booking, error) {
	var d bookingDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrBookingNotFound, id)
	}
	if err != nil {
		return nil, mongostore.WrapErr("get booking", err)
	}
	return d.toModel()
}

func (r *repoMongo) Transition(ctx context.Context, id uuid.UUID, to Status, at time.Time, from ...Status) (bool, error) {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id.String(), "status": bson.M{"$in": allowed}},
		bson.M{"$set": bson.M{"status": string(to), "updated_at": at}})
	if err != nil {
		return false, mongostore.WrapErr("transition booking", err)
	}
	return res.MatchedCount == 1, nil
}

func (r *repoMongo) ListRecent(ctx context.Context, facility string, limit int) ([]*Booking, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	return r.find(ctx, bson.M{"facility": facility}, opts)
}

func (r *repoMongo) ListPending(ctx context.Context, cutoff time.Time, limit int) ([]*Booking, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(limit))
	return r.find(ctx, bson.M{"status": string(StatusPending), "created_at": bson.M{"$lt": cutoff}}, opts)
}

func (r *repoMongo) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*Booking, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, mongostore.WrapErr("list bookings", err)
	}
	var docs []bookingDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mongostore.WrapErr("decode bookings", err)
	}
	items := make([]*Booking, 0, len(docs))
	for _, d := range docs {
		b, err := d.toModel()
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, nil
}
