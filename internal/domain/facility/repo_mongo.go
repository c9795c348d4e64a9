package facility

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/bedalloc/bedalloc/internal/platform/apperr"
	"github.com/bedalloc/bedalloc/internal/platform/mongostore"
)

type locationDoc struct {
	Lat float64 `bson:"lat"`
	Lon float64 `bson:"lon"`
}

type rosterDoc struct {
	BookingID  string    `bson:"booking_id"`
	Name       string    `bson:"name"`
	Phone      string    `bson:"phone"`
	Symptoms   string    `bson:"symptoms"`
	AdmittedAt time.Time `bson:"admitted_at"`
}

type facilityDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Name      string             `bson:"name"`
	Location  locationDoc        `bson:"location"`
	Total     int                `bson:"total"`
	Available int                `bson:"available"`
	Occupied  int                `bson:"occupied"`
	Roster    []rosterDoc        `bson:"roster"`
	CreatedAt time.Time          `bson:"created_at"`
	UpdatedAt time.Time          `bson:"updated_at"`
}

func toRosterDoc(e RosterEntry) rosterDoc {
	return rosterDoc{
		BookingID:  e.BookingID.String(),
		Name:       e.Name,
		Phone:      e.Phone,
		Symptoms:   e.Symptoms,
		AdmittedAt: e.AdmittedAt,
	}
}

func (d *facilityDoc) toModel() *Facility {
	f := &Facility{
		ID:        d.ID.Hex(),
		Name:      d.Name,
		Location:  Location{Latitude: d.Location.Lat, Longitude: d.Location.Lon},
		Total:     d.Total,
		Available: d.Available,
		Occupied:  d.Occupied,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, e := range d.Roster {
		// Entries without an id decode as uuid.Nil until
		// mongostore.BackfillRosterBookingIDs has run.
		id, _ := uuid.Parse(e.BookingID)
		f.Roster = append(f.Roster, RosterEntry{
			BookingID:  id,
			Name:       e.Name,
			Phone:      e.Phone,
			Symptoms:   e.Symptoms,
			AdmittedAt: e.AdmittedAt,
		})
	}
	return f
}

// registryMongo keeps one document per facility with the roster embedded.
// Every guarded write is a single UpdateOne whose filter carries the guard.
type registryMongo struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewRegistryMongo(db *mongo.Database) Registry {
	return &registryMongo{coll: db.Collection(mongostore.FacilitiesCollection), now: time.Now}
}

func (r *registryMongo) GetByName(ctx context.Context, name string) (*Facility, error) {
	var d facilityDoc
	err := r.coll.FindOne(ctx, bson.M{"name": name}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: %q", apperr.ErrFacilityNotFound, name)
	}
	if err != nil {
		return nil, mongostore.WrapErr("get facility", err)
	}
	return d.toModel(), nil
}

func (r *registryMongo) List(ctx context.Context) ([]*Facility, error) {
	return r.find(ctx, bson.M{})
}

func (r *registryMongo) ListAvailable(ctx context.Context) ([]*Facility, error) {
	return r.find(ctx, bson.M{"available": bson.M{"$gt": 0}})
}

func (r *registryMongo) find(ctx context.Context, filter bson.M) ([]*Facility, error) {
	cur, err := r.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, mongostore.WrapErr("list facilities", err)
	}
	var docs []facilityDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mongostore.WrapErr("decode facilities", err)
	}
	items := make([]*Facility, 0, len(docs))
	for i := range docs {
		items = append(items, docs[i].toModel())
	}
	return items, nil
}

func (r *registryMongo) CommitAdmission(ctx context.Context, name string, entry RosterEntry) (bool, error) {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"name": name, "available": bson.M{"$gt": 0}},
		bson.M{
			"$inc":  bson.M{"available": -1, "occupied": 1},
			"$push": bson.M{"roster": toRosterDoc(entry)},
			"$set":  bson.M{"updated_at": r.now()},
		})
	if err != nil {
		return false, mongostore.WrapErr("commit admission", err)
	}
	return res.MatchedCount == 1 && res.ModifiedCount == 1, nil
}

func (r *registryMongo) CommitDischarge(ctx context.Context, name string, bookingID uuid.UUID) (bool, error) {
	if bookingID == uuid.Nil {
		return false, nil
	}
	id := bookingID.String()
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"name": name, "occupied": bson.M{"$gt": 0}, "roster.booking_id": id},
		bson.M{
			"$inc":  bson.M{"available": 1, "occupied": -1},
			"$pull": bson.M{"roster": bson.M{"booking_id": id}},
			"$set":  bson.M{"updated_at": r.now()},
		})
	if err != nil {
		return false, mongostore.WrapErr("commit discharge", err)
	}
	return res.MatchedCount == 1 && res.ModifiedCount == 1, nil
}

func (r *registryMongo) SetCapacity(ctx context.Context, name string, total, available, occupied int) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"name": name},
		bson.M{"$set": bson.M{
			"total":      total,
			"available":  available,
			"occupied":   occupied,
			"updated_at": r.now(),
		}})
	if err != nil {
		return mongostore.WrapErr("set capacity", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %q", apperr.ErrFacilityNotFound, name)
	}
	return nil
}

func (r *registryMongo) Provision(ctx context.Context, f *Facility) (bool, error) {
	now := r.now()
	roster := make([]rosterDoc, 0, len(f.Roster))
	for _, e := range f.Roster {
		roster = append(roster, toRosterDoc(e))
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"name": f.Name},
		bson.M{"$setOnInsert": facilityDoc{
			Name:      f.Name,
			Location:  locationDoc{Lat: f.Location.Latitude, Lon: f.Location.Longitude},
			Total:     f.Total,
			Available: f.Available,
			Occupied:  f.Occupied,
			Roster:    roster,
			CreatedAt: now,
			UpdatedAt: now,
		}},
		options.Update().SetUpsert(true))
	if err != nil {
		return false, mongostore.WrapErr("provision facility", err)
	}
	if res.UpsertedCount == 0 {
		return false, nil
	}
	if oid, ok := res.UpsertedID.(primitive.ObjectID); ok {
		f.ID = oid.Hex()
	}
	f.CreatedAt, f.UpdatedAt = now, now
	return true, nil
}
