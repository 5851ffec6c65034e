package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/99minutos/reservation-system/internal/core/domain"
	"github.com/99minutos/reservation-system/internal/core/ports"
)

const collectionReservations = "reservations"

var reservationIndexes = []mongo.IndexModel{
	{Keys: bson.D{{Key: "provider_id", Value: 1}, {Key: "status", Value: 1}, {Key: "start", Value: 1}}},
	{Keys: bson.D{{Key: "client_id", Value: 1}, {Key: "start", Value: 1}}},
	{Keys: bson.D{{Key: "status", Value: 1}}},
}

var byStartThenID = bson.D{{Key: "start", Value: 1}, {Key: "_id", Value: 1}}

type ReservationRepository struct {
	col *mongo.Collection
}

var _ ports.ReservationRepository = (*ReservationRepository)(nil)

func NewReservationRepository(db *mongo.Database) *ReservationRepository {
	return &ReservationRepository{col: db.Collection(collectionReservations)}
}

// Create inserts a new reservation document.
func (r *ReservationRepository) Create(ctx context.Context, res *domain.Reservation) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if _, err := r.col.InsertOne(ctx, res); err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (r *ReservationRepository) FindByID(ctx context.Context, id string) (*domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var res domain.Reservation
	err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&res)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrReservationNotFound
		}
		return nil, fmt.Errorf("find reservation: %w", err)
	}
	return &res, nil
}

// Update replaces the whole document.
func (r *ReservationRepository) Update(ctx context.Context, res *domain.Reservation) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	out, err := r.col.ReplaceOne(ctx, bson.M{"_id": res.ID}, res)
	if err != nil {
		return fmt.Errorf("replace reservation: %w", err)
	}
	if out.MatchedCount == 0 {
		return domain.ErrReservationNotFound
	}
	return nil
}

func (r *ReservationRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	out, err := r.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}
	if out.DeletedCount == 0 {
		return domain.ErrReservationNotFound
	}
	return nil
}

func (r *ReservationRepository) List(ctx context.Context, f ports.ListReservationsFilter) ([]domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	return r.find(ctx, listFilter(f))
}

func (r *ReservationRepository) FindActiveByProvider(ctx context.Context, providerID string, window domain.Interval) ([]domain.Reservation, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	return r.find(ctx, activeFilter(providerID, window))
}

// activeFilter uses start < window.End AND end > window.Start, the half-open
// overlap test expressed on the stored bounds.
func activeFilter(providerID string, window domain.Interval) bson.M {
	return bson.M{
		"provider_id": providerID,
		"status":      bson.M{"$in": domain.ActiveStatuses()},
		"start":       bson.M{"$lt": window.End},
		"end":         bson.M{"$gt": window.Start},
	}
}

func (r *ReservationRepository) find(ctx context.Context, filter bson.M) ([]domain.Reservation, error) {
	cur, err := r.col.Find(ctx, filter, options.Find().SetSort(byStartThenID))
	if err != nil {
		return nil, fmt.Errorf("find reservations: %w", err)
	}
	defer cur.Close(ctx)

	out := []domain.Reservation{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode reservations: %w", err)
	}
	return out, nil
}

func listFilter(f ports.ListReservationsFilter) bson.M {
	filter := bson.M{}
	if !f.Scope.All {
		var or bson.A
		if f.Scope.ClientID != "" {
			or = append(or, bson.M{"client_id": f.Scope.ClientID})
		}
		if f.Scope.ProviderID != "" {
			or = append(or, bson.M{"provider_id": f.Scope.ProviderID})
		}
		if len(or) == 0 {
			// An empty scope matches nothing.
			or = append(or, bson.M{"_id": bson.M{"$exists": false}})
		}
		filter["$or"] = or
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	return filter
}
