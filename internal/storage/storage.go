package storage

import (
	"context"
	"errors"

	"github.com/example/carpool-matching/internal/models"
)

var ErrNotFound = errors.New("not found")

// PoolQuery narrows a snapshot. The zero value asks for every open offer.
type PoolQuery struct {
	Near     *models.Coord
	RadiusKm float64
}

func (q PoolQuery) radius() bool { return q.Near != nil && q.RadiusKm > 0 }

// RidePool hands out point-in-time snapshots of the offers that may still be
// matched. Implementations may return offers the matcher will reject.
type RidePool interface {
	Snapshot(ctx context.Context, q PoolQuery) ([]models.RideOffer, error)
}

// ProfileStore resolves rider profiles and the member directory.
type ProfileStore interface {
	Profile(ctx context.Context, riderID string) (models.RiderProfile, error)
	Members(ctx context.Context, workplace string) ([]models.Member, error)
}

// RideStore persists ride offers. UpdateRide loads the offer, applies fn and
// stores the result as one atomic step; concurrent updates of the same offer
// are serialized. If fn returns an error nothing is written.
//
// RecordDriverRating folds one 1..5 rating into the driver's running average
// and returns the new average. Offers read afterwards carry it as DriverRating.
type RideStore interface {
	Ride(ctx context.Context, id string) (models.RideOffer, error)
	SaveRide(ctx context.Context, r models.RideOffer) error
	UpdateRide(ctx context.Context, id string, fn func(*models.RideOffer) error) (models.RideOffer, error)
	RidesByDriver(ctx context.Context, driverID string) ([]models.RideOffer, error)
	RidesByPassenger(ctx context.Context, riderID string) ([]models.RideOffer, error)
	RecordDriverRating(ctx context.Context, driverID string, rating int) (float64, error)
}
