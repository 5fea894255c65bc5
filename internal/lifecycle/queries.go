package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/example/carpool-matching/internal/models"
)

// PendingRequest is a join request or invitation still waiting on the driver.
type PendingRequest struct {
	RideID    string           `json:"ride_id"`
	Departure time.Time        `json:"departure_time"`
	Passenger models.Passenger `json:"passenger"`
}

// Offered lists every offer published by driverID, in any status.
func (s *Service) Offered(ctx context.Context, driverID string) ([]models.RideOffer, error) {
	rides, err := s.store.RidesByDriver(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("list offered rides: %w", err)
	}
	return rides, nil
}

// Joined lists the offers on which riderID holds a confirmed seat.
func (s *Service) Joined(ctx context.Context, riderID string) ([]models.RideOffer, error) {
	rides, err := s.store.RidesByPassenger(ctx, riderID)
	if err != nil {
		return nil, fmt.Errorf("list joined rides: %w", err)
	}
	out := make([]models.RideOffer, 0, len(rides))
	for _, r := range rides {
		if i := passengerIndex(&r, riderID); i >= 0 && r.Passengers[i].Status == models.PassengerConfirmed {
			out = append(out, r)
		}
	}
	return out, nil
}

// PendingRequests lists the pending passengers across driverID's offers.
func (s *Service) PendingRequests(ctx context.Context, driverID string) ([]PendingRequest, error) {
	rides, err := s.store.RidesByDriver(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	out := make([]PendingRequest, 0)
	for _, r := range rides {
		for _, p := range r.Passengers {
			if p.Status == models.PassengerPending {
				out = append(out, PendingRequest{RideID: r.ID, Departure: r.Departure, Passenger: p})
			}
		}
	}
	return out, nil
}
