// Package lifecycle owns every mutation of a ride offer after it is published:
// passenger requests and their confirmation, status transitions and ratings.
// Seat counts are only ever changed here.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/carpool-matching/internal/ingest"
	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/observability"
	"github.com/example/carpool-matching/internal/storage"
)

var (
	ErrInvalidRating    = errors.New("rating must be between 1 and 5")
	ErrRideFull         = errors.New("ride is full")
	ErrAlreadyJoined    = errors.New("rider already requested to join this ride")
	ErrDriverCannotJoin = errors.New("driver cannot join their own ride")
	ErrInvalidState     = errors.New("operation not allowed in current ride state")
	ErrNotDriver        = errors.New("only the driver can do this")
	ErrNotPassenger     = errors.New("rider is not a confirmed passenger")
	ErrNotFound         = errors.New("ride or passenger not found")
	ErrEmptyInvite      = errors.New("invite has no invitees")
)

// Publisher forwards ride changes to the matching pool.
type Publisher interface {
	Publish(ctx context.Context, ev ingest.RideEvent) error
}

type Service struct {
	store     storage.RideStore
	profiles  storage.ProfileStore
	publisher Publisher
	logger    *slog.Logger
	locks     *keyedMutex
	now       func() time.Time
}

// NewService builds a Service. profiles resolves invitees and the driver's
// social graph. publisher may be nil when nothing downstream keeps a copy of
// the pool.
func NewService(store storage.RideStore, profiles storage.ProfileStore, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		profiles:  profiles,
		publisher: publisher,
		logger:    logger,
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

// Offer validates r and stores it as the current version of the offer.
func (s *Service) Offer(ctx context.Context, r models.RideOffer) (models.RideOffer, error) {
	if r.Status == "" {
		r.Status = models.StatusScheduled
	}
	if r.Visibility == "" {
		r.Visibility = models.VisibilityPublic
	}
	r.RecomputeSeats()
	if err := r.Validate(); err != nil {
		observability.LifecycleOps.WithLabelValues("offer", "rejected").Inc()
		return models.RideOffer{}, err
	}
	unlock := s.locks.lock(r.ID)
	defer unlock()
	if err := s.store.SaveRide(ctx, r); err != nil {
		observability.LifecycleOps.WithLabelValues("offer", "error").Inc()
		return models.RideOffer{}, fmt.Errorf("save ride %s: %w", r.ID, err)
	}
	observability.LifecycleOps.WithLabelValues("offer", "ok").Inc()
	s.publish(ctx, r)
	return r, nil
}

// Join adds riderID as a pending passenger.
func (s *Service) Join(ctx context.Context, rideID, riderID, note string) (models.RideOffer, error) {
	return s.mutate(ctx, "join", rideID, func(r *models.RideOffer) error {
		if r.Status != models.StatusScheduled {
			return ErrInvalidState
		}
		if r.AvailableSeats <= 0 {
			return ErrRideFull
		}
		if r.HasPassenger(riderID) {
			return ErrAlreadyJoined
		}
		if r.DriverID == riderID {
			return ErrDriverCannotJoin
		}
		r.Passengers = append(r.Passengers, models.Passenger{
			RiderID:  riderID,
			Status:   models.PassengerPending,
			JoinedAt: s.now().UTC(),
			Note:     note,
		})
		return nil
	})
}

// Leave drops riderID from a ride that has not started yet.
func (s *Service) Leave(ctx context.Context, rideID, riderID string) (models.RideOffer, error) {
	return s.mutate(ctx, "leave", rideID, func(r *models.RideOffer) error {
		i := passengerIndex(r, riderID)
		if i < 0 {
			return ErrNotFound
		}
		if r.Status != models.StatusScheduled {
			return ErrInvalidState
		}
		r.Passengers = append(r.Passengers[:i], r.Passengers[i+1:]...)
		r.RecomputeSeats()
		return nil
	})
}

// Confirm accepts a pending request. It never takes the ride past its seat count.
func (s *Service) Confirm(ctx context.Context, rideID, driverID, riderID string) (models.RideOffer, error) {
	return s.mutate(ctx, "confirm", rideID, func(r *models.RideOffer) error {
		i, err := pendingRequest(r, driverID, riderID)
		if err != nil {
			return err
		}
		if r.ConfirmedCount() >= r.TotalSeats {
			return ErrRideFull
		}
		r.Passengers[i].Status = models.PassengerConfirmed
		r.RecomputeSeats()
		return nil
	})
}

func (s *Service) Reject(ctx context.Context, rideID, driverID, riderID string) (models.RideOffer, error) {
	return s.mutate(ctx, "reject", rideID, func(r *models.RideOffer) error {
		i, err := pendingRequest(r, driverID, riderID)
		if err != nil {
			return err
		}
		r.Passengers[i].Status = models.PassengerRejected
		return nil
	})
}

func (s *Service) Cancel(ctx context.Context, rideID, driverID string) (models.RideOffer, error) {
	return s.transition(ctx, "cancel", rideID, driverID, models.StatusCancelled, models.StatusScheduled, models.StatusInProgress)
}

func (s *Service) Start(ctx context.Context, rideID, driverID string) (models.RideOffer, error) {
	return s.transition(ctx, "start", rideID, driverID, models.StatusInProgress, models.StatusScheduled)
}

func (s *Service) Complete(ctx context.Context, rideID, driverID string) (models.RideOffer, error) {
	return s.transition(ctx, "complete", rideID, driverID, models.StatusCompleted, models.StatusInProgress)
}

// Rate folds a 1..5 rating from a confirmed passenger into the ride's average
// and into the driver's, which later scores read as DriverRating. The driver's
// open offers are republished so the pool sees the new rating.
func (s *Service) Rate(ctx context.Context, rideID, riderID string, rating int) (models.RideOffer, error) {
	if rating < 1 || rating > 5 {
		observability.LifecycleOps.WithLabelValues("rate", "rejected").Inc()
		return models.RideOffer{}, ErrInvalidRating
	}
	unlock := s.locks.lock(rideID)
	defer unlock()

	r, err := s.apply(ctx, "rate", rideID, func(r *models.RideOffer) error {
		i := passengerIndex(r, riderID)
		if i < 0 || r.Passengers[i].Status != models.PassengerConfirmed {
			return ErrNotPassenger
		}
		if r.Status != models.StatusCompleted {
			return ErrInvalidState
		}
		total := r.AverageRating*float64(r.RatingCount) + float64(rating)
		r.RatingCount++
		r.AverageRating = total / float64(r.RatingCount)
		return nil
	})
	if err != nil {
		return models.RideOffer{}, err
	}
	avg, err := s.store.RecordDriverRating(ctx, r.DriverID, rating)
	if err != nil {
		observability.LifecycleOps.WithLabelValues("rate_driver", "error").Inc()
		s.logger.Error("driver rating update failed", "ride_id", rideID, "driver_id", r.DriverID, "err", err)
		return models.RideOffer{}, fmt.Errorf("record driver rating: %w", err)
	}
	r.DriverRating = avg
	s.publish(ctx, r)
	s.republishDriver(ctx, r.DriverID, rideID)
	return r, nil
}

// republishDriver pushes the driver's other open offers again so their
// DriverRating is current in the pool.
func (s *Service) republishDriver(ctx context.Context, driverID, skipID string) {
	if s.publisher == nil {
		return
	}
	offers, err := s.store.RidesByDriver(ctx, driverID)
	if err != nil {
		s.logger.Warn("list driver offers failed", "driver_id", driverID, "err", err)
		return
	}
	for _, o := range offers {
		if o.ID != skipID && !o.Status.Closed() {
			s.publish(ctx, o)
		}
	}
}

func (s *Service) transition(ctx context.Context, op, rideID, driverID string, to models.RideStatus, from ...models.RideStatus) (models.RideOffer, error) {
	return s.mutate(ctx, op, rideID, func(r *models.RideOffer) error {
		if r.DriverID != driverID {
			return ErrNotDriver
		}
		for _, f := range from {
			if r.Status == f {
				r.Status = to
				return nil
			}
		}
		return ErrInvalidState
	})
}

func (s *Service) mutate(ctx context.Context, op, rideID string, fn func(*models.RideOffer) error) (models.RideOffer, error) {
	unlock := s.locks.lock(rideID)
	defer unlock()

	r, err := s.apply(ctx, op, rideID, fn)
	if err != nil {
		return models.RideOffer{}, err
	}
	s.publish(ctx, r)
	return r, nil
}

// apply runs fn through the store and records the outcome. Callers hold the
// ride lock.
func (s *Service) apply(ctx context.Context, op, rideID string, fn func(*models.RideOffer) error) (models.RideOffer, error) {
	r, err := s.store.UpdateRide(ctx, rideID, fn)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = ErrNotFound
		}
		result := "rejected"
		if !isRuleError(err) {
			result = "error"
			s.logger.Error("ride update failed", "op", op, "ride_id", rideID, "err", err)
		}
		observability.LifecycleOps.WithLabelValues(op, result).Inc()
		return models.RideOffer{}, err
	}
	observability.LifecycleOps.WithLabelValues(op, "ok").Inc()
	s.logger.Info("ride updated", "op", op, "ride_id", rideID, "status", r.Status, "available_seats", r.AvailableSeats)
	return r, nil
}

// publish is best effort. The store stays the source of truth and the next
// change to the offer carries the full state again.
func (s *Service) publish(ctx context.Context, r models.RideOffer) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, ingest.EventFor(r)); err != nil {
		observability.EventPublishErrors.Inc()
		s.logger.Warn("publish ride event failed", "ride_id", r.ID, "err", err)
	}
}

func pendingRequest(r *models.RideOffer, driverID, riderID string) (int, error) {
	if r.DriverID != driverID {
		return -1, ErrNotDriver
	}
	i := passengerIndex(r, riderID)
	if i < 0 || r.Passengers[i].Status != models.PassengerPending {
		return -1, ErrNotFound
	}
	return i, nil
}

func passengerIndex(r *models.RideOffer, riderID string) int {
	for i, p := range r.Passengers {
		if p.RiderID == riderID {
			return i
		}
	}
	return -1
}

func isRuleError(err error) bool {
	for _, target := range []error{
		ErrInvalidRating, ErrRideFull, ErrAlreadyJoined, ErrDriverCannotJoin,
		ErrInvalidState, ErrNotDriver, ErrNotPassenger, ErrNotFound, ErrEmptyInvite,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
