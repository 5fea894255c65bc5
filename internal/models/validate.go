package models

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidOffer = errors.New("invalid ride offer")

// Validate checks an offer at the persistence boundary before it enters a pool.
// All problems are reported together.
func (r *RideOffer) Validate() error {
	var errs []error
	if strings.TrimSpace(r.ID) == "" {
		errs = append(errs, errors.New("id is required"))
	}
	if strings.TrimSpace(r.DriverID) == "" {
		errs = append(errs, errors.New("driver_id is required"))
	}
	if r.TotalSeats < 1 {
		errs = append(errs, errors.New("total seats must be at least 1"))
	}
	if r.AvailableSeats < 0 || r.AvailableSeats > r.TotalSeats {
		errs = append(errs, fmt.Errorf("available seats %d outside 0..%d", r.AvailableSeats, r.TotalSeats))
	}
	if (r.Pickup == nil) != (r.Dropoff == nil) {
		errs = append(errs, errors.New("if providing coordinates, all coordinates are required"))
	}
	if (r.Pickup != nil && !r.Pickup.Valid()) || (r.Dropoff != nil && !r.Dropoff.Valid()) {
		errs = append(errs, errors.New("coordinates must be finite and within range"))
	}
	if r.PickupLabel != "" && r.PickupLabel == r.DropoffLabel {
		errs = append(errs, errors.New("pickup and dropoff locations cannot be the same"))
	}
	switch r.Status {
	case StatusScheduled, StatusInProgress, StatusCompleted, StatusCancelled:
	default:
		errs = append(errs, fmt.Errorf("unknown status %q", r.Status))
	}
	switch r.Visibility {
	case "", VisibilityPublic, VisibilityConnections:
	default:
		errs = append(errs, fmt.Errorf("unknown visibility %q", r.Visibility))
	}
	if r.Recurring && len(r.RecurringDays) == 0 {
		errs = append(errs, errors.New("recurring rides must specify recurring days"))
	}
	for _, d := range r.RecurringDays {
		if d < 0 || d > 6 {
			errs = append(errs, fmt.Errorf("recurring day %d outside 0..6", d))
		}
	}
	if r.Comfort != nil {
		switch r.Comfort.ChatLevel {
		case "", ChatQuiet, ChatModerate, ChatChatty:
		default:
			errs = append(errs, fmt.Errorf("invalid chat level %q", r.Comfort.ChatLevel))
		}
	}
	if r.DriverRating < 0 || r.DriverRating > 5 {
		errs = append(errs, fmt.Errorf("driver rating %.2f outside 0..5", r.DriverRating))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidOffer, errors.Join(errs...))
}
