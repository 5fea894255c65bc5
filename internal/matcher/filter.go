package matcher

import (
	"strings"
	"time"

	"github.com/example/carpool-matching/internal/geo"
	"github.com/example/carpool-matching/internal/models"
)

// admissible applies the constraints every pool shares. futureOnly is dropped
// when a caller asks for a specific date.
func admissible(r *models.RideOffer, riderID string, now time.Time, futureOnly bool) bool {
	if r.Status != models.StatusScheduled || r.AvailableSeats <= 0 {
		return false
	}
	if futureOnly && !r.Departure.After(now) {
		return false
	}
	if riderID != "" && (r.DriverID == riderID || r.HasPassenger(riderID)) {
		return false
	}
	return true
}

const maxFlexMinutes = 24 * 60

type window struct{ start, end time.Time }

func (w window) contains(t time.Time) bool {
	t = t.Truncate(time.Minute)
	return !t.Before(w.start) && !t.After(w.end)
}

// timeWindow builds [t-flex, t+flex] on day. A time that does not parse yields
// no window and the caller falls back to the date alone.
func (e *Engine) timeWindow(day time.Time, intent models.RiderIntent) (window, bool) {
	if strings.TrimSpace(intent.Time) == "" {
		return window{}, false
	}
	mins, ok := parseClock(intent.Time)
	if !ok {
		return window{}, false
	}
	flex := e.DefaultFlex
	if intent.FlexibilityMinutes != nil && *intent.FlexibilityMinutes >= 0 {
		flex = *intent.FlexibilityMinutes
	}
	// The date filter already bounds the window to one day.
	flex = min(flex, maxFlexMinutes)
	at := time.Date(day.Year(), day.Month(), day.Day(), mins/60, mins%60, 0, 0, day.Location())
	d := time.Duration(flex) * time.Minute
	return window{start: at.Add(-d), end: at.Add(d)}, true
}

// FilterCandidates reduces pool to the offers rider may join given intent.
// The result keeps pool order and never aliases the input slice.
func (e *Engine) FilterCandidates(pool []models.RideOffer, intent models.RiderIntent, rider models.RiderProfile) []models.RideOffer {
	riderID := intent.RiderID
	if riderID == "" {
		riderID = rider.ID
	}
	now := e.now()
	loc := e.location()

	day, hasDate := e.parseDate(intent.Date)
	var win window
	hasWindow := false
	if hasDate {
		win, hasWindow = e.timeWindow(day, intent)
	}

	pickupText := strings.TrimSpace(intent.PickupText)
	dropoffText := strings.TrimSpace(intent.DropoffText)
	workplace := strings.TrimSpace(intent.Workplace)
	radius := intent.RadiusKm > 0 && intent.Pickup != nil

	out := make([]models.RideOffer, 0, len(pool))
	seen := make(map[string]struct{}, len(pool))
	for i := range pool {
		r := &pool[i]
		if !admissible(r, riderID, now, !hasDate) {
			continue
		}
		if pickupText != "" && !containsFold(r.PickupLabel, pickupText) {
			continue
		}
		if dropoffText != "" && !containsFold(r.DropoffLabel, dropoffText) {
			continue
		}
		if workplace != "" && !containsFold(r.PickupLabel, workplace) &&
			!containsFold(r.DropoffLabel, workplace) && !containsFold(r.DriverWorkplace, workplace) {
			continue
		}
		if hasDate {
			if !sameDay(r.Departure.In(loc), day) {
				continue
			}
			if hasWindow && !win.contains(r.Departure) {
				continue
			}
		}
		if radius && (r.Pickup == nil || geo.Between(*intent.Pickup, *r.Pickup) > intent.RadiusKm) {
			continue
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		seen[r.ID] = struct{}{}
		out = append(out, *r)
	}
	return out
}

func containsFold(s, sub string) bool {
	if sub == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
