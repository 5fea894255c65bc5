package matcher

import (
	"strings"

	"github.com/example/carpool-matching/internal/geo"
	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/social"
)

const (
	baseScore          = 50.0
	maxScore           = 100.0
	timeFitPoints      = 20.0
	maxReputation      = 10.0
	maxPreference      = 20.0
	noPreferencePoints = 3.0
	preferencePoints   = 5.0
	workplaceBonus     = 5.0
	colleagueBonus     = 5.0
	recurrenceDayBonus = 1.0
)

// Breakdown is the per-factor account of a compatibility score.
type Breakdown struct {
	Base          float64  `json:"base"`
	Proximity     float64  `json:"proximity"`
	TimeOfDay     float64  `json:"time_of_day"`
	Reputation    float64  `json:"reputation"`
	Preference    float64  `json:"preference"`
	WorkplaceRide float64  `json:"workplace_ride"`
	Colleague     float64  `json:"colleague"`
	Recurrence    float64  `json:"recurrence"`
	PickupKm      *float64 `json:"pickup_km,omitempty"`
	DropoffKm     *float64 `json:"dropoff_km,omitempty"`
	Total         float64  `json:"total"`
}

// proximityPoints steps a single endpoint distance down to 0..20 points.
func proximityPoints(km float64) float64 {
	switch {
	case km <= 1:
		return 20
	case km <= 3:
		return 15
	case km <= 5:
		return 10
	case km <= 10:
		return 5
	}
	return 0
}

// Score is the compatibility of ride for rider travelling pickup → dropoff.
// It is deterministic, never below 50 and never above 100.
func (e *Engine) Score(ride *models.RideOffer, rider models.RiderProfile, pickup, dropoff models.Coord) float64 {
	return e.Breakdown(ride, rider, pickup, dropoff).Total
}

// Breakdown computes the score together with each factor's contribution.
func (e *Engine) Breakdown(ride *models.RideOffer, rider models.RiderProfile, pickup, dropoff models.Coord) Breakdown {
	b := Breakdown{Base: baseScore}

	if ride.HasCoordinates() {
		pk := geo.Between(pickup, *ride.Pickup)
		dk := geo.Between(dropoff, *ride.Dropoff)
		b.PickupKm, b.DropoffKm = &pk, &dk
		b.Proximity = proximityPoints(pk) + proximityPoints(dk)
	}

	b.TimeOfDay = e.timeFit(ride, rider)

	if ride.DriverRating > 0 {
		b.Reputation = min(maxReputation, ride.DriverRating*2)
	}

	b.Preference = preferenceFit(ride.Comfort, rider)

	w := strings.TrimSpace(rider.Workplace)
	if ride.IsWorkplaceRide && w != "" && (containsFold(ride.PickupLabel, w) || containsFold(ride.DropoffLabel, w)) {
		b.WorkplaceRide = workplaceBonus
	}
	if social.SameWorkplace(w, ride.DriverWorkplace) {
		b.Colleague = colleagueBonus
	}
	if ride.Recurring {
		b.Recurrence = recurrenceDayBonus * float64(sharedDays(ride.RecurringDays, rider.PreferredDays))
	}

	total := b.Base + b.Proximity + b.TimeOfDay + b.Reputation + b.Preference + b.WorkplaceRide + b.Colleague + b.Recurrence
	b.Total = min(maxScore, total)
	return b
}

// timeFit awards the time-of-day points on the first preferred range that holds
// the departure minute. Malformed ranges are skipped.
func (e *Engine) timeFit(ride *models.RideOffer, rider models.RiderProfile) float64 {
	if len(rider.PreferredTimes) == 0 {
		return 0
	}
	m := minuteOfDay(ride.Departure.In(e.location()))
	for _, rng := range rider.PreferredTimes {
		start, end, ok := parseRange(rng)
		if !ok {
			continue
		}
		if start <= m && m <= end {
			return timeFitPoints
		}
	}
	return 0
}

func preferenceFit(c *models.Comfort, rider models.RiderProfile) float64 {
	if c == nil || rider.Smoking == nil || rider.AirConditioning == nil || rider.Chat == nil {
		return 0
	}
	pts := boolPoints(*rider.Smoking, c.SmokingAllowed) + boolPoints(*rider.AirConditioning, c.HasAC)
	switch {
	case *rider.Chat == models.ChatNoPreference:
		pts += noPreferencePoints
	case string(*rider.Chat) == string(c.ChatLevel):
		pts += preferencePoints
	}
	if len(rider.MusicGenres) > 0 && len(c.MusicGenres) > 0 && genresOverlap(rider.MusicGenres, c.MusicGenres) {
		pts += preferencePoints
	}
	return min(maxPreference, pts)
}

func boolPoints(p models.BoolPreference, v bool) float64 {
	if p == models.NoPreference {
		return noPreferencePoints
	}
	if p.Matches(v) {
		return preferencePoints
	}
	return 0
}

func genresOverlap(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, g := range a {
		set[strings.ToLower(strings.TrimSpace(g))] = struct{}{}
	}
	for _, g := range b {
		if _, ok := set[strings.ToLower(strings.TrimSpace(g))]; ok {
			return true
		}
	}
	return false
}

// sharedDays counts the distinct weekdays present in both sets.
func sharedDays(a, b []int) int {
	set := make(map[int]struct{}, len(a))
	for _, d := range a {
		set[d] = struct{}{}
	}
	n := 0
	for _, d := range b {
		if _, ok := set[d]; ok {
			n++
			delete(set, d)
		}
	}
	return n
}
