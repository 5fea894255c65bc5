package matcher

import (
	"sort"

	"github.com/example/carpool-matching/internal/models"
)

// MatchResult pairs an offer with its compatibility score. Unscored results
// (rider coordinates missing) carry no score or breakdown.
type MatchResult struct {
	Ride      models.RideOffer `json:"ride"`
	Score     float64          `json:"match_score,omitempty"`
	Breakdown *Breakdown       `json:"score_breakdown,omitempty"`
}

// Rank scores candidates and orders them best first. Equal scores keep their
// input order. Without both rider coordinates the candidates are returned in
// input order, unscored.
func (e *Engine) Rank(candidates []models.RideOffer, rider models.RiderProfile, pickup, dropoff *models.Coord) []MatchResult {
	if pickup == nil || dropoff == nil {
		return Unscored(candidates)
	}
	out := make([]MatchResult, len(candidates))
	for i := range candidates {
		b := e.Breakdown(&candidates[i], rider, *pickup, *dropoff)
		out[i] = MatchResult{Ride: candidates[i], Score: b.Total, Breakdown: &b}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Unscored wraps candidates as results without touching their order.
func Unscored(candidates []models.RideOffer) []MatchResult {
	out := make([]MatchResult, len(candidates))
	for i, r := range candidates {
		out[i] = MatchResult{Ride: r}
	}
	return out
}
