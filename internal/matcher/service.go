package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/observability"
	"github.com/example/carpool-matching/internal/social"
	"github.com/example/carpool-matching/internal/storage"
)

// Service answers matching queries against a pool snapshot. Each call reads one
// snapshot and never writes.
type Service struct {
	Engine   *Engine
	Pool     storage.RidePool
	Profiles storage.ProfileStore
	Logger   *slog.Logger
	// MaxResults caps every returned list; zero means no cap.
	MaxResults int
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

// Available lists every offer the rider could join, in pool order.
func (s *Service) Available(ctx context.Context, riderID string) ([]MatchResult, error) {
	start := time.Now()
	rider, pool, err := s.load(ctx, riderID, storage.PoolQuery{})
	if err != nil {
		return nil, err
	}
	return s.finish("available", start, riderID, Unscored(s.Engine.Available(pool, rider))), nil
}

// Search filters the pool by intent and ranks what is left. Results are
// unscored unless the intent carries both coordinates.
func (s *Service) Search(ctx context.Context, intent models.RiderIntent) ([]MatchResult, error) {
	start := time.Now()
	intent.Pickup, intent.Dropoff = usable(intent.Pickup), usable(intent.Dropoff)
	q := storage.PoolQuery{}
	if intent.Pickup != nil && intent.RadiusKm > 0 {
		q = storage.PoolQuery{Near: intent.Pickup, RadiusKm: intent.RadiusKm}
	}
	rider, pool, err := s.load(ctx, intent.RiderID, q)
	if err != nil {
		return nil, err
	}
	candidates := s.Engine.FilterCandidates(pool, intent, rider)
	results := s.Engine.Rank(candidates, rider, intent.Pickup, intent.Dropoff)
	s.logger().Debug("search", "rider_id", intent.RiderID, "pool", len(pool), "candidates", len(candidates))
	return s.finish("search", start, intent.RiderID, results), nil
}

// Recommend ranks every available offer by score when both coordinates are
// known. Otherwise colleague offers come first, then offers touching the
// rider's workplace, then the rest.
func (s *Service) Recommend(ctx context.Context, riderID string, pickup, dropoff *models.Coord) ([]MatchResult, error) {
	start := time.Now()
	rider, pool, err := s.load(ctx, riderID, storage.PoolQuery{})
	if err != nil {
		return nil, err
	}
	candidates := s.Engine.Available(pool, rider)
	pickup, dropoff = usable(pickup), usable(dropoff)
	var results []MatchResult
	if pickup != nil && dropoff != nil {
		results = s.Engine.Rank(candidates, rider, pickup, dropoff)
	} else {
		results = Unscored(PrioritizeWorkplace(candidates, rider))
	}
	return s.finish("recommended", start, riderID, results), nil
}

func (s *Service) ColleagueRides(ctx context.Context, riderID string) ([]MatchResult, error) {
	start := time.Now()
	rider, pool, err := s.load(ctx, riderID, storage.PoolQuery{})
	if err != nil {
		return nil, err
	}
	return s.finish("colleagues", start, riderID, Unscored(s.Engine.ColleaguePool(pool, rider))), nil
}

func (s *Service) WorkplaceRides(ctx context.Context, riderID string) ([]MatchResult, error) {
	start := time.Now()
	rider, pool, err := s.load(ctx, riderID, storage.PoolQuery{})
	if err != nil {
		return nil, err
	}
	return s.finish("workplace", start, riderID, Unscored(s.Engine.WorkplacePool(pool, rider))), nil
}

// FriendGroupRides lists offers tied to the rider's friend groups. An empty
// group means any of them.
func (s *Service) FriendGroupRides(ctx context.Context, riderID, group string) ([]MatchResult, error) {
	start := time.Now()
	aff, pool, err := s.loadAffinity(ctx, riderID)
	if err != nil {
		return nil, err
	}
	return s.finish("friend_groups", start, riderID, Unscored(s.Engine.FriendGroupPool(pool, aff, group))), nil
}

func (s *Service) ConnectionRides(ctx context.Context, riderID string) ([]MatchResult, error) {
	start := time.Now()
	aff, pool, err := s.loadAffinity(ctx, riderID)
	if err != nil {
		return nil, err
	}
	return s.finish("connections", start, riderID, Unscored(s.Engine.ConnectionsPool(pool, aff))), nil
}

// usable drops coordinates that cannot be scored.
func usable(c *models.Coord) *models.Coord {
	if c == nil || !c.Valid() {
		return nil
	}
	return c
}

func (s *Service) load(ctx context.Context, riderID string, q storage.PoolQuery) (models.RiderProfile, []models.RideOffer, error) {
	rider, err := s.profile(ctx, riderID)
	if err != nil {
		return models.RiderProfile{}, nil, err
	}
	pool, err := s.Pool.Snapshot(ctx, q)
	if err != nil {
		return models.RiderProfile{}, nil, fmt.Errorf("snapshot ride pool: %w", err)
	}
	return rider, pool, nil
}

func (s *Service) loadAffinity(ctx context.Context, riderID string) (social.Affinity, []models.RideOffer, error) {
	rider, pool, err := s.load(ctx, riderID, storage.PoolQuery{})
	if err != nil {
		return social.Affinity{}, nil, err
	}
	var members []models.Member
	if rider.Workplace != "" {
		members, err = s.Profiles.Members(ctx, rider.Workplace)
		if err != nil {
			return social.Affinity{}, nil, fmt.Errorf("load members: %w", err)
		}
	}
	return social.Resolve(rider, members), pool, nil
}

// profile treats an unknown rider as one with no preferences or relations.
func (s *Service) profile(ctx context.Context, riderID string) (models.RiderProfile, error) {
	if riderID == "" || s.Profiles == nil {
		return models.RiderProfile{ID: riderID}, nil
	}
	p, err := s.Profiles.Profile(ctx, riderID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.RiderProfile{ID: riderID}, nil
	}
	if err != nil {
		return models.RiderProfile{}, fmt.Errorf("load profile %s: %w", riderID, err)
	}
	return p, nil
}

func (s *Service) finish(kind string, start time.Time, riderID string, results []MatchResult) []MatchResult {
	if s.MaxResults > 0 && len(results) > s.MaxResults {
		results = results[:s.MaxResults]
	}
	observability.SearchesTotal.WithLabelValues(kind).Inc()
	observability.SearchLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	observability.SearchResults.Observe(float64(len(results)))
	for _, r := range results {
		if r.Breakdown != nil {
			observability.MatchScores.Observe(r.Score)
		}
	}
	s.logger().Info("match query", "kind", kind, "rider_id", riderID, "results", len(results))
	return results
}
