package storage

import (
	"context"
	"sync"

	"github.com/example/carpool-matching/internal/geo"
	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/social"
)

type ratingTally struct {
	average float64
	count   int
}

// MemoryStore keeps offers and profiles in process. Snapshots and listings
// come back in insertion order.
type MemoryStore struct {
	mu       sync.RWMutex
	rides    map[string]models.RideOffer
	order    []string
	profiles map[string]models.RiderProfile
	ratings  map[string]ratingTally
	index    *geo.Index
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]models.RideOffer),
		profiles: make(map[string]models.RiderProfile),
		ratings:  make(map[string]ratingTally),
		index:    geo.NewIndex(),
	}
}

func (m *MemoryStore) Snapshot(_ context.Context, q PoolQuery) ([]models.RideOffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var near map[string]struct{}
	if q.radius() {
		ids := m.index.Within(*q.Near, q.RadiusKm)
		near = make(map[string]struct{}, len(ids))
		for _, id := range ids {
			near[id] = struct{}{}
		}
	}
	return m.list(func(r *models.RideOffer) bool {
		if r.Status.Closed() {
			return false
		}
		if near != nil {
			if _, ok := near[r.ID]; !ok {
				return false
			}
		}
		return true
	}), nil
}

func (m *MemoryStore) Ride(_ context.Context, id string) (models.RideOffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return models.RideOffer{}, ErrNotFound
	}
	return m.view(r), nil
}

func (m *MemoryStore) SaveRide(_ context.Context, r models.RideOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(r.Clone())
	return nil
}

func (m *MemoryStore) UpdateRide(_ context.Context, id string, fn func(*models.RideOffer) error) (models.RideOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[id]
	if !ok {
		return models.RideOffer{}, ErrNotFound
	}
	next := m.view(cur)
	if err := fn(&next); err != nil {
		return models.RideOffer{}, err
	}
	m.put(next)
	return m.view(next), nil
}

func (m *MemoryStore) RidesByDriver(_ context.Context, driverID string) ([]models.RideOffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.list(func(r *models.RideOffer) bool { return r.DriverID == driverID }), nil
}

func (m *MemoryStore) RidesByPassenger(_ context.Context, riderID string) ([]models.RideOffer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.list(func(r *models.RideOffer) bool { return r.HasPassenger(riderID) }), nil
}

func (m *MemoryStore) RecordDriverRating(_ context.Context, driverID string, rating int) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.ratings[driverID]
	t.average = (t.average*float64(t.count) + float64(rating)) / float64(t.count+1)
	t.count++
	m.ratings[driverID] = t
	return t.average, nil
}

// list returns copies of the stored offers accepted by keep. Callers hold mu.
func (m *MemoryStore) list(keep func(*models.RideOffer) bool) []models.RideOffer {
	out := make([]models.RideOffer, 0, len(m.order))
	for _, id := range m.order {
		r := m.rides[id]
		if keep(&r) {
			out = append(out, m.view(r))
		}
	}
	return out
}

// view copies r and stamps the driver's current rating onto it. Callers hold mu.
func (m *MemoryStore) view(r models.RideOffer) models.RideOffer {
	out := r.Clone()
	if t, ok := m.ratings[out.DriverID]; ok {
		out.DriverRating = t.average
	}
	return out
}

func (m *MemoryStore) put(r models.RideOffer) {
	if _, ok := m.rides[r.ID]; !ok {
		m.order = append(m.order, r.ID)
	}
	m.rides[r.ID] = r
	if r.Pickup != nil {
		m.index.Upsert(r.ID, *r.Pickup)
	} else {
		m.index.Remove(r.ID)
	}
}

func (m *MemoryStore) Profile(_ context.Context, riderID string) (models.RiderProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[riderID]
	if !ok {
		return models.RiderProfile{}, ErrNotFound
	}
	return p.Clone(), nil
}

func (m *MemoryStore) SaveProfile(_ context.Context, p models.RiderProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p.Clone()
	return nil
}

func (m *MemoryStore) Members(_ context.Context, workplace string) ([]models.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Member, 0)
	for _, p := range m.profiles {
		if social.SameWorkplace(p.Workplace, workplace) {
			out = append(out, models.Member{ID: p.ID, Workplace: p.Workplace})
		}
	}
	return out, nil
}
