package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/carpool-matching/internal/geo"
	"github.com/example/carpool-matching/internal/models"
)

const (
	offerKeyPrefix = "ride:offer:"
	openSetKey     = "rides:open"
)

// RedisPool is the read-side copy of open offers fed by the pool consumer.
// Each offer lives as JSON under ride:offer:<id>; the open set and the pickup
// GEO set index it.
type RedisPool struct {
	client *redis.Client
	geoKey string
	geo    *geo.RedisGeo
}

func NewRedisPool(client *redis.Client, geoKey string) *RedisPool {
	return &RedisPool{client: client, geoKey: geoKey, geo: geo.NewRedisGeo(client, geoKey)}
}

func offerKey(id string) string { return offerKeyPrefix + id }

func (p *RedisPool) Snapshot(ctx context.Context, q PoolQuery) ([]models.RideOffer, error) {
	var (
		ids []string
		err error
	)
	if q.radius() {
		ids, err = p.geo.Within(ctx, *q.Near, q.RadiusKm)
	} else {
		ids, err = p.client.SMembers(ctx, openSetKey).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("list open offers: %w", err)
	}
	out, _, err := p.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Departure.Equal(out[j].Departure) {
			return out[i].Departure.Before(out[j].Departure)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// load fetches the offers for ids. Ids whose payload is gone or unreadable are
// returned as stale.
func (p *RedisPool) load(ctx context.Context, ids []string) ([]models.RideOffer, []string, error) {
	if len(ids) == 0 {
		return []models.RideOffer{}, nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = offerKey(id)
	}
	vals, err := p.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("load offers: %w", err)
	}
	out := make([]models.RideOffer, 0, len(vals))
	var stale []string
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var r models.RideOffer
		if err := json.Unmarshal([]byte(s), &r); err != nil {
			stale = append(stale, ids[i])
			continue
		}
		if r.Status.Closed() {
			stale = append(stale, ids[i])
			continue
		}
		out = append(out, r)
	}
	return out, stale, nil
}

// Upsert stores r and refreshes its index entries in one MULTI/EXEC. Closed
// offers are removed instead.
func (p *RedisPool) Upsert(ctx context.Context, r models.RideOffer) error {
	if r.Status.Closed() {
		return p.Remove(ctx, r.ID)
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, offerKey(r.ID), b, 0)
		pipe.SAdd(ctx, openSetKey, r.ID)
		g := geo.NewRedisGeo(pipe, p.geoKey)
		if r.Pickup != nil {
			return g.Upsert(ctx, r.ID, *r.Pickup)
		}
		return g.Remove(ctx, r.ID)
	})
	if err != nil {
		return fmt.Errorf("upsert offer %s: %w", r.ID, err)
	}
	return nil
}

func (p *RedisPool) Remove(ctx context.Context, id string) error {
	_, err := p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, offerKey(id))
		pipe.SRem(ctx, openSetKey, id)
		return geo.NewRedisGeo(pipe, p.geoKey).Remove(ctx, id)
	})
	if err != nil {
		return fmt.Errorf("remove offer %s: %w", id, err)
	}
	return nil
}

// Prune drops offers that departed before cutoff along with dangling index
// entries. It returns how many ids were removed.
func (p *RedisPool) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := p.client.SMembers(ctx, openSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list open offers: %w", err)
	}
	offers, stale, err := p.load(ctx, ids)
	if err != nil {
		return 0, err
	}
	for _, r := range offers {
		if r.Departure.Before(cutoff) {
			stale = append(stale, r.ID)
		}
	}
	for _, id := range stale {
		if err := p.Remove(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

func (p *RedisPool) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
