package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/carpool-matching/internal/models"
)

// newTestRedisPool needs a disposable Redis; it flushes the selected database.
func newTestRedisPool(t *testing.T) *RedisPool {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rc := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	t.Cleanup(func() { _ = rc.Close() })
	if err := rc.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return NewRedisPool(rc, "test_rides_pickup_geo")
}

func TestRedisPoolUpsertSnapshotRemove(t *testing.T) {
	p := newTestRedisPool(t)
	ctx := context.Background()

	late := testOffer("late", &models.Coord{Lat: 51.5, Lon: 0})
	late.Departure = late.Departure.Add(time.Hour)
	early := testOffer("early", &models.Coord{Lat: 53, Lon: 0})
	for _, r := range []models.RideOffer{late, early} {
		if err := p.Upsert(ctx, r); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	all, err := p.Snapshot(ctx, PoolQuery{})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(all) != 2 || all[0].ID != "early" || all[1].ID != "late" {
		t.Fatalf("expected departure order, got %+v", all)
	}

	near, err := p.Snapshot(ctx, PoolQuery{Near: &models.Coord{Lat: 51.51, Lon: 0}, RadiusKm: 5})
	if err != nil {
		t.Fatalf("radius snapshot: %v", err)
	}
	if len(near) != 1 || near[0].ID != "late" {
		t.Fatalf("expected [late], got %+v", near)
	}

	late.Status = models.StatusCancelled
	if err := p.Upsert(ctx, late); err != nil {
		t.Fatalf("upsert cancelled: %v", err)
	}
	all, _ = p.Snapshot(ctx, PoolQuery{})
	if len(all) != 1 || all[0].ID != "early" {
		t.Fatalf("cancelled offer should leave the pool, got %+v", all)
	}
}

func TestRedisPoolPrune(t *testing.T) {
	p := newTestRedisPool(t)
	ctx := context.Background()
	old := testOffer("old", nil)
	fresh := testOffer("fresh", nil)
	fresh.Departure = old.Departure.Add(24 * time.Hour)
	_ = p.Upsert(ctx, old)
	_ = p.Upsert(ctx, fresh)

	n, err := p.Prune(ctx, old.Departure.Add(time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	all, _ := p.Snapshot(ctx, PoolQuery{})
	if len(all) != 1 || all[0].ID != "fresh" {
		t.Fatalf("unexpected pool after prune %+v", all)
	}
}
