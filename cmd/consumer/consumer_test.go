package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/carpool-matching/internal/ingest"
	"github.com/example/carpool-matching/internal/models"
)

// fakeSink implements ingest.Sink for tests
type fakeSink struct {
	failUpsert  int // number of times to fail Upsert before succeeding
	failRemove  int
	upsertCalls int
	removeCalls int
}

func (f *fakeSink) Upsert(ctx context.Context, r models.RideOffer) error {
	f.upsertCalls++
	if f.upsertCalls <= f.failUpsert {
		return errors.New("upsert fail")
	}
	return nil
}

func (f *fakeSink) Remove(ctx context.Context, id string) error {
	f.removeCalls++
	if f.removeCalls <= f.failRemove {
		return errors.New("remove fail")
	}
	return nil
}

func upsertEvent() ingest.RideEvent {
	return ingest.EventFor(models.RideOffer{ID: "r1", Status: models.StatusScheduled, TotalSeats: 2})
}

func TestApplyWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeSink{failUpsert: 2}
	start := time.Now()
	if err := applyWithRetry(context.Background(), f, upsertEvent(), 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.upsertCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.upsertCalls)
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("expected backoff between attempts")
	}
}

func TestApplyWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeSink{failRemove: 5}
	ev := ingest.EventFor(models.RideOffer{ID: "r1", Status: models.StatusCancelled})
	if err := applyWithRetry(context.Background(), f, ev, 3, time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.removeCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", f.removeCalls)
	}
}

func TestApplyWithRetry_DoesNotRetryUnknownEvents(t *testing.T) {
	f := &fakeSink{}
	err := applyWithRetry(context.Background(), f, ingest.RideEvent{Type: "rename", RideID: "r1"}, 3, time.Millisecond)
	if !errors.Is(err, ingest.ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	if f.upsertCalls+f.removeCalls != 0 {
		t.Fatalf("sink should not be touched")
	}
}

func TestApplyWithRetry_StopsOnCancel(t *testing.T) {
	f := &fakeSink{failUpsert: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := applyWithRetry(ctx, f, upsertEvent(), 3, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type fakePrunable struct {
	cutoff time.Time
	n      int
	err    error
}

func (f *fakePrunable) Prune(_ context.Context, cutoff time.Time) (int, error) {
	f.cutoff = cutoff
	return f.n, f.err
}

func TestPrunerUsesGrace(t *testing.T) {
	fp := &fakePrunable{n: 4}
	p := newPruner(fp, "@every 1m", 15*time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	now := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	if got := p.run(context.Background()); got != 4 {
		t.Fatalf("expected 4 pruned, got %d", got)
	}
	if want := now.Add(-15 * time.Minute); !fp.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %v, got %v", want, fp.cutoff)
	}

	fp.err = errors.New("redis down")
	if got := p.run(context.Background()); got != 0 {
		t.Fatalf("expected 0 on error, got %d", got)
	}
}

func TestPrunerRejectsBadSpec(t *testing.T) {
	p := newPruner(&fakePrunable{}, "every tuesday", time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err := p.Start(context.Background()); err == nil {
		p.Stop()
		t.Fatal("expected invalid cron spec to be rejected")
	}
}
