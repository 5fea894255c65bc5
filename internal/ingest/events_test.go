package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/example/carpool-matching/internal/models"
)

type recordingSink struct {
	upserts []string
	removes []string
}

func (s *recordingSink) Upsert(_ context.Context, r models.RideOffer) error {
	s.upserts = append(s.upserts, r.ID)
	return nil
}

func (s *recordingSink) Remove(_ context.Context, id string) error {
	s.removes = append(s.removes, id)
	return nil
}

func TestEventForPicksTypeByStatus(t *testing.T) {
	open := EventFor(models.RideOffer{ID: "r1", Status: models.StatusScheduled})
	if open.Type != EventUpsert || open.Ride == nil || open.RideID != "r1" {
		t.Fatalf("unexpected event for scheduled ride: %+v", open)
	}
	if open.ID == "" {
		t.Fatal("expected event id")
	}
	closed := EventFor(models.RideOffer{ID: "r2", Status: models.StatusCancelled})
	if closed.Type != EventRemove || closed.Ride != nil {
		t.Fatalf("unexpected event for cancelled ride: %+v", closed)
	}
}

func TestApply(t *testing.T) {
	sink := &recordingSink{}
	ctx := context.Background()
	pub := &DirectPublisher{Sink: sink}

	if err := pub.Publish(ctx, EventFor(models.RideOffer{ID: "r1", Status: models.StatusScheduled})); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := pub.Publish(ctx, EventFor(models.RideOffer{ID: "r2", Status: models.StatusCompleted})); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(sink.upserts) != 1 || sink.upserts[0] != "r1" || len(sink.removes) != 1 || sink.removes[0] != "r2" {
		t.Fatalf("unexpected sink state %+v", sink)
	}

	err := Apply(ctx, sink, RideEvent{Type: "bogus", RideID: "r3"})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
	err = Apply(ctx, sink, RideEvent{Type: EventUpsert, RideID: "r4"})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent for empty upsert, got %v", err)
	}
}
