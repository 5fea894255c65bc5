package ingest

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/example/carpool-matching/internal/models"
)

type EventType string

const (
	EventUpsert EventType = "upsert"
	EventRemove EventType = "remove"
)

var ErrUnknownEvent = errors.New("unknown ride event")

// RideEvent is what flows on the ride-offers topic.
type RideEvent struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	RideID    string            `json:"ride_id"`
	Ride      *models.RideOffer `json:"ride,omitempty"`
	EmittedAt time.Time         `json:"emitted_at"`
}

// EventFor picks upsert for offers that can still be matched and remove for
// cancelled or completed ones.
func EventFor(r models.RideOffer) RideEvent {
	if r.Status.Closed() {
		return newEvent(EventRemove, r.ID, nil)
	}
	c := r.Clone()
	return newEvent(EventUpsert, r.ID, &c)
}

func newEvent(t EventType, rideID string, r *models.RideOffer) RideEvent {
	now := time.Now().UTC()
	return RideEvent{
		ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Type:      t,
		RideID:    rideID,
		Ride:      r,
		EmittedAt: now,
	}
}

// Sink is anything that holds a matchable copy of the ride pool.
type Sink interface {
	Upsert(ctx context.Context, r models.RideOffer) error
	Remove(ctx context.Context, id string) error
}

// Apply replays one event onto sink.
func Apply(ctx context.Context, sink Sink, ev RideEvent) error {
	switch ev.Type {
	case EventUpsert:
		if ev.Ride == nil {
			return fmt.Errorf("%w: upsert %s without ride", ErrUnknownEvent, ev.RideID)
		}
		return sink.Upsert(ctx, *ev.Ride)
	case EventRemove:
		return sink.Remove(ctx, ev.RideID)
	}
	return fmt.Errorf("%w: type %q", ErrUnknownEvent, ev.Type)
}

// DirectPublisher applies events to a sink in-process, for deployments without
// a broker.
type DirectPublisher struct {
	Sink Sink
}

func (d *DirectPublisher) Publish(ctx context.Context, ev RideEvent) error {
	return Apply(ctx, d.Sink, ev)
}
