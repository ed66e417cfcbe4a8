// Package events fans intake outcomes out to optional downstream systems: an
// MQTT broker for field alerts and ClickHouse for the audit trail. Sinks are
// best effort; the intake path logs their errors and carries on.
package events

import (
	"context"
	"errors"
	"time"
)

// Event describes one classified upload.
type Event struct {
	At              time.Time `json:"at"`
	Label           string    `json:"label"`
	Confidence      float64   `json:"confidence"`
	Lat             float64   `json:"lat"`
	Lon             float64   `json:"lon"`
	CoordSource     string    `json:"coord_source"`
	Accepted        bool      `json:"accepted"`
	FoundItemID     string    `json:"found_item_id,omitempty"`
	TypeID          string    `json:"type_id,omitempty"`
	ExplosionRadius *float64  `json:"explosion_radius"`
}

// Persisted reports whether the event produced a FoundItem row.
func (e Event) Persisted() bool { return e.FoundItemID != "" }

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Fanout delivers each event to every sink and joins their errors.
type Fanout []Sink

// Publish implements Sink.
func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Sink.
func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
func (Discard) Close() error                         { return nil }
