// Package events publishes closet domain events to message brokers.
package events

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Type names a domain event.
type Type string

const (
	TagScanned       Type = "tag.scanned"
	TagWritten       Type = "tag.written"
	TagBound         Type = "tag.bound"
	TagUnbound       Type = "tag.unbound"
	GarmentsAssigned Type = "garments.assigned"
	BoxCreated       Type = "box.created"
	BoxUpdated       Type = "box.updated"
	BoxDeleted       Type = "box.deleted"
)

// Event is the JSON envelope published for every domain event.
type Event struct {
	Type Type      `json:"type"`
	At   time.Time `json:"at"`
	Data any       `json:"data,omitempty"`
}

// New stamps an event with the current time.
func New(t Type, data any) Event {
	return Event{Type: t, At: time.Now().UTC(), Data: data}
}

// Publisher delivers events to a broker.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Multi publishes to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the type of each recorded event in order.
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// route joins prefix and the event type's dotted segments with sep.
func route(prefix, sep string, t Type) string {
	segments := strings.Split(string(t), ".")
	if prefix != "" {
		segments = append([]string{prefix}, segments...)
	}
	return strings.Join(segments, sep)
}
