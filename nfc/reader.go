package nfc

import (
	"context"
	"sync"
	"time"
)

// TagEvent is what a reader reports when a tag enters its field.
type TagEvent struct {
	SerialNumber string    `json:"serialNumber,omitempty"`
	Message      Message   `json:"message"`
	ReceivedAt   time.Time `json:"receivedAt"`
}

// Handlers are the callbacks a reader invokes while scanning.
// Either may be nil.
type Handlers struct {
	OnReading func(TagEvent)
	OnError   func(error)
}

// Reader is a single-use handle on NFC hardware.
//
// Stop may report a trailing error through OnError; Detach removes the
// handlers so nothing is delivered afterwards. Sessions always call Stop
// before Detach.
type Reader interface {
	SetHandlers(h Handlers)
	Scan(ctx context.Context) error
	Write(ctx context.Context, msg Message) error
	Stop() error
	Detach()
}

// Opener hands out fresh reader handles, one per session.
type Opener interface {
	Open(ctx context.Context) (Reader, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (Reader, error)

func (f OpenerFunc) Open(ctx context.Context) (Reader, error) { return f(ctx) }

// Prober is implemented by openers that can report whether a capable
// reader is available without opening it.
type Prober interface {
	Probe(ctx context.Context) error
}

// EntityType names the kind of record a tag can be bound to.
type EntityType string

const (
	EntityGarment EntityType = "garment"
	EntityBox     EntityType = "box"
)

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	return t == EntityGarment || t == EntityBox
}

// Label is the human-readable name used in messages.
func (t EntityType) Label() string {
	switch t {
	case EntityGarment:
		return "garment"
	case EntityBox:
		return "box"
	}
	return string(t)
}

// EntityRef identifies a garment or box.
type EntityRef struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

// Existence is the result of an existence check.
type Existence struct {
	Exists     bool       `json:"exists"`
	EntityType EntityType `json:"entityType,omitempty"`
	EntityID   string     `json:"entityId,omitempty"`
	EntityName string     `json:"entityName,omitempty"`
}

// BelongsTo reports whether the binding is the intended entity.
// A nil ref never matches.
func (e Existence) BelongsTo(ref *EntityRef) bool {
	if !e.Exists || ref == nil {
		return false
	}
	return e.EntityType == ref.Type && e.EntityID == ref.ID
}

// ExistenceResolver looks up which entity, if any, owns an identifier.
type ExistenceResolver interface {
	CheckTagExists(ctx context.Context, id string) (Existence, error)
}

// Observer receives every terminal outcome, after teardown.
type Observer interface {
	ScanResolved(out ScanOutcome, elapsed time.Duration)
	WriteResolved(out WriteOutcome, elapsed time.Duration)
}

// Observers fans outcomes out to each non-nil observer in order.
type Observers []Observer

func (obs Observers) ScanResolved(out ScanOutcome, elapsed time.Duration) {
	for _, o := range obs {
		if o != nil {
			o.ScanResolved(out, elapsed)
		}
	}
}

func (obs Observers) WriteResolved(out WriteOutcome, elapsed time.Duration) {
	for _, o := range obs {
		if o != nil {
			o.WriteResolved(out, elapsed)
		}
	}
}

// oneshot delivers the first value fired into it and drops the rest.
type oneshot[T any] struct {
	once sync.Once
	ch   chan T
}

func newOneshot[T any]() *oneshot[T] {
	return &oneshot[T]{ch: make(chan T, 1)}
}

func (o *oneshot[T]) Fire(v T) (fired bool) {
	o.once.Do(func() {
		o.ch <- v
		fired = true
	})
	return fired
}

func (o *oneshot[T]) C() <-chan T {
	return o.ch
}
