package nfc

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBusy is returned by TryRead and TryWrite while another session holds the reader.
var ErrBusy = errors.New("another NFC session is active")

// Timings groups the protocol delays.
type Timings struct {
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	SettleDelay   time.Duration
	VerifyTimeout time.Duration
	Cooldown      time.Duration
	ErrorGrace    time.Duration
}

// DefaultTimings returns the standard protocol delays.
func DefaultTimings() Timings {
	return Timings{
		ReadTimeout:   DefaultReadTimeout,
		WriteTimeout:  DefaultWriteTimeout,
		SettleDelay:   DefaultSettleDelay,
		VerifyTimeout: DefaultVerifyTimeout,
		Cooldown:      DefaultCooldown,
		ErrorGrace:    DefaultErrorGrace,
	}
}

// CoordinatorConfig holds the collaborators of a Coordinator.
type CoordinatorConfig struct {
	Opener   Opener
	Resolver ExistenceResolver
	Clock    Clock
	Logger   *log.Logger
	Observer Observer
	Timings  Timings
}

// Coordinator serializes read and write sessions so at most one reader
// handle is held at a time.
type Coordinator struct {
	opener   Opener
	resolver ExistenceResolver
	clock    Clock
	logger   *log.Logger
	observer Observer
	timings  Timings

	slot chan struct{}

	mu     sync.Mutex
	active *activeSession

	reading atomic.Bool
	writing atomic.Bool
}

type activeSession struct {
	cancel context.CancelFunc
	reader Reader
}

// NewCoordinator creates a coordinator. Zero timings fall back to the defaults.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}
	def := DefaultTimings()
	t := cfg.Timings
	if t.ReadTimeout <= 0 {
		t.ReadTimeout = def.ReadTimeout
	}
	if t.WriteTimeout <= 0 {
		t.WriteTimeout = def.WriteTimeout
	}
	if t.SettleDelay <= 0 {
		t.SettleDelay = def.SettleDelay
	}
	if t.VerifyTimeout <= 0 {
		t.VerifyTimeout = def.VerifyTimeout
	}
	if t.Cooldown <= 0 {
		t.Cooldown = def.Cooldown
	}
	if t.ErrorGrace <= 0 {
		t.ErrorGrace = def.ErrorGrace
	}
	return &Coordinator{
		opener:   cfg.Opener,
		resolver: cfg.Resolver,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		observer: cfg.Observer,
		timings:  t,
		slot:     make(chan struct{}, 1),
	}
}

// Timings returns the delays in effect.
func (c *Coordinator) Timings() Timings {
	return c.timings
}

// Clock returns the clock sessions run on.
func (c *Coordinator) Clock() Clock {
	return c.clock
}

// Reading reports whether a read session is active.
func (c *Coordinator) Reading() bool { return c.reading.Load() }

// Writing reports whether a write session is active.
func (c *Coordinator) Writing() bool { return c.writing.Load() }

// Busy reports whether any session holds the reader.
func (c *Coordinator) Busy() bool { return len(c.slot) > 0 }

// Supported reports whether a capable reader is available.
// Openers that cannot probe are assumed capable.
func (c *Coordinator) Supported(ctx context.Context) error {
	if c.opener == nil {
		return NewUnsupportedError("Probe", "no NFC reader configured")
	}
	if p, ok := c.opener.(Prober); ok {
		return p.Probe(ctx)
	}
	return nil
}

// Read waits for the reader to be free, then runs a read session.
func (c *Coordinator) Read(ctx context.Context, opts ReadOptions) ScanOutcome {
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return scanFailure(KindCancelled, "read cancelled while waiting for the reader")
	}
	return c.runRead(ctx, opts)
}

// TryRead runs a read session, or returns ErrBusy if one is already active.
func (c *Coordinator) TryRead(ctx context.Context, opts ReadOptions) (ScanOutcome, error) {
	select {
	case c.slot <- struct{}{}:
	default:
		return ScanOutcome{}, ErrBusy
	}
	return c.runRead(ctx, opts), nil
}

// Write waits for the reader to be free, then runs a write session.
func (c *Coordinator) Write(ctx context.Context, value string) WriteOutcome {
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return writeFailure(value, KindCancelled, "write cancelled while waiting for the reader")
	}
	return c.runWrite(ctx, value)
}

// TryWrite runs a write session, or returns ErrBusy if one is already active.
func (c *Coordinator) TryWrite(ctx context.Context, value string) (WriteOutcome, error) {
	select {
	case c.slot <- struct{}{}:
	default:
		return WriteOutcome{}, ErrBusy
	}
	return c.runWrite(ctx, value), nil
}

// Continuous runs read sessions back to back until ctx is done, using the
// configured cooldown and error grace. Each session waits for the reader like Read.
func (c *Coordinator) Continuous(ctx context.Context, opts ReadOptions, onOutcome func(ScanOutcome)) error {
	cs := NewContinuousScanner(c, c.clock, c.timings.Cooldown, c.timings.ErrorGrace)
	cs.logger = c.logger
	return cs.Run(ctx, opts, onOutcome)
}

// Cancel stops the active session's reader and clears the reading/writing flags.
// The session itself still resolves exactly once, as Cancelled unless it already finished.
func (c *Coordinator) Cancel() bool {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	c.reading.Store(false)
	c.writing.Store(false)

	if active == nil {
		return false
	}
	active.cancel()
	if err := active.reader.Stop(); err != nil {
		c.logger.Printf("Error stopping reader on cancel: %v", err)
	}
	c.logger.Printf("Active NFC session cancelled")
	return true
}

func (c *Coordinator) runRead(ctx context.Context, opts ReadOptions) ScanOutcome {
	defer func() { <-c.slot }()
	started := c.clock.Now()

	if opts.Timeout <= 0 {
		opts.Timeout = c.timings.ReadTimeout
	}

	out := func() ScanOutcome {
		if c.opener == nil {
			return scanFailure(KindUnsupportedEnvironment, "no NFC reader configured")
		}
		reader, err := c.opener.Open(ctx)
		if err != nil {
			return scanFailure(openFailureKind(err), "%s", errorMessage(err))
		}

		sctx, cancel := context.WithCancel(ctx)
		defer cancel()
		c.setActive(&activeSession{cancel: cancel, reader: reader})
		defer c.setActive(nil)

		c.reading.Store(true)
		defer c.reading.Store(false)

		return NewReadSession(reader, c.resolver, c.clock, c.logger, opts).Run(sctx)
	}()

	if c.observer != nil {
		c.observer.ScanResolved(out, c.clock.Now().Sub(started))
	}
	return out
}

func (c *Coordinator) runWrite(ctx context.Context, value string) WriteOutcome {
	defer func() { <-c.slot }()
	started := c.clock.Now()

	out := func() WriteOutcome {
		if !usableText(value) {
			return writeFailure(value, KindNoUsableIdentifier, "%q is not a valid tag identifier", value)
		}
		if c.opener == nil {
			return writeFailure(value, KindUnsupportedEnvironment, "no NFC reader configured")
		}
		reader, err := c.opener.Open(ctx)
		if err != nil {
			return writeFailure(value, openFailureKind(err), "%s", errorMessage(err))
		}

		sctx, cancel := context.WithCancel(ctx)
		defer cancel()
		c.setActive(&activeSession{cancel: cancel, reader: reader})
		defer c.setActive(nil)

		c.writing.Store(true)
		defer c.writing.Store(false)

		opts := WriteOptions{
			Timeout:       c.timings.WriteTimeout,
			SettleDelay:   c.timings.SettleDelay,
			VerifyTimeout: c.timings.VerifyTimeout,
		}
		return NewWriteSession(value, reader, c.opener, c.clock, c.logger, opts).Run(sctx)
	}()

	if c.observer != nil {
		c.observer.WriteResolved(out, c.clock.Now().Sub(started))
	}
	return out
}

func (c *Coordinator) setActive(a *activeSession) {
	c.mu.Lock()
	c.active = a
	c.mu.Unlock()
}

func openFailureKind(err error) ErrorKind {
	if kind := KindOf(err); kind == KindUnsupportedEnvironment || kind == KindCancelled {
		return kind
	}
	return KindUnexpectedException
}
