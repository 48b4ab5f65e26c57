package nfc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"
)

// WriteOptions configures one write session.
type WriteOptions struct {
	Timeout       time.Duration // wait for a tag; defaults to DefaultWriteTimeout
	SettleDelay   time.Duration // pause between write and read-back; defaults to DefaultSettleDelay
	VerifyTimeout time.Duration // read-back budget; defaults to DefaultVerifyTimeout
}

func (o WriteOptions) withDefaults() WriteOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultWriteTimeout
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if o.VerifyTimeout <= 0 {
		o.VerifyTimeout = DefaultVerifyTimeout
	}
	return o
}

var errReadBackTimeout = errors.New("no tag presented for read-back")

// WriteSession writes one identifier to a tag and confirms it by reading it back
// through a second, read-only reader.
type WriteSession struct {
	value  string
	reader Reader
	opener Opener
	clock  Clock
	logger *log.Logger
	opts   WriteOptions

	state      atomic.Int32
	hasWritten atomic.Bool
	events     chan readerEvent
	written    chan error
}

// NewWriteSession creates a session that writes value with reader and verifies
// through a reader obtained from opener.
func NewWriteSession(value string, reader Reader, opener Opener, clock Clock, logger *log.Logger, opts WriteOptions) *WriteSession {
	if clock == nil {
		clock = NewRealClock()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}
	return &WriteSession{
		value:   value,
		reader:  reader,
		opener:  opener,
		clock:   clock,
		logger:  logger,
		opts:    opts.withDefaults(),
		events:  make(chan readerEvent, eventQueueSize),
		written: make(chan error, 1),
	}
}

// State returns the current state name.
func (s *WriteSession) State() string {
	return sessionState(s.state.Load()).String()
}

func (s *WriteSession) transition(from, to sessionState) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

func (s *WriteSession) enqueue(ev readerEvent) {
	if st := sessionState(s.state.Load()); st != stateScanning {
		s.logger.Printf("Dropping reader event while %s", st)
		return
	}
	select {
	case s.events <- ev:
	default:
	}
}

// Run waits for a tag, writes the value, then verifies it with a fresh read.
func (s *WriteSession) Run(ctx context.Context) WriteOutcome {
	if !s.transition(stateIdle, stateScanning) {
		return writeFailure(s.value, KindUnexpectedException, "write session already started")
	}
	if !usableText(s.value) {
		s.resolve(stateScanning)
		return writeFailure(s.value, KindNoUsableIdentifier, "%q is not a valid tag identifier", s.value)
	}

	timer := s.clock.NewTimer(s.opts.Timeout)
	defer timer.Stop()

	writeCtx, cancelWrite := context.WithCancel(ctx)
	defer cancelWrite()

	s.reader.SetHandlers(Handlers{
		OnReading: func(ev TagEvent) { s.enqueue(readerEvent{tag: &ev}) },
		OnError:   func(err error) { s.enqueue(readerEvent{err: err}) },
	})

	if err := s.reader.Scan(ctx); err != nil {
		s.resolve(stateScanning)
		kind := KindOf(err)
		if kind != KindUnsupportedEnvironment {
			kind = KindUnexpectedException
		}
		return writeFailure(s.value, kind, "failed to start NFC writing: %s", errorMessage(err))
	}

	for {
		select {
		case ev := <-s.events:
			if ev.err != nil {
				if s.resolve(stateScanning) {
					return writeFailure(s.value, KindHardwareReadError, "error accessing NFC tag: %s", errorMessage(ev.err))
				}
				continue
			}
			if !s.hasWritten.CompareAndSwap(false, true) {
				continue
			}
			if !s.transition(stateScanning, stateWriting) {
				continue
			}
			go func() {
				s.written <- s.reader.Write(writeCtx, BuildSingleRecordPayload(s.value))
			}()

		case err := <-s.written:
			if err != nil {
				if s.resolve(stateWriting) {
					return writeFailure(s.value, KindWriteFailed, "error writing NFC tag: %s", errorMessage(err))
				}
				continue
			}
			if !s.transition(stateWriting, stateVerifying) {
				continue
			}
			s.release()
			return s.verify(ctx)

		case <-timer.C():
			if s.resolve(stateScanning, stateWriting) {
				return writeFailure(s.value, KindTimeout, "no tag written within %s", s.opts.Timeout)
			}

		case <-ctx.Done():
			s.resolve(stateScanning, stateWriting)
			return writeFailure(s.value, KindCancelled, "write cancelled")
		}
	}
}

// resolve moves to the terminal state from any of the given states and releases the writer.
func (s *WriteSession) resolve(from ...sessionState) bool {
	for _, st := range from {
		if s.transition(st, stateResolved) {
			s.release()
			return true
		}
	}
	return false
}

func (s *WriteSession) release() {
	if err := s.reader.Stop(); err != nil {
		s.logger.Printf("Error stopping writer: %v", err)
	}
	s.reader.Detach()
}

// verify waits for the tag to settle, then reads it back on a new reader.
func (s *WriteSession) verify(ctx context.Context) WriteOutcome {
	defer s.state.Store(int32(stateResolved))

	select {
	case <-s.clock.After(s.opts.SettleDelay):
	case <-ctx.Done():
		return writeFailure(s.value, KindCancelled, "write cancelled before verification")
	}

	rb, err := s.opener.Open(ctx)
	if err != nil {
		return writeFailure(s.value, KindVerificationFailed, "could not open reader for verification: %s", errorMessage(err))
	}

	ev, err := awaitTag(ctx, rb, s.clock, s.opts.VerifyTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return writeFailure(s.value, KindCancelled, "write cancelled during verification")
		}
		return writeFailure(s.value, KindVerificationFailed, "could not verify write of %q: %s", s.value, errorMessage(err))
	}

	var got string
	if texts := ev.Message.TextRecords(); len(texts) > 0 {
		got = texts[0]
	}
	if Normalize(got) != Normalize(s.value) && got != s.value {
		return writeFailure(s.value, KindVerificationFailed, "verification failed: expected %q, read back %q", s.value, got)
	}

	s.logger.Printf("Write verified: %s", s.value)
	return WriteOutcome{Success: true, TagID: s.value}
}

// awaitTag scans with reader until the first tag or error, bounded by timeout.
// The reader is stopped and detached before returning.
func awaitTag(ctx context.Context, reader Reader, clock Clock, timeout time.Duration) (TagEvent, error) {
	type result struct {
		ev  TagEvent
		err error
	}
	first := newOneshot[result]()
	reader.SetHandlers(Handlers{
		OnReading: func(ev TagEvent) { first.Fire(result{ev: ev}) },
		OnError: func(err error) {
			if err == nil {
				err = ErrHardwareRead
			}
			first.Fire(result{err: err})
		},
	})
	defer func() {
		reader.Stop()
		reader.Detach()
	}()

	if err := reader.Scan(ctx); err != nil {
		return TagEvent{}, fmt.Errorf("scan: %w", err)
	}

	timer := clock.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-first.C():
		return r.ev, r.err
	case <-timer.C():
		first.Fire(result{err: errReadBackTimeout})
		return TagEvent{}, fmt.Errorf("%w within %s", errReadBackTimeout, timeout)
	case <-ctx.Done():
		first.Fire(result{err: ctx.Err()})
		return TagEvent{}, ctx.Err()
	}
}
