package nfc

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync/atomic"
	"time"
)

type sessionState int32

const (
	stateIdle sessionState = iota
	stateScanning
	stateProcessing
	stateWriting
	stateVerifying
	stateResolved
)

func (s sessionState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateScanning:
		return "scanning"
	case stateProcessing:
		return "processing"
	case stateWriting:
		return "writing"
	case stateVerifying:
		return "verifying"
	case stateResolved:
		return "resolved"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// eventQueueSize bounds reader events buffered ahead of the session loop.
const eventQueueSize = 16

type readerEvent struct {
	tag *TagEvent
	err error
}

// ReadOptions configures one read session.
type ReadOptions struct {
	// SkipExistenceCheck is set for "find an existing tag" flows. When false the
	// session registers blank tags and rejects identifiers owned by another entity.
	SkipExistenceCheck bool `json:"skipExistenceCheck"`

	// Intended is the entity the caller is registering, if any. A tag already
	// bound to it is not reported as a conflict.
	Intended *EntityRef `json:"intended,omitempty"`

	// Timeout defaults to DefaultReadTimeout.
	Timeout time.Duration `json:"-"`
}

// ReadSession runs one scan lifecycle against a reader and resolves exactly once.
type ReadSession struct {
	reader   Reader
	resolver ExistenceResolver
	clock    Clock
	logger   *log.Logger
	opts     ReadOptions

	state     atomic.Int32
	events    chan readerEvent
	processed chan ScanOutcome
}

// NewReadSession creates a session owning reader. A nil resolver treats every identifier as unbound.
func NewReadSession(reader Reader, resolver ExistenceResolver, clock Clock, logger *log.Logger, opts ReadOptions) *ReadSession {
	if clock == nil {
		clock = NewRealClock()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultReadTimeout
	}
	return &ReadSession{
		reader:    reader,
		resolver:  resolver,
		clock:     clock,
		logger:    logger,
		opts:      opts,
		events:    make(chan readerEvent, eventQueueSize),
		processed: make(chan ScanOutcome, 1),
	}
}

// State returns the current state name.
func (s *ReadSession) State() string {
	return sessionState(s.state.Load()).String()
}

// transition is the only way the session changes state.
func (s *ReadSession) transition(from, to sessionState) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

func (s *ReadSession) resolved() bool {
	return sessionState(s.state.Load()) == stateResolved
}

func (s *ReadSession) enqueue(ev readerEvent) {
	if s.resolved() {
		s.logger.Printf("Dropping reader event after resolution (error=%v)", ev.err)
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Printf("Event queue full, dropping reader event")
	}
}

// Run scans until the first of tag, reader error, timeout or cancellation and
// returns the outcome. The reader is stopped and detached before Run returns.
func (s *ReadSession) Run(ctx context.Context) ScanOutcome {
	if !s.transition(stateIdle, stateScanning) {
		return scanFailure(KindUnexpectedException, "read session already started")
	}

	timer := s.clock.NewTimer(s.opts.Timeout)
	defer timer.Stop()

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	s.reader.SetHandlers(Handlers{
		OnReading: func(ev TagEvent) { s.enqueue(readerEvent{tag: &ev}) },
		OnError:   func(err error) { s.enqueue(readerEvent{err: err}) },
	})

	if err := s.reader.Scan(ctx); err != nil {
		kind := KindOf(err)
		if kind == KindNone || kind == KindUnexpectedException {
			kind = KindUnexpectedException
		}
		out, _ := s.finish(scanFailure(kind, "failed to start NFC reading: %s", errorMessage(err)), stateScanning)
		return out
	}

	for {
		select {
		case ev := <-s.events:
			if ev.err != nil {
				if out, ok := s.finish(s.readError(ev.err), stateScanning); ok {
					return out
				}
				s.logger.Printf("Ignoring reader error while %s: %v", s.State(), ev.err)
				continue
			}
			if !s.transition(stateScanning, stateProcessing) {
				s.logger.Printf("Ignoring tag event while %s", s.State())
				continue
			}
			go func(ev TagEvent) {
				s.processed <- s.process(workCtx, ev)
			}(*ev.tag)

		case out := <-s.processed:
			if res, ok := s.finish(out, stateProcessing); ok {
				return res
			}

		case <-timer.C():
			processing := sessionState(s.state.Load()) == stateProcessing
			out := scanFailure(KindTimeout, "no tag read within %s", s.opts.Timeout)
			if res, ok := s.finish(out, stateScanning, stateProcessing); ok {
				if processing {
					go s.traceLateResult()
				}
				return res
			}

		case <-ctx.Done():
			processing := sessionState(s.state.Load()) == stateProcessing
			out := scanFailure(KindCancelled, "read cancelled")
			if res, ok := s.finish(out, stateScanning, stateProcessing); ok {
				if processing {
					go s.traceLateResult()
				}
				return res
			}
			return scanFailure(KindCancelled, "read cancelled")
		}
	}
}

func (s *ReadSession) readError(err error) ScanOutcome {
	if err == nil {
		return scanFailure(KindHardwareReadError, "error reading NFC tag")
	}
	return scanFailure(KindHardwareReadError, "error reading NFC tag: %s", errorMessage(err))
}

// traceLateResult waits for tag processing that outlived the session. A
// registration write may still land on the tag, so its identifier is logged.
func (s *ReadSession) traceLateResult() {
	out := <-s.processed
	if out.Source == SourceGenerated {
		s.logger.Printf("Registration finished after the read resolved (%s); tag may carry generated identifier %s",
			outcomeLabel(out), out.TagID)
		return
	}
	s.logger.Printf("Discarding tag result that arrived after the read resolved: %s", outcomeLabel(out))
}

func outcomeLabel(out ScanOutcome) string {
	if out.Success {
		return "success"
	}
	return out.Kind.String()
}

// finish resolves the session if it is in one of the given states.
// Teardown runs stop, then detach, before the outcome is handed back.
func (s *ReadSession) finish(out ScanOutcome, from ...sessionState) (ScanOutcome, bool) {
	for _, st := range from {
		if !s.transition(st, stateResolved) {
			continue
		}
		if err := s.reader.Stop(); err != nil {
			s.logger.Printf("Error stopping reader: %v", err)
		}
		s.reader.Detach()
		if out.Success {
			s.logger.Printf("Read resolved: tag=%s source=%s", out.TagID, out.Source)
		} else {
			s.logger.Printf("Read resolved: %s (%s)", out.Kind, out.Message)
		}
		return out, true
	}
	return ScanOutcome{}, false
}

// process turns one tag event into an outcome. Selection is pure; the
// existence lookups and the registration write happen around it.
func (s *ReadSession) process(ctx context.Context, ev TagEvent) (out ScanOutcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("Panic while processing tag: %v", r)
			out = scanFailure(KindUnexpectedException, "error processing NFC tag: %v", r)
		}
	}()

	check := !s.opts.SkipExistenceCheck
	in := SelectInput{Now: s.clock.Now()}

	if check {
		if texts := TextCandidates(ev.Message); len(texts) > 1 {
			existing := s.lookup(ctx, texts[0])
			in.Text1Conflicts = existing.Exists && !existing.BelongsTo(s.opts.Intended)
		}
	}

	sel := Select(ev, in)
	if !sel.Found() {
		if !check {
			out = scanFailure(KindNoUsableIdentifier, "tag carries no usable identifier")
			out.SerialNumber = ev.SerialNumber
			out.Records = ev.Message.Records
			return out
		}
		id := GenerateIdentifier()
		if err := s.reader.Write(ctx, BuildSingleRecordPayload(id)); err != nil {
			out = scanFailure(KindWriteFailed, "failed to write new identifier to tag: %s", errorMessage(err))
			out.TagID = id
			out.Source = SourceGenerated
			return out
		}
		s.logger.Printf("Registered blank tag with generated identifier %s", id)
		sel = Selection{TagID: id, Source: SourceGenerated}
	}

	if check {
		existing := s.lookup(ctx, sel.TagID)
		if existing.Exists && !existing.BelongsTo(s.opts.Intended) {
			out = scanFailure(KindAlreadyAssociated, "tag already associated with %s %q",
				existing.EntityType.Label(), existing.EntityName)
			out.TagID = sel.TagID
			out.Source = sel.Source
			out.Entity = &existing
			return out
		}
	}

	return ScanOutcome{
		Success:      true,
		TagID:        sel.TagID,
		Source:       sel.Source,
		SerialNumber: ev.SerialNumber,
		Records:      ev.Message.Records,
	}
}

// lookup treats resolver failures as "not bound".
func (s *ReadSession) lookup(ctx context.Context, id string) Existence {
	if s.resolver == nil {
		return Existence{}
	}
	existing, err := s.resolver.CheckTagExists(ctx, id)
	if err != nil {
		s.logger.Printf("Existence check for %s failed, treating as unbound: %v", id, err)
		return Existence{}
	}
	return existing
}
