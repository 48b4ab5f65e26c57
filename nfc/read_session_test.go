package nfc

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func textEvent(serial string, texts ...string) TagEvent {
	var msg Message
	for _, text := range texts {
		msg.Records = append(msg.Records, NewTextRecord(text, DefaultLanguage))
	}
	return TagEvent{SerialNumber: serial, Message: msg}
}

func waitScanning(t *testing.T, r *MockReader) {
	t.Helper()
	select {
	case <-r.Scanning():
	case <-time.After(2 * time.Second):
		t.Fatal("reader never started scanning")
	}
}

func startRead(t *testing.T, ctx context.Context, r *MockReader, resolver ExistenceResolver, clock Clock, opts ReadOptions) <-chan ScanOutcome {
	t.Helper()
	s := NewReadSession(r, resolver, clock, testLogger(), opts)
	ch := make(chan ScanOutcome, 1)
	go func() { ch <- s.Run(ctx) }()
	waitScanning(t, r)
	return ch
}

func awaitScan(t *testing.T, ch <-chan ScanOutcome) ScanOutcome {
	t.Helper()
	select {
	case out := <-ch:
		return out
	case <-time.After(2 * time.Second):
		t.Fatal("read session did not resolve")
	}
	return ScanOutcome{}
}

func TestReadSessionPrefersTextOverSerial(t *testing.T) {
	r := NewMockReader()
	clock := NewFakeClock(time.Now())
	ch := startRead(t, context.Background(), r, NewMockResolver(), clock, ReadOptions{})

	r.EmitTag(textEvent("04:A2:3B:4C:5D:6E:7F", "ABCDEF12"))

	out := awaitScan(t, ch)
	if !out.Success {
		t.Fatalf("expected success, got %s: %s", out.Kind, out.Message)
	}
	if out.TagID != "ABCDEF12" {
		t.Errorf("TagID = %q, want ABCDEF12", out.TagID)
	}
	if out.Source != SourceText1 {
		t.Errorf("Source = %q, want %q", out.Source, SourceText1)
	}
	if out.SerialNumber != "04:A2:3B:4C:5D:6E:7F" {
		t.Errorf("SerialNumber not carried through: %q", out.SerialNumber)
	}
}

func TestReadSessionResolvesExactlyOnce(t *testing.T) {
	r := NewMockReader()
	clock := NewFakeClock(time.Now())
	ch := startRead(t, context.Background(), r, NewMockResolver(), clock, ReadOptions{})

	r.EmitTag(textEvent("", "1A2B3C4D"))
	r.EmitError(errors.New("spurious"))
	r.EmitTag(textEvent("", "FFFF0000"))

	out := awaitScan(t, ch)
	if !out.Success || out.TagID != "1A2B3C4D" {
		t.Fatalf("expected first tag to win, got %+v", out)
	}

	if r.EmitTag(textEvent("", "EEEE0000")) {
		t.Error("handlers still attached after resolution")
	}
	if r.EmitError(errors.New("late")) {
		t.Error("error handler still attached after resolution")
	}

	clock.Advance(DefaultReadTimeout)
	select {
	case extra := <-ch:
		t.Fatalf("session delivered a second outcome: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestReadSessionTeardownOrder(t *testing.T) {
	r := NewMockReader()
	ch := startRead(t, context.Background(), r, nil, NewFakeClock(time.Now()), ReadOptions{SkipExistenceCheck: true})

	r.EmitTag(textEvent("", "1A2B3C4D"))
	awaitScan(t, ch)

	calls := r.Calls()
	if len(calls) < 2 || calls[len(calls)-2] != "stop" || calls[len(calls)-1] != "detach" {
		t.Errorf("expected stop then detach at the end, got %v", calls)
	}
}

func TestReadSessionIgnoresErrorRaisedByStop(t *testing.T) {
	r := NewMockReader()
	r.StopError = errors.New("AbortError: scan aborted")
	ch := startRead(t, context.Background(), r, nil, NewFakeClock(time.Now()), ReadOptions{SkipExistenceCheck: true})

	r.EmitTag(textEvent("", "1A2B3C4D"))

	out := awaitScan(t, ch)
	if !out.Success {
		t.Fatalf("error from Stop overrode the result: %s %s", out.Kind, out.Message)
	}
}

func TestReadSessionAlreadyAssociated(t *testing.T) {
	resolver := NewMockResolver()
	resolver.Bind("1A2B3C4D", EntityGarment, "g-1", "Blue Shirt")

	r := NewMockReader()
	ch := startRead(t, context.Background(), r, resolver, NewFakeClock(time.Now()), ReadOptions{})
	r.EmitTag(textEvent("", "1A2B3C4D"))

	out := awaitScan(t, ch)
	if out.Success {
		t.Fatal("expected duplicate to fail")
	}
	if out.Kind != KindAlreadyAssociated {
		t.Errorf("Kind = %s, want %s", out.Kind, KindAlreadyAssociated)
	}
	if !strings.Contains(out.Message, "Blue Shirt") {
		t.Errorf("message %q does not name the owner", out.Message)
	}
	if out.Entity == nil || out.Entity.EntityID != "g-1" {
		t.Errorf("Entity = %+v", out.Entity)
	}
	if !errors.Is(out.Err(), &Error{Kind: KindAlreadyAssociated}) {
		t.Errorf("Err() = %v does not match kind", out.Err())
	}
}

func TestReadSessionIntendedEntityIsNotConflict(t *testing.T) {
	resolver := NewMockResolver()
	resolver.Bind("1A2B3C4D", EntityGarment, "g-1", "Blue Shirt")

	r := NewMockReader()
	opts := ReadOptions{Intended: &EntityRef{Type: EntityGarment, ID: "g-1"}}
	ch := startRead(t, context.Background(), r, resolver, NewFakeClock(time.Now()), opts)
	r.EmitTag(textEvent("", "1A2B3C4D"))

	out := awaitScan(t, ch)
	if !out.Success || out.TagID != "1A2B3C4D" {
		t.Fatalf("expected success for the intended entity, got %+v", out)
	}
}

func TestReadSessionSecondTextWhenFirstConflicts(t *testing.T) {
	resolver := NewMockResolver()
	resolver.Bind("AAAA1111", EntityBox, "b-1", "Winter")

	r := NewMockReader()
	ch := startRead(t, context.Background(), r, resolver, NewFakeClock(time.Now()), ReadOptions{})
	r.EmitTag(textEvent("", "AAAA1111", "BBBB2222"))

	out := awaitScan(t, ch)
	if !out.Success || out.TagID != "BBBB2222" || out.Source != SourceText2 {
		t.Fatalf("expected second text record, got %+v", out)
	}
}

func TestReadSessionKnownTagSkipsCheck(t *testing.T) {
	resolver := NewMockResolver()
	resolver.Bind("1A2B3C4D", EntityGarment, "g-1", "Blue Shirt")

	r := NewMockReader()
	ch := startRead(t, context.Background(), r, resolver, NewFakeClock(time.Now()), ReadOptions{SkipExistenceCheck: true})
	r.EmitTag(textEvent("", "1A2B3C4D"))

	out := awaitScan(t, ch)
	if !out.Success || out.TagID != "1A2B3C4D" {
		t.Fatalf("expected lookup read to succeed, got %+v", out)
	}
	if len(resolver.Queries) != 0 {
		t.Errorf("existence check ran with SkipExistenceCheck: %v", resolver.Queries)
	}
}

func TestReadSessionResolverErrorTreatedAsUnbound(t *testing.T) {
	resolver := NewMockResolver()
	resolver.Err = errors.New("database is locked")

	r := NewMockReader()
	ch := startRead(t, context.Background(), r, resolver, NewFakeClock(time.Now()), ReadOptions{})
	r.EmitTag(textEvent("", "1A2B3C4D"))

	out := awaitScan(t, ch)
	if !out.Success {
		t.Fatalf("resolver failure should not fail the read: %s", out.Message)
	}
}

func TestReadSessionFreshRegistration(t *testing.T) {
	r := NewMockReader()
	ch := startRead(t, context.Background(), r, NewMockResolver(), NewFakeClock(time.Now()), ReadOptions{})
	r.EmitTag(TagEvent{})

	out := awaitScan(t, ch)
	if !out.Success {
		t.Fatalf("expected registration to succeed, got %s: %s", out.Kind, out.Message)
	}
	if out.Source != SourceGenerated || !IsValidIdentifier(out.TagID) {
		t.Errorf("unexpected generated selection %+v", out)
	}

	written := r.Written()
	if len(written) != 1 {
		t.Fatalf("expected exactly one write, got %d", len(written))
	}
	texts := written[0].TextRecords()
	if len(written[0].Records) != 1 || len(texts) != 1 || texts[0] != out.TagID {
		t.Errorf("written message %+v does not carry %s", written[0], out.TagID)
	}
}

func TestReadSessionRegistrationWriteFails(t *testing.T) {
	r := NewMockReader()
	r.WriteErr = errors.New("tag is read-only")
	ch := startRead(t, context.Background(), r, NewMockResolver(), NewFakeClock(time.Now()), ReadOptions{})
	r.EmitTag(TagEvent{})

	out := awaitScan(t, ch)
	if out.Kind != KindWriteFailed {
		t.Fatalf("Kind = %s, want %s", out.Kind, KindWriteFailed)
	}
}

func TestReadSessionNoUsableIdentifier(t *testing.T) {
	r := NewMockReader()
	ch := startRead(t, context.Background(), r, nil, NewFakeClock(time.Now()), ReadOptions{SkipExistenceCheck: true})
	r.EmitTag(textEvent("", "hello"))

	out := awaitScan(t, ch)
	if out.Kind != KindNoUsableIdentifier {
		t.Fatalf("Kind = %s, want %s", out.Kind, KindNoUsableIdentifier)
	}
	if len(r.Written()) != 0 {
		t.Error("lookup read must never write")
	}
}

func TestReadSessionFallbacks(t *testing.T) {
	tests := []struct {
		name   string
		ev     TagEvent
		want   string
		source SourceKind
	}{
		{
			name:   "hardware serial",
			ev:     TagEvent{SerialNumber: "04:a2:3b:4c:5d:6e:7f"},
			want:   "04:A2:3B:4C:5D:6E",
			source: SourceSerial,
		},
		{
			name: "hex of non-text record",
			ev: TagEvent{Message: Message{Records: []Record{
				{TNF: TNFMedia, Type: []byte("application/octet-stream"), Payload: []byte{0xDE, 0xAD, 0xBE, 0xEF}},
			}}},
			want:   "DEADBEEF",
			source: SourceHex,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewMockReader()
			ch := startRead(t, context.Background(), r, nil, NewFakeClock(time.Now()), ReadOptions{SkipExistenceCheck: true})
			r.EmitTag(tt.ev)

			out := awaitScan(t, ch)
			if !out.Success || out.TagID != tt.want || out.Source != tt.source {
				t.Errorf("got %+v, want %s from %s", out, tt.want, tt.source)
			}
		})
	}
}

func TestReadSessionTimeout(t *testing.T) {
	r := NewMockReader()
	clock := NewFakeClock(time.Now())
	ch := startRead(t, context.Background(), r, nil, clock, ReadOptions{})

	clock.BlockUntil(1)
	clock.Advance(29 * time.Second)
	select {
	case out := <-ch:
		t.Fatalf("resolved before the timeout: %+v", out)
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(time.Second)
	out := awaitScan(t, ch)
	if out.Kind != KindTimeout {
		t.Fatalf("Kind = %s, want %s", out.Kind, KindTimeout)
	}
	if calls := r.Calls(); calls[len(calls)-1] != "detach" {
		t.Errorf("reader not detached after timeout: %v", calls)
	}
}

type blockingResolver struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingResolver) CheckTagExists(ctx context.Context, id string) (Existence, error) {
	close(b.entered)
	<-b.release
	return Existence{}, nil
}

func TestReadSessionTimeoutWhileProcessing(t *testing.T) {
	resolver := &blockingResolver{entered: make(chan struct{}), release: make(chan struct{})}
	defer close(resolver.release)

	r := NewMockReader()
	clock := NewFakeClock(time.Now())
	ch := startRead(t, context.Background(), r, resolver, clock, ReadOptions{})

	r.EmitTag(textEvent("", "1A2B3C4D"))
	<-resolver.entered

	clock.BlockUntil(1)
	clock.Advance(DefaultReadTimeout)

	out := awaitScan(t, ch)
	if out.Kind != KindTimeout {
		t.Fatalf("Kind = %s, want %s", out.Kind, KindTimeout)
	}
}

// syncLog collects log output written from several goroutines.
type syncLog struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (l *syncLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.Write(p)
}

func (l *syncLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.buf.String()
}

func TestReadSessionTimeoutDuringRegistrationLogsIdentifier(t *testing.T) {
	written := make(chan string, 1)
	r := NewMockReader()
	r.WriteFunc = func(ctx context.Context, msg Message) error {
		written <- msg.TextRecords()[0]
		<-ctx.Done()
		return ctx.Err()
	}

	logs := &syncLog{}
	clock := NewFakeClock(time.Now())
	s := NewReadSession(r, NewMockResolver(), clock, log.New(logs, "", 0), ReadOptions{})
	ch := make(chan ScanOutcome, 1)
	go func() { ch <- s.Run(context.Background()) }()
	waitScanning(t, r)

	r.EmitTag(TagEvent{})
	id := <-written

	clock.BlockUntil(1)
	clock.Advance(DefaultReadTimeout)
	if out := awaitScan(t, ch); out.Kind != KindTimeout {
		t.Fatalf("Kind = %s, want %s", out.Kind, KindTimeout)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(logs.String(), "generated identifier "+id) {
		if time.Now().After(deadline) {
			t.Fatalf("late registration of %s was not logged:\n%s", id, logs.String())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReadSessionHardwareError(t *testing.T) {
	r := NewMockReader()
	ch := startRead(t, context.Background(), r, nil, NewFakeClock(time.Now()), ReadOptions{})
	r.EmitError(errors.New("NetworkError: tag lost"))

	out := awaitScan(t, ch)
	if out.Kind != KindHardwareReadError {
		t.Fatalf("Kind = %s, want %s", out.Kind, KindHardwareReadError)
	}
}

func TestReadSessionScanFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"unsupported", NewUnsupportedError("Scan", "NFC permission denied"), KindUnsupportedEnvironment},
		{"generic", errors.New("boom"), KindUnexpectedException},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewMockReader()
			r.ScanErr = tt.err
			s := NewReadSession(r, nil, NewFakeClock(time.Now()), testLogger(), ReadOptions{})

			out := s.Run(context.Background())
			if out.Kind != tt.want {
				t.Errorf("Kind = %s, want %s", out.Kind, tt.want)
			}
		})
	}
}

func TestReadSessionCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := NewMockReader()
	ch := startRead(t, ctx, r, nil, NewFakeClock(time.Now()), ReadOptions{})

	cancel()
	out := awaitScan(t, ch)
	if out.Kind != KindCancelled {
		t.Fatalf("Kind = %s, want %s", out.Kind, KindCancelled)
	}
}

type panickingResolver struct{}

func (panickingResolver) CheckTagExists(ctx context.Context, id string) (Existence, error) {
	panic("resolver exploded")
}

func TestReadSessionRecoversPanic(t *testing.T) {
	r := NewMockReader()
	ch := startRead(t, context.Background(), r, panickingResolver{}, NewFakeClock(time.Now()), ReadOptions{})
	r.EmitTag(textEvent("", "1A2B3C4D"))

	out := awaitScan(t, ch)
	if out.Kind != KindUnexpectedException {
		t.Fatalf("Kind = %s, want %s", out.Kind, KindUnexpectedException)
	}
}

func TestReadSessionRunTwice(t *testing.T) {
	r := NewMockReader()
	s := NewReadSession(r, nil, NewFakeClock(time.Now()), testLogger(), ReadOptions{SkipExistenceCheck: true})
	ch := make(chan ScanOutcome, 1)
	go func() { ch <- s.Run(context.Background()) }()
	waitScanning(t, r)
	r.EmitTag(textEvent("", "1A2B3C4D"))
	awaitScan(t, ch)

	if out := s.Run(context.Background()); out.Kind != KindUnexpectedException {
		t.Errorf("second Run = %s, want %s", out.Kind, KindUnexpectedException)
	}
	if s.State() != "resolved" {
		t.Errorf("State = %s, want resolved", s.State())
	}
}
