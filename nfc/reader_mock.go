package nfc

import (
	"context"
	"sync"
)

// MockReader is a scriptable Reader for tests.
type MockReader struct {
	mu       sync.Mutex
	handlers Handlers
	calls    []string
	written  []Message
	scanning chan struct{}
	scanOnce sync.Once

	// ScanErr is returned from Scan.
	ScanErr error
	// WriteFunc, when set, handles Write; otherwise Write records the message and returns WriteErr.
	WriteFunc func(ctx context.Context, msg Message) error
	WriteErr  error
	// StopError, when set, is reported through OnError from inside Stop, as real hardware sometimes does.
	StopError error
}

// NewMockReader creates a reader with no handlers attached.
func NewMockReader() *MockReader {
	return &MockReader{scanning: make(chan struct{})}
}

func (m *MockReader) record(call string) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
}

func (m *MockReader) SetHandlers(h Handlers) {
	m.mu.Lock()
	m.handlers = h
	m.mu.Unlock()
	m.record("handlers")
}

func (m *MockReader) Scan(ctx context.Context) error {
	m.record("scan")
	if m.ScanErr != nil {
		return m.ScanErr
	}
	m.scanOnce.Do(func() { close(m.scanning) })
	return nil
}

// Scanning is closed once Scan has succeeded.
func (m *MockReader) Scanning() <-chan struct{} {
	return m.scanning
}

func (m *MockReader) Write(ctx context.Context, msg Message) error {
	m.record("write")
	if m.WriteFunc != nil {
		return m.WriteFunc(ctx, msg)
	}
	m.mu.Lock()
	m.written = append(m.written, msg)
	m.mu.Unlock()
	return m.WriteErr
}

func (m *MockReader) Stop() error {
	m.record("stop")
	if m.StopError != nil {
		m.EmitError(m.StopError)
	}
	return nil
}

func (m *MockReader) Detach() {
	m.mu.Lock()
	m.handlers = Handlers{}
	m.mu.Unlock()
	m.record("detach")
}

// EmitTag delivers a tag event to the attached handler, if any.
func (m *MockReader) EmitTag(ev TagEvent) bool {
	m.mu.Lock()
	h := m.handlers.OnReading
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(ev)
	return true
}

// EmitError delivers a reader error to the attached handler, if any.
func (m *MockReader) EmitError(err error) bool {
	m.mu.Lock()
	h := m.handlers.OnError
	m.mu.Unlock()
	if h == nil {
		return false
	}
	h(err)
	return true
}

// Calls returns the method calls in order.
func (m *MockReader) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Written returns the messages passed to Write.
func (m *MockReader) Written() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.written...)
}

// MockOpener hands out queued readers in order, then fresh ones.
type MockOpener struct {
	mu      sync.Mutex
	queue   []*MockReader
	opened  []*MockReader
	OpenErr error
}

// NewMockOpener creates an opener that returns readers in the given order.
func NewMockOpener(readers ...*MockReader) *MockOpener {
	return &MockOpener{queue: readers}
}

func (o *MockOpener) Open(ctx context.Context) (Reader, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	var r *MockReader
	if len(o.queue) > 0 {
		r, o.queue = o.queue[0], o.queue[1:]
	} else {
		r = NewMockReader()
	}
	o.opened = append(o.opened, r)
	return r, nil
}

// Opened returns every reader handed out so far.
func (o *MockOpener) Opened() []*MockReader {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]*MockReader(nil), o.opened...)
}

// MockResolver answers existence checks from a map.
type MockResolver struct {
	mu       sync.Mutex
	Bindings map[string]Existence
	Err      error
	Queries  []string
}

// NewMockResolver creates a resolver with no bindings.
func NewMockResolver() *MockResolver {
	return &MockResolver{Bindings: make(map[string]Existence)}
}

// Bind marks id as owned by the given entity.
func (r *MockResolver) Bind(id string, typ EntityType, entityID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Bindings[id] = Existence{Exists: true, EntityType: typ, EntityID: entityID, EntityName: name}
}

func (r *MockResolver) CheckTagExists(ctx context.Context, id string) (Existence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Queries = append(r.Queries, id)
	if r.Err != nil {
		return Existence{}, r.Err
	}
	return r.Bindings[id], nil
}
