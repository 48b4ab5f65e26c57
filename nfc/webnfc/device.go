package webnfc

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dotside-studios/closet-nfc/nfc"
	"github.com/dotside-studios/closet-nfc/protocol"
)

var (
	// ErrDeviceClosed is reported when the device socket goes away mid-session.
	ErrDeviceClosed = errors.New("device disconnected")
	// ErrDeviceBusy is returned when a second handle tries to scan on the same device.
	ErrDeviceBusy = errors.New("device already has an active reader")
)

// Conn is the outbound half of a device socket. *websocket.Conn satisfies it.
type Conn interface {
	WriteJSON(v any) error
	Close() error
}

// Device is one registered Web NFC page. At most one Handle is attached at a time;
// readings arriving with no handle attached are dropped.
type Device struct {
	id           string
	info         protocol.DeviceRegistrationRequest
	conn         Conn
	registeredAt time.Time
	logger       *log.Logger

	sendMu sync.Mutex // gorilla connections allow one concurrent writer

	mu       sync.Mutex
	lastSeen time.Time
	active   bool
	handle   *Handle
	pending  map[string]chan protocol.WriteResponse
	closed   chan struct{}
}

func newDevice(id string, req protocol.DeviceRegistrationRequest, conn Conn, now time.Time, logger *log.Logger) *Device {
	return &Device{
		id:           id,
		info:         req,
		conn:         conn,
		registeredAt: now,
		logger:       logger,
		lastSeen:     now,
		active:       true,
		pending:      make(map[string]chan protocol.WriteResponse),
		closed:       make(chan struct{}),
	}
}

// ID returns the device's unique identifier.
func (d *Device) ID() string { return d.id }

// Name returns the name the device registered with.
func (d *Device) Name() string { return d.info.DeviceName }

// Platform returns "web", "android" or "ios".
func (d *Device) Platform() string { return d.info.Platform }

// Capabilities returns what the device reported at registration.
func (d *Device) Capabilities() protocol.DeviceCapabilities { return d.info.Capabilities }

func (d *Device) String() string {
	return fmt.Sprintf("%s [%s]", d.info.DeviceName, d.id)
}

// LastSeen returns the last activity timestamp.
func (d *Device) LastSeen() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen
}

// IsActive reports whether the device socket is still open.
func (d *Device) IsActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// InUse reports whether a handle is attached.
func (d *Device) InUse() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle != nil
}

// Done is closed when the device disconnects.
func (d *Device) Done() <-chan struct{} {
	return d.closed
}

// Info returns the API view of the device.
func (d *Device) Info() protocol.DeviceInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return protocol.DeviceInfo{
		ID:           d.id,
		Name:         d.info.DeviceName,
		Platform:     d.info.Platform,
		Capabilities: d.info.Capabilities,
		LastSeen:     d.lastSeen,
		InUse:        d.handle != nil,
	}
}

// Capable returns an UnsupportedEnvironment error when the device cannot run sessions.
func (d *Device) Capable() error {
	caps := d.info.Capabilities
	switch {
	case !d.IsActive():
		return nfc.NewUnsupportedError("Open", "device disconnected")
	case !caps.SecureContext:
		return nfc.NewUnsupportedError("Open", "Web NFC requires a secure context (https)")
	case !caps.CanRead:
		return nfc.NewUnsupportedError("Open", "device cannot read NFC tags")
	case !caps.CanWrite:
		return nfc.NewUnsupportedError("Open", "device cannot write NFC tags")
	}
	return nil
}

func (d *Device) touch(now time.Time) {
	d.mu.Lock()
	d.lastSeen = now
	d.mu.Unlock()
}

// Close marks the device inactive, fails the attached handle and closes the socket.
func (d *Device) Close() error {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return nil
	}
	d.active = false
	close(d.closed)
	h := d.handle
	d.handle = nil
	d.mu.Unlock()

	if h != nil {
		h.emitError(nfc.NewReadError("Scan", ErrDeviceClosed))
	}
	return d.conn.Close()
}

// send writes one command frame to the device.
func (d *Device) send(msgType string, payload any) error {
	return d.writeFrame(protocol.Message{Type: msgType, Payload: payload})
}

func (d *Device) writeFrame(v any) error {
	if !d.IsActive() {
		return ErrDeviceClosed
	}
	d.sendMu.Lock()
	defer d.sendMu.Unlock()
	return d.conn.WriteJSON(v)
}

func (d *Device) attach(h *Handle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return ErrDeviceClosed
	}
	if d.handle != nil && d.handle != h {
		return ErrDeviceBusy
	}
	d.handle = h
	return nil
}

func (d *Device) release(h *Handle) {
	d.mu.Lock()
	if d.handle == h {
		d.handle = nil
	}
	d.mu.Unlock()
}

func (d *Device) current() *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle
}

// HandleReading routes a reading to the attached handle.
// A reading that cannot be converted is reported to the handle as a read error.
func (d *Device) HandleReading(r protocol.Reading, now time.Time) error {
	d.touch(now)

	h := d.current()
	ev, err := ConvertReading(r, now)
	if err != nil {
		if h != nil {
			h.emitError(nfc.NewReadError("Scan", err))
		}
		return err
	}
	if h == nil {
		d.logger.Printf("No active reader on %s, dropping reading (serial=%s)", d, ev.SerialNumber)
		return nil
	}
	h.emitTag(ev)
	return nil
}

// HandleReadingError routes a readingError frame to the attached handle.
func (d *Device) HandleReadingError(re protocol.ReadingError, now time.Time) {
	d.touch(now)

	msg := re.Message
	if re.Name != "" {
		msg = re.Name + ": " + msg
	}
	if h := d.current(); h != nil {
		h.emitError(nfc.NewReadError("Scan", errors.New(msg)))
		return
	}
	d.logger.Printf("No active reader on %s, dropping reading error: %s", d, msg)
}

// HandleWriteResponse completes the pending write with the same request ID.
func (d *Device) HandleWriteResponse(resp protocol.WriteResponse, now time.Time) error {
	d.touch(now)

	d.mu.Lock()
	ch, ok := d.pending[resp.RequestID]
	if ok {
		delete(d.pending, resp.RequestID)
	}
	d.mu.Unlock()

	if !ok {
		return fmt.Errorf("no pending write with request ID %q", resp.RequestID)
	}
	ch <- resp
	return nil
}

func (d *Device) expectWrite(requestID string) <-chan protocol.WriteResponse {
	ch := make(chan protocol.WriteResponse, 1)
	d.mu.Lock()
	d.pending[requestID] = ch
	d.mu.Unlock()
	return ch
}

func (d *Device) forgetWrite(requestID string) {
	d.mu.Lock()
	delete(d.pending, requestID)
	d.mu.Unlock()
}
