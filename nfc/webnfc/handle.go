package webnfc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dotside-studios/closet-nfc/nfc"
	"github.com/dotside-studios/closet-nfc/protocol"
)

// Handle is a single-use nfc.Reader backed by a Device.
type Handle struct {
	device *Device

	mu       sync.Mutex
	handlers nfc.Handlers
	attached bool
	scanning bool
}

var _ nfc.Reader = (*Handle)(nil)

// NewHandle creates a handle on d. Nothing is sent until Scan.
func NewHandle(d *Device) *Handle {
	return &Handle{device: d}
}

// Device returns the device behind the handle.
func (h *Handle) Device() *Device { return h.device }

func (h *Handle) SetHandlers(handlers nfc.Handlers) {
	h.mu.Lock()
	h.handlers = handlers
	h.mu.Unlock()
}

// Scan attaches the handle to its device and starts NDEFReader.scan() on the page.
func (h *Handle) Scan(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := h.device.attach(h); err != nil {
		return fmt.Errorf("attach to %s: %w", h.device, err)
	}
	h.mu.Lock()
	h.attached = true
	h.mu.Unlock()

	if err := h.device.send(protocol.TypeScan, protocol.ScanCommand{}); err != nil {
		h.device.release(h)
		return fmt.Errorf("send scan command: %w", err)
	}

	h.mu.Lock()
	h.scanning = true
	h.mu.Unlock()
	return nil
}

// Stop aborts the page's scan. Calling it again, or before Scan, does nothing.
func (h *Handle) Stop() error {
	h.mu.Lock()
	if !h.scanning {
		h.mu.Unlock()
		return nil
	}
	h.scanning = false
	h.mu.Unlock()

	err := h.device.send(protocol.TypeStop, protocol.StopCommand{})
	if errors.Is(err, ErrDeviceClosed) {
		return nil
	}
	return err
}

// Write asks the page to write msg and waits for its writeResponse.
func (h *Handle) Write(ctx context.Context, msg nfc.Message) error {
	var tagID string
	if texts := msg.TextRecords(); len(texts) > 0 {
		tagID = texts[0]
	}

	records, err := ConvertMessage(msg)
	if err != nil {
		return nfc.NewWriteError("Write", tagID, err)
	}
	raw, err := msg.Encode()
	if err != nil {
		return nfc.NewWriteError("Write", tagID, err)
	}

	requestID := uuid.NewString()
	ch := h.device.expectWrite(requestID)
	defer h.device.forgetWrite(requestID)

	cmd := protocol.WriteCommand{RequestID: requestID, Records: records, Raw: raw}
	if err := h.device.send(protocol.TypeWrite, cmd); err != nil {
		return nfc.NewWriteError("Write", tagID, err)
	}

	select {
	case resp := <-ch:
		if !resp.Success {
			reason := resp.Error
			if reason == "" {
				reason = "device reported write failure"
			}
			return nfc.NewWriteError("Write", tagID, errors.New(reason))
		}
		return nil
	case <-ctx.Done():
		return nfc.NewWriteError("Write", tagID, ctx.Err())
	case <-h.device.Done():
		return nfc.NewWriteError("Write", tagID, ErrDeviceClosed)
	}
}

// Detach removes the handlers and frees the device for the next handle.
func (h *Handle) Detach() {
	h.mu.Lock()
	h.handlers = nfc.Handlers{}
	attached := h.attached
	h.attached = false
	h.mu.Unlock()

	if attached {
		h.device.release(h)
	}
}

func (h *Handle) emitTag(ev nfc.TagEvent) {
	h.mu.Lock()
	fn := h.handlers.OnReading
	h.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (h *Handle) emitError(err error) {
	h.mu.Lock()
	fn := h.handlers.OnError
	h.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}
