package nfc

import (
	"fmt"
	"time"
)

// Session timing defaults.
const (
	DefaultReadTimeout   = 30 * time.Second
	DefaultWriteTimeout  = 30 * time.Second
	DefaultSettleDelay   = 1500 * time.Millisecond
	DefaultVerifyTimeout = 5 * time.Second
	DefaultCooldown      = 1 * time.Second
	DefaultErrorGrace    = 200 * time.Millisecond
)

// ScanOutcome is the single result of a read session.
type ScanOutcome struct {
	Success      bool       `json:"success"`
	TagID        string     `json:"tagId,omitempty"`
	Source       SourceKind `json:"source,omitempty"`
	SerialNumber string     `json:"serialNumber,omitempty"`
	Records      []Record   `json:"records,omitempty"`
	Kind         ErrorKind  `json:"errorKind,omitempty"`
	Message      string     `json:"message,omitempty"`
	Entity       *Existence `json:"entity,omitempty"`
}

// Err returns the outcome as an *Error, or nil on success.
func (o ScanOutcome) Err() error {
	if o.Success {
		return nil
	}
	return &Error{Kind: o.Kind, Op: "Read", TagID: o.TagID, Message: o.Message}
}

// WriteOutcome is the single result of a write session.
type WriteOutcome struct {
	Success bool      `json:"success"`
	TagID   string    `json:"tagId,omitempty"`
	Kind    ErrorKind `json:"errorKind,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Err returns the outcome as an *Error, or nil on success.
func (o WriteOutcome) Err() error {
	if o.Success {
		return nil
	}
	return &Error{Kind: o.Kind, Op: "Write", TagID: o.TagID, Message: o.Message}
}

func scanFailure(kind ErrorKind, format string, args ...any) ScanOutcome {
	return ScanOutcome{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func writeFailure(tagID string, kind ErrorKind, format string, args ...any) WriteOutcome {
	return WriteOutcome{TagID: tagID, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// errorMessage renders err for an outcome message, preferring the typed message.
func errorMessage(err error) string {
	if e, ok := err.(*Error); ok && e.Cause == nil {
		return e.Message
	}
	return err.Error()
}
