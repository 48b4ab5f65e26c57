package nfc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies a failed read or write session for programmatic handling.
type ErrorKind int

const (
	KindNone ErrorKind = iota

	// Session failures (100-199)
	KindUnsupportedEnvironment ErrorKind = iota + 99
	KindNoUsableIdentifier
	KindWriteFailed
	KindVerificationFailed
	KindAlreadyAssociated
	KindHardwareReadError
	KindTimeout
	KindUnexpectedException
	KindCancelled
)

var kindNames = map[ErrorKind]string{
	KindNone:                   "",
	KindUnsupportedEnvironment: "UNSUPPORTED_ENVIRONMENT",
	KindNoUsableIdentifier:     "NO_USABLE_IDENTIFIER",
	KindWriteFailed:            "WRITE_FAILED",
	KindVerificationFailed:     "VERIFICATION_FAILED",
	KindAlreadyAssociated:      "ALREADY_ASSOCIATED",
	KindHardwareReadError:      "HARDWARE_READ_ERROR",
	KindTimeout:                "TIMEOUT",
	KindUnexpectedException:    "UNEXPECTED_EXCEPTION",
	KindCancelled:              "CANCELLED",
}

// String returns the wire name of the kind, e.g. "TIMEOUT".
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// MarshalText renders the wire name so outcomes serialize readably.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a wire name produced by MarshalText.
func (k *ErrorKind) UnmarshalText(b []byte) error {
	name := string(b)
	for kind, n := range kindNames {
		if n == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown error kind %q", name)
}

// Error provides structured error information for a failed session step.
type Error struct {
	Kind    ErrorKind
	Op      string // Operation that failed (e.g., "Scan", "Write", "Verify")
	TagID   string // Optional: identifier involved
	Message string // Human-readable message
	Cause   error  // Underlying error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Sentinels usable with errors.Is.
var (
	ErrUnsupportedEnvironment = &Error{Kind: KindUnsupportedEnvironment, Message: "NFC is not available in this environment"}
	ErrWriteFailed            = &Error{Kind: KindWriteFailed, Message: "write failed"}
	ErrHardwareRead           = &Error{Kind: KindHardwareReadError, Message: "tag read error"}
)

// NewUnsupportedError creates an error for a missing or insecure reader environment.
func NewUnsupportedError(op, message string) *Error {
	return &Error{
		Kind:    KindUnsupportedEnvironment,
		Op:      op,
		Message: message,
	}
}

// NewWriteError creates an error for write failures.
func NewWriteError(op, tagID string, cause error) *Error {
	return &Error{
		Kind:    KindWriteFailed,
		Op:      op,
		TagID:   tagID,
		Message: "write failed",
		Cause:   cause,
	}
}

// NewReadError creates an error for a hardware-reported read failure.
func NewReadError(op string, cause error) *Error {
	return &Error{
		Kind:    KindHardwareReadError,
		Op:      op,
		Message: "tag read error",
		Cause:   cause,
	}
}

// KindOf extracts the ErrorKind from an error if it's an *Error.
// Returns KindUnexpectedException for any other non-nil error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var nfcErr *Error
	if errors.As(err, &nfcErr) {
		return nfcErr.Kind
	}
	return KindUnexpectedException
}

// IsUnsupported checks if an error indicates an unsupported environment.
func IsUnsupported(err error) bool {
	return err != nil && KindOf(err) == KindUnsupportedEnvironment
}

// IsWriteFailed checks if an error indicates a failed write.
func IsWriteFailed(err error) bool {
	return err != nil && KindOf(err) == KindWriteFailed
}

// Errorf creates an Error with a formatted message.
func Errorf(kind ErrorKind, op, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}
