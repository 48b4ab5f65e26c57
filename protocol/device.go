package protocol

import "time"

// DeviceCapabilities is what the page reports about its NFC environment.
type DeviceCapabilities struct {
	CanRead       bool `json:"canRead"`
	CanWrite      bool `json:"canWrite"`
	SecureContext bool `json:"secureContext"` // Web NFC only works on https or localhost
}

// DeviceRegistrationRequest is sent by a device to register with the agent.
type DeviceRegistrationRequest struct {
	DeviceName   string             `json:"deviceName"` // e.g., "Pixel 8 (Chrome)"
	Platform     string             `json:"platform"`   // "web", "android" or "ios"
	AppVersion   string             `json:"appVersion"`
	UserAgent    string             `json:"userAgent,omitempty"`
	Capabilities DeviceCapabilities `json:"capabilities"`
	Metadata     map[string]string  `json:"metadata,omitempty"`
}

// DeviceRegistrationResponse is sent by the agent after successful registration.
type DeviceRegistrationResponse struct {
	DeviceID   string     `json:"deviceID"`
	ServerInfo ServerInfo `json:"serverInfo"`
}

// ServerInfo describes the agent to a registering device.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// DeviceHeartbeat is sent by a device periodically.
type DeviceHeartbeat struct {
	Timestamp time.Time `json:"timestamp"`
}

// Reading mirrors a Web NFC NDEFReadingEvent.
type Reading struct {
	SerialNumber string       `json:"serialNumber,omitempty"`
	Records      []RecordData `json:"records"`
	// Raw is the encoded NDEF message when the device has direct access to it
	// (native apps). It takes precedence over Records.
	Raw []byte `json:"raw,omitempty"`
}

// RecordData mirrors a Web NFC NDEFRecord. Data carries the record's bytes,
// base64 in JSON; for text records it is the text alone, without the status byte.
type RecordData struct {
	RecordType string `json:"recordType"` // "text", "url", "mime", "empty", "unknown", "absolute-url", "smart-poster", or an external type
	MediaType  string `json:"mediaType,omitempty"`
	ID         string `json:"id,omitempty"`
	Data       []byte `json:"data,omitempty"`
	Encoding   string `json:"encoding,omitempty"` // text only: "utf-8" or "utf-16"
	Lang       string `json:"lang,omitempty"`     // text only
}

// ReadingError reports a failed read, as the page's onreadingerror sees it.
type ReadingError struct {
	Name    string `json:"name,omitempty"` // DOMException name, e.g. "NetworkError"
	Message string `json:"message"`
}

// ScanCommand asks the device to start NDEFReader.scan().
type ScanCommand struct{}

// StopCommand aborts the device's current scan.
type StopCommand struct{}

// WriteCommand asks the device to write records with NDEFReader.write().
type WriteCommand struct {
	RequestID string       `json:"requestID"`
	Records   []RecordData `json:"records"`
	Raw       []byte       `json:"raw,omitempty"`
}

// WriteResponse is sent by a device after a write attempt.
type WriteResponse struct {
	RequestID string `json:"requestID"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}
