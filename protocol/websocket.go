package protocol

import "encoding/json"

// Device socket message types. Devices send the first group; the agent sends the second.
const (
	TypeRegisterDevice  = "registerDevice"
	TypeReading         = "reading"
	TypeReadingError    = "readingError"
	TypeWriteResponse   = "writeResponse"
	TypeDeviceHeartbeat = "deviceHeartbeat"

	TypeRegisterDeviceResponse = "registerDeviceResponse"
	TypeScan                   = "scan"
	TypeStop                   = "stop"
	TypeWrite                  = "write"
	TypeError                  = "error"
)

// Error codes carried in error frames.
const (
	CodeReadError          = "READ_ERROR"
	CodeParseError         = "PARSE_ERROR"
	CodeInvalidMessageType = "INVALID_MESSAGE_TYPE"
	CodeInvalidPayload     = "INVALID_PAYLOAD"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeRegistrationFailed = "REGISTRATION_FAILED"
	CodeUnknownType        = "UNKNOWN_TYPE"
)

// Message is the envelope for every frame the agent sends to a device.
type Message struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Request is an inbound frame from a device. Payload is decoded per Type.
type Request struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (r Request) Decode(v any) error {
	if len(r.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(r.Payload, v)
}

// Response answers a device request.
type Response struct {
	ID      string `json:"id,omitempty"`
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Code string `json:"code"`
}
