// Package protocol provides the JSON types spoken on the device socket and the HTTP API.
// This package is designed to be importable without pulling in server dependencies.
package protocol

import "time"

// EntityRefInput names a garment or box in API requests.
type EntityRefInput struct {
	Type string `json:"type"` // "garment" or "box"
	ID   string `json:"id"`
}

// ReadRequest is the body of POST /api/nfc/read.
type ReadRequest struct {
	// SkipExistenceCheck is set by "find" flows that only want the identifier.
	SkipExistenceCheck bool `json:"skipExistenceCheck"`

	// Intended is the entity being registered, if any.
	Intended *EntityRefInput `json:"intended,omitempty"`
}

// WriteRequest is the body of POST /api/nfc/write.
type WriteRequest struct {
	TagID string `json:"tagId"`
}

// GenerateResponse is returned by POST /api/tags/generate.
type GenerateResponse struct {
	TagID string `json:"tagId"`
}

// BindRequest is the body of PUT /api/entities/{type}/{id}/tag.
type BindRequest struct {
	TagID string `json:"tagId"`
}

// UnbindResponse is returned by DELETE /api/entities/{type}/{id}/tag.
type UnbindResponse struct {
	Removed bool `json:"removed"`
}

// LookupRequest is the body of POST /api/garments/lookup. Codes are separated by
// slashes, commas, semicolons or whitespace.
type LookupRequest struct {
	Codes string `json:"codes"`
}

// AssignRequest is the body of POST /api/boxes/{id}/assign.
type AssignRequest struct {
	GarmentIDs []string `json:"garmentIds"`
}

// BoxRequest is the body of POST /api/boxes and PUT /api/boxes/{id}. An
// empty NFCTagID leaves the box untagged.
type BoxRequest struct {
	Name     string `json:"name"`
	Location string `json:"location,omitempty"`
	NFCTagID string `json:"nfcTagId,omitempty"`
}

// CancelResponse is returned by POST /api/nfc/cancel.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// DeviceInfo describes a connected Web NFC device.
type DeviceInfo struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	Platform     string             `json:"platform"`
	Capabilities DeviceCapabilities `json:"capabilities"`
	LastSeen     time.Time          `json:"lastSeen"`
	InUse        bool               `json:"inUse"`
}

// StatusResponse is returned by GET /api/nfc/status.
type StatusResponse struct {
	Supported bool         `json:"supported"`
	Reason    string       `json:"reason,omitempty"`
	Reading   bool         `json:"reading"`
	Writing   bool         `json:"writing"`
	Busy      bool         `json:"busy"`
	Devices   []DeviceInfo `json:"devices"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// API error codes
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeInvalidTagID   = "INVALID_TAG_ID"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeTagInUse       = "TAG_IN_USE"
	ErrCodeBusy           = "BUSY"
	ErrCodeBoxFull        = "BOX_FULL"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)
