package protocol

// RecordView is the management view of one record on a scanned tag.
type RecordView struct {
	Index     int    `json:"index"`
	Kind      string `json:"kind"` // "text", "url", "mime", ...
	TNF       uint8  `json:"tnf"`
	Type      string `json:"type,omitempty"`
	Text      string `json:"text,omitempty"`
	Hex       string `json:"hex,omitempty"`
	ValidID   bool   `json:"validId"` // Text (or Hex for non-text records) is a usable identifier
	Truncated bool   `json:"truncated,omitempty"`
}

// AssociationView names the entity a tag is bound to.
type AssociationView struct {
	TagID      string `json:"tagId"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	EntityName string `json:"entityName"`
}

// InspectResponse is returned by POST /api/tags/inspect.
type InspectResponse struct {
	Success      bool             `json:"success"`
	Kind         string           `json:"errorKind,omitempty"`
	Message      string           `json:"message,omitempty"`
	SerialNumber string           `json:"serialNumber,omitempty"`
	Records      []RecordView     `json:"records"`
	TagID        string           `json:"tagId,omitempty"`
	Source       string           `json:"source,omitempty"`
	Association  *AssociationView `json:"association,omitempty"`
}
