// Package closet holds the garment and box catalog that NFC tags are bound to.
package closet

import (
	"time"

	"github.com/dotside-studios/closet-nfc/nfc"
)

// Status is the availability of a garment.
type Status string

const (
	StatusAvailable Status = "available"
	StatusInUse     Status = "in_use"
)

const (
	// BoxCapacity is the number of available garments a box holds.
	BoxCapacity = 15

	// RecommendThreshold is the garment count under which a box is recommended.
	RecommendThreshold = 9
)

// Garment is a catalogued piece of clothing.
type Garment struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Type       string    `json:"type,omitempty"`
	Color      string    `json:"color,omitempty"`
	Season     string    `json:"season,omitempty"`
	Style      string    `json:"style,omitempty"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	UserID     string    `json:"userId,omitempty"`
	BoxID      *string   `json:"boxId,omitempty"`
	NFCTagID   *string   `json:"nfcTagId,omitempty"`
	BarcodeID  *string   `json:"barcodeId,omitempty"`
	Status     Status    `json:"status"`
	UsageCount int       `json:"usageCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Box is a physical storage box. GarmentCount counts its available garments.
type Box struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Location     string  `json:"location,omitempty"`
	NFCTagID     *string `json:"nfcTagId,omitempty"`
	GarmentCount int     `json:"garmentCount"`
}

// Full reports whether the box has reached BoxCapacity.
func (b Box) Full() bool {
	return b.GarmentCount >= BoxCapacity
}

// Association is the entity a tag is bound to.
type Association struct {
	TagID      string         `json:"tagId"`
	EntityType nfc.EntityType `json:"entityType"`
	EntityID   string         `json:"entityId"`
	EntityName string         `json:"entityName"`
}

// Ref returns the entity the association points at.
func (a Association) Ref() nfc.EntityRef {
	return nfc.EntityRef{Type: a.EntityType, ID: a.EntityID}
}

// Existence converts the association into the NFC layer's existence result.
func (a *Association) Existence() nfc.Existence {
	if a == nil {
		return nfc.Existence{}
	}
	return nfc.Existence{
		Exists:     true,
		EntityType: a.EntityType,
		EntityID:   a.EntityID,
		EntityName: a.EntityName,
	}
}

// Assignment reports the result of moving garments into a box.
type Assignment struct {
	TargetBoxID     string `json:"targetBoxId"`
	TargetBoxName   string `json:"targetBoxName"`
	Redirected      bool   `json:"redirected"`
	Moved           int    `json:"moved"`
	PreviouslyInUse int    `json:"previouslyInUse"`
}

// LookupResult is the outcome of a batch code lookup.
type LookupResult struct {
	Garments  []Garment `json:"garments"`
	NotFound  []string  `json:"notFound"`
	InUse     int       `json:"inUse"`
	Searched  int       `json:"searched"`
	Truncated bool      `json:"truncated"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
