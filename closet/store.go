package closet

import (
	"context"
	"errors"

	"github.com/dotside-studios/closet-nfc/nfc"
)

var (
	// ErrNotFound is returned when no garment, box or tag binding matches.
	ErrNotFound = errors.New("not found")

	// ErrTagInUse is returned when a tag is already bound to a different entity.
	ErrTagInUse = errors.New("tag already bound to another entity")

	ErrInvalidTag   = errors.New("invalid tag identifier")
	ErrInvalidInput = errors.New("invalid input")

	// ErrBoxFull is returned when a full box is targeted and no other box has room.
	ErrBoxFull = errors.New("box full and no other boxes available")
)

// Store is the persistence surface of the catalog. Lookups that match no row
// return ErrNotFound; batch lookups return an empty slice instead.
type Store interface {
	GarmentByNFCTag(ctx context.Context, tagID string) (*Garment, error)
	GarmentByBarcode(ctx context.Context, code string) (*Garment, error)
	BoxByNFCTag(ctx context.Context, tagID string) (*Box, error)

	GarmentsByNFCTags(ctx context.Context, tagIDs []string) ([]Garment, error)
	GarmentsByBarcodes(ctx context.Context, codes []string) ([]Garment, error)
	Garments(ctx context.Context, ids []string) ([]Garment, error)

	// EntityNFCTag returns the tag bound to ref, or "" when it has none.
	EntityNFCTag(ctx context.Context, ref nfc.EntityRef) (string, error)

	// SetEntityNFCTag binds tagID to ref; an empty tagID clears the binding.
	// It reports whether a row matched.
	SetEntityNFCTag(ctx context.Context, ref nfc.EntityRef, tagID string) (bool, error)

	// Boxes lists every box with its available-garment count.
	Boxes(ctx context.Context) ([]Box, error)

	// AssignGarments moves garments into boxID and marks them available.
	AssignGarments(ctx context.Context, boxID string, garmentIDs []string) (int, error)

	CreateGarment(ctx context.Context, g *Garment) error
	CreateBox(ctx context.Context, b *Box) error

	// UpdateBox saves the name, location and tag of b. It reports whether a row matched.
	UpdateBox(ctx context.Context, b *Box) (bool, error)

	// DeleteBox removes a box. Its garments are left without a box.
	DeleteBox(ctx context.Context, id string) (bool, error)
}

// Cache holds tag associations in front of the store. A miss is (nil, nil).
type Cache interface {
	Get(ctx context.Context, tagID string) (*Association, error)
	Set(ctx context.Context, a *Association) error
	Invalidate(ctx context.Context, tagIDs ...string) error
}
