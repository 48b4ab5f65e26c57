package closet

import (
	"context"
	"errors"
	"fmt"

	"github.com/dotside-studios/closet-nfc/nfc"
)

// FindEntityByTag returns the garment or box bound to tagID. Garments are
// checked before boxes.
func (c *Catalog) FindEntityByTag(ctx context.Context, tagID string) (*Association, error) {
	a, err := c.findEntityByTag(ctx, tagID)
	if errors.Is(err, ErrNotFound) {
		c.observe("find", false, nil)
	} else {
		c.observe("find", err == nil, err)
	}
	return a, err
}

func (c *Catalog) findEntityByTag(ctx context.Context, tagID string) (*Association, error) {
	id := nfc.Normalize(tagID)
	if id == "" {
		return nil, ErrNotFound
	}

	if c.cache != nil {
		a, err := c.cache.Get(ctx, id)
		if err != nil {
			c.logger.Printf("Tag cache read for %s failed: %v", id, err)
		} else if a != nil {
			return a, nil
		}
	}

	a, err := c.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, a); err != nil {
			c.logger.Printf("Tag cache write for %s failed: %v", id, err)
		}
	}
	return a, nil
}

func (c *Catalog) lookup(ctx context.Context, id string) (*Association, error) {
	g, err := c.store.GarmentByNFCTag(ctx, id)
	switch {
	case err == nil:
		return &Association{TagID: id, EntityType: nfc.EntityGarment, EntityID: g.ID, EntityName: g.Name}, nil
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("garment lookup: %w", err)
	}

	b, err := c.store.BoxByNFCTag(ctx, id)
	switch {
	case err == nil:
		return &Association{TagID: id, EntityType: nfc.EntityBox, EntityID: b.ID, EntityName: b.Name}, nil
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("box lookup: %w", err)
	}
	return nil, ErrNotFound
}

// CheckTagExists implements nfc.ExistenceResolver.
func (c *Catalog) CheckTagExists(ctx context.Context, id string) (nfc.Existence, error) {
	a, err := c.FindEntityByTag(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nfc.Existence{}, nil
	}
	if err != nil {
		return nfc.Existence{}, err
	}
	return a.Existence(), nil
}
