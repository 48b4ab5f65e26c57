package closet

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dotside-studios/closet-nfc/events"
	"github.com/dotside-studios/closet-nfc/nfc"
)

// BoxInput is the editable part of a box. An empty NFCTagID leaves the box
// without a tag.
type BoxInput struct {
	Name     string
	Location string
	NFCTagID string
}

func (in BoxInput) normalize() (BoxInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Location = strings.TrimSpace(in.Location)
	if in.Name == "" {
		return in, fmt.Errorf("%w: box name is required", ErrInvalidInput)
	}
	return in, nil
}

// Boxes lists every box with its available-garment count.
func (c *Catalog) Boxes(ctx context.Context) ([]Box, error) {
	boxes, err := c.store.Boxes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list boxes: %w", err)
	}
	return boxes, nil
}

func (c *Catalog) box(ctx context.Context, id string) (*Box, error) {
	boxes, err := c.Boxes(ctx)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(boxes, func(b Box) bool { return b.ID == id })
	if i < 0 {
		return nil, fmt.Errorf("box %s: %w", id, ErrNotFound)
	}
	return &boxes[i], nil
}

// CreateBox adds a box. A tag, if given, must not belong to another entity.
func (c *Catalog) CreateBox(ctx context.Context, in BoxInput) (*Box, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}
	b := &Box{Name: in.Name, Location: in.Location}
	if in.NFCTagID != "" {
		tag, err := c.claimTag(ctx, nfc.EntityRef{Type: nfc.EntityBox}, in.NFCTagID)
		if err != nil {
			return nil, err
		}
		b.NFCTagID = &tag
	}
	if err := c.store.CreateBox(ctx, b); err != nil {
		return nil, fmt.Errorf("create box: %w", err)
	}

	if b.NFCTagID != nil {
		c.publish(ctx, events.New(events.TagBound, boxAssociation(*b.NFCTagID, b)))
	}
	c.publish(ctx, events.New(events.BoxCreated, b))
	c.logger.Printf("Created box %s (%s)", b.ID, b.Name)
	return c.box(ctx, b.ID)
}

// UpdateBox replaces the name, location and tag of box id.
func (c *Catalog) UpdateBox(ctx context.Context, id string, in BoxInput) (*Box, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}
	ref := nfc.EntityRef{Type: nfc.EntityBox, ID: id}
	previous, err := c.store.EntityNFCTag(ctx, ref)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("box %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read box tag: %w", err)
	}

	b := &Box{ID: id, Name: in.Name, Location: in.Location}
	tag := ""
	if in.NFCTagID != "" {
		if tag, err = c.claimTag(ctx, ref, in.NFCTagID); err != nil {
			return nil, err
		}
		b.NFCTagID = &tag
	}
	matched, err := c.store.UpdateBox(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("update box: %w", err)
	}
	if !matched {
		return nil, fmt.Errorf("box %s: %w", id, ErrNotFound)
	}

	// Cached associations carry the box name, so both tags are dropped.
	c.invalidate(ctx, previous, tag)
	if previous != tag {
		if previous != "" {
			c.publish(ctx, events.New(events.TagUnbound, boxAssociation(previous, b)))
		}
		if tag != "" {
			c.publish(ctx, events.New(events.TagBound, boxAssociation(tag, b)))
		}
	}
	c.publish(ctx, events.New(events.BoxUpdated, b))
	return c.box(ctx, id)
}

// DeleteBox removes box id and releases its tag.
func (c *Catalog) DeleteBox(ctx context.Context, id string) error {
	previous, err := c.store.EntityNFCTag(ctx, nfc.EntityRef{Type: nfc.EntityBox, ID: id})
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("box %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read box tag: %w", err)
	}
	deleted, err := c.store.DeleteBox(ctx, id)
	if err != nil {
		return fmt.Errorf("delete box: %w", err)
	}
	if !deleted {
		return fmt.Errorf("box %s: %w", id, ErrNotFound)
	}

	c.invalidate(ctx, previous)
	if previous != "" {
		c.publish(ctx, events.New(events.TagUnbound, Association{TagID: previous, EntityType: nfc.EntityBox, EntityID: id}))
	}
	c.publish(ctx, events.New(events.BoxDeleted, map[string]string{"id": id}))
	c.logger.Printf("Deleted box %s", id)
	return nil
}

func boxAssociation(tagID string, b *Box) Association {
	return Association{TagID: tagID, EntityType: nfc.EntityBox, EntityID: b.ID, EntityName: b.Name}
}

// AssignToBox moves garments into boxID. When the box cannot take them all
// the garments go to the emptiest box that is not full instead, if there is one.
func (c *Catalog) AssignToBox(ctx context.Context, boxID string, garmentIDs []string) (*Assignment, error) {
	if len(garmentIDs) == 0 {
		return nil, errors.New("no garments to assign")
	}

	boxes, err := c.store.Boxes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list boxes: %w", err)
	}
	i := slices.IndexFunc(boxes, func(b Box) bool { return b.ID == boxID })
	if i < 0 {
		return nil, fmt.Errorf("box %s: %w", boxID, ErrNotFound)
	}
	target := boxes[i]
	redirected := false
	if target.GarmentCount+len(garmentIDs) > BoxCapacity {
		emptiest, ok := mostEmpty(boxes)
		switch {
		case ok && emptiest.ID != target.ID:
			target, redirected = emptiest, true
		case target.Full():
			return nil, fmt.Errorf("%w: %s holds %d garments", ErrBoxFull, target.Name, target.GarmentCount)
		default:
			c.logger.Printf("Box %s goes over capacity with %d more garments; no other box has room", target.ID, len(garmentIDs))
		}
	}

	garments, err := c.store.Garments(ctx, garmentIDs)
	if err != nil {
		return nil, fmt.Errorf("load garments: %w", err)
	}
	if len(garments) == 0 {
		return nil, fmt.Errorf("garments: %w", ErrNotFound)
	}
	inUse := 0
	for _, g := range garments {
		if g.Status == StatusInUse {
			inUse++
		}
	}

	moved, err := c.store.AssignGarments(ctx, target.ID, garmentIDs)
	if err != nil {
		return nil, fmt.Errorf("assign garments: %w", err)
	}
	if redirected {
		c.logger.Printf("Box %s is full, assigned %d garments to %s", boxID, moved, target.ID)
	}

	a := &Assignment{
		TargetBoxID:     target.ID,
		TargetBoxName:   target.Name,
		Redirected:      redirected,
		Moved:           moved,
		PreviouslyInUse: inUse,
	}
	c.publish(ctx, events.New(events.GarmentsAssigned, a))
	return a, nil
}

// MostEmptyBox returns the box with the fewest available garments among
// those that are not full.
func (c *Catalog) MostEmptyBox(ctx context.Context) (*Box, error) {
	boxes, err := c.store.Boxes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list boxes: %w", err)
	}
	b, ok := mostEmpty(boxes)
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

// RecommendedBoxes lists boxes with fewer than RecommendThreshold garments,
// emptiest first. A positive limit caps the result.
func (c *Catalog) RecommendedBoxes(ctx context.Context, limit int) ([]Box, error) {
	boxes, err := c.store.Boxes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list boxes: %w", err)
	}
	out := make([]Box, 0, len(boxes))
	for _, b := range boxes {
		if b.GarmentCount < RecommendThreshold {
			out = append(out, b)
		}
	}
	sortByCount(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func mostEmpty(boxes []Box) (Box, bool) {
	open := make([]Box, 0, len(boxes))
	for _, b := range boxes {
		if !b.Full() {
			open = append(open, b)
		}
	}
	if len(open) == 0 {
		return Box{}, false
	}
	sortByCount(open)
	return open[0], true
}

// sortByCount orders boxes by garment count, keeping store order for ties.
func sortByCount(boxes []Box) {
	slices.SortStableFunc(boxes, func(a, b Box) int { return a.GarmentCount - b.GarmentCount })
}
