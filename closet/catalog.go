package closet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/dotside-studios/closet-nfc/events"
	"github.com/dotside-studios/closet-nfc/nfc"
)

// Config wires a Catalog. Cache and Events are optional.
type Config struct {
	Store  Store
	Cache  Cache
	Events events.Publisher
	Logger *log.Logger

	// Lookups, if set, is told about every find and batch lookup.
	Lookups LookupObserver
}

// LookupObserver counts catalog lookups.
type LookupObserver interface {
	ObserveLookup(op string, found bool, err error)
}

// Catalog runs tag lookups and mutations over the store. It is the
// nfc.ExistenceResolver used by read sessions.
type Catalog struct {
	store   Store
	cache   Cache
	events  events.Publisher
	logger  *log.Logger
	lookups LookupObserver
}

var _ nfc.ExistenceResolver = (*Catalog)(nil)

func NewCatalog(cfg Config) *Catalog {
	c := &Catalog{
		store:   cfg.Store,
		cache:   cfg.Cache,
		events:  cfg.Events,
		logger:  cfg.Logger,
		lookups: cfg.Lookups,
	}
	if c.events == nil {
		c.events = events.Nop{}
	}
	if c.logger == nil {
		c.logger = log.New(os.Stderr, "[catalog] ", log.LstdFlags)
	}
	return c
}

// RemoveEntityNFCTag clears the tag of a garment or box. It reports false
// when no such entity exists.
func (c *Catalog) RemoveEntityNFCTag(ctx context.Context, entityType nfc.EntityType, entityID string) (bool, error) {
	if !entityType.Valid() {
		return false, fmt.Errorf("unknown entity type %q", entityType)
	}
	ref := nfc.EntityRef{Type: entityType, ID: entityID}

	previous, err := c.store.EntityNFCTag(ctx, ref)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s tag: %w", entityType.Label(), err)
	}

	matched, err := c.store.SetEntityNFCTag(ctx, ref, "")
	if err != nil {
		return false, fmt.Errorf("clear %s tag: %w", entityType.Label(), err)
	}
	if !matched {
		return false, nil
	}

	c.invalidate(ctx, previous)
	if previous != "" {
		c.publish(ctx, events.New(events.TagUnbound, Association{TagID: previous, EntityType: entityType, EntityID: entityID}))
	}
	c.logger.Printf("Removed tag %q from %s %s", previous, entityType.Label(), entityID)
	return true, nil
}

// ReleaseTag unbinds tagID from whichever entity owns it and returns the
// released association.
func (c *Catalog) ReleaseTag(ctx context.Context, tagID string) (*Association, error) {
	a, err := c.FindEntityByTag(ctx, tagID)
	if err != nil {
		return nil, err
	}
	removed, err := c.RemoveEntityNFCTag(ctx, a.EntityType, a.EntityID)
	if err != nil {
		return nil, err
	}
	if !removed {
		// The entity disappeared between the lookup and the update.
		c.invalidate(ctx, a.TagID)
		return nil, ErrNotFound
	}
	return a, nil
}

// BindEntityNFCTag persists a registration of tagID to ref.
func (c *Catalog) BindEntityNFCTag(ctx context.Context, ref nfc.EntityRef, tagID string) (*Association, error) {
	if !ref.Type.Valid() {
		return nil, fmt.Errorf("unknown entity type %q", ref.Type)
	}
	id, err := c.claimTag(ctx, ref, tagID)
	if err != nil {
		return nil, err
	}

	previous, err := c.store.EntityNFCTag(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("read %s tag: %w", ref.Type.Label(), err)
	}
	matched, err := c.store.SetEntityNFCTag(ctx, ref, id)
	if err != nil {
		return nil, fmt.Errorf("bind %s tag: %w", ref.Type.Label(), err)
	}
	if !matched {
		return nil, ErrNotFound
	}

	c.invalidate(ctx, previous, id)
	a, err := c.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	c.publish(ctx, events.New(events.TagBound, a))
	return a, nil
}

// claimTag normalizes tagID and checks that no entity other than ref owns it.
func (c *Catalog) claimTag(ctx context.Context, ref nfc.EntityRef, tagID string) (string, error) {
	id := nfc.Normalize(tagID)
	if !nfc.IsValidIdentifier(id) && !nfc.IsMACLike(id) {
		return "", fmt.Errorf("%w %q", ErrInvalidTag, tagID)
	}
	owner, err := c.FindEntityByTag(ctx, id)
	switch {
	case err == nil:
		if owner.Ref() != ref {
			return "", fmt.Errorf("%w: %s %q", ErrTagInUse, owner.EntityType.Label(), owner.EntityName)
		}
	case !errors.Is(err, ErrNotFound):
		return "", err
	}
	return id, nil
}

func (c *Catalog) invalidate(ctx context.Context, tagIDs ...string) {
	if c.cache == nil {
		return
	}
	var ids []string
	for _, id := range tagIDs {
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return
	}
	if err := c.cache.Invalidate(ctx, ids...); err != nil {
		c.logger.Printf("Tag cache invalidation failed: %v", err)
	}
}

func (c *Catalog) publish(ctx context.Context, e events.Event) {
	if err := c.events.Publish(ctx, e); err != nil {
		c.logger.Printf("Failed to publish %s: %v", e.Type, err)
	}
}

func (c *Catalog) observe(op string, found bool, err error) {
	if c.lookups != nil {
		c.lookups.ObserveLookup(op, found, err)
	}
}
