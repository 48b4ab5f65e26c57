package events

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/dotside-studios/closet-nfc/nfc"
)

const publishTimeout = 5 * time.Second

// TagScan is the payload of a tag.scanned event.
type TagScan struct {
	TagID  string         `json:"tagId"`
	Source nfc.SourceKind `json:"source"`
	Entity *nfc.Existence `json:"entity,omitempty"`
}

// TagWrite is the payload of a tag.written event.
type TagWrite struct {
	TagID string `json:"tagId"`
}

// SessionObserver turns successful session outcomes into events.
type SessionObserver struct {
	pub    Publisher
	logger *log.Logger
}

func NewSessionObserver(pub Publisher, logger *log.Logger) *SessionObserver {
	if logger == nil {
		logger = log.New(os.Stderr, "[events] ", log.LstdFlags)
	}
	return &SessionObserver{pub: pub, logger: logger}
}

func (o *SessionObserver) ScanResolved(out nfc.ScanOutcome, _ time.Duration) {
	if !out.Success {
		return
	}
	o.publish(New(TagScanned, TagScan{TagID: out.TagID, Source: out.Source, Entity: out.Entity}))
}

func (o *SessionObserver) WriteResolved(out nfc.WriteOutcome, _ time.Duration) {
	if !out.Success {
		return
	}
	o.publish(New(TagWritten, TagWrite{TagID: out.TagID}))
}

func (o *SessionObserver) publish(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := o.pub.Publish(ctx, e); err != nil {
		o.logger.Printf("Failed to publish %s: %v", e.Type, err)
	}
}
