package nfc

import "time"

// SourceKind records which part of the tag the identifier came from.
type SourceKind string

const (
	SourceNone      SourceKind = ""
	SourceText1     SourceKind = "text-1"
	SourceText2     SourceKind = "text-2"
	SourceSerial    SourceKind = "hardware-serial"
	SourceHex       SourceKind = "hex-fallback"
	SourceGenerated SourceKind = "generated"
)

// Selection is the identifier picked from a tag event.
type Selection struct {
	TagID  string     `json:"tagId"`
	Source SourceKind `json:"source"`
}

// Found reports whether a usable identifier was selected.
func (s Selection) Found() bool {
	return s.Source != SourceNone && s.TagID != ""
}

// SelectInput carries the facts selection depends on beyond the event itself.
type SelectInput struct {
	// Now pads short hardware serials.
	Now time.Time

	// Text1Conflicts is set when the first text record is bound to an
	// entity other than the one the caller intends.
	Text1Conflicts bool
}

// TextCandidates returns the normalized text record values usable as identifiers, in record order.
func TextCandidates(msg Message) []string {
	var out []string
	for _, text := range msg.TextRecords() {
		if v := Normalize(text); v != "" && usableText(v) {
			out = append(out, v)
		}
	}
	return out
}

// Select picks one identifier from a tag event:
// first text record, the second text record when the first conflicts,
// the hardware serial, then a hex rendering of a non-text record.
// It performs no I/O; an empty Selection means nothing on the tag was usable.
func Select(ev TagEvent, in SelectInput) Selection {
	texts := TextCandidates(ev.Message)
	if len(texts) > 0 {
		if in.Text1Conflicts && len(texts) > 1 {
			return Selection{TagID: texts[1], Source: SourceText2}
		}
		return Selection{TagID: texts[0], Source: SourceText1}
	}

	if ev.SerialNumber != "" {
		if id := DeriveFromHardwareSerial(ev.SerialNumber, in.Now); id != "" {
			return Selection{TagID: id, Source: SourceSerial}
		}
	}

	for _, r := range ev.Message.Records {
		if r.IsText() || r.TNF == TNFEmpty || len(r.Payload) == 0 {
			continue
		}
		if h := r.Hex(); IsValidIdentifier(h) {
			return Selection{TagID: h, Source: SourceHex}
		}
	}

	return Selection{}
}
