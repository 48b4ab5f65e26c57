package webnfc

import (
	"fmt"
	"strings"
	"time"

	"github.com/dotside-studios/closet-nfc/nfc"
	"github.com/dotside-studios/closet-nfc/protocol"
)

// ConvertReading converts a device reading into a tag event.
func ConvertReading(r protocol.Reading, receivedAt time.Time) (nfc.TagEvent, error) {
	ev := nfc.TagEvent{
		SerialNumber: protocol.CanonicalSerial(r.SerialNumber),
		ReceivedAt:   receivedAt,
	}

	if len(r.Raw) > 0 {
		msg, err := nfc.DecodeMessage(r.Raw)
		if err != nil {
			return nfc.TagEvent{}, fmt.Errorf("failed to decode raw NDEF message: %w", err)
		}
		ev.Message = msg
		return ev, nil
	}

	for i, rd := range r.Records {
		record, err := ConvertRecordData(rd)
		if err != nil {
			return nfc.TagEvent{}, fmt.Errorf("failed to convert record %d: %w", i, err)
		}
		ev.Message.Records = append(ev.Message.Records, record)
	}
	return ev, nil
}

// ConvertRecordData converts one Web NFC record into an NDEF record.
func ConvertRecordData(rd protocol.RecordData) (nfc.Record, error) {
	record := nfc.Record{ID: idBytes(rd.ID)}

	switch rt := rd.RecordType; {
	case rt == "text":
		payload, err := textPayload(rd)
		if err != nil {
			return nfc.Record{}, err
		}
		record.TNF = nfc.TNFWellKnown
		record.Type = []byte("T")
		record.Payload = payload
	case rt == "url":
		record.TNF = nfc.TNFWellKnown
		record.Type = []byte("U")
		record.Payload = append([]byte{0x00}, rd.Data...) // no URI prefix abbreviation
	case rt == "smart-poster":
		record.TNF = nfc.TNFWellKnown
		record.Type = []byte("Sp")
		record.Payload = rd.Data
	case rt == "absolute-url":
		record.TNF = nfc.TNFAbsoluteURI
		record.Type = rd.Data
	case rt == "mime":
		if rd.MediaType == "" {
			return nfc.Record{}, fmt.Errorf("mime record without mediaType")
		}
		record.TNF = nfc.TNFMedia
		record.Type = []byte(rd.MediaType)
		record.Payload = rd.Data
	case rt == "empty":
		record.TNF = nfc.TNFEmpty
	case rt == "unknown" || rt == "":
		record.TNF = nfc.TNFUnknown
		record.Payload = rd.Data
	case strings.HasPrefix(rt, ":"):
		// Local types only occur inside smart posters; keep them well-known.
		record.TNF = nfc.TNFWellKnown
		record.Type = []byte(rt[1:])
		record.Payload = rd.Data
	case strings.Contains(rt, ":"):
		record.TNF = nfc.TNFExternal
		record.Type = []byte(rt)
		record.Payload = rd.Data
	default:
		return nfc.Record{}, fmt.Errorf("unsupported record type %q", rt)
	}
	return record, nil
}

// textPayload rebuilds the NDEF text payload (status byte, language, text) from
// the decoded form Web NFC hands the page.
func textPayload(rd protocol.RecordData) ([]byte, error) {
	lang := rd.Lang
	if lang == "" {
		lang = nfc.DefaultLanguage
	}
	if len(lang) > 0x3F {
		return nil, fmt.Errorf("language code too long: %d bytes", len(lang))
	}

	status := byte(len(lang))
	switch strings.ToLower(rd.Encoding) {
	case "", "utf-8":
	case "utf-16", "utf-16be", "utf-16le":
		status |= 0x80
		if strings.EqualFold(rd.Encoding, "utf-16le") {
			rd.Data = append([]byte{0xFF, 0xFE}, rd.Data...)
		}
	default:
		return nil, fmt.Errorf("unsupported text encoding %q", rd.Encoding)
	}

	payload := make([]byte, 0, 1+len(lang)+len(rd.Data))
	payload = append(payload, status)
	payload = append(payload, lang...)
	payload = append(payload, rd.Data...)
	return payload, nil
}

// ConvertMessage converts an NDEF message into the records sent with a write command.
func ConvertMessage(msg nfc.Message) ([]protocol.RecordData, error) {
	out := make([]protocol.RecordData, 0, len(msg.Records))
	for i, r := range msg.Records {
		rd, err := recordData(r)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		out = append(out, rd)
	}
	return out, nil
}

func recordData(r nfc.Record) (protocol.RecordData, error) {
	rd := protocol.RecordData{ID: string(r.ID)}
	switch {
	case r.IsText():
		if len(r.Payload) == 0 {
			return rd, fmt.Errorf("empty text record")
		}
		status := r.Payload[0]
		langLen := int(status & 0x3F)
		if 1+langLen > len(r.Payload) {
			return rd, fmt.Errorf("text record language overruns payload")
		}
		rd.RecordType = "text"
		rd.Lang = string(r.Payload[1 : 1+langLen])
		rd.Encoding = "utf-8"
		rd.Data = r.Payload[1+langLen:]
		if status&0x80 != 0 {
			text, err := nfc.DecodeTextRecord(r.Payload)
			if err != nil {
				return rd, err
			}
			rd.Data = []byte(text)
		}
	case r.TNF == nfc.TNFEmpty:
		rd.RecordType = "empty"
	case r.TNF == nfc.TNFMedia:
		rd.RecordType = "mime"
		rd.MediaType = string(r.Type)
		rd.Data = r.Payload
	case r.TNF == nfc.TNFExternal:
		rd.RecordType = string(r.Type)
		rd.Data = r.Payload
	case r.TNF == nfc.TNFAbsoluteURI:
		rd.RecordType = "absolute-url"
		rd.Data = r.Type
	default:
		rd.RecordType = "unknown"
		rd.Data = r.Payload
	}
	return rd, nil
}

func idBytes(id string) []byte {
	if id == "" {
		return nil
	}
	return []byte(id)
}
