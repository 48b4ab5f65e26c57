package nfc

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf16"
)

// Type Name Format values
const (
	TNFEmpty       byte = 0x00
	TNFWellKnown   byte = 0x01
	TNFMedia       byte = 0x02
	TNFAbsoluteURI byte = 0x03
	TNFExternal    byte = 0x04
	TNFUnknown     byte = 0x05
)

// Record header flags
const (
	flagMB  byte = 0x80 // Message Begin
	flagME  byte = 0x40 // Message End
	flagCF  byte = 0x20 // Chunk Flag
	flagSR  byte = 0x10 // Short Record
	flagIL  byte = 0x08 // ID Length present
	tnfMask byte = 0x07
)

// DefaultLanguage is the language code written into text records.
const DefaultLanguage = "en"

// Record represents a single NDEF record within a message.
type Record struct {
	TNF     byte   `json:"tnf"`
	Type    []byte `json:"type,omitempty"`
	ID      []byte `json:"id,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// NewTextRecord creates a well-known text record holding UTF-8 text.
func NewTextRecord(text, langCode string) Record {
	return Record{
		TNF:     TNFWellKnown,
		Type:    []byte("T"),
		Payload: MakeTextRecordPayload(text, langCode),
	}
}

// IsText returns true if this is a Text Record (TNF=0x01, Type='T').
func (r Record) IsText() bool {
	return r.TNF == TNFWellKnown && len(r.Type) == 1 && r.Type[0] == 'T'
}

// Text extracts text from a Text Record.
// Returns (text, true) if this is a decodable text record, or ("", false) otherwise.
func (r Record) Text() (string, bool) {
	if !r.IsText() {
		return "", false
	}
	text, err := DecodeTextRecord(r.Payload)
	if err != nil {
		return "", false
	}
	return text, true
}

// Hex renders the payload as uppercase hex with no separators.
func (r Record) Hex() string {
	return strings.ToUpper(hex.EncodeToString(r.Payload))
}

// Kind returns a short label for the record, as Web NFC names record types.
func (r Record) Kind() string {
	switch {
	case r.IsText():
		return "text"
	case r.TNF == TNFWellKnown && len(r.Type) == 1 && r.Type[0] == 'U':
		return "url"
	case r.TNF == TNFEmpty:
		return "empty"
	case r.TNF == TNFMedia:
		return "mime"
	case r.TNF == TNFAbsoluteURI:
		return "absolute-url"
	case r.TNF == TNFExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Message is an ordered list of NDEF records.
type Message struct {
	Records []Record `json:"records"`
}

// BuildSingleRecordPayload creates a message with exactly one UTF-8 text record.
// Writing it replaces every record previously on the tag.
func BuildSingleRecordPayload(value string) Message {
	return Message{Records: []Record{NewTextRecord(value, DefaultLanguage)}}
}

// TextRecords returns the decoded text of every text record, in order.
func (m Message) TextRecords() []string {
	var texts []string
	for _, r := range m.Records {
		if text, ok := r.Text(); ok {
			texts = append(texts, text)
		}
	}
	return texts
}

// Encode converts the message to NDEF bytes.
func (m Message) Encode() ([]byte, error) {
	if len(m.Records) == 0 {
		return nil, fmt.Errorf("cannot encode empty NDEF message")
	}

	var out []byte
	for i, r := range m.Records {
		if r.TNF > TNFUnknown && r.TNF != 0x06 {
			return nil, fmt.Errorf("record %d: invalid TNF 0x%02X", i, r.TNF)
		}
		if len(r.Type) > 0xFF || len(r.ID) > 0xFF {
			return nil, fmt.Errorf("record %d: type or id too long", i)
		}

		header := r.TNF & tnfMask
		if i == 0 {
			header |= flagMB
		}
		if i == len(m.Records)-1 {
			header |= flagME
		}
		short := len(r.Payload) <= 0xFF
		if short {
			header |= flagSR
		}
		if len(r.ID) > 0 {
			header |= flagIL
		}

		out = append(out, header, byte(len(r.Type)))
		if short {
			out = append(out, byte(len(r.Payload)))
		} else {
			out = binary.BigEndian.AppendUint32(out, uint32(len(r.Payload)))
		}
		if len(r.ID) > 0 {
			out = append(out, byte(len(r.ID)))
		}
		out = append(out, r.Type...)
		out = append(out, r.ID...)
		out = append(out, r.Payload...)
	}
	return out, nil
}

// DecodeMessage parses raw NDEF bytes into a Message.
// Chunked records are rejected.
func DecodeMessage(data []byte) (Message, error) {
	var msg Message
	offset := 0
	for offset < len(data) {
		header := data[offset]
		if header&flagCF != 0 {
			return Message{}, fmt.Errorf("invalid NDEF message: chunked record at offset %d", offset)
		}
		pos := offset + 1

		if pos >= len(data) {
			return Message{}, fmt.Errorf("invalid NDEF message: truncated type length at offset %d", offset)
		}
		typeLength := int(data[pos])
		pos++

		var payloadLength int
		if header&flagSR != 0 {
			if pos >= len(data) {
				return Message{}, fmt.Errorf("invalid NDEF message: truncated payload length at offset %d", offset)
			}
			payloadLength = int(data[pos])
			pos++
		} else {
			if pos+4 > len(data) {
				return Message{}, fmt.Errorf("invalid NDEF message: truncated payload length at offset %d", offset)
			}
			payloadLength = int(binary.BigEndian.Uint32(data[pos : pos+4]))
			pos += 4
		}

		var idLength int
		if header&flagIL != 0 {
			if pos >= len(data) {
				return Message{}, fmt.Errorf("invalid NDEF message: truncated ID length at offset %d", offset)
			}
			idLength = int(data[pos])
			pos++
		}

		end := pos + typeLength + idLength + payloadLength
		if payloadLength < 0 || end > len(data) {
			return Message{}, fmt.Errorf("invalid NDEF message: record at offset %d overruns buffer", offset)
		}

		rec := Record{TNF: header & tnfMask}
		if typeLength > 0 {
			rec.Type = append([]byte(nil), data[pos:pos+typeLength]...)
		}
		pos += typeLength
		if idLength > 0 {
			rec.ID = append([]byte(nil), data[pos:pos+idLength]...)
		}
		pos += idLength
		if payloadLength > 0 {
			rec.Payload = append([]byte(nil), data[pos:pos+payloadLength]...)
		}
		msg.Records = append(msg.Records, rec)

		offset = end
		if header&flagME != 0 {
			break
		}
	}
	return msg, nil
}

// MakeTextRecordPayload builds a UTF-8 text record payload:
// status byte (language length), language code, text.
func MakeTextRecordPayload(text string, langCode string) []byte {
	if langCode == "" {
		langCode = DefaultLanguage
	}
	lang := []byte(langCode)
	if len(lang) > 0x3F {
		lang = lang[:0x3F]
	}
	payload := make([]byte, 0, 1+len(lang)+len(text))
	payload = append(payload, byte(len(lang)))
	payload = append(payload, lang...)
	payload = append(payload, text...)
	return payload
}

// DecodeTextRecord extracts text from an NDEF Text Record's payload.
// The low 6 bits of the status byte give the language code length; bit 7 selects UTF-16.
func DecodeTextRecord(payload []byte) (string, error) {
	if len(payload) < 1 {
		return "", fmt.Errorf("text record payload too short (status byte missing)")
	}
	status := payload[0]
	langLength := int(status & 0x3F)

	start := 1 + langLength
	if start > len(payload) {
		return "", fmt.Errorf("text record payload too short (language code or text missing)")
	}
	textBytes := payload[start:]

	if status&0x80 != 0 {
		return decodeUTF16(textBytes)
	}
	return string(textBytes), nil
}

func decodeUTF16(b []byte) (string, error) {
	if len(b)%2 != 0 {
		return "", fmt.Errorf("invalid UTF-16 text length: %d", len(b))
	}
	bigEndian := true
	if len(b) >= 2 {
		switch {
		case b[0] == 0xFF && b[1] == 0xFE:
			bigEndian = false
			b = b[2:]
		case b[0] == 0xFE && b[1] == 0xFF:
			b = b[2:]
		}
	}
	u16s := make([]uint16, len(b)/2)
	for i := range u16s {
		if bigEndian {
			u16s[i] = binary.BigEndian.Uint16(b[i*2:])
		} else {
			u16s[i] = binary.LittleEndian.Uint16(b[i*2:])
		}
	}
	return string(utf16.Decode(u16s)), nil
}
