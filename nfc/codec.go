package nfc

import (
	"encoding/hex"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	validIdentifier = regexp.MustCompile(`^[0-9A-F]{8,}$`)
	macLike         = regexp.MustCompile(`^[0-9A-F]{2}(:[0-9A-F]{2}){5}$`)
)

// macLength is the number of bytes in a serial-derived identifier.
const macLength = 6

// Normalize trims whitespace, uppercases and strips hyphens.
func Normalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	return strings.ReplaceAll(s, "-", "")
}

// IsValidIdentifier reports whether s, once normalized, is at least 8 hex characters.
func IsValidIdentifier(s string) bool {
	return validIdentifier.MatchString(Normalize(s))
}

// IsMACLike reports whether s is a six-byte colon-separated identifier,
// the form produced by DeriveFromHardwareSerial.
func IsMACLike(s string) bool {
	return macLike.MatchString(Normalize(s))
}

// usableText reports whether a text record value can serve as a tag identifier.
func usableText(s string) bool {
	return IsValidIdentifier(s) || IsMACLike(s)
}

// DeriveFromHardwareSerial maps a hardware serial to a six-byte "XX:XX:XX:XX:XX:XX" identifier.
//
// Serials reported as hex ("04:a2:3b:...") are decoded to their bytes; anything else is taken
// byte-for-byte. Serials shorter than six bytes are padded with the low-order bytes of now,
// which aids uniqueness but is not a security property.
func DeriveFromHardwareSerial(serial string, now time.Time) string {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return ""
	}

	b := serialBytes(serial)
	if len(b) >= macLength {
		b = b[:macLength]
	} else {
		ts := now.UnixMilli()
		for i := 0; len(b) < macLength; i++ {
			b = append(b, byte(ts>>(8*i)))
		}
	}

	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02X", v)
	}
	return strings.Join(parts, ":")
}

func serialBytes(serial string) []byte {
	cleaned := strings.NewReplacer(":", "", "-", "", " ", "").Replace(serial)
	if len(cleaned) > 0 && len(cleaned)%2 == 0 {
		if b, err := hex.DecodeString(cleaned); err == nil {
			return b
		}
	}
	return []byte(serial)
}

// GenerateIdentifier returns a fresh 128-bit identifier as 32 uppercase hex characters.
//
// When the system random source fails it falls back to timestamp plus math/rand, which is
// lower-uniqueness and only meant to keep registration usable.
func GenerateIdentifier() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	}
	return fallbackIdentifier(time.Now())
}

func fallbackIdentifier(now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 16)
	r := strconv.FormatUint(rand.Uint64()&0xFFFFFFFFFFFF, 16)
	return strings.ToUpper(ts + r)
}
