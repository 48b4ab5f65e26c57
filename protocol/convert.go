package protocol

import (
	"fmt"
	"regexp"
	"strings"
)

var hexOnly = regexp.MustCompile(`^[0-9A-F]+$`)

// ParseUID normalizes a hardware serial from various formats to colon-separated uppercase hex.
// Supports: "04:AB:CD:EF", "04ABCDEF", "04 AB CD EF", "04-AB-CD-EF"
func ParseUID(uid string) (string, error) {
	if uid == "" {
		return "", fmt.Errorf("empty UID")
	}

	cleaned := strings.NewReplacer(":", "", " ", "", "-", "").Replace(uid)
	cleaned = strings.ToUpper(cleaned)

	if !hexOnly.MatchString(cleaned) {
		return "", fmt.Errorf("UID contains invalid characters: %s", uid)
	}
	if len(cleaned)%2 != 0 {
		return "", fmt.Errorf("UID has odd number of hex characters: %s", uid)
	}

	var result strings.Builder
	for i := 0; i < len(cleaned); i += 2 {
		if i > 0 {
			result.WriteByte(':')
		}
		result.WriteString(cleaned[i : i+2])
	}
	return result.String(), nil
}

// CanonicalSerial returns ParseUID's form when the serial is hex, and the
// trimmed input otherwise. Some devices report opaque serials.
func CanonicalSerial(serial string) string {
	serial = strings.TrimSpace(serial)
	if uid, err := ParseUID(serial); err == nil {
		return uid
	}
	return serial
}
