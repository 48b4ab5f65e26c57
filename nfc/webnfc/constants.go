// Package webnfc turns a phone or browser running the Web NFC page into an
// nfc.Reader. The page connects over a WebSocket, registers as a device, and
// relays scan, stop and write commands to NDEFReader.
package webnfc

import "time"

// Device timing constants
const (
	DeviceTimeout   = 60 * time.Second // Device inactivity timeout
	CleanupInterval = 15 * time.Second // Cleanup check interval
)

// Device platforms accepted at registration.
const (
	PlatformWeb     = "web"
	PlatformAndroid = "android"
	PlatformIOS     = "ios"
)
