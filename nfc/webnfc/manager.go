package webnfc

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dotside-studios/closet-nfc/nfc"
	"github.com/dotside-studios/closet-nfc/protocol"
)

// Manager keeps the registered devices and hands out reader handles on them.
type Manager struct {
	devices           map[string]*Device // deviceID -> device
	mu                sync.RWMutex       // Protects devices map
	cleanupTicker     *time.Ticker
	stopCleanup       chan struct{}
	inactivityTimeout time.Duration
	closed            bool
	logger            *log.Logger
	now               func() time.Time
}

var (
	_ nfc.Opener = (*Manager)(nil)
	_ nfc.Prober = (*Manager)(nil)
)

// NewManager creates a device manager. A zero timeout uses DeviceTimeout.
func NewManager(inactivityTimeout time.Duration, logger *log.Logger) *Manager {
	if inactivityTimeout == 0 {
		inactivityTimeout = DeviceTimeout
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[device] ", log.LstdFlags)
	}

	m := &Manager{
		devices:           make(map[string]*Device),
		inactivityTimeout: inactivityTimeout,
		stopCleanup:       make(chan struct{}),
		logger:            logger,
		now:               time.Now,
	}
	m.startCleanupRoutine()
	return m
}

// Register validates req and adds a device speaking over conn.
func (m *Manager) Register(conn Conn, req protocol.DeviceRegistrationRequest) (*Device, error) {
	if req.DeviceName == "" {
		return nil, fmt.Errorf("device name is required")
	}
	switch req.Platform {
	case PlatformWeb, PlatformAndroid, PlatformIOS:
	default:
		return nil, fmt.Errorf("invalid platform: %s (must be 'web', 'android', or 'ios')", req.Platform)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("device manager is closed")
	}

	device := newDevice(uuid.NewString(), req, conn, m.now(), m.logger)
	m.devices[device.ID()] = device

	m.logger.Printf("Device registered: %s (%s, %s)", device, req.Platform, req.AppVersion)
	return device, nil
}

// Unregister removes and closes a device.
func (m *Manager) Unregister(deviceID string) error {
	m.mu.Lock()
	device, exists := m.devices[deviceID]
	if exists {
		delete(m.devices, deviceID)
	}
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("device not found: %s", deviceID)
	}
	if err := device.Close(); err != nil {
		m.logger.Printf("Error closing device %s: %v", deviceID, err)
	}
	m.logger.Printf("Device unregistered: %s", device)
	return nil
}

// Touch updates a device's last-seen timestamp.
func (m *Manager) Touch(deviceID string) error {
	device, ok := m.Device(deviceID)
	if !ok {
		return fmt.Errorf("device not found: %s", deviceID)
	}
	device.touch(m.now())
	return nil
}

// Device retrieves a device by ID.
func (m *Manager) Device(deviceID string) (*Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	device, ok := m.devices[deviceID]
	return device, ok
}

// Devices returns the registered devices, most recently seen first.
func (m *Manager) Devices() []*Device {
	m.mu.RLock()
	out := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].LastSeen(), out[j].LastSeen()
		if !li.Equal(lj) {
			return li.After(lj)
		}
		return out[i].registeredAt.After(out[j].registeredAt)
	})
	return out
}

// Count returns the number of registered devices.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

// Probe reports whether Open would find a capable device.
func (m *Manager) Probe(ctx context.Context) error {
	_, err := m.pick()
	return err
}

// Open returns a fresh handle on the most recently seen capable device.
func (m *Manager) Open(ctx context.Context) (nfc.Reader, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	device, err := m.pick()
	if err != nil {
		return nil, err
	}
	return NewHandle(device), nil
}

func (m *Manager) pick() (*Device, error) {
	devices := m.Devices()
	if len(devices) == 0 {
		return nil, nfc.NewUnsupportedError("Open", "no Web NFC device connected")
	}
	var firstErr error
	for _, d := range devices {
		err := d.Capable()
		if err == nil {
			return d, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// Close stops the cleanup routine and closes every device.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	devices := m.devices
	m.devices = make(map[string]*Device)
	m.mu.Unlock()

	if m.cleanupTicker != nil {
		m.cleanupTicker.Stop()
	}
	close(m.stopCleanup)

	for deviceID, device := range devices {
		if err := device.Close(); err != nil {
			m.logger.Printf("Error closing device %s: %v", deviceID, err)
		}
	}
	m.logger.Printf("Manager closed")
}

func (m *Manager) startCleanupRoutine() {
	m.cleanupTicker = time.NewTicker(CleanupInterval)

	go func() {
		for {
			select {
			case <-m.cleanupTicker.C:
				m.cleanupInactiveDevices()
			case <-m.stopCleanup:
				return
			}
		}
	}()
}

// cleanupInactiveDevices removes devices that exceeded the inactivity timeout.
// A device with an attached handle is kept; the session owns its lifetime.
func (m *Manager) cleanupInactiveDevices() {
	now := m.now()

	m.mu.Lock()
	var stale []*Device
	for deviceID, device := range m.devices {
		if device.InUse() {
			continue
		}
		if idle := now.Sub(device.LastSeen()); idle > m.inactivityTimeout {
			m.logger.Printf("Cleaning up inactive device: %s (last seen %v ago)", device, idle)
			stale = append(stale, device)
			delete(m.devices, deviceID)
		}
	}
	m.mu.Unlock()

	for _, device := range stale {
		if err := device.Close(); err != nil {
			m.logger.Printf("Error closing device %s: %v", device.ID(), err)
		}
	}
}
