package manager

import (
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"astrobridge/pkg/device"
)

// DefaultConnectTimeout bounds each device connect in a batch.
const DefaultConnectTimeout = 10 * time.Second

// maxParallel limits concurrent connects and disconnects in a batch.
const maxParallel = 8

// Manager owns a set of devices keyed by name. Names are unique.
type Manager struct {
	logger log.FieldLogger

	mu      sync.RWMutex
	devices map[string]device.Device
	order   []string
}

func New(logger log.FieldLogger) *Manager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Manager{
		logger:  logger.WithField("component", "manager"),
		devices: make(map[string]device.Device),
	}
}

// Add registers d. It returns false, leaving the existing entry in place,
// when a device with the same name is already registered.
func (m *Manager) Add(d device.Device) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[d.Name()]; ok {
		m.logger.Warnf("Device %q already registered", d.Name())
		return false
	}
	m.devices[d.Name()] = d
	m.order = append(m.order, d.Name())
	m.logger.Debugf("Added %s %s device %q", d.Backend(), d.Kind(), d.Name())
	return true
}

// Remove disconnects and forgets the named device.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	d, ok := m.devices[name]
	if ok {
		delete(m.devices, name)
		for i, n := range m.order {
			if n == name {
				m.order = append(m.order[:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	release(d, m.logger)
	return true
}

// release disconnects d and detaches it from its transport.
func release(d device.Device, logger log.FieldLogger) {
	if d.ConnectionState() != device.Disconnected {
		if err := d.Disconnect(); err != nil {
			logger.Warnf("Disconnecting %q: %v", d.Name(), err)
		}
	}
	if c, ok := d.(interface{ Close() }); ok {
		c.Close()
	}
}

func (m *Manager) Get(name string) (device.Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[name]
	return d, ok
}

// Devices lists the registered devices in the order they were added.
func (m *Manager) Devices() []device.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]device.Device, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.devices[name])
	}
	return out
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.devices)
}

func (m *Manager) ByKind(kind device.Kind) []device.Device {
	var out []device.Device
	for _, d := range m.Devices() {
		if d.Kind() == kind {
			out = append(out, d)
		}
	}
	return out
}

func ofType[T any](m *Manager) []T {
	var out []T
	for _, d := range m.Devices() {
		if v, ok := d.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func (m *Manager) Cameras() []device.Camera           { return ofType[device.Camera](m) }
func (m *Manager) Telescopes() []device.Telescope     { return ofType[device.Telescope](m) }
func (m *Manager) Focusers() []device.Focuser         { return ofType[device.Focuser](m) }
func (m *Manager) FilterWheels() []device.FilterWheel { return ofType[device.FilterWheel](m) }
func (m *Manager) Domes() []device.Dome               { return ofType[device.Dome](m) }
func (m *Manager) Rotators() []device.Rotator         { return ofType[device.Rotator](m) }
func (m *Manager) GPSs() []device.GPS                 { return ofType[device.GPS](m) }

func (m *Manager) ObservingConditions() []device.ObservingConditions {
	return ofType[device.ObservingConditions](m)
}

// ConnectAll connects every registered device that is not yet connected and
// returns how many are connected afterwards. Failures are logged and leave
// the device in its error state.
func (m *Manager) ConnectAll(timeout time.Duration) int {
	return m.ConnectBackend(nil, timeout)
}

// ConnectBackend is ConnectAll restricted to devices of one backend. A nil
// backend selects every device.
func (m *Manager) ConnectBackend(backend *device.Backend, timeout time.Duration) int {
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	var (
		g         errgroup.Group
		connected atomic.Int32
	)
	g.SetLimit(maxParallel)
	for _, d := range m.Devices() {
		if backend != nil && d.Backend() != *backend {
			continue
		}
		g.Go(func() error {
			if err := d.Connect(timeout); err != nil {
				m.logger.Errorf("Connecting %q: %v", d.Name(), err)
				return nil
			}
			connected.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(connected.Load())
}

// DisconnectAll disconnects every connected device and returns how many
// were disconnected.
func (m *Manager) DisconnectAll() int {
	var (
		g            errgroup.Group
		disconnected atomic.Int32
	)
	g.SetLimit(maxParallel)
	for _, d := range m.Devices() {
		if !d.IsConnected() {
			continue
		}
		g.Go(func() error {
			if err := d.Disconnect(); err != nil {
				m.logger.Warnf("Disconnecting %q: %v", d.Name(), err)
			}
			if !d.IsConnected() {
				disconnected.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(disconnected.Load())
}

// Clear disconnects and forgets every device.
func (m *Manager) Clear() {
	m.mu.Lock()
	devices := make([]device.Device, 0, len(m.order))
	for _, name := range m.order {
		devices = append(devices, m.devices[name])
	}
	m.devices = make(map[string]device.Device)
	m.order = nil
	m.mu.Unlock()

	for _, d := range devices {
		release(d, m.logger)
	}
	m.logger.Debugf("Cleared %d devices", len(devices))
}
