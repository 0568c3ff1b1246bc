package device

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Info describes a device as seen by callers of the library.
type Info struct {
	Name             string          `json:"name"`
	Kind             Kind            `json:"kind"`
	Backend          Backend         `json:"backend"`
	Number           int             `json:"number"`
	UniqueID         string          `json:"uniqueId,omitempty"`
	Description      string          `json:"description,omitempty"`
	DriverInfo       string          `json:"driverInfo,omitempty"`
	DriverVersion    string          `json:"driverVersion,omitempty"`
	InterfaceVersion int             `json:"interfaceVersion,omitempty"`
	Server           string          `json:"server,omitempty"`
	State            ConnectionState `json:"state"`
}

// Base holds the bookkeeping every device needs regardless of backend:
// identity, connection state, the last error and the event callback.
// Backends embed it.
type Base struct {
	name    string
	kind    Kind
	backend Backend
	logger  log.FieldLogger

	mu      sync.RWMutex
	state   ConnectionState
	lastErr error

	cbMu     sync.RWMutex
	callback EventCallback
	// emitMu serializes callback invocations for this device.
	emitMu sync.Mutex
}

func NewBase(name string, kind Kind, backend Backend, logger log.FieldLogger) *Base {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Base{
		name:    name,
		kind:    kind,
		backend: backend,
		logger:  logger.WithField("device", name),
	}
}

func (b *Base) Name() string { return b.name }
func (b *Base) Kind() Kind { return b.kind }
func (b *Base) Backend() Backend { return b.backend }
func (b *Base) Logger() log.FieldLogger { return b.logger }

func (b *Base) ConnectionState() ConnectionState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Base) IsConnected() bool {
	return b.ConnectionState() == Connected
}

// SetConnectionState records a transition and publishes the matching
// connect/disconnect event.
func (b *Base) SetConnectionState(s ConnectionState) {
	b.mu.Lock()
	prev := b.state
	b.state = s
	if s == Connected || s == Disconnected {
		b.lastErr = nil
	}
	b.mu.Unlock()

	if prev == s {
		return
	}
	b.logger.Debugf("Connection state %s -> %s", prev, s)
	switch s {
	case Connected:
		b.Emit(EventDeviceConnected, "", "connected", nil)
	case Disconnected:
		if prev == Connected || prev == Disconnecting {
			b.Emit(EventDeviceDisconnected, "", "disconnected", nil)
		}
	}
}

// RequireConnected returns ErrNotConnected unless the device is Connected.
func (b *Base) RequireConnected() error {
	if b.IsConnected() {
		return nil
	}
	return &Error{Kind: ErrNotConnected, Device: b.name, Message: "device is not connected"}
}

func (b *Base) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

// Fail records err as the last error, publishes an Error event and returns
// err annotated with the device and property names.
func (b *Base) Fail(property string, err error) error {
	if err == nil {
		return nil
	}
	err = withContext(err, b.name, property)

	b.mu.Lock()
	b.lastErr = err
	b.mu.Unlock()

	b.logger.WithField("property", property).Errorf("%v", err)
	b.Emit(EventError, property, err.Error(), ErrorData{Kind: KindName(err), Code: CodeOf(err)})
	return err
}

// SetEventCallback installs cb, replacing any previous callback. A nil cb
// disables events.
func (b *Base) SetEventCallback(cb EventCallback) {
	b.cbMu.Lock()
	b.callback = cb
	b.cbMu.Unlock()
}

// Emit invokes the event callback, if any. Calls for one device never
// overlap.
func (b *Base) Emit(t EventType, property, message string, data any) {
	b.cbMu.RLock()
	cb := b.callback
	b.cbMu.RUnlock()
	if cb == nil {
		return
	}

	b.emitMu.Lock()
	defer b.emitMu.Unlock()
	cb(Event{
		Type:         t,
		DeviceName:   b.name,
		PropertyName: property,
		Message:      message,
		Data:         data,
		Timestamp:    time.Now(),
	})
}
