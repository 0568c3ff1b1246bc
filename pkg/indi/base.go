// Package indi implements the typed devices on top of an INDI client. The
// client's property cache is the source of truth; devices read it on demand
// and write by sending new vectors.
package indi

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/device"
	"astrobridge/pkg/indiclient"
)

// Standard property names shared by every driver.
const (
	propConnection    = "CONNECTION"
	propDriverInfo    = "DRIVER_INFO"
	propDebug         = "DEBUG"
	propPollingPeriod = "POLLING_PERIOD"
)

// DefaultCommandTimeout bounds the wait for a driver to acknowledge a
// command that the caller waits on.
const DefaultCommandTimeout = 5 * time.Second

// uniqueIDSpace is the namespace of the name-based identifiers given to INDI
// devices, which carry no identifier of their own.
var uniqueIDSpace = uuid.MustParse("6d1f4b52-54c3-4a4e-9d0b-7f3c2b8b9a10")

// Base is the part every INDI device shares: the session, the device name,
// connection handling over the CONNECTION switch and event forwarding.
type Base struct {
	*device.Base

	client *indiclient.Client

	mu        sync.Mutex
	cancel    func()
	onUpdate  func(p *indiclient.Property)
	onConnect func() error
}

func newBase(client *indiclient.Client, kind device.Kind, name string, logger log.FieldLogger) *Base {
	b := &Base{
		Base:   device.NewBase(name, kind, device.BackendINDI, logger),
		client: client,
	}
	b.cancel = client.Subscribe(b.handle)
	return b
}

func (b *Base) Client() *indiclient.Client { return b.client }

// hooks installs the typed device's callbacks. onUpdate runs on the client's
// dispatch goroutine for every update and BLOB of this device.
func (b *Base) hooks(onUpdate func(*indiclient.Property), onConnect func() error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onUpdate = onUpdate
	b.onConnect = onConnect
}

// Close stops forwarding client events to this device.
func (b *Base) Close() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// handle runs on the client's dispatch goroutine.
func (b *Base) handle(e indiclient.Event) {
	if e.Type == indiclient.ServerDisconnected {
		if b.ConnectionState() == device.Connected {
			b.Fail(propConnection, device.Errorf(device.ErrTransport, "INDI server connection lost"))
			b.SetConnectionState(device.Disconnected)
		}
		return
	}
	if e.Device != b.Name() {
		return
	}

	switch e.Type {
	case indiclient.PropertyDefined:
		b.Emit(device.EventPropertyDefined, e.Name, "", e.Property)
	case indiclient.PropertyUpdated:
		b.track(e.Property)
		if e.Property.State == device.PropertyAlert {
			msg := e.Property.Message
			if msg == "" {
				msg = "property entered Alert state"
			}
			b.Fail(e.Name, device.Errorf(device.ErrUnspecified, "%s", msg))
		}
		b.Emit(device.EventPropertyChanged, e.Name, e.Property.Message, e.Property)
	case indiclient.PropertyDeleted:
		b.Emit(device.EventPropertyDeleted, e.Name, "", nil)
	case indiclient.MessageReceived:
		b.Emit(device.EventMessageReceived, "", e.Message, e.Timestamp)
	case indiclient.BLOBReceived:
		b.Emit(device.EventBlobReceived, e.Name, "", e.Property)
	}

	b.mu.Lock()
	fn := b.onUpdate
	b.mu.Unlock()
	if fn != nil && e.Property != nil && (e.Type == indiclient.PropertyUpdated || e.Type == indiclient.BLOBReceived) {
		fn(e.Property)
	}
}

// track follows CONNECTION changes made behind our back, such as another
// client disconnecting the driver.
func (b *Base) track(p *indiclient.Property) {
	if p.Name != propConnection || p.State != device.PropertyOk {
		return
	}
	if p.Switch("DISCONNECT") && b.ConnectionState() == device.Connected {
		b.SetConnectionState(device.Disconnected)
	}
}

// Connect switches CONNECTION on and waits until the driver reports it.
func (b *Base) Connect(timeout time.Duration) error {
	if b.IsConnected() {
		return nil
	}
	b.SetConnectionState(device.Connecting)
	fail := func(err error) error {
		b.SetConnectionState(device.ConnectionError)
		return b.Fail(propConnection, err)
	}

	if !b.client.IsConnected() {
		return fail(device.Errorf(device.ErrNotConnected, "INDI server is not connected"))
	}
	if !b.client.WaitForProperty(b.Name(), propConnection, timeout) {
		return fail(device.Errorf(device.ErrTimeout, "device did not define %s within %s", propConnection, timeout))
	}

	if p, found := b.prop(propConnection); !found || !p.Switch("CONNECT") || p.State != device.PropertyOk {
		if err := b.client.SetSwitch(b.Name(), propConnection, map[string]bool{"CONNECT": true}); err != nil {
			return fail(err)
		}
		ok, err := device.Poll(timeout, nil, func() (bool, error) {
			p, found := b.prop(propConnection)
			if !found {
				return false, nil
			}
			if p.State == device.PropertyAlert {
				return false, device.Errorf(device.ErrUnspecified, "driver refused to connect: %s", p.Message)
			}
			return p.State == device.PropertyOk && p.Switch("CONNECT"), nil
		})
		if err != nil {
			return fail(err)
		}
		if !ok {
			return fail(device.Errorf(device.ErrTimeout, "driver did not connect within %s", timeout))
		}
	}

	b.mu.Lock()
	hook := b.onConnect
	b.mu.Unlock()
	if hook != nil {
		if err := hook(); err != nil {
			return fail(err)
		}
	}

	b.SetConnectionState(device.Connected)
	b.Logger().Infof("Connected (%s)", b.client.Address())
	return nil
}

// Disconnect switches CONNECTION off. The device ends Disconnected even
// when the server is gone.
func (b *Base) Disconnect() error {
	if b.ConnectionState() == device.Disconnected {
		return nil
	}
	b.SetConnectionState(device.Disconnecting)
	var err error
	if b.client.IsConnected() {
		err = b.client.SetSwitch(b.Name(), propConnection, map[string]bool{"DISCONNECT": true})
	}
	b.SetConnectionState(device.Disconnected)
	if err != nil {
		return b.Fail(propConnection, err)
	}
	b.Logger().Info("Disconnected")
	return nil
}

// Refresh asks the server to define every property of the device again.
func (b *Base) Refresh() error {
	if err := b.RequireConnected(); err != nil {
		return err
	}
	if err := b.client.GetProperties(b.Name(), ""); err != nil {
		return b.Fail("getProperties", err)
	}
	return nil
}

// Info reads DRIVER_INFO. The unique identifier is derived from the server
// address and device name.
func (b *Base) Info() device.Info {
	info := device.Info{
		Name:     b.Name(),
		Kind:     b.Kind(),
		Backend:  device.BackendINDI,
		Server:   b.client.Address(),
		State:    b.ConnectionState(),
		UniqueID: UniqueID(b.client.Address(), b.Name()),
	}
	if p, ok := b.prop(propDriverInfo); ok {
		info.Description, _ = p.Text("DRIVER_NAME")
		info.DriverInfo, _ = p.Text("DRIVER_EXEC")
		info.DriverVersion, _ = p.Text("DRIVER_VERSION")
	}
	return info
}

// UniqueID derives a stable identifier for an INDI device.
func UniqueID(server, name string) string {
	return uuid.NewSHA1(uniqueIDSpace, []byte("indi://"+server+"/"+name)).String()
}

// ExecuteAction sets a property by name. params lists ELEMENT=value pairs
// separated by ';'. The property's state after the write is returned.
func (b *Base) ExecuteAction(action, params string) (string, error) {
	if err := b.RequireConnected(); err != nil {
		return "", b.Fail(action, err)
	}
	if !b.has(action) {
		return "", b.Fail(action, device.Errorf(device.ErrActionNotImplemented, "device has no property %s", action))
	}
	values, err := parseAssignments(params)
	if err != nil {
		return "", b.Fail(action, err)
	}
	if err := b.SetProperty(action, values); err != nil {
		return "", err
	}
	b.waitIdle(action, DefaultCommandTimeout)
	return b.state(action).String(), nil
}

// SetDebug toggles driver debug output.
func (b *Base) SetDebug(on bool) error {
	if on {
		return b.setSwitch(propDebug, map[string]bool{"ENABLE": true})
	}
	return b.setSwitch(propDebug, map[string]bool{"DISABLE": true})
}

// SetPollingPeriod sets how often the driver polls its hardware.
func (b *Base) SetPollingPeriod(d time.Duration) error {
	if d <= 0 {
		return b.invalid(propPollingPeriod, "polling period %s must be positive", d)
	}
	return b.setNumber(propPollingPeriod, map[string]float64{"PERIOD_MS": float64(d.Milliseconds())})
}

// SetProperty writes element values given as text, converting them to the
// property's type.
func (b *Base) SetProperty(name string, values map[string]string) error {
	if err := b.RequireConnected(); err != nil {
		return b.Fail(name, err)
	}
	p, ok := b.prop(name)
	if !ok {
		return b.Fail(name, device.Errorf(device.ErrNotImplemented, "device has no property %s", name))
	}

	var err error
	switch p.Type {
	case indiclient.NumberType:
		nums := make(map[string]float64, len(values))
		for k, v := range values {
			n, perr := indiclient.ParseNumber(v)
			if perr != nil {
				return b.Fail(name, device.Errorf(device.ErrInvalidValue, "%s: %v", k, perr))
			}
			nums[k] = n
		}
		err = b.client.SetNumber(b.Name(), name, nums)
	case indiclient.SwitchType:
		sw := make(map[string]bool, len(values))
		for k, v := range values {
			on, perr := parseSwitch(v)
			if perr != nil {
				return b.Fail(name, perr)
			}
			sw[k] = on
		}
		err = b.client.SetSwitch(b.Name(), name, sw)
	case indiclient.TextType:
		err = b.client.SetText(b.Name(), name, values)
	default:
		err = device.Errorf(device.ErrInvalidOperation, "%s properties cannot be written", p.Type)
	}
	if err != nil {
		return b.Fail(name, err)
	}
	return nil
}

// Properties lists the cached properties of the device.
func (b *Base) Properties() []*indiclient.Property {
	return b.client.Properties(b.Name())
}

func (b *Base) prop(name string) (*indiclient.Property, bool) {
	return b.client.GetProperty(b.Name(), name)
}

func (b *Base) has(name string) bool {
	_, ok := b.prop(name)
	return ok
}

func (b *Base) hasElement(prop, elem string) bool {
	p, ok := b.prop(prop)
	if !ok {
		return false
	}
	_, ok = p.Element(elem)
	return ok
}

func (b *Base) writable(name string) bool {
	p, ok := b.prop(name)
	return ok && p.IsWritable()
}

func (b *Base) number(prop, elem string) (float64, bool) {
	p, ok := b.prop(prop)
	if !ok {
		return 0, false
	}
	return p.Number(elem)
}

func (b *Base) text(prop, elem string) (string, bool) {
	p, ok := b.prop(prop)
	if !ok {
		return "", false
	}
	return p.Text(elem)
}

func (b *Base) switchOn(prop, elem string) bool {
	p, ok := b.prop(prop)
	return ok && p.Switch(elem)
}

func (b *Base) state(prop string) device.PropertyState {
	p, ok := b.prop(prop)
	if !ok {
		return device.PropertyUnknown
	}
	return p.State
}

func (b *Base) busy(prop string) bool {
	return b.state(prop) == device.PropertyBusy
}

// numberRange returns the limits advertised for an element.
func (b *Base) numberRange(prop, elem string) (lo, hi float64, ok bool) {
	p, found := b.prop(prop)
	if !found {
		return 0, 0, false
	}
	e, found := p.Element(elem)
	if !found {
		return 0, 0, false
	}
	return e.Min, e.Max, true
}

func (b *Base) setNumber(prop string, values map[string]float64) error {
	if err := b.RequireConnected(); err != nil {
		return b.Fail(prop, err)
	}
	if err := b.client.SetNumber(b.Name(), prop, values); err != nil {
		return b.Fail(prop, err)
	}
	return nil
}

func (b *Base) setSwitch(prop string, values map[string]bool) error {
	if err := b.RequireConnected(); err != nil {
		return b.Fail(prop, err)
	}
	if err := b.client.SetSwitch(b.Name(), prop, values); err != nil {
		return b.Fail(prop, err)
	}
	return nil
}

func (b *Base) setText(prop string, values map[string]string) error {
	if err := b.RequireConnected(); err != nil {
		return b.Fail(prop, err)
	}
	if err := b.client.SetText(b.Name(), prop, values); err != nil {
		return b.Fail(prop, err)
	}
	return nil
}

// guard fails with InvalidOperation unless capable, without writing.
func (b *Base) guard(capable bool, what string) error {
	if err := b.RequireConnected(); err != nil {
		return b.Fail(what, err)
	}
	if !capable {
		return b.Fail(what, device.Errorf(device.ErrInvalidOperation, "%s is not supported by this device", what))
	}
	return nil
}

func (b *Base) invalid(what, format string, args ...any) error {
	return b.Fail(what, device.Errorf(device.ErrInvalidValue, format, args...))
}

// waitIdle waits until prop leaves Busy and reports whether it settled Ok.
func (b *Base) waitIdle(prop string, timeout time.Duration) bool {
	var last device.PropertyState
	ok, _ := device.Poll(timeout, nil, func() (bool, error) {
		last = b.state(prop)
		return last != device.PropertyBusy, nil
	})
	return ok && last != device.PropertyAlert
}

// settle waits for a command the caller blocks on, turning Alert and
// timeouts into errors.
func (b *Base) settle(prop string) error {
	var last *indiclient.Property
	ok, _ := device.Poll(DefaultCommandTimeout, nil, func() (bool, error) {
		p, found := b.prop(prop)
		last = p
		return !found || p.State != device.PropertyBusy, nil
	})
	switch {
	case !ok:
		return b.Fail(prop, device.Errorf(device.ErrTimeout, "%s still busy after %s", prop, DefaultCommandTimeout))
	case last != nil && last.State == device.PropertyAlert:
		msg := last.Message
		if msg == "" {
			msg = "driver rejected the command"
		}
		return b.Fail(prop, device.Errorf(device.ErrUnspecified, "%s: %s", prop, msg))
	}
	return nil
}

func parseSwitch(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, device.Errorf(device.ErrInvalidValue, "invalid switch value %q", v)
}

// parseAssignments parses "A=1;B=2".
func parseAssignments(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, device.Errorf(device.ErrInvalidValue, "malformed assignment %q", part)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if len(out) == 0 {
		return nil, device.Errorf(device.ErrInvalidValue, "no element values given")
	}
	return out, nil
}
