// Package facade flattens the typed device model into a small name/value
// API with a single normalized event stream, for callers that talk JSON.
package facade

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/device"
	"astrobridge/pkg/indi"
	"astrobridge/pkg/indiclient"
	"astrobridge/pkg/manager"
)

const (
	DefaultConnectTimeout  = 10 * time.Second
	DefaultDiscoverTimeout = 2 * time.Second
)

// ServerInfo describes one server the façade is attached to.
type ServerInfo struct {
	Backend   device.Backend `json:"backend"`
	Address   string         `json:"address"`
	Connected bool           `json:"connected"`
	Devices   []string       `json:"devices"`
}

type server struct {
	backend device.Backend
	address string

	alpaca *alpaca.Client
	indi   *indiclient.Client
	cancel func()

	mu        sync.Mutex
	connected bool
	devices   []string
}

func (s *server) info() ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ServerInfo{
		Backend:   s.backend,
		Address:   s.address,
		Connected: s.connected,
		Devices:   append([]string(nil), s.devices...),
	}
}

func (s *server) addDevice(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = append(s.devices, name)
}

func (s *server) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.devices...)
}

type Option func(*Facade)

func WithLogger(l log.FieldLogger) Option {
	return func(f *Facade) { f.logger = l }
}

func WithFactory(factory *manager.Factory) Option {
	return func(f *Facade) { f.factory = factory }
}

func WithAlpacaOptions(opts ...alpaca.Option) Option {
	return func(f *Facade) { f.alpacaOpts = append(f.alpacaOpts, opts...) }
}

func WithINDIOptions(opts ...indiclient.Option) Option {
	return func(f *Facade) { f.indiOpts = append(f.indiOpts, opts...) }
}

func WithDiscoveryOptions(opts ...alpaca.DiscoverOption) Option {
	return func(f *Facade) { f.discoverOpts = append(f.discoverOpts, opts...) }
}

// WithINDIServers lists fixed INDI addresses reported by DiscoverServers,
// since INDI has no discovery protocol.
func WithINDIServers(addrs ...string) Option {
	return func(f *Facade) { f.indiServers = append(f.indiServers, addrs...) }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(f *Facade) { f.connectTimeout = d }
}

// Facade owns the transports and the device manager.
type Facade struct {
	logger         log.FieldLogger
	factory        *manager.Factory
	devices        *manager.Manager
	alpacaOpts     []alpaca.Option
	indiOpts       []indiclient.Option
	discoverOpts   []alpaca.DiscoverOption
	indiServers    []string
	connectTimeout time.Duration

	mu      sync.Mutex
	servers map[string]*server
	order   []string

	subs subscribers
}

func New(opts ...Option) *Facade {
	f := &Facade{
		logger:         log.StandardLogger(),
		connectTimeout: DefaultConnectTimeout,
		servers:        make(map[string]*server),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.WithField("component", "facade")
	if f.factory == nil {
		f.factory = manager.Default()
	}
	f.devices = manager.New(f.logger)
	return f
}

// Manager exposes the typed devices behind the façade.
func (f *Facade) Manager() *manager.Manager { return f.devices }

func serverKey(backend device.Backend, address string) string {
	return backend.String() + "://" + address
}

// ConnectServer attaches to an Alpaca or INDI server and registers its
// devices. Devices are created disconnected. Connecting to a server that is
// already attached is a no-op. Reconnecting to a server that went away
// replaces its devices with ones bound to the new session.
func (f *Facade) ConnectServer(ctx context.Context, backend device.Backend, host string, port int) error {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	key := serverKey(backend, address)

	f.mu.Lock()
	old, ok := f.servers[key]
	f.mu.Unlock()
	if ok {
		if old.info().Connected {
			return nil
		}
		if err := f.detach(old); err != nil {
			f.logger.Debugf("Releasing stale session to %s: %v", key, err)
		}
	}

	s := &server{backend: backend, address: address}
	var err error
	switch backend {
	case device.BackendASCOM:
		err = f.connectAlpaca(ctx, s, host, port)
	case device.BackendINDI:
		err = f.connectINDI(ctx, s, host, port)
	default:
		err = device.Errorf(device.ErrInvalidValue, "unknown backend %s", backend)
	}
	if err != nil {
		f.logger.Errorf("Connecting to %s: %v", key, err)
		f.emit(device.Event{Type: device.EventError, DeviceName: address, Message: err.Error(), Data: errorData(err)})
		return err
	}

	f.mu.Lock()
	if _, ok := f.servers[key]; !ok {
		f.order = append(f.order, key)
	}
	f.servers[key] = s
	f.mu.Unlock()

	f.logger.Infof("Connected to %s server %s (%d devices)", backend, address, len(s.names()))
	f.emit(device.Event{Type: device.EventServerConnected, DeviceName: address, Message: backend.String() + " server connected", Data: s.info()})
	return nil
}

func (f *Facade) connectAlpaca(ctx context.Context, s *server, host string, port int) error {
	client := alpaca.NewClient(host, port, f.alpacaOpts...)
	configured, err := client.ConfiguredDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices on %s: %w", s.address, err)
	}
	s.alpaca = client
	s.connected = true
	for _, desc := range configured {
		f.addDevice(s, manager.Spec{
			Backend: device.BackendASCOM,
			Kind:    desc.Kind(),
			Name:    desc.Name,
			Number:  desc.Number,
			Alpaca:  client,
		})
	}
	return nil
}

func (f *Facade) connectINDI(ctx context.Context, s *server, host string, port int) error {
	opts := append([]indiclient.Option{indiclient.WithLogger(f.logger)}, f.indiOpts...)
	client := indiclient.NewClient(opts...)
	s.indi = client
	s.cancel = client.Subscribe(func(e indiclient.Event) { f.indiEvent(s, e) })

	if err := client.Connect(ctx, host, port, f.connectTimeout); err != nil {
		s.cancel()
		return err
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	// Drivers announced before the subscription saw them.
	for _, name := range client.Devices() {
		f.addINDIDevice(s, name)
	}
	return nil
}

func (f *Facade) indiEvent(s *server, e indiclient.Event) {
	switch e.Type {
	case indiclient.PropertyDefined:
		if e.Name == indi.DriverInfoProperty {
			f.addINDIDevice(s, e.Device)
		}
	case indiclient.ServerDisconnected:
		s.mu.Lock()
		was := s.connected
		s.connected = false
		s.mu.Unlock()
		if was {
			f.logger.Warnf("INDI server %s went away", s.address)
			f.emit(device.Event{Type: device.EventServerDisconnected, DeviceName: s.address, Message: e.Message})
		}
	}
}

func (f *Facade) addINDIDevice(s *server, name string) {
	if _, exists := f.devices.Get(name); exists {
		return
	}
	kind := indi.DeviceKind(s.indi, name)
	if kind == device.KindUnknown {
		f.logger.Debugf("INDI device %q has no supported interface", name)
		return
	}
	f.addDevice(s, manager.Spec{Backend: device.BackendINDI, Kind: kind, Name: name, INDI: s.indi})
}

func (f *Facade) addDevice(s *server, spec manager.Spec) {
	spec.Logger = f.logger
	if !f.factory.IsSupported(spec.Backend, spec.Kind) {
		f.logger.Warnf("Skipping %s device %q: %s is not supported", spec.Backend, spec.Name, spec.Kind)
		return
	}
	d, err := f.factory.Create(spec)
	if err != nil {
		f.logger.Errorf("Creating %s device %q: %v", spec.Backend, spec.Name, err)
		return
	}
	if !f.devices.Add(d) {
		if c, ok := d.(interface{ Close() }); ok {
			c.Close()
		}
		return
	}
	d.SetEventCallback(f.forward)
	s.addDevice(d.Name())
	f.logger.Infof("Registered %s %s %q", spec.Backend, spec.Kind, d.Name())
}

// DisconnectServer disconnects and forgets every device of the server at
// address, then closes the transport.
func (f *Facade) DisconnectServer(backend device.Backend, address string) error {
	key := serverKey(backend, address)
	f.mu.Lock()
	s, ok := f.servers[key]
	if ok {
		delete(f.servers, key)
		for i, k := range f.order {
			if k == key {
				f.order = append(f.order[:i], f.order[i+1:]...)
				break
			}
		}
	}
	f.mu.Unlock()
	if !ok {
		return device.Errorf(device.ErrNotConnected, "not attached to %s", key)
	}

	err := f.detach(s)
	f.logger.Infof("Disconnected from %s", key)
	f.emit(device.Event{Type: device.EventServerDisconnected, DeviceName: address, Message: backend.String() + " server disconnected"})
	return err
}

// detach forgets the devices of s and closes its transport. It may run more
// than once for the same server.
func (f *Facade) detach(s *server) error {
	s.mu.Lock()
	names := s.devices
	s.devices = nil
	cancel := s.cancel
	s.cancel = nil
	s.connected = false
	s.mu.Unlock()

	for _, name := range names {
		f.devices.Remove(name)
	}
	if cancel != nil {
		cancel()
	}
	if s.indi != nil {
		return s.indi.Disconnect()
	}
	return nil
}

// Servers lists the attached servers in the order they were connected.
func (f *Facade) Servers() []ServerInfo {
	f.mu.Lock()
	servers := make([]*server, 0, len(f.order))
	for _, k := range f.order {
		servers = append(servers, f.servers[k])
	}
	f.mu.Unlock()

	out := make([]ServerInfo, 0, len(servers))
	for _, s := range servers {
		out = append(out, s.info())
	}
	return out
}

// DiscoverServers returns Alpaca servers answering the UDP discovery probe,
// in order of arrival, followed by the configured INDI addresses. It never
// blocks longer than timeout.
func (f *Facade) DiscoverServers(ctx context.Context, timeout time.Duration) ([]string, error) {
	if timeout <= 0 {
		timeout = DefaultDiscoverTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	opts := append([]alpaca.DiscoverOption{alpaca.WithDiscoveryLogger(f.logger)}, f.discoverOpts...)
	found, err := alpaca.Discover(ctx, timeout, opts...)
	if found == nil {
		found = []string{}
	}
	found = append(found, f.indiServers...)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return found, device.Errorf(device.ErrTransport, "discovery: %v", err)
	}
	return found, nil
}

// GetDevices describes every registered device.
func (f *Facade) GetDevices() []device.Info {
	devices := f.devices.Devices()
	out := make([]device.Info, 0, len(devices))
	for _, d := range devices {
		info := d.Info()
		info.State = d.ConnectionState()
		out = append(out, info)
	}
	return out
}

func (f *Facade) lookup(name string) (device.Device, error) {
	d, ok := f.devices.Get(name)
	if !ok {
		return nil, device.Errorf(device.ErrInvalidValue, "unknown device %q", name)
	}
	return d, nil
}

func (f *Facade) ConnectDevice(name string) error {
	d, err := f.lookup(name)
	if err != nil {
		return err
	}
	return d.Connect(f.connectTimeout)
}

func (f *Facade) DisconnectDevice(name string) error {
	d, err := f.lookup(name)
	if err != nil {
		return err
	}
	return d.Disconnect()
}

// GetProperty reads one entry of the device's flattened property table.
func (f *Facade) GetProperty(deviceName, property string) (PropertyValue, error) {
	d, err := f.lookup(deviceName)
	if err != nil {
		return PropertyValue{}, err
	}
	a, ok := lookupProperty(d.Kind(), property)
	if !ok {
		return PropertyValue{}, device.Errorf(device.ErrNotImplemented, "%s has no property %q", d.Kind(), property)
	}
	if a.get == nil {
		return PropertyValue{}, device.Errorf(device.ErrInvalidOperation, "%q is a command and cannot be read", property)
	}
	v, err := a.get(d)
	if err != nil {
		return PropertyValue{}, err
	}
	return PropertyValue{
		Device:   d.Name(),
		Name:     property,
		Value:    v,
		Readable: true,
		Writable: a.set != nil,
	}, nil
}

// Properties reads every readable property of a device. Properties whose
// read fails are left out.
func (f *Facade) Properties(deviceName string) ([]PropertyValue, error) {
	d, err := f.lookup(deviceName)
	if err != nil {
		return nil, err
	}
	var out []PropertyValue
	for _, name := range PropertyNames(d.Kind()) {
		a, _ := lookupProperty(d.Kind(), name)
		if a.get == nil {
			out = append(out, PropertyValue{Device: d.Name(), Name: name, Writable: true})
			continue
		}
		v, err := a.get(d)
		if err != nil {
			f.logger.Debugf("Reading %s.%s: %v", d.Name(), name, err)
			continue
		}
		out = append(out, PropertyValue{Device: d.Name(), Name: name, Value: v, Readable: true, Writable: a.set != nil})
	}
	return out, nil
}

// SetProperty writes one entry of the flattened table or runs a command.
func (f *Facade) SetProperty(deviceName, property string, value any) error {
	d, err := f.lookup(deviceName)
	if err != nil {
		return err
	}
	a, ok := lookupProperty(d.Kind(), property)
	if !ok {
		return device.Errorf(device.ErrNotImplemented, "%s has no property %q", d.Kind(), property)
	}
	if a.set == nil {
		return device.Errorf(device.ErrInvalidOperation, "%q is read-only", property)
	}
	if err := a.set(d, value); err != nil {
		return err
	}
	f.logger.WithField("device", d.Name()).Debugf("Set %s = %v", property, value)
	return nil
}

func (f *Facade) ExecuteAction(deviceName, action, params string) (string, error) {
	d, err := f.lookup(deviceName)
	if err != nil {
		return "", err
	}
	return d.ExecuteAction(action, params)
}

// Close disconnects every device and server.
func (f *Facade) Close() {
	for _, s := range f.Servers() {
		if err := f.DisconnectServer(s.Backend, s.Address); err != nil {
			f.logger.Warnf("Closing %s: %v", s.Address, err)
		}
	}
	f.devices.Clear()
}
