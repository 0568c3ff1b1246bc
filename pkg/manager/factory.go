// Package manager builds devices for either backend and keeps track of the
// ones an application is working with.
package manager

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/ascom"
	"astrobridge/pkg/device"
	"astrobridge/pkg/indi"
	"astrobridge/pkg/indiclient"
)

// Spec describes the device to build. Only the client of the requested
// backend is used.
type Spec struct {
	Backend device.Backend
	Kind    device.Kind
	Name    string
	Number  int

	Alpaca *alpaca.Client
	INDI   *indiclient.Client
	Logger log.FieldLogger
}

// Creator builds one device.
type Creator func(spec Spec) (device.Device, error)

type creatorKey struct {
	backend device.Backend
	kind    device.Kind
}

// Factory maps (backend, kind) to a Creator.
type Factory struct {
	mu       sync.RWMutex
	creators map[creatorKey]Creator
}

var (
	defaultFactory *Factory
	defaultOnce    sync.Once
)

// Default returns the process-wide factory with the built-in creators
// installed on first use.
func Default() *Factory {
	defaultOnce.Do(func() {
		defaultFactory = NewFactory()
		defaultFactory.RegisterDefaults()
	})
	return defaultFactory
}

// NewFactory returns a factory without any creators.
func NewFactory() *Factory {
	return &Factory{creators: make(map[creatorKey]Creator)}
}

// RegisterDefaults installs a creator for every kind implemented by the
// ASCOM and INDI backends, replacing any registered before.
func (f *Factory) RegisterDefaults() {
	for _, kind := range ascom.Kinds() {
		f.Register(device.BackendASCOM, kind, newASCOM)
	}
	for _, kind := range indi.Kinds() {
		f.Register(device.BackendINDI, kind, newINDI)
	}
}

func newASCOM(spec Spec) (device.Device, error) {
	if spec.Alpaca == nil {
		return nil, device.Errorf(device.ErrNotConnected, "no Alpaca client for %s %q", spec.Kind, spec.Name)
	}
	return ascom.NewDevice(spec.Kind, spec.Alpaca, spec.Number, spec.Name, spec.Logger)
}

func newINDI(spec Spec) (device.Device, error) {
	if spec.INDI == nil {
		return nil, device.Errorf(device.ErrNotConnected, "no INDI client for %s %q", spec.Kind, spec.Name)
	}
	return indi.NewDevice(spec.Kind, spec.INDI, spec.Name, spec.Logger)
}

// Register installs or replaces the creator for (backend, kind).
func (f *Factory) Register(backend device.Backend, kind device.Kind, c Creator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[creatorKey{backend, kind}] = c
}

// Unregister removes the creator for (backend, kind).
func (f *Factory) Unregister(backend device.Backend, kind device.Kind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.creators, creatorKey{backend, kind})
}

func (f *Factory) IsSupported(backend device.Backend, kind device.Kind) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.creators[creatorKey{backend, kind}]
	return ok
}

// SupportedKinds lists the kinds with a creator for backend, in kind order.
func (f *Factory) SupportedKinds(backend device.Backend) []device.Kind {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var kinds []device.Kind
	for k := range f.creators {
		if k.backend == backend {
			kinds = append(kinds, k.kind)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Create builds the device described by spec.
func (f *Factory) Create(spec Spec) (device.Device, error) {
	f.mu.RLock()
	c, ok := f.creators[creatorKey{spec.Backend, spec.Kind}]
	f.mu.RUnlock()
	if !ok {
		return nil, device.Errorf(device.ErrNotImplemented, "no %s creator for %s devices", spec.Backend, spec.Kind)
	}
	d, err := c(spec)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, device.Errorf(device.ErrUnspecified, "%s creator for %s returned no device", spec.Backend, spec.Kind)
	}
	return d, nil
}
