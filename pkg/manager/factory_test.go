package manager_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/device"
	"astrobridge/pkg/indiclient"
	"astrobridge/pkg/manager"
)

func TestFactoryCoverage(t *testing.T) {
	f := manager.Default()
	clients := manager.Spec{
		Alpaca: alpaca.NewClient("127.0.0.1", 11111),
		INDI:   indiclient.NewClient(),
	}

	for _, backend := range []device.Backend{device.BackendASCOM, device.BackendINDI} {
		kinds := f.SupportedKinds(backend)
		require.NotEmpty(t, kinds, backend.String())
		for _, kind := range kinds {
			t.Run(backend.String()+"/"+kind.String(), func(t *testing.T) {
				spec := clients
				spec.Backend, spec.Kind, spec.Name = backend, kind, "dev-"+kind.ID()
				assert.True(t, f.IsSupported(backend, kind))

				d, err := f.Create(spec)
				require.NoError(t, err)
				require.NotNil(t, d)
				assert.Equal(t, kind, d.Kind())
				assert.Equal(t, backend, d.Backend())
				assert.Equal(t, spec.Name, d.Name())
				assert.Equal(t, device.Disconnected, d.ConnectionState())
			})
		}
	}
}

func TestFactorySupportedKinds(t *testing.T) {
	f := manager.Default()
	assert.Contains(t, f.SupportedKinds(device.BackendINDI), device.KindGPS)
	assert.NotContains(t, f.SupportedKinds(device.BackendASCOM), device.KindGPS)
	assert.False(t, f.IsSupported(device.BackendASCOM, device.KindSwitch))
	assert.False(t, f.IsSupported(device.BackendINDI, device.KindUnknown))
}

func TestFactoryErrors(t *testing.T) {
	f := manager.NewFactory()
	assert.Empty(t, f.SupportedKinds(device.BackendASCOM))

	_, err := f.Create(manager.Spec{Backend: device.BackendASCOM, Kind: device.KindCamera, Name: "cam"})
	assert.True(t, errors.Is(err, device.ErrNotImplemented))

	f.RegisterDefaults()
	_, err = f.Create(manager.Spec{Backend: device.BackendASCOM, Kind: device.KindCamera, Name: "cam"})
	assert.True(t, errors.Is(err, device.ErrNotConnected), "missing client")
	_, err = f.Create(manager.Spec{Backend: device.BackendINDI, Kind: device.KindCamera, Name: "cam"})
	assert.True(t, errors.Is(err, device.ErrNotConnected), "missing client")

	f.Register(device.BackendASCOM, device.KindSwitch, func(manager.Spec) (device.Device, error) { return nil, nil })
	_, err = f.Create(manager.Spec{Backend: device.BackendASCOM, Kind: device.KindSwitch})
	assert.True(t, errors.Is(err, device.ErrUnspecified))

	f.Unregister(device.BackendASCOM, device.KindSwitch)
	assert.False(t, f.IsSupported(device.BackendASCOM, device.KindSwitch))
}

func TestFactoryCustomCreator(t *testing.T) {
	f := manager.NewFactory()
	var got manager.Spec
	f.Register(device.BackendASCOM, device.KindFocuser, func(spec manager.Spec) (device.Device, error) {
		got = spec
		return newStub(spec.Name, spec.Kind, nil), nil
	})

	d, err := f.Create(manager.Spec{Backend: device.BackendASCOM, Kind: device.KindFocuser, Name: "f1", Number: 3})
	require.NoError(t, err)
	assert.Equal(t, "f1", d.Name())
	assert.Equal(t, 3, got.Number)
	assert.Equal(t, []device.Kind{device.KindFocuser}, f.SupportedKinds(device.BackendASCOM))
}
