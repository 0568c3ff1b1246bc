package indi

import (
	"strconv"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/device"
	"astrobridge/pkg/indiclient"
)

// DriverInfoProperty is defined by every driver once it is loaded. Its
// DRIVER_INTERFACE element carries the interface bits below.
const DriverInfoProperty = propDriverInfo

// Driver interface bits announced in DRIVER_INFO.DRIVER_INTERFACE.
const (
	InterfaceTelescope = 1 << 0
	InterfaceCCD       = 1 << 1
	InterfaceGuider    = 1 << 2
	InterfaceFocuser   = 1 << 3
	InterfaceFilter    = 1 << 4
	InterfaceDome      = 1 << 5
	InterfaceGPS       = 1 << 6
	InterfaceWeather   = 1 << 7
	InterfaceRotator   = 1 << 12
)

// KindFromInterface picks the primary kind of a driver. A driver may
// implement several interfaces; the order below decides which one wins.
func KindFromInterface(mask int) device.Kind {
	switch {
	case mask&InterfaceTelescope != 0:
		return device.KindTelescope
	case mask&InterfaceCCD != 0:
		return device.KindCamera
	case mask&InterfaceFocuser != 0:
		return device.KindFocuser
	case mask&InterfaceFilter != 0:
		return device.KindFilterWheel
	case mask&InterfaceDome != 0:
		return device.KindDome
	case mask&InterfaceRotator != 0:
		return device.KindRotator
	case mask&InterfaceWeather != 0:
		return device.KindObservingConditions
	case mask&InterfaceGPS != 0:
		return device.KindGPS
	}
	return device.KindUnknown
}

// DeviceKind reads the driver interface of name from the client cache.
func DeviceKind(client *indiclient.Client, name string) device.Kind {
	p, ok := client.GetProperty(name, propDriverInfo)
	if !ok {
		return device.KindUnknown
	}
	v, _ := p.Text("DRIVER_INTERFACE")
	mask, err := strconv.Atoi(v)
	if err != nil {
		return device.KindUnknown
	}
	return KindFromInterface(mask)
}

// Kinds lists the device kinds this backend implements.
func Kinds() []device.Kind {
	return []device.Kind{
		device.KindCamera,
		device.KindTelescope,
		device.KindFocuser,
		device.KindFilterWheel,
		device.KindDome,
		device.KindRotator,
		device.KindObservingConditions,
		device.KindGPS,
	}
}

// NewDevice builds the typed device for kind.
func NewDevice(kind device.Kind, client *indiclient.Client, name string, logger log.FieldLogger) (device.Device, error) {
	switch kind {
	case device.KindCamera:
		return NewCamera(client, name, logger), nil
	case device.KindTelescope:
		return NewTelescope(client, name, logger), nil
	case device.KindFocuser:
		return NewFocuser(client, name, logger), nil
	case device.KindFilterWheel:
		return NewFilterWheel(client, name, logger), nil
	case device.KindDome:
		return NewDome(client, name, logger), nil
	case device.KindRotator:
		return NewRotator(client, name, logger), nil
	case device.KindObservingConditions:
		return NewWeather(client, name, logger), nil
	case device.KindGPS:
		return NewGPS(client, name, logger), nil
	}
	return nil, device.Errorf(device.ErrNotImplemented, "INDI %s devices are not supported", kind)
}
