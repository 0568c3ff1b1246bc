package ascom

import (
	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/device"
)

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
	}
}

// NewDevice builds the typed device for kind.
func NewDevice(kind device.Kind, client *alpaca.Client, number int, name string, logger log.FieldLogger) (device.Device, error) {
	switch kind {
	case device.KindCamera:
		return NewCamera(client, number, name, logger), nil
	case device.KindTelescope:
		return NewTelescope(client, number, name, logger), nil
	case device.KindFocuser:
		return NewFocuser(client, number, name, logger), nil
	case device.KindFilterWheel:
		return NewFilterWheel(client, number, name, logger), nil
	case device.KindDome:
		return NewDome(client, number, name, logger), nil
	case device.KindRotator:
		return NewRotator(client, number, name, logger), nil
	case device.KindObservingConditions:
		return NewObservingConditions(client, number, name, logger), nil
	}
	return nil, device.Errorf(device.ErrNotImplemented, "ASCOM %s devices are not supported", kind)
}
