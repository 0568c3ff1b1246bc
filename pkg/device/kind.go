package device

import (
	"fmt"
	"strings"
)

// Kind is the closed set of device families known to the library.
type Kind int

const (
	KindCamera Kind = iota
	KindTelescope
	KindFocuser
	KindFilterWheel
	KindDome
	KindRotator
	KindObservingConditions
	KindGPS
	KindSafetyMonitor
	KindSwitch
	KindCoverCalibrator
	KindVideo
	KindUnknown
)

var kindNames = [...]string{
	KindCamera:              "Camera",
	KindTelescope:           "Telescope",
	KindFocuser:             "Focuser",
	KindFilterWheel:         "FilterWheel",
	KindDome:                "Dome",
	KindRotator:             "Rotator",
	KindObservingConditions: "ObservingConditions",
	KindGPS:                 "GPS",
	KindSafetyMonitor:       "SafetyMonitor",
	KindSwitch:              "Switch",
	KindCoverCalibrator:     "CoverCalibrator",
	KindVideo:               "Video",
	KindUnknown:             "Unknown",
}

// Kinds lists every known kind except KindUnknown.
func Kinds() []Kind {
	kinds := make([]Kind, 0, int(KindUnknown))
	for k := KindCamera; k < KindUnknown; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

func (k Kind) String() string {
	if k < KindCamera || k > KindUnknown {
		return kindNames[KindUnknown]
	}
	return kindNames[k]
}

// ID returns the lower-case token used in Alpaca URLs, e.g. "filterwheel".
func (k Kind) ID() string {
	return strings.ToLower(k.String())
}

// ParseKind maps a kind name or token (case-insensitive) to a Kind.
// Anything unrecognised yields KindUnknown.
func ParseKind(s string) Kind {
	s = strings.ToLower(strings.TrimSpace(s))
	for k := KindCamera; k < KindUnknown; k++ {
		if k.ID() == s {
			return k
		}
	}
	// A few aliases used by INDI tooling and the original driver families.
	switch s {
	case "ccd":
		return KindCamera
	case "mount":
		return KindTelescope
	case "weather":
		return KindObservingConditions
	case "filter":
		return KindFilterWheel
	}
	return KindUnknown
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	*k = ParseKind(string(b))
	return nil
}

// Backend identifies the protocol a device is served by.
type Backend int

const (
	BackendASCOM Backend = iota
	BackendINDI
)

func (b Backend) String() string {
	switch b {
	case BackendASCOM:
		return "ascom"
	case BackendINDI:
		return "indi"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

// ParseBackend accepts "ascom", "alpaca" and "indi".
func ParseBackend(s string) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ascom", "alpaca":
		return BackendASCOM, nil
	case "indi":
		return BackendINDI, nil
	}
	return 0, fmt.Errorf("unknown backend %q", s)
}

func (b Backend) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

func (b *Backend) UnmarshalText(text []byte) error {
	v, err := ParseBackend(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}
