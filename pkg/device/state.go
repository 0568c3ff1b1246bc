package device

import "strings"

// ConnectionState is the lifecycle state of a device connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
	ConnectionError
)

var connectionStateNames = []string{"Disconnected", "Connecting", "Connected", "Disconnecting", "Error"}

func (s ConnectionState) String() string {
	return enumName(connectionStateNames, int(s))
}

func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectionState) UnmarshalText(b []byte) error {
	*s = ConnectionState(enumIndex(connectionStateNames, string(b), int(Disconnected)))
	return nil
}

// PropertyState mirrors the INDI property state, surfaced for both backends.
type PropertyState int

const (
	PropertyIdle PropertyState = iota
	PropertyOk
	PropertyBusy
	PropertyAlert
	PropertyUnknown
)

var propertyStateNames = []string{"Idle", "Ok", "Busy", "Alert", "Unknown"}

func (s PropertyState) String() string {
	return enumName(propertyStateNames, int(s))
}

// Terminal reports whether an in-flight command has finished in this state.
func (s PropertyState) Terminal() bool {
	return s == PropertyOk || s == PropertyAlert
}

// ParsePropertyState is case-insensitive; unknown input yields PropertyUnknown.
func ParsePropertyState(s string) PropertyState {
	return PropertyState(enumIndex(propertyStateNames, s, int(PropertyUnknown)))
}

func (s PropertyState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *PropertyState) UnmarshalText(b []byte) error {
	*s = ParsePropertyState(string(b))
	return nil
}

// MotionState is the state machine shared by focusers, filter wheels,
// rotators and dome azimuth.
type MotionState int

const (
	MotionIdle MotionState = iota
	MotionMoving
	MotionError
)

var motionStateNames = []string{"Idle", "Moving", "Error"}

func (s MotionState) String() string {
	return enumName(motionStateNames, int(s))
}

func (s MotionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *MotionState) UnmarshalText(b []byte) error {
	*s = MotionState(enumIndex(motionStateNames, string(b), int(MotionIdle)))
	return nil
}

func enumName(names []string, i int) string {
	if i < 0 || i >= len(names) {
		return "Unknown"
	}
	return names[i]
}

func enumIndex(names []string, s string, fallback int) int {
	s = strings.TrimSpace(s)
	for i, n := range names {
		if strings.EqualFold(n, s) {
			return i
		}
	}
	return fallback
}
