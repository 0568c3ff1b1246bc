package device

import "time"

type DomeCapabilities struct {
	CanFindHome    bool `json:"canFindHome"`
	CanPark        bool `json:"canPark"`
	CanSetAltitude bool `json:"canSetAltitude"`
	CanSetAzimuth  bool `json:"canSetAzimuth"`
	CanSetPark     bool `json:"canSetPark"`
	CanSetShutter  bool `json:"canSetShutter"`
	CanSlave       bool `json:"canSlave"`
	CanSyncAzimuth bool `json:"canSyncAzimuth"`
}

// ShutterState follows the ASCOM ShutterState numbering.
type ShutterState int

const (
	ShutterOpen ShutterState = iota
	ShutterClosed
	ShutterOpening
	ShutterClosing
	ShutterError
)

var shutterStateNames = []string{"Open", "Closed", "Opening", "Closing", "Error"}

func (s ShutterState) String() string { return enumName(shutterStateNames, int(s)) }

// Moving reports whether the shutter is between end positions.
func (s ShutterState) Moving() bool { return s == ShutterOpening || s == ShutterClosing }

func (s ShutterState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ShutterState) UnmarshalText(b []byte) error {
	*s = ShutterState(enumIndex(shutterStateNames, string(b), int(ShutterError)))
	return nil
}

type DomeStatus struct {
	State    MotionState  `json:"domeState"`
	AtHome   bool         `json:"atHome"`
	AtPark   bool         `json:"atPark"`
	Slewing  bool         `json:"slewing"`
	Slaved   bool         `json:"slaved"`
	Altitude float64      `json:"altitude"`
	Azimuth  float64      `json:"azimuth"`
	Shutter  ShutterState `json:"shutterStatus"`
}

type Dome interface {
	Device

	Capabilities() DomeCapabilities
	Status() DomeStatus
	Azimuth() float64
	SlewToAzimuth(az float64) error
	SlewToAltitude(alt float64) error
	SyncToAzimuth(az float64) error
	AbortSlew() error
	IsSlewing() bool
	WaitForSlew(timeout time.Duration) bool

	OpenShutter() error
	CloseShutter() error
	ShutterState() ShutterState
	WaitForShutter(timeout time.Duration) bool

	Park() error
	Unpark() error
	SetPark() error
	FindHome() error
	IsParked() bool
	SetSlaved(on bool) error
	IsSlaved() bool
}
