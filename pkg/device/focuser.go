package device

type FocuserCapabilities struct {
	Absolute          bool    `json:"absolute"`
	CanHalt           bool    `json:"canHalt"`
	TempCompAvailable bool    `json:"tempCompAvailable"`
	MaxStep           int     `json:"maxStep"`
	MaxIncrement      int     `json:"maxIncrement"`
	StepSize          float64 `json:"stepSize"`
}

type FocuserStatus struct {
	State       MotionState `json:"focuserState"`
	Position    int         `json:"position"`
	Target      int         `json:"target"`
	IsMoving    bool        `json:"isMoving"`
	TempComp    bool        `json:"tempComp"`
	Temperature *float64    `json:"temperature,omitempty"`
	Speed       int         `json:"speed,omitempty"`
	Backlash    int         `json:"backlash,omitempty"`
}

type Focuser interface {
	Device
	Positional

	FocuserState() MotionState
	Capabilities() FocuserCapabilities
	Status() FocuserStatus
	Position() int
	MoveTo(position int) error
	MoveRelative(steps int) error
	Halt() error
	Temperature() (float64, bool)
	TempComp() bool
	SetTempComp(on bool) error
}
