package device

import "time"

type RotatorCapabilities struct {
	CanReverse bool    `json:"canReverse"`
	CanHalt    bool    `json:"canHalt"`
	CanSync    bool    `json:"canSync"`
	StepSize   float64 `json:"stepSize"`
}

type RotatorStatus struct {
	State              MotionState `json:"rotatorState"`
	Position           float64     `json:"position"`
	MechanicalPosition float64     `json:"mechanicalPosition"`
	TargetPosition     float64     `json:"targetPosition"`
	IsMoving           bool        `json:"isMoving"`
	Reversed           bool        `json:"reversed"`
}

type Rotator interface {
	Device
	Positional

	Capabilities() RotatorCapabilities
	Status() RotatorStatus
	Position() float64
	MechanicalPosition() float64
	MoveTo(angle float64) error
	MoveRelative(offset float64) error
	MoveMechanical(angle float64) error
	Sync(position float64) error
	Halt() error
	Reversed() bool
	SetReversed(on bool) error
	WaitForRotation(timeout time.Duration) bool
}
