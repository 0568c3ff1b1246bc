package indi

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/device"
	"astrobridge/pkg/indiclient"
)

const (
	propAbsFocus      = "ABS_FOCUS_POSITION"
	propRelFocus      = "REL_FOCUS_POSITION"
	propFocusMotion   = "FOCUS_MOTION"
	propFocusAbort    = "FOCUS_ABORT_MOTION"
	propFocusTemp     = "FOCUS_TEMPERATURE"
	propFocusSpeed    = "FOCUS_SPEED"
	propFocusMax      = "FOCUS_MAX"
	propFocusBacklash = "FOCUS_BACKLASH_STEPS"
	propTempComp      = "FOCUS_TEMPERATURE_COMPENSATION"
)

type Focuser struct {
	*Base

	mu     sync.Mutex
	target int
}

var _ device.Focuser = (*Focuser)(nil)

func NewFocuser(client *indiclient.Client, name string, logger log.FieldLogger) *Focuser {
	f := &Focuser{Base: newBase(client, device.KindFocuser, name, logger)}
	f.hooks(f.update, nil)
	return f
}

func (f *Focuser) update(p *indiclient.Property) {
	if (p.Name == propAbsFocus || p.Name == propRelFocus) && p.State == device.PropertyOk {
		f.Emit(device.EventPropertyChanged, "ismoving", "move complete", false)
	}
}

func (f *Focuser) Capabilities() device.FocuserCapabilities {
	caps := device.FocuserCapabilities{
		Absolute:          f.writable(propAbsFocus),
		CanHalt:           f.has(propFocusAbort),
		TempCompAvailable: f.has(propTempComp),
		StepSize:          1,
	}
	if v, ok := f.number(propFocusMax, "FOCUS_MAX_VALUE"); ok {
		caps.MaxStep = int(v)
	} else if _, hi, ok := f.numberRange(propAbsFocus, "FOCUS_ABSOLUTE_POSITION"); ok {
		caps.MaxStep = int(hi)
	}
	if _, hi, ok := f.numberRange(propRelFocus, "FOCUS_RELATIVE_POSITION"); ok {
		caps.MaxIncrement = int(hi)
	} else {
		caps.MaxIncrement = caps.MaxStep
	}
	return caps
}

func (f *Focuser) FocuserState() device.MotionState {
	switch {
	case f.state(propAbsFocus) == device.PropertyAlert || f.state(propRelFocus) == device.PropertyAlert:
		return device.MotionError
	case f.IsMoving():
		return device.MotionMoving
	}
	return device.MotionIdle
}

func (f *Focuser) Status() device.FocuserStatus {
	st := device.FocuserStatus{
		State:    f.FocuserState(),
		Position: f.Position(),
		TempComp: f.TempComp(),
	}
	st.IsMoving = st.State == device.MotionMoving
	if t, ok := f.Temperature(); ok {
		st.Temperature = &t
	}
	if v, ok := f.number(propFocusSpeed, "FOCUS_SPEED_VALUE"); ok {
		st.Speed = int(v)
	}
	if v, ok := f.number(propFocusBacklash, "FOCUS_BACKLASH_VALUE"); ok {
		st.Backlash = int(v)
	}
	f.mu.Lock()
	st.Target = f.target
	f.mu.Unlock()
	return st
}

func (f *Focuser) Position() int {
	v, _ := f.number(propAbsFocus, "FOCUS_ABSOLUTE_POSITION")
	return int(v)
}

func (f *Focuser) MoveTo(position int) error {
	if err := f.guard(f.writable(propAbsFocus), "move"); err != nil {
		return err
	}
	if limit := f.Capabilities().MaxStep; position < 0 || (limit > 0 && position > limit) {
		return f.invalid("move", "position %d outside 0..%d", position, limit)
	}
	if err := f.setNumber(propAbsFocus, map[string]float64{"FOCUS_ABSOLUTE_POSITION": float64(position)}); err != nil {
		return err
	}
	f.setTarget(position)
	return nil
}

// MoveRelative moves inward for negative steps. Drivers without
// REL_FOCUS_POSITION are moved with an absolute target.
func (f *Focuser) MoveRelative(steps int) error {
	if err := f.RequireConnected(); err != nil {
		return f.Fail("move", err)
	}
	if steps == 0 {
		return nil
	}
	caps := f.Capabilities()
	n := steps
	if n < 0 {
		n = -n
	}
	if caps.MaxIncrement > 0 && n > caps.MaxIncrement {
		return f.invalid("move", "step count %d exceeds %d", steps, caps.MaxIncrement)
	}

	if !f.has(propRelFocus) {
		return f.MoveTo(f.Position() + steps)
	}
	if f.has(propFocusMotion) {
		dir := "FOCUS_OUTWARD"
		if steps < 0 {
			dir = "FOCUS_INWARD"
		}
		if err := f.setSwitch(propFocusMotion, map[string]bool{dir: true}); err != nil {
			return err
		}
	}
	if err := f.setNumber(propRelFocus, map[string]float64{"FOCUS_RELATIVE_POSITION": float64(n)}); err != nil {
		return err
	}
	f.setTarget(f.Position() + steps)
	return nil
}

func (f *Focuser) setTarget(p int) {
	f.mu.Lock()
	f.target = p
	f.mu.Unlock()
}

func (f *Focuser) Halt() error {
	if err := f.guard(f.has(propFocusAbort), "halt"); err != nil {
		return err
	}
	return f.setSwitch(propFocusAbort, map[string]bool{"ABORT": true})
}

func (f *Focuser) IsMoving() bool {
	return f.busy(propAbsFocus) || f.busy(propRelFocus)
}

func (f *Focuser) WaitForMove(timeout time.Duration) bool {
	ok, _ := device.Poll(timeout, nil, func() (bool, error) {
		return !f.IsMoving(), nil
	})
	return ok
}

func (f *Focuser) Temperature() (float64, bool) {
	return f.number(propFocusTemp, "TEMPERATURE")
}

func (f *Focuser) TempComp() bool {
	return f.switchOn(propTempComp, "INDI_ENABLED")
}

func (f *Focuser) SetTempComp(on bool) error {
	if err := f.guard(f.has(propTempComp), "tempcomp"); err != nil {
		return err
	}
	if on {
		return f.setSwitch(propTempComp, map[string]bool{"INDI_ENABLED": true})
	}
	return f.setSwitch(propTempComp, map[string]bool{"INDI_DISABLED": true})
}

// SetSpeed selects one of the driver's speed steps.
func (f *Focuser) SetSpeed(speed int) error {
	if err := f.guard(f.writable(propFocusSpeed), "speed"); err != nil {
		return err
	}
	if lo, hi, ok := f.numberRange(propFocusSpeed, "FOCUS_SPEED_VALUE"); ok && hi > lo && (float64(speed) < lo || float64(speed) > hi) {
		return f.invalid("speed", "speed %d outside %g..%g", speed, lo, hi)
	}
	return f.setNumber(propFocusSpeed, map[string]float64{"FOCUS_SPEED_VALUE": float64(speed)})
}

func (f *Focuser) SetBacklash(steps int) error {
	if err := f.guard(f.writable(propFocusBacklash), "backlash"); err != nil {
		return err
	}
	if steps < 0 {
		return f.invalid("backlash", "backlash %d must not be negative", steps)
	}
	return f.setNumber(propFocusBacklash, map[string]float64{"FOCUS_BACKLASH_VALUE": float64(steps)})
}
