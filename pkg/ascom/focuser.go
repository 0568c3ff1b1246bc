package ascom

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/device"
)

// Focuser is an ASCOM focuser reached over Alpaca.
type Focuser struct {
	*Base

	mu     sync.RWMutex
	caps   device.FocuserCapabilities
	status device.FocuserStatus
}

var _ device.Focuser = (*Focuser)(nil)

func NewFocuser(client *alpaca.Client, number int, name string, logger log.FieldLogger) *Focuser {
	f := &Focuser{Base: newBase(client, device.KindFocuser, number, name, logger)}
	f.onConnect = f.load
	f.onRefresh = f.refresh
	return f
}

func (f *Focuser) load() error {
	// ASCOM focusers have no halt capability flag; Halt reports
	// NotImplemented when the driver lacks it.
	caps := device.FocuserCapabilities{CanHalt: true}
	caps.Absolute, _ = f.GetBool("absolute")
	caps.TempCompAvailable, _ = f.GetBool("tempcompavailable")
	caps.MaxStep, _ = f.GetInt("maxstep")
	caps.MaxIncrement, _ = f.GetInt("maxincrement")
	caps.StepSize, _ = f.GetDouble("stepsize")

	f.mu.Lock()
	f.caps = caps
	f.mu.Unlock()
	return f.refresh()
}

func (f *Focuser) refresh() error {
	pos, posOK := f.GetInt("position")
	moving, _ := f.GetBool("ismoving")
	comp, _ := f.GetBool("tempcomp")
	temp, tempOK := f.GetDouble("temperature")

	f.mu.Lock()
	defer f.mu.Unlock()
	if posOK {
		f.status.Position = pos
	}
	f.setMovingLocked(moving)
	f.status.TempComp = comp
	f.status.Temperature = nil
	if tempOK {
		f.status.Temperature = &temp
	}
	return nil
}

func (f *Focuser) setMovingLocked(moving bool) {
	f.status.IsMoving = moving
	if moving {
		f.status.State = device.MotionMoving
	} else if f.status.State == device.MotionMoving {
		f.status.State = device.MotionIdle
	}
}

func (f *Focuser) FocuserState() device.MotionState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status.State
}

func (f *Focuser) Capabilities() device.FocuserCapabilities {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.caps
}

func (f *Focuser) Status() device.FocuserStatus {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status
}

func (f *Focuser) Position() int {
	if v, ok := f.GetInt("position"); ok {
		f.mu.Lock()
		f.status.Position = v
		f.mu.Unlock()
		return v
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status.Position
}

// MoveTo moves an absolute focuser to position.
func (f *Focuser) MoveTo(position int) error {
	caps := f.Capabilities()
	if err := f.guard(caps.Absolute, "move"); err != nil {
		return err
	}
	if position < 0 || (caps.MaxStep > 0 && position > caps.MaxStep) {
		return f.invalid("move", "position %d out of range [0, %d]", position, caps.MaxStep)
	}
	return f.move(position, position)
}

// MoveRelative moves by steps. Absolute focusers are sent the resulting
// position; relative focusers are sent the step count.
func (f *Focuser) MoveRelative(steps int) error {
	if err := f.RequireConnected(); err != nil {
		return f.Fail("move", err)
	}
	caps := f.Capabilities()
	if caps.MaxIncrement > 0 && (steps > caps.MaxIncrement || -steps > caps.MaxIncrement) {
		return f.invalid("move", "step count %d exceeds maximum increment %d", steps, caps.MaxIncrement)
	}
	if !caps.Absolute {
		return f.move(steps, f.Status().Position+steps)
	}
	target := f.Position() + steps
	if target < 0 || (caps.MaxStep > 0 && target > caps.MaxStep) {
		return f.invalid("move", "target %d out of range [0, %d]", target, caps.MaxStep)
	}
	return f.move(target, target)
}

func (f *Focuser) move(param, target int) error {
	if err := f.SetInt("move", "Position", param); err != nil {
		f.mu.Lock()
		f.status.State = device.MotionError
		f.mu.Unlock()
		return err
	}
	f.mu.Lock()
	f.status.Target = target
	f.setMovingLocked(true)
	f.mu.Unlock()
	return nil
}

func (f *Focuser) Halt() error {
	if err := f.guard(f.Capabilities().CanHalt, "halt"); err != nil {
		return err
	}
	if err := f.command("halt", nil); err != nil {
		return err
	}
	f.mu.Lock()
	f.status.IsMoving = false
	f.status.State = device.MotionIdle
	f.mu.Unlock()
	return nil
}

func (f *Focuser) IsMoving() bool {
	v, ok := f.GetBool("ismoving")
	f.mu.Lock()
	defer f.mu.Unlock()
	if ok {
		f.setMovingLocked(v)
	}
	return f.status.IsMoving
}

func (f *Focuser) WaitForMove(timeout time.Duration) bool {
	done := f.poll(timeout, func() bool { return !f.IsMoving() })
	if done {
		f.Position()
		f.Emit(device.EventPropertyChanged, "position", "move complete", f.Status().Position)
	}
	return done
}

func (f *Focuser) Temperature() (float64, bool) {
	v, ok := f.GetDouble("temperature")
	if ok {
		f.mu.Lock()
		f.status.Temperature = &v
		f.mu.Unlock()
	}
	return v, ok
}

func (f *Focuser) TempComp() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status.TempComp
}

func (f *Focuser) SetTempComp(on bool) error {
	if err := f.guard(f.Capabilities().TempCompAvailable, "tempcomp"); err != nil {
		return err
	}
	if err := f.SetBool("tempcomp", "TempComp", on); err != nil {
		return err
	}
	f.mu.Lock()
	f.status.TempComp = on
	f.mu.Unlock()
	return nil
}
