package ascom

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/device"
)

// Rotator is an ASCOM rotator reached over Alpaca. Angles are in degrees.
type Rotator struct {
	*Base

	mu     sync.RWMutex
	caps   device.RotatorCapabilities
	status device.RotatorStatus
}

var _ device.Rotator = (*Rotator)(nil)

func NewRotator(client *alpaca.Client, number int, name string, logger log.FieldLogger) *Rotator {
	r := &Rotator{Base: newBase(client, device.KindRotator, number, name, logger)}
	r.onConnect = r.load
	r.onRefresh = r.refresh
	return r
}

func (r *Rotator) load() error {
	caps := device.RotatorCapabilities{CanHalt: true}
	caps.CanReverse, _ = r.GetBool("canreverse")
	caps.StepSize, _ = r.GetDouble("stepsize")
	// Sync and mechanical moves arrived with interface version 3.
	caps.CanSync = r.Info().InterfaceVersion >= 3

	r.mu.Lock()
	r.caps = caps
	r.mu.Unlock()
	return r.refresh()
}

func (r *Rotator) refresh() error {
	pos, posOK := r.GetDouble("position")
	mech, mechOK := r.GetDouble("mechanicalposition")
	target, targetOK := r.GetDouble("targetposition")
	moving, _ := r.GetBool("ismoving")
	reversed, _ := r.GetBool("reverse")

	r.mu.Lock()
	defer r.mu.Unlock()
	if posOK {
		r.status.Position = pos
	}
	if mechOK {
		r.status.MechanicalPosition = mech
	}
	if targetOK {
		r.status.TargetPosition = target
	}
	r.status.Reversed = reversed
	r.setMovingLocked(moving)
	return nil
}

func (r *Rotator) setMovingLocked(moving bool) {
	r.status.IsMoving = moving
	if moving {
		r.status.State = device.MotionMoving
	} else if r.status.State == device.MotionMoving {
		r.status.State = device.MotionIdle
	}
}

func (r *Rotator) Capabilities() device.RotatorCapabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caps
}

func (r *Rotator) Status() device.RotatorStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *Rotator) Position() float64 {
	if v, ok := r.GetDouble("position"); ok {
		r.mu.Lock()
		r.status.Position = v
		r.mu.Unlock()
	}
	return r.Status().Position
}

func (r *Rotator) MechanicalPosition() float64 {
	if v, ok := r.GetDouble("mechanicalposition"); ok {
		r.mu.Lock()
		r.status.MechanicalPosition = v
		r.mu.Unlock()
	}
	return r.Status().MechanicalPosition
}

// MoveTo rotates to a sky position angle, normalized into [0, 360).
func (r *Rotator) MoveTo(angle float64) error {
	angle = device.NormalizeAngle(angle)
	return r.move("moveabsolute", true, angle, angle)
}

func (r *Rotator) MoveRelative(offset float64) error {
	if offset <= -360 || offset >= 360 {
		return r.invalid("move", "relative offset %.3f out of range (-360, 360)", offset)
	}
	return r.move("move", true, offset, device.NormalizeAngle(r.Status().Position+offset))
}

func (r *Rotator) MoveMechanical(angle float64) error {
	if angle < 0 || angle >= 360 {
		return r.invalid("movemechanical", "mechanical angle %.3f out of range [0, 360)", angle)
	}
	return r.move("movemechanical", r.Capabilities().CanSync, angle, angle)
}

func (r *Rotator) move(method string, capable bool, param, target float64) error {
	if err := r.guard(capable, method); err != nil {
		return err
	}
	if err := r.SetDouble(method, "Position", param); err != nil {
		r.mu.Lock()
		r.status.State = device.MotionError
		r.mu.Unlock()
		return err
	}
	r.mu.Lock()
	r.status.TargetPosition = target
	r.setMovingLocked(true)
	r.mu.Unlock()
	return nil
}

func (r *Rotator) Sync(position float64) error {
	if err := r.guard(r.Capabilities().CanSync, "sync"); err != nil {
		return err
	}
	position = device.NormalizeAngle(position)
	if err := r.SetDouble("sync", "Position", position); err != nil {
		return err
	}
	r.mu.Lock()
	r.status.Position = position
	r.mu.Unlock()
	return nil
}

func (r *Rotator) Halt() error {
	if err := r.guard(r.Capabilities().CanHalt, "halt"); err != nil {
		return err
	}
	if err := r.command("halt", nil); err != nil {
		return err
	}
	r.mu.Lock()
	r.status.IsMoving = false
	r.status.State = device.MotionIdle
	r.mu.Unlock()
	return nil
}

func (r *Rotator) Reversed() bool {
	return r.Status().Reversed
}

func (r *Rotator) SetReversed(on bool) error {
	if err := r.guard(r.Capabilities().CanReverse, "reverse"); err != nil {
		return err
	}
	if err := r.SetBool("reverse", "Reverse", on); err != nil {
		return err
	}
	r.mu.Lock()
	r.status.Reversed = on
	r.mu.Unlock()
	return nil
}

func (r *Rotator) IsMoving() bool {
	v, ok := r.GetBool("ismoving")
	r.mu.Lock()
	defer r.mu.Unlock()
	if ok {
		r.setMovingLocked(v)
	}
	return r.status.IsMoving
}

func (r *Rotator) WaitForMove(timeout time.Duration) bool {
	done := r.poll(timeout, func() bool { return !r.IsMoving() })
	if done {
		r.Emit(device.EventPropertyChanged, "position", "rotation complete", r.Position())
	}
	return done
}

func (r *Rotator) WaitForRotation(timeout time.Duration) bool { return r.WaitForMove(timeout) }
