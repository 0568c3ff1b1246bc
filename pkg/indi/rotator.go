package indi

import (
	"math"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/device"
	"astrobridge/pkg/indiclient"
)

const (
	propRotatorAngle   = "ABS_ROTATOR_ANGLE"
	propRotatorAbort   = "ROTATOR_ABORT_MOTION"
	propRotatorReverse = "ROTATOR_REVERSE"
	propRotatorSync    = "SYNC_ROTATOR_ANGLE"
)

// Rotator is an INDI rotator. INDI reports a single angle, so the sky and
// mechanical positions only differ after a sync.
type Rotator struct {
	*Base

	mu     sync.Mutex
	target float64
}

var _ device.Rotator = (*Rotator)(nil)

func NewRotator(client *indiclient.Client, name string, logger log.FieldLogger) *Rotator {
	r := &Rotator{Base: newBase(client, device.KindRotator, name, logger)}
	r.hooks(r.update, nil)
	return r
}

func (r *Rotator) update(p *indiclient.Property) {
	if p.Name == propRotatorAngle && p.State == device.PropertyOk {
		r.Emit(device.EventPropertyChanged, "ismoving", "rotation complete", false)
	}
}

func (r *Rotator) Capabilities() device.RotatorCapabilities {
	caps := device.RotatorCapabilities{
		CanReverse: r.has(propRotatorReverse),
		CanHalt:    r.has(propRotatorAbort),
		CanSync:    r.writable(propRotatorSync),
	}
	if p, ok := r.prop(propRotatorAngle); ok {
		if e, found := p.Element("ANGLE"); found {
			caps.StepSize = e.Step
		}
	}
	return caps
}

func (r *Rotator) Status() device.RotatorStatus {
	st := device.RotatorStatus{
		Position:           r.Position(),
		MechanicalPosition: r.MechanicalPosition(),
		IsMoving:           r.IsMoving(),
		Reversed:           r.Reversed(),
		State:              device.MotionIdle,
	}
	r.mu.Lock()
	st.TargetPosition = r.target
	r.mu.Unlock()
	switch {
	case r.state(propRotatorAngle) == device.PropertyAlert:
		st.State = device.MotionError
	case st.IsMoving:
		st.State = device.MotionMoving
	}
	return st
}

func (r *Rotator) Position() float64 {
	v, _ := r.number(propRotatorAngle, "ANGLE")
	return v
}

func (r *Rotator) MechanicalPosition() float64 {
	return r.Position()
}

func (r *Rotator) MoveTo(angle float64) error {
	if err := r.guard(r.writable(propRotatorAngle), "moveabsolute"); err != nil {
		return err
	}
	if math.IsNaN(angle) {
		return r.invalid("moveabsolute", "angle is not a number")
	}
	return r.moveTo(device.NormalizeAngle(angle))
}

func (r *Rotator) moveTo(angle float64) error {
	if err := r.setNumber(propRotatorAngle, map[string]float64{"ANGLE": angle}); err != nil {
		return err
	}
	r.mu.Lock()
	r.target = angle
	r.mu.Unlock()
	return nil
}

func (r *Rotator) MoveRelative(offset float64) error {
	if err := r.guard(r.writable(propRotatorAngle), "move"); err != nil {
		return err
	}
	if math.Abs(offset) >= 360 {
		return r.invalid("move", "offset %g must be less than a full turn", offset)
	}
	return r.moveTo(device.NormalizeAngle(r.Position() + offset))
}

func (r *Rotator) MoveMechanical(angle float64) error {
	if err := r.guard(r.writable(propRotatorAngle), "movemechanical"); err != nil {
		return err
	}
	if angle < 0 || angle >= 360 {
		return r.invalid("movemechanical", "angle %g out of range [0, 360)", angle)
	}
	return r.moveTo(angle)
}

func (r *Rotator) Sync(position float64) error {
	if err := r.guard(r.writable(propRotatorSync), "sync"); err != nil {
		return err
	}
	if position < 0 || position >= 360 {
		return r.invalid("sync", "angle %g out of range [0, 360)", position)
	}
	if err := r.setNumber(propRotatorSync, map[string]float64{"ANGLE": position}); err != nil {
		return err
	}
	return r.settle(propRotatorSync)
}

func (r *Rotator) Halt() error {
	if err := r.guard(r.has(propRotatorAbort), "halt"); err != nil {
		return err
	}
	return r.setSwitch(propRotatorAbort, map[string]bool{"ABORT": true})
}

func (r *Rotator) Reversed() bool {
	return r.switchOn(propRotatorReverse, "INDI_ENABLED")
}

func (r *Rotator) SetReversed(on bool) error {
	if err := r.guard(r.has(propRotatorReverse), "reverse"); err != nil {
		return err
	}
	if on {
		return r.setSwitch(propRotatorReverse, map[string]bool{"INDI_ENABLED": true})
	}
	return r.setSwitch(propRotatorReverse, map[string]bool{"INDI_DISABLED": true})
}

func (r *Rotator) IsMoving() bool {
	return r.busy(propRotatorAngle)
}

func (r *Rotator) WaitForMove(timeout time.Duration) bool {
	return r.waitIdle(propRotatorAngle, timeout)
}

func (r *Rotator) WaitForRotation(timeout time.Duration) bool {
	return r.WaitForMove(timeout)
}
