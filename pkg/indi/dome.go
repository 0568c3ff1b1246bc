package indi

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/device"
	"astrobridge/pkg/indiclient"
)

const (
	propDomePosition   = "ABS_DOME_POSITION"
	propDomeShutter    = "DOME_SHUTTER"
	propDomePark       = "DOME_PARK"
	propDomeParkOption = "DOME_PARK_OPTION"
	propDomeAbort      = "DOME_ABORT_MOTION"
	propDomeAutoSync   = "DOME_AUTOSYNC"
	propDomeGoto       = "DOME_GOTO"
	propDomeSync       = "DOME_SYNC"
)

// Dome is an INDI dome. INDI domes have no altitude axis; slaving maps to
// DOME_AUTOSYNC.
type Dome struct {
	*Base

	mu      sync.Mutex
	opening bool
}

var _ device.Dome = (*Dome)(nil)

func NewDome(client *indiclient.Client, name string, logger log.FieldLogger) *Dome {
	d := &Dome{Base: newBase(client, device.KindDome, name, logger)}
	d.hooks(d.update, nil)
	return d
}

func (d *Dome) update(p *indiclient.Property) {
	switch {
	case p.Name == propDomePosition && p.State == device.PropertyOk:
		d.Emit(device.EventPropertyChanged, "slewing", "slew complete", false)
	case p.Name == propDomeShutter && p.State == device.PropertyOk:
		d.Emit(device.EventPropertyChanged, "shutterstatus", "shutter stopped", d.ShutterState().String())
	}
}

func (d *Dome) Capabilities() device.DomeCapabilities {
	return device.DomeCapabilities{
		CanFindHome:    d.hasElement(propDomeGoto, "DOME_HOME"),
		CanPark:        d.has(propDomePark),
		CanSetAzimuth:  d.writable(propDomePosition),
		CanSetPark:     d.hasElement(propDomeParkOption, "PARK_CURRENT"),
		CanSetShutter:  d.has(propDomeShutter),
		CanSlave:       d.has(propDomeAutoSync),
		CanSyncAzimuth: d.writable(propDomeSync),
	}
}

func (d *Dome) Status() device.DomeStatus {
	st := device.DomeStatus{
		AtPark:  d.IsParked(),
		AtHome:  d.hasElement(propDomeGoto, "DOME_HOME") && d.switchOn(propDomeGoto, "DOME_HOME") && d.state(propDomeGoto) == device.PropertyOk,
		Slewing: d.IsSlewing(),
		Slaved:  d.IsSlaved(),
		Azimuth: d.Azimuth(),
		Shutter: d.ShutterState(),
		State:   device.MotionIdle,
	}
	switch {
	case d.state(propDomePosition) == device.PropertyAlert:
		st.State = device.MotionError
	case st.Slewing:
		st.State = device.MotionMoving
	}
	return st
}

func (d *Dome) Azimuth() float64 {
	v, _ := d.number(propDomePosition, "DOME_ABSOLUTE_POSITION")
	return v
}

func (d *Dome) notSlaved(what string) error {
	if d.IsSlaved() {
		return d.Fail(what, device.Errorf(device.ErrInvalidWhileSlaved, "%s refused while slaved", what))
	}
	return nil
}

func (d *Dome) SlewToAzimuth(az float64) error {
	if err := d.guard(d.writable(propDomePosition), "slewtoazimuth"); err != nil {
		return err
	}
	if err := d.notSlaved("slewtoazimuth"); err != nil {
		return err
	}
	if az < 0 || az >= 360 {
		return d.invalid("slewtoazimuth", "azimuth %g out of range [0, 360)", az)
	}
	return d.setNumber(propDomePosition, map[string]float64{"DOME_ABSOLUTE_POSITION": az})
}

func (d *Dome) SlewToAltitude(alt float64) error {
	return d.guard(false, "slewtoaltitude")
}

func (d *Dome) SyncToAzimuth(az float64) error {
	if err := d.guard(d.writable(propDomeSync), "synctoazimuth"); err != nil {
		return err
	}
	if az < 0 || az >= 360 {
		return d.invalid("synctoazimuth", "azimuth %g out of range [0, 360)", az)
	}
	if err := d.setNumber(propDomeSync, map[string]float64{"DOME_SYNC_VALUE": az}); err != nil {
		return err
	}
	return d.settle(propDomeSync)
}

func (d *Dome) AbortSlew() error {
	if err := d.guard(d.has(propDomeAbort), "abortslew"); err != nil {
		return err
	}
	return d.setSwitch(propDomeAbort, map[string]bool{"ABORT": true})
}

func (d *Dome) IsSlewing() bool {
	return d.busy(propDomePosition) || d.busy(propDomeGoto) || d.busy(propDomePark)
}

func (d *Dome) WaitForSlew(timeout time.Duration) bool {
	ok, _ := device.Poll(timeout, nil, func() (bool, error) {
		return !d.IsSlewing(), nil
	})
	return ok
}

func (d *Dome) OpenShutter() error {
	return d.moveShutter(true)
}

func (d *Dome) CloseShutter() error {
	return d.moveShutter(false)
}

func (d *Dome) moveShutter(open bool) error {
	what, elem := "closeshutter", "SHUTTER_CLOSE"
	if open {
		what, elem = "openshutter", "SHUTTER_OPEN"
	}
	if err := d.guard(d.has(propDomeShutter), what); err != nil {
		return err
	}
	d.mu.Lock()
	d.opening = open
	d.mu.Unlock()
	return d.setSwitch(propDomeShutter, map[string]bool{elem: true})
}

// ShutterState reads DOME_SHUTTER. While the vector is Busy the direction
// is the one last commanded from here, or the driver's switch otherwise.
func (d *Dome) ShutterState() device.ShutterState {
	p, ok := d.prop(propDomeShutter)
	if !ok {
		return device.ShutterError
	}
	switch p.State {
	case device.PropertyAlert:
		return device.ShutterError
	case device.PropertyBusy:
		d.mu.Lock()
		opening := d.opening
		d.mu.Unlock()
		if opening {
			return device.ShutterOpening
		}
		return device.ShutterClosing
	}
	if p.Switch("SHUTTER_OPEN") {
		return device.ShutterOpen
	}
	return device.ShutterClosed
}

// WaitForShutter reports true once the shutter rests fully open or closed.
func (d *Dome) WaitForShutter(timeout time.Duration) bool {
	var s device.ShutterState
	ok, _ := device.Poll(timeout, nil, func() (bool, error) {
		s = d.ShutterState()
		return !s.Moving(), nil
	})
	return ok && (s == device.ShutterOpen || s == device.ShutterClosed)
}

func (d *Dome) Park() error {
	if err := d.guard(d.has(propDomePark), "park"); err != nil {
		return err
	}
	if err := d.notSlaved("park"); err != nil {
		return err
	}
	return d.setSwitch(propDomePark, map[string]bool{"PARK": true})
}

func (d *Dome) Unpark() error {
	if err := d.guard(d.hasElement(propDomePark, "UNPARK"), "unpark"); err != nil {
		return err
	}
	return d.setSwitch(propDomePark, map[string]bool{"UNPARK": true})
}

func (d *Dome) SetPark() error {
	if err := d.guard(d.hasElement(propDomeParkOption, "PARK_CURRENT"), "setpark"); err != nil {
		return err
	}
	if err := d.setSwitch(propDomeParkOption, map[string]bool{"PARK_CURRENT": true}); err != nil {
		return err
	}
	return d.settle(propDomeParkOption)
}

func (d *Dome) FindHome() error {
	if err := d.guard(d.hasElement(propDomeGoto, "DOME_HOME"), "findhome"); err != nil {
		return err
	}
	if err := d.notSlaved("findhome"); err != nil {
		return err
	}
	return d.setSwitch(propDomeGoto, map[string]bool{"DOME_HOME": true})
}

func (d *Dome) IsParked() bool {
	return d.switchOn(propDomePark, "PARK") && d.state(propDomePark) != device.PropertyBusy
}

func (d *Dome) SetSlaved(on bool) error {
	if err := d.guard(d.has(propDomeAutoSync), "slaved"); err != nil {
		return err
	}
	if on {
		return d.setSwitch(propDomeAutoSync, map[string]bool{"DOME_AUTOSYNC_ENABLE": true})
	}
	return d.setSwitch(propDomeAutoSync, map[string]bool{"DOME_AUTOSYNC_DISABLE": true})
}

func (d *Dome) IsSlaved() bool {
	return d.switchOn(propDomeAutoSync, "DOME_AUTOSYNC_ENABLE")
}
