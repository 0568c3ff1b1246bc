package ascom

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/device"
)

// Dome is an ASCOM dome reached over Alpaca.
type Dome struct {
	*Base

	mu     sync.RWMutex
	caps   device.DomeCapabilities
	status device.DomeStatus
}

var _ device.Dome = (*Dome)(nil)

func NewDome(client *alpaca.Client, number int, name string, logger log.FieldLogger) *Dome {
	d := &Dome{Base: newBase(client, device.KindDome, number, name, logger)}
	d.status.Shutter = device.ShutterClosed
	d.onConnect = d.load
	d.onRefresh = d.refresh
	return d
}

func (d *Dome) load() error {
	var caps device.DomeCapabilities
	caps.CanFindHome, _ = d.GetBool("canfindhome")
	caps.CanPark, _ = d.GetBool("canpark")
	caps.CanSetAltitude, _ = d.GetBool("cansetaltitude")
	caps.CanSetAzimuth, _ = d.GetBool("cansetazimuth")
	caps.CanSetPark, _ = d.GetBool("cansetpark")
	caps.CanSetShutter, _ = d.GetBool("cansetshutter")
	caps.CanSlave, _ = d.GetBool("canslave")
	caps.CanSyncAzimuth, _ = d.GetBool("cansyncazimuth")

	d.mu.Lock()
	d.caps = caps
	d.mu.Unlock()
	return d.refresh()
}

func (d *Dome) refresh() error {
	caps := d.Capabilities()
	var s device.DomeStatus
	s.AtHome, _ = d.GetBool("athome")
	s.AtPark, _ = d.GetBool("atpark")
	s.Slewing, _ = d.GetBool("slewing")
	s.Slaved, _ = d.GetBool("slaved")
	s.Azimuth, _ = d.GetDouble("azimuth")
	if caps.CanSetAltitude {
		s.Altitude, _ = d.GetDouble("altitude")
	}
	shutter, shutterOK := d.GetInt("shutterstatus")

	d.mu.Lock()
	defer d.mu.Unlock()
	if shutterOK {
		s.Shutter = device.ShutterState(shutter)
	} else {
		s.Shutter = d.status.Shutter
	}
	s.State = device.MotionIdle
	if s.Slewing {
		s.State = device.MotionMoving
	}
	d.status = s
	return nil
}

func (d *Dome) Capabilities() device.DomeCapabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.caps
}

func (d *Dome) Status() device.DomeStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

func (d *Dome) update(fn func(s *device.DomeStatus)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.status)
	if d.status.Slewing {
		d.status.State = device.MotionMoving
	} else if d.status.State == device.MotionMoving {
		d.status.State = device.MotionIdle
	}
}

func (d *Dome) Azimuth() float64 {
	if v, ok := d.GetDouble("azimuth"); ok {
		d.update(func(s *device.DomeStatus) { s.Azimuth = v })
	}
	return d.Status().Azimuth
}

func (d *Dome) notSlaved(what string) error {
	if d.Status().Slaved {
		return d.Fail(what, device.Errorf(device.ErrInvalidWhileSlaved, "%s refused: the dome is slaved to the mount", what))
	}
	return nil
}

func (d *Dome) SlewToAzimuth(az float64) error {
	if err := d.guard(d.Capabilities().CanSetAzimuth, "slewtoazimuth"); err != nil {
		return err
	}
	if err := d.notSlaved("slewtoazimuth"); err != nil {
		return err
	}
	if az < 0 || az >= 360 {
		return d.invalid("slewtoazimuth", "azimuth %.3f out of range [0, 360)", az)
	}
	if err := d.SetDouble("slewtoazimuth", "Azimuth", az); err != nil {
		d.update(func(s *device.DomeStatus) { s.State = device.MotionError })
		return err
	}
	d.update(func(s *device.DomeStatus) {
		s.Slewing, s.AtPark, s.AtHome = true, false, false
	})
	return nil
}

func (d *Dome) SlewToAltitude(alt float64) error {
	if err := d.guard(d.Capabilities().CanSetAltitude, "slewtoaltitude"); err != nil {
		return err
	}
	if alt < 0 || alt > 90 {
		return d.invalid("slewtoaltitude", "altitude %.3f out of range [0, 90]", alt)
	}
	if err := d.SetDouble("slewtoaltitude", "Altitude", alt); err != nil {
		return err
	}
	d.update(func(s *device.DomeStatus) { s.Slewing = true })
	return nil
}

func (d *Dome) SyncToAzimuth(az float64) error {
	if err := d.guard(d.Capabilities().CanSyncAzimuth, "synctoazimuth"); err != nil {
		return err
	}
	if az < 0 || az >= 360 {
		return d.invalid("synctoazimuth", "azimuth %.3f out of range [0, 360)", az)
	}
	if err := d.SetDouble("synctoazimuth", "Azimuth", az); err != nil {
		return err
	}
	d.update(func(s *device.DomeStatus) { s.Azimuth = az })
	return nil
}

// AbortSlew stops the dome and the shutter. Repeated calls succeed.
func (d *Dome) AbortSlew() error {
	if err := d.command("abortslew", nil); err != nil {
		return err
	}
	d.update(func(s *device.DomeStatus) {
		s.Slewing = false
		s.State = device.MotionIdle
	})
	return nil
}

func (d *Dome) IsSlewing() bool {
	v, ok := d.GetBool("slewing")
	if ok {
		d.update(func(s *device.DomeStatus) { s.Slewing = v })
	}
	return d.Status().Slewing
}

func (d *Dome) WaitForSlew(timeout time.Duration) bool {
	done := d.poll(timeout, func() bool { return !d.IsSlewing() })
	if done {
		d.Emit(device.EventPropertyChanged, "slewing", "slew complete", false)
	}
	return done
}

func (d *Dome) OpenShutter() error {
	return d.moveShutter("openshutter", device.ShutterOpening)
}

func (d *Dome) CloseShutter() error {
	return d.moveShutter("closeshutter", device.ShutterClosing)
}

func (d *Dome) moveShutter(method string, moving device.ShutterState) error {
	if err := d.guard(d.Capabilities().CanSetShutter, method); err != nil {
		return err
	}
	if err := d.command(method, nil); err != nil {
		return err
	}
	d.update(func(s *device.DomeStatus) { s.Shutter = moving })
	return nil
}

func (d *Dome) ShutterState() device.ShutterState {
	if v, ok := d.GetInt("shutterstatus"); ok {
		d.update(func(s *device.DomeStatus) { s.Shutter = device.ShutterState(v) })
	}
	return d.Status().Shutter
}

// WaitForShutter waits until the shutter stops moving and reports whether
// it ended Open or Closed.
func (d *Dome) WaitForShutter(timeout time.Duration) bool {
	var last device.ShutterState
	if !d.poll(timeout, func() bool {
		last = d.ShutterState()
		return !last.Moving()
	}) {
		return false
	}
	d.Emit(device.EventPropertyChanged, "shutterstatus", last.String(), last)
	return last == device.ShutterOpen || last == device.ShutterClosed
}

func (d *Dome) Park() error {
	if err := d.guard(d.Capabilities().CanPark, "park"); err != nil {
		return err
	}
	if err := d.notSlaved("park"); err != nil {
		return err
	}
	if err := d.command("park", nil); err != nil {
		return err
	}
	d.update(func(s *device.DomeStatus) { s.AtPark, s.AtHome = true, false })
	return nil
}

// Unpark clears the parked flag. ASCOM domes leave park on the next slew,
// so nothing is sent to the driver.
func (d *Dome) Unpark() error {
	if err := d.RequireConnected(); err != nil {
		return d.Fail("unpark", err)
	}
	d.update(func(s *device.DomeStatus) { s.AtPark = false })
	return nil
}

func (d *Dome) SetPark() error {
	if err := d.guard(d.Capabilities().CanSetPark, "setpark"); err != nil {
		return err
	}
	return d.command("setpark", nil)
}

func (d *Dome) FindHome() error {
	if err := d.guard(d.Capabilities().CanFindHome, "findhome"); err != nil {
		return err
	}
	if err := d.notSlaved("findhome"); err != nil {
		return err
	}
	if err := d.command("findhome", nil); err != nil {
		return err
	}
	d.update(func(s *device.DomeStatus) { s.AtPark = false })
	return nil
}

func (d *Dome) IsParked() bool {
	if v, ok := d.GetBool("atpark"); ok {
		d.update(func(s *device.DomeStatus) { s.AtPark = v })
	}
	return d.Status().AtPark
}

func (d *Dome) SetSlaved(on bool) error {
	if err := d.guard(d.Capabilities().CanSlave, "slaved"); err != nil {
		return err
	}
	if err := d.SetBool("slaved", "Slaved", on); err != nil {
		return err
	}
	d.update(func(s *device.DomeStatus) { s.Slaved = on })
	return nil
}

func (d *Dome) IsSlaved() bool {
	if v, ok := d.GetBool("slaved"); ok {
		d.update(func(s *device.DomeStatus) { s.Slaved = v })
	}
	return d.Status().Slaved
}
