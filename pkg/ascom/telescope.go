package ascom

import (
	"net/url"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/device"
)

// Telescope is an ASCOM mount reached over Alpaca.
type Telescope struct {
	*Base

	mu     sync.RWMutex
	caps   device.TelescopeCapabilities
	status device.TelescopeStatus
	failed bool
}

var _ device.Telescope = (*Telescope)(nil)

func NewTelescope(client *alpaca.Client, number int, name string, logger log.FieldLogger) *Telescope {
	t := &Telescope{Base: newBase(client, device.KindTelescope, number, name, logger)}
	t.status.PierSide = device.PierUnknown
	t.onConnect = t.load
	t.onRefresh = t.refresh
	return t
}

func (t *Telescope) load() error {
	var caps device.TelescopeCapabilities
	caps.CanSlew, _ = t.GetBool("canslew")
	caps.CanSlewAsync, _ = t.GetBool("canslewasync")
	caps.CanSlewAltAz, _ = t.GetBool("canslewaltaz")
	caps.CanSlewAltAzAsync, _ = t.GetBool("canslewaltazasync")
	caps.CanSync, _ = t.GetBool("cansync")
	caps.CanSyncAltAz, _ = t.GetBool("cansyncaltaz")
	caps.CanPark, _ = t.GetBool("canpark")
	caps.CanUnpark, _ = t.GetBool("canunpark")
	caps.CanSetPark, _ = t.GetBool("cansetpark")
	caps.CanFindHome, _ = t.GetBool("canfindhome")
	caps.CanSetTracking, _ = t.GetBool("cansettracking")
	caps.CanPulseGuide, _ = t.GetBool("canpulseguide")
	caps.CanSetGuideRates, _ = t.GetBool("cansetguiderates")
	caps.CanSetPierSide, _ = t.GetBool("cansetpierside")
	caps.CanSetRightAscensionRate, _ = t.GetBool("cansetrightascensionrate")
	caps.CanSetDeclinationRate, _ = t.GetBool("cansetdeclinationrate")
	caps.CanMoveAxis, _ = t.get("canmoveaxis", url.Values{"Axis": {"0"}}).Bool()

	lat, _ := t.GetDouble("sitelatitude")
	long, _ := t.GetDouble("sitelongitude")
	guideRA, _ := t.GetDouble("guideraterightascension")
	guideDec, _ := t.GetDouble("guideratedeclination")

	t.mu.Lock()
	t.caps = caps
	t.failed = false
	t.status.SiteLatitude, t.status.SiteLongitude = lat, long
	t.status.GuideRateRA, t.status.GuideRateDec = guideRA, guideDec
	t.mu.Unlock()
	return t.refresh()
}

func (t *Telescope) refresh() error {
	parked, parkedOK := t.GetBool("atpark")
	slewing, slewingOK := t.GetBool("slewing")
	tracking, trackingOK := t.GetBool("tracking")
	home, _ := t.GetBool("athome")
	ra, raOK := t.GetDouble("rightascension")
	dec, decOK := t.GetDouble("declination")
	az, azOK := t.GetDouble("azimuth")
	alt, altOK := t.GetDouble("altitude")
	lst, _ := t.GetDouble("siderealtime")
	rate, rateOK := t.GetInt("trackingrate")
	side, sideOK := t.GetInt("sideofpier")

	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.status
	if parkedOK {
		s.Parked = parked
	}
	if slewingOK {
		s.Slewing = slewing
	}
	if trackingOK {
		s.Tracking = tracking
	}
	s.AtHome = home
	if raOK && decOK {
		s.CurrentRADec = device.EquatorialCoordinates{RA: ra, Dec: dec}
	}
	if azOK && altOK {
		s.CurrentAzAlt = device.HorizontalCoordinates{Az: az, Alt: alt}
	}
	s.SiderealTime = lst
	if rateOK {
		s.TrackingRate = device.TrackingRate(rate)
	}
	if sideOK {
		s.PierSide = device.PierSide(side)
	}
	t.deriveLocked()
	return nil
}

// deriveLocked recomputes the state from the observed flags. Parked wins,
// then slewing, then tracking.
func (t *Telescope) deriveLocked() {
	s := &t.status
	switch {
	case s.Parked:
		s.State = device.TelescopeParked
	case t.failed:
		s.State = device.TelescopeError
	case s.Slewing:
		s.State = device.TelescopeSlewing
	case s.Tracking:
		s.State = device.TelescopeTracking
	default:
		s.State = device.TelescopeIdle
	}
}

func (t *Telescope) update(fn func(s *device.TelescopeStatus)) {
	t.mu.Lock()
	fn(&t.status)
	t.deriveLocked()
	t.mu.Unlock()
}

func (t *Telescope) TelescopeState() device.TelescopeState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.State
}

func (t *Telescope) Capabilities() device.TelescopeCapabilities {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.caps
}

func (t *Telescope) Status() device.TelescopeStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

func (t *Telescope) IsParked() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.Parked
}

func (t *Telescope) IsTracking() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.Tracking
}

// notParked rejects motion while the mount is parked. It never touches the
// transport.
func (t *Telescope) notParked(what string) error {
	if err := t.RequireConnected(); err != nil {
		return t.Fail(what, err)
	}
	if t.IsParked() {
		return t.Fail(what, device.Errorf(device.ErrInvalidWhileParked, "%s refused: the mount is parked", what))
	}
	return nil
}

// slewCommand issues a slew and marks the mount Slewing on success.
func (t *Telescope) slewCommand(method string, params url.Values) error {
	if err := t.command(method, params); err != nil {
		t.update(func(*device.TelescopeStatus) { t.failed = true })
		return err
	}
	t.update(func(s *device.TelescopeStatus) { s.Slewing = true })
	return nil
}

// SlewToCoordinates starts a slew and returns once the driver accepted it.
// The asynchronous endpoint is used when available.
func (t *Telescope) SlewToCoordinates(ra, dec float64) error {
	if t.Capabilities().CanSlewAsync {
		return t.SlewToCoordinatesAsync(ra, dec)
	}
	return t.slew("slewtocoordinates", t.Capabilities().CanSlew, ra, dec)
}

func (t *Telescope) SlewToCoordinatesAsync(ra, dec float64) error {
	return t.slew("slewtocoordinatesasync", t.Capabilities().CanSlewAsync, ra, dec)
}

func (t *Telescope) slew(method string, capable bool, ra, dec float64) error {
	if err := t.notParked(method); err != nil {
		return err
	}
	if err := t.guard(capable, method); err != nil {
		return err
	}
	target := device.EquatorialCoordinates{RA: ra, Dec: dec}
	if err := target.Validate(); err != nil {
		return t.Fail(method, err)
	}
	if err := t.slewCommand(method, coordParams(ra, dec)); err != nil {
		return err
	}
	t.update(func(s *device.TelescopeStatus) { s.TargetRADec = target })
	t.Logger().Infof("Slewing to %s", target)
	return nil
}

func (t *Telescope) SyncToCoordinates(ra, dec float64) error {
	if err := t.notParked("synctocoordinates"); err != nil {
		return err
	}
	if err := t.guard(t.Capabilities().CanSync, "synctocoordinates"); err != nil {
		return err
	}
	c := device.EquatorialCoordinates{RA: ra, Dec: dec}
	if err := c.Validate(); err != nil {
		return t.Fail("synctocoordinates", err)
	}
	if err := t.command("synctocoordinates", coordParams(ra, dec)); err != nil {
		return err
	}
	t.update(func(s *device.TelescopeStatus) { s.CurrentRADec = c })
	return nil
}

func (t *Telescope) SlewToAltAz(az, alt float64) error {
	caps := t.Capabilities()
	method, capable := "slewtoaltaz", caps.CanSlewAltAz
	if caps.CanSlewAltAzAsync {
		method, capable = "slewtoaltazasync", true
	}
	if err := t.notParked(method); err != nil {
		return err
	}
	if err := t.guard(capable, method); err != nil {
		return err
	}
	c := device.HorizontalCoordinates{Az: az, Alt: alt}
	if err := c.Validate(); err != nil {
		return t.Fail(method, err)
	}
	return t.slewCommand(method, url.Values{"Azimuth": {formatFloat(az)}, "Altitude": {formatFloat(alt)}})
}

// AbortSlew stops any motion. It is a no-op when the mount is not slewing.
func (t *Telescope) AbortSlew() error {
	if err := t.RequireConnected(); err != nil {
		return t.Fail("abortslew", err)
	}
	t.mu.RLock()
	idle := !t.status.Slewing && !t.failed
	t.mu.RUnlock()
	if idle {
		return nil
	}
	if err := t.command("abortslew", nil); err != nil {
		return err
	}
	t.update(func(s *device.TelescopeStatus) {
		s.Slewing = false
		t.failed = false
	})
	return nil
}

// IsSlewing asks the driver while a slew is believed to be in progress.
func (t *Telescope) IsSlewing() bool {
	t.mu.RLock()
	slewing := t.status.Slewing
	t.mu.RUnlock()
	if !slewing || !t.IsConnected() {
		return slewing
	}
	v, ok := t.GetBool("slewing")
	if !ok {
		return slewing
	}
	if !v {
		t.update(func(s *device.TelescopeStatus) { s.Slewing = false })
		t.Emit(device.EventPropertyChanged, "slewing", "slew complete", false)
	}
	return v
}

func (t *Telescope) WaitForSlew(timeout time.Duration) bool {
	return t.poll(timeout, func() bool { return !t.IsSlewing() })
}

func (t *Telescope) Park() error {
	if err := t.guard(t.Capabilities().CanPark, "park"); err != nil {
		return err
	}
	if err := t.command("park", nil); err != nil {
		return err
	}
	t.update(func(s *device.TelescopeStatus) {
		s.Parked, s.Slewing, s.Tracking = true, false, false
		t.failed = false
	})
	t.Logger().Info("Parked")
	return nil
}

func (t *Telescope) Unpark() error {
	if err := t.guard(t.Capabilities().CanUnpark, "unpark"); err != nil {
		return err
	}
	if err := t.command("unpark", nil); err != nil {
		return err
	}
	t.update(func(s *device.TelescopeStatus) {
		s.Parked = false
		t.failed = false
	})
	t.Logger().Info("Unparked")
	return nil
}

func (t *Telescope) SetPark() error {
	if err := t.guard(t.Capabilities().CanSetPark, "setpark"); err != nil {
		return err
	}
	return t.command("setpark", nil)
}

func (t *Telescope) FindHome() error {
	if err := t.notParked("findhome"); err != nil {
		return err
	}
	if err := t.guard(t.Capabilities().CanFindHome, "findhome"); err != nil {
		return err
	}
	return t.slewCommand("findhome", nil)
}

func (t *Telescope) SetTracking(on bool) error {
	if err := t.notParked("tracking"); err != nil {
		return err
	}
	if err := t.guard(t.Capabilities().CanSetTracking, "tracking"); err != nil {
		return err
	}
	if err := t.SetBool("tracking", "Tracking", on); err != nil {
		return err
	}
	t.update(func(s *device.TelescopeStatus) { s.Tracking = on })
	return nil
}

func (t *Telescope) SetTrackingRate(rate device.TrackingRate) error {
	if err := t.RequireConnected(); err != nil {
		return t.Fail("trackingrate", err)
	}
	if !rate.Valid() {
		return t.invalid("trackingrate", "unknown tracking rate %d", int(rate))
	}
	if err := t.SetInt("trackingrate", "TrackingRate", int(rate)); err != nil {
		return err
	}
	t.update(func(s *device.TelescopeStatus) { s.TrackingRate = rate })
	return nil
}

func (t *Telescope) SetRightAscensionRate(rate float64) error {
	if err := t.guard(t.Capabilities().CanSetRightAscensionRate, "rightascensionrate"); err != nil {
		return err
	}
	if err := t.SetDouble("rightascensionrate", "RightAscensionRate", rate); err != nil {
		return err
	}
	t.update(func(s *device.TelescopeStatus) { s.RARate = rate })
	return nil
}

func (t *Telescope) SetDeclinationRate(rate float64) error {
	if err := t.guard(t.Capabilities().CanSetDeclinationRate, "declinationrate"); err != nil {
		return err
	}
	if err := t.SetDouble("declinationrate", "DeclinationRate", rate); err != nil {
		return err
	}
	t.update(func(s *device.TelescopeStatus) { s.DecRate = rate })
	return nil
}

func (t *Telescope) SetGuideRates(raRate, decRate float64) error {
	if err := t.guard(t.Capabilities().CanSetGuideRates, "guiderates"); err != nil {
		return err
	}
	if raRate < 0 || decRate < 0 {
		return t.invalid("guiderates", "guide rates %.4f/%.4f must not be negative", raRate, decRate)
	}
	if err := t.SetDouble("guideraterightascension", "GuideRateRightAscension", raRate); err != nil {
		return err
	}
	if err := t.SetDouble("guideratedeclination", "GuideRateDeclination", decRate); err != nil {
		return err
	}
	t.update(func(s *device.TelescopeStatus) { s.GuideRateRA, s.GuideRateDec = raRate, decRate })
	return nil
}

// MoveAxis moves an axis at rate degrees per second. A zero rate stops it.
func (t *Telescope) MoveAxis(axis device.TelescopeAxis, rate float64) error {
	if err := t.notParked("moveaxis"); err != nil {
		return err
	}
	if err := t.guard(t.Capabilities().CanMoveAxis, "moveaxis"); err != nil {
		return err
	}
	if axis < device.AxisPrimary || axis > device.AxisTertiary {
		return t.invalid("moveaxis", "unknown axis %d", int(axis))
	}
	err := t.command("moveaxis", url.Values{"Axis": {strconv.Itoa(int(axis))}, "Rate": {formatFloat(rate)}})
	if err != nil {
		return err
	}
	t.update(func(s *device.TelescopeStatus) { s.Slewing = rate != 0 })
	return nil
}

func (t *Telescope) PierSide() device.PierSide {
	if v, ok := t.GetInt("sideofpier"); ok {
		t.update(func(s *device.TelescopeStatus) { s.PierSide = device.PierSide(v) })
		return device.PierSide(v)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.PierSide
}

func (t *Telescope) SetPierSide(side device.PierSide) error {
	if err := t.notParked("sideofpier"); err != nil {
		return err
	}
	if err := t.guard(t.Capabilities().CanSetPierSide, "sideofpier"); err != nil {
		return err
	}
	if side != device.PierEast && side != device.PierWest {
		return t.invalid("sideofpier", "pier side %s cannot be requested", side)
	}
	return t.slewCommand("sideofpier", url.Values{"SideOfPier": {strconv.Itoa(int(side))}})
}

func (t *Telescope) Coordinates() device.EquatorialCoordinates {
	ra, raOK := t.GetDouble("rightascension")
	dec, decOK := t.GetDouble("declination")
	if raOK && decOK {
		t.update(func(s *device.TelescopeStatus) { s.CurrentRADec = device.EquatorialCoordinates{RA: ra, Dec: dec} })
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.CurrentRADec
}

func (t *Telescope) HorizontalCoordinates() device.HorizontalCoordinates {
	az, azOK := t.GetDouble("azimuth")
	alt, altOK := t.GetDouble("altitude")
	if azOK && altOK {
		t.update(func(s *device.TelescopeStatus) { s.CurrentAzAlt = device.HorizontalCoordinates{Az: az, Alt: alt} })
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status.CurrentAzAlt
}

func (t *Telescope) PulseGuide(dir device.GuideDirection, duration time.Duration) error {
	if err := t.notParked("pulseguide"); err != nil {
		return err
	}
	return pulseGuide(t.Base, t.Capabilities().CanPulseGuide, dir, duration)
}

func (t *Telescope) IsPulseGuiding() bool {
	v, _ := t.GetBool("ispulseguiding")
	t.update(func(s *device.TelescopeStatus) { s.PulseGuiding = v })
	return v
}

func coordParams(ra, dec float64) url.Values {
	return url.Values{"RightAscension": {formatFloat(ra)}, "Declination": {formatFloat(dec)}}
}
