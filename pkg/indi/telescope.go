package indi

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/device"
	"astrobridge/pkg/indiclient"
)

const (
	propEquatorial  = "EQUATORIAL_EOD_COORD"
	propHorizontal  = "HORIZONTAL_COORD"
	propCoordSet    = "ON_COORD_SET"
	propAbortMotion = "TELESCOPE_ABORT_MOTION"
	propTrackState  = "TELESCOPE_TRACK_STATE"
	propTrackMode   = "TELESCOPE_TRACK_MODE"
	propTrackRate   = "TELESCOPE_TRACK_RATE"
	propPark        = "TELESCOPE_PARK"
	propParkOption  = "TELESCOPE_PARK_OPTION"
	propPierSide    = "TELESCOPE_PIER_SIDE"
	propMotionNS    = "TELESCOPE_MOTION_NS"
	propMotionWE    = "TELESCOPE_MOTION_WE"
	propHome        = "TELESCOPE_HOME"
	propGuideRate   = "GUIDE_RATE"
	propGeographic  = "GEOGRAPHIC_COORD"
)

var trackModes = map[device.TrackingRate]string{
	device.RateSidereal: "TRACK_SIDEREAL",
	device.RateLunar:    "TRACK_LUNAR",
	device.RateSolar:    "TRACK_SOLAR",
	device.RateKing:     "TRACK_KING",
}

// Telescope is an INDI mount. Its state is read from the property cache:
// EQUATORIAL_EOD_COORD is Busy while slewing and TELESCOPE_PARK holds the
// park flag.
type Telescope struct {
	*Base

	mu     sync.Mutex
	target device.EquatorialCoordinates
}

var _ device.Telescope = (*Telescope)(nil)

func NewTelescope(client *indiclient.Client, name string, logger log.FieldLogger) *Telescope {
	t := &Telescope{Base: newBase(client, device.KindTelescope, name, logger)}
	t.hooks(t.update, nil)
	return t
}

func (t *Telescope) update(p *indiclient.Property) {
	if p.Name == propEquatorial && p.State == device.PropertyOk {
		t.Emit(device.EventPropertyChanged, "slewing", "slew complete", false)
	}
}

func (t *Telescope) TelescopeState() device.TelescopeState {
	switch eq := t.state(propEquatorial); {
	case t.IsParked():
		return device.TelescopeParked
	case eq == device.PropertyAlert:
		return device.TelescopeError
	case eq == device.PropertyBusy || t.busy(propMotionNS) || t.busy(propMotionWE):
		return device.TelescopeSlewing
	case t.IsTracking():
		return device.TelescopeTracking
	}
	return device.TelescopeIdle
}

// Capabilities reports what the driver's property set allows.
func (t *Telescope) Capabilities() device.TelescopeCapabilities {
	eq := t.writable(propEquatorial)
	hz := t.writable(propHorizontal)
	park := t.has(propPark)
	return device.TelescopeCapabilities{
		CanSlew:                  eq,
		CanSlewAsync:             eq,
		CanSlewAltAz:             hz,
		CanSlewAltAzAsync:        hz,
		CanSync:                  eq && t.hasElement(propCoordSet, "SYNC"),
		CanPark:                  park,
		CanUnpark:                park,
		CanSetPark:               t.hasElement(propParkOption, "PARK_CURRENT"),
		CanFindHome:              t.has(propHome),
		CanSetTracking:           t.has(propTrackState),
		CanPulseGuide:            t.has(propGuideNS) && t.has(propGuideWE),
		CanMoveAxis:              t.has(propMotionNS) && t.has(propMotionWE),
		CanSetGuideRates:         t.writable(propGuideRate),
		CanSetPierSide:           t.writable(propPierSide),
		CanSetRightAscensionRate: t.writable(propTrackRate),
		CanSetDeclinationRate:    t.writable(propTrackRate),
	}
}

func (t *Telescope) Status() device.TelescopeStatus {
	st := device.TelescopeStatus{
		State:        t.TelescopeState(),
		Parked:       t.IsParked(),
		Tracking:     t.IsTracking(),
		AtHome:       t.state(propHome) == device.PropertyOk && t.switchOn(propHome, "GO"),
		PulseGuiding: t.IsPulseGuiding(),
		TrackingRate: t.trackingRate(),
		CurrentRADec: t.Coordinates(),
		CurrentAzAlt: t.HorizontalCoordinates(),
		PierSide:     t.PierSide(),
	}
	t.mu.Lock()
	st.TargetRADec = t.target
	t.mu.Unlock()
	st.Slewing = st.State == device.TelescopeSlewing
	st.RARate, _ = t.number(propTrackRate, "TRACK_RATE_RA")
	st.DecRate, _ = t.number(propTrackRate, "TRACK_RATE_DE")
	st.GuideRateRA, _ = t.number(propGuideRate, "GUIDE_RATE_WE")
	st.GuideRateDec, _ = t.number(propGuideRate, "GUIDE_RATE_NS")
	st.SiteLatitude, _ = t.number(propGeographic, "LAT")
	st.SiteLongitude, _ = t.number(propGeographic, "LONG")
	return st
}

func (t *Telescope) trackingRate() device.TrackingRate {
	p, ok := t.prop(propTrackMode)
	if !ok {
		return device.RateSidereal
	}
	on, _ := p.OnSwitch()
	for r, name := range trackModes {
		if name == on {
			return r
		}
	}
	return device.RateSidereal
}

func (t *Telescope) notParked(what string) error {
	if t.IsParked() {
		return t.Fail(what, device.Errorf(device.ErrInvalidWhileParked, "%s refused while parked", what))
	}
	return nil
}

// SlewToCoordinates starts a slew and returns; INDI slews are always
// asynchronous.
func (t *Telescope) SlewToCoordinates(ra, dec float64) error {
	return t.gotoCoordinates("SLEW", ra, dec)
}

func (t *Telescope) SlewToCoordinatesAsync(ra, dec float64) error {
	return t.gotoCoordinates("SLEW", ra, dec)
}

func (t *Telescope) SyncToCoordinates(ra, dec float64) error {
	if err := t.gotoCoordinates("SYNC", ra, dec); err != nil {
		return err
	}
	return t.settle(propEquatorial)
}

func (t *Telescope) gotoCoordinates(mode string, ra, dec float64) error {
	what := "slewtocoordinates"
	capable := t.writable(propEquatorial)
	if mode == "SYNC" {
		what = "synctocoordinates"
		capable = capable && t.hasElement(propCoordSet, "SYNC")
	}
	if err := t.RequireConnected(); err != nil {
		return t.Fail(what, err)
	}
	if err := t.notParked(what); err != nil {
		return err
	}
	if err := t.guard(capable, what); err != nil {
		return err
	}
	target := device.EquatorialCoordinates{RA: ra, Dec: dec}
	if err := target.Validate(); err != nil {
		return t.Fail(what, err)
	}

	// TRACK resumes tracking once the slew ends, so it is only used when
	// tracking is already on.
	onSet := mode
	if mode == "SLEW" && t.IsTracking() && t.hasElement(propCoordSet, "TRACK") {
		onSet = "TRACK"
	}
	if t.has(propCoordSet) {
		if err := t.setSwitch(propCoordSet, map[string]bool{onSet: true}); err != nil {
			return err
		}
	}
	if err := t.setNumber(propEquatorial, map[string]float64{"RA": ra, "DEC": dec}); err != nil {
		return err
	}
	t.mu.Lock()
	t.target = target
	t.mu.Unlock()
	return nil
}

func (t *Telescope) SlewToAltAz(az, alt float64) error {
	if err := t.RequireConnected(); err != nil {
		return t.Fail("slewtoaltaz", err)
	}
	if err := t.notParked("slewtoaltaz"); err != nil {
		return err
	}
	if err := t.guard(t.writable(propHorizontal), "slewtoaltaz"); err != nil {
		return err
	}
	h := device.HorizontalCoordinates{Az: az, Alt: alt}
	if err := h.Validate(); err != nil {
		return t.Fail("slewtoaltaz", err)
	}
	return t.setNumber(propHorizontal, map[string]float64{"AZ": az, "ALT": alt})
}

// AbortSlew is a no-op when the mount is neither moving nor failed.
func (t *Telescope) AbortSlew() error {
	if err := t.guard(t.has(propAbortMotion), "abortslew"); err != nil {
		return err
	}
	if s := t.TelescopeState(); s != device.TelescopeSlewing && s != device.TelescopeError {
		return nil
	}
	return t.setSwitch(propAbortMotion, map[string]bool{"ABORT": true})
}

func (t *Telescope) IsSlewing() bool {
	return t.TelescopeState() == device.TelescopeSlewing
}

func (t *Telescope) WaitForSlew(timeout time.Duration) bool {
	return t.waitIdle(propEquatorial, timeout)
}

func (t *Telescope) Park() error {
	if err := t.guard(t.has(propPark), "park"); err != nil {
		return err
	}
	if err := t.setSwitch(propPark, map[string]bool{"PARK": true}); err != nil {
		return err
	}
	return t.settle(propPark)
}

func (t *Telescope) Unpark() error {
	if err := t.guard(t.hasElement(propPark, "UNPARK"), "unpark"); err != nil {
		return err
	}
	if err := t.setSwitch(propPark, map[string]bool{"UNPARK": true}); err != nil {
		return err
	}
	return t.settle(propPark)
}

func (t *Telescope) IsParked() bool {
	return t.switchOn(propPark, "PARK")
}

// SetPark stores the current position as the park position.
func (t *Telescope) SetPark() error {
	if err := t.guard(t.hasElement(propParkOption, "PARK_CURRENT"), "setpark"); err != nil {
		return err
	}
	if err := t.setSwitch(propParkOption, map[string]bool{"PARK_CURRENT": true}); err != nil {
		return err
	}
	if err := t.settle(propParkOption); err != nil {
		return err
	}
	if t.hasElement(propParkOption, "PARK_WRITE_DATA") {
		if err := t.setSwitch(propParkOption, map[string]bool{"PARK_WRITE_DATA": true}); err != nil {
			return err
		}
		return t.settle(propParkOption)
	}
	return nil
}

func (t *Telescope) FindHome() error {
	if err := t.RequireConnected(); err != nil {
		return t.Fail("findhome", err)
	}
	if err := t.notParked("findhome"); err != nil {
		return err
	}
	if err := t.guard(t.has(propHome), "findhome"); err != nil {
		return err
	}
	p, _ := t.prop(propHome)
	elem := "GO"
	if _, ok := p.Element(elem); !ok && len(p.Elements) > 0 {
		elem = p.Elements[0].Name
	}
	return t.setSwitch(propHome, map[string]bool{elem: true})
}

func (t *Telescope) SetTracking(on bool) error {
	if err := t.guard(t.has(propTrackState), "tracking"); err != nil {
		return err
	}
	if on {
		if err := t.notParked("tracking"); err != nil {
			return err
		}
		return t.setSwitch(propTrackState, map[string]bool{"TRACK_ON": true})
	}
	return t.setSwitch(propTrackState, map[string]bool{"TRACK_OFF": true})
}

func (t *Telescope) IsTracking() bool {
	return t.switchOn(propTrackState, "TRACK_ON")
}

func (t *Telescope) SetTrackingRate(rate device.TrackingRate) error {
	if err := t.guard(t.has(propTrackMode), "trackingrate"); err != nil {
		return err
	}
	mode, ok := trackModes[rate]
	if !ok || !rate.Valid() || !t.hasElement(propTrackMode, mode) {
		return t.invalid("trackingrate", "tracking rate %s is not offered by the driver", rate)
	}
	return t.setSwitch(propTrackMode, map[string]bool{mode: true})
}

// SetRightAscensionRate sets a custom rate in arcseconds per second and
// switches the mount to custom tracking.
func (t *Telescope) SetRightAscensionRate(rate float64) error {
	return t.setCustomRate("rightascensionrate", "TRACK_RATE_RA", rate)
}

func (t *Telescope) SetDeclinationRate(rate float64) error {
	return t.setCustomRate("declinationrate", "TRACK_RATE_DE", rate)
}

func (t *Telescope) setCustomRate(what, elem string, rate float64) error {
	if err := t.guard(t.writable(propTrackRate), what); err != nil {
		return err
	}
	if t.hasElement(propTrackMode, "TRACK_CUSTOM") {
		if err := t.setSwitch(propTrackMode, map[string]bool{"TRACK_CUSTOM": true}); err != nil {
			return err
		}
	}
	return t.setNumber(propTrackRate, map[string]float64{elem: rate})
}

// SetGuideRates takes rates as a fraction of sidereal.
func (t *Telescope) SetGuideRates(raRate, decRate float64) error {
	if err := t.guard(t.writable(propGuideRate), "guiderates"); err != nil {
		return err
	}
	if raRate < 0 || decRate < 0 {
		return t.invalid("guiderates", "guide rates must not be negative")
	}
	return t.setNumber(propGuideRate, map[string]float64{"GUIDE_RATE_WE": raRate, "GUIDE_RATE_NS": decRate})
}

// MoveAxis moves the mount at the driver's current slew rate. The sign of
// rate picks the direction and zero stops the axis.
func (t *Telescope) MoveAxis(axis device.TelescopeAxis, rate float64) error {
	if err := t.RequireConnected(); err != nil {
		return t.Fail("moveaxis", err)
	}
	if err := t.notParked("moveaxis"); err != nil {
		return err
	}
	if err := t.guard(t.has(propMotionNS) && t.has(propMotionWE), "moveaxis"); err != nil {
		return err
	}
	var prop, pos, neg string
	switch axis {
	case device.AxisPrimary:
		prop, pos, neg = propMotionWE, "MOTION_WEST", "MOTION_EAST"
	case device.AxisSecondary:
		prop, pos, neg = propMotionNS, "MOTION_NORTH", "MOTION_SOUTH"
	default:
		return t.invalid("moveaxis", "axis %d cannot be moved", int(axis))
	}
	return t.setSwitch(prop, map[string]bool{pos: rate > 0, neg: rate < 0})
}

func (t *Telescope) PierSide() device.PierSide {
	p, ok := t.prop(propPierSide)
	if !ok {
		return device.PierUnknown
	}
	switch on, _ := p.OnSwitch(); on {
	case "PIER_EAST":
		return device.PierEast
	case "PIER_WEST":
		return device.PierWest
	}
	return device.PierUnknown
}

func (t *Telescope) SetPierSide(side device.PierSide) error {
	if err := t.guard(t.writable(propPierSide), "sideofpier"); err != nil {
		return err
	}
	switch side {
	case device.PierEast:
		return t.setSwitch(propPierSide, map[string]bool{"PIER_EAST": true})
	case device.PierWest:
		return t.setSwitch(propPierSide, map[string]bool{"PIER_WEST": true})
	}
	return t.invalid("sideofpier", "pier side must be East or West")
}

func (t *Telescope) Coordinates() device.EquatorialCoordinates {
	var c device.EquatorialCoordinates
	c.RA, _ = t.number(propEquatorial, "RA")
	c.Dec, _ = t.number(propEquatorial, "DEC")
	return c
}

func (t *Telescope) HorizontalCoordinates() device.HorizontalCoordinates {
	var h device.HorizontalCoordinates
	h.Az, _ = t.number(propHorizontal, "AZ")
	h.Alt, _ = t.number(propHorizontal, "ALT")
	return h
}

func (t *Telescope) PulseGuide(dir device.GuideDirection, duration time.Duration) error {
	if err := t.RequireConnected(); err != nil {
		return t.Fail("pulseguide", err)
	}
	if err := t.notParked("pulseguide"); err != nil {
		return err
	}
	return pulseGuide(t.Base, dir, duration)
}

func (t *Telescope) IsPulseGuiding() bool {
	return t.busy(propGuideNS) || t.busy(propGuideWE)
}
