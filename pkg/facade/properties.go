package facade

import (
	"sort"
	"time"

	"astrobridge/pkg/device"
)

// PropertyValue is one entry of a device's flattened property table.
type PropertyValue struct {
	Device   string `json:"device"`
	Name     string `json:"name"`
	Value    any    `json:"value"`
	Readable bool   `json:"readable"`
	Writable bool   `json:"writable"`
}

// accessor reads or writes one flattened property. A nil get marks a
// command; a nil set marks a read-only value.
type accessor struct {
	get func(device.Device) (any, error)
	set func(device.Device, any) error
}

type table map[string]accessor

func as[T any](d device.Device) (T, error) {
	v, ok := d.(T)
	if !ok {
		return v, device.Errorf(device.ErrInvalidOperation, "%s %q does not support this property", d.Kind(), d.Name())
	}
	return v, nil
}

func ro[T any](fn func(T) any) accessor {
	return accessor{get: func(d device.Device) (any, error) {
		v, err := as[T](d)
		if err != nil {
			return nil, err
		}
		return fn(v), nil
	}}
}

func wo[T, V any](conv func(any) (V, error), fn func(T, V) error) accessor {
	return accessor{set: func(d device.Device, raw any) error {
		v, err := as[T](d)
		if err != nil {
			return err
		}
		arg, err := conv(raw)
		if err != nil {
			return err
		}
		return fn(v, arg)
	}}
}

func rw[T, V any](get func(T) any, conv func(any) (V, error), set func(T, V) error) accessor {
	a := wo(conv, set)
	a.get = ro(get).get
	return a
}

// optional returns nil for values the driver does not publish.
func optional(v float64, ok bool) any {
	if !ok {
		return nil
	}
	return v
}

func errorText(err error) any {
	if err == nil {
		return nil
	}
	return err.Error()
}

var commonTable = table{
	"name":            ro(func(d device.Device) any { return d.Name() }),
	"kind":            ro(func(d device.Device) any { return d.Kind().String() }),
	"backend":         ro(func(d device.Device) any { return d.Backend().String() }),
	"info":            ro(func(d device.Device) any { return d.Info() }),
	"connectionstate": ro(func(d device.Device) any { return d.ConnectionState().String() }),
	"lasterror":       ro(func(d device.Device) any { return errorText(d.LastError()) }),
	"connected": rw(func(d device.Device) any { return d.IsConnected() }, toBool,
		func(d device.Device, on bool) error {
			if on {
				return d.Connect(DefaultConnectTimeout)
			}
			return d.Disconnect()
		}),
	"refresh": wo(ignore, func(d device.Device, _ struct{}) error { return d.Refresh() }),
}

var cameraTable = table{
	"camerastate":      ro(func(c device.Camera) any { return c.CameraState().String() }),
	"status":           ro(func(c device.Camera) any { return c.Status() }),
	"capabilities":     ro(func(c device.Camera) any { return c.Capabilities() }),
	"sensorinfo":       ro(func(c device.Camera) any { return c.SensorInfo() }),
	"frame":            ro(func(c device.Camera) any { return c.Frame() }),
	"cooler":           ro(func(c device.Camera) any { return c.CoolerInfo() }),
	"gainoffset":       ro(func(c device.Camera) any { return c.GainOffset() }),
	"isexposing":       ro(func(c device.Camera) any { return c.IsExposing() }),
	"imageready":       ro(func(c device.Camera) any { return c.Status().ImageReady }),
	"percentcompleted": ro(func(c device.Camera) any { return c.Status().PercentCompleted }),
	"ccdtemperature":   ro(func(c device.Camera) any { return c.CoolerInfo().Temperature }),
	"coolerpower":      ro(func(c device.Camera) any { return c.CoolerInfo().Power }),
	"ispulseguiding":   ro(func(c device.Camera) any { return c.IsPulseGuiding() }),
	"imagearray": accessor{get: func(d device.Device) (any, error) {
		c, err := as[device.Camera](d)
		if err != nil {
			return nil, err
		}
		return c.ImageArray2D()
	}},
	"gain":   rw(func(c device.Camera) any { return c.GainOffset().Gain }, toInt, device.Camera.SetGain),
	"offset": rw(func(c device.Camera) any { return c.GainOffset().Offset }, toInt, device.Camera.SetOffset),
	"setccdtemperature": rw(func(c device.Camera) any { return c.CoolerInfo().TargetTemperature }, toFloat,
		device.Camera.SetTargetTemperature),
	"cooleron": rw(func(c device.Camera) any { return c.CoolerInfo().On }, toBool, device.Camera.SetCoolerOn),
	"binning": rw(func(c device.Camera) any { return c.Frame().BinX }, toInt,
		func(c device.Camera, n int) error { return c.SetBinning(n, n) }),
	"frametype": rw(func(c device.Camera) any { return c.Status().FrameType.String() },
		toEnum(device.FrameLight, device.FrameDark, device.FrameBias, device.FrameFlat), device.Camera.SetFrameType),
	"startexposure": wo(toFloat, func(c device.Camera, seconds float64) error {
		return c.StartExposure(seconds, true)
	}),
	"startdark": wo(toFloat, func(c device.Camera, seconds float64) error {
		return c.StartExposure(seconds, false)
	}),
	"abortexposure": wo(ignore, func(c device.Camera, _ struct{}) error { return c.AbortExposure() }),
	"stopexposure":  wo(ignore, func(c device.Camera, _ struct{}) error { return c.StopExposure() }),
}

var telescopeTable = table{
	"telescopestate": ro(func(t device.Telescope) any { return t.TelescopeState().String() }),
	"status":         ro(func(t device.Telescope) any { return t.Status() }),
	"capabilities":   ro(func(t device.Telescope) any { return t.Capabilities() }),
	"rightascension": ro(func(t device.Telescope) any { return t.Coordinates().RA }),
	"declination":    ro(func(t device.Telescope) any { return t.Coordinates().Dec }),
	"azimuth":        ro(func(t device.Telescope) any { return t.HorizontalCoordinates().Az }),
	"altitude":       ro(func(t device.Telescope) any { return t.HorizontalCoordinates().Alt }),
	"slewing":        ro(func(t device.Telescope) any { return t.IsSlewing() }),
	"ispulseguiding": ro(func(t device.Telescope) any { return t.IsPulseGuiding() }),
	"coordinates": rw(func(t device.Telescope) any { return t.Coordinates() }, pair("ra", "dec"),
		func(t device.Telescope, c [2]float64) error { return t.SlewToCoordinatesAsync(c[0], c[1]) }),
	"horizontal": rw(func(t device.Telescope) any { return t.HorizontalCoordinates() }, pair("az", "alt"),
		func(t device.Telescope, c [2]float64) error { return t.SlewToAltAz(c[0], c[1]) }),
	"sync": wo(pair("ra", "dec"), func(t device.Telescope, c [2]float64) error {
		return t.SyncToCoordinates(c[0], c[1])
	}),
	"tracking": rw(func(t device.Telescope) any { return t.IsTracking() }, toBool, device.Telescope.SetTracking),
	"trackingrate": rw(func(t device.Telescope) any { return t.Status().TrackingRate.String() },
		toEnum(device.RateSidereal, device.RateLunar, device.RateSolar, device.RateKing), device.Telescope.SetTrackingRate),
	"rightascensionrate": rw(func(t device.Telescope) any { return t.Status().RARate }, toFloat,
		device.Telescope.SetRightAscensionRate),
	"declinationrate": rw(func(t device.Telescope) any { return t.Status().DecRate }, toFloat,
		device.Telescope.SetDeclinationRate),
	"guiderates": rw(func(t device.Telescope) any {
		st := t.Status()
		return map[string]float64{"ra": st.GuideRateRA, "dec": st.GuideRateDec}
	}, pair("ra", "dec"), func(t device.Telescope, r [2]float64) error { return t.SetGuideRates(r[0], r[1]) }),
	"atpark": rw(func(t device.Telescope) any { return t.IsParked() }, toBool, func(t device.Telescope, on bool) error {
		if on {
			return t.Park()
		}
		return t.Unpark()
	}),
	"sideofpier": rw(func(t device.Telescope) any { return t.PierSide().String() },
		toEnum(device.PierEast, device.PierWest), device.Telescope.SetPierSide),
	"abortslew": wo(ignore, func(t device.Telescope, _ struct{}) error { return t.AbortSlew() }),
	"findhome":  wo(ignore, func(t device.Telescope, _ struct{}) error { return t.FindHome() }),
	"setpark":   wo(ignore, func(t device.Telescope, _ struct{}) error { return t.SetPark() }),
}

var focuserTable = table{
	"focuserstate": ro(func(f device.Focuser) any { return f.FocuserState().String() }),
	"status":       ro(func(f device.Focuser) any { return f.Status() }),
	"capabilities": ro(func(f device.Focuser) any { return f.Capabilities() }),
	"ismoving":     ro(func(f device.Focuser) any { return f.IsMoving() }),
	"temperature":  ro(func(f device.Focuser) any { return optional(f.Temperature()) }),
	"position":     rw(func(f device.Focuser) any { return f.Position() }, toInt, device.Focuser.MoveTo),
	"moverelative": wo(toInt, device.Focuser.MoveRelative),
	"tempcomp":     rw(func(f device.Focuser) any { return f.TempComp() }, toBool, device.Focuser.SetTempComp),
	"halt":         wo(ignore, func(f device.Focuser, _ struct{}) error { return f.Halt() }),
}

var filterWheelTable = table{
	"status":       ro(func(w device.FilterWheel) any { return w.Status() }),
	"names":        ro(func(w device.FilterWheel) any { return w.FilterNames() }),
	"focusoffsets": ro(func(w device.FilterWheel) any { return w.FocusOffsets() }),
	"slots":        ro(func(w device.FilterWheel) any { return w.Slots() }),
	"ismoving":     ro(func(w device.FilterWheel) any { return w.IsMoving() }),
	"position":     rw(func(w device.FilterWheel) any { return w.Position() }, toInt, device.FilterWheel.SetPosition),
}

var domeTable = table{
	"status":       ro(func(d device.Dome) any { return d.Status() }),
	"capabilities": ro(func(d device.Dome) any { return d.Capabilities() }),
	"slewing":      ro(func(d device.Dome) any { return d.IsSlewing() }),
	"azimuth":      rw(func(d device.Dome) any { return d.Azimuth() }, toFloat, device.Dome.SlewToAzimuth),
	"altitude":     wo(toFloat, device.Dome.SlewToAltitude),
	"synctoazimuth": wo(toFloat, device.Dome.SyncToAzimuth),
	"shutterstatus": rw(func(d device.Dome) any { return d.ShutterState().String() },
		toEnum(device.ShutterOpen, device.ShutterClosed), func(d device.Dome, s device.ShutterState) error {
			if s == device.ShutterOpen {
				return d.OpenShutter()
			}
			return d.CloseShutter()
		}),
	"atpark": rw(func(d device.Dome) any { return d.IsParked() }, toBool, func(d device.Dome, on bool) error {
		if on {
			return d.Park()
		}
		return d.Unpark()
	}),
	"slaved":    rw(func(d device.Dome) any { return d.IsSlaved() }, toBool, device.Dome.SetSlaved),
	"abortslew": wo(ignore, func(d device.Dome, _ struct{}) error { return d.AbortSlew() }),
	"findhome":  wo(ignore, func(d device.Dome, _ struct{}) error { return d.FindHome() }),
	"setpark":   wo(ignore, func(d device.Dome, _ struct{}) error { return d.SetPark() }),
}

var rotatorTable = table{
	"status":       ro(func(r device.Rotator) any { return r.Status() }),
	"capabilities": ro(func(r device.Rotator) any { return r.Capabilities() }),
	"ismoving":     ro(func(r device.Rotator) any { return r.IsMoving() }),
	"position":     rw(func(r device.Rotator) any { return r.Position() }, toFloat, device.Rotator.MoveTo),
	"mechanicalposition": rw(func(r device.Rotator) any { return r.MechanicalPosition() }, toFloat,
		device.Rotator.MoveMechanical),
	"moverelative": wo(toFloat, device.Rotator.MoveRelative),
	"sync":         wo(toFloat, device.Rotator.Sync),
	"reverse":      rw(func(r device.Rotator) any { return r.Reversed() }, toBool, device.Rotator.SetReversed),
	"halt":         wo(ignore, func(r device.Rotator, _ struct{}) error { return r.Halt() }),
}

var gpsTable = table{
	"status":     ro(func(g device.GPS) any { return g.Status() }),
	"position":   ro(func(g device.GPS) any { return g.Position() }),
	"time":       ro(func(g device.GPS) any { return g.Time() }),
	"satellites": ro(func(g device.GPS) any { return g.Satellites() }),
	"fix":        ro(func(g device.GPS) any { return g.Fix().String() }),
	"hasfix":     ro(func(g device.GPS) any { return g.HasFix() }),
}

func weatherTable() table {
	t := table{
		"data": ro(func(w device.ObservingConditions) any { return w.Data() }),
		"averageperiod": rw(func(w device.ObservingConditions) any { return w.AveragePeriod() }, toFloat,
			device.ObservingConditions.SetAveragePeriod),
		"timesincelastupdate": ro(func(w device.ObservingConditions) any {
			updated := w.Data().Updated
			if updated.IsZero() {
				return nil
			}
			return time.Since(updated).Seconds()
		}),
	}
	for _, p := range device.WeatherParameters() {
		t[string(p)] = ro(func(w device.ObservingConditions) any { return optional(w.Value(p)) })
	}
	return t
}

var kindTables = map[device.Kind]table{
	device.KindCamera:              cameraTable,
	device.KindTelescope:           telescopeTable,
	device.KindFocuser:             focuserTable,
	device.KindFilterWheel:         filterWheelTable,
	device.KindDome:                domeTable,
	device.KindRotator:             rotatorTable,
	device.KindObservingConditions: weatherTable(),
	device.KindGPS:                 gpsTable,
}

func lookupProperty(kind device.Kind, name string) (accessor, bool) {
	if a, ok := kindTables[kind][name]; ok {
		return a, true
	}
	a, ok := commonTable[name]
	return a, ok
}

// PropertyNames lists the flattened properties available for kind.
func PropertyNames(kind device.Kind) []string {
	names := make([]string, 0, len(commonTable)+len(kindTables[kind]))
	for n := range commonTable {
		names = append(names, n)
	}
	for n := range kindTables[kind] {
		if _, dup := commonTable[n]; !dup {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}
