package alpacatest

import (
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/device"
)

// DomeSimulator serves a dome on a Server. Slews and shutter movements
// complete after SettleReads status reads.
type DomeSimulator struct {
	SettleReads int

	mu           sync.Mutex
	number       int
	connected    bool
	capabilities device.DomeCapabilities
	status       device.DomeStatus
	pending      int
	shutterDest  device.ShutterState
}

func NewDomeSimulator(s *Server, number int) *DomeSimulator {
	d := &DomeSimulator{
		SettleReads: 2,
		number:      number,
		capabilities: device.DomeCapabilities{
			CanFindHome:    true,
			CanPark:        true,
			CanSetAltitude: true,
			CanSetAzimuth:  true,
			CanSetPark:     true,
			CanSetShutter:  true,
			CanSlave:       true,
			CanSyncAzimuth: true,
		},
		status: device.DomeStatus{
			AtPark:  true,
			Shutter: device.ShutterClosed,
		},
	}
	s.AddDevice(alpaca.DeviceDescription{
		Name:     "Dome Simulator",
		Type:     "Dome",
		Number:   number,
		UniqueID: "621ca2e0-399a-43f6-b9e7-e6575d953507",
	})

	kind := device.KindDome
	s.Handle(kind, number, "connected", d.handleConnected)
	s.Handle(kind, number, "name", d.get(func() any { return "Dome Simulator" }))
	s.Handle(kind, number, "description", d.get(func() any { return "Simulated dome" }))
	s.Handle(kind, number, "driverinfo", d.get(func() any { return "Dome simulator driver" }))
	s.Handle(kind, number, "driverversion", d.get(func() any { return "1.0" }))
	s.Handle(kind, number, "interfaceversion", d.get(func() any { return 2 }))

	caps := map[string]func(device.DomeCapabilities) bool{
		"canfindhome":    func(c device.DomeCapabilities) bool { return c.CanFindHome },
		"canpark":        func(c device.DomeCapabilities) bool { return c.CanPark },
		"cansetaltitude": func(c device.DomeCapabilities) bool { return c.CanSetAltitude },
		"cansetazimuth":  func(c device.DomeCapabilities) bool { return c.CanSetAzimuth },
		"cansetpark":     func(c device.DomeCapabilities) bool { return c.CanSetPark },
		"cansetshutter":  func(c device.DomeCapabilities) bool { return c.CanSetShutter },
		"canslave":       func(c device.DomeCapabilities) bool { return c.CanSlave },
		"cansyncazimuth": func(c device.DomeCapabilities) bool { return c.CanSyncAzimuth },
	}
	for method, fn := range caps {
		s.Handle(kind, number, method, d.get(func() any { return fn(d.capabilities) }))
	}

	s.Handle(kind, number, "altitude", d.get(func() any { return d.status.Altitude }))
	s.Handle(kind, number, "azimuth", d.get(func() any { return d.status.Azimuth }))
	s.Handle(kind, number, "athome", d.get(func() any { return d.status.AtHome }))
	s.Handle(kind, number, "atpark", d.get(func() any { return d.status.AtPark }))
	s.Handle(kind, number, "slaved", d.handleSlaved)
	s.Handle(kind, number, "slewing", d.get(func() any {
		d.settle()
		return d.status.Slewing
	}))
	s.Handle(kind, number, "shutterstatus", d.get(func() any {
		d.settle()
		return int(d.status.Shutter)
	}))

	s.Handle(kind, number, "slewtoazimuth", d.put("Azimuth", func(v float64) {
		d.status.Azimuth = v
		d.status.AtPark, d.status.AtHome = false, false
		d.startSlew()
	}))
	s.Handle(kind, number, "slewtoaltitude", d.put("Altitude", func(v float64) {
		d.status.Altitude = v
		d.startSlew()
	}))
	s.Handle(kind, number, "synctoazimuth", d.put("Azimuth", func(v float64) { d.status.Azimuth = v }))
	s.Handle(kind, number, "abortslew", d.command(func() {
		d.status.Slewing = false
		d.pending = 0
	}))
	s.Handle(kind, number, "findhome", d.command(func() {
		d.status.AtHome, d.status.AtPark = true, false
		d.status.Azimuth = 0
	}))
	s.Handle(kind, number, "park", d.command(func() {
		d.status.AtHome, d.status.AtPark = false, true
	}))
	s.Handle(kind, number, "setpark", d.command(func() {}))
	s.Handle(kind, number, "openshutter", d.command(func() { d.moveShutter(device.ShutterOpen) }))
	s.Handle(kind, number, "closeshutter", d.command(func() { d.moveShutter(device.ShutterClosed) }))
	return d
}

func (d *DomeSimulator) Status() device.DomeStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *DomeSimulator) SetCapabilities(c device.DomeCapabilities) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.capabilities = c
}

func (d *DomeSimulator) startSlew() {
	d.status.Slewing = true
	d.pending = d.SettleReads
}

func (d *DomeSimulator) moveShutter(dest device.ShutterState) {
	if d.status.Shutter == dest {
		return
	}
	d.shutterDest = dest
	if dest == device.ShutterOpen {
		d.status.Shutter = device.ShutterOpening
	} else {
		d.status.Shutter = device.ShutterClosing
	}
	d.pending = d.SettleReads
}

// settle advances in-flight motion by one status read.
func (d *DomeSimulator) settle() {
	if d.pending > 0 {
		d.pending--
		return
	}
	d.status.Slewing = false
	if d.status.Shutter.Moving() {
		d.status.Shutter = d.shutterDest
	}
}

func (d *DomeSimulator) notConnected() (Reply, bool) {
	if !d.connected {
		return Fail(alpaca.CodeNotConnected, "dome is not connected"), true
	}
	return Reply{}, false
}

func (d *DomeSimulator) get(value func() any) HandlerFunc {
	return func(verb string, params url.Values) Reply {
		d.mu.Lock()
		defer d.mu.Unlock()
		if verb != http.MethodGet {
			return Fail(alpaca.CodeNotImplemented, "method is read-only")
		}
		return Value(value())
	}
}

func (d *DomeSimulator) command(fn func()) HandlerFunc {
	return func(verb string, params url.Values) Reply {
		d.mu.Lock()
		defer d.mu.Unlock()
		if rep, ok := d.notConnected(); ok {
			return rep
		}
		fn()
		return OK
	}
}

func (d *DomeSimulator) put(field string, fn func(float64)) HandlerFunc {
	return func(verb string, params url.Values) Reply {
		d.mu.Lock()
		defer d.mu.Unlock()
		if rep, ok := d.notConnected(); ok {
			return rep
		}
		v, err := strconv.ParseFloat(lookup(params, field), 64)
		if err != nil {
			return Fail(alpaca.CodeInvalidValue, "invalid "+field)
		}
		if field == "Azimuth" && (v < 0 || v >= 360) {
			return Fail(alpaca.CodeInvalidValue, "azimuth out of range")
		}
		fn(v)
		return OK
	}
}

func (d *DomeSimulator) handleConnected(verb string, params url.Values) Reply {
	d.mu.Lock()
	defer d.mu.Unlock()
	if verb == http.MethodGet {
		return Value(d.connected)
	}
	on, err := strconv.ParseBool(lookup(params, "Connected"))
	if err != nil {
		return Fail(alpaca.CodeInvalidValue, "invalid Connected")
	}
	d.connected = on
	return OK
}

func (d *DomeSimulator) handleSlaved(verb string, params url.Values) Reply {
	d.mu.Lock()
	defer d.mu.Unlock()
	if verb == http.MethodGet {
		return Value(d.status.Slaved)
	}
	on, err := strconv.ParseBool(lookup(params, "Slaved"))
	if err != nil {
		return Fail(alpaca.CodeInvalidValue, "invalid Slaved")
	}
	d.status.Slaved = on
	return OK
}
