package indi

import (
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/device"
	"astrobridge/pkg/indiclient"
)

const (
	propTimeUTC       = "TIME_UTC"
	propGPSStatus     = "GPS_STATUS"
	propGPSSatellites = "GPS_SATELLITES"
	propGPSRefresh    = "GPS_REFRESH"
)

var fixSwitches = map[string]device.FixType{
	"NO_FIX":   device.NoFix,
	"FIX_2D":   device.Fix2D,
	"FIX_3D":   device.Fix3D,
	"FIX_DGPS": device.FixDGPS,
}

// GPS is an INDI GPS receiver.
type GPS struct {
	*Base

	fixed device.Signal
}

var _ device.GPS = (*GPS)(nil)

func NewGPS(client *indiclient.Client, name string, logger log.FieldLogger) *GPS {
	g := &GPS{Base: newBase(client, device.KindGPS, name, logger)}
	g.hooks(g.update, nil)
	return g
}

func (g *GPS) update(p *indiclient.Property) {
	if p.Name == propGPSStatus || p.Name == propGeographic {
		g.fixed.Broadcast()
	}
}

func (g *GPS) Status() device.GPSStatus {
	return device.GPSStatus{
		Position:   g.Position(),
		Time:       g.Time(),
		Satellites: g.Satellites(),
		Fix:        g.Fix(),
	}
}

// Position reads GEOGRAPHIC_COORD. Accuracy is estimated from HDOP with a
// 5 m receiver error when the driver publishes satellite data.
func (g *GPS) Position() device.GPSPosition {
	var pos device.GPSPosition
	pos.Latitude, _ = g.number(propGeographic, "LAT")
	pos.Longitude, _ = g.number(propGeographic, "LONG")
	pos.Elevation, _ = g.number(propGeographic, "ELEV")
	if hdop, ok := g.number(propGPSSatellites, "HDOP"); ok {
		pos.Accuracy = hdop * 5
	}
	return pos
}

// Time reads TIME_UTC; OFFSET is in hours.
func (g *GPS) Time() device.GPSTime {
	utc, _ := g.text(propTimeUTC, "UTC")
	offText, _ := g.text(propTimeUTC, "OFFSET")
	offset, _ := strconv.ParseFloat(strings.TrimSpace(offText), 64)
	t, err := time.Parse(indiclient.TimestampLayout, strings.TrimSpace(utc))
	if err != nil {
		return device.GPSTime{UTCOffset: offset}
	}
	return device.NewGPSTime(t, offset)
}

func (g *GPS) Satellites() device.SatelliteInfo {
	var s device.SatelliteInfo
	p, ok := g.prop(propGPSSatellites)
	if !ok {
		return s
	}
	inView, _ := p.Number("SATS_VISIBLE")
	used, _ := p.Number("SATS_USED")
	s.InView, s.Used = int(inView), int(used)
	s.HDOP, _ = p.Number("HDOP")
	s.VDOP, _ = p.Number("VDOP")
	s.PDOP, _ = p.Number("PDOP")
	return s
}

// Fix reads GPS_STATUS. Drivers without it report FixUnknown.
func (g *GPS) Fix() device.FixType {
	p, ok := g.prop(propGPSStatus)
	if !ok {
		return device.FixUnknown
	}
	on, _ := p.OnSwitch()
	if f, found := fixSwitches[on]; found {
		return f
	}
	return device.FixUnknown
}

func (g *GPS) HasFix() bool {
	return g.Fix().HasFix()
}

func (g *GPS) WaitForFix(timeout time.Duration) bool {
	ok, _ := device.Poll(timeout, g.fixed.Wait, func() (bool, error) {
		return g.HasFix(), nil
	})
	return ok
}

// Refresh asks the receiver for a new reading.
func (g *GPS) Refresh() error {
	if err := g.RequireConnected(); err != nil {
		return g.Fail(propGPSRefresh, err)
	}
	if !g.has(propGPSRefresh) {
		return g.Base.Refresh()
	}
	if err := g.setSwitch(propGPSRefresh, map[string]bool{"REFRESH": true}); err != nil {
		return err
	}
	return g.settle(propGPSRefresh)
}
