package indi_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrobridge/pkg/device"
	"astrobridge/pkg/indi"
	"astrobridge/pkg/indiclient"
	"astrobridge/pkg/indiclient/inditest"
)

const mountName = "Telescope Simulator"

func newTelescope(t *testing.T) (*inditest.Server, *indi.Telescope) {
	t.Helper()
	srv, c := newSession(t,
		connection(mountName),
		numbers(mountName, "EQUATORIAL_EOD_COORD", indiclient.Element{Name: "RA", Number: 2}, indiclient.Element{Name: "DEC", Number: 89}),
		switches(mountName, "ON_COORD_SET", indiclient.OneOfMany, "TRACK", "TRACK", "SLEW", "SYNC"),
		switches(mountName, "TELESCOPE_ABORT_MOTION", indiclient.AtMostOne, "", "ABORT"),
		switches(mountName, "TELESCOPE_TRACK_STATE", indiclient.OneOfMany, "TRACK_OFF", "TRACK_ON", "TRACK_OFF"),
		switches(mountName, "TELESCOPE_TRACK_MODE", indiclient.OneOfMany, "TRACK_SIDEREAL", "TRACK_SIDEREAL", "TRACK_SOLAR", "TRACK_LUNAR", "TRACK_CUSTOM"),
		numbers(mountName, "TELESCOPE_TRACK_RATE", indiclient.Element{Name: "TRACK_RATE_RA", Number: 15.041067}, indiclient.Element{Name: "TRACK_RATE_DE"}),
		switches(mountName, "TELESCOPE_PARK", indiclient.OneOfMany, "UNPARK", "PARK", "UNPARK"),
		switches(mountName, "TELESCOPE_PARK_OPTION", indiclient.AtMostOne, "", "PARK_CURRENT", "PARK_DEFAULT", "PARK_WRITE_DATA"),
		switches(mountName, "TELESCOPE_PIER_SIDE", indiclient.AtMostOne, "PIER_WEST", "PIER_WEST", "PIER_EAST"),
		switches(mountName, "TELESCOPE_MOTION_NS", indiclient.AtMostOne, "", "MOTION_NORTH", "MOTION_SOUTH"),
		switches(mountName, "TELESCOPE_MOTION_WE", indiclient.AtMostOne, "", "MOTION_WEST", "MOTION_EAST"),
		numbers(mountName, "TELESCOPE_TIMED_GUIDE_NS", indiclient.Element{Name: "TIMED_GUIDE_N"}, indiclient.Element{Name: "TIMED_GUIDE_S"}),
		numbers(mountName, "TELESCOPE_TIMED_GUIDE_WE", indiclient.Element{Name: "TIMED_GUIDE_W"}, indiclient.Element{Name: "TIMED_GUIDE_E"}),
		numbers(mountName, "GUIDE_RATE", indiclient.Element{Name: "GUIDE_RATE_WE", Number: 0.5}, indiclient.Element{Name: "GUIDE_RATE_NS", Number: 0.5}),
		numbers(mountName, "GEOGRAPHIC_COORD", indiclient.Element{Name: "LAT", Number: 51.5}, indiclient.Element{Name: "LONG", Number: 359.9}, indiclient.Element{Name: "ELEV", Number: 20}),
	)
	// The pier side is reported, not commanded.
	p, _ := srv.Property(mountName, "TELESCOPE_PIER_SIDE")
	p.Permission = indiclient.ReadOnly
	srv.Define(p)
	require.Eventually(t, func() bool {
		q, ok := c.GetProperty(mountName, "TELESCOPE_PIER_SIDE")
		return ok && !q.IsWritable()
	}, testTimeout, 10*time.Millisecond)

	tel := indi.NewTelescope(c, mountName, nil)
	t.Cleanup(tel.Close)
	require.NoError(t, tel.Connect(testTimeout))
	return srv, tel
}

func TestTelescopeSlewRefusedWhileParked(t *testing.T) {
	srv, tel := newTelescope(t)
	srv.OnNew(busyOn("EQUATORIAL_EOD_COORD"))

	require.NoError(t, tel.Park())
	assert.True(t, tel.IsParked())
	assert.Equal(t, device.TelescopeParked, tel.TelescopeState())

	err := tel.SlewToCoordinates(12.5, 45)
	assert.True(t, errors.Is(err, device.ErrInvalidWhileParked))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, srv.ReceivedFor(mountName, "EQUATORIAL_EOD_COORD"))

	require.NoError(t, tel.Unpark())
	assert.Equal(t, device.TelescopeIdle, tel.TelescopeState())
	require.NoError(t, tel.SlewToCoordinates(12.5, 45))
	assert.Equal(t, device.TelescopeSlewing, tel.TelescopeState())
	assert.True(t, tel.IsSlewing())

	require.True(t, srv.WaitForReceived(mountName, "EQUATORIAL_EOD_COORD", 1, testTimeout))
	sent := srv.ReceivedFor(mountName, "EQUATORIAL_EOD_COORD")[0]
	ra, _ := sent.Number("RA")
	dec, _ := sent.Number("DEC")
	assert.Equal(t, 12.5, ra)
	assert.Equal(t, 45.0, dec)
	assert.Equal(t, device.EquatorialCoordinates{RA: 12.5, Dec: 45}, tel.Status().TargetRADec)
}

func TestTelescopeSlewKeepsTrackingChoice(t *testing.T) {
	tests := []struct {
		name     string
		tracking bool
		onSet    string
		final    device.TelescopeState
	}{
		{"tracking off", false, "SLEW", device.TelescopeIdle},
		{"tracking on", true, "TRACK", device.TelescopeTracking},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, tel := newTelescope(t)
			if tt.tracking {
				require.NoError(t, tel.SetTracking(true))
				eventually(t, tel.IsTracking, "tracking on")
			}
			srv.OnNew(busyOn("EQUATORIAL_EOD_COORD"))

			require.NoError(t, tel.SlewToCoordinatesAsync(6, 20))
			require.True(t, srv.WaitForReceived(mountName, "EQUATORIAL_EOD_COORD", 1, testTimeout))
			set := srv.ReceivedFor(mountName, "ON_COORD_SET")
			require.Len(t, set, 1)
			on, _ := set[0].OnSwitch()
			assert.Equal(t, tt.onSet, on)

			srv.SetNumber(mountName, "EQUATORIAL_EOD_COORD", device.PropertyOk, map[string]float64{"RA": 6, "DEC": 20})
			assert.True(t, tel.WaitForSlew(testTimeout))
			assert.Equal(t, tt.tracking, tel.IsTracking())
			assert.Equal(t, tt.final, tel.TelescopeState())
		})
	}
}

func TestTelescopeSlewCompletes(t *testing.T) {
	srv, tel := newTelescope(t)
	srv.OnNew(busyOn("EQUATORIAL_EOD_COORD"))
	require.NoError(t, tel.SetTracking(true))
	eventually(t, tel.IsTracking, "tracking on")

	require.NoError(t, tel.SlewToCoordinatesAsync(6, -20))
	require.True(t, srv.WaitForReceived(mountName, "EQUATORIAL_EOD_COORD", 1, testTimeout))
	assert.False(t, tel.WaitForSlew(100*time.Millisecond))

	srv.SetNumber(mountName, "EQUATORIAL_EOD_COORD", device.PropertyOk, map[string]float64{"RA": 6, "DEC": -20})
	assert.True(t, tel.WaitForSlew(testTimeout))
	assert.Equal(t, device.TelescopeTracking, tel.TelescopeState())
	assert.Equal(t, device.EquatorialCoordinates{RA: 6, Dec: -20}, tel.Coordinates())
}

func TestTelescopeRejectsBadCoordinates(t *testing.T) {
	srv, tel := newTelescope(t)
	for _, c := range []device.EquatorialCoordinates{{RA: 24, Dec: 0}, {RA: -1, Dec: 0}, {RA: 1, Dec: 91}} {
		assert.True(t, errors.Is(tel.SlewToCoordinates(c.RA, c.Dec), device.ErrInvalidValue), c.String())
	}
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, srv.ReceivedFor(mountName, "EQUATORIAL_EOD_COORD"))
}

func TestTelescopeCapabilitiesFollowProperties(t *testing.T) {
	_, tel := newTelescope(t)
	caps := tel.Capabilities()
	assert.True(t, caps.CanSlew)
	assert.True(t, caps.CanSync)
	assert.True(t, caps.CanPark)
	assert.True(t, caps.CanSetPark)
	assert.True(t, caps.CanPulseGuide)
	assert.True(t, caps.CanMoveAxis)
	assert.True(t, caps.CanSetRightAscensionRate)
	assert.False(t, caps.CanSlewAltAz)
	assert.False(t, caps.CanFindHome)
	assert.False(t, caps.CanSetPierSide)

	assert.True(t, errors.Is(tel.SlewToAltAz(10, 10), device.ErrInvalidOperation))
	assert.True(t, errors.Is(tel.FindHome(), device.ErrInvalidOperation))
	assert.True(t, errors.Is(tel.SetPierSide(device.PierEast), device.ErrInvalidOperation))

	st := tel.Status()
	assert.Equal(t, device.PierWest, st.PierSide)
	assert.Equal(t, 51.5, st.SiteLatitude)
	assert.Equal(t, 0.5, st.GuideRateRA)
}

func TestTelescopeMotionAndRates(t *testing.T) {
	srv, tel := newTelescope(t)

	require.NoError(t, tel.SetTrackingRate(device.RateLunar))
	assert.True(t, errors.Is(tel.SetTrackingRate(device.RateKing), device.ErrInvalidValue))
	require.NoError(t, tel.SetRightAscensionRate(15))
	require.NoError(t, tel.SetGuideRates(0.3, 0.4))
	assert.True(t, errors.Is(tel.SetGuideRates(-1, 0.4), device.ErrInvalidValue))

	require.NoError(t, tel.MoveAxis(device.AxisSecondary, -1))
	require.True(t, srv.WaitForReceived(mountName, "TELESCOPE_MOTION_NS", 1, testTimeout))
	ns := srv.ReceivedFor(mountName, "TELESCOPE_MOTION_NS")[0]
	assert.True(t, ns.Switch("MOTION_SOUTH"))
	assert.False(t, ns.Switch("MOTION_NORTH"))
	assert.True(t, errors.Is(tel.MoveAxis(device.AxisTertiary, 1), device.ErrInvalidValue))

	require.NoError(t, tel.PulseGuide(device.GuideEast, 250*time.Millisecond))
	require.True(t, srv.WaitForReceived(mountName, "TELESCOPE_TIMED_GUIDE_WE", 1, testTimeout))
	we := srv.ReceivedFor(mountName, "TELESCOPE_TIMED_GUIDE_WE")[0]
	e, _ := we.Number("TIMED_GUIDE_E")
	assert.Equal(t, 250.0, e)

	require.True(t, srv.WaitForReceived(mountName, "TELESCOPE_TRACK_MODE", 2, testTimeout))
	modes := srv.ReceivedFor(mountName, "TELESCOPE_TRACK_MODE")
	assert.True(t, modes[0].Switch("TRACK_LUNAR"))
	assert.True(t, modes[1].Switch("TRACK_CUSTOM"))
}

func TestTelescopeAbortIsIdempotent(t *testing.T) {
	srv, tel := newTelescope(t)
	require.NoError(t, tel.AbortSlew())
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, srv.ReceivedFor(mountName, "TELESCOPE_ABORT_MOTION"))

	srv.OnNew(busyOn("EQUATORIAL_EOD_COORD"))
	require.NoError(t, tel.SlewToCoordinates(3, 3))
	require.NoError(t, tel.AbortSlew())
	assert.True(t, srv.WaitForReceived(mountName, "TELESCOPE_ABORT_MOTION", 1, testTimeout))
}
