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

const ccdName = "CCD Simulator"

func cameraProperties() []*indiclient.Property {
	return []*indiclient.Property{
		connection(ccdName),
		numbers(ccdName, "CCD_EXPOSURE", indiclient.Element{Name: "CCD_EXPOSURE_VALUE", Min: 0, Max: 3600}),
		switches(ccdName, "CCD_ABORT_EXPOSURE", indiclient.AtMostOne, "", "ABORT"),
		numbers(ccdName, "CCD_INFO",
			indiclient.Element{Name: "CCD_MAX_X", Number: 1280},
			indiclient.Element{Name: "CCD_MAX_Y", Number: 1024},
			indiclient.Element{Name: "CCD_PIXEL_SIZE_X", Number: 5.2},
			indiclient.Element{Name: "CCD_PIXEL_SIZE_Y", Number: 5.2},
			indiclient.Element{Name: "CCD_BITSPERPIXEL", Number: 16},
		),
		numbers(ccdName, "CCD_BINNING",
			indiclient.Element{Name: "HOR_BIN", Number: 1, Min: 1, Max: 4},
			indiclient.Element{Name: "VER_BIN", Number: 1, Min: 1, Max: 4},
		),
		numbers(ccdName, "CCD_FRAME",
			indiclient.Element{Name: "X"}, indiclient.Element{Name: "Y"},
			indiclient.Element{Name: "WIDTH", Number: 1280}, indiclient.Element{Name: "HEIGHT", Number: 1024},
		),
		switches(ccdName, "CCD_FRAME_TYPE", indiclient.OneOfMany, "FRAME_LIGHT", "FRAME_LIGHT", "FRAME_BIAS", "FRAME_DARK", "FRAME_FLAT"),
		numbers(ccdName, "CCD_TEMPERATURE", indiclient.Element{Name: "CCD_TEMPERATURE_VALUE", Number: 20, Min: -50, Max: 50}),
		switches(ccdName, "CCD_COOLER", indiclient.OneOfMany, "COOLER_OFF", "COOLER_ON", "COOLER_OFF"),
		numbers(ccdName, "CCD_GAIN", indiclient.Element{Name: "GAIN", Number: 100, Min: 0, Max: 300}),
		{Device: ccdName, Name: "CCD1", Type: indiclient.BLOBType, State: device.PropertyIdle, Permission: indiclient.ReadOnly,
			Elements: []indiclient.Element{{Name: "CCD1"}}},
	}
}

func newCamera(t *testing.T) (*inditest.Server, *indi.Camera) {
	t.Helper()
	srv, c := newSession(t, cameraProperties()...)
	cam := indi.NewCamera(c, ccdName, nil)
	t.Cleanup(cam.Close)
	require.NoError(t, cam.Connect(testTimeout))
	return srv, cam
}

func TestCameraEnablesBLOBsOnConnect(t *testing.T) {
	srv, _ := newCamera(t)
	eventually(t, func() bool {
		for _, m := range srv.Control() {
			if m.Tag == "enableBLOB" && m.Device == ccdName && m.Text == "Also" {
				return true
			}
		}
		return false
	}, "enableBLOB Also sent")
}

func TestCameraExposureEndsWhenExposureReturnsToOk(t *testing.T) {
	srv, cam := newCamera(t)
	srv.OnNew(busyOn("CCD_EXPOSURE"))

	require.NoError(t, cam.StartExposure(1.5, true))
	assert.True(t, cam.IsExposing())
	assert.Equal(t, device.CameraExposing, cam.CameraState())
	require.True(t, srv.WaitForReceived(ccdName, "CCD_EXPOSURE", 1, testTimeout))
	sent := srv.ReceivedFor(ccdName, "CCD_EXPOSURE")[0]
	v, _ := sent.Number("CCD_EXPOSURE_VALUE")
	assert.Equal(t, 1.5, v)

	woke := make(chan bool, 1)
	go func() { woke <- cam.WaitForExposure(testTimeout) }()

	srv.SetNumber(ccdName, "CCD_EXPOSURE", device.PropertyBusy, map[string]float64{"CCD_EXPOSURE_VALUE": 0.5})
	eventually(t, func() bool { return cam.Status().PercentCompleted > 0 }, "progress reported")

	srv.SetNumber(ccdName, "CCD_EXPOSURE", device.PropertyOk, map[string]float64{"CCD_EXPOSURE_VALUE": 0})
	select {
	case ok := <-woke:
		assert.True(t, ok)
	case <-time.After(testTimeout):
		t.Fatal("WaitForExposure did not wake")
	}
	assert.Equal(t, device.CameraIdle, cam.CameraState())
	assert.False(t, cam.IsExposing())
	assert.Equal(t, 100, cam.Status().PercentCompleted)
}

func TestCameraImageFromBLOB(t *testing.T) {
	srv, cam := newCamera(t)
	srv.OnNew(busyOn("CCD_EXPOSURE"))
	var rec recorder
	cam.SetEventCallback(rec.record)

	_, err := cam.ImageArray()
	assert.True(t, errors.Is(err, device.ErrValueNotSet))

	require.NoError(t, cam.StartExposure(0.1, true))
	srv.SendBLOB(ccdName, "CCD1", "CCD1", ".fits", fitsImage(2, 2, []uint16{1, 2, 3, 4}))
	require.True(t, cam.WaitForExposure(testTimeout))

	pixels, err := cam.ImageArray()
	require.NoError(t, err)
	assert.Equal(t, []int32{1, 2, 3, 4}, pixels)
	rows, err := cam.ImageArray2D()
	require.NoError(t, err)
	assert.Equal(t, [][]int32{{1, 2}, {3, 4}}, rows)
	assert.Len(t, rec.ofType(device.EventBlobReceived), 1)

	raw, format := cam.LastBLOB()
	assert.Equal(t, ".fits", format)
	assert.NotEmpty(t, raw)
}

func TestCameraExposureFailure(t *testing.T) {
	srv, cam := newCamera(t)
	srv.OnNew(busyOn("CCD_EXPOSURE"))

	require.NoError(t, cam.StartExposure(1, true))
	srv.SetState(ccdName, "CCD_EXPOSURE", device.PropertyAlert)
	assert.False(t, cam.WaitForExposure(testTimeout))
	assert.Equal(t, device.CameraError, cam.CameraState())

	// Abort clears the error.
	require.NoError(t, cam.AbortExposure())
	assert.Equal(t, device.CameraIdle, cam.CameraState())
}

func TestCameraReconnectClearsError(t *testing.T) {
	srv, cam := newCamera(t)
	srv.OnNew(busyOn("CCD_EXPOSURE"))

	require.NoError(t, cam.StartExposure(1, true))
	srv.SetState(ccdName, "CCD_EXPOSURE", device.PropertyAlert)
	assert.False(t, cam.WaitForExposure(testTimeout))
	require.Equal(t, device.CameraError, cam.CameraState())

	require.NoError(t, cam.Disconnect())
	assert.Equal(t, device.CameraError, cam.CameraState())
	require.NoError(t, cam.Connect(testTimeout))
	assert.Equal(t, device.CameraIdle, cam.CameraState())
	assert.False(t, cam.IsExposing())
	assert.False(t, cam.Status().ImageReady)

	// A fresh exposure runs normally. The driver finishes it at once.
	srv.OnNew(func(s *inditest.Server, p *indiclient.Property) {
		p.State = device.PropertyOk
		if p.Name == "CCD_EXPOSURE" {
			p.Elements = []indiclient.Element{{Name: "CCD_EXPOSURE_VALUE"}}
		}
		s.Update(p)
	})
	require.NoError(t, cam.StartExposure(0.5, true))
	assert.True(t, cam.WaitForExposure(testTimeout))
	assert.Equal(t, device.CameraIdle, cam.CameraState())
}

func TestCameraStartExposureGating(t *testing.T) {
	srv, cam := newCamera(t)
	srv.OnNew(busyOn("CCD_EXPOSURE"))

	assert.True(t, errors.Is(cam.StartExposure(-1, true), device.ErrInvalidValue))
	assert.True(t, errors.Is(cam.StartExposure(7200, true), device.ErrInvalidValue))
	require.NoError(t, cam.StartExposure(2, false))
	assert.True(t, errors.Is(cam.StartExposure(2, true), device.ErrInvalidOperation))
	require.True(t, srv.WaitForReceived(ccdName, "CCD_EXPOSURE", 1, testTimeout))
	assert.Len(t, srv.ReceivedFor(ccdName, "CCD_EXPOSURE"), 1)

	// A dark frame was requested.
	ft := srv.ReceivedFor(ccdName, "CCD_FRAME_TYPE")
	require.Len(t, ft, 1)
	assert.True(t, ft[0].Switch("FRAME_DARK"))

	require.NoError(t, cam.AbortExposure())
	require.True(t, srv.WaitForReceived(ccdName, "CCD_ABORT_EXPOSURE", 1, testTimeout))
	assert.False(t, cam.IsExposing())
	// Aborting an idle camera sends nothing.
	require.NoError(t, cam.AbortExposure())
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, srv.ReceivedFor(ccdName, "CCD_ABORT_EXPOSURE"), 1)
}

func TestCameraSensorAndFrame(t *testing.T) {
	srv, cam := newCamera(t)

	s := cam.SensorInfo()
	assert.Equal(t, 1280, s.CameraXSize)
	assert.Equal(t, 1024, s.CameraYSize)
	assert.Equal(t, 5.2, s.PixelSizeX)
	assert.Equal(t, 65535, s.MaxADU)
	assert.Equal(t, 4, s.MaxBinX)

	require.NoError(t, cam.SetBinning(2, 2))
	require.True(t, cam.Client().WaitForPropertyState(ccdName, "CCD_BINNING", device.PropertyOk, testTimeout))
	assert.True(t, errors.Is(cam.SetBinning(8, 8), device.ErrInvalidValue))
	assert.True(t, errors.Is(cam.SetBinning(0, 1), device.ErrInvalidValue))

	// Subframes are given in binned pixels and sent unbinned.
	require.NoError(t, cam.SetSubframe(10, 20, 100, 50))
	require.True(t, srv.WaitForReceived(ccdName, "CCD_FRAME", 1, testTimeout))
	sent := srv.ReceivedFor(ccdName, "CCD_FRAME")[0]
	x, _ := sent.Number("X")
	w, _ := sent.Number("WIDTH")
	assert.Equal(t, 20.0, x)
	assert.Equal(t, 200.0, w)
	require.True(t, cam.Client().WaitForPropertyState(ccdName, "CCD_FRAME", device.PropertyOk, testTimeout))
	assert.Equal(t, device.Frame{StartX: 10, StartY: 20, NumX: 100, NumY: 50, BinX: 2, BinY: 2}, cam.Frame())

	assert.True(t, errors.Is(cam.SetSubframe(600, 0, 100, 10), device.ErrInvalidValue))
}

func TestCameraCoolerAndGain(t *testing.T) {
	srv, cam := newCamera(t)

	caps := cam.Capabilities()
	assert.True(t, caps.HasCooler)
	assert.True(t, caps.CanSetCCDTemperature)
	assert.True(t, caps.HasGain)
	assert.False(t, caps.HasOffset)
	assert.False(t, caps.CanGetCoolerPower)

	require.NoError(t, cam.SetCoolerOn(true))
	require.NoError(t, cam.SetTargetTemperature(-10))
	require.NoError(t, cam.SetGain(200))
	assert.True(t, errors.Is(cam.SetGain(500), device.ErrInvalidValue))
	assert.True(t, errors.Is(cam.SetOffset(10), device.ErrInvalidOperation))
	assert.True(t, errors.Is(cam.PulseGuide(device.GuideNorth, time.Second), device.ErrInvalidOperation))

	require.True(t, srv.WaitForReceived(ccdName, "CCD_GAIN", 1, testTimeout))
	require.True(t, cam.Client().WaitForPropertyState(ccdName, "CCD_GAIN", device.PropertyOk, testTimeout))
	assert.Equal(t, 200, cam.GainOffset().Gain)
	eventually(t, func() bool { return cam.CoolerInfo().On }, "cooler on")
	temp := srv.ReceivedFor(ccdName, "CCD_TEMPERATURE")
	require.Len(t, temp, 1)
	v, _ := temp[0].Number("CCD_TEMPERATURE_VALUE")
	assert.Equal(t, -10.0, v)
}
