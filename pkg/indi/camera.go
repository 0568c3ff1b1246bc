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
	propExposure      = "CCD_EXPOSURE"
	propAbortExposure = "CCD_ABORT_EXPOSURE"
	propFrame         = "CCD_FRAME"
	propBinning       = "CCD_BINNING"
	propCCDInfo       = "CCD_INFO"
	propFrameType     = "CCD_FRAME_TYPE"
	propTemperature   = "CCD_TEMPERATURE"
	propCooler        = "CCD_COOLER"
	propCoolerPower   = "CCD_COOLER_POWER"
	propGain          = "CCD_GAIN"
	propOffset        = "CCD_OFFSET"
	propImage         = "CCD1"
	propGuideNS       = "TELESCOPE_TIMED_GUIDE_NS"
	propGuideWE       = "TELESCOPE_TIMED_GUIDE_WE"
)

var frameTypeSwitches = map[device.FrameType]string{
	device.FrameLight: "FRAME_LIGHT",
	device.FrameDark:  "FRAME_DARK",
	device.FrameBias:  "FRAME_BIAS",
	device.FrameFlat:  "FRAME_FLAT",
}

// Camera is an INDI CCD. The exposure completes when CCD_EXPOSURE returns
// to Ok with no time left or when the CCD1 BLOB arrives.
type Camera struct {
	*Base

	done device.Signal

	mu         sync.RWMutex
	exposing   bool
	failed     bool
	imageReady bool
	duration   float64
	remaining  float64
	frameType  device.FrameType
	blob       []byte
	blobFormat string
	image      *device.Image
}

var _ device.Camera = (*Camera)(nil)

func NewCamera(client *indiclient.Client, name string, logger log.FieldLogger) *Camera {
	c := &Camera{Base: newBase(client, device.KindCamera, name, logger)}
	c.hooks(c.update, c.connected)
	return c
}

// connected starts the camera over from Idle and asks for image BLOBs.
func (c *Camera) connected() error {
	c.mu.Lock()
	c.exposing, c.failed, c.imageReady = false, false, false
	c.remaining = 0
	c.mu.Unlock()
	return c.client.EnableBLOB(c.Name(), "", indiclient.BLOBAlso)
}

func (c *Camera) update(p *indiclient.Property) {
	switch {
	case p.Name == propExposure:
		c.mu.Lock()
		left, _ := p.Number("CCD_EXPOSURE_VALUE")
		if c.exposing {
			c.remaining = left
		}
		switch p.State {
		case device.PropertyAlert:
			if c.exposing {
				c.exposing, c.failed = false, true
			}
		case device.PropertyOk:
			if c.exposing && left <= 0 {
				c.exposing, c.imageReady = false, true
			}
		case device.PropertyIdle:
			c.exposing = false
		}
		c.mu.Unlock()
	case p.Type == indiclient.BLOBType:
		e, ok := p.Element(propImage)
		if !ok || len(e.BLOB) == 0 {
			return
		}
		c.mu.Lock()
		c.blob, c.blobFormat, c.image = e.BLOB, e.BLOBFormat, nil
		c.exposing, c.imageReady = false, true
		c.mu.Unlock()
	default:
		return
	}
	c.done.Broadcast()
}

func (c *Camera) CameraState() device.CameraState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch {
	case c.failed:
		return device.CameraError
	case c.exposing && c.remaining <= 0:
		return device.CameraDownload
	case c.exposing:
		return device.CameraExposing
	}
	return device.CameraIdle
}

// Capabilities are derived from the properties the driver defines.
func (c *Camera) Capabilities() device.CameraCapabilities {
	return device.CameraCapabilities{
		CanAbortExposure:     c.has(propAbortExposure),
		CanAsymmetricBin:     c.has(propBinning),
		CanGetCoolerPower:    c.has(propCoolerPower),
		CanPulseGuide:        c.has(propGuideNS) && c.has(propGuideWE),
		CanSetCCDTemperature: c.writable(propTemperature),
		CanStopExposure:      c.has(propAbortExposure),
		HasShutter:           c.has(propFrameType),
		HasCooler:            c.has(propCooler),
		HasGain:              c.has(propGain),
		HasOffset:            c.has(propOffset),
	}
}

func (c *Camera) SensorInfo() device.SensorInfo {
	var s device.SensorInfo
	p, ok := c.prop(propCCDInfo)
	if !ok {
		return s
	}
	x, _ := p.Number("CCD_MAX_X")
	y, _ := p.Number("CCD_MAX_Y")
	s.CameraXSize, s.CameraYSize = int(x), int(y)
	s.PixelSizeX, _ = p.Number("CCD_PIXEL_SIZE_X")
	s.PixelSizeY, _ = p.Number("CCD_PIXEL_SIZE_Y")
	if bits, ok := p.Number("CCD_BITSPERPIXEL"); ok {
		s.BitDepth = int(bits)
		s.MaxADU = 1<<s.BitDepth - 1
	}
	if _, hi, ok := c.numberRange(propBinning, "HOR_BIN"); ok {
		s.MaxBinX = int(hi)
	}
	if _, hi, ok := c.numberRange(propBinning, "VER_BIN"); ok {
		s.MaxBinY = int(hi)
	}
	return s
}

// Frame converts CCD_FRAME, which is in unbinned pixels, to binned pixels.
func (c *Camera) Frame() device.Frame {
	f := device.Frame{BinX: 1, BinY: 1}
	if v, ok := c.number(propBinning, "HOR_BIN"); ok && v >= 1 {
		f.BinX = int(v)
	}
	if v, ok := c.number(propBinning, "VER_BIN"); ok && v >= 1 {
		f.BinY = int(v)
	}
	if p, ok := c.prop(propFrame); ok {
		x, _ := p.Number("X")
		y, _ := p.Number("Y")
		w, _ := p.Number("WIDTH")
		h, _ := p.Number("HEIGHT")
		f.StartX, f.StartY = int(x)/f.BinX, int(y)/f.BinY
		f.NumX, f.NumY = int(w)/f.BinX, int(h)/f.BinY
	}
	return f
}

func (c *Camera) Status() device.CameraStatus {
	st := device.CameraStatus{
		State:        c.CameraState(),
		Sensor:       c.SensorInfo(),
		Cooler:       c.CoolerInfo(),
		GainOffset:   c.GainOffset(),
		Frame:        c.Frame(),
		PulseGuiding: c.IsPulseGuiding(),
	}
	st.Exposing = st.State.Exposing()
	c.mu.RLock()
	st.ImageReady = c.imageReady
	st.LastExposureDuration = c.duration
	st.FrameType = c.frameType
	st.PercentCompleted = c.percentLocked()
	c.mu.RUnlock()
	return st
}

func (c *Camera) percentLocked() int {
	switch {
	case c.imageReady && !c.exposing:
		return 100
	case !c.exposing || c.duration <= 0:
		return 0
	}
	pct := 100 * (1 - c.remaining/c.duration)
	return int(math.Max(0, math.Min(100, pct)))
}

func (c *Camera) StartExposure(duration float64, light bool) error {
	if err := c.RequireConnected(); err != nil {
		return c.Fail(propExposure, err)
	}
	if duration < 0 {
		return c.invalid(propExposure, "exposure duration %g must not be negative", duration)
	}
	if lo, hi, ok := c.numberRange(propExposure, "CCD_EXPOSURE_VALUE"); ok && hi > lo && (duration < lo || duration > hi) {
		return c.invalid(propExposure, "exposure duration %g outside %g..%g", duration, lo, hi)
	}
	if c.IsExposing() {
		return c.Fail(propExposure, device.Errorf(device.ErrInvalidOperation, "an exposure is already in progress"))
	}

	c.mu.RLock()
	ft := c.frameType
	c.mu.RUnlock()
	if !light && ft == device.FrameLight {
		ft = device.FrameDark
	}
	if c.has(propFrameType) {
		if err := c.setSwitch(propFrameType, map[string]bool{frameTypeSwitches[ft]: true}); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.exposing, c.failed, c.imageReady = true, false, false
	c.duration, c.remaining = duration, duration
	c.mu.Unlock()
	if err := c.setNumber(propExposure, map[string]float64{"CCD_EXPOSURE_VALUE": duration}); err != nil {
		c.mu.Lock()
		c.exposing, c.failed = false, true
		c.mu.Unlock()
		return err
	}
	c.Emit(device.EventPropertyChanged, propExposure, "exposure started", duration)
	return nil
}

func (c *Camera) AbortExposure() error {
	return c.endExposure("abortexposure")
}

// StopExposure ends the exposure the same way as AbortExposure; INDI has no
// graceful stop.
func (c *Camera) StopExposure() error {
	return c.endExposure("stopexposure")
}

func (c *Camera) endExposure(what string) error {
	if err := c.guard(c.has(propAbortExposure), what); err != nil {
		return err
	}
	c.mu.RLock()
	active := c.exposing || c.failed
	c.mu.RUnlock()
	if !active {
		return nil
	}
	if err := c.setSwitch(propAbortExposure, map[string]bool{"ABORT": true}); err != nil {
		return err
	}
	c.mu.Lock()
	c.exposing, c.failed = false, false
	c.mu.Unlock()
	c.done.Broadcast()
	return nil
}

func (c *Camera) IsExposing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exposing
}

// WaitForExposure blocks until the exposure completes, fails or the timeout
// passes.
func (c *Camera) WaitForExposure(timeout time.Duration) bool {
	ok, _ := device.Poll(timeout, c.done.Wait, func() (bool, error) {
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.failed {
			return false, device.ErrUnspecified
		}
		return c.imageReady && !c.exposing, nil
	})
	if ok {
		c.Emit(device.EventPropertyChanged, "imageready", "exposure complete", true)
	}
	return ok
}

func (c *Camera) ImageArray() ([]int32, error) {
	img, err := c.decodeImage()
	if err != nil {
		return nil, err
	}
	return img.Pixels, nil
}

func (c *Camera) ImageArray2D() ([][]int32, error) {
	img, err := c.decodeImage()
	if err != nil {
		return nil, err
	}
	return img.Rows(), nil
}

// LastBLOB returns the raw payload of the last image and its format.
func (c *Camera) LastBLOB() ([]byte, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blob, c.blobFormat
}

func (c *Camera) decodeImage() (device.Image, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.image != nil {
		return *c.image, nil
	}
	if len(c.blob) == 0 {
		return device.Image{}, c.Fail(propImage, device.Errorf(device.ErrValueNotSet, "no image has been received"))
	}
	if c.blobFormat != ".fits" && c.blobFormat != ".fit" {
		return device.Image{}, c.Fail(propImage, device.Errorf(device.ErrNotImplemented, "cannot decode %s images", c.blobFormat))
	}
	img, err := DecodeFITS(c.blob)
	if err != nil {
		return device.Image{}, c.Fail(propImage, err)
	}
	c.image = &img
	return img, nil
}

func (c *Camera) SetBinning(binX, binY int) error {
	if err := c.guard(c.has(propBinning), "binning"); err != nil {
		return err
	}
	if binX < 1 || binY < 1 {
		return c.invalid(propBinning, "binning %dx%d must be at least 1", binX, binY)
	}
	if _, hi, ok := c.numberRange(propBinning, "HOR_BIN"); ok && hi >= 1 && float64(binX) > hi {
		return c.invalid(propBinning, "horizontal binning %d exceeds %g", binX, hi)
	}
	if _, hi, ok := c.numberRange(propBinning, "VER_BIN"); ok && hi >= 1 && float64(binY) > hi {
		return c.invalid(propBinning, "vertical binning %d exceeds %g", binY, hi)
	}
	return c.setNumber(propBinning, map[string]float64{"HOR_BIN": float64(binX), "VER_BIN": float64(binY)})
}

// SetSubframe takes the region in binned pixels.
func (c *Camera) SetSubframe(startX, startY, numX, numY int) error {
	if err := c.guard(c.has(propFrame), "subframe"); err != nil {
		return err
	}
	f := c.Frame()
	if err := f.ValidateSubframe(c.SensorInfo(), startX, startY, numX, numY); err != nil {
		return c.Fail(propFrame, err)
	}
	return c.setNumber(propFrame, map[string]float64{
		"X":      float64(startX * f.BinX),
		"Y":      float64(startY * f.BinY),
		"WIDTH":  float64(numX * f.BinX),
		"HEIGHT": float64(numY * f.BinY),
	})
}

// SetFrameType takes effect at the next exposure.
func (c *Camera) SetFrameType(t device.FrameType) error {
	if _, ok := frameTypeSwitches[t]; !ok {
		return c.invalid(propFrameType, "unknown frame type %d", int(t))
	}
	c.mu.Lock()
	c.frameType = t
	c.mu.Unlock()
	return nil
}

func (c *Camera) CoolerInfo() device.CoolerInfo {
	var ci device.CoolerInfo
	ci.On = c.switchOn(propCooler, "COOLER_ON")
	ci.Temperature, _ = c.number(propTemperature, "CCD_TEMPERATURE_VALUE")
	ci.Power, _ = c.number(propCoolerPower, "CCD_COOLER_VALUE")
	ci.TargetTemperature = ci.Temperature
	return ci
}

func (c *Camera) SetTargetTemperature(celsius float64) error {
	if err := c.guard(c.writable(propTemperature), "setccdtemperature"); err != nil {
		return err
	}
	if celsius < -273.15 || celsius > 100 {
		return c.invalid(propTemperature, "target temperature %g out of range", celsius)
	}
	return c.setNumber(propTemperature, map[string]float64{"CCD_TEMPERATURE_VALUE": celsius})
}

func (c *Camera) SetCoolerOn(on bool) error {
	if err := c.guard(c.has(propCooler), "cooleron"); err != nil {
		return err
	}
	if on {
		return c.setSwitch(propCooler, map[string]bool{"COOLER_ON": true})
	}
	return c.setSwitch(propCooler, map[string]bool{"COOLER_OFF": true})
}

func (c *Camera) GainOffset() device.GainOffset {
	var g device.GainOffset
	if v, ok := c.number(propGain, "GAIN"); ok {
		g.Gain = int(v)
		lo, hi, _ := c.numberRange(propGain, "GAIN")
		g.GainMin, g.GainMax = int(lo), int(hi)
	}
	if v, ok := c.number(propOffset, "OFFSET"); ok {
		g.Offset = int(v)
		lo, hi, _ := c.numberRange(propOffset, "OFFSET")
		g.OffsetMin, g.OffsetMax = int(lo), int(hi)
	}
	return g
}

func (c *Camera) SetGain(gain int) error {
	return c.setRanged(propGain, "GAIN", gain)
}

func (c *Camera) SetOffset(offset int) error {
	return c.setRanged(propOffset, "OFFSET", offset)
}

func (c *Camera) setRanged(prop, elem string, v int) error {
	if err := c.guard(c.has(prop), prop); err != nil {
		return err
	}
	if lo, hi, ok := c.numberRange(prop, elem); ok && hi > lo && (float64(v) < lo || float64(v) > hi) {
		return c.invalid(prop, "%s %d outside %g..%g", elem, v, lo, hi)
	}
	return c.setNumber(prop, map[string]float64{elem: float64(v)})
}

func (c *Camera) PulseGuide(dir device.GuideDirection, duration time.Duration) error {
	return pulseGuide(c.Base, dir, duration)
}

func (c *Camera) IsPulseGuiding() bool {
	return c.busy(propGuideNS) || c.busy(propGuideWE)
}

// pulseGuide translates an ASCOM direction into a timed guide pulse.
func pulseGuide(b *Base, dir device.GuideDirection, duration time.Duration) error {
	if err := b.guard(b.has(propGuideNS) && b.has(propGuideWE), "pulseguide"); err != nil {
		return err
	}
	if duration <= 0 {
		return b.invalid("pulseguide", "guide duration %s must be positive", duration)
	}
	ms := float64(duration.Milliseconds())
	switch dir {
	case device.GuideNorth:
		return b.setNumber(propGuideNS, map[string]float64{"TIMED_GUIDE_N": ms, "TIMED_GUIDE_S": 0})
	case device.GuideSouth:
		return b.setNumber(propGuideNS, map[string]float64{"TIMED_GUIDE_N": 0, "TIMED_GUIDE_S": ms})
	case device.GuideEast:
		return b.setNumber(propGuideWE, map[string]float64{"TIMED_GUIDE_E": ms, "TIMED_GUIDE_W": 0})
	case device.GuideWest:
		return b.setNumber(propGuideWE, map[string]float64{"TIMED_GUIDE_E": 0, "TIMED_GUIDE_W": ms})
	}
	return b.invalid("pulseguide", "unknown guide direction %d", int(dir))
}
