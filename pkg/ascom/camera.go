package ascom

import (
	"context"
	"net/url"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/device"
)

// Camera is an ASCOM camera reached over Alpaca.
type Camera struct {
	*Base

	mu     sync.RWMutex
	caps   device.CameraCapabilities
	status device.CameraStatus
	image  alpaca.Image
}

var _ device.Camera = (*Camera)(nil)

func NewCamera(client *alpaca.Client, number int, name string, logger log.FieldLogger) *Camera {
	c := &Camera{Base: newBase(client, device.KindCamera, number, name, logger)}
	c.status.Frame = device.Frame{BinX: 1, BinY: 1}
	c.onConnect = c.load
	c.onRefresh = c.refresh
	return c
}

func (c *Camera) load() error {
	var caps device.CameraCapabilities
	caps.CanAbortExposure, _ = c.GetBool("canabortexposure")
	caps.CanAsymmetricBin, _ = c.GetBool("canasymmetricbin")
	caps.CanFastReadout, _ = c.GetBool("canfastreadout")
	caps.CanGetCoolerPower, _ = c.GetBool("cangetcoolerpower")
	caps.CanPulseGuide, _ = c.GetBool("canpulseguide")
	caps.CanSetCCDTemperature, _ = c.GetBool("cansetccdtemperature")
	caps.CanStopExposure, _ = c.GetBool("canstopexposure")
	caps.HasShutter, _ = c.GetBool("hasshutter")

	var s device.SensorInfo
	s.CameraXSize, _ = c.GetInt("cameraxsize")
	s.CameraYSize, _ = c.GetInt("cameraysize")
	s.PixelSizeX, _ = c.GetDouble("pixelsizex")
	s.PixelSizeY, _ = c.GetDouble("pixelsizey")
	s.MaxBinX, _ = c.GetInt("maxbinx")
	s.MaxBinY, _ = c.GetInt("maxbiny")
	s.MaxADU, _ = c.GetInt("maxadu")
	s.ElectronsPerADU, _ = c.GetDouble("electronsperadu")
	s.FullWellCapacity, _ = c.GetDouble("fullwellcapacity")
	s.SensorName, _ = c.GetString("sensorname")
	if t, ok := c.GetInt("sensortype"); ok {
		s.SensorType = device.SensorType(t)
	}
	if s.SensorType >= device.SensorRGGB {
		s.BayerOffsetX, _ = c.GetInt("bayeroffsetx")
		s.BayerOffsetY, _ = c.GetInt("bayeroffsety")
	}

	var g device.GainOffset
	g.Gain, caps.HasGain = c.GetInt("gain")
	if caps.HasGain {
		g.GainMin, _ = c.GetInt("gainmin")
		g.GainMax, _ = c.GetInt("gainmax")
	}
	g.Offset, caps.HasOffset = c.GetInt("offset")
	if caps.HasOffset {
		g.OffsetMin, _ = c.GetInt("offsetmin")
		g.OffsetMax, _ = c.GetInt("offsetmax")
	}

	var cooler device.CoolerInfo
	cooler.On, caps.HasCooler = c.GetBool("cooleron")
	cooler.TargetTemperature, _ = c.GetDouble("setccdtemperature")

	frame := device.Frame{BinX: 1, BinY: 1, NumX: s.CameraXSize, NumY: s.CameraYSize}
	if v, ok := c.GetInt("binx"); ok && v > 0 {
		frame.BinX = v
	}
	if v, ok := c.GetInt("biny"); ok && v > 0 {
		frame.BinY = v
	}
	frame.StartX, _ = c.GetInt("startx")
	frame.StartY, _ = c.GetInt("starty")
	if v, ok := c.GetInt("numx"); ok {
		frame.NumX = v
	}
	if v, ok := c.GetInt("numy"); ok {
		frame.NumY = v
	}

	c.mu.Lock()
	c.caps = caps
	c.status.Sensor = s
	c.status.GainOffset = g
	c.status.Cooler = cooler
	c.status.Frame = frame
	c.status.ReadoutMode, _ = c.GetInt("readoutmode")
	c.mu.Unlock()
	return c.refresh()
}

func (c *Camera) refresh() error {
	caps := c.Capabilities()
	state, stateOK := c.GetInt("camerastate")
	ready, _ := c.GetBool("imageready")
	pct, _ := c.GetInt("percentcompleted")
	temp, tempOK := c.GetDouble("ccdtemperature")
	coolerOn, coolerOK := c.GetBool("cooleron")
	var power float64
	if caps.CanGetCoolerPower {
		power, _ = c.GetDouble("coolerpower")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if stateOK {
		c.setStateLocked(device.CameraState(state))
	}
	c.status.ImageReady = ready
	c.status.PercentCompleted = pct
	if tempOK {
		c.status.Cooler.Temperature = temp
	}
	if coolerOK {
		c.status.Cooler.On = coolerOn
	}
	c.status.Cooler.Power = power
	return nil
}

func (c *Camera) setStateLocked(s device.CameraState) {
	c.status.State = s
	c.status.Exposing = s.Exposing()
}

func (c *Camera) CameraState() device.CameraState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.State
}

func (c *Camera) Capabilities() device.CameraCapabilities {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.caps
}

func (c *Camera) Status() device.CameraStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Camera) SensorInfo() device.SensorInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.Sensor
}

func (c *Camera) Frame() device.Frame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.Frame
}

func (c *Camera) IsExposing() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.Exposing
}

// StartExposure begins an exposure of duration seconds.
func (c *Camera) StartExposure(duration float64, light bool) error {
	if err := c.RequireConnected(); err != nil {
		return c.Fail("startexposure", err)
	}
	if duration < 0 {
		return c.invalid("startexposure", "exposure duration %.3f is negative", duration)
	}
	if c.IsExposing() {
		return c.Fail("startexposure", device.Errorf(device.ErrInvalidOperation, "an exposure is already in progress"))
	}

	err := c.command("startexposure", url.Values{
		"Duration": {formatFloat(duration)},
		"Light":    {strconv.FormatBool(light)},
	})
	if err != nil {
		c.mu.Lock()
		c.setStateLocked(device.CameraError)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.setStateLocked(device.CameraExposing)
	c.status.ImageReady = false
	c.status.PercentCompleted = 0
	c.status.LastExposureDuration = duration
	c.mu.Unlock()
	c.Logger().Infof("Exposure started: %.3fs light=%v", duration, light)
	return nil
}

// AbortExposure discards the exposure in progress. It is a no-op when the
// camera is not exposing.
func (c *Camera) AbortExposure() error {
	return c.endExposure("abortexposure", c.Capabilities().CanAbortExposure)
}

// StopExposure ends the exposure early, keeping the image.
func (c *Camera) StopExposure() error {
	return c.endExposure("stopexposure", c.Capabilities().CanStopExposure)
}

func (c *Camera) endExposure(method string, capable bool) error {
	if err := c.guard(capable, method); err != nil {
		return err
	}
	c.mu.RLock()
	state := c.status.State
	c.mu.RUnlock()
	if !state.Exposing() && state != device.CameraError {
		return nil
	}
	if err := c.command(method, nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.setStateLocked(device.CameraIdle)
	c.mu.Unlock()
	return nil
}

// WaitForExposure polls imageready until the image is available.
func (c *Camera) WaitForExposure(timeout time.Duration) bool {
	ready := c.poll(timeout, func() bool {
		ok, _ := c.GetBool("imageready")
		if !ok {
			if s, valid := c.GetInt("camerastate"); valid {
				c.mu.Lock()
				c.setStateLocked(device.CameraState(s))
				c.mu.Unlock()
			}
		}
		return ok
	})
	if !ready {
		return false
	}

	c.mu.Lock()
	c.setStateLocked(device.CameraIdle)
	c.status.ImageReady = true
	c.status.PercentCompleted = 100
	c.mu.Unlock()
	c.Emit(device.EventPropertyChanged, "imageready", "image ready", true)
	return true
}

// ImageArray downloads the last image as a flat row-major sample list.
func (c *Camera) ImageArray() ([]int32, error) {
	img, err := c.downloadImage()
	if err != nil {
		return nil, err
	}
	return img.Pixels, nil
}

// ImageArray2D downloads the last image as rows. A flat reply is reshaped to
// the current frame when the sample count matches it.
func (c *Camera) ImageArray2D() ([][]int32, error) {
	img, err := c.downloadImage()
	if err != nil {
		return nil, err
	}
	frame := c.Frame()
	if img.Height == 1 && frame.NumX > 0 && frame.NumY > 0 && frame.NumX*frame.NumY == len(img.Pixels) {
		img.Width, img.Height = frame.NumX, frame.NumY
	}
	return img.Rows(), nil
}

// LastImage returns the most recently downloaded image.
func (c *Camera) LastImage() alpaca.Image {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.image
}

func (c *Camera) downloadImage() (alpaca.Image, error) {
	if err := c.RequireConnected(); err != nil {
		return alpaca.Image{}, c.Fail("imagearray", err)
	}
	resp := c.client.Get(context.Background(), c.Kind(), c.number, "imagearray", nil)
	if err := resp.Err(); err != nil {
		return alpaca.Image{}, c.Fail("imagearray", err)
	}
	img, err := alpaca.DecodeImage(resp.Value)
	if err != nil {
		return alpaca.Image{}, c.Fail("imagearray", err)
	}
	c.mu.Lock()
	c.image = img
	c.mu.Unlock()
	c.Logger().Debugf("Downloaded %dx%dx%d image", img.Width, img.Height, img.Planes)
	return img, nil
}

func (c *Camera) SetBinning(binX, binY int) error {
	if err := c.RequireConnected(); err != nil {
		return c.Fail("binx", err)
	}
	c.mu.RLock()
	caps, sensor := c.caps, c.status.Sensor
	c.mu.RUnlock()

	if binX < 1 || binY < 1 {
		return c.invalid("binx", "binning %dx%d must be positive", binX, binY)
	}
	if sensor.MaxBinX > 0 && binX > sensor.MaxBinX {
		return c.invalid("binx", "binning %d exceeds maximum %d", binX, sensor.MaxBinX)
	}
	if sensor.MaxBinY > 0 && binY > sensor.MaxBinY {
		return c.invalid("biny", "binning %d exceeds maximum %d", binY, sensor.MaxBinY)
	}
	if binX != binY && !caps.CanAsymmetricBin {
		return c.Fail("binx", device.Errorf(device.ErrInvalidOperation, "asymmetric binning %dx%d is not supported", binX, binY))
	}

	if err := c.SetInt("binx", "BinX", binX); err != nil {
		return err
	}
	if err := c.SetInt("biny", "BinY", binY); err != nil {
		return err
	}

	frame := device.Frame{BinX: binX, BinY: binY}
	if sensor.CameraXSize > 0 && sensor.CameraYSize > 0 {
		frame.NumX, frame.NumY = sensor.CameraXSize/binX, sensor.CameraYSize/binY
		if err := c.putFrame(frame); err != nil {
			return err
		}
	}
	c.mu.Lock()
	c.status.Frame = frame
	c.mu.Unlock()
	return nil
}

func (c *Camera) SetSubframe(startX, startY, numX, numY int) error {
	if err := c.RequireConnected(); err != nil {
		return c.Fail("numx", err)
	}
	c.mu.RLock()
	frame, sensor := c.status.Frame, c.status.Sensor
	c.mu.RUnlock()
	if err := frame.ValidateSubframe(sensor, startX, startY, numX, numY); err != nil {
		return c.Fail("numx", err)
	}

	frame.StartX, frame.StartY, frame.NumX, frame.NumY = startX, startY, numX, numY
	if err := c.putFrame(frame); err != nil {
		return err
	}
	c.mu.Lock()
	c.status.Frame = frame
	c.mu.Unlock()
	return nil
}

func (c *Camera) putFrame(f device.Frame) error {
	if err := c.SetInt("startx", "StartX", f.StartX); err != nil {
		return err
	}
	if err := c.SetInt("starty", "StartY", f.StartY); err != nil {
		return err
	}
	if err := c.SetInt("numx", "NumX", f.NumX); err != nil {
		return err
	}
	return c.SetInt("numy", "NumY", f.NumY)
}

// SetFrameType records the frame type. ASCOM carries light versus dark in
// StartExposure, so nothing is sent to the driver.
func (c *Camera) SetFrameType(t device.FrameType) error {
	if err := c.RequireConnected(); err != nil {
		return c.Fail("frametype", err)
	}
	if t < device.FrameLight || t > device.FrameFlat {
		return c.invalid("frametype", "unknown frame type %d", int(t))
	}
	c.mu.Lock()
	c.status.FrameType = t
	c.mu.Unlock()
	return nil
}

func (c *Camera) CoolerInfo() device.CoolerInfo {
	if c.IsConnected() {
		_ = c.refresh()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.Cooler
}

func (c *Camera) SetTargetTemperature(celsius float64) error {
	if err := c.guard(c.Capabilities().CanSetCCDTemperature, "setccdtemperature"); err != nil {
		return err
	}
	if celsius < -273.15 || celsius > 100 {
		return c.invalid("setccdtemperature", "target temperature %.2f out of range", celsius)
	}
	if err := c.SetDouble("setccdtemperature", "SetCCDTemperature", celsius); err != nil {
		return err
	}
	c.mu.Lock()
	c.status.Cooler.TargetTemperature = celsius
	c.mu.Unlock()
	return nil
}

func (c *Camera) SetCoolerOn(on bool) error {
	if err := c.guard(c.Capabilities().HasCooler, "cooleron"); err != nil {
		return err
	}
	if err := c.SetBool("cooleron", "CoolerOn", on); err != nil {
		return err
	}
	c.mu.Lock()
	c.status.Cooler.On = on
	c.mu.Unlock()
	return nil
}

func (c *Camera) GainOffset() device.GainOffset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.GainOffset
}

func (c *Camera) SetGain(gain int) error {
	if err := c.guard(c.Capabilities().HasGain, "gain"); err != nil {
		return err
	}
	g := c.GainOffset()
	if g.GainMax > g.GainMin && (gain < g.GainMin || gain > g.GainMax) {
		return c.invalid("gain", "gain %d out of range [%d, %d]", gain, g.GainMin, g.GainMax)
	}
	if err := c.SetInt("gain", "Gain", gain); err != nil {
		return err
	}
	c.mu.Lock()
	c.status.GainOffset.Gain = gain
	c.mu.Unlock()
	return nil
}

func (c *Camera) SetOffset(offset int) error {
	if err := c.guard(c.Capabilities().HasOffset, "offset"); err != nil {
		return err
	}
	g := c.GainOffset()
	if g.OffsetMax > g.OffsetMin && (offset < g.OffsetMin || offset > g.OffsetMax) {
		return c.invalid("offset", "offset %d out of range [%d, %d]", offset, g.OffsetMin, g.OffsetMax)
	}
	if err := c.SetInt("offset", "Offset", offset); err != nil {
		return err
	}
	c.mu.Lock()
	c.status.GainOffset.Offset = offset
	c.mu.Unlock()
	return nil
}

// ReadoutModes lists the driver's readout modes; the index selects one.
func (c *Camera) ReadoutModes() ([]string, error) {
	if err := c.RequireConnected(); err != nil {
		return nil, err
	}
	return c.get("readoutmodes", nil).Strings()
}

func (c *Camera) SetReadoutMode(mode int) error {
	if mode < 0 {
		return c.invalid("readoutmode", "readout mode %d is negative", mode)
	}
	if err := c.SetInt("readoutmode", "ReadoutMode", mode); err != nil {
		return err
	}
	c.mu.Lock()
	c.status.ReadoutMode = mode
	c.mu.Unlock()
	return nil
}

func (c *Camera) PulseGuide(dir device.GuideDirection, duration time.Duration) error {
	return pulseGuide(c.Base, c.Capabilities().CanPulseGuide, dir, duration)
}

func (c *Camera) IsPulseGuiding() bool {
	v, _ := c.GetBool("ispulseguiding")
	c.mu.Lock()
	c.status.PulseGuiding = v
	c.mu.Unlock()
	return v
}

func pulseGuide(b *Base, capable bool, dir device.GuideDirection, duration time.Duration) error {
	if err := b.guard(capable, "pulseguide"); err != nil {
		return err
	}
	if !dir.Valid() {
		return b.invalid("pulseguide", "unknown guide direction %d", int(dir))
	}
	if duration <= 0 {
		return b.invalid("pulseguide", "guide duration %s must be positive", duration)
	}
	return b.command("pulseguide", url.Values{
		"Direction": {strconv.Itoa(int(dir))},
		"Duration":  {strconv.FormatInt(duration.Milliseconds(), 10)},
	})
}
