package device

import "time"

// CameraState follows the ASCOM CameraStates numbering.
type CameraState int

const (
	CameraIdle CameraState = iota
	CameraWaiting
	CameraExposing
	CameraReading
	CameraDownload
	CameraError
)

var cameraStateNames = []string{"Idle", "Waiting", "Exposing", "Reading", "Download", "Error"}

func (s CameraState) String() string { return enumName(cameraStateNames, int(s)) }

// Exposing reports whether the state belongs to an exposure in progress.
func (s CameraState) Exposing() bool {
	return s == CameraExposing || s == CameraReading || s == CameraDownload
}

func (s CameraState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *CameraState) UnmarshalText(b []byte) error {
	*s = CameraState(enumIndex(cameraStateNames, string(b), int(CameraIdle)))
	return nil
}

// SensorType follows the ASCOM SensorType numbering.
type SensorType int

const (
	SensorMonochrome SensorType = iota
	SensorColor
	SensorRGGB
	SensorCMYG
	SensorCMYG2
	SensorLRGB
)

var sensorTypeNames = []string{"Monochrome", "Color", "RGGB", "CMYG", "CMYG2", "LRGB"}

func (s SensorType) String() string { return enumName(sensorTypeNames, int(s)) }

func (s SensorType) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *SensorType) UnmarshalText(b []byte) error {
	*s = SensorType(enumIndex(sensorTypeNames, string(b), int(SensorMonochrome)))
	return nil
}

// FrameType selects the kind of image an exposure produces.
type FrameType int

const (
	FrameLight FrameType = iota
	FrameDark
	FrameBias
	FrameFlat
)

var frameTypeNames = []string{"Light", "Dark", "Bias", "Flat"}

func (t FrameType) String() string { return enumName(frameTypeNames, int(t)) }

func (t FrameType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *FrameType) UnmarshalText(b []byte) error {
	*t = FrameType(enumIndex(frameTypeNames, string(b), int(FrameLight)))
	return nil
}

// GuideDirection uses the ASCOM encoding: 0=N, 1=S, 2=E, 3=W.
type GuideDirection int

const (
	GuideNorth GuideDirection = iota
	GuideSouth
	GuideEast
	GuideWest
)

var guideDirectionNames = []string{"North", "South", "East", "West"}

func (d GuideDirection) String() string { return enumName(guideDirectionNames, int(d)) }

// Valid reports whether d is one of the four cardinal directions.
func (d GuideDirection) Valid() bool { return d >= GuideNorth && d <= GuideWest }

func (d GuideDirection) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *GuideDirection) UnmarshalText(b []byte) error {
	*d = GuideDirection(enumIndex(guideDirectionNames, string(b), int(GuideNorth)))
	return nil
}

type CameraCapabilities struct {
	CanAbortExposure     bool `json:"canAbortExposure"`
	CanAsymmetricBin     bool `json:"canAsymmetricBin"`
	CanFastReadout       bool `json:"canFastReadout"`
	CanGetCoolerPower    bool `json:"canGetCoolerPower"`
	CanPulseGuide        bool `json:"canPulseGuide"`
	CanSetCCDTemperature bool `json:"canSetCCDTemperature"`
	CanStopExposure      bool `json:"canStopExposure"`
	HasShutter           bool `json:"hasShutter"`
	HasCooler            bool `json:"hasCooler"`
	HasGain              bool `json:"hasGain"`
	HasOffset            bool `json:"hasOffset"`
}

type SensorInfo struct {
	CameraXSize      int        `json:"cameraXSize"`
	CameraYSize      int        `json:"cameraYSize"`
	PixelSizeX       float64    `json:"pixelSizeX"`
	PixelSizeY       float64    `json:"pixelSizeY"`
	MaxBinX          int        `json:"maxBinX"`
	MaxBinY          int        `json:"maxBinY"`
	MaxADU           int        `json:"maxADU"`
	ElectronsPerADU  float64    `json:"electronsPerADU"`
	FullWellCapacity float64    `json:"fullWellCapacity"`
	SensorType       SensorType `json:"sensorType"`
	SensorName       string     `json:"sensorName"`
	BayerOffsetX     int        `json:"bayerOffsetX"`
	BayerOffsetY     int        `json:"bayerOffsetY"`
	BitDepth         int        `json:"bitDepth,omitempty"`
}

type CoolerInfo struct {
	On                bool    `json:"on"`
	Power             float64 `json:"power"`
	Temperature       float64 `json:"temperature"`
	TargetTemperature float64 `json:"targetTemperature"`
}

type GainOffset struct {
	Gain      int `json:"gain"`
	GainMin   int `json:"gainMin"`
	GainMax   int `json:"gainMax"`
	Offset    int `json:"offset"`
	OffsetMin int `json:"offsetMin"`
	OffsetMax int `json:"offsetMax"`
}

// Frame is the effective readout region, in binned pixels.
type Frame struct {
	StartX int `json:"startX"`
	StartY int `json:"startY"`
	NumX   int `json:"numX"`
	NumY   int `json:"numY"`
	BinX   int `json:"binX"`
	BinY   int `json:"binY"`
}

// ValidateSubframe checks the subframe invariant against the sensor size at
// the current binning.
func (f Frame) ValidateSubframe(s SensorInfo, startX, startY, numX, numY int) error {
	binX, binY := max(f.BinX, 1), max(f.BinY, 1)
	width, height := s.CameraXSize/binX, s.CameraYSize/binY
	if startX < 0 || startY < 0 || numX <= 0 || numY <= 0 {
		return Errorf(ErrInvalidValue, "subframe (%d,%d %dx%d) has negative origin or empty size", startX, startY, numX, numY)
	}
	if width > 0 && startX+numX > width {
		return Errorf(ErrInvalidValue, "subframe x range %d..%d exceeds width %d", startX, startX+numX, width)
	}
	if height > 0 && startY+numY > height {
		return Errorf(ErrInvalidValue, "subframe y range %d..%d exceeds height %d", startY, startY+numY, height)
	}
	return nil
}

// CameraStatus is the last observed camera state.
type CameraStatus struct {
	State                CameraState `json:"cameraState"`
	Exposing             bool        `json:"exposing"`
	ImageReady           bool        `json:"imageReady"`
	PercentCompleted     int         `json:"percentCompleted"`
	LastExposureDuration float64     `json:"lastExposureDuration"`
	FrameType            FrameType   `json:"frameType"`
	PulseGuiding         bool        `json:"pulseGuiding"`
	ReadoutMode          int         `json:"readoutMode"`
	Sensor               SensorInfo  `json:"sensorInfo"`
	Cooler               CoolerInfo  `json:"coolerInfo"`
	GainOffset           GainOffset  `json:"gainOffset"`
	Frame                Frame       `json:"frame"`
}

// Imager is the exposure surface of a camera.
type Imager interface {
	StartExposure(duration float64, light bool) error
	AbortExposure() error
	StopExposure() error
	IsExposing() bool
	WaitForExposure(timeout time.Duration) bool
	ImageArray() ([]int32, error)
	ImageArray2D() ([][]int32, error)
}

// Guider issues guide pulses.
type Guider interface {
	PulseGuide(dir GuideDirection, duration time.Duration) error
	IsPulseGuiding() bool
}

type Camera interface {
	Device
	Imager
	Guider

	CameraState() CameraState
	Capabilities() CameraCapabilities
	Status() CameraStatus
	SensorInfo() SensorInfo
	Frame() Frame
	SetBinning(binX, binY int) error
	SetSubframe(startX, startY, numX, numY int) error
	SetFrameType(t FrameType) error
	CoolerInfo() CoolerInfo
	SetTargetTemperature(celsius float64) error
	SetCoolerOn(on bool) error
	GainOffset() GainOffset
	SetGain(gain int) error
	SetOffset(offset int) error
}
