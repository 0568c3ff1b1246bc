package device

import "time"

// GPSTimeLayout is the textual form of GPS time.
const GPSTimeLayout = "2006-01-02 15:04:05.000"

type GPSPosition struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Elevation float64 `json:"elevation"`
	Accuracy  float64 `json:"accuracy"`
}

type GPSTime struct {
	UTC       time.Time `json:"-"`
	Text      string    `json:"utc"`
	UTCOffset float64   `json:"utcOffset"`
}

// NewGPSTime formats t (converted to UTC) with GPSTimeLayout.
func NewGPSTime(t time.Time, offset float64) GPSTime {
	t = t.UTC()
	return GPSTime{UTC: t, Text: t.Format(GPSTimeLayout), UTCOffset: offset}
}

type SatelliteInfo struct {
	InView int     `json:"inView"`
	Used   int     `json:"used"`
	HDOP   float64 `json:"hdop"`
	VDOP   float64 `json:"vdop"`
	PDOP   float64 `json:"pdop"`
}

type FixType int

const (
	NoFix FixType = iota
	Fix2D
	Fix3D
	FixDGPS
	FixUnknown
)

var fixTypeNames = []string{"NoFix", "Fix2D", "Fix3D", "DGPS", "Unknown"}

func (f FixType) String() string { return enumName(fixTypeNames, int(f)) }

func (f FixType) HasFix() bool { return f == Fix2D || f == Fix3D || f == FixDGPS }

func (f FixType) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *FixType) UnmarshalText(b []byte) error {
	*f = FixType(enumIndex(fixTypeNames, string(b), int(FixUnknown)))
	return nil
}

type GPSStatus struct {
	Position   GPSPosition   `json:"position"`
	Time       GPSTime       `json:"time"`
	Satellites SatelliteInfo `json:"satellites"`
	Fix        FixType       `json:"fixType"`
}

type GPS interface {
	Device

	Status() GPSStatus
	Position() GPSPosition
	Time() GPSTime
	Satellites() SatelliteInfo
	Fix() FixType
	HasFix() bool
	WaitForFix(timeout time.Duration) bool
}
