package device

import "time"

// WeatherParameter names one ObservingConditions sensor. The string value
// is the ASCOM method name.
type WeatherParameter string

const (
	CloudCover     WeatherParameter = "cloudcover"
	DewPoint       WeatherParameter = "dewpoint"
	Humidity       WeatherParameter = "humidity"
	Pressure       WeatherParameter = "pressure"
	RainRate       WeatherParameter = "rainrate"
	SkyBrightness  WeatherParameter = "skybrightness"
	SkyQuality     WeatherParameter = "skyquality"
	SkyTemperature WeatherParameter = "skytemperature"
	StarFWHM       WeatherParameter = "starfwhm"
	Temperature    WeatherParameter = "temperature"
	WindDirection  WeatherParameter = "winddirection"
	WindGust       WeatherParameter = "windgust"
	WindSpeed      WeatherParameter = "windspeed"
)

// WeatherParameters lists every sensor in a stable order.
func WeatherParameters() []WeatherParameter {
	return []WeatherParameter{
		CloudCover, DewPoint, Humidity, Pressure, RainRate, SkyBrightness, SkyQuality,
		SkyTemperature, StarFWHM, Temperature, WindDirection, WindGust, WindSpeed,
	}
}

// WeatherData holds one sample of every sensor. A nil field means the driver
// does not publish that value.
type WeatherData struct {
	CloudCover     *float64  `json:"cloudCover,omitempty"`
	DewPoint       *float64  `json:"dewPoint,omitempty"`
	Humidity       *float64  `json:"humidity,omitempty"`
	Pressure       *float64  `json:"pressure,omitempty"`
	RainRate       *float64  `json:"rainRate,omitempty"`
	SkyBrightness  *float64  `json:"skyBrightness,omitempty"`
	SkyQuality     *float64  `json:"skyQuality,omitempty"`
	SkyTemperature *float64  `json:"skyTemperature,omitempty"`
	StarFWHM       *float64  `json:"starFWHM,omitempty"`
	Temperature    *float64  `json:"temperature,omitempty"`
	WindDirection  *float64  `json:"windDirection,omitempty"`
	WindGust       *float64  `json:"windGust,omitempty"`
	WindSpeed      *float64  `json:"windSpeed,omitempty"`
	Updated        time.Time `json:"updated"`
}

// Field returns the slot for p inside d, or nil for an unknown parameter.
func (d *WeatherData) Field(p WeatherParameter) **float64 {
	switch p {
	case CloudCover:
		return &d.CloudCover
	case DewPoint:
		return &d.DewPoint
	case Humidity:
		return &d.Humidity
	case Pressure:
		return &d.Pressure
	case RainRate:
		return &d.RainRate
	case SkyBrightness:
		return &d.SkyBrightness
	case SkyQuality:
		return &d.SkyQuality
	case SkyTemperature:
		return &d.SkyTemperature
	case StarFWHM:
		return &d.StarFWHM
	case Temperature:
		return &d.Temperature
	case WindDirection:
		return &d.WindDirection
	case WindGust:
		return &d.WindGust
	case WindSpeed:
		return &d.WindSpeed
	}
	return nil
}

// Value returns the sample for p and whether the driver publishes it.
func (d WeatherData) Value(p WeatherParameter) (float64, bool) {
	f := d.Field(p)
	if f == nil || *f == nil {
		return 0, false
	}
	return **f, true
}

type ObservingConditions interface {
	Device

	Data() WeatherData
	Value(p WeatherParameter) (float64, bool)
	AveragePeriod() float64
	SetAveragePeriod(hours float64) error
}
