package indi

import (
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/device"
	"astrobridge/pkg/indiclient"
)

const (
	propWeatherParams  = "WEATHER_PARAMETERS"
	propWeatherRefresh = "WEATHER_REFRESH"
	propWeatherUpdate  = "WEATHER_UPDATE"
)

// weatherElements maps sensors to WEATHER_PARAMETERS elements.
var weatherElements = map[device.WeatherParameter]string{
	device.CloudCover:     "WEATHER_CLOUD_COVER",
	device.DewPoint:       "WEATHER_DEWPOINT",
	device.Humidity:       "WEATHER_HUMIDITY",
	device.Pressure:       "WEATHER_PRESSURE",
	device.RainRate:       "WEATHER_RAIN_HOUR",
	device.SkyBrightness:  "WEATHER_SKY_BRIGHTNESS",
	device.SkyQuality:     "WEATHER_SQM",
	device.SkyTemperature: "WEATHER_SKY_TEMPERATURE",
	device.StarFWHM:       "WEATHER_STAR_FWHM",
	device.Temperature:    "WEATHER_TEMPERATURE",
	device.WindDirection:  "WEATHER_WIND_DIRECTION",
	device.WindGust:       "WEATHER_WIND_GUST",
	device.WindSpeed:      "WEATHER_WIND_SPEED",
}

// Weather is an INDI weather station.
type Weather struct {
	*Base
}

var _ device.ObservingConditions = (*Weather)(nil)

func NewWeather(client *indiclient.Client, name string, logger log.FieldLogger) *Weather {
	w := &Weather{Base: newBase(client, device.KindObservingConditions, name, logger)}
	w.hooks(w.update, nil)
	return w
}

func (w *Weather) update(p *indiclient.Property) {
	if p.Name == propWeatherParams {
		w.Emit(device.EventPropertyChanged, "conditions", "", w.Data())
	}
}

// Data reads every published sensor. Sensors the driver does not define
// stay nil.
func (w *Weather) Data() device.WeatherData {
	var d device.WeatherData
	p, ok := w.prop(propWeatherParams)
	if !ok {
		return d
	}
	for param, elem := range weatherElements {
		if v, found := p.Number(elem); found {
			*d.Field(param) = &v
		}
	}
	d.Updated = time.Now()
	if ts, err := time.Parse(indiclient.TimestampLayout, p.Timestamp); err == nil {
		d.Updated = ts
	}
	return d
}

func (w *Weather) Value(param device.WeatherParameter) (float64, bool) {
	elem, ok := weatherElements[param]
	if !ok {
		return 0, false
	}
	return w.number(propWeatherParams, elem)
}

// AveragePeriod reports the driver's update period in hours.
func (w *Weather) AveragePeriod() float64 {
	v, _ := w.number(propWeatherUpdate, "PERIOD")
	return v / 3600
}

func (w *Weather) SetAveragePeriod(hours float64) error {
	if err := w.guard(w.writable(propWeatherUpdate), "averageperiod"); err != nil {
		return err
	}
	if hours < 0 {
		return w.invalid("averageperiod", "average period %g must not be negative", hours)
	}
	return w.setNumber(propWeatherUpdate, map[string]float64{"PERIOD": hours * 3600})
}

// Refresh asks the driver to sample its sensors now.
func (w *Weather) Refresh() error {
	if err := w.RequireConnected(); err != nil {
		return w.Fail(propWeatherRefresh, err)
	}
	if !w.has(propWeatherRefresh) {
		return w.Base.Refresh()
	}
	if err := w.setSwitch(propWeatherRefresh, map[string]bool{"REFRESH": true}); err != nil {
		return err
	}
	return w.settle(propWeatherRefresh)
}
