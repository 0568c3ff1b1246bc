package ascom

import (
	"context"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/device"
)

// ObservingConditions is an ASCOM weather station reached over Alpaca.
type ObservingConditions struct {
	*Base

	mu     sync.RWMutex
	data   device.WeatherData
	period float64
}

var _ device.ObservingConditions = (*ObservingConditions)(nil)

func NewObservingConditions(client *alpaca.Client, number int, name string, logger log.FieldLogger) *ObservingConditions {
	o := &ObservingConditions{Base: newBase(client, device.KindObservingConditions, number, name, logger)}
	o.onConnect = o.refresh
	o.onRefresh = o.refresh
	return o
}

// refresh asks the driver to resample and reads every sensor. Sensors the
// driver does not implement stay nil.
func (o *ObservingConditions) refresh() error {
	if err := o.client.Put(context.Background(), o.Kind(), o.number, "refresh", nil).Err(); err != nil {
		o.Logger().Debugf("Refresh not supported: %v", err)
	}

	var data device.WeatherData
	for _, p := range device.WeatherParameters() {
		if v, ok := o.GetDouble(string(p)); ok {
			*data.Field(p) = &v
		}
	}
	data.Updated = time.Now()
	period, periodOK := o.GetDouble("averageperiod")

	o.mu.Lock()
	o.data = data
	if periodOK {
		o.period = period
	}
	o.mu.Unlock()
	o.Emit(device.EventPropertyChanged, "conditions", "conditions updated", data)
	return nil
}

func (o *ObservingConditions) Data() device.WeatherData {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.data
}

func (o *ObservingConditions) Value(p device.WeatherParameter) (float64, bool) {
	return o.Data().Value(p)
}

func (o *ObservingConditions) AveragePeriod() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.period
}

func (o *ObservingConditions) SetAveragePeriod(hours float64) error {
	if err := o.RequireConnected(); err != nil {
		return o.Fail("averageperiod", err)
	}
	if hours < 0 {
		return o.invalid("averageperiod", "average period %.3f must not be negative", hours)
	}
	if err := o.SetDouble("averageperiod", "AveragePeriod", hours); err != nil {
		return err
	}
	o.mu.Lock()
	o.period = hours
	o.mu.Unlock()
	return nil
}

// SensorDescription describes the sensor behind p.
func (o *ObservingConditions) SensorDescription(p device.WeatherParameter) (string, error) {
	if err := o.RequireConnected(); err != nil {
		return "", err
	}
	return o.get("sensordescription", url.Values{"SensorName": {sensorName(p)}}).Text()
}

// TimeSinceLastUpdate reports the age of the sample for p.
func (o *ObservingConditions) TimeSinceLastUpdate(p device.WeatherParameter) (time.Duration, error) {
	if err := o.RequireConnected(); err != nil {
		return 0, err
	}
	secs, err := o.get("timesincelastupdate", url.Values{"SensorName": {sensorName(p)}}).Float()
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

var sensorNames = map[device.WeatherParameter]string{
	device.CloudCover:     "CloudCover",
	device.DewPoint:       "DewPoint",
	device.Humidity:       "Humidity",
	device.Pressure:       "Pressure",
	device.RainRate:       "RainRate",
	device.SkyBrightness:  "SkyBrightness",
	device.SkyQuality:     "SkyQuality",
	device.SkyTemperature: "SkyTemperature",
	device.StarFWHM:       "StarFWHM",
	device.Temperature:    "Temperature",
	device.WindDirection:  "WindDirection",
	device.WindGust:       "WindGust",
	device.WindSpeed:      "WindSpeed",
}

// sensorName is the ASCOM property name used as the SensorName parameter.
func sensorName(p device.WeatherParameter) string {
	if n, ok := sensorNames[p]; ok {
		return n
	}
	return string(p)
}
