package indi_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astrobridge/pkg/device"
	"astrobridge/pkg/indi"
	"astrobridge/pkg/indiclient"
)

const weatherName = "Weather Simulator"

func TestWeatherReadsParameters(t *testing.T) {
	srv, c := newSession(t,
		connection(weatherName),
		numbers(weatherName, "WEATHER_PARAMETERS",
			indiclient.Element{Name: "WEATHER_TEMPERATURE", Number: 8.5},
			indiclient.Element{Name: "WEATHER_HUMIDITY", Number: 71},
			indiclient.Element{Name: "WEATHER_WIND_SPEED", Number: 3},
			indiclient.Element{Name: "WEATHER_CLOUD_COVER", Number: 20},
		),
		switches(weatherName, "WEATHER_REFRESH", indiclient.AtMostOne, "", "REFRESH"),
		numbers(weatherName, "WEATHER_UPDATE", indiclient.Element{Name: "PERIOD", Number: 60, Max: 3600}),
	)
	w := indi.NewWeather(c, weatherName, nil)
	defer w.Close()
	require.NoError(t, w.Connect(testTimeout))
	var rec recorder
	w.SetEventCallback(rec.record)

	data := w.Data()
	require.NotNil(t, data.Temperature)
	assert.Equal(t, 8.5, *data.Temperature)
	assert.Nil(t, data.SkyQuality)
	v, ok := w.Value(device.Humidity)
	assert.True(t, ok)
	assert.Equal(t, 71.0, v)
	_, ok = w.Value(device.RainRate)
	assert.False(t, ok)

	assert.InDelta(t, 60.0/3600, w.AveragePeriod(), 1e-9)
	require.NoError(t, w.SetAveragePeriod(0.5))
	assert.True(t, errors.Is(w.SetAveragePeriod(-1), device.ErrInvalidValue))
	eventually(t, func() bool { return w.AveragePeriod() == 0.5 }, "period applied")

	require.NoError(t, w.Refresh())
	assert.Len(t, srv.ReceivedFor(weatherName, "WEATHER_REFRESH"), 1)

	srv.SetNumber(weatherName, "WEATHER_PARAMETERS", device.PropertyOk, map[string]float64{"WEATHER_TEMPERATURE": 7})
	eventually(t, func() bool { return len(rec.ofType(device.EventPropertyChanged)) > 0 }, "conditions event")
	eventually(t, func() bool { v, _ := w.Value(device.Temperature); return v == 7 }, "new sample")
}
