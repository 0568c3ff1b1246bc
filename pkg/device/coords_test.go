package device

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAngle(t *testing.T) {
	tests := []struct {
		input    float64
		expected float64
	}{
		{0, 0},
		{360, 0},
		{-360, 0},
		{370, 10},
		{-30, 330},
		{-400, 320},
		{3685, 85},
		{-3570, 30},
		{359.5, 359.5},
	}

	for _, tt := range tests {
		assert.InDelta(t, tt.expected, NormalizeAngle(tt.input), 1e-9, "NormalizeAngle(%v)", tt.input)
	}
}

func TestNormalizeHours(t *testing.T) {
	assert.InDelta(t, 0.0, NormalizeHours(24), 1e-9)
	assert.InDelta(t, 23.0, NormalizeHours(-1), 1e-9)
	assert.InDelta(t, 1.5, NormalizeHours(49.5), 1e-9)
}

func TestCoordinatesValidate(t *testing.T) {
	tests := []struct {
		name    string
		coords  EquatorialCoordinates
		wantErr bool
	}{
		{"origin", EquatorialCoordinates{0, 0}, false},
		{"typical", EquatorialCoordinates{12.5, 45}, false},
		{"pole", EquatorialCoordinates{23.99, -90}, false},
		{"ra too high", EquatorialCoordinates{24, 0}, true},
		{"ra negative", EquatorialCoordinates{-0.1, 0}, true},
		{"dec too high", EquatorialCoordinates{1, 90.1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.coords.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidValue)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.ErrorIs(t, HorizontalCoordinates{Az: -1, Alt: 10}.Validate(), ErrInvalidValue)
	assert.NoError(t, HorizontalCoordinates{Az: 180, Alt: 10}.Validate())
}

func TestWireTypesRoundTrip(t *testing.T) {
	temp := 3.5
	values := []any{
		&EquatorialCoordinates{RA: 5.5, Dec: -12.25},
		&CameraCapabilities{CanAbortExposure: true, CanPulseGuide: true, HasShutter: true},
		&CameraStatus{State: CameraExposing, Exposing: true, Sensor: SensorInfo{CameraXSize: 100, SensorType: SensorRGGB}, Frame: Frame{NumX: 10, NumY: 10, BinX: 1, BinY: 1}},
		&TelescopeStatus{State: TelescopeParked, Parked: true, PierSide: PierWest, TrackingRate: RateLunar},
		&TelescopeCapabilities{CanSlew: true, CanPark: true},
		&FocuserStatus{State: MotionMoving, Position: 100, Temperature: &temp},
		&FilterWheelStatus{Position: 3, Min: 1, Max: 8, Slots: SlotsFrom(1, []string{"L", "R"}, []int{0, 10})},
		&DomeStatus{Shutter: ShutterClosing, Azimuth: 90},
		&RotatorStatus{Position: 12, Reversed: true},
		&WeatherData{Humidity: &temp},
		&Info{Name: "cam", Kind: KindFilterWheel, Backend: BackendINDI, State: Connected},
	}

	for _, v := range values {
		b, err := json.Marshal(v)
		require.NoError(t, err)

		out := newOf(v)
		require.NoError(t, json.Unmarshal(b, out))
		assert.Equal(t, v, out, "round trip of %s", b)
	}
}

func newOf(v any) any {
	switch v.(type) {
	case *EquatorialCoordinates:
		return new(EquatorialCoordinates)
	case *CameraCapabilities:
		return new(CameraCapabilities)
	case *CameraStatus:
		return new(CameraStatus)
	case *TelescopeStatus:
		return new(TelescopeStatus)
	case *TelescopeCapabilities:
		return new(TelescopeCapabilities)
	case *FocuserStatus:
		return new(FocuserStatus)
	case *FilterWheelStatus:
		return new(FilterWheelStatus)
	case *DomeStatus:
		return new(DomeStatus)
	case *RotatorStatus:
		return new(RotatorStatus)
	case *WeatherData:
		return new(WeatherData)
	case *Info:
		return new(Info)
	}
	panic("unexpected type")
}

func TestSubframeValidation(t *testing.T) {
	sensor := SensorInfo{CameraXSize: 1000, CameraYSize: 800}
	f := Frame{BinX: 2, BinY: 2}

	assert.NoError(t, f.ValidateSubframe(sensor, 0, 0, 500, 400))
	assert.NoError(t, f.ValidateSubframe(sensor, 100, 100, 400, 300))

	err := f.ValidateSubframe(sensor, 100, 0, 401, 400)
	assert.True(t, errors.Is(err, ErrInvalidValue))
	assert.ErrorIs(t, f.ValidateSubframe(sensor, -1, 0, 10, 10), ErrInvalidValue)
	assert.ErrorIs(t, f.ValidateSubframe(sensor, 0, 0, 0, 10), ErrInvalidValue)
}

func TestFixType(t *testing.T) {
	assert.False(t, NoFix.HasFix())
	assert.True(t, Fix2D.HasFix())
	assert.True(t, Fix3D.HasFix())
	assert.True(t, FixDGPS.HasFix())
	assert.False(t, FixUnknown.HasFix())
}
