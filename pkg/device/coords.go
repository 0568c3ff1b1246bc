package device

import (
	"fmt"
	"math"
)

// EquatorialCoordinates holds right ascension in decimal hours and
// declination in decimal degrees.
type EquatorialCoordinates struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

// Validate checks RA in [0, 24) and Dec in [-90, 90].
func (c EquatorialCoordinates) Validate() error {
	if c.RA < 0 || c.RA >= 24 || math.IsNaN(c.RA) {
		return Errorf(ErrInvalidValue, "right ascension %.6f out of range [0, 24)", c.RA)
	}
	if c.Dec < -90 || c.Dec > 90 || math.IsNaN(c.Dec) {
		return Errorf(ErrInvalidValue, "declination %.6f out of range [-90, 90]", c.Dec)
	}
	return nil
}

func (c EquatorialCoordinates) String() string {
	return fmt.Sprintf("RA %.4fh Dec %+.4f°", c.RA, c.Dec)
}

// HorizontalCoordinates holds azimuth and altitude in decimal degrees.
type HorizontalCoordinates struct {
	Az  float64 `json:"az"`
	Alt float64 `json:"alt"`
}

// Validate checks Az in [0, 360) and Alt in [-90, 90].
func (c HorizontalCoordinates) Validate() error {
	if c.Az < 0 || c.Az >= 360 || math.IsNaN(c.Az) {
		return Errorf(ErrInvalidValue, "azimuth %.6f out of range [0, 360)", c.Az)
	}
	if c.Alt < -90 || c.Alt > 90 || math.IsNaN(c.Alt) {
		return Errorf(ErrInvalidValue, "altitude %.6f out of range [-90, 90]", c.Alt)
	}
	return nil
}

// NormalizeAngle maps any angle in degrees into [0, 360).
func NormalizeAngle(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg == 360 || deg == 0 {
		return 0
	}
	return deg
}

// NormalizeHours maps any hour angle into [0, 24).
func NormalizeHours(h float64) float64 {
	h = math.Mod(h, 24)
	if h < 0 {
		h += 24
	}
	if h == 24 || h == 0 {
		return 0
	}
	return h
}
