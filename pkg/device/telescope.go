package device

type TelescopeState int

const (
	TelescopeIdle TelescopeState = iota
	TelescopeSlewing
	TelescopeTracking
	TelescopeParked
	TelescopeError
)

var telescopeStateNames = []string{"Idle", "Slewing", "Tracking", "Parked", "Error"}

func (s TelescopeState) String() string { return enumName(telescopeStateNames, int(s)) }

func (s TelescopeState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *TelescopeState) UnmarshalText(b []byte) error {
	*s = TelescopeState(enumIndex(telescopeStateNames, string(b), int(TelescopeIdle)))
	return nil
}

// TrackingRate follows the ASCOM DriveRates numbering.
type TrackingRate int

const (
	RateSidereal TrackingRate = iota
	RateLunar
	RateSolar
	RateKing
)

var trackingRateNames = []string{"Sidereal", "Lunar", "Solar", "King"}

func (r TrackingRate) String() string { return enumName(trackingRateNames, int(r)) }

func (r TrackingRate) Valid() bool { return r >= RateSidereal && r <= RateKing }

func (r TrackingRate) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *TrackingRate) UnmarshalText(b []byte) error {
	*r = TrackingRate(enumIndex(trackingRateNames, string(b), int(RateSidereal)))
	return nil
}

// PierSide follows ASCOM: 0=East, 1=West, -1=Unknown.
type PierSide int

const (
	PierUnknown PierSide = -1
	PierEast    PierSide = 0
	PierWest    PierSide = 1
)

func (p PierSide) String() string {
	switch p {
	case PierEast:
		return "East"
	case PierWest:
		return "West"
	}
	return "Unknown"
}

func (p PierSide) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PierSide) UnmarshalText(b []byte) error {
	switch string(b) {
	case "East":
		*p = PierEast
	case "West":
		*p = PierWest
	default:
		*p = PierUnknown
	}
	return nil
}

// TelescopeAxis follows the ASCOM TelescopeAxes numbering.
type TelescopeAxis int

const (
	AxisPrimary TelescopeAxis = iota
	AxisSecondary
	AxisTertiary
)

type TelescopeCapabilities struct {
	CanSlew                  bool `json:"canSlew"`
	CanSlewAsync             bool `json:"canSlewAsync"`
	CanSlewAltAz             bool `json:"canSlewAltAz"`
	CanSlewAltAzAsync        bool `json:"canSlewAltAzAsync"`
	CanSync                  bool `json:"canSync"`
	CanSyncAltAz             bool `json:"canSyncAltAz"`
	CanPark                  bool `json:"canPark"`
	CanUnpark                bool `json:"canUnpark"`
	CanSetPark               bool `json:"canSetPark"`
	CanFindHome              bool `json:"canFindHome"`
	CanSetTracking           bool `json:"canSetTracking"`
	CanPulseGuide            bool `json:"canPulseGuide"`
	CanMoveAxis              bool `json:"canMoveAxis"`
	CanSetGuideRates         bool `json:"canSetGuideRates"`
	CanSetPierSide           bool `json:"canSetPierSide"`
	CanSetRightAscensionRate bool `json:"canSetRightAscensionRate"`
	CanSetDeclinationRate    bool `json:"canSetDeclinationRate"`
}

// ParkInfo describes the park position of a mount or dome.
type ParkInfo struct {
	Parked     bool    `json:"parked"`
	CanPark    bool    `json:"canPark"`
	CanSetPark bool    `json:"canSetPark"`
	RA         float64 `json:"ra,omitempty"`
	Dec        float64 `json:"dec,omitempty"`
	Azimuth    float64 `json:"azimuth,omitempty"`
	Altitude   float64 `json:"altitude,omitempty"`
}

type TelescopeStatus struct {
	State         TelescopeState        `json:"telescopeState"`
	Slewing       bool                  `json:"slewing"`
	Tracking      bool                  `json:"tracking"`
	Parked        bool                  `json:"parked"`
	AtHome        bool                  `json:"atHome"`
	PulseGuiding  bool                  `json:"pulseGuiding"`
	TrackingRate  TrackingRate          `json:"trackingRate"`
	CurrentRADec  EquatorialCoordinates `json:"currentRADEC"`
	TargetRADec   EquatorialCoordinates `json:"targetRADEC"`
	CurrentAzAlt  HorizontalCoordinates `json:"currentAzAlt"`
	PierSide      PierSide              `json:"pierSide"`
	SiderealTime  float64               `json:"siderealTime"`
	RARate        float64               `json:"raRate"`
	DecRate       float64               `json:"decRate"`
	GuideRateRA   float64               `json:"guideRateRA"`
	GuideRateDec  float64               `json:"guideRateDec"`
	SiteLatitude  float64               `json:"siteLatitude"`
	SiteLongitude float64               `json:"siteLongitude"`
}

type Telescope interface {
	Device
	Mount
	Guider

	TelescopeState() TelescopeState
	Capabilities() TelescopeCapabilities
	Status() TelescopeStatus
	SlewToAltAz(az, alt float64) error
	SetTracking(on bool) error
	IsTracking() bool
	SetTrackingRate(rate TrackingRate) error
	SetRightAscensionRate(rate float64) error
	SetDeclinationRate(rate float64) error
	SetGuideRates(raRate, decRate float64) error
	MoveAxis(axis TelescopeAxis, rate float64) error
	FindHome() error
	SetPark() error
	PierSide() PierSide
	SetPierSide(side PierSide) error
	Coordinates() EquatorialCoordinates
	HorizontalCoordinates() HorizontalCoordinates
}
