package indiclient

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"astrobridge/pkg/device"
)

type PropertyType int

const (
	NumberType PropertyType = iota
	TextType
	SwitchType
	LightType
	BLOBType
)

var propertyTypeNames = []string{"Number", "Text", "Switch", "Light", "BLOB"}

func (t PropertyType) String() string {
	if t < NumberType || t > BLOBType {
		return "Unknown"
	}
	return propertyTypeNames[t]
}

func (t PropertyType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *PropertyType) UnmarshalText(b []byte) error {
	for i, n := range propertyTypeNames {
		if strings.EqualFold(n, string(b)) {
			*t = PropertyType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown property type %q", b)
}

// Permission is the INDI perm attribute: "ro", "wo" or "rw".
type Permission string

const (
	ReadOnly  Permission = "ro"
	WriteOnly Permission = "wo"
	ReadWrite Permission = "rw"
)

// SwitchRule is the INDI rule attribute of switch vectors.
type SwitchRule string

const (
	OneOfMany SwitchRule = "OneOfMany"
	AtMostOne SwitchRule = "AtMostOne"
	AnyOfMany SwitchRule = "AnyOfMany"
)

// Element is one member of a property vector. Which payload fields are
// meaningful depends on the property type.
type Element struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`

	Number float64 `json:"number,omitempty"`
	Min    float64 `json:"min,omitempty"`
	Max    float64 `json:"max,omitempty"`
	Step   float64 `json:"step,omitempty"`
	Format string  `json:"format,omitempty"`

	Text   string               `json:"text,omitempty"`
	Switch bool                 `json:"switch,omitempty"`
	Light  device.PropertyState `json:"light,omitempty"`

	BLOB       []byte `json:"blob,omitempty"`
	BLOBFormat string `json:"blobFormat,omitempty"`
	BLOBSize   int    `json:"blobSize,omitempty"`
}

// Property is a named, typed vector of elements owned by a device.
type Property struct {
	Device     string               `json:"device"`
	Name       string               `json:"name"`
	Label      string               `json:"label,omitempty"`
	Group      string               `json:"group,omitempty"`
	Type       PropertyType         `json:"type"`
	State      device.PropertyState `json:"state"`
	Permission Permission           `json:"permission"`
	Rule       SwitchRule           `json:"rule,omitempty"`
	Timeout    float64              `json:"timeout,omitempty"`
	Timestamp  string               `json:"timestamp,omitempty"`
	Message    string               `json:"message,omitempty"`
	Elements   []Element            `json:"elements"`
}

// Key identifies a property in the cache.
type Key struct {
	Device string
	Name   string
}

func (p *Property) Key() Key { return Key{p.Device, p.Name} }

// Clone returns a deep copy.
func (p *Property) Clone() *Property {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Elements = make([]Element, len(p.Elements))
	copy(cp.Elements, p.Elements)
	for i := range cp.Elements {
		if b := cp.Elements[i].BLOB; b != nil {
			cp.Elements[i].BLOB = append([]byte(nil), b...)
		}
	}
	return &cp
}

// IsWritable reports whether the permission contains "w".
func (p *Property) IsWritable() bool {
	return p.Type != LightType && strings.Contains(string(p.Permission), "w")
}

// IsReadable reports whether the permission contains "r". Lights are
// always readable.
func (p *Property) IsReadable() bool {
	return p.Type == LightType || strings.Contains(string(p.Permission), "r")
}

func (p *Property) Element(name string) (*Element, bool) {
	for i := range p.Elements {
		if p.Elements[i].Name == name {
			return &p.Elements[i], true
		}
	}
	return nil, false
}

func (p *Property) Number(name string) (float64, bool) {
	e, ok := p.Element(name)
	if !ok {
		return 0, false
	}
	return e.Number, true
}

func (p *Property) Text(name string) (string, bool) {
	e, ok := p.Element(name)
	if !ok {
		return "", false
	}
	return e.Text, true
}

// Switch reports the switch element value; a missing element reads as off.
func (p *Property) Switch(name string) bool {
	e, ok := p.Element(name)
	return ok && e.Switch
}

// OnSwitch returns the name of the first switch that is on.
func (p *Property) OnSwitch() (string, bool) {
	for _, e := range p.Elements {
		if e.Switch {
			return e.Name, true
		}
	}
	return "", false
}

// Merge copies values and state from an update into p. Elements absent from
// p are appended.
func (p *Property) Merge(update *Property) {
	p.State = update.State
	if update.Timeout != 0 {
		p.Timeout = update.Timeout
	}
	if update.Timestamp != "" {
		p.Timestamp = update.Timestamp
	}
	p.Message = update.Message
	for _, ue := range update.Elements {
		e, ok := p.Element(ue.Name)
		if !ok {
			p.Elements = append(p.Elements, ue)
			continue
		}
		switch p.Type {
		case NumberType:
			e.Number = ue.Number
			if ue.Min != 0 || ue.Max != 0 {
				e.Min, e.Max, e.Step = ue.Min, ue.Max, ue.Step
			}
		case TextType:
			e.Text = ue.Text
		case SwitchType:
			e.Switch = ue.Switch
		case LightType:
			e.Light = ue.Light
		case BLOBType:
			e.BLOB, e.BLOBFormat, e.BLOBSize = ue.BLOB, ue.BLOBFormat, ue.BLOBSize
		}
	}
}

// ParseNumber parses an INDI number, which may be decimal or sexagesimal
// ("12:30:15", "-5 30", "12:30.5").
func ParseNumber(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}

	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ':' || r == ' ' || r == ';' })
	if len(fields) == 0 || len(fields) > 3 {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	neg := strings.HasPrefix(fields[0], "-")
	var v float64
	for i, f := range fields {
		part, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", s, err)
		}
		v += math.Abs(part) / math.Pow(60, float64(i))
	}
	if neg {
		v = -v
	}
	return v, nil
}

// FormatNumber renders v for the wire.
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
