package indiclient

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"astrobridge/pkg/device"
)

// ProtocolVersion is announced in getProperties.
const ProtocolVersion = "1.7"

// TimestampLayout is the INDI timestamp format (UTC, no zone suffix).
const TimestampLayout = "2006-01-02T15:04:05"

// Verb is the prefix of a vector message.
type Verb string

const (
	VerbDef Verb = "def"
	VerbSet Verb = "set"
	VerbNew Verb = "new"
)

// BLOBMode is the argument of enableBLOB.
type BLOBMode string

const (
	BLOBNever BLOBMode = "Never"
	BLOBAlso  BLOBMode = "Also"
	BLOBOnly  BLOBMode = "Only"
)

// Message is one decoded top-level INDI element.
type Message struct {
	Tag string
	// Verb and Property are set for vector messages.
	Verb     Verb
	Property *Property

	Device    string
	Name      string
	Version   string
	Timestamp string
	Text      string
}

type wireElement struct {
	XMLName xml.Name
	Name    string `xml:"name,attr"`
	Label   string `xml:"label,attr,omitempty"`
	Format  string `xml:"format,attr,omitempty"`
	Min     string `xml:"min,attr,omitempty"`
	Max     string `xml:"max,attr,omitempty"`
	Step    string `xml:"step,attr,omitempty"`
	Size    string `xml:"size,attr,omitempty"`
	Enclen  string `xml:"enclen,attr,omitempty"`
	Value   string `xml:",chardata"`
}

type wireVector struct {
	XMLName   xml.Name
	Device    string        `xml:"device,attr"`
	Name      string        `xml:"name,attr"`
	Label     string        `xml:"label,attr,omitempty"`
	Group     string        `xml:"group,attr,omitempty"`
	State     string        `xml:"state,attr,omitempty"`
	Perm      string        `xml:"perm,attr,omitempty"`
	Rule      string        `xml:"rule,attr,omitempty"`
	Timeout   string        `xml:"timeout,attr,omitempty"`
	Timestamp string        `xml:"timestamp,attr,omitempty"`
	Message   string        `xml:"message,attr,omitempty"`
	Elements  []wireElement `xml:",any"`
}

type wireControl struct {
	XMLName   xml.Name
	Device    string `xml:"device,attr,omitempty"`
	Name      string `xml:"name,attr,omitempty"`
	Version   string `xml:"version,attr,omitempty"`
	Timestamp string `xml:"timestamp,attr,omitempty"`
	Message   string `xml:"message,attr,omitempty"`
	Value     string `xml:",chardata"`
}

// wireTypeName is the type word used in tags, e.g. "Number" in
// defNumberVector.
func wireTypeName(t PropertyType) string {
	return t.String()
}

func parseVectorTag(tag string) (Verb, PropertyType, bool) {
	if !strings.HasSuffix(tag, "Vector") || len(tag) < 3 {
		return "", 0, false
	}
	verb := Verb(tag[:3])
	if verb != VerbDef && verb != VerbSet && verb != VerbNew {
		return "", 0, false
	}
	word := strings.TrimSuffix(tag[3:], "Vector")
	for t := NumberType; t <= BLOBType; t++ {
		if wireTypeName(t) == word {
			return verb, t, true
		}
	}
	return "", 0, false
}

// ReadMessage decodes the next top-level element from dec.
func ReadMessage(dec *xml.Decoder) (*Message, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		tag := start.Name.Local
		if verb, typ, ok := parseVectorTag(tag); ok {
			var v wireVector
			if err := dec.DecodeElement(&v, &start); err != nil {
				return nil, fmt.Errorf("decode %s: %w", tag, err)
			}
			p, err := v.property(verb, typ)
			if err != nil {
				return nil, err
			}
			return &Message{Tag: tag, Verb: verb, Property: p, Device: p.Device, Name: p.Name, Timestamp: p.Timestamp, Text: p.Message}, nil
		}

		var c wireControl
		if err := dec.DecodeElement(&c, &start); err != nil {
			return nil, fmt.Errorf("decode %s: %w", tag, err)
		}
		m := &Message{Tag: tag, Device: c.Device, Name: c.Name, Version: c.Version, Timestamp: c.Timestamp, Text: c.Message}
		if tag == "enableBLOB" {
			m.Text = strings.TrimSpace(c.Value)
		}
		return m, nil
	}
}

func (v *wireVector) property(verb Verb, typ PropertyType) (*Property, error) {
	p := &Property{
		Device:     v.Device,
		Name:       v.Name,
		Label:      v.Label,
		Group:      v.Group,
		Type:       typ,
		State:      device.ParsePropertyState(v.State),
		Permission: Permission(v.Perm),
		Rule:       SwitchRule(v.Rule),
		Timestamp:  v.Timestamp,
		Message:    v.Message,
		Elements:   make([]Element, 0, len(v.Elements)),
	}
	if v.State == "" {
		p.State = device.PropertyIdle
	}
	if typ == LightType {
		p.Permission = ReadOnly
	}
	if v.Timeout != "" {
		p.Timeout, _ = strconv.ParseFloat(v.Timeout, 64)
	}

	for _, we := range v.Elements {
		e := Element{Name: we.Name, Label: we.Label}
		value := strings.TrimSpace(we.Value)
		switch typ {
		case NumberType:
			n, err := ParseNumber(value)
			if err != nil && verb != VerbDef {
				return nil, fmt.Errorf("%s.%s.%s: %w", v.Device, v.Name, we.Name, err)
			}
			e.Number = n
			e.Format = we.Format
			e.Min, _ = ParseNumber(we.Min)
			e.Max, _ = ParseNumber(we.Max)
			e.Step, _ = ParseNumber(we.Step)
		case TextType:
			e.Text = value
		case SwitchType:
			e.Switch = strings.EqualFold(value, "On")
		case LightType:
			e.Light = device.ParsePropertyState(value)
		case BLOBType:
			e.BLOBFormat = we.Format
			e.BLOBSize, _ = strconv.Atoi(we.Size)
			if value != "" {
				data, err := base64.StdEncoding.DecodeString(stripSpace(value))
				if err != nil {
					return nil, fmt.Errorf("%s.%s.%s: invalid BLOB: %w", v.Device, v.Name, we.Name, err)
				}
				e.BLOB = data
			}
		}
		p.Elements = append(p.Elements, e)
	}
	return p, nil
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)
}

// WriteVector encodes p as a def, set or new vector.
func WriteVector(w io.Writer, verb Verb, p *Property) error {
	v := wireVector{
		XMLName:   xml.Name{Local: string(verb) + wireTypeName(p.Type) + "Vector"},
		Device:    p.Device,
		Name:      p.Name,
		Timestamp: p.Timestamp,
	}
	if v.Timestamp == "" {
		v.Timestamp = time.Now().UTC().Format(TimestampLayout)
	}
	if verb != VerbNew {
		v.State = p.State.String()
		v.Message = p.Message
		if p.Timeout != 0 {
			v.Timeout = FormatNumber(p.Timeout)
		}
	}
	if verb == VerbDef {
		v.Label, v.Group = p.Label, p.Group
		if p.Type != LightType {
			v.Perm = string(p.Permission)
		}
		if p.Type == SwitchType {
			v.Rule = string(p.Rule)
		}
	}

	prefix := "one"
	if verb == VerbDef {
		prefix = "def"
	}
	for _, e := range p.Elements {
		we := wireElement{
			XMLName: xml.Name{Local: prefix + wireTypeName(p.Type)},
			Name:    e.Name,
		}
		if verb == VerbDef {
			we.Label = e.Label
		}
		switch p.Type {
		case NumberType:
			we.Value = FormatNumber(e.Number)
			if verb == VerbDef {
				we.Format = e.Format
				if we.Format == "" {
					we.Format = "%g"
				}
				we.Min, we.Max, we.Step = FormatNumber(e.Min), FormatNumber(e.Max), FormatNumber(e.Step)
			}
		case TextType:
			we.Value = e.Text
		case SwitchType:
			we.Value = "Off"
			if e.Switch {
				we.Value = "On"
			}
		case LightType:
			we.Value = e.Light.String()
		case BLOBType:
			if verb != VerbDef {
				enc := base64.StdEncoding.EncodeToString(e.BLOB)
				we.Format = e.BLOBFormat
				we.Size = strconv.Itoa(len(e.BLOB))
				we.Enclen = strconv.Itoa(len(enc))
				we.Value = enc
			}
		}
		v.Elements = append(v.Elements, we)
	}
	return encode(w, v)
}

// WriteGetProperties asks for definitions; empty device and name mean all.
func WriteGetProperties(w io.Writer, device, name string) error {
	return encode(w, wireControl{XMLName: xml.Name{Local: "getProperties"}, Version: ProtocolVersion, Device: device, Name: name})
}

func WriteEnableBLOB(w io.Writer, device, name string, mode BLOBMode) error {
	return encode(w, wireControl{XMLName: xml.Name{Local: "enableBLOB"}, Device: device, Name: name, Value: string(mode)})
}

func WriteDelProperty(w io.Writer, device, name string) error {
	return encode(w, wireControl{XMLName: xml.Name{Local: "delProperty"}, Device: device, Name: name, Timestamp: time.Now().UTC().Format(TimestampLayout)})
}

func WriteMessage(w io.Writer, device, text string) error {
	return encode(w, wireControl{XMLName: xml.Name{Local: "message"}, Device: device, Message: text, Timestamp: time.Now().UTC().Format(TimestampLayout)})
}

func encode(w io.Writer, v any) error {
	b, err := xml.Marshal(v)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}
