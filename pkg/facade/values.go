package facade

import (
	"strings"

	"github.com/spf13/cast"

	"astrobridge/pkg/device"
)

// Values arrive from JSON, YAML, MQTT payloads or the command line, so a
// number may be a float64, an int, a json.Number or a string.

func invalid(v any, want string, err error) error {
	return device.Errorf(device.ErrInvalidValue, "%v is not a valid %s: %v", v, want, err)
}

func toFloat(v any) (float64, error) {
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, invalid(v, "number", err)
	}
	return f, nil
}

func toInt(v any) (int, error) {
	if f, ok := v.(float64); ok && f != float64(int(f)) {
		return 0, device.Errorf(device.ErrInvalidValue, "%v is not an integer", v)
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, invalid(v, "integer", err)
	}
	return n, nil
}

func toBool(v any) (bool, error) {
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, invalid(v, "boolean", err)
	}
	return b, nil
}

func toString(v any) (string, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", invalid(v, "string", err)
	}
	return s, nil
}

// ignore accepts any value; used by write-only commands without argument.
func ignore(any) (struct{}, error) { return struct{}{}, nil }

type enum interface {
	~int
	String() string
}

// toEnum accepts either the name of a value (case-insensitive) or its
// numeric code.
func toEnum[T enum](values ...T) func(any) (T, error) {
	return func(v any) (T, error) {
		if s, ok := v.(string); ok {
			for _, e := range values {
				if strings.EqualFold(e.String(), strings.TrimSpace(s)) {
					return e, nil
				}
			}
		}
		if n, err := cast.ToIntE(v); err == nil {
			for _, e := range values {
				if int(e) == n {
					return e, nil
				}
			}
		}
		var zero T
		return zero, device.Errorf(device.ErrInvalidValue, "%v is not one of %v", v, values)
	}
}

// pair reads two numbers given as a two-element list or as an object with
// the two keys.
func pair(first, second string) func(any) ([2]float64, error) {
	return func(v any) ([2]float64, error) {
		var out [2]float64
		if m, err := cast.ToStringMapE(v); err == nil && len(m) > 0 {
			a, okA := lookup(m, first)
			b, okB := lookup(m, second)
			if !okA || !okB {
				return out, device.Errorf(device.ErrInvalidValue, "expected keys %q and %q", first, second)
			}
			return convertPair(a, b)
		}
		if str, ok := v.(string); ok && strings.Contains(str, ",") {
			parts := strings.Split(str, ",")
			if len(parts) != 2 {
				return out, device.Errorf(device.ErrInvalidValue, "expected %q as %s,%s", str, first, second)
			}
			return convertPair(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
		}
		s, err := cast.ToSliceE(v)
		if err != nil {
			if fs, ok := v.([]float64); ok {
				s = make([]any, len(fs))
				for i, f := range fs {
					s[i] = f
				}
			} else {
				return out, invalid(v, first+"/"+second+" pair", err)
			}
		}
		if len(s) != 2 {
			return out, device.Errorf(device.ErrInvalidValue, "expected [%s, %s], got %d values", first, second, len(s))
		}
		return convertPair(s[0], s[1])
	}
}

func lookup(m map[string]any, key string) (any, bool) {
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func convertPair(a, b any) ([2]float64, error) {
	x, err := toFloat(a)
	if err != nil {
		return [2]float64{}, err
	}
	y, err := toFloat(b)
	if err != nil {
		return [2]float64{}, err
	}
	return [2]float64{x, y}, nil
}
