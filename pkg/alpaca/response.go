package alpaca

import (
	"encoding/json"
	"fmt"

	"astrobridge/pkg/device"
)

// Response is the common envelope of every Alpaca reply. Value is kept raw
// and decoded on demand by the typed accessors.
type Response struct {
	ClientTransactionID uint32          `json:"ClientTransactionID"`
	ServerTransactionID uint32          `json:"ServerTransactionID"`
	ErrorNumber         int             `json:"ErrorNumber"`
	ErrorMessage        string          `json:"ErrorMessage"`
	Value               json.RawMessage `json:"Value,omitempty"`

	// transport marks failures produced locally rather than by the server.
	transport bool
}

func (r *Response) OK() bool {
	return r != nil && r.ErrorNumber == 0
}

// Err returns nil on success, or the error carried by the response.
func (r *Response) Err() error {
	return ErrorFromResponse(r)
}

// Decode unmarshals Value into v.
func (r *Response) Decode(v any) error {
	if err := r.Err(); err != nil {
		return err
	}
	if len(r.Value) == 0 {
		return &device.Error{Kind: device.ErrValueNotSet, Code: CodeValueNotSet, Message: "response carries no value"}
	}
	if err := json.Unmarshal(r.Value, v); err != nil {
		return &device.Error{Kind: device.ErrTransport, Code: CodeUnspecified, Message: fmt.Sprintf("Failed to parse response: %v", err)}
	}
	return nil
}

func (r *Response) Bool() (bool, error) {
	var v bool
	err := r.Decode(&v)
	return v, err
}

func (r *Response) Int() (int, error) {
	// Some drivers send integral values as floats.
	var f float64
	if err := r.Decode(&f); err != nil {
		return 0, err
	}
	return int(f), nil
}

func (r *Response) Float() (float64, error) {
	var v float64
	err := r.Decode(&v)
	return v, err
}

func (r *Response) Text() (string, error) {
	var v string
	err := r.Decode(&v)
	return v, err
}

func (r *Response) Strings() ([]string, error) {
	var v []string
	err := r.Decode(&v)
	return v, err
}

func (r *Response) Ints() ([]int, error) {
	var v []int
	err := r.Decode(&v)
	return v, err
}

func failure(code int, format string, args ...any) *Response {
	return &Response{ErrorNumber: code, ErrorMessage: fmt.Sprintf(format, args...), transport: true}
}
