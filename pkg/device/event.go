package device

import "time"

// EventType enumerates the normalized event kinds published by devices and
// by the façade.
type EventType int

const (
	EventDeviceConnected EventType = iota
	EventDeviceDisconnected
	EventPropertyChanged
	EventError
	EventServerConnected
	EventServerDisconnected
	EventPropertyDefined
	EventPropertyDeleted
	EventMessageReceived
	EventBlobReceived
)

var eventTypeNames = []string{
	"DeviceConnected",
	"DeviceDisconnected",
	"PropertyChanged",
	"Error",
	"ServerConnected",
	"ServerDisconnected",
	"PropertyDefined",
	"PropertyDeleted",
	"MessageReceived",
	"BlobReceived",
}

func (t EventType) String() string {
	return enumName(eventTypeNames, int(t))
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *EventType) UnmarshalText(b []byte) error {
	*t = EventType(enumIndex(eventTypeNames, string(b), int(EventError)))
	return nil
}

// Event is the unit of the event stream.
type Event struct {
	Type         EventType `json:"type"`
	DeviceName   string    `json:"deviceName"`
	PropertyName string    `json:"propertyName,omitempty"`
	Message      string    `json:"message"`
	Data         any       `json:"data"`
	Timestamp    time.Time `json:"timestamp"`
}

// EventCallback receives events. Callbacks run on the emitting goroutine and
// must not block.
type EventCallback func(Event)

// ErrorData is the payload of an EventError.
type ErrorData struct {
	Kind string `json:"kind"`
	Code int    `json:"code,omitempty"`
}
