package facade

import (
	"sort"
	"sync"
	"time"

	"astrobridge/pkg/device"
)

// subscribers fans normalized events out to registered callbacks.
type subscribers struct {
	mu     sync.RWMutex
	nextID int
	fns    map[int]device.EventCallback
}

func (s *subscribers) add(cb device.EventCallback) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fns == nil {
		s.fns = make(map[int]device.EventCallback)
	}
	id := s.nextID
	s.nextID++
	s.fns[id] = cb

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.fns, id)
			s.mu.Unlock()
		})
	}
}

func (s *subscribers) snapshot() []device.EventCallback {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]int, 0, len(s.fns))
	for id := range s.fns {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]device.EventCallback, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.fns[id])
	}
	return fns
}

// RegisterEventCallback adds cb to the normalized event stream and returns
// a function that removes it. Callbacks run on the goroutine that produced
// the event; events of one device never overlap.
func (f *Facade) RegisterEventCallback(cb device.EventCallback) (unregister func()) {
	return f.subs.add(cb)
}

// Normalize maps a device event onto the façade's event kinds. Property
// definitions, deletions, driver messages and BLOB arrivals all surface as
// PropertyChanged.
func Normalize(e device.Event) device.Event {
	switch e.Type {
	case device.EventDeviceConnected, device.EventDeviceDisconnected, device.EventPropertyChanged,
		device.EventError, device.EventServerConnected, device.EventServerDisconnected:
		return e
	case device.EventMessageReceived:
		if e.PropertyName == "" {
			e.PropertyName = "message"
		}
	}
	if e.Data == nil {
		e.Data = map[string]string{"event": e.Type.String()}
	}
	e.Type = device.EventPropertyChanged
	return e
}

func (f *Facade) forward(e device.Event) {
	f.emit(Normalize(e))
}

func (f *Facade) emit(e device.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	for _, cb := range f.subs.snapshot() {
		cb(e)
	}
}

func errorData(err error) device.ErrorData {
	return device.ErrorData{Kind: device.KindName(err), Code: device.CodeOf(err)}
}
