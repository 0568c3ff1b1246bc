package ascom

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/alpaca"
	"astrobridge/pkg/device"
)

// FilterWheel is an ASCOM filter wheel. Positions are zero based and the
// wheel reports FilterMoving while it rotates.
type FilterWheel struct {
	*Base

	mu     sync.RWMutex
	status device.FilterWheelStatus
}

var _ device.FilterWheel = (*FilterWheel)(nil)

func NewFilterWheel(client *alpaca.Client, number int, name string, logger log.FieldLogger) *FilterWheel {
	w := &FilterWheel{Base: newBase(client, device.KindFilterWheel, number, name, logger)}
	w.status.Max = -1
	w.onConnect = w.load
	w.onRefresh = w.refresh
	return w
}

func (w *FilterWheel) load() error {
	names, _ := w.get("names", nil).Strings()
	offsets, _ := w.get("focusoffsets", nil).Ints()

	w.mu.Lock()
	w.status.Min = 0
	w.status.Max = max(len(names), len(offsets)) - 1
	w.status.Slots = device.SlotsFrom(0, names, offsets)
	w.mu.Unlock()
	return w.refresh()
}

func (w *FilterWheel) refresh() error {
	w.Position()
	return nil
}

func (w *FilterWheel) Status() device.FilterWheelStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := w.status
	s.Slots = append([]device.FilterSlot(nil), w.status.Slots...)
	return s
}

func (w *FilterWheel) Range() (lo, hi int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status.Min, w.status.Max
}

func (w *FilterWheel) Slots() []device.FilterSlot { return w.Status().Slots }

func (w *FilterWheel) FilterNames() []string {
	slots := w.Slots()
	names := make([]string, len(slots))
	for i, s := range slots {
		names[i] = s.Name
	}
	return names
}

func (w *FilterWheel) FocusOffsets() []int {
	slots := w.Slots()
	offsets := make([]int, len(slots))
	for i, s := range slots {
		offsets[i] = s.FocusOffset
	}
	return offsets
}

// Position reads the current slot, or FilterMoving while rotating.
func (w *FilterWheel) Position() int {
	v, ok := w.GetInt("position")
	w.mu.Lock()
	defer w.mu.Unlock()
	if !ok {
		return w.status.Position
	}
	w.status.Position = v
	if v == device.FilterMoving {
		w.status.State = device.MotionMoving
	} else if w.status.State == device.MotionMoving {
		w.status.State = device.MotionIdle
	}
	return v
}

func (w *FilterWheel) SetPosition(p int) error {
	if err := w.RequireConnected(); err != nil {
		return w.Fail("position", err)
	}
	lo, hi := w.Range()
	if p < lo || p > hi {
		return w.invalid("position", "filter position %d out of range [%d, %d]", p, lo, hi)
	}
	if err := w.SetInt("position", "Position", p); err != nil {
		return err
	}
	w.mu.Lock()
	w.status.Target = p
	w.status.State = device.MotionMoving
	w.mu.Unlock()
	return nil
}

func (w *FilterWheel) IsMoving() bool {
	return w.Position() == device.FilterMoving
}

func (w *FilterWheel) WaitForMove(timeout time.Duration) bool {
	done := w.poll(timeout, func() bool { return !w.IsMoving() })
	if done {
		w.mu.Lock()
		w.status.State = device.MotionIdle
		pos := w.status.Position
		w.mu.Unlock()
		w.Emit(device.EventPropertyChanged, "position", "filter in place", pos)
	}
	return done
}

// SetFilterName is refused: ASCOM filter names are read-only.
func (w *FilterWheel) SetFilterName(position int, name string) error {
	return w.Fail("names", device.Errorf(device.ErrNotImplemented, "filter names are read-only on ASCOM filter wheels"))
}
