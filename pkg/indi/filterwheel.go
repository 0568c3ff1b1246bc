package indi

import (
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"astrobridge/pkg/device"
	"astrobridge/pkg/indiclient"
)

const (
	propFilterSlot = "FILTER_SLOT"
	propFilterName = "FILTER_NAME"
	slotElement    = "FILTER_SLOT_VALUE"
)

// FilterWheel is an INDI filter wheel. Slots are numbered from the minimum
// of FILTER_SLOT, normally 1.
type FilterWheel struct {
	*Base

	mu     sync.Mutex
	target int
}

var _ device.FilterWheel = (*FilterWheel)(nil)

func NewFilterWheel(client *indiclient.Client, name string, logger log.FieldLogger) *FilterWheel {
	w := &FilterWheel{Base: newBase(client, device.KindFilterWheel, name, logger)}
	w.hooks(w.update, nil)
	return w
}

func (w *FilterWheel) update(p *indiclient.Property) {
	if p.Name == propFilterSlot && p.State == device.PropertyOk {
		v, _ := p.Number(slotElement)
		w.Emit(device.EventPropertyChanged, "position", "filter in place", int(v))
	}
}

func (w *FilterWheel) Range() (min, max int) {
	lo, hi, ok := w.numberRange(propFilterSlot, slotElement)
	if !ok {
		return 0, -1
	}
	return int(lo), int(hi)
}

// Position returns FilterMoving while the wheel is turning.
func (w *FilterWheel) Position() int {
	if w.busy(propFilterSlot) {
		return device.FilterMoving
	}
	v, ok := w.number(propFilterSlot, slotElement)
	if !ok {
		return device.FilterMoving
	}
	return int(v)
}

func (w *FilterWheel) SetPosition(pos int) error {
	if err := w.RequireConnected(); err != nil {
		return w.Fail(propFilterSlot, err)
	}
	lo, hi := w.Range()
	if pos < lo || pos > hi {
		return w.invalid(propFilterSlot, "filter position %d outside %d..%d", pos, lo, hi)
	}
	if err := w.setNumber(propFilterSlot, map[string]float64{slotElement: float64(pos)}); err != nil {
		return err
	}
	w.mu.Lock()
	w.target = pos
	w.mu.Unlock()
	return nil
}

func (w *FilterWheel) IsMoving() bool {
	return w.busy(propFilterSlot)
}

func (w *FilterWheel) WaitForMove(timeout time.Duration) bool {
	return w.waitIdle(propFilterSlot, timeout)
}

// FilterNames lists names in slot order. FILTER_NAME elements are named
// FILTER_SLOT_NAME_<n>.
func (w *FilterWheel) FilterNames() []string {
	lo, hi := w.Range()
	if hi < lo {
		return nil
	}
	names := make([]string, hi-lo+1)
	p, ok := w.prop(propFilterName)
	for i := range names {
		names[i] = "Filter " + strconv.Itoa(lo+i)
		if !ok {
			continue
		}
		if v, found := p.Text(slotName(lo + i)); found && v != "" {
			names[i] = v
		}
	}
	return names
}

// FocusOffsets are not part of the INDI filter wheel interface; every slot
// reads as zero.
func (w *FilterWheel) FocusOffsets() []int {
	return make([]int, len(w.FilterNames()))
}

func (w *FilterWheel) Slots() []device.FilterSlot {
	lo, _ := w.Range()
	return device.SlotsFrom(lo, w.FilterNames(), w.FocusOffsets())
}

func (w *FilterWheel) SetFilterName(position int, name string) error {
	if err := w.guard(w.writable(propFilterName), propFilterName); err != nil {
		return err
	}
	if lo, hi := w.Range(); position < lo || position > hi {
		return w.invalid(propFilterName, "filter position %d outside %d..%d", position, lo, hi)
	}
	return w.setText(propFilterName, map[string]string{slotName(position): name})
}

func (w *FilterWheel) Status() device.FilterWheelStatus {
	lo, hi := w.Range()
	st := device.FilterWheelStatus{
		Position: w.Position(),
		Min:      lo,
		Max:      hi,
		Slots:    w.Slots(),
		State:    device.MotionIdle,
	}
	w.mu.Lock()
	st.Target = w.target
	w.mu.Unlock()
	switch w.state(propFilterSlot) {
	case device.PropertyBusy:
		st.State = device.MotionMoving
	case device.PropertyAlert:
		st.State = device.MotionError
	}
	return st
}

func slotName(pos int) string {
	return "FILTER_SLOT_NAME_" + strconv.Itoa(pos)
}
