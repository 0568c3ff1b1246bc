package device

// FilterSlot describes one position of a filter wheel. Slots are numbered
// from the wheel's minimum position.
type FilterSlot struct {
	Position    int    `json:"position"`
	Name        string `json:"name"`
	FocusOffset int    `json:"focusOffset"`
}

// FilterMoving is the transient position reported while the wheel rotates.
const FilterMoving = -1

type FilterWheelStatus struct {
	State    MotionState  `json:"filterWheelState"`
	Position int          `json:"position"`
	Target   int          `json:"target"`
	Min      int          `json:"min"`
	Max      int          `json:"max"`
	Slots    []FilterSlot `json:"slots"`
}

type FilterWheel interface {
	Device
	Positional

	Status() FilterWheelStatus
	Position() int
	SetPosition(p int) error
	Range() (min, max int)
	Slots() []FilterSlot
	FilterNames() []string
	FocusOffsets() []int
	SetFilterName(position int, name string) error
}

// SlotsFrom pairs names and offsets by index, starting at first.
func SlotsFrom(first int, names []string, offsets []int) []FilterSlot {
	n := max(len(names), len(offsets))
	slots := make([]FilterSlot, n)
	for i := range slots {
		slots[i].Position = first + i
		if i < len(names) {
			slots[i].Name = names[i]
		}
		if i < len(offsets) {
			slots[i].FocusOffset = offsets[i]
		}
	}
	return slots
}
