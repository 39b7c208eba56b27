package ids

import "fmt"

const (
	// MaxWindow is the largest window index (13 bits).
	MaxWindow uint32 = 8191
	// MaxSlot is the largest slot index within a window.
	MaxSlot uint32 = 1022

	slotBits = 10
	// MaxValue is the largest encodable composite value, 2^23-1.
	MaxValue uint32 = 1<<23 - 1
)

// CompositeID is the (window, slot) replay-protection identifier used by the
// high-throughput account variant.
type CompositeID struct {
	Window uint32 `json:"window"`
	Slot   uint32 `json:"slot"`
}

// Valid reports whether both halves are inside their ranges.
func (c CompositeID) Valid() bool {
	return c.Window <= MaxWindow && c.Slot <= MaxSlot
}

// Value encodes the pair as (window << 10) + slot.
func (c CompositeID) Value() uint32 {
	return c.Window<<slotBits + c.Slot
}

// Exhausted reports whether this is the terminal cursor position.
func (c CompositeID) Exhausted() bool {
	return c.Window == MaxWindow && c.Slot == MaxSlot
}

// Successor returns the cursor position following c. Callers must check
// Exhausted first.
func (c CompositeID) Successor() CompositeID {
	if c.Slot >= MaxSlot {
		return CompositeID{Window: c.Window + 1, Slot: 1}
	}
	return CompositeID{Window: c.Window, Slot: c.Slot + 1}
}

func (c CompositeID) String() string {
	return fmt.Sprintf("%d:%d", c.Window, c.Slot)
}

// Decode splits a composite value back into its pair.
func Decode(value uint32) (CompositeID, error) {
	if value > MaxValue {
		return CompositeID{}, fmt.Errorf("ids: value %d exceeds %d", value, MaxValue)
	}
	id := CompositeID{Window: value >> slotBits, Slot: value & (1<<slotBits - 1)}
	if !id.Valid() {
		return CompositeID{}, fmt.Errorf("ids: value %d decodes to reserved slot %d", value, id.Slot)
	}
	return id, nil
}
