package xfer

import "github.com/tfslab/tfsd/internal/shared/id"

// Item is one payload unit awaiting consumption. An item is created by
// exactly one Write call and destroyed by exactly one Release call; after
// enqueue nothing is mutated except the unit's reference count.
type Item struct {
	// Offset is the logical position the payload corresponds to.
	Offset int64

	// Size is the payload length in bytes. 0 denotes a marker item.
	Size int

	// DebugID identifies the item in logs. Not used for correctness.
	DebugID id.XferID

	unit *Unit
}

// Marker reports whether the item is a zero-length payload event with no
// backing memory.
func (it *Item) Marker() bool {
	return it.unit == nil
}

// Unit returns the item's backing memory, nil for markers.
func (it *Item) Unit() *Unit {
	return it.unit
}

// Info is the head-item metadata returned by Peek. It grants no memory
// access.
type Info struct {
	Offset  int64     `json:"offset"`
	Size    int       `json:"size"`
	DebugID id.XferID `json:"debug_id"`
}

func (it *Item) info() Info {
	return Info{
		Offset:  it.Offset,
		Size:    it.Size,
		DebugID: it.DebugID,
	}
}
