package samples

import (
	"encoding/json"
	"fmt"
)

// NumSlots is the fixed number of pack slots on the device.
const NumSlots = 10

// Pack is a named sample pack as served by the pack store and as written
// to the device. Loop records are kept as raw JSON because the store
// schema for individual loops is open-ended.
type Pack struct {
	Name  string            `json:"name"`
	Loops []json.RawMessage `json:"loops"`
}

// Collection is a full device inventory: an ordered sequence of exactly
// NumSlots slots, each holding a pack or nil for an empty slot.
type Collection []*Pack

// Validate checks the fixed-size slot invariant.
func (c Collection) Validate() error {
	if len(c) != NumSlots {
		return fmt.Errorf("sample collection must have %d slots, got %d", NumSlots, len(c))
	}

	return nil
}
