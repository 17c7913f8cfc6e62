package registry

import "github.com/heftig/ltntstools/internal/model"

// hashSlots matches the 16-bit hash domain.
const hashSlots = 1 << 16

// Hash collapses a destination address and port to a 16-bit slot index by
// combining the low nibble of the address with the low nibble of the port.
// For AB.CD.EF.GH:IJKL the hash is FGHL. It is intentionally cheap and
// low-quality; correctness never depends on it, only on following every
// candidate with a full-identity comparison.
func Hash(addr uint32, port uint16) uint16 {
	return uint16((addr<<4)&0xfff0) | (port & 0x000f)
}

// hashIndex is a direct-mapped accelerator from the stream hash to the set of
// registry entries sharing it. Slots hold non-owning back-references; the
// registry lock guards all access so that index and registry are never
// observed in a mutually inconsistent state.
type hashIndex struct {
	slots [hashSlots][]*model.Stream
}

// lookup scans the slot's candidate set for an exact header match.
func (hi *hashIndex) lookup(hash uint16, hdr *model.PacketHeaders) *model.Stream {
	for _, st := range hi.slots[hash] {
		if st.Headers.EqualStream(hdr) {
			return st
		}
	}
	return nil
}

func (hi *hashIndex) insert(hash uint16, st *model.Stream) {
	hi.slots[hash] = append(hi.slots[hash], st)
}

func (hi *hashIndex) remove(hash uint16, st *model.Stream) {
	slot := hi.slots[hash]
	for i, e := range slot {
		if e == st {
			hi.slots[hash] = append(slot[:i], slot[i+1:]...)
			return
		}
	}
}

// count returns the number of candidates in a slot.
func (hi *hashIndex) count(hash uint16) int {
	return len(hi.slots[hash])
}
