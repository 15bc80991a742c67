package rewards

import (
	"sync"

	"github.com/aiqnetlab/qnet-node/internal/qnhash"
	"github.com/aiqnetlab/qnet-node/pkg/models"
)

const (
	superPingSlots = 24
)

// SlotScheduler computes and memoizes each node's deterministic ping slot
// (§4.C.2: slot = blake2b_u64(node_id) mod S). The slot doesn't depend on
// the window index, so once computed for a node it never changes.
type SlotScheduler struct {
	mu           sync.Mutex
	memo         map[models.NodeID]models.PingSlotAssignment
	otherSlots   uint32
}

// NewSlotScheduler creates a scheduler; otherSlots is S for non-Super nodes
// (240 by default, configurable — Super nodes always use the fixed 24).
func NewSlotScheduler(otherSlots int) *SlotScheduler {
	if otherSlots <= 0 {
		otherSlots = 240
	}
	return &SlotScheduler{
		memo:       make(map[models.NodeID]models.PingSlotAssignment),
		otherSlots: uint32(otherSlots),
	}
}

// SlotFor returns (and memoizes) nodeID's ping slot assignment.
func (s *SlotScheduler) SlotFor(nodeID models.NodeID, nodeType models.NodeType) models.PingSlotAssignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.memo[nodeID]; ok {
		return a
	}
	slotCount := s.otherSlots
	if nodeType == models.NodeTypeSuper {
		slotCount = superPingSlots
	}
	assignment := models.PingSlotAssignment{
		NodeID:    nodeID,
		Slot:      uint32(qnhash.U64(nodeID[:]) % uint64(slotCount)),
		SlotCount: slotCount,
	}
	s.memo[nodeID] = assignment
	return assignment
}
