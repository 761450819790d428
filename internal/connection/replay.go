package connection

import (
	"sort"

	"github.com/rickgao/livesub/internal/protocol"
)

// ReplaySet keeps the last replayable frame sent per logical id.
// Not safe for concurrent use; the manager guards it with its own lock.
type ReplaySet struct {
	last map[string]protocol.Message
}

// NewReplaySet creates an empty set.
func NewReplaySet() *ReplaySet {
	return &ReplaySet{last: make(map[string]protocol.Message)}
}

// Record applies msg to the set. A complete frame forgets its logical id;
// mutations and frames without an id are ignored. Reports whether the set
// changed.
func (s *ReplaySet) Record(msg protocol.Message) bool {
	if msg.ID == "" {
		return false
	}
	logicalID := msg.LogicalID()

	if msg.Type == protocol.TypeComplete {
		if _, ok := s.last[logicalID]; !ok {
			return false
		}
		delete(s.last, logicalID)
		return true
	}
	if msg.IsMutation() {
		return false
	}
	s.last[logicalID] = msg
	return true
}

// Snapshot returns a copy of the set keyed by logical id.
func (s *ReplaySet) Snapshot() map[string]protocol.Message {
	out := make(map[string]protocol.Message, len(s.last))
	for id, msg := range s.last {
		out[id] = msg
	}
	return out
}

// Len returns the number of logical ids with a replayable frame.
func (s *ReplaySet) Len() int {
	return len(s.last)
}

// sortedIDs returns the keys of m in lexical order.
func sortedIDs(m map[string]protocol.Message) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
