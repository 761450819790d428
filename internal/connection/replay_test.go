package connection

import (
	"testing"

	"github.com/rickgao/livesub/internal/protocol"
)

func TestReplaySet_LatestWins(t *testing.T) {
	s := NewReplaySet()

	s.Record(protocol.Subscribe("feed|s1", "subscription { v1 }"))
	s.Record(protocol.Subscribe("feed|s2", "subscription { v2 }"))

	snap := s.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot has %d entries, want 1", len(snap))
	}
	if got := snap["feed"]; got.ID != "feed|s2" || got.Query() != "subscription { v2 }" {
		t.Errorf("feed = %+v, want latest frame", got)
	}
}

func TestReplaySet_CompleteForgets(t *testing.T) {
	s := NewReplaySet()

	s.Record(protocol.Subscribe("feed", "subscription { v }"))
	if !s.Record(protocol.Complete("feed|salt")) {
		t.Error("complete for a known id should change the set")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after complete, want 0", s.Len())
	}
	if s.Record(protocol.Complete("feed")) {
		t.Error("complete for an unknown id should not change the set")
	}
}

func TestReplaySet_IgnoresMutationsAndControlFrames(t *testing.T) {
	s := NewReplaySet()

	if s.Record(protocol.Subscribe("m", "mutation { markRead }")) {
		t.Error("mutation was recorded")
	}
	if s.Record(protocol.Ping()) {
		t.Error("ping was recorded")
	}
	if s.Record(protocol.ConnectionInit("tok")) {
		t.Error("connection_init was recorded")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestReplaySet_SnapshotIsCopy(t *testing.T) {
	s := NewReplaySet()
	s.Record(protocol.Subscribe("a", "subscription { a }"))

	snap := s.Snapshot()
	delete(snap, "a")

	if s.Len() != 1 {
		t.Errorf("Len() = %d after mutating snapshot, want 1", s.Len())
	}
}

func TestSortedIDs(t *testing.T) {
	m := map[string]protocol.Message{"c": {}, "a": {}, "b": {}}

	got := sortedIDs(m)
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sortedIDs = %v, want %v", got, want)
			break
		}
	}
	if len(sortedIDs(nil)) != 0 {
		t.Error("sortedIDs(nil) should be empty")
	}
}
