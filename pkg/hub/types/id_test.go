package types

import (
	"sort"
	"testing"
)

func peer(b byte) PeerID {
	var id PeerID
	id[15] = b
	return id
}

func TestMessageID_Ordering(t *testing.T) {
	ids := []MessageID{
		{Timestamp: 2, Peer: peer(0x01)},
		{Timestamp: 1, Peer: peer(0x03)},
		{Timestamp: 1, Peer: peer(0x02)},
		{Timestamp: 3, Peer: peer(0x01)},
	}

	sort.Slice(ids, func(i, j int) bool {
		return ids[i].Less(ids[j])
	})

	expected := []MessageID{
		{Timestamp: 1, Peer: peer(0x02)},
		{Timestamp: 1, Peer: peer(0x03)},
		{Timestamp: 2, Peer: peer(0x01)},
		{Timestamp: 3, Peer: peer(0x01)},
	}

	for i, id := range ids {
		if !id.Equal(expected[i]) {
			t.Errorf("position %d: got %v, want %v", i, id, expected[i])
		}
	}
}

func TestMessageID_KeyPreservesOrdering(t *testing.T) {
	ids := []MessageID{
		{Timestamp: 0, Peer: peer(0x00)},
		{Timestamp: 0, Peer: peer(0x01)},
		{Timestamp: 1, Peer: peer(0x00)},
		{Timestamp: 255, Peer: peer(0xff)},
		{Timestamp: 256, Peer: peer(0x00)},
		{Timestamp: 1 << 40, Peer: peer(0x02)},
	}

	for i := 0; i < len(ids)-1; i++ {
		if !ids[i].Less(ids[i+1]) {
			t.Fatalf("fixture not ordered at %d", i)
		}
		if ids[i].Key() >= ids[i+1].Key() {
			t.Errorf("key ordering broken between %v and %v", ids[i], ids[i+1])
		}
	}
}

func TestPeerSet_Operations(t *testing.T) {
	set := NewPeerSet(peer(0x01), peer(0x02))
	if !set.Has(peer(0x01)) || !set.Has(peer(0x02)) {
		t.Errorf("missing members on %v", set)
	}
	if set.Has(peer(0x03)) {
		t.Errorf("unexpected member on %v", set)
	}

	other := set.Copy()
	other.Add(peer(0x03))
	if set.Equal(other) {
		t.Errorf("copy mutation leaked into the original")
	}

	diff := other.Difference(set)
	if len(diff) != 1 || !diff.Has(peer(0x03)) {
		t.Errorf("difference = %v, want only %v", diff, peer(0x03))
	}

	sorted := other.Sorted()
	for i := 0; i < len(sorted)-1; i++ {
		if !sorted[i].Less(sorted[i+1]) {
			t.Errorf("sorted members out of order: %v", sorted)
		}
	}
}
