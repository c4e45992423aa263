package core

import (
	"reflect"
	"testing"

	"github.com/jabolina/go-hub/pkg/hub/types"
)

func undirected(g *Graph, a, b types.PeerID) {
	g.AddEdge(a, b)
	g.AddEdge(b, a)
}

func TestRoutingTable_LineTopology(t *testing.T) {
	a, b, c := peer(0x01), peer(0x02), peer(0x03)
	g := NewGraph()
	undirected(g, a, b)
	undirected(g, b, c)

	table := NewBroadcastRoutingTable(b)
	table.Recalculate(g)

	// From a the middle node relays to c, and the other way
	// around.
	if targets := table.Targets(a); !reflect.DeepEqual(targets, []types.PeerID{c}) {
		t.Errorf("targets(a) = %v, want [c]", targets)
	}
	if targets := table.Targets(c); !reflect.DeepEqual(targets, []types.PeerID{a}) {
		t.Errorf("targets(c) = %v, want [a]", targets)
	}
	if targets := table.Targets(b); len(targets) != 2 {
		t.Errorf("targets(b) = %v, want both edges", targets)
	}
}

func TestRoutingTable_EdgeNodesDoNotRelay(t *testing.T) {
	a, b, c := peer(0x01), peer(0x02), peer(0x03)
	g := NewGraph()
	undirected(g, a, b)
	undirected(g, b, c)

	table := NewBroadcastRoutingTable(a)
	table.Recalculate(g)

	if targets := table.Targets(c); len(targets) != 0 {
		t.Errorf("targets(c) = %v, want none", targets)
	}
}

func TestRoutingTable_FullMeshOnlySourceFansOut(t *testing.T) {
	a, b, c := peer(0x01), peer(0x02), peer(0x03)
	g := NewGraph()
	undirected(g, a, b)
	undirected(g, b, c)
	undirected(g, a, c)

	for _, local := range []types.PeerID{b, c} {
		table := NewBroadcastRoutingTable(local)
		table.Recalculate(g)
		if targets := table.Targets(a); len(targets) != 0 {
			t.Errorf("local %v: targets(a) = %v, want none on a mesh", local, targets)
		}
	}
}

func TestRoutingTable_TieBreakOnLowestParent(t *testing.T) {
	// Diamond: s connects to both b and c, both reach d. The
	// lowest id parent wins d.
	s, b, c, d := peer(0x01), peer(0x02), peer(0x03), peer(0x04)
	g := NewGraph()
	undirected(g, s, b)
	undirected(g, s, c)
	undirected(g, b, d)
	undirected(g, c, d)

	winner := NewBroadcastRoutingTable(b)
	winner.Recalculate(g)
	if targets := winner.Targets(s); !reflect.DeepEqual(targets, []types.PeerID{d}) {
		t.Errorf("targets(s) at b = %v, want [d]", targets)
	}

	loser := NewBroadcastRoutingTable(c)
	loser.Recalculate(g)
	if targets := loser.Targets(s); len(targets) != 0 {
		t.Errorf("targets(s) at c = %v, want none", targets)
	}
}

func TestRoutingTable_EveryNodeReachedExactlyOnce(t *testing.T) {
	// On any topology the union of forward sets plus the source
	// fan-out must cover each node exactly once.
	ids := []types.PeerID{peer(0x01), peer(0x02), peer(0x03), peer(0x04), peer(0x05)}
	g := NewGraph()
	undirected(g, ids[0], ids[1])
	undirected(g, ids[0], ids[2])
	undirected(g, ids[1], ids[3])
	undirected(g, ids[2], ids[4])
	undirected(g, ids[3], ids[4])

	for _, source := range ids {
		delivered := make(map[types.PeerID]int)
		for _, local := range ids {
			table := NewBroadcastRoutingTable(local)
			table.Recalculate(g)
			for _, target := range table.Targets(source) {
				delivered[target]++
			}
		}
		for _, id := range ids {
			if id == source {
				continue
			}
			if delivered[id] != 1 {
				t.Errorf("source %v: node %v delivered %d times", source, id, delivered[id])
			}
		}
	}
}
