package core

import (
	"github.com/jabolina/go-hub/pkg/hub/types"
)

// BroadcastRoutingTable precomputes, for every possible message
// source, which neighbors the local node must forward to so a
// single traversal of the membership graph reaches every node
// exactly once.
//
// The rule: run a breadth first traversal from the source; the
// local node forwards to exactly the nodes it is the parent of
// on the traversal tree. Parent ties between nodes at the same
// depth go to the lowest id.
type BroadcastRoutingTable struct {
	// The local peer.
	local types.PeerID

	// Forward targets indexed by the message source.
	targets map[types.PeerID][]types.PeerID
}

func NewBroadcastRoutingTable(local types.PeerID) *BroadcastRoutingTable {
	return &BroadcastRoutingTable{
		local:   local,
		targets: make(map[types.PeerID][]types.PeerID),
	}
}

// Recalculate rebuilds the forwarding sets from the membership
// graph, called once per committed fuse.
func (b *BroadcastRoutingTable) Recalculate(graph *Graph) {
	targets := make(map[types.PeerID][]types.PeerID)
	for _, source := range graph.Nodes.Sorted() {
		targets[source] = b.forwardSet(graph, source)
	}
	b.targets = targets
}

// Targets the local node must forward a message from the given
// source to. Unknown sources have no targets.
func (b *BroadcastRoutingTable) Targets(source types.PeerID) []types.PeerID {
	return b.targets[source]
}

func (b *BroadcastRoutingTable) forwardSet(graph *Graph, source types.PeerID) []types.PeerID {
	parent := make(map[types.PeerID]types.PeerID)
	visited := types.NewPeerSet(source)
	layer := []types.PeerID{source}

	for len(layer) != 0 {
		reached := types.NewPeerSet()
		for _, current := range layer {
			neighbors := graph.Neighbors(current)
			if neighbors == nil {
				continue
			}
			for neighbor := range neighbors {
				if visited.Has(neighbor) {
					continue
				}
				reached.Add(neighbor)
				if candidate, ok := parent[neighbor]; !ok || current.Less(candidate) {
					parent[neighbor] = current
				}
			}
		}
		layer = layer[:0]
		for _, neighbor := range reached.Sorted() {
			visited.Add(neighbor)
			layer = append(layer, neighbor)
		}
	}

	var forward []types.PeerID
	for child, p := range parent {
		if p == b.local {
			forward = append(forward, child)
		}
	}
	set := types.NewPeerSet(forward...)
	return set.Sorted()
}
