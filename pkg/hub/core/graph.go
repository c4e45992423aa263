package core

import (
	"github.com/jabolina/go-hub/pkg/hub/types"
)

// Directed membership graph over peer ids.
type Graph struct {
	Nodes types.PeerSet
	edges map[types.PeerID]types.PeerSet
}

func NewGraph() *Graph {
	return &Graph{
		Nodes: types.NewPeerSet(),
		edges: make(map[types.PeerID]types.PeerSet),
	}
}

// SingleNodeGraph is the genesis membership, only ourselves.
func SingleNodeGraph(id types.PeerID) *Graph {
	g := NewGraph()
	g.Nodes.Add(id)
	return g
}

// AddEdge inserts a directed edge, creating both endpoints.
func (g *Graph) AddEdge(from, to types.PeerID) {
	g.Nodes.Add(from)
	g.Nodes.Add(to)
	neighbors, ok := g.edges[from]
	if !ok {
		neighbors = types.NewPeerSet()
		g.edges[from] = neighbors
	}
	neighbors.Add(to)
}

// Neighbors of the given node, nil when it has no edges.
func (g *Graph) Neighbors(id types.PeerID) types.PeerSet {
	return g.edges[id]
}

// AcksToGraph derives the membership graph from the ack set of
// a fuse entry: ackers are nodes and each ack contributes edges
// towards its declared neighbors.
func AcksToGraph(acks map[types.PeerID]types.AckData) *Graph {
	g := NewGraph()
	for acker, data := range acks {
		g.Nodes.Add(acker)
		for neighbor := range data.Neighbors {
			g.AddEdge(acker, neighbor)
		}
	}
	return g
}

// ConnectionGraph is an ad-hoc directed graph of address
// annotated edges, assembled on demand from the node table to
// resolve a forwarding address towards any participant.
type ConnectionGraph struct {
	edges map[types.PeerID]map[types.PeerID]types.Address
}

func NewConnectionGraph() *ConnectionGraph {
	return &ConnectionGraph{
		edges: make(map[types.PeerID]map[types.PeerID]types.Address),
	}
}

// AddConnection records that `from` can reach `to` at the given
// address.
func (c *ConnectionGraph) AddConnection(from, to types.PeerID, address types.Address) {
	neighbors, ok := c.edges[from]
	if !ok {
		neighbors = make(map[types.PeerID]types.Address)
		c.edges[from] = neighbors
	}
	neighbors[to] = address
}

// FindAddress returns the address advertised by the first hop
// on a shortest path from src to dst, or the unspecified
// address when dst is unreachable.
func (c *ConnectionGraph) FindAddress(src, dst types.PeerID) types.Address {
	if src == dst {
		return types.UnspecifiedAddress
	}

	type hop struct {
		id    types.PeerID
		first types.PeerID
		known bool
	}

	visited := types.NewPeerSet(src)
	frontier := []hop{{id: src}}

	for len(frontier) != 0 {
		next := make([]hop, 0)
		for _, current := range frontier {
			neighbors := c.edges[current.id]
			for _, neighbor := range sortedNeighborKeys(neighbors) {
				if visited.Has(neighbor) {
					continue
				}
				visited.Add(neighbor)
				first := current.first
				known := current.known
				if !known {
					first = neighbor
					known = true
				}
				if neighbor == dst {
					return c.edges[src][first]
				}
				next = append(next, hop{id: neighbor, first: first, known: known})
			}
		}
		frontier = next
	}
	return types.UnspecifiedAddress
}

func sortedNeighborKeys(neighbors map[types.PeerID]types.Address) []types.PeerID {
	set := types.NewPeerSet()
	for id := range neighbors {
		set.Add(id)
	}
	return set.Sorted()
}
