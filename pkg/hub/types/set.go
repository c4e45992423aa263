package types

import "sort"

// A set of peer identifiers. Used for the visited gossip set,
// for ack neighbor declarations and for quorums.
type PeerSet map[PeerID]struct{}

// NewPeerSet creates a set holding the given members.
func NewPeerSet(members ...PeerID) PeerSet {
	s := make(PeerSet, len(members))
	for _, member := range members {
		s[member] = struct{}{}
	}
	return s
}

// Add the given peer to the set.
func (s PeerSet) Add(id PeerID) {
	s[id] = struct{}{}
}

// Has returns `true` if the peer belongs to the set.
func (s PeerSet) Has(id PeerID) bool {
	_, ok := s[id]
	return ok
}

// Remove the given peer from the set.
func (s PeerSet) Remove(id PeerID) {
	delete(s, id)
}

// Copy creates a new set holding the same members.
func (s PeerSet) Copy() PeerSet {
	copied := make(PeerSet, len(s))
	for id := range s {
		copied[id] = struct{}{}
	}
	return copied
}

// Equal returns `true` when both sets hold exactly the
// same members.
func (s PeerSet) Equal(o PeerSet) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range s {
		if !o.Has(id) {
			return false
		}
	}
	return true
}

// Sorted returns the members in ascending id order.
func (s PeerSet) Sorted() []PeerID {
	members := make([]PeerID, 0, len(s))
	for id := range s {
		members = append(members, id)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].Less(members[j])
	})
	return members
}

// Difference returns the members present on the current set
// but absent on the given one.
func (s PeerSet) Difference(o PeerSet) PeerSet {
	result := NewPeerSet()
	for id := range s {
		if !o.Has(id) {
			result.Add(id)
		}
	}
	return result
}
