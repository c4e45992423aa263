package core

import (
	"fmt"
	"math"

	"github.com/wangjia184/sortedset"

	"github.com/jabolina/go-hub/pkg/hub/types"
)

// Tracks, per originator, which message timestamps were already
// observed. Used to suppress duplicate deliveries and duplicate
// rebroadcasts of gossiped frames.
//
// Once the commit driver established that everything below some
// id was seen by everyone, the per originator history below that
// point collapses into a single floor value.
type SeenMessages struct {
	seen map[types.PeerID]*originatorHistory
}

type originatorHistory struct {
	// Every timestamp strictly below the floor was seen.
	floor types.Timestamp

	// Individual timestamps at or above the floor, ordered so
	// collapsing a prefix is a range removal.
	stamps *sortedset.SortedSet
}

func NewSeenMessages() *SeenMessages {
	return &SeenMessages{
		seen: make(map[types.PeerID]*originatorHistory),
	}
}

func stampKey(ts types.Timestamp) string {
	return fmt.Sprintf("%016x", uint64(ts))
}

// IsIn returns `true` if the message was already observed.
func (s *SeenMessages) IsIn(id types.MessageID) bool {
	history, ok := s.seen[id.Peer]
	if !ok {
		return false
	}
	if id.Timestamp < history.floor {
		return true
	}
	return history.stamps.GetByKey(stampKey(id.Timestamp)) != nil
}

// Insert marks the message as observed.
func (s *SeenMessages) Insert(id types.MessageID) {
	history, ok := s.seen[id.Peer]
	if !ok {
		history = &originatorHistory{stamps: sortedset.New()}
		s.seen[id.Peer] = history
	}
	if id.Timestamp < history.floor {
		return
	}
	history.stamps.AddOrUpdate(stampKey(id.Timestamp), sortedset.SCORE(id.Timestamp), struct{}{})
}

// SeenEverythingUpTo collapses every history below the given id
// timestamp. Ids at the exact timestamp stay individually
// tracked, the tie break between same timestamp originators
// still matters for the total order.
func (s *SeenMessages) SeenEverythingUpTo(id types.MessageID) {
	for _, history := range s.seen {
		if id.Timestamp <= history.floor {
			continue
		}
		history.floor = id.Timestamp
		below := history.stamps.GetByScoreRange(
			sortedset.SCORE(math.MinInt64),
			sortedset.SCORE(id.Timestamp),
			&sortedset.GetByScoreRangeOptions{ExcludeEnd: true})
		for _, node := range below {
			history.stamps.Remove(node.Key())
		}
	}
}

// ForgetMessagesFrom drops the whole history of the given
// originator, called when a committed fuse removes it.
func (s *SeenMessages) ForgetMessagesFrom(id types.PeerID) {
	delete(s.seen, id)
}
