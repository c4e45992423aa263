package core

import (
	"sort"

	"github.com/jabolina/go-hub/pkg/hub/types"
)

// A single pending entry on the log.
//
// The entry aggregates acknowledgements while the quorum forms.
// An entry can exist before its message body arrives, when an
// ack outruns the body on a different gossip path; such a
// placeholder only carries acks until the body shows up.
type LogEntry struct {
	// The message that produced the entry.
	Message types.Message

	// Whether the message body already arrived. Placeholder
	// entries hold only acks.
	Received bool

	// Acknowledgements indexed by the acker.
	Acks map[types.PeerID]types.AckData

	// The set of ackers once they form a clique. Only valid
	// after AckedByQuorum returned `true`.
	Quorum types.PeerSet

	// Causal dependencies discovered through acks, mapping the
	// predecessor id to the acker that declared it.
	Predecessors map[types.MessageID]types.PeerID
}

// NewLogEntry creates an entry for a received message body,
// folding in the originator piggybacked self ack.
func NewLogEntry(message types.Message) *LogEntry {
	entry := &LogEntry{
		Message:      message,
		Received:     true,
		Acks:         make(map[types.PeerID]types.AckData),
		Predecessors: make(map[types.MessageID]types.PeerID),
	}
	if message.Ackable() {
		entry.ApplyAck(message.Header.Origin, message.Ack)
	}
	return entry
}

// NewPlaceholderEntry creates an entry for an id whose body was
// not received yet.
func NewPlaceholderEntry(id types.MessageID) *LogEntry {
	return &LogEntry{
		Message:      types.Message{Header: types.Header{Origin: id.Peer, Timestamp: id.Timestamp}},
		Received:     false,
		Acks:         make(map[types.PeerID]types.AckData),
		Predecessors: make(map[types.MessageID]types.PeerID),
	}
}

// ID of the message that produced the entry.
func (e *LogEntry) ID() types.MessageID {
	return e.Message.ID()
}

// ApplyAck folds the acknowledgement into the entry.
func (e *LogEntry) ApplyAck(acker types.PeerID, data types.AckData) {
	e.Acks[acker] = data
	e.Predecessors[data.Predecessor] = acker
}

// Fold the body of a late arriving message into a placeholder.
func (e *LogEntry) fold(message types.Message) {
	if e.Received {
		return
	}
	e.Message = message
	e.Received = true
	if message.Ackable() {
		e.ApplyAck(message.Header.Origin, message.Ack)
	}
}

// ackers returns the current ack set.
func (e *LogEntry) ackers() types.PeerSet {
	set := types.NewPeerSet()
	for id := range e.Acks {
		set.Add(id)
	}
	return set
}

// AckedByQuorum holds when the ackers form a clique: every ack
// declares a neighbor set exactly equal to the ack set. The
// resulting quorum is that ack set.
func (e *LogEntry) AckedByQuorum() bool {
	if len(e.Acks) == 0 {
		return false
	}
	set := e.ackers()
	for _, data := range e.Acks {
		if !data.Neighbors.Equal(set) {
			return false
		}
	}
	e.Quorum = set
	return true
}

// AckedByQuorumOf additionally requires the quorum to be equal
// to the given live node set.
func (e *LogEntry) AckedByQuorumOf(live types.PeerSet) bool {
	return e.AckedByQuorum() && e.Quorum.Equal(live)
}

// PredecessorsTailFirst returns the discovered predecessor ids
// in descending order.
func (e *LogEntry) PredecessorsTailFirst() []types.MessageID {
	ids := make([]types.MessageID, 0, len(e.Predecessors))
	for id := range e.Predecessors {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return ids[j].Less(ids[i])
	})
	return ids
}
