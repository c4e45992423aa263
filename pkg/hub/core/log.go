package core

import (
	"math"
	"time"

	"github.com/ReneKroon/ttlcache"
	"github.com/wangjia184/sortedset"

	"github.com/jabolina/go-hub/pkg/hub/types"
)

// The in-memory log of pending entries, ordered by message id.
//
// An id that was committed or erased never re-enters the log; a
// guard cache remembers recently applied ids so a late gossiped
// duplicate or a stray ack cannot resurrect an entry.
type Log struct {
	// Pending entries ordered by message id. The member key
	// preserves the id order for equal timestamps.
	entries *sortedset.SortedSet

	// Keep track of ids that were already applied and must not
	// be inserted again.
	applied *ttlcache.Cache

	// The id of the last committed entry.
	LastCommitted types.MessageID

	// Originator of the last committed entry.
	LastCommitOp types.PeerID

	// The id of the last committed fuse entry.
	LastFuseCommit types.MessageID
}

func NewLog() *Log {
	applied := ttlcache.NewCache()
	applied.SetTTL(10 * time.Minute)
	return &Log{
		entries: sortedset.New(),
		applied: applied,
	}
}

// InsertEntry adds an entry for the message. Inserting an id
// already present folds the message body and its piggybacked
// ack into the existing entry instead.
func (l *Log) InsertEntry(message types.Message) *LogEntry {
	id := message.ID()
	if _, old := l.applied.Get(id.Key()); old {
		return nil
	}
	if node := l.entries.GetByKey(id.Key()); node != nil {
		entry := node.Value.(*LogEntry)
		entry.fold(message)
		return entry
	}
	entry := NewLogEntry(message)
	l.entries.AddOrUpdate(id.Key(), sortedset.SCORE(id.Timestamp), entry)
	return entry
}

// ApplyAck folds the acknowledgement into the addressed entry,
// creating a placeholder when the body was not received yet.
func (l *Log) ApplyAck(acker types.PeerID, data types.AckData) {
	id := data.Message
	if _, old := l.applied.Get(id.Key()); old {
		return
	}
	node := l.entries.GetByKey(id.Key())
	var entry *LogEntry
	if node == nil {
		entry = NewPlaceholderEntry(id)
		l.entries.AddOrUpdate(id.Key(), sortedset.SCORE(id.Timestamp), entry)
	} else {
		entry = node.Value.(*LogEntry)
	}
	entry.ApplyAck(acker, data)
}

// Erase removes the entry and guards its id against
// reinsertion.
func (l *Log) Erase(id types.MessageID) {
	l.applied.Set(id.Key(), true)
	l.entries.Remove(id.Key())
}

// Get returns the entry for the id, nil when absent.
func (l *Log) Get(id types.MessageID) *LogEntry {
	node := l.entries.GetByKey(id.Key())
	if node == nil {
		return nil
	}
	return node.Value.(*LogEntry)
}

// Size is the number of pending entries.
func (l *Log) Size() int {
	return l.entries.GetCount()
}

// EntriesHeadFirst snapshots the pending entries in ascending
// id order.
func (l *Log) EntriesHeadFirst() []*LogEntry {
	nodes := l.entries.GetByScoreRange(
		sortedset.SCORE(math.MinInt64), sortedset.SCORE(math.MaxInt64), nil)
	entries := make([]*LogEntry, 0, len(nodes))
	for _, node := range nodes {
		entries = append(entries, node.Value.(*LogEntry))
	}
	return entries
}

// EntriesTailFirst snapshots the pending entries in descending
// id order.
func (l *Log) EntriesTailFirst() []*LogEntry {
	entries := l.EntriesHeadFirst()
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries
}

// FindHighestFuseEntry returns the pending fuse entry with the
// greatest id, nil when there is none.
func (l *Log) FindHighestFuseEntry() *LogEntry {
	for _, entry := range l.EntriesTailFirst() {
		if entry.Received && entry.Message.Kind == types.FuseKind {
			return entry
		}
	}
	return nil
}

// GetPredecessorTime returns the greatest id strictly less than
// the given one among pending entries, falling back to the last
// committed id.
func (l *Log) GetPredecessorTime(id types.MessageID) types.MessageID {
	for _, entry := range l.EntriesTailFirst() {
		if entry.ID().Less(id) {
			return entry.ID()
		}
	}
	return l.LastCommitted
}

// Close releases the guard cache resources.
func (l *Log) Close() {
	l.applied.Close()
}
