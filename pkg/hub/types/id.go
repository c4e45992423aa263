package types

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// Unique identifier for a single participant on the group.
// This is an opaque 128-bit value with a total order, generated
// randomly when the hub is created.
type PeerID [16]byte

// A Lamport style counter, monotonically non-decreasing at each
// peer. When sending a message the local clock is advanced to
// max(local, received) + 1.
type Timestamp uint64

// Globally unique identifier for a message, ordered first by the
// Timestamp and breaking ties with the originator PeerID.
type MessageID struct {
	// Timestamp at which the originator issued the message.
	Timestamp Timestamp

	// The message originator.
	Peer PeerID
}

// Identifies a configuration, this is the MessageID of the fuse
// entry that installed the current quorum. At genesis this will
// be (0, self).
type ConfigID = MessageID

// Network address for a participant. The zero value means the
// address is not known.
type Address string

// The unspecified address, returned when no route exists
// towards a participant.
const UnspecifiedAddress Address = ""

// IsUnspecified returns `true` if the address holds no value.
func (a Address) IsUnspecified() bool {
	return len(a) == 0
}

// Compare the two identifiers byte-wise.
func (p PeerID) Compare(o PeerID) int {
	return bytes.Compare(p[:], o[:])
}

// Less returns `true` if the current id precedes the given one.
func (p PeerID) Less(o PeerID) bool {
	return p.Compare(o) < 0
}

func (p PeerID) String() string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", p[0:4], p[4:6], p[6:8], p[8:10], p[10:16])
}

// Compare two message ids, first using the timestamp and
// breaking ties with the originator id.
func (m MessageID) Compare(o MessageID) int {
	if m.Timestamp < o.Timestamp {
		return -1
	}
	if m.Timestamp > o.Timestamp {
		return 1
	}
	return m.Peer.Compare(o.Peer)
}

// Less returns `true` if the current id precedes the given one.
func (m MessageID) Less(o MessageID) bool {
	return m.Compare(o) < 0
}

// Equal returns `true` if both ids identify the same message.
func (m MessageID) Equal(o MessageID) bool {
	return m.Compare(o) == 0
}

// Key returns a fixed width textual form of the id. The key
// preserves the id ordering when compared lexically, so it can
// be used as member key on score ordered structures.
func (m MessageID) Key() string {
	var buf [24]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(m.Timestamp >> (56 - 8*i))
	}
	copy(buf[8:], m.Peer[:])
	return hex.EncodeToString(buf[:])
}

func (m MessageID) String() string {
	return fmt.Sprintf("(%d, %s)", m.Timestamp, m.Peer)
}
