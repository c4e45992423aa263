package types

// Simple uint8 identifying the kind of message being
// transported. The kind drives which body fields are valid.
type MessageKind uint8

const (
	// Membership change for a single peer. A fuse for a peer
	// already inside the quorum removes it, otherwise the peer
	// is being inserted.
	FuseKind MessageKind = iota + 1

	// Transport hint carrying the internal and external ports
	// of the addressed peer.
	PortOfferKind

	// Opaque application payload replicated in total order.
	UserDataKind

	// Pure acknowledgement for a pending log entry.
	AckKind
)

const (
	// The version of the wire protocol. Both halves of a fusion
	// handshake must agree on this value.
	ProtocolVersion uint32 = 1
)

// Header carried by every message on the reliable path.
type Header struct {
	// The peer that created the message.
	Origin PeerID

	// Logical time at the originator when the message was sent.
	Timestamp Timestamp

	// The originator configuration at send time.
	Config ConfigID

	// Peers that already forwarded this message. The originator
	// belongs to the set from the start; kept on the wire even
	// if redundant with Origin.
	Visited PeerSet
}

// Acknowledgement data. Entry producing messages piggyback the
// originator self ack, and Ack messages carry nothing else.
type AckData struct {
	// The entry being acknowledged.
	Message MessageID

	// The id immediately preceding Message on the acker log,
	// falling back to the acker last committed id.
	Predecessor MessageID

	// The acker current set of connected peers, itself included.
	Neighbors PeerSet
}

// Message is the single unit replicated between the peers.
// The valid body fields depend on the Kind, matched exhaustively
// by the engine.
type Message struct {
	// Which kind of message is being transported.
	Kind MessageKind

	// Header shared by all kinds.
	Header Header

	// Ack payload, valid for every kind.
	Ack AckData

	// Fuse body: the peer being inserted or removed.
	Target PeerID

	// PortOffer body.
	Addressee    PeerID
	InternalPort uint16
	ExternalPort uint16

	// UserData body.
	Payload []byte
}

// ID of the message, derived from the header.
func (m *Message) ID() MessageID {
	return MessageID{Timestamp: m.Header.Timestamp, Peer: m.Header.Origin}
}

// Ackable returns `true` for kinds that carry the originator self
// ack. Fuse and UserData produce a log entry; a PortOffer carries
// the ack but is not added to the log.
func (m *Message) Ackable() bool {
	switch m.Kind {
	case FuseKind, PortOfferKind, UserDataKind:
		return true
	}
	return false
}
