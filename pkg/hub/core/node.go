package core

import (
	"github.com/jabolina/go-hub/pkg/hub/types"
)

// State kept for a single known participant. A node is created
// on the first message received from it or on a successful
// fusion, and destroyed when a committed fuse removes it from
// the quorum.
type Node struct {
	// The participant id.
	ID types.PeerID

	// Addresses of the participants this node reported to be
	// connected to.
	Peers map[types.PeerID]types.Address

	// Transport bound to the participant, nil until connected.
	socket Socket

	// Last known address for the participant.
	address types.Address

	// Ports learned through a port offer.
	internalPort uint16
	externalPort uint16
}

func NewNode(id types.PeerID) *Node {
	return &Node{
		ID:    id,
		Peers: make(map[types.PeerID]types.Address),
	}
}

// IsConnected returns `true` when a transport is bound.
func (n *Node) IsConnected() bool {
	return n.socket != nil
}

// Address returns the last known address of the participant.
func (n *Node) Address() types.Address {
	return n.address
}

// Send the frame through the reliable stream. Disconnected
// nodes silently drop, callers check IsConnected first.
func (n *Node) Send(data []byte) {
	if n.socket == nil {
		return
	}
	_ = n.socket.Send(data)
}

// SendUnreliable sends the frame through the best effort
// channel, running the completion once the buffer is released.
func (n *Node) SendUnreliable(data []byte, done func(error)) {
	if n.socket == nil {
		done(nil)
		return
	}
	n.socket.SendUnreliable(data, done)
}

// SetRemotePorts records the ports learned through a port
// offer addressed to us.
func (n *Node) SetRemotePorts(internal, external uint16) {
	n.internalPort = internal
	n.externalPort = external
}

// RemotePorts returns the ports learned through a port offer.
func (n *Node) RemotePorts() (uint16, uint16) {
	return n.internalPort, n.externalPort
}

// Disconnect tears the transport down. The polling routine
// observes the closed socket and surfaces the disconnection to
// the engine.
func (n *Node) Disconnect() {
	if n.socket == nil {
		return
	}
	socket := n.socket
	n.socket = nil
	_ = socket.Close()
}

// assign binds the socket and records the remote address.
func (n *Node) assign(socket Socket) {
	if n.socket != nil && n.socket != socket {
		old := n.socket
		n.socket = nil
		_ = old.Close()
	}
	n.socket = socket
	if !socket.Addr().IsUnspecified() {
		n.address = socket.Addr()
	}
}
