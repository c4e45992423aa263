package core

import (
	"io"

	"github.com/jabolina/go-hub/pkg/hub/types"
)

// A single frame received from a socket. A non-nil Err means
// the transport failed and the peer must be demoted.
type Packet struct {
	// Raw frame bytes.
	Data []byte

	// Set when the frame arrived through the best effort
	// datagram channel instead of the reliable stream.
	Unreliable bool

	// Transport failure, terminal for the socket.
	Err error
}

// Socket is the communication primitive bound to a single
// remote peer. Implementations must preserve FIFO ordering on
// the reliable path; the unreliable path may drop or reorder.
// The hub never reads sockets directly, frames are consumed by
// a polling routine and posted to the scheduler.
type Socket interface {
	io.Closer

	// Send the frame through the reliable stream.
	Send(data []byte) error

	// SendUnreliable sends the frame through the best effort
	// channel. The completion runs when the buffer is released,
	// possibly on a transport goroutine.
	SendUnreliable(data []byte, done func(error))

	// Consume returns the inbound frame channel. The channel is
	// closed when the socket is torn down.
	Consume() <-chan Packet

	// Addr is the remote address, unspecified when unknown.
	Addr() types.Address
}
