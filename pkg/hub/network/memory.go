package network

import (
	"io"
	"sync"

	"github.com/jabolina/go-hub/pkg/hub/core"
	"github.com/jabolina/go-hub/pkg/hub/types"
)

const laneCapacity = 4096

// A single direction of an in-memory connection.
type lane struct {
	mutex  sync.Mutex
	closed bool
	ch     chan core.Packet
}

func newLane() *lane {
	return &lane{ch: make(chan core.Packet, laneCapacity)}
}

func (l *lane) push(p core.Packet, bestEffort bool) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.closed {
		return io.ErrClosedPipe
	}
	select {
	case l.ch <- p:
		return nil
	default:
	}
	if bestEffort {
		// Lossy channel, a full buffer just drops the frame.
		return nil
	}
	return io.ErrShortWrite
}

func (l *lane) close() {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	close(l.ch)
}

// MemorySocket is an in-memory core.Socket, used on tests to
// wire hubs without real networking. The reliable path is a
// FIFO buffered channel and the best effort path drops frames
// once the buffer is full.
type MemorySocket struct {
	addr types.Address
	in   *lane
	out  *lane
}

// SocketPair creates the two connected halves of an in-memory
// link, labeled with the given addresses.
func SocketPair(left, right types.Address) (*MemorySocket, *MemorySocket) {
	forward := newLane()
	backward := newLane()
	a := &MemorySocket{addr: right, in: backward, out: forward}
	b := &MemorySocket{addr: left, in: forward, out: backward}
	return a, b
}

// Send implements the core.Socket interface.
func (s *MemorySocket) Send(data []byte) error {
	frame := make([]byte, len(data))
	copy(frame, data)
	return s.out.push(core.Packet{Data: frame}, false)
}

// SendUnreliable implements the core.Socket interface.
func (s *MemorySocket) SendUnreliable(data []byte, done func(error)) {
	frame := make([]byte, len(data))
	copy(frame, data)
	err := s.out.push(core.Packet{Data: frame, Unreliable: true}, true)
	done(err)
}

// Consume implements the core.Socket interface.
func (s *MemorySocket) Consume() <-chan core.Packet {
	return s.in.ch
}

// Addr implements the core.Socket interface.
func (s *MemorySocket) Addr() types.Address {
	return s.addr
}

// Close implements the core.Socket interface. Closing either
// half tears both directions down.
func (s *MemorySocket) Close() error {
	s.out.close()
	s.in.close()
	return nil
}
