package network

import (
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/jabolina/go-hub/pkg/hub/core"
	"github.com/jabolina/go-hub/pkg/hub/helper"
	"github.com/jabolina/go-hub/pkg/hub/types"
)

var (
	// ErrFrameTooLarge is returned for frames refusing the
	// transport size cap.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

// Frames above this size are refused, protecting against a
// corrupted length prefix.
const maxFrameSize = 1 << 20

// TCPStreamLayer accepts and dials TCP backed sockets carrying
// length prefixed frames. Accepted and dialed connections are
// handed to the hub fuse operation as core.Socket values.
type TCPStreamLayer struct {
	listener *net.TCPListener
	logger   hclog.Logger
	invoker  helper.Invoker

	// Optional best effort channel shared by every socket
	// created through this layer.
	datagram *DatagramTransport
}

// NewTCPStreamLayer binds the listener at the given address.
func NewTCPStreamLayer(bindAddr string, logger hclog.Logger, invoker helper.Invoker) (*TCPStreamLayer, error) {
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{Name: "hub-net"})
	}
	lis, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	return &TCPStreamLayer{
		listener: lis.(*net.TCPListener),
		logger:   logger,
		invoker:  invoker,
	}, nil
}

// WithDatagram attaches the best effort channel used by the
// sockets created through this layer.
func (t *TCPStreamLayer) WithDatagram(datagram *DatagramTransport) *TCPStreamLayer {
	t.datagram = datagram
	return t
}

// Addr the listener is bound to.
func (t *TCPStreamLayer) Addr() net.Addr {
	return t.listener.Addr()
}

// Accept the next inbound connection as a socket.
func (t *TCPStreamLayer) Accept() (core.Socket, error) {
	conn, err := t.listener.Accept()
	if err != nil {
		return nil, err
	}
	return t.wrap(conn), nil
}

// Dial the given address and wrap the connection as a socket.
func (t *TCPStreamLayer) Dial(address types.Address, timeout time.Duration) (core.Socket, error) {
	conn, err := net.DialTimeout("tcp", string(address), timeout)
	if err != nil {
		return nil, err
	}
	return t.wrap(conn), nil
}

// Close the listener. Sockets already created stay usable.
func (t *TCPStreamLayer) Close() error {
	return t.listener.Close()
}

func (t *TCPStreamLayer) wrap(conn net.Conn) core.Socket {
	socket := &tcpSocket{
		conn:     conn,
		logger:   t.logger,
		datagram: t.datagram,
		producer: make(chan core.Packet, laneCapacity),
	}
	t.invoker.Spawn(socket.poll)
	return socket
}

// tcpSocket implements core.Socket over a single TCP
// connection.
type tcpSocket struct {
	conn   net.Conn
	logger hclog.Logger

	// Serialize frame writes.
	writeMutex sync.Mutex

	// Best effort channel, nil when the layer has none.
	datagram *DatagramTransport

	// Address for the remote best effort endpoint, learned out
	// of band. Frames are dropped while unknown.
	datagramMutex sync.Mutex
	datagramAddr  types.Address

	producer chan core.Packet
	closed   helper.Flag
}

// SetDatagramAddr records where the remote listens for best
// effort frames.
func (s *tcpSocket) SetDatagramAddr(address types.Address) {
	s.datagramMutex.Lock()
	defer s.datagramMutex.Unlock()
	s.datagramAddr = address
}

// Send implements the core.Socket interface.
func (s *tcpSocket) Send(data []byte) error {
	if len(data) > maxFrameSize {
		return ErrFrameTooLarge
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(data)))

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.conn.Write(prefix[:]); err != nil {
		return err
	}
	_, err := s.conn.Write(data)
	return err
}

// SendUnreliable implements the core.Socket interface. Without
// a datagram channel or a known remote endpoint the frame is
// silently dropped, best effort means exactly that.
func (s *tcpSocket) SendUnreliable(data []byte, done func(error)) {
	s.datagramMutex.Lock()
	channel, address := s.datagram, s.datagramAddr
	s.datagramMutex.Unlock()

	if channel == nil || address.IsUnspecified() {
		done(nil)
		return
	}
	done(channel.Send(address, data))
}

// Consume implements the core.Socket interface.
func (s *tcpSocket) Consume() <-chan core.Packet {
	return s.producer
}

// Addr implements the core.Socket interface.
func (s *tcpSocket) Addr() types.Address {
	return types.Address(s.conn.RemoteAddr().String())
}

// Close implements the core.Socket interface.
func (s *tcpSocket) Close() error {
	if !s.closed.Inactivate() {
		return nil
	}
	return s.conn.Close()
}

func (s *tcpSocket) poll() {
	defer close(s.producer)
	for {
		var prefix [4]byte
		if _, err := io.ReadFull(s.conn, prefix[:]); err != nil {
			s.fail(err)
			return
		}
		size := binary.BigEndian.Uint32(prefix[:])
		if size == 0 || size > maxFrameSize {
			s.fail(ErrFrameTooLarge)
			return
		}
		frame := make([]byte, size)
		if _, err := io.ReadFull(s.conn, frame); err != nil {
			s.fail(err)
			return
		}
		s.producer <- core.Packet{Data: frame}
	}
}

func (s *tcpSocket) fail(err error) {
	if s.closed.IsActive() {
		s.logger.Debug("socket read failed", "remote", s.conn.RemoteAddr(), "error", err)
		s.producer <- core.Packet{Err: err}
	}
	_ = s.Close()
}
