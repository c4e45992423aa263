package hub_test

import (
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jabolina/go-hub/pkg/hub"
	"github.com/jabolina/go-hub/pkg/hub/core"
	"github.com/jabolina/go-hub/pkg/hub/network"
	"github.com/jabolina/go-hub/pkg/hub/types"
)

// A scripted remote half speaking the wire protocol by hand, so
// tests can drive exact frames into a hub.
type scriptedPeer struct {
	t      *testing.T
	id     types.PeerID
	socket core.Socket
	clock  types.Timestamp
}

func newScriptedPeer(t *testing.T, id byte, socket core.Socket) *scriptedPeer {
	return &scriptedPeer{t: t, id: peerID(id), socket: socket}
}

// handshake consumes the hub frame and answers with our own.
func (s *scriptedPeer) handshake() {
	s.t.Helper()
	frame := s.read()
	version, _, err := types.DecodeHandshake(frame)
	if err != nil {
		s.t.Fatalf("unexpected handshake frame. %v", err)
	}
	if err := s.socket.Send(types.EncodeHandshake(version, s.id)); err != nil {
		s.t.Fatalf("failed answering handshake. %v", err)
	}
}

func (s *scriptedPeer) read() []byte {
	s.t.Helper()
	select {
	case pkt, ok := <-s.socket.Consume():
		if !ok || pkt.Err != nil {
			s.t.Fatalf("socket failed. %v", pkt.Err)
		}
		return pkt.Data
	case <-time.After(testTimeout):
		s.t.Fatalf("read timed out")
		return nil
	}
}

// readMessage decodes the next protocol frame.
func (s *scriptedPeer) readMessage() types.Message {
	s.t.Helper()
	m, err := types.DecodeMessage(s.read())
	if err != nil {
		s.t.Fatalf("failed decoding frame. %v", err)
	}
	if m.Header.Timestamp > s.clock {
		s.clock = m.Header.Timestamp
	}
	return m
}

func (s *scriptedPeer) send(m types.Message) {
	s.t.Helper()
	if err := s.socket.Send(types.EncodeMessage(m)); err != nil {
		s.t.Fatalf("failed sending frame. %v", err)
	}
}

func (s *scriptedPeer) header() types.Header {
	s.clock++
	return types.Header{
		Origin:    s.id,
		Timestamp: s.clock,
		Config:    types.ConfigID{Peer: s.id},
		Visited:   types.NewPeerSet(s.id),
	}
}

// ack the given entry declaring the neighbor set.
func (s *scriptedPeer) ack(target, predecessor types.MessageID, neighbors ...types.PeerID) {
	s.send(types.Message{
		Kind:   types.AckKind,
		Header: s.header(),
		Ack: types.AckData{
			Message:     target,
			Predecessor: predecessor,
			Neighbors:   types.NewPeerSet(neighbors...),
		},
	})
}

// fuseWith drives the full fusion of the scripted peer into the
// hub: handshake, then ack of the hub fuse entry. Returns the
// committed fuse id.
func (s *scriptedPeer) fuseWith(h *hub.Hub, onFused chan error) types.MessageID {
	s.t.Helper()
	s.handshake()

	m := s.readMessage()
	if m.Kind != types.FuseKind || m.Target != s.id {
		s.t.Fatalf("expected our fuse entry, got %#v", m)
	}
	s.ack(m.ID(), types.MessageID{}, h.ID(), s.id)

	select {
	case err := <-onFused:
		if err != nil {
			s.t.Fatalf("fusion failed. %v", err)
		}
	case <-time.After(testTimeout):
		s.t.Fatalf("fusion timed out")
	}
	return m.ID()
}

func TestHub_ScriptedFusionCommits(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := createHub(t, 0x05)
	defer closeAll(t, a)
	ma := trackMembership(a)

	local, remote := network.SocketPair("addr-a", "addr-m")
	onFused := make(chan error, 1)
	a.Fuse(local, func(err error, _ types.PeerID) { onFused <- err })

	m := newScriptedPeer(t, 0x0f, remote)
	m.fuseWith(a, onFused)

	ma.waitFor(t, types.NewPeerSet(m.id))
}

func TestHub_DuplicateFrameDeliversOnce(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := createHub(t, 0x05)
	defer closeAll(t, a)
	ma := trackMembership(a)
	deliveries := trackDeliveries(a)

	local, remote := network.SocketPair("addr-a", "addr-m")
	onFused := make(chan error, 1)
	a.Fuse(local, func(err error, _ types.PeerID) { onFused <- err })

	m := newScriptedPeer(t, 0x0f, remote)
	fuseID := m.fuseWith(a, onFused)
	ma.waitFor(t, types.NewPeerSet(m.id))

	payload := []byte("once")
	header := m.header()
	userData := types.Message{
		Kind:   types.UserDataKind,
		Header: header,
		Ack: types.AckData{
			Message:     types.MessageID{Timestamp: header.Timestamp, Peer: m.id},
			Predecessor: fuseID,
			Neighbors:   types.NewPeerSet(a.ID(), m.id),
		},
		Payload: payload,
	}
	m.send(userData)
	m.send(userData)

	select {
	case d := <-deliveries:
		if d.source != m.id || string(d.payload) != "once" {
			t.Errorf("delivery = %#v", d)
		}
	case <-time.After(testTimeout):
		t.Fatalf("delivery timed out")
	}

	select {
	case d := <-deliveries:
		t.Errorf("duplicated frame delivered twice: %#v", d)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestHub_NeverEchoesBackToOriginator(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := createHub(t, 0x05)
	defer closeAll(t, a)
	ma := trackMembership(a)

	local, remote := network.SocketPair("addr-a", "addr-m")
	onFused := make(chan error, 1)
	a.Fuse(local, func(err error, _ types.PeerID) { onFused <- err })

	m := newScriptedPeer(t, 0x0f, remote)
	fuseID := m.fuseWith(a, onFused)
	ma.waitFor(t, types.NewPeerSet(m.id))

	header := m.header()
	m.send(types.Message{
		Kind:   types.UserDataKind,
		Header: header,
		Ack: types.AckData{
			Message:     types.MessageID{Timestamp: header.Timestamp, Peer: m.id},
			Predecessor: fuseID,
			Neighbors:   types.NewPeerSet(a.ID(), m.id),
		},
		Payload: []byte("no-echo"),
	})

	// The hub answers with its ack, never with our own frame.
	deadline := time.After(500 * time.Millisecond)
	for {
		select {
		case pkt, ok := <-remote.Consume():
			if !ok {
				t.Fatalf("socket closed unexpectedly")
			}
			frame, err := types.DecodeMessage(pkt.Data)
			if err != nil {
				t.Fatalf("failed decoding frame. %v", err)
			}
			if frame.Header.Origin == m.id {
				t.Fatalf("hub echoed our own message back: %#v", frame)
			}
		case <-deadline:
			return
		}
	}
}

func TestHub_StaleUserDataFromUnknownOriginator(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := createHub(t, 0x05)
	defer closeAll(t, a)
	ma := trackMembership(a)
	deliveries := trackDeliveries(a)

	local, remote := network.SocketPair("addr-a", "addr-m")
	onFused := make(chan error, 1)
	a.Fuse(local, func(err error, _ types.PeerID) { onFused <- err })

	m := newScriptedPeer(t, 0x0f, remote)
	m.fuseWith(a, onFused)
	ma.waitFor(t, types.NewPeerSet(m.id))

	// A relayed message from an unknown originator whose id was
	// outrun by the committed fuse: refused without delivery.
	unknown := peerID(0x02)
	stale := types.Message{
		Kind: types.UserDataKind,
		Header: types.Header{
			Origin:    unknown,
			Timestamp: 1,
			Config:    types.ConfigID{Peer: unknown},
			Visited:   types.NewPeerSet(unknown, m.id),
		},
		Ack: types.AckData{
			Message:   types.MessageID{Timestamp: 1, Peer: unknown},
			Neighbors: types.NewPeerSet(unknown),
		},
		Payload: []byte("stale"),
	}
	m.send(stale)

	select {
	case d := <-deliveries:
		t.Errorf("stale entry delivered: %#v", d)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestHub_PortOfferUpdatesProxy(t *testing.T) {
	defer goleak.VerifyNone(t)

	a := createHub(t, 0x05)
	defer closeAll(t, a)
	ma := trackMembership(a)

	local, remote := network.SocketPair("addr-a", "addr-m")
	onFused := make(chan error, 1)
	a.Fuse(local, func(err error, _ types.PeerID) { onFused <- err })

	direct := make(chan types.PeerID, 1)
	a.OnDirectConnect(func(id types.PeerID) { direct <- id })

	m := newScriptedPeer(t, 0x0f, remote)
	m.fuseWith(a, onFused)
	ma.waitFor(t, types.NewPeerSet(m.id))

	header := m.header()
	m.send(types.Message{
		Kind:   types.PortOfferKind,
		Header: header,
		Ack: types.AckData{
			Message:   types.MessageID{Timestamp: header.Timestamp, Peer: m.id},
			Neighbors: types.NewPeerSet(a.ID(), m.id),
		},
		Addressee:    a.ID(),
		InternalPort: 4222,
		ExternalPort: 62222,
	})

	select {
	case id := <-direct:
		if id != m.id {
			t.Errorf("direct connect for %v, want %v", id, m.id)
		}
	case <-time.After(testTimeout):
		t.Fatalf("port offer never surfaced")
	}
}

func TestHub_HandshakeRefusals(t *testing.T) {
	defer goleak.VerifyNone(t)

	cases := []struct {
		name  string
		reply func(version uint32, hubID types.PeerID) []byte
		want  error
	}{
		{
			name: "protocol mismatch",
			reply: func(version uint32, _ types.PeerID) []byte {
				return types.EncodeHandshake(version+1, peerID(0x0f))
			},
			want: types.ErrProtocolMismatch,
		},
		{
			name: "self identifier",
			reply: func(version uint32, hubID types.PeerID) []byte {
				return types.EncodeHandshake(version, hubID)
			},
			want: types.ErrAlreadyConnected,
		},
		{
			name: "malformed frame",
			reply: func(uint32, types.PeerID) []byte {
				return []byte{0x01, 0x02, 0x03}
			},
			want: types.ErrConnectionRefused,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			a := createHub(t, 0x05)
			defer closeAll(t, a)

			local, remote := network.SocketPair("addr-a", "addr-m")
			onFused := make(chan error, 1)
			a.Fuse(local, func(err error, _ types.PeerID) { onFused <- err })

			select {
			case pkt := <-remote.Consume():
				version, hubID, err := types.DecodeHandshake(pkt.Data)
				if err != nil {
					t.Fatalf("unexpected hub frame. %v", err)
				}
				if err := remote.Send(tc.reply(version, hubID)); err != nil {
					t.Fatalf("failed replying. %v", err)
				}
			case <-time.After(testTimeout):
				t.Fatalf("hub never sent its handshake")
			}

			select {
			case err := <-onFused:
				if err != tc.want {
					t.Errorf("error = %v, want %v", err, tc.want)
				}
			case <-time.After(testTimeout):
				t.Fatalf("completion never fired")
			}
		})
	}
}
