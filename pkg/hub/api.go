package hub

import (
	"context"
	"io"
	"time"

	"github.com/jabolina/go-hub/pkg/hub/concurrent"
	"github.com/jabolina/go-hub/pkg/hub/core"
	"github.com/jabolina/go-hub/pkg/hub/helper"
	"github.com/jabolina/go-hub/pkg/hub/network"
	"github.com/jabolina/go-hub/pkg/hub/types"
)

// IHub is the public surface of the group communication hub.
//
// A hub is one symmetric participant on a decentralized group.
// Any member can fuse another peer into the group, and the
// group agrees on a single total order over user payloads and
// membership changes.
type IHub interface {
	io.Closer

	// ID of the local peer.
	ID() types.PeerID

	// Fuse another peer into the group through the freshly
	// connected socket. The completion receives the remote id
	// or the refusal error.
	Fuse(socket core.Socket, onFused func(error, types.PeerID))

	// TotalOrderBroadcast replicates the payload to the whole
	// group; every member delivers payloads in the same order.
	TotalOrderBroadcast(payload []byte)

	// UnreliableBroadcast sends the payload to every connected
	// peer on the best effort path, no ordering and no acks.
	UnreliableBroadcast(payload []byte, done func())

	// Callback registration. A callback may replace itself from
	// inside its own invocation.
	OnInsert(func(types.PeerSet))
	OnRemove(func(types.PeerSet))
	OnReceive(func(types.PeerID, []byte))
	OnReceiveUnreliable(func(types.PeerID, []byte))
	OnDirectConnect(func(types.PeerID))

	// Peers currently connected.
	Peers() []types.PeerID

	// FindAddressTo resolves a forwarding address towards the
	// given participant.
	FindAddressTo(types.PeerID) types.Address

	// Destroy marks the hub dead without releasing resources,
	// safe from inside a callback. Close must still be called
	// from outside the callback stack.
	Destroy()
}

// Hub glues the engine to its scheduler, goroutine invoker and
// optional datagram endpoint.
type Hub struct {
	engine    *core.Hub
	scheduler concurrent.Scheduler
	invoker   helper.Invoker
	datagram  *network.DatagramTransport

	ctx    context.Context
	cancel context.CancelFunc
	closed helper.Flag
}

// New creates a hub with the given configuration.
func New(configuration *types.Configuration) (*Hub, error) {
	if err := types.ValidateConfiguration(configuration); err != nil {
		return nil, err
	}

	scheduler := concurrent.NewScheduler()
	invoker := helper.NewInvoker()
	ctx, cancel := context.WithCancel(context.Background())

	engine, err := core.NewHub(configuration, scheduler, invoker)
	if err != nil {
		cancel()
		scheduler.Stop()
		return nil, err
	}

	h := &Hub{
		engine:    engine,
		scheduler: scheduler,
		invoker:   invoker,
		ctx:       ctx,
		cancel:    cancel,
	}

	if !configuration.DatagramAddress.IsUnspecified() {
		datagram, err := network.NewDatagramTransport(
			ctx, configuration.DatagramAddress, configuration.HandshakeTimeout, invoker)
		if err != nil {
			cancel()
			engine.Shutdown()
			scheduler.Stop()
			return nil, err
		}
		h.datagram = datagram
		invoker.Spawn(h.forwardDatagrams)
	}
	return h, nil
}

// DefaultConfiguration creates a usable configuration with a
// random peer id and the logrus backed logger.
func DefaultConfiguration() *types.Configuration {
	return &types.Configuration{
		Version:          types.ProtocolVersion,
		HandshakeTimeout: 5 * time.Second,
		Logger:           helper.NewDefaultLogger(),
	}
}

func (h *Hub) forwardDatagrams() {
	for {
		select {
		case <-h.ctx.Done():
			return
		case pkt, ok := <-h.datagram.Consume():
			if !ok {
				return
			}
			if pkt.Err == nil {
				h.engine.IngestUnreliable(pkt.Data)
			}
		}
	}
}

// ID implements the IHub interface.
func (h *Hub) ID() types.PeerID {
	return h.engine.ID()
}

// Fuse implements the IHub interface.
func (h *Hub) Fuse(socket core.Socket, onFused func(error, types.PeerID)) {
	h.engine.Fuse(socket, onFused)
}

// TotalOrderBroadcast implements the IHub interface.
func (h *Hub) TotalOrderBroadcast(payload []byte) {
	h.engine.TotalOrderBroadcast(payload)
}

// UnreliableBroadcast implements the IHub interface.
func (h *Hub) UnreliableBroadcast(payload []byte, done func()) {
	h.engine.UnreliableBroadcast(payload, done)
}

// OnInsert implements the IHub interface.
func (h *Hub) OnInsert(f func(types.PeerSet)) {
	h.engine.OnInsert(f)
}

// OnRemove implements the IHub interface.
func (h *Hub) OnRemove(f func(types.PeerSet)) {
	h.engine.OnRemove(f)
}

// OnReceive implements the IHub interface.
func (h *Hub) OnReceive(f func(types.PeerID, []byte)) {
	h.engine.OnReceive(f)
}

// OnReceiveUnreliable implements the IHub interface.
func (h *Hub) OnReceiveUnreliable(f func(types.PeerID, []byte)) {
	h.engine.OnReceiveUnreliable(f)
}

// OnDirectConnect implements the IHub interface.
func (h *Hub) OnDirectConnect(f func(types.PeerID)) {
	h.engine.OnDirectConnect(f)
}

// Peers implements the IHub interface.
func (h *Hub) Peers() []types.PeerID {
	return h.engine.Peers()
}

// FindAddressTo implements the IHub interface.
func (h *Hub) FindAddressTo(id types.PeerID) types.Address {
	return h.engine.FindAddressTo(id)
}

// Destroy implements the IHub interface.
func (h *Hub) Destroy() {
	h.engine.Destroy()
}

// Close releases every resource. This is not reentrant from
// callbacks, those use Destroy and let the owner close later.
func (h *Hub) Close() error {
	if !h.closed.Inactivate() {
		return types.ErrHubClosed
	}
	h.engine.Shutdown()
	h.cancel()
	if h.datagram != nil {
		_ = h.datagram.Close()
	}
	h.invoker.Stop()
	h.scheduler.Stop()
	return nil
}
