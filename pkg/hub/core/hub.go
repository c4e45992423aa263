package core

import (
	"context"
	"io"
	"time"

	"github.com/wangjia184/sortedset"

	"github.com/jabolina/go-hub/pkg/hub/concurrent"
	"github.com/jabolina/go-hub/pkg/hub/helper"
	"github.com/jabolina/go-hub/pkg/hub/types"
)

// Hub is the replication engine. It owns the pending log, the
// seen filter, the node table, the configuration history and
// the broadcast routing table, and drives the quorum commit
// rule over membership and user data entries.
//
// Every structure here is confined to the scheduler goroutine.
// Sockets and public API calls post jobs instead of touching
// members, and each posted job re-reads the liveness flag so a
// late continuation becomes a no-op after destruction.
type Hub struct {
	// The local peer id.
	id types.PeerID

	// Protocol version announced on fusion handshakes.
	version uint32

	// Local Lamport clock.
	timestamp types.Timestamp

	// Pending entries and commit bookkeeping.
	log *Log

	// Suppression filter for gossiped messages.
	seen *SeenMessages

	// Forwarding sets for the best effort broadcast.
	routing *BroadcastRoutingTable

	// Every known participant, ourselves included.
	nodes map[types.PeerID]*Node

	// Configuration history, the greatest key is current.
	configs *sortedset.SortedSet

	// Application callback slots.
	callbacks *Callbacks

	// Liveness flag, re-read after every callback.
	alive *helper.Flag

	scheduler concurrent.Scheduler
	invoker   helper.Invoker
	logger    types.Logger

	handshakeTimeout time.Duration
}

// NewHub bootstraps the engine at the genesis configuration,
// alone on its own quorum.
func NewHub(
	configuration *types.Configuration,
	scheduler concurrent.Scheduler,
	invoker helper.Invoker) (*Hub, error) {
	if err := types.ValidateConfiguration(configuration); err != nil {
		return nil, err
	}

	id := configuration.ID
	if id == (types.PeerID{}) {
		id = helper.GeneratePeerID()
	}

	h := &Hub{
		id:               id,
		version:          configuration.Version,
		log:              NewLog(),
		seen:             NewSeenMessages(),
		routing:          NewBroadcastRoutingTable(id),
		nodes:            make(map[types.PeerID]*Node),
		configs:          sortedset.New(),
		callbacks:        &Callbacks{},
		alive:            &helper.Flag{},
		scheduler:        scheduler,
		invoker:          invoker,
		logger:           configuration.Logger,
		handshakeTimeout: configuration.HandshakeTimeout,
	}

	h.nodes[id] = NewNode(id)
	h.log.LastCommitOp = id
	h.installConfig(types.ConfigID{Timestamp: 0, Peer: id}, types.NewPeerSet(id))
	h.routing.Recalculate(SingleNodeGraph(id))
	return h, nil
}

// ID of the local peer.
func (h *Hub) ID() types.PeerID {
	return h.id
}

// Alive exposes the liveness flag for owners and tests.
func (h *Hub) Alive() *helper.Flag {
	return h.alive
}

// Destroy marks the engine dead. Safe from any goroutine,
// including from inside a callback; pending continuations
// observe the flag and unwind without touching state.
func (h *Hub) Destroy() {
	h.alive.Inactivate()
}

// schedule posts a job that only runs while the engine lives.
func (h *Hub) schedule(f func()) {
	h.scheduler.Schedule(func(ctx context.Context) {
		if h.alive.IsInactive() {
			return
		}
		f()
	})
}

// destroysThis runs the callback and reports whether the engine
// was destroyed during it.
func (h *Hub) destroysThis(f func()) bool {
	f()
	return h.alive.IsInactive()
}

// ----------------------------------------------------------------
// Configuration history.

type configEntry struct {
	id     types.ConfigID
	quorum types.PeerSet
}

func (h *Hub) installConfig(id types.ConfigID, quorum types.PeerSet) {
	h.configs.AddOrUpdate(id.Key(), sortedset.SCORE(id.Timestamp), configEntry{id: id, quorum: quorum})
}

func (h *Hub) currentConfig() (types.ConfigID, types.PeerSet) {
	entry := h.configs.PeekMax().Value.(configEntry)
	return entry.id, entry.quorum
}

func (h *Hub) hasConfig(id types.ConfigID) bool {
	return h.configs.GetByKey(id.Key()) != nil
}

// ----------------------------------------------------------------
// Node table.

func (h *Hub) findNode(id types.PeerID) *Node {
	return h.nodes[id]
}

func (h *Hub) insertNode(id types.PeerID) *Node {
	node := NewNode(id)
	h.nodes[id] = node
	return node
}

func (h *Hub) thisNode() *Node {
	return h.nodes[h.id]
}

// addConnection registers a peer-of-peer edge used to resolve
// forwarding addresses.
func (h *Hub) addConnection(from *Node, to types.PeerID, address types.Address) {
	from.Peers[to] = address
}

// neighbors is the local connectivity declaration carried on
// acks: every connected node plus ourselves.
func (h *Hub) neighbors() types.PeerSet {
	set := types.NewPeerSet(h.id)
	for _, node := range h.nodes {
		if node.ID == h.id {
			continue
		}
		if node.IsConnected() {
			set.Add(node.ID)
		}
	}
	return set
}

// Peers returns the currently connected participants. Safe from
// any goroutine.
func (h *Hub) Peers() []types.PeerID {
	if h.alive.IsInactive() {
		return nil
	}
	result := make(chan []types.PeerID, 1)
	h.schedule(func() {
		set := h.neighbors()
		set.Remove(h.id)
		result <- set.Sorted()
	})
	select {
	case peers := <-result:
		return peers
	case <-time.After(h.handshakeTimeout):
		return nil
	}
}

// FindAddressTo resolves a forwarding address towards the given
// participant from the local knowledge of peer-of-peer edges.
// Safe from any goroutine.
func (h *Hub) FindAddressTo(id types.PeerID) types.Address {
	if h.alive.IsInactive() {
		return types.UnspecifiedAddress
	}
	result := make(chan types.Address, 1)
	h.schedule(func() {
		graph := NewConnectionGraph()
		for peer, address := range h.thisNode().Peers {
			if !address.IsUnspecified() {
				graph.AddConnection(h.id, peer, address)
			}
		}
		for _, node := range h.nodes {
			if node.ID == h.id {
				continue
			}
			if !node.Address().IsUnspecified() {
				graph.AddConnection(h.id, node.ID, node.Address())
			}
			for peer, address := range node.Peers {
				graph.AddConnection(node.ID, peer, address)
			}
		}
		result <- graph.FindAddress(h.id, id)
	})
	select {
	case address := <-result:
		return address
	case <-time.After(h.handshakeTimeout):
		return types.UnspecifiedAddress
	}
}

// ----------------------------------------------------------------
// Callback registration. Registration is posted to the
// scheduler so slots are only touched on the reactor.

func (h *Hub) OnInsert(f func(types.PeerSet)) {
	h.schedule(func() { h.callbacks.insert.reset(f) })
}

func (h *Hub) OnRemove(f func(types.PeerSet)) {
	h.schedule(func() { h.callbacks.remove.reset(f) })
}

func (h *Hub) OnReceive(f func(types.PeerID, []byte)) {
	h.schedule(func() { h.callbacks.receive.reset(f) })
}

func (h *Hub) OnReceiveUnreliable(f func(types.PeerID, []byte)) {
	h.schedule(func() { h.callbacks.receiveUnreliable.reset(f) })
}

func (h *Hub) OnDirectConnect(f func(types.PeerID)) {
	h.schedule(func() { h.callbacks.directConnect.reset(f) })
}

// ----------------------------------------------------------------
// Message construction.

func (h *Hub) construct(kind types.MessageKind) types.Message {
	h.timestamp++
	configID, _ := h.currentConfig()
	return types.Message{
		Kind: kind,
		Header: types.Header{
			Origin:    h.id,
			Timestamp: h.timestamp,
			Config:    configID,
			// Keeping ourselves inside visited is redundant with
			// the originator field but stays on the wire for
			// compatibility.
			Visited: types.NewPeerSet(h.id),
		},
	}
}

func (h *Hub) constructAckable(kind types.MessageKind) types.Message {
	m := h.construct(kind)
	id := m.ID()
	m.Ack = types.AckData{
		Message:     id,
		Predecessor: h.log.GetPredecessorTime(id),
		Neighbors:   h.neighbors(),
	}
	return m
}

func (h *Hub) constructAck(id types.MessageID) types.Message {
	m := h.construct(types.AckKind)
	m.Ack = types.AckData{
		Message:     id,
		Predecessor: h.log.GetPredecessorTime(id),
		Neighbors:   h.neighbors(),
	}
	// We don't receive our own message back, so need to apply
	// it manually.
	h.log.ApplyAck(h.id, m.Ack)
	return m
}

// ----------------------------------------------------------------
// Reliable gossip.

// broadcast relays the message to every connected node that did
// not forward it yet.
func (h *Hub) broadcast(m types.Message) {
	data := types.EncodeMessage(m)
	for _, node := range h.nodes {
		if node.ID == h.id {
			continue
		}
		if !node.IsConnected() {
			continue
		}
		if m.Header.Visited.Has(node.ID) {
			continue
		}
		node.Send(data)
	}
}

func (h *Hub) addLogEntry(m types.Message) *LogEntry {
	id := m.ID()
	if id.Compare(h.log.LastCommitted) <= 0 {
		if m.Kind != types.FuseKind {
			h.logger.Errorf("message id %v should be greater than last committed %v",
				id, h.log.LastCommitted)
			return nil
		}
	}
	return h.log.InsertEntry(m)
}

// ----------------------------------------------------------------
// Inbound path.

// onRecvRaw decodes and processes a frame received through the
// socket bound to the proxy peer. Decode failures disconnect
// the offending peer.
func (h *Hub) onRecvRaw(proxy types.PeerID, data []byte, socket Socket) {
	node := h.findNode(proxy)
	if node == nil || node.socket != socket {
		return
	}
	m, err := types.DecodeMessage(data)
	if err != nil {
		h.logger.Errorf("failed decoding frame from %s. %v", proxy, err)
		node.Disconnect()
		return
	}
	h.onRecv(node, m)
}

func (h *Hub) onRecv(proxy *Node, m types.Message) {
	m.Header.Visited.Add(h.id)

	// A peer should not broadcast our own message back.
	if m.Header.Origin == h.id {
		return
	}

	id := m.ID()
	if h.seen.IsIn(id) {
		return
	}
	h.seen.Insert(id)

	if m.Header.Timestamp > h.timestamp {
		h.timestamp = m.Header.Timestamp
	}

	op := h.findNode(m.Header.Origin)
	if op == nil {
		op = h.insertNode(m.Header.Origin)
	}

	h.broadcast(m)

	if h.destroysThis(func() { h.process(op, m) }) {
		return
	}

	h.commitWhatWasSeenByEveryone()
}

func (h *Hub) process(op *Node, m types.Message) {
	switch m.Kind {
	case types.FuseKind:
		h.processFuse(m)
	case types.UserDataKind:
		h.broadcast(h.constructAck(m.ID()))
		h.addLogEntry(m)
	case types.PortOfferKind:
		h.processPortOffer(op, m)
	case types.AckKind:
		h.log.ApplyAck(m.Header.Origin, m.Ack)
	default:
		h.logger.Warnf("unknown message kind %d", m.Kind)
	}
}

func (h *Hub) processFuse(m types.Message) {
	id := m.ID()
	if h.addLogEntry(m) == nil {
		return
	}

	// Only acknowledge the fuse when nothing newer is pending,
	// older concurrent fuses lost the race and will be erased
	// once the newest one commits.
	highest := h.log.FindHighestFuseEntry()
	if highest == nil || !id.Less(highest.ID()) {
		h.broadcast(h.constructAck(id))
	}
}

func (h *Hub) processPortOffer(op *Node, m types.Message) {
	if m.Addressee != h.id {
		return
	}
	op.SetRemotePorts(m.InternalPort, m.ExternalPort)
	if h.destroysThis(func() { h.callbacks.directConnect.emit(op.ID) }) {
		return
	}
}

// ----------------------------------------------------------------
// Socket lifecycle.

func (h *Hub) assignSocket(node *Node, socket Socket) {
	node.assign(socket)
	id := node.ID
	h.invoker.Spawn(func() { h.pollSocket(id, socket) })
}

func (h *Hub) pollSocket(id types.PeerID, socket Socket) {
	for pkt := range socket.Consume() {
		if pkt.Err != nil {
			break
		}
		frame := pkt
		if frame.Unreliable {
			h.schedule(func() { h.onUnreliableReceived(frame.Data) })
		} else {
			h.schedule(func() { h.onRecvRaw(id, frame.Data, socket) })
		}
	}
	h.schedule(func() { h.onSocketClosed(id, socket) })
}

func (h *Hub) onSocketClosed(id types.PeerID, socket Socket) {
	node := h.findNode(id)
	if node == nil {
		return
	}
	if node.socket != nil && node.socket != socket {
		// The peer was rebound to a fresh socket meanwhile.
		return
	}
	node.socket = nil
	h.onPeerDisconnected(node)
}

// onPeerDisconnected demotes the peer through a synthetic fuse,
// the quorum rule takes care of removing it from membership.
func (h *Hub) onPeerDisconnected(node *Node) {
	m := h.constructAckable(types.FuseKind)
	m.Target = node.ID
	h.broadcast(m)
	h.addLogEntry(m)
	h.commitWhatWasSeenByEveryone()
}

// ----------------------------------------------------------------
// Outbound path.

// Fuse performs the version and identifier handshake over the
// freshly connected socket and, on success, inserts a fuse
// entry for the remote peer on the replicated log. Safe from
// any goroutine; the completion runs on the reactor.
func (h *Hub) Fuse(socket Socket, onFused func(error, types.PeerID)) {
	h.invoker.Spawn(func() {
		frame := types.EncodeHandshake(h.version, h.id)
		if err := socket.Send(frame); err != nil {
			h.schedule(func() {
				_ = socket.Close()
				onFused(err, types.PeerID{})
			})
			return
		}

		timeout := time.NewTimer(h.handshakeTimeout)
		defer timeout.Stop()
		for {
			select {
			case pkt, ok := <-socket.Consume():
				if !ok {
					h.schedule(func() {
						_ = socket.Close()
						onFused(io.EOF, types.PeerID{})
					})
					return
				}
				if pkt.Err != nil {
					err := pkt.Err
					h.schedule(func() {
						_ = socket.Close()
						onFused(err, types.PeerID{})
					})
					return
				}
				if pkt.Unreliable {
					continue
				}
				data := pkt.Data
				h.schedule(func() { h.completeFusion(socket, data, onFused) })
				return
			case <-timeout.C:
				h.schedule(func() {
					_ = socket.Close()
					onFused(context.DeadlineExceeded, types.PeerID{})
				})
				return
			}
		}
	})
}

func (h *Hub) completeFusion(socket Socket, data []byte, onFused func(error, types.PeerID)) {
	refuse := func(err error) {
		_ = socket.Close()
		onFused(err, types.PeerID{})
	}

	version, remote, err := types.DecodeHandshake(data)
	if err != nil {
		refuse(types.ErrConnectionRefused)
		return
	}
	if version != h.version {
		refuse(types.ErrProtocolMismatch)
		return
	}
	if remote == h.id {
		refuse(types.ErrAlreadyConnected)
		return
	}

	node := h.findNode(remote)
	if node == nil {
		node = h.insertNode(remote)
	}
	h.assignSocket(node, socket)

	m := h.constructAckable(types.FuseKind)
	m.Target = remote
	h.broadcast(m)
	h.addLogEntry(m)

	h.addConnection(h.thisNode(), remote, node.Address())

	if h.destroysThis(func() { onFused(nil, remote) }) {
		return
	}

	h.commitWhatWasSeenByEveryone()
}

// TotalOrderBroadcast replicates the payload to every member of
// the group, delivered through the receive callback in the same
// order everywhere. Safe from any goroutine.
func (h *Hub) TotalOrderBroadcast(payload []byte) {
	h.schedule(func() {
		m := h.constructAckable(types.UserDataKind)
		m.Payload = payload
		h.broadcast(m)
		h.addLogEntry(m)
		h.schedule(func() { h.commitWhatWasSeenByEveryone() })
	})
}

// ----------------------------------------------------------------
// Best effort path.

// UnreliableBroadcast sends the payload to every connected peer
// without acks, log entries or ordering. The completion runs
// after the last outstanding send released the buffer. Safe
// from any goroutine.
func (h *Hub) UnreliableBroadcast(payload []byte, done func()) {
	h.schedule(func() {
		data := types.EncodeUnreliable(h.id, payload)

		outstanding := 0
		release := func(error) {
			h.schedule(func() {
				outstanding--
				if outstanding == 0 && done != nil {
					done()
				}
			})
		}

		for _, node := range h.nodes {
			if node.ID == h.id || !node.IsConnected() {
				continue
			}
			outstanding++
			node.SendUnreliable(data, release)
		}

		if outstanding == 0 && done != nil {
			h.schedule(done)
		}
	})
}

// IngestUnreliable feeds a best effort frame received outside
// any bound socket, e.g. through a shared datagram endpoint.
// Safe from any goroutine.
func (h *Hub) IngestUnreliable(data []byte) {
	h.schedule(func() { h.onUnreliableReceived(data) })
}

// onUnreliableReceived forwards the frame along the routing
// table fan-out and surfaces the payload.
func (h *Hub) onUnreliableReceived(data []byte) {
	source, payload, err := types.DecodeUnreliable(data)
	if err != nil {
		return
	}
	if h.findNode(source) == nil {
		return
	}

	for _, target := range h.routing.Targets(source) {
		node := h.findNode(target)
		if node == nil || !node.IsConnected() {
			continue
		}
		node.SendUnreliable(data, func(error) {})
	}

	if h.destroysThis(func() { h.callbacks.receiveUnreliable.emit(source, payload) }) {
		return
	}
}

// ----------------------------------------------------------------
// Commit driver.

// commitWhatWasSeenByEveryone walks the log head first applying
// the commit predicate, delivering committed entries and
// mutating membership.
func (h *Hub) commitWhatWasSeenByEveryone() {
	var lastCommittableFuse *LogEntry

	_, live := h.currentConfig()

	for _, entry := range h.log.EntriesTailFirst() {
		if entry.Received && entry.Message.Kind == types.FuseKind && entry.AckedByQuorum() {
			lastCommittableFuse = entry
			live = entry.Quorum
			break
		}
	}

	for _, entry := range h.log.EntriesHeadFirst() {
		if entry.Received && entry.Message.Kind == types.FuseKind {
			if lastCommittableFuse != nil {
				if entry.ID().Less(lastCommittableFuse.ID()) {
					// A fuse concurrent with the committable one is
					// erased without delivery. This may also erase a
					// fuse that causally precedes it; distinguishing
					// the two cases remains unresolved, so the
					// behavior is kept as is.
					if !entry.AckedByQuorumOf(live) {
						h.log.LastCommitted = entry.ID()
						h.log.LastCommitOp = entry.Message.Header.Origin
						h.log.Erase(entry.ID())
						continue
					}
				} else if !entry.ID().Equal(lastCommittableFuse.ID()) {
					break
				}
			} else {
				// A fuse we already know is not committable.
				break
			}
		} else {
			if !entry.AckedByQuorumOf(live) {
				break
			}
		}

		if len(entry.Predecessors) != 0 {
			predecessors := entry.PredecessorsTailFirst()
			chosen := -1
			for i, predecessor := range predecessors {
				if predecessor.Equal(h.log.LastCommitted) {
					chosen = i
					break
				}
				if !h.hasConfig(entry.Message.Header.Config) {
					continue
				}
				chosen = i
				break
			}
			if chosen >= 0 {
				predecessor := predecessors[chosen]
				if !predecessor.Equal(h.log.LastCommitted) && h.log.LastFuseCommit.Less(predecessor) {
					break
				}
			}
		}

		if entry == lastCommittableFuse {
			lastCommittableFuse = nil
		}

		id := entry.ID()
		h.log.Erase(id)
		h.seen.SeenEverythingUpTo(id)

		if entry.Message.Kind == types.FuseKind {
			h.log.LastFuseCommit = id
		}
		h.log.LastCommitted = id
		h.log.LastCommitOp = entry.Message.Header.Origin

		h.commit(entry)

		if h.alive.IsInactive() {
			return
		}
	}
}

func (h *Hub) commit(entry *LogEntry) {
	switch entry.Message.Kind {
	case types.FuseKind:
		h.onCommitFuse(entry)
	case types.UserDataKind:
		h.commitUserData(entry.Message.Header.Origin, entry.Message.Payload)
	case types.PortOfferKind:
		// Reserved, port offers carry no commit action.
	}
}

func (h *Hub) commitUserData(op types.PeerID, payload []byte) {
	if h.findNode(op) == nil {
		return
	}
	h.callbacks.receive.emit(op, payload)
}

func (h *Hub) onCommitFuse(entry *LogEntry) {
	if !entry.AckedByQuorum() {
		return
	}

	h.routing.Recalculate(AcksToGraph(entry.Acks))

	_, previous := h.currentConfig()
	added := entry.Quorum.Difference(previous)
	removed := previous.Difference(entry.Quorum)

	h.installConfig(entry.ID(), entry.Quorum)

	// Forget about the lost nodes.
	for id := range removed {
		h.seen.ForgetMessagesFrom(id)
		if node := h.findNode(id); node != nil {
			delete(h.nodes, id)
			node.Disconnect()
		}
	}

	if len(added) != 0 {
		if h.destroysThis(func() { h.callbacks.insert.emit(added) }) {
			return
		}
	}
	if len(removed) != 0 {
		if h.destroysThis(func() { h.callbacks.remove.emit(removed) }) {
			return
		}
	}
}

// ----------------------------------------------------------------

// Shutdown posts the teardown job. Sockets are torn down on
// the reactor and the liveness flag goes down, so every pending
// continuation unwinds without touching state. The job runs
// even if a callback already destroyed the engine.
func (h *Hub) Shutdown() {
	h.scheduler.Schedule(func(ctx context.Context) {
		for _, node := range h.nodes {
			node.Disconnect()
		}
		h.log.Close()
		h.alive.Inactivate()
	})
}
