package core

import (
	"github.com/jabolina/go-hub/pkg/hub/types"
)

// Application callbacks.
//
// A callback may replace itself (or clear itself) from inside
// its own invocation. To keep the captured state of the running
// function alive during the call, dispatch moves the function
// out of the slot, invokes it, and moves it back unless the
// slot was rewritten meanwhile. All dispatch happens on the
// scheduler goroutine, so the slots need no locking.
type Callbacks struct {
	insert            callbackSlot
	remove            callbackSlot
	receive           receiveSlot
	receiveUnreliable receiveSlot
	directConnect     peerSlot
}

type callbackSlot struct {
	fn       func(types.PeerSet)
	wasReset bool
}

func (s *callbackSlot) reset(fn func(types.PeerSet)) {
	s.wasReset = true
	s.fn = fn
}

func (s *callbackSlot) emit(peers types.PeerSet) {
	if s.fn == nil {
		return
	}
	s.wasReset = false
	fn := s.fn
	s.fn = nil
	fn(peers)
	if !s.wasReset {
		s.fn = fn
	}
}

type peerSlot struct {
	fn       func(types.PeerID)
	wasReset bool
}

func (s *peerSlot) reset(fn func(types.PeerID)) {
	s.wasReset = true
	s.fn = fn
}

func (s *peerSlot) emit(peer types.PeerID) {
	if s.fn == nil {
		return
	}
	s.wasReset = false
	fn := s.fn
	s.fn = nil
	fn(peer)
	if !s.wasReset {
		s.fn = fn
	}
}

type receiveSlot struct {
	fn       func(types.PeerID, []byte)
	wasReset bool
}

func (s *receiveSlot) reset(fn func(types.PeerID, []byte)) {
	s.wasReset = true
	s.fn = fn
}

func (s *receiveSlot) emit(source types.PeerID, payload []byte) {
	if s.fn == nil {
		return
	}
	s.wasReset = false
	fn := s.fn
	s.fn = nil
	fn(source, payload)
	if !s.wasReset {
		s.fn = fn
	}
}
