package network_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/jabolina/go-hub/pkg/hub/network"
)

func TestSocketPair_ReliableFIFO(t *testing.T) {
	left, right := network.SocketPair("addr-l", "addr-r")
	defer func() {
		_ = left.Close()
	}()

	frames := [][]byte{{0x01}, {0x02, 0x03}, {0x04}}
	for _, frame := range frames {
		if err := left.Send(frame); err != nil {
			t.Fatalf("send failed. %v", err)
		}
	}

	for _, expected := range frames {
		select {
		case pkt := <-right.Consume():
			if pkt.Err != nil || pkt.Unreliable {
				t.Fatalf("unexpected packet %#v", pkt)
			}
			if !bytes.Equal(pkt.Data, expected) {
				t.Errorf("frame = %v, want %v", pkt.Data, expected)
			}
		case <-time.After(time.Second):
			t.Fatalf("frame never arrived")
		}
	}
}

func TestSocketPair_UnreliableFlagged(t *testing.T) {
	left, right := network.SocketPair("addr-l", "addr-r")
	defer func() {
		_ = right.Close()
	}()

	released := false
	left.SendUnreliable([]byte{0xff}, func(err error) {
		if err != nil {
			t.Errorf("send failed. %v", err)
		}
		released = true
	})
	if !released {
		t.Errorf("completion must run once the buffer is released")
	}

	select {
	case pkt := <-right.Consume():
		if !pkt.Unreliable {
			t.Errorf("datagram not flagged as unreliable")
		}
	case <-time.After(time.Second):
		t.Fatalf("datagram never arrived")
	}
}

func TestSocketPair_CloseTearsBothDirectionsDown(t *testing.T) {
	left, right := network.SocketPair("addr-l", "addr-r")
	if err := left.Close(); err != nil {
		t.Fatalf("close failed. %v", err)
	}

	if err := right.Send([]byte{0x01}); err == nil {
		t.Errorf("send on a closed pair must fail")
	}
	if _, ok := <-right.Consume(); ok {
		t.Errorf("consume channel must be closed")
	}

	if left.Addr() != "addr-r" || right.Addr() != "addr-l" {
		t.Errorf("halves must report the remote label")
	}
}
