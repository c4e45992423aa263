package network

import (
	"context"
	"time"

	"github.com/digital-comrades/proletariat/pkg/proletariat"
	"github.com/prometheus/common/log"

	"github.com/jabolina/go-hub/pkg/hub/core"
	"github.com/jabolina/go-hub/pkg/hub/helper"
	"github.com/jabolina/go-hub/pkg/hub/types"
)

// DatagramTransport is the best effort channel behind the
// unreliable broadcast path. Frames may be dropped or arrive
// out of order, nothing here is acked or logged.
type DatagramTransport struct {
	// Hold the configuration for the underlying communication.
	configuration proletariat.Configuration

	// Primitive for sending messages in a unreliable way.
	comm proletariat.Communication

	// Channel to publish the received frames.
	producer chan core.Packet

	// Transport context for bounding the lifetime.
	ctx context.Context

	// Used to close the transport.
	cancel context.CancelFunc
}

// NewDatagramTransport binds the best effort endpoint at the
// given address.
func NewDatagramTransport(
	parent context.Context,
	address types.Address,
	timeout time.Duration,
	invoker helper.Invoker) (*DatagramTransport, error) {
	ctx, cancel := context.WithCancel(parent)
	conf := proletariat.Configuration{
		Address: proletariat.Address(address),
		Timeout: timeout,
		Ctx:     ctx,
	}
	comm, err := proletariat.NewCommunication(conf)
	if err != nil {
		cancel()
		return nil, err
	}
	d := &DatagramTransport{
		configuration: conf,
		comm:          comm,
		producer:      make(chan core.Packet, laneCapacity),
		ctx:           ctx,
		cancel:        cancel,
	}
	invoker.Spawn(comm.Start)
	invoker.Spawn(d.poll)
	return d, nil
}

// Addr the transport is bound to.
func (d *DatagramTransport) Addr() types.Address {
	return types.Address(d.configuration.Address)
}

// Send the frame towards the given endpoint.
func (d *DatagramTransport) Send(address types.Address, data []byte) error {
	return d.comm.Send(proletariat.Address(address), data)
}

// Consume returns the inbound frame channel.
func (d *DatagramTransport) Consume() <-chan core.Packet {
	return d.producer
}

// Close the transport, the consume channel is closed once the
// polling routine drains.
func (d *DatagramTransport) Close() error {
	d.cancel()
	return d.comm.Close()
}

func (d *DatagramTransport) poll() {
	defer close(d.producer)
	for {
		select {
		case <-d.ctx.Done():
			return
		case datagram, ok := <-d.comm.Receive():
			if !ok {
				return
			}
			d.consume(datagram.Data.Bytes(), datagram.Err)
		}
	}
}

func (d *DatagramTransport) consume(data []byte, err error) {
	if err != nil {
		log.Errorf("failed consuming datagram. %v", err)
		return
	}

	if data == nil {
		return
	}

	frame := make([]byte, len(data))
	copy(frame, data)
	select {
	case <-d.ctx.Done():
	case d.producer <- core.Packet{Data: frame, Unreliable: true}:
	}
}
