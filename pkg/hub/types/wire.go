package types

import (
	"encoding/binary"
	"errors"
)

var (
	// ErrMalformedFrame is returned when a frame cannot be
	// decoded back into a message.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownKind is returned for a frame carrying an
	// unknown message kind.
	ErrUnknownKind = errors.New("unknown message kind")
)

// Sets with more members, or payloads with more bytes, than this
// are refused while decoding, protecting against corrupted length
// prefixes.
const maxElements = 1 << 20

type encoder struct {
	buf []byte
}

func (e *encoder) putU8(v uint8) {
	e.buf = append(e.buf, v)
}

func (e *encoder) putU16(v uint16) {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

func (e *encoder) putU32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

func (e *encoder) putU64(v uint64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	e.buf = append(e.buf, tmp[:]...)
}

func (e *encoder) putID(id PeerID) {
	e.buf = append(e.buf, id[:]...)
}

func (e *encoder) putMessageID(id MessageID) {
	e.putU64(uint64(id.Timestamp))
	e.putID(id.Peer)
}

// Sets are encoded sorted so the frame bytes are deterministic
// for a given message value.
func (e *encoder) putSet(set PeerSet) {
	e.putU32(uint32(len(set)))
	for _, id := range set.Sorted() {
		e.putID(id)
	}
}

func (e *encoder) putBytes(data []byte) {
	e.putU32(uint32(len(data)))
	e.buf = append(e.buf, data...)
}

type decoder struct {
	data []byte
	off  int
	err  error
}

func (d *decoder) fail() {
	if d.err == nil {
		d.err = ErrMalformedFrame
	}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if d.off+n > len(d.data) {
		d.fail()
		return nil
	}
	v := d.data[d.off : d.off+n]
	d.off += n
	return v
}

func (d *decoder) getU8() uint8 {
	v := d.take(1)
	if v == nil {
		return 0
	}
	return v[0]
}

func (d *decoder) getU16() uint16 {
	v := d.take(2)
	if v == nil {
		return 0
	}
	return binary.BigEndian.Uint16(v)
}

func (d *decoder) getU32() uint32 {
	v := d.take(4)
	if v == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v)
}

func (d *decoder) getU64() uint64 {
	v := d.take(8)
	if v == nil {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func (d *decoder) getID() PeerID {
	var id PeerID
	v := d.take(len(id))
	if v != nil {
		copy(id[:], v)
	}
	return id
}

func (d *decoder) getMessageID() MessageID {
	ts := Timestamp(d.getU64())
	return MessageID{Timestamp: ts, Peer: d.getID()}
}

func (d *decoder) getSet() PeerSet {
	size := d.getU32()
	if size > maxElements {
		d.fail()
		return nil
	}
	set := make(PeerSet, size)
	for i := uint32(0); i < size; i++ {
		set.Add(d.getID())
	}
	if d.err != nil {
		return nil
	}
	return set
}

func (d *decoder) getBytes() []byte {
	size := d.getU32()
	if size > maxElements {
		d.fail()
		return nil
	}
	v := d.take(int(size))
	if v == nil {
		return nil
	}
	data := make([]byte, size)
	copy(data, v)
	return data
}

func (e *encoder) putHeader(h Header) {
	e.putID(h.Origin)
	e.putU64(uint64(h.Timestamp))
	e.putMessageID(h.Config)
	e.putSet(h.Visited)
}

func (d *decoder) getHeader() Header {
	return Header{
		Origin:    d.getID(),
		Timestamp: Timestamp(d.getU64()),
		Config:    d.getMessageID(),
		Visited:   d.getSet(),
	}
}

func (e *encoder) putAckData(a AckData) {
	e.putMessageID(a.Message)
	e.putMessageID(a.Predecessor)
	e.putSet(a.Neighbors)
}

func (d *decoder) getAckData() AckData {
	return AckData{
		Message:     d.getMessageID(),
		Predecessor: d.getMessageID(),
		Neighbors:   d.getSet(),
	}
}

// EncodeMessage serializes the message into a single frame.
func EncodeMessage(m Message) []byte {
	e := &encoder{}
	e.putU8(uint8(m.Kind))
	e.putHeader(m.Header)
	switch m.Kind {
	case FuseKind:
		e.putAckData(m.Ack)
		e.putID(m.Target)
	case PortOfferKind:
		e.putAckData(m.Ack)
		e.putID(m.Addressee)
		e.putU16(m.InternalPort)
		e.putU16(m.ExternalPort)
	case UserDataKind:
		e.putAckData(m.Ack)
		e.putBytes(m.Payload)
	case AckKind:
		e.putAckData(m.Ack)
	}
	return e.buf
}

// DecodeMessage parses a frame back into a message. The whole
// frame must be consumed, trailing garbage is refused.
func DecodeMessage(data []byte) (Message, error) {
	d := &decoder{data: data}
	m := Message{
		Kind:   MessageKind(d.getU8()),
		Header: d.getHeader(),
	}
	switch m.Kind {
	case FuseKind:
		m.Ack = d.getAckData()
		m.Target = d.getID()
	case PortOfferKind:
		m.Ack = d.getAckData()
		m.Addressee = d.getID()
		m.InternalPort = d.getU16()
		m.ExternalPort = d.getU16()
	case UserDataKind:
		m.Ack = d.getAckData()
		m.Payload = d.getBytes()
	case AckKind:
		m.Ack = d.getAckData()
	default:
		return Message{}, ErrUnknownKind
	}
	if d.err != nil {
		return Message{}, d.err
	}
	if d.off != len(data) {
		return Message{}, ErrMalformedFrame
	}
	return m, nil
}

// EncodeHandshake builds the frame exchanged on both directions
// of a fusing socket.
func EncodeHandshake(version uint32, id PeerID) []byte {
	e := &encoder{}
	e.putU32(version)
	e.putID(id)
	return e.buf
}

// DecodeHandshake parses the handshake frame.
func DecodeHandshake(data []byte) (uint32, PeerID, error) {
	d := &decoder{data: data}
	version := d.getU32()
	id := d.getID()
	if d.err != nil || d.off != len(data) {
		return 0, PeerID{}, ErrMalformedFrame
	}
	return version, id, nil
}

// EncodeUnreliable builds the best effort broadcast frame.
func EncodeUnreliable(source PeerID, payload []byte) []byte {
	e := &encoder{}
	e.putID(source)
	e.putBytes(payload)
	return e.buf
}

// DecodeUnreliable parses the best effort broadcast frame.
func DecodeUnreliable(data []byte) (PeerID, []byte, error) {
	d := &decoder{data: data}
	source := d.getID()
	payload := d.getBytes()
	if d.err != nil || d.off != len(data) {
		return PeerID{}, nil, ErrMalformedFrame
	}
	return source, payload, nil
}
