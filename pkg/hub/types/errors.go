package types

import "errors"

var (
	// ErrProtocolMismatch is reported through the fusing
	// completion when the two halves disagree on the version.
	ErrProtocolMismatch = errors.New("protocol version mismatch")

	// ErrAlreadyConnected is reported when the remote end of a
	// fusing socket identifies itself with our own id.
	ErrAlreadyConnected = errors.New("remote peer is myself")

	// ErrConnectionRefused is reported when the handshake frame
	// cannot be decoded.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrHubClosed is returned by Close when the hub was
	// already closed.
	ErrHubClosed = errors.New("hub is closed")

	// ErrInvalidConfiguration is returned when bootstrapping
	// with an unusable configuration.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)
