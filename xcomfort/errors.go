package xcomfort

import "errors"

// Domain errors for the xComfort client package.
var (
	// ErrNotConnected is returned when an operation requires an open
	// channel but none is established.
	ErrNotConnected = errors.New("xcomfort: not connected to bridge")

	// ErrHandshakeFailed is returned when the HTTP bootstrap with the
	// bridge fails.
	ErrHandshakeFailed = errors.New("xcomfort: handshake with bridge failed")

	// ErrAuthRejected is returned when the bridge rejects the authkey
	// during bootstrap.
	ErrAuthRejected = errors.New("xcomfort: bridge rejected authkey")

	// ErrMalformedBootstrap is returned when the bootstrap response cannot
	// be interpreted.
	ErrMalformedBootstrap = errors.New("xcomfort: malformed bootstrap response")

	// ErrAuthFailure is returned when an inbound frame fails
	// authentication. The channel is torn down; a full re-handshake
	// regenerates the session key.
	ErrAuthFailure = errors.New("xcomfort: frame authentication failed")

	// ErrTransport is returned when the underlying stream fails.
	// Retryable by the supervisor.
	ErrTransport = errors.New("xcomfort: transport error")

	// ErrChannelClosed is returned by Send when the connection has been
	// closed.
	ErrChannelClosed = errors.New("xcomfort: channel closed")

	// ErrInvalidFrame is returned when a frame cannot be decoded. The
	// frame is dropped and the pump continues.
	ErrInvalidFrame = errors.New("xcomfort: invalid frame")

	// ErrReplay marks an inbound frame whose counter is at or below the
	// last accepted one. The frame is dropped and the pump continues.
	ErrReplay = errors.New("xcomfort: frame counter replayed")

	// ErrAlreadyRunning is returned when Run is called while the bridge
	// is not in the uninitialized state.
	ErrAlreadyRunning = errors.New("xcomfort: bridge already running")

	// ErrClosed is returned when an operation races a concluded Close.
	ErrClosed = errors.New("xcomfort: bridge closed")
)
