package workerbridge

import "github.com/wagiedev/workerbridge-go/internal/errors"

// Re-export error types from internal package

// BridgeError is the base interface for all bridge errors.
type BridgeError = errors.BridgeError

// TransportError indicates a message could not be encoded, sent or decoded.
type TransportError = errors.TransportError

// ActionError is an error raised by an action on the worker host.
type ActionError = errors.ActionError

// StreamFailedError indicates a host-side subscription died.
// It is delivered through stream failure callbacks only.
type StreamFailedError = errors.StreamFailedError

// HostNotFoundError indicates the worker host binary was not found.
type HostNotFoundError = errors.HostNotFoundError

// HostConnectionError indicates failure to reach the worker host.
type HostConnectionError = errors.HostConnectionError

// ProcessError indicates the worker host process failed.
type ProcessError = errors.ProcessError

// JSONDecodeError indicates a frame or payload could not be decoded.
type JSONDecodeError = errors.JSONDecodeError

// Re-export sentinel errors from internal package.
var (
	// ErrClientNotConnected indicates the client is not connected.
	ErrClientNotConnected = errors.ErrClientNotConnected

	// ErrClientAlreadyConnected indicates the client is already connected.
	ErrClientAlreadyConnected = errors.ErrClientAlreadyConnected

	// ErrClientClosed indicates the client has been closed and cannot be reused.
	ErrClientClosed = errors.ErrClientClosed

	// ErrTransportNotConnected indicates the transport is not connected.
	ErrTransportNotConnected = errors.ErrTransportNotConnected

	// ErrTransportClosed indicates the transport was closed.
	ErrTransportClosed = errors.ErrTransportClosed

	// ErrChannelClosed rejects requests outstanding when the connection ends.
	ErrChannelClosed = errors.ErrChannelClosed

	// ErrRequestTimeout indicates a request timed out.
	ErrRequestTimeout = errors.ErrRequestTimeout

	// ErrConcurrentNext is returned when a stream is pulled from two goroutines at once.
	ErrConcurrentNext = errors.ErrConcurrentNext

	// ErrStreamClosed indicates the stream was already ended.
	ErrStreamClosed = errors.ErrStreamClosed

	// ErrStreamEnded indicates the host completed the stream.
	ErrStreamEnded = errors.ErrStreamEnded

	// ErrUnknownAction indicates the host has no handler for the action.
	ErrUnknownAction = errors.ErrUnknownAction

	// ErrUnknownStream indicates the host has no stream of that name.
	ErrUnknownStream = errors.ErrUnknownStream

	// ErrOperationCancelled indicates the host cancelled the action.
	ErrOperationCancelled = errors.ErrOperationCancelled

	// ErrInvalidInput indicates the host rejected the action's data.
	ErrInvalidInput = errors.ErrInvalidInput
)
