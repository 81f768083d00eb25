package errors

import (
	"errors"
	"fmt"
)

// BridgeError is the base interface for all bridge errors.
type BridgeError interface {
	error
	IsBridgeError() bool
}

// Compile-time verification that all error types implement BridgeError.
var (
	_ BridgeError = (*TransportError)(nil)
	_ BridgeError = (*ActionError)(nil)
	_ BridgeError = (*StreamFailedError)(nil)
	_ BridgeError = (*HostNotFoundError)(nil)
	_ BridgeError = (*HostConnectionError)(nil)
	_ BridgeError = (*ProcessError)(nil)
	_ BridgeError = (*JSONDecodeError)(nil)
)

// Error kinds carried across the boundary in the errorKind field of a result.
const (
	// KindTransport marks a malformed message or a handler that panicked.
	KindTransport = "transport"
	// KindAction marks an error returned by an action handler.
	KindAction = "action"
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrClientNotConnected indicates the client is not connected.
	ErrClientNotConnected = errors.New("client not connected")

	// ErrClientAlreadyConnected indicates the client is already connected.
	ErrClientAlreadyConnected = errors.New("client already connected")

	// ErrClientClosed indicates the client has been closed and cannot be reused.
	ErrClientClosed = errors.New("client closed: clients are single-use, create a new one with NewClient()")

	// ErrTransportNotConnected indicates the transport is not connected.
	ErrTransportNotConnected = errors.New("transport not connected")

	// ErrTransportClosed indicates the transport was closed.
	ErrTransportClosed = errors.New("transport closed")

	// ErrStdinClosed indicates the host process stdin was closed.
	ErrStdinClosed = errors.New("stdin closed")

	// ErrChannelClosed indicates the request or stream channel has shut down.
	ErrChannelClosed = errors.New("channel closed")

	// ErrRequestTimeout indicates a request timed out.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrConcurrentNext indicates Next was called while another Next was pending.
	ErrConcurrentNext = errors.New("concurrent next: stream supports a single consumer")

	// ErrStreamClosed indicates the stream was closed locally.
	ErrStreamClosed = errors.New("stream closed")

	// ErrStreamEnded indicates the host ended the stream before it became ready.
	ErrStreamEnded = errors.New("stream ended")

	// ErrUnknownAction indicates the host has no handler for an action.
	ErrUnknownAction = errors.New("unknown action")

	// ErrUnknownStream indicates the host has no factory for a stream name.
	ErrUnknownStream = errors.New("unknown stream")

	// ErrOperationCancelled indicates an operation was cancelled via cancel request.
	ErrOperationCancelled = errors.New("operation cancelled")

	// ErrInvalidInput indicates action data failed to decode or validate.
	ErrInvalidInput = errors.New("invalid input")
)

// TransportError indicates a message could not be encoded, sent or decoded,
// or that the host handler panicked. It only ever rejects the request it
// belongs to.
type TransportError struct {
	Action string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("transport error on %s: %v", e.Action, e.Err)
	}

	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *TransportError) IsBridgeError() bool { return true }

// ActionError is an error raised by an action on the worker host, rebuilt on
// the consumer side from the result message.
//
// Kind and Code are optional and only present when the host supplied them.
type ActionError struct {
	Action  string
	Message string
	Kind    string
	Code    string
}

func (e *ActionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("action %s failed [%s]: %s", e.Action, e.Code, e.Message)
	}

	return fmt.Sprintf("action %s failed: %s", e.Action, e.Message)
}

// IsBridgeError implements BridgeError.
func (e *ActionError) IsBridgeError() bool { return true }

// Is matches the sentinels the host encodes as error codes.
func (e *ActionError) Is(target error) bool {
	switch target {
	case ErrUnknownAction:
		return e.Code == CodeUnknownAction
	case ErrUnknownStream:
		return e.Code == CodeUnknownStream
	case ErrOperationCancelled:
		return e.Code == CodeCancelled
	case ErrInvalidInput:
		return e.Code == CodeInvalidInput
	}

	return false
}

// Error codes the host attaches to well-known failures.
const (
	CodeUnknownAction = "unknown_action"
	CodeUnknownStream = "unknown_stream"
	CodeCancelled     = "cancelled"
	CodeInvalidInput  = "invalid_input"
)

// StreamFailedError indicates a host-side subscription died unexpectedly.
//
// It is only ever delivered through failure callbacks, never through
// stream iteration.
type StreamFailedError struct {
	StreamID string
	Stream   string
	Err      error
}

func (e *StreamFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream %s (%s) failed: %v", e.Stream, e.StreamID, e.Err)
	}

	return fmt.Sprintf("stream %s (%s) failed", e.Stream, e.StreamID)
}

func (e *StreamFailedError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *StreamFailedError) IsBridgeError() bool { return true }

// HostNotFoundError indicates the worker host binary was not found.
type HostNotFoundError struct {
	SearchedPaths []string
}

func (e *HostNotFoundError) Error() string {
	return fmt.Sprintf("worker host not found in: %v", e.SearchedPaths)
}

// IsBridgeError implements BridgeError.
func (e *HostNotFoundError) IsBridgeError() bool { return true }

// HostConnectionError indicates failure to connect to the worker host.
type HostConnectionError struct {
	Err error
}

func (e *HostConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to worker host: %v", e.Err)
}

func (e *HostConnectionError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *HostConnectionError) IsBridgeError() bool { return true }

// ProcessError indicates the worker host process failed.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker host process failed (exit %d): %v", e.ExitCode, e.Err)
	}

	return fmt.Sprintf("worker host process failed (exit %d): %s", e.ExitCode, e.Stderr)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *ProcessError) IsBridgeError() bool { return true }

// JSONDecodeError indicates a frame read from the transport was not valid JSON.
// This error preserves the original raw data that failed to parse.
type JSONDecodeError struct {
	RawData string
	Err     error
}

func (e *JSONDecodeError) Error() string {
	return fmt.Sprintf("failed to decode JSON frame: %v", e.Err)
}

func (e *JSONDecodeError) Unwrap() error {
	return e.Err
}

// IsBridgeError implements BridgeError.
func (e *JSONDecodeError) IsBridgeError() bool { return true }
