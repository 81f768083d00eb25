package workerbridge

import (
	"encoding/json"

	"github.com/wagiedev/workerbridge-go/internal/asyncstream"
	"github.com/wagiedev/workerbridge-go/internal/protocol"
	"github.com/wagiedev/workerbridge-go/internal/supervisor"
)

// Stream is a supervised stream of raw JSON values.
type Stream = supervisor.Stream[json.RawMessage]

// RawStream is an unsupervised subscription. It ends for good on the first
// failure.
type RawStream = protocol.Stream

// Future is the pending result of an action sent with Send.
type Future = protocol.Future

// StreamState is the lifecycle state of a supervised stream.
type StreamState = supervisor.State

const (
	StreamConnecting = supervisor.StateConnecting
	StreamActive     = supervisor.StateActive
	StreamFailed     = supervisor.StateFailed
	StreamClosed     = supervisor.StateClosed
)

// Result is one pull from a stream. Done reports the end of the stream.
type Result[T any] = asyncstream.Result[T]

// AsyncStream adapts a push source into a pull-based sequence.
type AsyncStream[T any] = asyncstream.Stream[T]

// NewAsyncStream creates an AsyncStream. onStop, if non-nil, runs once when
// the stream is stopped.
func NewAsyncStream[T any](onStop func()) *AsyncStream[T] {
	return asyncstream.New[T](onStop)
}
