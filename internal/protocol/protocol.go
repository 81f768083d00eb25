package protocol

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wagiedev/workerbridge-go/internal/errors"
)

// Transport defines the minimal interface needed for protocol operations.
//
// This interface is satisfied by every bridge transport but allows for
// testing with mock transports.
type Transport interface {
	ReadMessages(ctx context.Context) (<-chan []byte, <-chan error)
	SendMessage(ctx context.Context, data []byte) error
}

// Controller dispatches inbound frames from a transport to a RequestChannel
// and a StreamChannel.
//
// A single goroutine reads the transport and handles each frame to
// completion before reading the next one, so envelopes for one stream are
// observed in emission order. The channels additionally guard their maps
// with mutexes because callers open, send and end from their own goroutines.
//
// The Controller must be started with Start() before use.
type Controller struct {
	log       *slog.Logger
	transport Transport

	requests *RequestChannel
	streams  *StreamChannel

	// Fatal error handling - stores error and broadcasts via done channel
	errMu    sync.RWMutex
	fatalErr error

	// Lifecycle management
	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewController creates a new protocol controller.
//
// The logger will receive debug, info, warn, and error messages during
// protocol operations. The transport must be connected before calling Start().
func NewController(log *slog.Logger, transport Transport, settings Settings) *Controller {
	log = log.With("component", "protocol")
	requests := NewRequestChannel(log, transport, settings)

	return &Controller{
		log:       log,
		transport: transport,
		requests:  requests,
		streams:   NewStreamChannel(log, requests, settings.Metrics),
		done:      make(chan struct{}),
	}
}

// Requests returns the request channel.
func (c *Controller) Requests() *RequestChannel {
	return c.requests
}

// Streams returns the stream channel.
func (c *Controller) Streams() *StreamChannel {
	return c.streams
}

// closeDone safely closes the done channel exactly once.
func (c *Controller) closeDone() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// SetFatalError stores a fatal error and broadcasts to all waiters by closing done.
func (c *Controller) SetFatalError(err error) {
	c.errMu.Lock()

	if c.fatalErr == nil {
		c.fatalErr = err
	}

	c.errMu.Unlock()

	c.closeDone()
}

// FatalError returns the fatal error if one occurred.
func (c *Controller) FatalError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()

	return c.fatalErr
}

// Done returns a channel that is closed when the controller stops.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Start begins reading frames from the transport and dispatching them.
//
// The read goroutine stops when the context is cancelled, the transport is
// closed or Stop is called. When it stops, pending requests are rejected and
// live streams fail with ErrChannelClosed.
func (c *Controller) Start(ctx context.Context) error {
	c.log.Debug("Starting protocol controller")

	messages, errs := c.transport.ReadMessages(ctx)

	c.wg.Add(1)

	go c.readLoop(ctx, messages, errs)

	c.log.Info("Protocol controller started")

	return nil
}

// Stop gracefully shuts down the controller.
//
// This method signals the read loop to stop and waits for completion.
// It's safe to call Stop multiple times.
func (c *Controller) Stop() {
	c.log.Debug("Stopping protocol controller")

	c.closeDone()
	c.wg.Wait()
	c.shutdownChannels()

	c.log.Info("Protocol controller stopped")
}

// shutdownChannels closes both channels with the fatal error as cause.
func (c *Controller) shutdownChannels() {
	cause := c.FatalError()
	if cause == nil {
		cause = errors.ErrTransportClosed
	}

	c.requests.Close(cause)
	c.streams.CloseAll(cause)
}

// readLoop reads frames from the transport and dispatches them.
func (c *Controller) readLoop(
	ctx context.Context,
	messages <-chan []byte,
	errs <-chan error,
) {
	defer c.wg.Done()
	defer c.shutdownChannels()
	defer c.log.Debug("Protocol read loop stopped")

	for {
		select {
		case data, ok := <-messages:
			if !ok {
				c.log.Debug("Message channel closed")
				c.drainError(errs)
				c.closeDone()

				return
			}

			c.handleFrame(data)

		case err, ok := <-errs:
			if !ok {
				// Keep draining frames; the message channel closes next.
				errs = nil

				continue
			}

			if err != nil {
				c.log.Debug("Transport error in protocol", "error", err)
				c.SetFatalError(err)

				return
			}

		case <-c.done:
			c.log.Debug("Protocol controller stop signal received")

			return

		case <-ctx.Done():
			c.log.Debug("Context cancelled in protocol read loop")
			c.SetFatalError(ctx.Err())

			return
		}
	}
}

// drainError records an error that raced with the message channel closing.
func (c *Controller) drainError(errs <-chan error) {
	if errs == nil {
		return
	}

	select {
	case err, ok := <-errs:
		if ok && err != nil {
			c.SetFatalError(err)
		}
	default:
	}
}

// handleFrame decodes one frame and routes it.
//
// A malformed frame only affects the request it can be attributed to.
func (c *Controller) handleFrame(data []byte) {
	frame, err := DecodeFrame(data)
	if err != nil {
		decodeErr := &errors.JSONDecodeError{RawData: string(data), Err: err}

		if id := SalvageID(data); id != "" && c.requests.Reject(id, &errors.TransportError{Err: decodeErr}) {
			c.log.Warn("Rejected request with malformed result", "id", id, "error", err)

			return
		}

		c.log.Warn("Dropping malformed frame", "error", err)

		return
	}

	switch {
	case frame.IsEnvelope():
		c.streams.HandleEnvelope(frame.Envelope())

	case frame.ID != "":
		c.requests.HandleResult(frame.ResultMessage())

	default:
		c.log.Warn("Dropping frame without id or streamId", "type", frame.Type, "action", frame.Action)
	}
}
