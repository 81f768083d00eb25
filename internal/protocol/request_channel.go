package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/wagiedev/workerbridge-go/internal/errors"
	"github.com/wagiedev/workerbridge-go/internal/metrics"
)

// cancelSendTimeout bounds the best-effort action.cancel notification.
const cancelSendTimeout = time.Second

// Sender is the write side of a transport.
type Sender interface {
	SendMessage(ctx context.Context, data []byte) error
}

// Settings tunes the channels of a Controller.
type Settings struct {
	// RequestTimeout bounds every round trip. Zero disables the timeout.
	RequestTimeout time.Duration

	// Metrics receives channel metrics. May be nil.
	Metrics *metrics.Metrics

	// Tracer starts one span per action. If nil, spans are not recorded.
	Tracer trace.Tracer
}

// RequestChannel correlates outbound action messages with inbound results.
//
// Every Send registers a pending entry under a fresh ULID. The entry is
// removed exactly once: by the first matching result, by cancellation, by
// timeout or by Close. Results for unknown or already settled IDs are
// ignored, so duplicate delivery never settles a Future twice.
type RequestChannel struct {
	log     *slog.Logger
	sender  Sender
	metrics *metrics.Metrics
	tracer  trace.Tracer
	timeout time.Duration

	mu       sync.Mutex
	pending  map[string]*pendingRequest
	closed   bool
	closeErr error
}

// pendingRequest tracks an outgoing action awaiting its result.
type pendingRequest struct {
	future  *Future
	started time.Time
	span    trace.Span
	timer   *time.Timer
}

// NewRequestChannel creates a request channel writing to sender.
func NewRequestChannel(log *slog.Logger, sender Sender, settings Settings) *RequestChannel {
	tracer := settings.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	return &RequestChannel{
		log:     log.With("component", "request_channel"),
		sender:  sender,
		metrics: settings.Metrics,
		tracer:  tracer,
		timeout: settings.RequestTimeout,
		pending: make(map[string]*pendingRequest, 10),
	}
}

// Send transmits an action and returns a Future for its result.
//
// Send does not wait for the result. An error is returned only when the
// action could not be encoded or written, or the channel is closed.
func (c *RequestChannel) Send(ctx context.Context, action string, data any) (*Future, error) {
	payload, err := EncodeData(data)
	if err != nil {
		return nil, &errors.TransportError{Action: action, Err: fmt.Errorf("marshal data: %w", err)}
	}

	id := c.generateRequestID()

	_, span := c.tracer.Start(ctx, "workerbridge.action "+action,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("workerbridge.action", action),
			attribute.String("workerbridge.request_id", id),
		),
	)

	future := newFuture(c, id, action)

	c.mu.Lock()

	if c.closed {
		closedErr := c.closedError()
		c.mu.Unlock()

		span.SetStatus(codes.Error, closedErr.Error())
		span.End()

		return nil, closedErr
	}

	p := &pendingRequest{future: future, started: time.Now(), span: span}
	c.pending[id] = p
	c.mu.Unlock()

	c.metrics.RequestStarted()

	frame, err := json.Marshal(&ActionMessage{Action: action, ID: id, Data: payload})
	if err != nil {
		terr := &errors.TransportError{Action: action, Err: fmt.Errorf("marshal action: %w", err)}
		c.settle(id, nil, terr, metrics.OutcomeError)

		return nil, terr
	}

	c.log.Debug("Sending action", "id", id, "action", action)

	if err := c.sender.SendMessage(ctx, frame); err != nil {
		c.log.Warn("Failed to send action", "id", id, "action", action, "error", err)

		terr := &errors.TransportError{Action: action, Err: fmt.Errorf("send: %w", err)}
		c.settle(id, nil, terr, metrics.OutcomeError)

		return nil, terr
	}

	if c.timeout > 0 {
		c.armTimeout(id, p)
	}

	return future, nil
}

// Call sends an action and waits for its result.
//
// If ctx ends first the request is abandoned: its entry is removed and the
// host is asked to cancel the in-flight action.
func (c *RequestChannel) Call(ctx context.Context, action string, data any) (json.RawMessage, error) {
	future, err := c.Send(ctx, action, data)
	if err != nil {
		return nil, err
	}

	result, err := future.Wait(ctx)
	if err != nil && ctx.Err() != nil && stderrors.Is(err, ctx.Err()) {
		future.Cancel()
	}

	return result, err
}

// HandleResult settles the Future matching msg.ID.
//
// Unknown and duplicate IDs are ignored.
func (c *RequestChannel) HandleResult(msg *ResultMessage) {
	p, ok := c.claim(msg.ID)
	if !ok {
		c.log.Debug("No pending request for result", "id", msg.ID, "action", msg.Action)

		return
	}

	if !msg.IsError() {
		c.log.Debug("Received result", "id", msg.ID, "action", p.future.action)
		c.finish(p, msg.Result, nil, metrics.OutcomeSuccess)

		return
	}

	c.log.Debug("Received error result", "id", msg.ID, "action", p.future.action, "error", msg.Error)
	c.finish(p, nil, resultError(p.future.action, msg), metrics.OutcomeError)
}

// resultError rebuilds the consumer-side error for a failed result.
func resultError(action string, msg *ResultMessage) error {
	if msg.ErrorKind == errors.KindTransport {
		return &errors.TransportError{Action: action, Err: stderrors.New(msg.Error)}
	}

	return &errors.ActionError{
		Action:  action,
		Message: msg.Error,
		Kind:    msg.ErrorKind,
		Code:    msg.ErrorCode,
	}
}

// Reject settles a pending request with a local error.
// It reports whether the request was still pending.
func (c *RequestChannel) Reject(id string, err error) bool {
	return c.settle(id, nil, err, metrics.OutcomeError)
}

// Pending returns the number of unsettled requests.
func (c *RequestChannel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// Close rejects every pending request with ErrChannelClosed and refuses
// further sends. It's safe to call Close multiple times; the first cause wins.
func (c *RequestChannel) Close(cause error) {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return
	}

	c.closed = true
	c.closeErr = cause
	closedErr := c.closedError()

	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.mu.Unlock()

	if len(pending) > 0 {
		c.log.Debug("Rejecting pending requests on close", "count", len(pending))
	}

	for _, p := range pending {
		c.finish(p, nil, closedErr, metrics.OutcomeClosed)
	}
}

// closedError builds the error returned after Close. Caller must hold c.mu.
func (c *RequestChannel) closedError() error {
	if c.closeErr != nil {
		return fmt.Errorf("%w: %w", errors.ErrChannelClosed, c.closeErr)
	}

	return errors.ErrChannelClosed
}

// claim removes and returns the pending entry for id.
func (c *RequestChannel) claim(id string) (*pendingRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}

	return p, ok
}

// settle claims and finishes the pending entry for id.
func (c *RequestChannel) settle(id string, result json.RawMessage, err error, outcome string) bool {
	p, ok := c.claim(id)
	if !ok {
		return false
	}

	c.finish(p, result, err, outcome)

	return true
}

// finish resolves a claimed entry. The caller must own p.
func (c *RequestChannel) finish(p *pendingRequest, result json.RawMessage, err error, outcome string) {
	if p.timer != nil {
		p.timer.Stop()
	}

	c.metrics.RequestSettled(p.future.action, outcome, time.Since(p.started))

	if err != nil {
		p.span.RecordError(err)
		p.span.SetStatus(codes.Error, err.Error())
	}

	p.span.SetAttributes(attribute.String("workerbridge.outcome", outcome))
	p.span.End()

	p.future.resolve(result, err)
}

// armTimeout schedules the timeout for a request that is still pending.
func (c *RequestChannel) armTimeout(id string, p *pendingRequest) {
	timeout := c.timeout

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[id]; !ok {
		return
	}

	p.timer = time.AfterFunc(timeout, func() {
		if c.settle(id, nil, fmt.Errorf("%w after %s", errors.ErrRequestTimeout, timeout), metrics.OutcomeError) {
			c.log.Warn("Action timed out", "id", id, "action", p.future.action, "timeout", timeout)
		}
	})
}

// sendCancel notifies the host that the caller abandoned a request.
// The notification is not tracked; the host's acknowledgement is ignored.
func (c *RequestChannel) sendCancel(id string) {
	frame, err := json.Marshal(&ActionMessage{
		Action: ActionCancel,
		ID:     c.generateRequestID(),
		Data:   mustMarshal(CancelRequest{ID: id}),
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cancelSendTimeout)
	defer cancel()

	if err := c.sender.SendMessage(ctx, frame); err != nil {
		c.log.Debug("Could not send cancel request", "id", id, "error", err)
	}
}

// generateRequestID creates a unique request ID using ULID.
func (c *RequestChannel) generateRequestID() string {
	return ulid.Make().String()
}

// mustMarshal marshals values that cannot fail to encode.
func mustMarshal(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("protocol: marshal %T: %v", v, err))
	}

	return raw
}

// Future is the pending result of an action.
type Future struct {
	id      string
	action  string
	channel *RequestChannel

	done   chan struct{}
	result json.RawMessage
	err    error
}

func newFuture(c *RequestChannel, id, action string) *Future {
	return &Future{
		id:      id,
		action:  action,
		channel: c,
		done:    make(chan struct{}),
	}
}

// resolve settles the future. Only the owner of the claimed entry calls it.
func (f *Future) resolve(result json.RawMessage, err error) {
	f.result = result
	f.err = err
	close(f.done)
}

// ID returns the correlation ID of the action.
func (f *Future) ID() string {
	return f.id
}

// Action returns the action name.
func (f *Future) Action() string {
	return f.action
}

// Done returns a channel that is closed once the future settles.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles or ctx ends.
//
// A cancelled ctx does not abandon the request; Wait may be called again.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel abandons the request. The future settles with ErrOperationCancelled
// and the host is asked to cancel the in-flight action. It reports whether
// the request was still pending.
func (f *Future) Cancel() bool {
	if !f.channel.settle(f.id, nil, errors.ErrOperationCancelled, metrics.OutcomeCancelled) {
		return false
	}

	f.channel.log.Debug("Cancelled action", "id", f.id, "action", f.action)
	f.channel.sendCancel(f.id)

	return true
}
