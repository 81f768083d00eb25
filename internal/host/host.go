package host

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/wagiedev/workerbridge-go/internal/errors"
	"github.com/wagiedev/workerbridge-go/internal/protocol"
)

// Transport is the host end of a bridge connection.
type Transport interface {
	ReadMessages(ctx context.Context) (<-chan []byte, <-chan error)
	SendMessage(ctx context.Context, data []byte) error
}

// ActionHandler answers one action. The returned value is encoded as the
// result payload. ctx is cancelled when the consumer abandons the action or
// the host shuts down.
type ActionHandler func(ctx context.Context, data json.RawMessage) (any, error)

// Host dispatches inbound actions to handlers and stream factories.
type Host struct {
	log       *slog.Logger
	transport Transport

	handlersMu sync.RWMutex
	handlers   map[string]ActionHandler
	factories  map[string]StreamFactory

	inFlightMu sync.Mutex
	inFlight   map[string]*inFlightOperation

	subsMu sync.Mutex
	subs   map[string]*subscription

	// serveCtx outlives individual actions; subscriptions derive from it.
	serveCtx context.Context
	wg       sync.WaitGroup
}

// inFlightOperation tracks an action being handled.
type inFlightOperation struct {
	id        string
	action    string
	cancel    context.CancelFunc
	startTime time.Time
	completed bool
}

// New creates a host answering messages read from transport.
func New(log *slog.Logger, transport Transport) *Host {
	h := &Host{
		log:       log.With("component", "host"),
		transport: transport,
		handlers:  make(map[string]ActionHandler, 10),
		factories: make(map[string]StreamFactory, 4),
		inFlight:  make(map[string]*inFlightOperation, 10),
		subs:      make(map[string]*subscription, 8),
		serveCtx:  context.Background(),
	}

	h.handlers[protocol.ActionStreamOpen] = h.openStream
	h.handlers[protocol.ActionEndStream] = h.endStream

	return h
}

func isReserved(action string) bool {
	switch action {
	case protocol.ActionStreamOpen, protocol.ActionEndStream, protocol.ActionCancel:
		return true
	}

	return false
}

// Handle registers the handler for action, replacing any previous one.
// It panics if action is empty or reserved.
func (h *Host) Handle(action string, handler ActionHandler) {
	if action == "" || isReserved(action) {
		panic(fmt.Sprintf("host: cannot register handler for %q", action))
	}

	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()

	h.handlers[action] = handler
}

// Actions returns the names of the registered actions, reserved ones
// included.
func (h *Host) Actions() []string {
	h.handlersMu.RLock()
	defer h.handlersMu.RUnlock()

	actions := make([]string, 0, len(h.handlers)+1)
	for name := range h.handlers {
		actions = append(actions, name)
	}

	return append(actions, protocol.ActionCancel)
}

// Serve reads and answers messages until ctx ends or the transport closes.
//
// When Serve returns, every in-flight handler is cancelled and every
// subscription released, and Serve waits for the handler goroutines to
// finish. A closed transport is a clean shutdown and returns nil.
func (h *Host) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.serveCtx = ctx

	messages, errs := h.transport.ReadMessages(ctx)

	defer h.shutdown()

	h.log.Info("Host serving")

	for {
		select {
		case data, ok := <-messages:
			if !ok {
				h.log.Debug("Message channel closed")

				return nil
			}

			h.handleFrame(ctx, data)

		case err, ok := <-errs:
			if !ok {
				errs = nil

				continue
			}

			if err != nil {
				return fmt.Errorf("read messages: %w", err)
			}

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// shutdown cancels in-flight work and releases every subscription.
func (h *Host) shutdown() {
	h.CancelAllInFlight()

	h.subsMu.Lock()
	subs := h.subs
	h.subs = make(map[string]*subscription)
	h.subsMu.Unlock()

	for _, sub := range subs {
		sub.release()
	}

	h.wg.Wait()

	h.log.Info("Host stopped", "released_subscriptions", len(subs))
}

// handleFrame decodes one inbound message and dispatches it.
func (h *Host) handleFrame(ctx context.Context, data []byte) {
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		if id := protocol.SalvageID(data); id != "" {
			h.log.Warn("Malformed action", "id", id, "error", err)
			h.sendError(ctx, "", id, &transportFault{err: &errors.JSONDecodeError{RawData: string(data), Err: err}})

			return
		}

		h.log.Warn("Dropping malformed frame", "error", err)

		return
	}

	if frame.IsEnvelope() || frame.ID == "" || frame.Action == "" {
		h.log.Warn("Dropping frame that is not an action", "id", frame.ID, "type", frame.Type)

		return
	}

	msg := frame.ActionMessage()

	if msg.Action == protocol.ActionCancel {
		h.handleCancel(ctx, msg)

		return
	}

	h.handlersMu.RLock()
	handler, exists := h.handlers[msg.Action]
	h.handlersMu.RUnlock()

	if !exists {
		h.log.Warn("No handler registered for action", "action", msg.Action)
		h.sendError(ctx, msg.Action, msg.ID, fmt.Errorf("%w: %s", errors.ErrUnknownAction, msg.Action))

		return
	}

	h.run(ctx, msg, handler)
}

// run invokes handler in its own goroutine with a cancellable context.
func (h *Host) run(ctx context.Context, msg *protocol.ActionMessage, handler ActionHandler) {
	opCtx, cancel := context.WithCancel(ctx)

	op := &inFlightOperation{
		id:        msg.ID,
		action:    msg.Action,
		cancel:    cancel,
		startTime: time.Now(),
	}

	h.inFlightMu.Lock()
	h.inFlight[msg.ID] = op
	h.inFlightMu.Unlock()

	h.log.Debug("Handling action", "id", msg.ID, "action", msg.Action)

	h.wg.Go(func() {
		defer func() {
			h.inFlightMu.Lock()
			defer h.inFlightMu.Unlock()

			op.completed = true

			delete(h.inFlight, msg.ID)

			cancel()
		}()

		result, err := h.invoke(opCtx, msg, handler)

		if opCtx.Err() == context.Canceled && ctx.Err() == nil {
			h.log.Debug("Handler was cancelled", "id", msg.ID, "action", msg.Action)
			h.sendError(ctx, msg.Action, msg.ID, errors.ErrOperationCancelled)

			return
		}

		if err != nil {
			h.log.Debug("Handler returned error", "id", msg.ID, "action", msg.Action, "error", err)
			h.sendError(ctx, msg.Action, msg.ID, err)

			return
		}

		h.log.Debug("Action completed", "id", msg.ID, "action", msg.Action, "elapsed", time.Since(op.startTime))
		h.sendResult(ctx, msg.Action, msg.ID, result)
	})
}

// transportFault marks handler panics and undecodable actions.
type transportFault struct {
	err error
}

func (f *transportFault) Error() string { return f.err.Error() }

func (f *transportFault) Unwrap() error { return f.err }

// invoke calls handler, turning a panic into a transport fault.
func (h *Host) invoke(ctx context.Context, msg *protocol.ActionMessage, handler ActionHandler) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("Handler panicked", "id", msg.ID, "action", msg.Action, "panic", r, "stack", string(debug.Stack()))
			err = &transportFault{err: fmt.Errorf("handler panicked: %v", r)}
		}
	}()

	return handler(ctx, msg.Data)
}

// handleCancel cancels the in-flight operation named by the request.
func (h *Host) handleCancel(ctx context.Context, msg *protocol.ActionMessage) {
	var req protocol.CancelRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil || req.ID == "" {
		h.sendError(ctx, msg.Action, msg.ID, fmt.Errorf("%w: cancel request needs an id", errors.ErrInvalidInput))

		return
	}

	h.log.Debug("Received cancel request", "id", req.ID)

	h.inFlightMu.Lock()
	op, exists := h.inFlight[req.ID]

	if !exists {
		h.inFlightMu.Unlock()
		h.log.Debug("Cancel request for unknown operation", "id", req.ID)
		h.sendResult(ctx, msg.Action, msg.ID, &protocol.CancelResult{})

		return
	}

	alreadyCompleted := op.completed
	if !alreadyCompleted {
		op.cancel()
	}

	h.inFlightMu.Unlock()

	h.log.Debug("Cancel request processed", "id", req.ID, "already_completed", alreadyCompleted)

	h.sendResult(ctx, msg.Action, msg.ID, &protocol.CancelResult{Found: true, AlreadyCompleted: alreadyCompleted})
}

// CancelAllInFlight cancels all in-flight operations.
func (h *Host) CancelAllInFlight() {
	h.inFlightMu.Lock()
	defer h.inFlightMu.Unlock()

	for _, op := range h.inFlight {
		if !op.completed {
			op.cancel()
		}
	}
}

// InFlight returns the number of actions currently being handled.
func (h *Host) InFlight() int {
	h.inFlightMu.Lock()
	defer h.inFlightMu.Unlock()

	return len(h.inFlight)
}

// sendResult sends a success result.
func (h *Host) sendResult(ctx context.Context, action, id string, result any) {
	payload, err := protocol.EncodeData(result)
	if err != nil {
		h.log.Error("Failed to marshal result", "id", id, "action", action, "error", err)
		h.sendError(ctx, action, id, &transportFault{err: fmt.Errorf("marshal result: %w", err)})

		return
	}

	h.send(ctx, &protocol.ResultMessage{Action: action, ID: id, Result: payload})
}

// sendError sends a failure result, preserving the error kind and code.
func (h *Host) sendError(ctx context.Context, action, id string, err error) {
	msg, kind, code := describeError(err)

	h.send(ctx, &protocol.ResultMessage{
		Action:    action,
		ID:        id,
		Error:     msg,
		ErrorKind: kind,
		ErrorCode: code,
	})
}

// describeError flattens err into the message, kind and code of a result.
func describeError(err error) (msg, kind, code string) {
	msg = err.Error()
	kind = errors.KindAction

	if actionErr, ok := stderrors.AsType[*errors.ActionError](err); ok {
		msg = actionErr.Message

		if actionErr.Kind != "" {
			kind = actionErr.Kind
		}

		if actionErr.Code != "" {
			return msg, kind, actionErr.Code
		}
	}

	if _, ok := stderrors.AsType[*transportFault](err); ok {
		kind = errors.KindTransport
	}

	switch {
	case stderrors.Is(err, errors.ErrUnknownAction):
		code = errors.CodeUnknownAction
	case stderrors.Is(err, errors.ErrUnknownStream):
		code = errors.CodeUnknownStream
	case stderrors.Is(err, errors.ErrOperationCancelled):
		code = errors.CodeCancelled
	case stderrors.Is(err, errors.ErrInvalidInput):
		code = errors.CodeInvalidInput
	}

	return msg, kind, code
}

// send encodes and writes one frame.
func (h *Host) send(ctx context.Context, frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.log.Error("Failed to marshal frame", "error", err)

		return
	}

	if err := h.transport.SendMessage(ctx, data); err != nil {
		// Expected during shutdown
		if ctx.Err() != nil {
			h.log.Debug("Could not send frame during shutdown", "error", err)

			return
		}

		h.log.Error("Failed to send frame", "error", err)
	}
}
