package host

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wagiedev/workerbridge-go/internal/errors"
	"github.com/wagiedev/workerbridge-go/internal/protocol"
)

// Subscription is a live native subscription owned by the host.
type Subscription interface {
	// Cancel releases the native listener. It is called at most once, when
	// the consumer ends the stream or the host shuts down. It is not called
	// after the subscription finished itself through Emitter.Fail or
	// Emitter.End.
	Cancel()
}

// CancelFunc adapts an ordinary function to a Subscription.
type CancelFunc func()

// Cancel calls f.
func (f CancelFunc) Cancel() { f() }

// StreamFactory starts a native subscription that reports through emit.
// ctx is cancelled once the subscription is released for any reason.
type StreamFactory func(ctx context.Context, args json.RawMessage, emit *Emitter) (Subscription, error)

// HandleStream registers the factory for streams named name.
// It panics if name is empty.
func (h *Host) HandleStream(name string, factory StreamFactory) {
	if name == "" {
		panic("host: stream name must not be empty")
	}

	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()

	h.factories[name] = factory
}

// Subscriptions returns the number of live subscriptions.
func (h *Host) Subscriptions() int {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()

	return len(h.subs)
}

type subscription struct {
	id     string
	name   string
	host   *Host
	cancel context.CancelFunc

	mu       sync.Mutex
	handle   Subscription
	released bool
}

// attach stores the native handle. If the subscription was released while
// the factory ran, the handle is cancelled instead.
func (s *subscription) attach(handle Subscription) {
	s.mu.Lock()

	if !s.released {
		s.handle = handle
		s.mu.Unlock()

		return
	}

	s.mu.Unlock()

	if handle != nil {
		handle.Cancel()
	}
}

// release stops the subscription without notifying the consumer.
// It reports whether this call released it.
func (s *subscription) release() bool {
	s.mu.Lock()

	if s.released {
		s.mu.Unlock()

		return false
	}

	s.released = true
	handle := s.handle
	s.mu.Unlock()

	s.cancel()

	if handle != nil {
		handle.Cancel()
	}

	return true
}

// Emitter sends stream envelopes for one subscription. It is safe for
// concurrent use; envelopes from one goroutine keep their order.
type Emitter struct {
	sub *subscription
}

// StreamID returns the consumer-chosen stream ID.
func (e *Emitter) StreamID() string {
	return e.sub.id
}

// Data emits one value. It returns ErrStreamClosed once the subscription
// has been released.
func (e *Emitter) Data(v any) error {
	raw, err := protocol.EncodeData(v)
	if err != nil {
		return fmt.Errorf("marshal stream value: %w", err)
	}

	s := e.sub

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return errors.ErrStreamClosed
	}

	s.host.sendEnvelope(&protocol.StreamEnvelope{Type: protocol.EnvelopeData, StreamID: s.id, Result: raw})

	return nil
}

// Fail reports that the native subscription died and releases it.
func (e *Emitter) Fail(err error) {
	msg := "subscription failed"
	if err != nil {
		msg = err.Error()
	}

	e.finish(protocol.EnvelopeFail, msg)
}

// End reports that the native subscription completed and releases it.
func (e *Emitter) End() {
	e.finish(protocol.EnvelopeEnd, "")
}

func (e *Emitter) finish(typ, errMsg string) {
	s := e.sub

	s.mu.Lock()

	if s.released {
		s.mu.Unlock()

		return
	}

	s.released = true
	s.host.sendEnvelope(&protocol.StreamEnvelope{Type: typ, StreamID: s.id, Error: errMsg})
	s.mu.Unlock()

	s.host.removeSub(s.id, s)
	s.cancel()

	s.host.log.Debug("Subscription finished", "stream_id", s.id, "stream", s.name, "type", typ)
}

func (h *Host) sendEnvelope(env *protocol.StreamEnvelope) {
	h.send(h.serveCtx, env)
}

// removeSub deregisters id if it still maps to sub.
func (h *Host) removeSub(id string, sub *subscription) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()

	if h.subs[id] == sub {
		delete(h.subs, id)
	}
}

// openStream handles stream.open.
func (h *Host) openStream(ctx context.Context, data json.RawMessage) (any, error) {
	var req protocol.OpenStreamRequest
	if err := json.Unmarshal(data, &req); err != nil || req.StreamID == "" || req.Stream == "" {
		return nil, fmt.Errorf("%w: stream.open needs streamId and stream", errors.ErrInvalidInput)
	}

	h.handlersMu.RLock()
	factory, ok := h.factories[req.Stream]
	h.handlersMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", errors.ErrUnknownStream, req.Stream)
	}

	subCtx, cancel := context.WithCancel(h.serveCtx)

	sub := &subscription{
		id:     req.StreamID,
		name:   req.Stream,
		host:   h,
		cancel: cancel,
	}

	h.subsMu.Lock()

	if _, dup := h.subs[req.StreamID]; dup {
		h.subsMu.Unlock()
		cancel()

		return nil, fmt.Errorf("%w: stream %s is already open", errors.ErrInvalidInput, req.StreamID)
	}

	h.subs[req.StreamID] = sub
	h.subsMu.Unlock()

	handle, err := h.startFactory(subCtx, factory, req.Args, sub)
	if err != nil {
		h.removeSub(sub.id, sub)
		sub.release()

		return nil, err
	}

	sub.attach(handle)

	if ctx.Err() != nil {
		h.removeSub(sub.id, sub)
		sub.release()

		return nil, ctx.Err()
	}

	h.log.Debug("Subscription opened", "stream_id", sub.id, "stream", sub.name)

	return &protocol.OpenStreamResult{StreamID: sub.id}, nil
}

// startFactory runs factory, releasing the subscription if it panics.
func (h *Host) startFactory(
	ctx context.Context,
	factory StreamFactory,
	args json.RawMessage,
	sub *subscription,
) (handle Subscription, err error) {
	defer func() {
		if r := recover(); r != nil {
			h.removeSub(sub.id, sub)
			sub.release()
			panic(r)
		}
	}()

	return factory(ctx, args, &Emitter{sub: sub})
}

// endStream handles endStream. Ending an unknown or already released stream
// succeeds with released=false.
func (h *Host) endStream(_ context.Context, data json.RawMessage) (any, error) {
	var req protocol.EndStreamRequest
	if err := json.Unmarshal(data, &req); err != nil || req.StreamID == "" {
		return nil, fmt.Errorf("%w: endStream needs streamId", errors.ErrInvalidInput)
	}

	h.subsMu.Lock()
	sub, ok := h.subs[req.StreamID]
	delete(h.subs, req.StreamID)
	h.subsMu.Unlock()

	released := ok && sub.release()

	h.log.Debug("Subscription ended by consumer", "stream_id", req.StreamID, "released", released)

	return &protocol.EndStreamResult{StreamID: req.StreamID, Released: released}, nil
}
