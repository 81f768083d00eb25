package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/workerbridge-go/internal/config"
	"github.com/wagiedev/workerbridge-go/internal/errors"
	"github.com/wagiedev/workerbridge-go/internal/metrics"
	"github.com/wagiedev/workerbridge-go/internal/protocol"
	"github.com/wagiedev/workerbridge-go/internal/subprocess"
	"github.com/wagiedev/workerbridge-go/internal/supervisor"
	"github.com/wagiedev/workerbridge-go/internal/wstransport"
)

// TracerName is the instrumentation name of the action spans.
const TracerName = "github.com/wagiedev/workerbridge-go"

// Client is a connection to one worker host.
type Client struct {
	log        *slog.Logger
	transport  config.Transport
	controller *protocol.Controller
	options    *config.Options
	metrics    *metrics.Metrics

	// Fatal error storage
	errMu    sync.RWMutex
	fatalErr error

	// Errgroup for the watcher and stream pumps
	eg *errgroup.Group

	// Supervised streams, ended gracefully on Close
	streamsMu  sync.Mutex
	supervised map[*supervisor.Stream[json.RawMessage]]struct{}

	// Lifecycle management
	mu        sync.Mutex
	done      chan struct{}
	connected bool
	closed    bool
	closeOnce sync.Once
}

// New creates a client. Call Start to connect it.
func New() *Client {
	return &Client{
		done:       make(chan struct{}),
		supervised: make(map[*supervisor.Stream[json.RawMessage]]struct{}),
	}
}

func (c *Client) setFatalError(err error) {
	if err == nil {
		return
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()

	if c.fatalErr == nil {
		c.fatalErr = err
	}
}

// FatalError returns the error that broke the connection, if any.
func (c *Client) FatalError() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()

	return c.fatalErr
}

func (c *Client) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.connected
}

// newTransport picks the injected transport, a WebSocket to HostURL, or a
// spawned host process, in that order.
func (c *Client) newTransport(options *config.Options) config.Transport {
	switch {
	case options.Transport != nil:
		c.log.Debug("Using injected custom transport")

		return options.Transport
	case options.HostURL != "":
		c.log.Debug("Using websocket transport", "url", options.HostURL)

		return wstransport.Dial(options.HostURL, c.log)
	default:
		return subprocess.NewHostTransport(c.log, options)
	}
}

// Start connects to the worker host.
//
// Returns HostNotFoundError if the host binary cannot be located, or
// HostConnectionError if the host cannot be reached.
func (c *Client) Start(ctx context.Context, options *config.Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrClientClosed
	}

	if c.connected {
		return errors.ErrClientAlreadyConnected
	}

	if options == nil {
		options = &config.Options{}
	}

	log := options.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	c.log = log.With("component", "client")
	c.options = options
	c.metrics = metrics.New(options.MetricsRegisterer)

	transport := c.newTransport(options)
	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("start transport: %w", err)
	}

	c.transport = transport

	settings := protocol.Settings{
		RequestTimeout: options.RequestTimeout,
		Metrics:        c.metrics,
	}

	if options.TracerProvider != nil {
		settings.Tracer = options.TracerProvider.Tracer(TracerName)
	}

	// The connection outlives the caller's ctx, which may only bound
	// startup. Close is the explicit shutdown signal.
	var egCtx context.Context

	c.eg, egCtx = errgroup.WithContext(context.Background())

	c.controller = protocol.NewController(c.log, transport, settings)
	if err := c.controller.Start(egCtx); err != nil {
		_ = transport.Close()

		return fmt.Errorf("start protocol controller: %w", err)
	}

	c.eg.Go(func() error {
		return c.watch(egCtx)
	})

	c.connected = true
	c.log.Info("Client started")

	return nil
}

// watch records the controller's fatal error once the connection breaks.
func (c *Client) watch(ctx context.Context) error {
	defer c.log.Debug("Watcher stopped")

	select {
	case <-c.controller.Done():
		if err := c.controller.FatalError(); err != nil {
			c.log.Error("Transport error", "error", err)
			c.setFatalError(err)

			return err
		}

		c.log.Info("Host closed the connection")

		return nil
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call performs one action and waits for its result.
func (c *Client) Call(ctx context.Context, action string, data any) (json.RawMessage, error) {
	if !c.isConnected() {
		return nil, errors.ErrClientNotConnected
	}

	return c.controller.Requests().Call(ctx, action, data)
}

// Send dispatches one action and returns its pending result.
func (c *Client) Send(ctx context.Context, action string, data any) (*protocol.Future, error) {
	if !c.isConnected() {
		return nil, errors.ErrClientNotConnected
	}

	return c.controller.Requests().Send(ctx, action, data)
}

// Subscribe opens an unsupervised stream. onFail, if non-nil, receives a
// *StreamFailedError when the host reports the stream dead.
func (c *Client) Subscribe(
	ctx context.Context,
	name string,
	args any,
	onFail func(error),
) (*protocol.Stream, error) {
	if !c.isConnected() {
		return nil, errors.ErrClientNotConnected
	}

	s, err := c.controller.Streams().Open(ctx, name, args, onFail)
	if err != nil {
		return nil, err
	}

	if err := s.WaitForReady(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// OpenStream opens a supervised stream. cfg.Name defaults to name; the
// logger and metrics default to the client's.
func (c *Client) OpenStream(
	ctx context.Context,
	name string,
	args any,
	cfg supervisor.Config,
) (*supervisor.Stream[json.RawMessage], error) {
	if !c.isConnected() {
		return nil, errors.ErrClientNotConnected
	}

	if cfg.Name == "" {
		cfg.Name = name
	}

	if cfg.Logger == nil {
		cfg.Logger = c.log
	}

	if cfg.Metrics == nil {
		cfg.Metrics = c.metrics
	}

	s, err := supervisor.Start(ctx, c.streamFactory(name, args), cfg)
	if err != nil {
		return nil, err
	}

	c.streamsMu.Lock()
	c.prune()
	c.supervised[s] = struct{}{}
	c.streamsMu.Unlock()

	return s, nil
}

// prune forgets supervised streams that already reached Closed.
// Caller must hold streamsMu.
func (c *Client) prune() {
	for s := range c.supervised {
		if s.State() == supervisor.StateClosed {
			delete(c.supervised, s)
		}
	}
}

// streamFactory opens one raw subscription per connection generation and
// pumps its values into the supervisor.
func (c *Client) streamFactory(name string, args any) supervisor.Factory[json.RawMessage] {
	return func(
		ctx context.Context,
		onData func(json.RawMessage),
		onFail func(error),
	) (supervisor.Handle, error) {
		// Failures are reported by the pump, after every value emitted
		// before them has been delivered.
		s, err := c.controller.Streams().Open(ctx, name, args, nil)
		if err != nil {
			return nil, err
		}

		h := &rawHandle{Stream: s, completed: make(chan struct{})}

		c.eg.Go(func() error {
			// All ends once the raw stream is ended, fails or the channel closes.
			for v := range s.All(context.Background()) {
				onData(v)
			}

			switch {
			case s.Err() != nil:
				onFail(s.Err())
			case s.HostCompleted():
				close(h.completed)
			}

			return nil
		})

		return h, nil
	}
}

// rawHandle reports a clean host-side completion to the supervisor once
// every value has been pumped.
type rawHandle struct {
	*protocol.Stream
	completed chan struct{}
}

func (h *rawHandle) Completed() <-chan struct{} {
	return h.completed
}

// Close ends every stream, waiting up to the close timeout for the host to
// acknowledge, then stops the connection.
//
// The client cannot be reused after Close. It is safe to call Close more
// than once.
func (c *Client) Close() error {
	var closeErr error

	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		wasConnected := c.connected
		c.connected = false
		c.mu.Unlock()

		if !wasConnected {
			return
		}

		c.log.Info("Closing client")

		close(c.done)

		c.endStreams()

		c.controller.Stop()

		closeErr = c.transport.Close()

		if err := c.eg.Wait(); err != nil && closeErr == nil {
			closeErr = err
		}

		c.log.Info("Client closed")
	})

	return closeErr
}

// endStreams ends supervised streams first so none of them reconnects, then
// any raw subscriptions still open. Teardown errors are logged only.
func (c *Client) endStreams() {
	ctx, cancel := context.WithTimeout(context.Background(), c.options.EffectiveCloseTimeout())
	defer cancel()

	c.streamsMu.Lock()
	supervised := make([]*supervisor.Stream[json.RawMessage], 0, len(c.supervised))

	for s := range c.supervised {
		supervised = append(supervised, s)
	}

	clear(c.supervised)
	c.streamsMu.Unlock()

	var wg sync.WaitGroup

	errs := make([]error, len(supervised))
	for i, s := range supervised {
		wg.Go(func() {
			errs[i] = s.EndAndWait(ctx)
		})
	}

	wg.Wait()

	for _, s := range c.controller.Streams().Streams() {
		errs = append(errs, s.EndAndWait(ctx))
	}

	if err := stderrors.Join(errs...); err != nil {
		c.log.Warn("Stream teardown incomplete", "error", err)
	}
}
