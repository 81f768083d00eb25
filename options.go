package workerbridge

import (
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/wagiedev/workerbridge-go/internal/supervisor"
)

// Option configures Options using the functional options pattern.
type Option func(*Options)

// applyOptions applies functional options to an Options struct.
func applyOptions(opts []Option) *Options {
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	return options
}

// ===== Basic Configuration =====

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithRequestTimeout bounds every action round trip.
// Without it, requests wait until answered, cancelled or the connection ends.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.RequestTimeout = timeout
	}
}

// WithCloseTimeout bounds how long Close waits for the host to acknowledge
// stream teardown.
func WithCloseTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		o.CloseTimeout = timeout
	}
}

// ===== Host Process =====

// WithHostPath sets the explicit path to the workerbridge-host binary.
// If not set, the binary is searched in PATH.
func WithHostPath(path string) Option {
	return func(o *Options) {
		o.HostPath = path
	}
}

// WithHostArgs passes extra arguments to the host binary.
func WithHostArgs(args ...string) Option {
	return func(o *Options) {
		o.HostArgs = args
	}
}

// WithEnv provides additional environment variables for the host process.
func WithEnv(env map[string]string) Option {
	return func(o *Options) {
		o.Env = env
	}
}

// WithCwd sets the working directory for the host process.
func WithCwd(cwd string) Option {
	return func(o *Options) {
		o.Cwd = cwd
	}
}

// WithStderr sets a callback for each line the host writes to stderr.
func WithStderr(handler func(string)) Option {
	return func(o *Options) {
		o.Stderr = handler
	}
}

// WithSkipVersionCheck disables the host version check during discovery.
func WithSkipVersionCheck(skip bool) Option {
	return func(o *Options) {
		o.SkipVersionCheck = skip
	}
}

// ===== Transport =====

// WithHostURL connects to a worker host over a WebSocket, e.g.
// "ws://localhost:7070/bridge", instead of spawning a process.
func WithHostURL(url string) Option {
	return func(o *Options) {
		o.HostURL = url
	}
}

// WithTransport injects a custom transport. It takes precedence over
// WithHostURL and the host process options.
func WithTransport(transport Transport) Option {
	return func(o *Options) {
		o.Transport = transport
	}
}

// ===== Observability =====

// WithMetricsRegisterer registers the bridge collectors with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *Options) {
		o.MetricsRegisterer = reg
	}
}

// WithTracerProvider records one span per action round trip.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

// StreamOption configures the supervision of one stream opened with
// OpenStream or Subscribe.
type StreamOption func(*supervisor.Config)

func applyStreamOptions(opts []StreamOption) supervisor.Config {
	var cfg supervisor.Config
	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

// WithRetryOnFail reopens the subscription after a host-side failure.
// Iteration continues across reconnects.
func WithRetryOnFail(retry bool) StreamOption {
	return func(c *supervisor.Config) {
		c.RetryOnFail = retry
	}
}

// WithOnError is invoked once per failure with a *StreamFailedError.
func WithOnError(fn func(error)) StreamOption {
	return func(c *supervisor.Config) {
		c.OnError = fn
	}
}

// WithOnFail is invoked once per failure, after the WithOnError callback.
func WithOnFail(fn func(error)) StreamOption {
	return func(c *supervisor.Config) {
		c.OnFail = fn
	}
}

// WithMaxRetries bounds consecutive reconnect attempts after one failure.
// Zero means unlimited.
func WithMaxRetries(n int) StreamOption {
	return func(c *supervisor.Config) {
		c.MaxRetries = n
	}
}

// WithBackoff paces reconnect attempts. Defaults to an exponential backoff
// starting at 250ms and capped at 10s.
func WithBackoff(b backoff.BackOff) StreamOption {
	return func(c *supervisor.Config) {
		c.Backoff = b
	}
}
