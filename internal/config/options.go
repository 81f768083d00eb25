package config

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Options configures the behavior of the bridge client.
type Options struct {
	// Logger is the slog logger for debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// HostPath is the explicit path to the worker host binary.
	// If empty, the binary is searched in PATH.
	HostPath string

	// HostArgs are extra arguments passed to the worker host binary.
	HostArgs []string

	// HostURL connects to a remote worker host over a WebSocket instead of
	// spawning a subprocess. Takes precedence over HostPath.
	HostURL string

	// Env provides additional environment variables for the host process.
	Env map[string]string

	// Cwd sets the working directory for the host process.
	Cwd string

	// Stderr is a callback function for handling host stderr output.
	Stderr func(string)

	// SkipVersionCheck skips the host version check during discovery.
	SkipVersionCheck bool

	// RequestTimeout bounds every action round trip.
	// Zero means requests wait until answered, cancelled or the channel closes.
	RequestTimeout time.Duration

	// CloseTimeout bounds how long Close waits for host stream teardown
	// acknowledgements. If zero, defaults to 5 seconds.
	CloseTimeout time.Duration

	// MetricsRegisterer receives the bridge collectors.
	// If nil, metrics are collected but not registered.
	MetricsRegisterer prometheus.Registerer

	// TracerProvider creates the tracer for action spans.
	// If nil, tracing is disabled.
	TracerProvider trace.TracerProvider

	// Transport allows injecting a custom transport implementation.
	// If nil, a transport is created from HostURL or HostPath.
	// This field is not serialized to JSON.
	Transport Transport `json:"-"`
}

// DefaultCloseTimeout is used when Options.CloseTimeout is zero.
const DefaultCloseTimeout = 5 * time.Second

// EffectiveCloseTimeout returns the close timeout, falling back to the default.
func (o *Options) EffectiveCloseTimeout() time.Duration {
	if o == nil || o.CloseTimeout <= 0 {
		return DefaultCloseTimeout
	}

	return o.CloseTimeout
}
