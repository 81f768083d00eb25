package workerbridge

import (
	"context"
	"encoding/json"
)

// Client is a connection to one worker host.
//
// Lifecycle: clients are single-use. After Close(), create a new client with
// NewClient().
//
// Example usage:
//
//	client := workerbridge.NewClient()
//	defer client.Close()
//
//	err := client.Start(ctx,
//	    workerbridge.WithLogger(slog.Default()),
//	    workerbridge.WithRequestTimeout(10*time.Second),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	pong, err := client.Call(ctx, "system.ping", nil)
type Client interface {
	// Start connects to the worker host.
	// Must be called before any other methods.
	// Returns HostNotFoundError if the host binary is not found,
	// HostConnectionError if the host cannot be reached.
	Start(ctx context.Context, opts ...Option) error

	// Call performs one action and waits for its result. Cancelling ctx
	// abandons the request and asks the host to cancel it.
	Call(ctx context.Context, action string, data any) (json.RawMessage, error)

	// Send dispatches one action without waiting. Each action is correlated
	// by its own ID, so results may arrive in any order.
	Send(ctx context.Context, action string, data any) (*Future, error)

	// Subscribe opens an unsupervised stream and waits until the host has
	// started it. onFail receives a *StreamFailedError if the host reports
	// the stream dead; the stream does not reconnect.
	Subscribe(ctx context.Context, name string, args any, onFail func(error)) (*RawStream, error)

	// OpenStream opens a supervised stream and waits until the host has
	// started it. The stream reconnects on failure when WithRetryOnFail is
	// set.
	OpenStream(ctx context.Context, name string, args any, opts ...StreamOption) (*Stream, error)

	// Close ends every stream, waiting for the host to acknowledge up to the
	// close timeout, and disconnects. Safe to call multiple times.
	Close() error
}

// NewClient creates a new client.
//
// Call Start() with options to connect:
//
//	client := workerbridge.NewClient()
//	err := client.Start(ctx, workerbridge.WithHostPath("/usr/local/bin/workerbridge-host"))
func NewClient() Client {
	return newClientImpl()
}
