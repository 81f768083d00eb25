// Package config provides configuration types for the worker bridge.
package config

import "context"

// Transport defines the interface for reaching the worker host.
// Implement this to provide custom transports for testing, mocking,
// or alternative boundaries (e.g., remote connections).
//
// The default implementation is HostTransport, which spawns the host binary
// as a subprocess. Custom transports can be injected via Options.Transport.
type Transport interface {
	// Start initializes the transport and prepares it for communication.
	// This is called before any messages are sent or received.
	Start(ctx context.Context) error

	// ReadMessages returns channels for receiving frames and errors.
	// Each frame is one complete JSON object.
	// Both channels are closed when reading completes or an error occurs.
	ReadMessages(ctx context.Context) (<-chan []byte, <-chan error)

	// SendMessage sends one JSON frame to the other side.
	// This method must be safe for concurrent use.
	SendMessage(ctx context.Context, data []byte) error

	// Close terminates the transport and releases resources.
	// It's safe to call Close multiple times.
	Close() error

	// IsReady returns true if the transport is ready for communication.
	IsReady() bool
}
