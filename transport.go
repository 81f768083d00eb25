package workerbridge

import "github.com/wagiedev/workerbridge-go/internal/config"

// Transport carries JSON frames between the client and the worker host.
// Implement this to reach a host over a custom boundary, or to mock it.
//
// By default the client spawns the host binary and talks NDJSON over its
// stdio. WithHostURL selects a WebSocket instead, and WithTransport injects
// any other implementation.
type Transport = config.Transport

// Options is the resolved client configuration.
type Options = config.Options
