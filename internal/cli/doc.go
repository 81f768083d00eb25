// Package cli implements the workerbridge-host command.
//
// The host serves the demo engine either over its own stdin and stdout,
// which is how a client spawns it, or as a WebSocket server when --listen
// is given. Logs always go to stderr because stdout may carry frames.
package cli
