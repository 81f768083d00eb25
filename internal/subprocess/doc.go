// Package subprocess provides the process-boundary transports of the bridge.
//
// HostTransport spawns the worker host binary and exchanges newline-delimited
// JSON frames over its stdin and stdout. StdioTransport is the other end of
// that pipe, used by the host binary itself.
package subprocess
