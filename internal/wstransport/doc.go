// Package wstransport carries bridge frames over a WebSocket.
//
// Dial returns the consumer side. Handler upgrades inbound HTTP requests and
// hands each connection to a serve function, normally a worker host. Every
// frame is one text message holding one JSON object.
package wstransport
