// Package client implements the consumer side of the bridge.
//
// A Client owns one transport and one protocol Controller. It exposes
// single actions (Call, Send), raw stream subscriptions (Subscribe) and
// supervised streams that reconnect on failure (OpenStream). The Controller
// is the sole reader of the transport; the Client only watches it for fatal
// errors and tears everything down on Close.
package client
