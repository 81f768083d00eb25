// Package protocol implements the consumer side of the worker bridge wire
// protocol.
//
// A Controller owns the read side of a transport and dispatches every inbound
// frame, one at a time and to completion, to one of two channels:
//   - RequestChannel correlates each outbound action message with exactly one
//     result message using a unique request ID.
//   - StreamChannel multiplexes many named streams over the same transport,
//     routing stream envelopes by stream ID to the owning Stream.
//
// Frames are single JSON objects:
//
//	{"action": "preferences.sync", "id": "01J...", "data": {...}}      // action, outbound
//	{"action": "preferences.sync", "id": "01J...", "result": {...}}    // result, inbound
//	{"action": "preferences.sync", "id": "01J...", "error": "..."}     // failed result, inbound
//	{"type": "stream.data", "streamId": "7f0c...", "result": {...}}    // envelope, inbound
//
// Example usage:
//
//	controller := protocol.NewController(log, transport, protocol.Settings{})
//	controller.Start(ctx)
//
//	result, err := controller.Requests().Call(ctx, "system.ping", nil)
//
//	stream, err := controller.Streams().Open(ctx, "ticker", args, onFail)
//	for value := range stream.All(ctx) {
//	    // ...
//	}
package protocol
