// Package host implements the worker side of the bridge.
//
// A Host owns the engine: it answers action messages by invoking registered
// handlers and drives native subscriptions that emit stream envelopes. Three
// action names are reserved and handled by the Host itself:
//
//   - stream.open starts a registered stream factory for a consumer-chosen
//     stream ID.
//   - endStream releases a subscription. It is idempotent.
//   - action.cancel cancels the context of an in-flight handler.
//
// Handlers run in their own goroutines so that cancel requests and other
// actions are processed while they block.
package host
