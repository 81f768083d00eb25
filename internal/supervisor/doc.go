// Package supervisor imposes a connect, fail, reconnect and close lifecycle
// on a raw stream factory.
//
// A supervised Stream moves through the states
//
//	Connecting -> Active -> Failed -> (Connecting | Closed)
//
// and exposes a single value sequence that survives reconnects. Each
// distinct failure is reported exactly once through Config.OnError and
// Config.OnFail, no matter how many reconnect attempts follow it.
package supervisor
