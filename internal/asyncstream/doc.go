// Package asyncstream adapts push-style producers into a pull-based,
// single-consumer sequence.
//
// A Stream buffers values pushed by a producer (typically a callback fired
// by a native subscription or a transport read loop) until the consumer pulls
// them with Next or ranges over All. Values are delivered in the order they
// were pushed. Once stopped, a Stream drains whatever is still buffered and
// then reports Done forever; it cannot be restarted.
//
// Example usage:
//
//	s := asyncstream.New[int](func() { sub.Cancel() })
//	sub := native.Subscribe(s.Callback())
//
//	for v := range s.All(ctx) {
//	    fmt.Println(v)
//	}
package asyncstream
