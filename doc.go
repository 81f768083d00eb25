// Package workerbridge connects a consumer to a protocol engine running in a
// separate worker context.
//
// The worker host runs in its own process (spawned over stdio by default),
// behind a WebSocket, or in-process over an injected transport. The consumer
// performs single actions against it and subscribes to continuous streams.
// Every action is correlated by a unique ID, every stream by a unique stream
// ID, and both kinds of traffic share one connection.
//
// # Actions
//
// Use Call for a round trip, or the typed Invoke helper:
//
//	err := workerbridge.WithClient(ctx, func(c workerbridge.Client) error {
//	    out, err := workerbridge.Invoke[struct{ Sum float64 }](ctx, c, "math.add", map[string]int{"a": 1, "b": 2})
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(out.Sum)
//	    return nil
//	},
//	    workerbridge.WithLogger(slog.Default()),
//	)
//
// # Streams
//
// OpenStream returns a supervised stream. Values are pulled with Next or
// ranged over with All. A host-side failure is reported to the WithOnError
// and WithOnFail callbacks, never through iteration; with WithRetryOnFail
// the subscription is reopened and iteration continues:
//
//	s, err := client.OpenStream(ctx, "ticker", map[string]any{"intervalMs": 1000},
//	    workerbridge.WithRetryOnFail(true),
//	    workerbridge.WithOnError(func(err error) { log.Print(err) }),
//	)
//	if err != nil {
//	    return err
//	}
//	defer s.End()
//
//	for v := range s.All(ctx) {
//	    fmt.Println(string(v))
//	}
//
// # Error Handling
//
// Failures carry typed errors:
//
//	_, err := client.Call(ctx, "echo", nil)
//	if actionErr, ok := errors.AsType[*workerbridge.ActionError](err); ok {
//	    log.Printf("host rejected %s: %s", actionErr.Action, actionErr.Message)
//	}
//	if errors.Is(err, workerbridge.ErrChannelClosed) {
//	    log.Print("connection to the host is gone")
//	}
//
// # Configuration
//
// Options passed to Start win over the WORKERBRIDGE_* environment
// variables, which win over the defaults.
package workerbridge
