// Package demoengine is a small engine served by the workerbridge-host
// binary. It stands in for a real protocol engine in examples and tests.
package demoengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wagiedev/workerbridge-go/internal/host"
)

// Action and stream names.
const (
	ActionPing  = "system.ping"
	ActionEcho  = "echo"
	ActionAdd   = "math.add"
	ActionSleep = "sleep"

	StreamTicker = "ticker"
)

// DefaultTickInterval is used when a ticker stream does not set intervalMs.
const DefaultTickInterval = time.Second

// Pong answers system.ping.
type Pong struct {
	Pong    bool      `json:"pong"`
	Version string    `json:"version"`
	Time    time.Time `json:"time"`
}

// AddInput is the data of math.add.
type AddInput struct {
	A float64 `json:"a" jsonschema:"first addend"`
	B float64 `json:"b" jsonschema:"second addend"`
}

// AddOutput is the result of math.add.
type AddOutput struct {
	Sum float64 `json:"sum"`
}

// SleepInput is the data of sleep.
type SleepInput struct {
	Ms int `json:"ms" jsonschema:"milliseconds to sleep"`
}

// TickerArgs configures a ticker stream.
type TickerArgs struct {
	IntervalMs int `json:"intervalMs,omitempty" jsonschema:"tick period in milliseconds"`
	Count      int `json:"count,omitempty" jsonschema:"end the stream after this many ticks"`
	FailAfter  int `json:"failAfter,omitempty" jsonschema:"fail the stream after this many ticks"`
}

// Tick is one value of a ticker stream.
type Tick struct {
	Seq int       `json:"seq"`
	At  time.Time `json:"at"`
}

// Register installs the demo actions and streams on h.
func Register(log *slog.Logger, h *host.Host, version string) error {
	log = log.With("component", "demoengine")

	h.Handle(ActionEcho, func(_ context.Context, data json.RawMessage) (any, error) {
		return data, nil
	})

	if err := host.HandleFunc(h, ActionPing, func(context.Context, struct{}) (Pong, error) {
		return Pong{Pong: true, Version: version, Time: time.Now().UTC()}, nil
	}); err != nil {
		return err
	}

	if err := host.HandleFunc(h, ActionAdd, func(_ context.Context, in AddInput) (AddOutput, error) {
		return AddOutput{Sum: in.A + in.B}, nil
	}); err != nil {
		return err
	}

	if err := host.HandleFunc(h, ActionSleep, func(ctx context.Context, in SleepInput) (SleepInput, error) {
		timer := time.NewTimer(time.Duration(in.Ms) * time.Millisecond)
		defer timer.Stop()

		select {
		case <-timer.C:
			return in, nil
		case <-ctx.Done():
			return SleepInput{}, ctx.Err()
		}
	}); err != nil {
		return err
	}

	return host.HandleStreamFunc(h, StreamTicker, func(ctx context.Context, args TickerArgs, emit *host.Emitter) (host.Subscription, error) {
		return startTicker(ctx, log, args, emit), nil
	})
}

func startTicker(ctx context.Context, log *slog.Logger, args TickerArgs, emit *host.Emitter) host.Subscription {
	interval := DefaultTickInterval
	if args.IntervalMs > 0 {
		interval = time.Duration(args.IntervalMs) * time.Millisecond
	}

	ctx, cancel := context.WithCancel(ctx)

	log.Debug("Ticker started", "stream_id", emit.StreamID(), "interval", interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for seq := 1; ; seq++ {
			select {
			case <-ctx.Done():
				log.Debug("Ticker cancelled", "stream_id", emit.StreamID())

				return
			case now := <-ticker.C:
				if err := emit.Data(Tick{Seq: seq, At: now.UTC()}); err != nil {
					return
				}
			}

			if args.FailAfter > 0 && seq >= args.FailAfter {
				emit.Fail(fmt.Errorf("ticker failed after %d ticks", seq))

				return
			}

			if args.Count > 0 && seq >= args.Count {
				emit.End()

				return
			}
		}
	}()

	return host.CancelFunc(cancel)
}
