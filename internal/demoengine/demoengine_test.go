package demoengine

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/workerbridge-go/internal/errors"
	"github.com/wagiedev/workerbridge-go/internal/host"
	"github.com/wagiedev/workerbridge-go/internal/memtransport"
	"github.com/wagiedev/workerbridge-go/internal/protocol"
)

func startEngine(t *testing.T) *protocol.Controller {
	t.Helper()

	log := slog.New(slog.DiscardHandler)
	clientEnd, hostEnd := memtransport.Pipe()

	h := host.New(log, hostEnd)
	require.NoError(t, Register(log, h, "9.9.9"))

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan struct{})

	go func() {
		defer close(served)

		_ = h.Serve(ctx)
	}()

	c := protocol.NewController(log, clientEnd, protocol.Settings{})
	require.NoError(t, c.Start(ctx))

	t.Cleanup(func() {
		c.Stop()
		cancel()
		<-served
	})

	return c
}

func TestPing(t *testing.T) {
	c := startEngine(t)

	raw, err := c.Requests().Call(context.Background(), ActionPing, nil)
	require.NoError(t, err)

	var pong Pong
	require.NoError(t, json.Unmarshal(raw, &pong))
	require.True(t, pong.Pong)
	require.Equal(t, "9.9.9", pong.Version)
}

func TestEcho(t *testing.T) {
	c := startEngine(t)

	raw, err := c.Requests().Call(context.Background(), ActionEcho, map[string]any{"text": "hi"})
	require.NoError(t, err)
	require.JSONEq(t, `{"text":"hi"}`, string(raw))
}

func TestAdd(t *testing.T) {
	c := startEngine(t)
	ctx := context.Background()

	raw, err := c.Requests().Call(ctx, ActionAdd, AddInput{A: 1.5, B: 2})
	require.NoError(t, err)
	require.JSONEq(t, `{"sum":3.5}`, string(raw))

	_, err = c.Requests().Call(ctx, ActionAdd, map[string]string{"a": "x"})
	require.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestSleepCancelled(t *testing.T) {
	c := startEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Requests().Call(ctx, ActionSleep, SleepInput{Ms: 10_000})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func nextTick(t *testing.T, s *protocol.Stream) (Tick, bool) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	r, err := s.Next(ctx)
	require.NoError(t, err)

	if r.Done {
		return Tick{}, false
	}

	var tick Tick
	require.NoError(t, json.Unmarshal(r.Value, &tick))

	return tick, true
}

func TestTicker_Count(t *testing.T) {
	c := startEngine(t)
	ctx := context.Background()

	s, err := c.Streams().Open(ctx, StreamTicker, TickerArgs{IntervalMs: 1, Count: 3}, nil)
	require.NoError(t, err)
	require.NoError(t, s.WaitForReady(ctx))

	for want := 1; want <= 3; want++ {
		tick, ok := nextTick(t, s)
		require.True(t, ok)
		require.Equal(t, want, tick.Seq)
	}

	_, ok := nextTick(t, s)
	require.False(t, ok)
}

func TestTicker_FailAfter(t *testing.T) {
	c := startEngine(t)
	ctx := context.Background()

	failed := make(chan error, 1)

	s, err := c.Streams().Open(ctx, StreamTicker, TickerArgs{IntervalMs: 1, FailAfter: 2}, func(err error) {
		failed <- err
	})
	require.NoError(t, err)
	require.NoError(t, s.WaitForReady(ctx))

	select {
	case err := <-failed:
		require.ErrorContains(t, err, "ticker failed after 2 ticks")
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not fail")
	}
}

func TestTicker_InvalidArgs(t *testing.T) {
	c := startEngine(t)
	ctx := context.Background()

	s, err := c.Streams().Open(ctx, StreamTicker, map[string]any{"intervalMs": "fast"}, nil)
	require.NoError(t, err)
	require.ErrorIs(t, s.WaitForReady(ctx), errors.ErrInvalidInput)
}
