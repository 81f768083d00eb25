package workerbridge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	workerbridge "github.com/wagiedev/workerbridge-go"
	"github.com/wagiedev/workerbridge-go/internal/demoengine"
)

func TestInvoke(t *testing.T) {
	client := connect(t)

	out, err := workerbridge.Invoke[demoengine.AddOutput](context.Background(), client, demoengine.ActionAdd,
		demoengine.AddInput{A: 40, B: 2})
	require.NoError(t, err)
	require.InDelta(t, 42, out.Sum, 0)
}

func TestInvoke_DecodeError(t *testing.T) {
	client := connect(t)

	_, err := workerbridge.Invoke[int](context.Background(), client, demoengine.ActionEcho, "forty-two")

	decodeErr, ok := errors.AsType[*workerbridge.JSONDecodeError](err)
	require.True(t, ok, "got %v", err)
	require.Equal(t, `"forty-two"`, decodeErr.RawData)
}

func TestInvoke_ActionError(t *testing.T) {
	client := connect(t)

	_, err := workerbridge.Invoke[demoengine.Pong](context.Background(), client, "missing", nil)
	require.ErrorIs(t, err, workerbridge.ErrUnknownAction)
}

func TestSubscribe(t *testing.T) {
	client := connect(t)
	ctx := context.Background()

	s, err := workerbridge.Subscribe[demoengine.Tick](ctx, client, demoengine.StreamTicker,
		demoengine.TickerArgs{IntervalMs: 1, Count: 3})
	require.NoError(t, err)

	var seqs []int

	for tick, err := range s.All(ctx) {
		require.NoError(t, err)

		seqs = append(seqs, tick.Seq)
	}

	require.Equal(t, []int{1, 2, 3}, seqs)
	require.Equal(t, workerbridge.StreamClosed, s.State())
}

func TestSubscribe_BreakEndsStream(t *testing.T) {
	client := connect(t)
	ctx := context.Background()

	s, err := workerbridge.Subscribe[demoengine.Tick](ctx, client, demoengine.StreamTicker,
		demoengine.TickerArgs{IntervalMs: 1})
	require.NoError(t, err)

	for tick, err := range s.All(ctx) {
		require.NoError(t, err)

		if tick.Seq == 2 {
			break
		}
	}

	require.Equal(t, workerbridge.StreamClosed, s.State())
	require.NoError(t, s.EndAndWait(ctx))
}

func TestSubscribe_DecodeErrorKeepsStream(t *testing.T) {
	client := connect(t)
	ctx := context.Background()

	// Ticks do not decode into a string
	s, err := workerbridge.Subscribe[string](ctx, client, demoengine.StreamTicker,
		demoengine.TickerArgs{IntervalMs: 1, Count: 2})
	require.NoError(t, err)

	var decodeErrs int

	for _, err := range s.All(ctx) {
		_, ok := errors.AsType[*workerbridge.JSONDecodeError](err)
		require.True(t, ok)

		decodeErrs++
	}

	require.Equal(t, 2, decodeErrs)
}

func TestAsyncStream(t *testing.T) {
	s := workerbridge.NewAsyncStream[int](nil)

	s.Push(nil, 1)
	s.Push(nil, 2)
	s.Stop()

	var got []int
	for v := range s.All(context.Background()) {
		got = append(got, v)
	}

	require.Equal(t, []int{1, 2}, got)
}
