package host

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/workerbridge-go/internal/errors"
	"github.com/wagiedev/workerbridge-go/internal/protocol"
)

type addInput struct {
	A int `json:"a"`
	B int `json:"b"`
}

type addOutput struct {
	Sum int `json:"sum"`
}

func TestHandleFunc(t *testing.T) {
	h, transport := newServedHost(t)

	var calls int

	err := HandleFunc(h, "math.add", func(_ context.Context, in addInput) (addOutput, error) {
		calls++

		return addOutput{Sum: in.A + in.B}, nil
	})
	require.NoError(t, err)

	serve(t, h)

	transport.action(t, "math.add", "1", map[string]int{"a": 2, "b": 40})

	var out addOutput
	require.NoError(t, json.Unmarshal(transport.nextResult(t, "1").Result, &out))
	require.Equal(t, 42, out.Sum)

	transport.action(t, "math.add", "2", map[string]any{"a": "two", "b": 1})

	frame := transport.nextResult(t, "2")
	require.Equal(t, errors.CodeInvalidInput, frame.ErrorCode)
	require.Contains(t, frame.Error, "invalid input")

	transport.action(t, "math.add", "3", map[string]int{"a": 1})
	require.Equal(t, errors.CodeInvalidInput, transport.nextResult(t, "3").ErrorCode)

	require.Equal(t, 1, calls)
}

func TestHandleFunc_AbsentData(t *testing.T) {
	h, transport := newServedHost(t)

	require.NoError(t, HandleFunc(h, "count", func(_ context.Context, in addInput) (int, error) {
		return in.A + in.B, nil
	}))

	serve(t, h)

	transport.action(t, "count", "1", nil)
	require.JSONEq(t, `0`, string(transport.nextResult(t, "1").Result))
}

type feedArgs struct {
	Chat string `json:"chat"`
}

func TestHandleStreamFunc(t *testing.T) {
	h, transport := newServedHost(t)

	chats := make(chan string, 1)

	require.NoError(t, HandleStreamFunc(h, "messages", func(_ context.Context, args feedArgs, _ *Emitter) (Subscription, error) {
		chats <- args.Chat

		return CancelFunc(func() {}), nil
	}))

	serve(t, h)

	frame := openStream(t, transport, "1", "s-1", "messages")
	require.Empty(t, frame.Error)
	require.Equal(t, "c-1", <-chats)

	transport.action(t, protocol.ActionStreamOpen, "2", &protocol.OpenStreamRequest{
		StreamID: "s-2",
		Stream:   "messages",
		Args:     json.RawMessage(`{"chat":7}`),
	})

	frame = transport.nextResult(t, "2")
	require.Equal(t, errors.CodeInvalidInput, frame.ErrorCode)
	require.Equal(t, 1, h.Subscriptions())
}
