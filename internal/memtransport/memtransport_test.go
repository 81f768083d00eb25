package memtransport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/workerbridge-go/internal/errors"
)

func recv(t *testing.T, messages <-chan []byte) string {
	t.Helper()

	select {
	case frame, ok := <-messages:
		require.True(t, ok, "pipe closed")

		return string(frame)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")

		return ""
	}
}

func TestPipe_BothDirections(t *testing.T) {
	client, host := Pipe()
	ctx := context.Background()

	fromClient, _ := host.ReadMessages(ctx)
	fromHost, _ := client.ReadMessages(ctx)

	require.NoError(t, client.SendMessage(ctx, []byte(`{"action":"a","id":"1"}`)))
	require.Equal(t, `{"action":"a","id":"1"}`, recv(t, fromClient))

	require.NoError(t, host.SendMessage(ctx, []byte(`{"action":"a","id":"1","result":true}`)))
	require.Equal(t, `{"action":"a","id":"1","result":true}`, recv(t, fromHost))
}

func TestPipe_SendNeverBlocks(t *testing.T) {
	client, host := Pipe()
	ctx := context.Background()

	// Nobody reads yet
	for i := range 1000 {
		require.NoError(t, client.SendMessage(ctx, fmt.Appendf(nil, `{"n":%d}`, i)))
	}

	messages, _ := host.ReadMessages(ctx)

	for i := range 1000 {
		require.Equal(t, fmt.Sprintf(`{"n":%d}`, i), recv(t, messages))
	}
}

func TestPipe_FramesAreCopied(t *testing.T) {
	client, host := Pipe()
	ctx := context.Background()

	data := []byte(`{"n":1}`)
	require.NoError(t, client.SendMessage(ctx, data))
	data[5] = '2'

	messages, _ := host.ReadMessages(ctx)
	require.Equal(t, `{"n":1}`, recv(t, messages))
}

func TestPipe_CloseDrainsThenEnds(t *testing.T) {
	client, host := Pipe()
	ctx := context.Background()

	require.NoError(t, client.SendMessage(ctx, []byte(`{"last":true}`)))
	require.NoError(t, client.Close())
	require.False(t, client.IsReady())

	messages, errs := host.ReadMessages(ctx)
	require.Equal(t, `{"last":true}`, recv(t, messages))

	_, ok := <-messages
	require.False(t, ok)

	err, ok := <-errs
	require.False(t, ok)
	require.NoError(t, err)

	require.ErrorIs(t, client.SendMessage(ctx, []byte(`{}`)), errors.ErrTransportClosed)
	require.ErrorIs(t, host.SendMessage(ctx, []byte(`{}`)), errors.ErrTransportClosed)
}

func TestPipe_ContextCancelStopsReader(t *testing.T) {
	_, host := Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	messages, errs := host.ReadMessages(ctx)

	cancel()

	select {
	case _, ok := <-messages:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop")
	}

	require.ErrorIs(t, <-errs, context.Canceled)
}
