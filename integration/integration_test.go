//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wagiedev/workerbridge-go"
)

// skipIfHostNotInstalled skips the test if the error indicates the host binary is not found.
func skipIfHostNotInstalled(t *testing.T, err error) {
	t.Helper()

	if _, ok := errors.AsType[*workerbridge.HostNotFoundError](err); ok {
		t.Skip("workerbridge-host not installed")
	}
}

// startClient spawns the installed host and returns a connected client.
func startClient(t *testing.T, opts ...workerbridge.Option) workerbridge.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := workerbridge.NewClient()

	if err := client.Start(ctx, opts...); err != nil {
		skipIfHostNotInstalled(t, err)
		t.Fatalf("Start failed: %v", err)
	}

	t.Cleanup(func() { require.NoError(t, client.Close()) })

	return client
}

type tick struct {
	Seq int `json:"seq"`
}
