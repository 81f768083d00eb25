package workerbridge_test

import (
	"context"
	"testing"

	workerbridge "github.com/wagiedev/workerbridge-go"
	"github.com/wagiedev/workerbridge-go/internal/demoengine"
	"github.com/wagiedev/workerbridge-go/internal/host"
	"github.com/wagiedev/workerbridge-go/internal/memtransport"
)

// engine serves the demo engine in-process and returns the client side of
// the connection.
func engine(t *testing.T) workerbridge.Transport {
	t.Helper()

	clientEnd, hostEnd := memtransport.Pipe()

	h := host.New(workerbridge.NopLogger(), hostEnd)
	if err := demoengine.Register(workerbridge.NopLogger(), h, workerbridge.Version); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = h.Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return clientEnd
}

func connect(t *testing.T, opts ...workerbridge.Option) workerbridge.Client {
	t.Helper()

	c := workerbridge.NewClient()

	opts = append([]workerbridge.Option{workerbridge.WithTransport(engine(t))}, opts...)
	if err := c.Start(context.Background(), opts...); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { _ = c.Close() })

	return c
}
