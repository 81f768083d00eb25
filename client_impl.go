package workerbridge

import (
	"context"
	"encoding/json"

	"github.com/wagiedev/workerbridge-go/internal/client"
	"github.com/wagiedev/workerbridge-go/internal/config"
)

// clientWrapper wraps the internal client to adapt it to the public interface.
type clientWrapper struct {
	impl *client.Client
}

// Compile-time check that *clientWrapper implements the Client interface.
var _ Client = (*clientWrapper)(nil)

func newClientImpl() Client {
	return &clientWrapper{impl: client.New()}
}

// Start connects to the worker host. Unset options are filled from the
// environment.
func (c *clientWrapper) Start(ctx context.Context, opts ...Option) error {
	options, err := resolveOptions(opts)
	if err != nil {
		return err
	}

	return c.impl.Start(ctx, options)
}

func (c *clientWrapper) Call(ctx context.Context, action string, data any) (json.RawMessage, error) {
	return c.impl.Call(ctx, action, data)
}

func (c *clientWrapper) Send(ctx context.Context, action string, data any) (*Future, error) {
	return c.impl.Send(ctx, action, data)
}

func (c *clientWrapper) Subscribe(ctx context.Context, name string, args any, onFail func(error)) (*RawStream, error) {
	return c.impl.Subscribe(ctx, name, args, onFail)
}

func (c *clientWrapper) OpenStream(ctx context.Context, name string, args any, opts ...StreamOption) (*Stream, error) {
	return c.impl.OpenStream(ctx, name, args, applyStreamOptions(opts))
}

func (c *clientWrapper) Close() error {
	return c.impl.Close()
}

// resolveOptions applies opts over the WORKERBRIDGE_* environment.
func resolveOptions(opts []Option) (*config.Options, error) {
	options := applyOptions(opts)

	env, err := config.LoadEnv()
	if err != nil {
		return nil, err
	}

	options.ApplyEnv(env)

	return options, nil
}
