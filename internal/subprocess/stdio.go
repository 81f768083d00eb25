package subprocess

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/wagiedev/workerbridge-go/internal/config"
	"github.com/wagiedev/workerbridge-go/internal/errors"
)

// StdioTransport exchanges newline-delimited frames over a reader and a
// writer, typically os.Stdin and os.Stdout of the host process.
type StdioTransport struct {
	log *slog.Logger
	r   io.Reader
	w   io.Writer

	mu     sync.Mutex // Protects writes
	closed bool
}

var _ config.Transport = (*StdioTransport)(nil)

// NewStdioTransport creates a transport reading frames from r and writing
// frames to w.
func NewStdioTransport(log *slog.Logger, r io.Reader, w io.Writer) *StdioTransport {
	return &StdioTransport{
		log: log.With("component", "stdio_transport"),
		r:   r,
		w:   w,
	}
}

// Start is a no-op; the streams are already open.
func (t *StdioTransport) Start(context.Context) error {
	return nil
}

// ReadMessages reads frames until EOF. EOF closes both channels without an
// error.
func (t *StdioTransport) ReadMessages(ctx context.Context) (<-chan []byte, <-chan error) {
	messages := make(chan []byte)
	errs := make(chan error, 1)

	go func() {
		defer close(messages)
		defer close(errs)

		if err := readFrames(ctx, t.r, messages); err != nil {
			t.log.Debug("Stopped reading frames", "error", err)

			errs <- err

			return
		}

		t.log.Debug("Input closed")
	}()

	return messages, errs
}

// SendMessage writes one frame. It is safe for concurrent use.
func (t *StdioTransport) SendMessage(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errors.ErrTransportClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if _, err := t.w.Write(frameLine(data)); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	return nil
}

// IsReady reports whether the transport still accepts frames.
func (t *StdioTransport) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return !t.closed
}

// Close stops further writes. Closers among the underlying streams are
// closed as well.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}

	t.closed = true

	if c, ok := t.w.(io.Closer); ok {
		return c.Close()
	}

	return nil
}
