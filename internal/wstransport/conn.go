package wstransport

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wagiedev/workerbridge-go/internal/config"
	"github.com/wagiedev/workerbridge-go/internal/errors"
)

const (
	// HandshakeTimeout bounds the opening handshake when dialing.
	HandshakeTimeout = 10 * time.Second

	closeGracePeriod = time.Second
)

// Conn is a transport over one WebSocket connection.
type Conn struct {
	log    *slog.Logger
	url    string
	dialer *websocket.Dialer

	mu     sync.Mutex // Serializes writes and guards conn
	conn   *websocket.Conn
	closed bool
}

var _ config.Transport = (*Conn)(nil)

// Dial returns a transport that connects to url when started.
func Dial(url string, log *slog.Logger) *Conn {
	return &Conn{
		log: log.With("component", "ws_transport", "url", url),
		url: url,
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: HandshakeTimeout,
		},
	}
}

func newConn(log *slog.Logger, ws *websocket.Conn) *Conn {
	return &Conn{
		log:  log.With("component", "ws_transport", "remote", ws.RemoteAddr().String()),
		conn: ws,
	}
}

// Start performs the WebSocket handshake. It is a no-op on a connection
// that was accepted by a Handler.
func (c *Conn) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrTransportClosed
	}

	if c.conn != nil {
		return nil
	}

	ws, resp, err := c.dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		return &errors.HostConnectionError{Err: fmt.Errorf("dial websocket: %w", err)}
	}

	c.conn = ws
	c.log.Debug("Connected")

	return nil
}

func (c *Conn) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn
}

// ReadMessages reads text messages until the peer closes the connection.
// A normal close ends both channels without an error.
func (c *Conn) ReadMessages(ctx context.Context) (<-chan []byte, <-chan error) {
	messages := make(chan []byte)
	errs := make(chan error, 1)

	ws := c.current()
	if ws == nil {
		errs <- errors.ErrTransportNotConnected

		close(messages)
		close(errs)

		return messages, errs
	}

	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })

	go func() {
		defer close(messages)
		defer close(errs)
		defer stop()

		for {
			kind, data, err := ws.ReadMessage()
			if err != nil {
				switch {
				case ctx.Err() != nil:
					errs <- ctx.Err()
				case isClosed(err):
					c.log.Debug("Connection closed")
				default:
					c.log.Debug("Read failed", "error", err)
					errs <- fmt.Errorf("read websocket: %w", err)
				}

				return
			}

			if kind != websocket.TextMessage {
				c.log.Debug("Dropping non-text message", "type", kind)

				continue
			}

			select {
			case messages <- data:
			case <-ctx.Done():
				errs <- ctx.Err()

				return
			}
		}
	}()

	return messages, errs
}

func isClosed(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}

	return stderrors.Is(err, net.ErrClosed)
}

// SendMessage writes one frame as a text message. It is safe for
// concurrent use.
func (c *Conn) SendMessage(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrTransportClosed
	}

	if c.conn == nil {
		return errors.ErrTransportNotConnected
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	deadline, _ := ctx.Deadline()
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write websocket: %w", err)
	}

	return nil
}

// ping sends a keepalive ping. WriteControl may run alongside SendMessage.
func (c *Conn) ping() error {
	ws := c.current()
	if ws == nil {
		return errors.ErrTransportNotConnected
	}

	return ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeGracePeriod))
}

// IsReady reports whether the connection is open.
func (c *Conn) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn != nil && !c.closed
}

// Close sends a close message and closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	if c.conn == nil {
		return nil
	}

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)); err != nil {
		c.log.Debug("Close message not sent", "error", err)
	}

	if err := c.conn.Close(); err != nil && !stderrors.Is(err, net.ErrClosed) {
		return fmt.Errorf("close websocket: %w", err)
	}

	return nil
}
