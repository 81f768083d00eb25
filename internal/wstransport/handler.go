package wstransport

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/workerbridge-go/internal/config"
)

// DefaultPingInterval is how often a Handler pings idle peers.
const DefaultPingInterval = 30 * time.Second

// ServeFunc runs one accepted connection until it ends.
type ServeFunc func(ctx context.Context, t config.Transport) error

// Handler upgrades HTTP requests to WebSocket connections.
type Handler struct {
	log      *slog.Logger
	serve    ServeFunc
	upgrader websocket.Upgrader

	// PingInterval sets the keepalive period. Zero disables pings.
	PingInterval time.Duration
}

var _ http.Handler = (*Handler)(nil)

// NewHandler creates a handler that passes every connection to serve.
func NewHandler(log *slog.Logger, serve ServeFunc) *Handler {
	return &Handler{
		log:   log.With("component", "ws_handler"),
		serve: serve,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: HandshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		PingInterval: DefaultPingInterval,
	}
}

// ServeHTTP upgrades the request and serves the connection until the serve
// function returns or a keepalive ping fails.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Upgrade failed", "error", err)

		return
	}

	conn := newConn(h.log, ws)
	defer conn.Close()

	h.log.Debug("Accepted connection", "remote", ws.RemoteAddr().String())

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()

		return h.serve(gctx, conn)
	})

	if h.PingInterval > 0 {
		g.Go(func() error {
			return h.keepalive(gctx, conn)
		})
	}

	if err := g.Wait(); err != nil && !stderrors.Is(err, context.Canceled) {
		h.log.Warn("Connection ended with error", "error", err)

		return
	}

	h.log.Debug("Connection ended")
}

func (h *Handler) keepalive(ctx context.Context, conn *Conn) error {
	ticker := time.NewTicker(h.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return err
			}
		}
	}
}
