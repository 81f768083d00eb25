package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	workerbridge "github.com/wagiedev/workerbridge-go"
	"github.com/wagiedev/workerbridge-go/internal/config"
	"github.com/wagiedev/workerbridge-go/internal/demoengine"
	"github.com/wagiedev/workerbridge-go/internal/host"
	"github.com/wagiedev/workerbridge-go/internal/subprocess"
	"github.com/wagiedev/workerbridge-go/internal/wstransport"
)

const shutdownTimeout = 5 * time.Second

// Execute runs the host command with the process's standard streams.
func Execute(ctx context.Context) error {
	return NewRootCmd(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx)
}

type flags struct {
	listen   string
	path     string
	logLevel string
}

// NewRootCmd constructs the root command. Frames are read from stdin and
// written to stdout in stdio mode; logs go to stderr.
func NewRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:           "workerbridge-host",
		Short:         "Serve the workerbridge demo engine",
		Version:       workerbridge.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(stderr, f.logLevel)
			if err != nil {
				return err
			}

			if f.listen != "" {
				ln, err := net.Listen("tcp", f.listen)
				if err != nil {
					return fmt.Errorf("listen on %s: %w", f.listen, err)
				}

				return serveHTTP(cmd.Context(), log, ln, f.path)
			}

			return serveStdio(cmd.Context(), log, stdin, stdout)
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	cmd.Flags().StringVar(&f.listen, "listen", "", "serve WebSockets on this address instead of stdio")
	cmd.Flags().StringVar(&f.path, "path", "/bridge", "HTTP path of the WebSocket endpoint")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	return cmd
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l})), nil
}

// newHost creates a host serving the demo engine on t.
func newHost(log *slog.Logger, t host.Transport) (*host.Host, error) {
	h := host.New(log, t)
	if err := demoengine.Register(log, h, workerbridge.Version); err != nil {
		return nil, fmt.Errorf("register engine: %w", err)
	}

	return h, nil
}

func serveStdio(ctx context.Context, log *slog.Logger, stdin io.Reader, stdout io.Writer) error {
	t := subprocess.NewStdioTransport(log, stdin, stdout)
	defer t.Close()

	h, err := newHost(log, t)
	if err != nil {
		return err
	}

	log.Info("Serving on stdio", "version", workerbridge.Version)

	if err := h.Serve(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
		return err
	}

	log.Info("Host stopped")

	return nil
}

// serveHTTP serves WebSocket connections on ln until ctx ends. Each
// connection gets its own host. Metrics are exposed on /metrics.
func serveHTTP(ctx context.Context, log *slog.Logger, ln net.Listener, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, wstransport.NewHandler(log, func(ctx context.Context, t config.Transport) error {
		h, err := newHost(log, t)
		if err != nil {
			return err
		}

		return h.Serve(ctx)
	}))
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Serving websockets", "addr", ln.Addr().String(), "path", path, "version", workerbridge.Version)

		if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("Host stopped")

	return nil
}
