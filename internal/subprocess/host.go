package subprocess

import (
	"bufio"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/wagiedev/workerbridge-go/internal/config"
	"github.com/wagiedev/workerbridge-go/internal/discovery"
	"github.com/wagiedev/workerbridge-go/internal/errors"
)

// maxStderrBufferSize is the maximum size for the stderr buffer.
// Stderr reading continues indefinitely (the callback receives all lines),
// but the buffer stops growing after this limit.
const maxStderrBufferSize = 10 * 1024 * 1024 // 10MB

// HostTransport implements Transport by spawning the worker host binary.
type HostTransport struct {
	log            *slog.Logger
	options        *config.Options
	hostPath       string
	cmd            *exec.Cmd
	stdin          io.WriteCloser
	stdout         io.ReadCloser
	stderr         io.ReadCloser
	stderrCallback func(string)
	mu             sync.Mutex // Protects stdin writes
	closing        bool       // Close() has been called
	stdinClosed    bool       // stdin was closed, e.g. after a cancelled write
}

// Compile-time verification that HostTransport implements the Transport interface.
var _ config.Transport = (*HostTransport)(nil)

// NewHostTransport creates a transport that runs the worker host as a
// subprocess. Host discovery is deferred to Start.
func NewHostTransport(log *slog.Logger, options *config.Options) *HostTransport {
	return &HostTransport{
		log:            log.With("component", "host_transport"),
		options:        options,
		stderrCallback: options.Stderr,
	}
}

// Start discovers the host binary and spawns it.
//
// Returns HostNotFoundError if the binary cannot be located, or
// HostConnectionError if the process fails to start.
func (t *HostTransport) Start(ctx context.Context) error {
	t.log.Info("Starting worker host subprocess")

	discoverer := discovery.NewDiscoverer(&discovery.Config{
		HostPath:         t.options.HostPath,
		SkipVersionCheck: t.options.SkipVersionCheck,
		Logger:           t.log,
	})

	hostPath, err := discoverer.Discover(ctx)
	if err != nil {
		return fmt.Errorf("discover host: %w", err)
	}

	t.hostPath = hostPath

	cwd := t.options.Cwd
	if cwd == "" {
		cwd, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
	}

	//nolint:gosec // G204: launching the configured host binary is the purpose of this transport
	cmd := exec.CommandContext(ctx, t.hostPath, t.options.HostArgs...)
	cmd.Dir = cwd
	cmd.Env = BuildEnvironment(t.options)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &errors.HostConnectionError{Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &errors.HostConnectionError{Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &errors.HostConnectionError{Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		t.log.Error("Failed to start host process", "error", err)

		return &errors.HostConnectionError{Err: fmt.Errorf("start process: %w", err)}
	}

	t.mu.Lock()
	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdout
	t.stderr = stderr
	t.mu.Unlock()

	t.log.Info("Worker host subprocess started", "pid", cmd.Process.Pid, "path", t.hostPath)

	return nil
}

// BuildEnvironment constructs the environment of the host process.
func BuildEnvironment(options *config.Options) []string {
	env := os.Environ()
	env = append(env, "WORKERBRIDGE_ENTRYPOINT=sdk-go")

	for key, value := range options.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}

	return env
}

// ReadMessages reads newline-delimited frames from the host stdout.
//
// When stdout reaches EOF the process is reaped. An abnormal exit that was
// not caused by Close is reported as a ProcessError carrying the captured
// stderr. Both channels are closed when reading stops.
func (t *HostTransport) ReadMessages(ctx context.Context) (<-chan []byte, <-chan error) {
	messages := make(chan []byte)
	errs := make(chan error, 2)

	var (
		stderrWg     sync.WaitGroup
		stderrBuffer strings.Builder
		stderrMu     sync.Mutex
	)

	// Stderr must be fully read before Wait.
	// See: https://pkg.go.dev/os/exec#Cmd.StderrPipe
	stderrWg.Go(func() {
		scanner := bufio.NewScanner(t.stderr)
		for scanner.Scan() {
			line := scanner.Text()

			stderrMu.Lock()

			if stderrBuffer.Len() < maxStderrBufferSize {
				if stderrBuffer.Len() > 0 {
					stderrBuffer.WriteString("\n")
				}

				stderrBuffer.WriteString(line)
			}

			stderrMu.Unlock()

			if t.stderrCallback != nil {
				t.stderrCallback(line)
			}
		}

		if err := scanner.Err(); err != nil {
			t.log.Debug("Stderr scanner error", "error", err)
		}
	})

	go func() {
		defer close(messages)
		defer close(errs)
		defer t.log.Debug("ReadMessages goroutine stopped")

		if err := readFrames(ctx, t.stdout, messages); err != nil {
			if ctx.Err() != nil {
				errs <- ctx.Err()

				return
			}

			t.log.Error("Error reading host output", "error", err)

			errs <- err
		}

		stderrWg.Wait()

		t.log.Debug("Waiting for host process to exit")

		if err := t.cmd.Wait(); err != nil {
			t.mu.Lock()
			isClosing := t.closing
			t.mu.Unlock()

			if isClosing {
				t.log.Debug("Host process terminated during shutdown")

				return
			}

			stderrMu.Lock()
			stderrOutput := strings.TrimSpace(stderrBuffer.String())
			stderrMu.Unlock()

			exitCode := -1
			if exitErr, ok := stderrors.AsType[*exec.ExitError](err); ok {
				exitCode = exitErr.ExitCode()
			}

			t.log.Error("Host process exited with error", "exit_code", exitCode, "stderr", stderrOutput)

			errs <- &errors.ProcessError{ExitCode: exitCode, Stderr: stderrOutput, Err: err}

			return
		}

		t.log.Info("Host process exited")
	}()

	return messages, errs
}

// SendMessage writes one frame to the host stdin.
//
// This method is safe for concurrent use and respects context cancellation
// even during blocking writes. A write abandoned by cancellation closes
// stdin, after which every call returns ErrStdinClosed.
func (t *HostTransport) SendMessage(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin == nil {
		return errors.ErrTransportNotConnected
	}

	if t.stdinClosed {
		return errors.ErrStdinClosed
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	line := frameLine(data)
	done := make(chan error, 1)

	go func() {
		_, err := t.stdin.Write(line)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("write to stdin: %w", err)
		}

		return nil

	case <-ctx.Done():
		t.log.Debug("Context cancelled during write, closing stdin")

		_ = t.stdin.Close()
		t.stdinClosed = true

		select {
		case <-done:
		case <-time.After(1 * time.Second):
			t.log.Warn("Write goroutine did not exit after stdin close, potential leak")
		}

		return ctx.Err()
	}
}

// IsReady reports whether the host process is running with stdin open.
func (t *HostTransport) IsReady() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.cmd != nil && t.cmd.Process != nil && t.stdin != nil && !t.stdinClosed
}

// CloseStdin signals end of input. The host finishes pending work and exits.
func (t *HostTransport) CloseStdin() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin == nil || t.stdinClosed {
		return nil
	}

	t.stdinClosed = true

	return t.stdin.Close()
}

// Close kills the host process. It's safe to call Close multiple times or
// on a transport that was never started.
func (t *HostTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closing = true
	t.stdinClosed = true

	if t.cmd != nil && t.cmd.Process != nil {
		t.log.Debug("Killing host process", "pid", t.cmd.Process.Pid)

		if err := t.cmd.Process.Kill(); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill host process (pid %d): %w", t.cmd.Process.Pid, err)
		}
	}

	return nil
}
