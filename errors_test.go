package workerbridge

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestHostNotFoundError_Creation tests HostNotFoundError creation and formatting.
func TestHostNotFoundError_Creation(t *testing.T) {
	err := &HostNotFoundError{
		SearchedPaths: []string{"$PATH", "/usr/local/bin/workerbridge-host"},
	}

	require.Error(t, err)
	require.Contains(t, err.Error(), "$PATH")
	require.Contains(t, err.Error(), "/usr/local/bin/workerbridge-host")
}

// TestHostConnectionError_Unwrap tests that the cause is preserved.
func TestHostConnectionError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	err := &HostConnectionError{Err: inner}

	require.Contains(t, err.Error(), "connection refused")
	require.ErrorIs(t, err, inner)
}

// TestProcessError_WithExitCodeAndStderr tests ProcessError with exit code and stderr.
func TestProcessError_WithExitCodeAndStderr(t *testing.T) {
	err := &ProcessError{
		ExitCode: 1,
		Stderr:   "engine crashed",
	}

	require.Contains(t, err.Error(), "exit 1")
	require.Contains(t, err.Error(), "engine crashed")
}

// TestActionError_MatchesSentinels tests that error codes map onto sentinels.
func TestActionError_MatchesSentinels(t *testing.T) {
	err := fmt.Errorf("call: %w", &ActionError{Action: "nope", Message: "unknown action: nope", Code: "unknown_action"})

	require.ErrorIs(t, err, ErrUnknownAction)
	require.NotErrorIs(t, err, ErrUnknownStream)

	actionErr, ok := stderrors.AsType[*ActionError](err)
	require.True(t, ok)
	require.Equal(t, "nope", actionErr.Action)
}

// TestStreamFailedError_Unwrap tests that the host's reason is preserved.
func TestStreamFailedError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("feed dropped")
	err := &StreamFailedError{StreamID: "s-1", Stream: "ticker", Err: inner}

	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "ticker")
}

// TestJSONDecodeError_PreservesRawData tests that raw data is preserved.
func TestJSONDecodeError_PreservesRawData(t *testing.T) {
	rawData := `{"id": "1", invalid}`
	inner := fmt.Errorf("invalid character")
	err := &JSONDecodeError{RawData: rawData, Err: inner}

	require.Equal(t, rawData, err.RawData)
	require.ErrorIs(t, err, inner)
}

// TestBridgeError_Marker tests that every typed error carries the marker.
func TestBridgeError_Marker(t *testing.T) {
	for _, err := range []error{
		&TransportError{Err: fmt.Errorf("x")},
		&ActionError{},
		&StreamFailedError{},
		&HostNotFoundError{},
		&HostConnectionError{},
		&ProcessError{},
		&JSONDecodeError{},
	} {
		be, ok := stderrors.AsType[BridgeError](err)
		require.True(t, ok, "%T", err)
		require.True(t, be.IsBridgeError())
	}
}
