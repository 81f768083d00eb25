package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// mockTransport implements Transport for testing.
type mockTransport struct {
	mu       sync.Mutex
	messages [][]byte
	sendErr  error
	msgChan  chan []byte
	errChan  chan error
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		messages: make([][]byte, 0, 10),
		msgChan:  make(chan []byte, 10),
		errChan:  make(chan error, 1),
	}
}

func (m *mockTransport) ReadMessages(_ context.Context) (<-chan []byte, <-chan error) {
	return m.msgChan, m.errChan
}

func (m *mockTransport) SendMessage(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return m.sendErr
	}

	m.messages = append(m.messages, data)

	return nil
}

func (m *mockTransport) failSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sendErr = err
}

// sent returns the decoded action messages sent so far.
func (m *mockTransport) sent() []ActionMessage {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]ActionMessage, 0, len(m.messages))

	for _, data := range m.messages {
		var msg ActionMessage
		if err := json.Unmarshal(data, &msg); err == nil {
			result = append(result, msg)
		}
	}

	return result
}

// sentAction returns the actions with the given name.
func (m *mockTransport) sentAction(action string) []ActionMessage {
	var result []ActionMessage

	for _, msg := range m.sent() {
		if msg.Action == action {
			result = append(result, msg)
		}
	}

	return result
}

// waitForAction waits until the nth (0-based) action with the given name was sent.
func (m *mockTransport) waitForAction(t *testing.T, action string, n int) ActionMessage {
	t.Helper()

	var msg ActionMessage

	require.Eventually(t, func() bool {
		msgs := m.sentAction(action)
		if len(msgs) <= n {
			return false
		}

		msg = msgs[n]

		return true
	}, 2*time.Second, time.Millisecond, "action %q #%d was not sent", action, n)

	return msg
}

func (m *mockTransport) sendToController(frame any) {
	data, err := json.Marshal(frame)
	if err != nil {
		panic(err)
	}

	m.msgChan <- data
}

func (m *mockTransport) sendRaw(data string) {
	m.msgChan <- []byte(data)
}

func (m *mockTransport) fail(err error) {
	m.errChan <- err
}

// startController creates and starts a controller over a fresh mock transport.
func startController(t *testing.T, settings Settings) (*Controller, *mockTransport) {
	t.Helper()

	transport := newMockTransport()
	controller := NewController(testLogger(), transport, settings)

	require.NoError(t, controller.Start(context.Background()))
	t.Cleanup(controller.Stop)

	return controller, transport
}

// answer replies to an action with a success result.
func (m *mockTransport) answer(msg ActionMessage, result any) {
	m.sendToController(map[string]any{
		"action": msg.Action,
		"id":     msg.ID,
		"result": result,
	})
}

// answerReady waits for the nth stream.open and confirms it.
func (m *mockTransport) answerReady(t *testing.T, n int) ActionMessage {
	t.Helper()

	open := m.waitForAction(t, ActionStreamOpen, n)

	var req OpenStreamRequest
	require.NoError(t, json.Unmarshal(open.Data, &req))

	m.answer(open, map[string]any{"streamId": req.StreamID})

	return open
}

var errBoom = errors.New("boom")
