package protocol

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wagiedev/workerbridge-go/internal/errors"
	"github.com/wagiedev/workerbridge-go/internal/metrics"
)

func TestRequestChannel_RoundTrip(t *testing.T) {
	controller, transport := startController(t, Settings{})
	ctx := context.Background()

	future, err := controller.Requests().Send(ctx, "preferences.sync", map[string]any{"force": true})
	require.NoError(t, err)

	msg := transport.waitForAction(t, "preferences.sync", 0)
	require.Equal(t, future.ID(), msg.ID)
	require.JSONEq(t, `{"force":true}`, string(msg.Data))

	transport.answer(msg, map[string]any{"synced": 3})

	result, err := future.Wait(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `{"synced":3}`, string(result))
	require.Zero(t, controller.Requests().Pending())
}

func TestRequestChannel_NonMatchingIDLeavesPending(t *testing.T) {
	controller, transport := startController(t, Settings{})
	ctx := context.Background()

	future, err := controller.Requests().Send(ctx, "conversations.list", nil)
	require.NoError(t, err)

	transport.sendToController(map[string]any{
		"action": "conversations.list",
		"id":     "some-other-id",
		"result": []string{"x"},
	})

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	_, err = future.Wait(waitCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, controller.Requests().Pending())

	// Waiting again after a cancelled wait still works
	msg := transport.waitForAction(t, "conversations.list", 0)
	transport.answer(msg, []string{"a"})

	result, err := future.Wait(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `["a"]`, string(result))
}

func TestRequestChannel_DuplicateResultsResolveOnce(t *testing.T) {
	controller, transport := startController(t, Settings{})
	ctx := context.Background()

	future, err := controller.Requests().Send(ctx, "consent.get", nil)
	require.NoError(t, err)

	msg := transport.waitForAction(t, "consent.get", 0)
	transport.answer(msg, "first")
	transport.answer(msg, "second")

	result, err := future.Wait(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `"first"`, string(result))

	// A second send proves the duplicate was consumed without side effects
	next, err := controller.Requests().Send(ctx, "consent.get", nil)
	require.NoError(t, err)

	transport.answer(transport.waitForAction(t, "consent.get", 1), "third")

	result, err = next.Wait(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `"third"`, string(result))

	// The first future still holds its original value
	result, err = future.Wait(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `"first"`, string(result))
}

func TestRequestChannel_ErrorResult(t *testing.T) {
	controller, transport := startController(t, Settings{})
	ctx := context.Background()

	future, err := controller.Requests().Send(ctx, "groups.create", nil)
	require.NoError(t, err)

	msg := transport.waitForAction(t, "groups.create", 0)
	transport.sendToController(map[string]any{
		"action": msg.Action,
		"id":     msg.ID,
		"error":  "member limit exceeded",
	})

	_, err = future.Wait(ctx)

	actionErr, ok := stderrors.AsType[*errors.ActionError](err)
	require.True(t, ok, "expected ActionError, got %T", err)
	require.Equal(t, "groups.create", actionErr.Action)
	require.Equal(t, "member limit exceeded", actionErr.Message)
	require.Empty(t, actionErr.Code)
}

func TestRequestChannel_TypedErrorResult(t *testing.T) {
	controller, transport := startController(t, Settings{})
	ctx := context.Background()

	future, err := controller.Requests().Send(ctx, "nope", nil)
	require.NoError(t, err)

	msg := transport.waitForAction(t, "nope", 0)
	transport.sendToController(map[string]any{
		"action":    msg.Action,
		"id":        msg.ID,
		"error":     "unknown action: nope",
		"errorKind": errors.KindAction,
		"errorCode": errors.CodeUnknownAction,
	})

	_, err = future.Wait(ctx)
	require.ErrorIs(t, err, errors.ErrUnknownAction)
}

func TestRequestChannel_TransportKindResult(t *testing.T) {
	controller, transport := startController(t, Settings{})
	ctx := context.Background()

	future, err := controller.Requests().Send(ctx, "crash", nil)
	require.NoError(t, err)

	msg := transport.waitForAction(t, "crash", 0)
	transport.sendToController(map[string]any{
		"action":    msg.Action,
		"id":        msg.ID,
		"error":     "handler panicked: nil map",
		"errorKind": errors.KindTransport,
	})

	_, err = future.Wait(ctx)

	transportErr, ok := stderrors.AsType[*errors.TransportError](err)
	require.True(t, ok, "expected TransportError, got %T", err)
	require.Equal(t, "crash", transportErr.Action)
}

func TestRequestChannel_MalformedResultRejectsOnlyItsRequest(t *testing.T) {
	controller, transport := startController(t, Settings{})
	ctx := context.Background()

	bad, err := controller.Requests().Send(ctx, "a", nil)
	require.NoError(t, err)

	good, err := controller.Requests().Send(ctx, "b", nil)
	require.NoError(t, err)

	// "error" must be a string; this frame cannot be decoded
	transport.sendRaw(`{"action":"a","id":"` + bad.ID() + `","error":{"code":7}}`)
	transport.sendRaw(`not json at all`)

	_, err = bad.Wait(ctx)

	transportErr, ok := stderrors.AsType[*errors.TransportError](err)
	require.True(t, ok, "expected TransportError, got %T", err)

	_, ok = stderrors.AsType[*errors.JSONDecodeError](transportErr)
	require.True(t, ok)

	transport.answer(transport.waitForAction(t, "b", 0), 1)

	result, err := good.Wait(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `1`, string(result))
}

func TestRequestChannel_OutOfOrderCompletion(t *testing.T) {
	controller, transport := startController(t, Settings{})
	ctx := context.Background()

	first, err := controller.Requests().Send(ctx, "slow", nil)
	require.NoError(t, err)

	second, err := controller.Requests().Send(ctx, "fast", nil)
	require.NoError(t, err)

	transport.answer(transport.waitForAction(t, "fast", 0), "fast-result")

	result, err := second.Wait(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `"fast-result"`, string(result))

	select {
	case <-first.Done():
		t.Fatal("slow request settled before its result arrived")
	default:
	}

	transport.answer(transport.waitForAction(t, "slow", 0), "slow-result")

	result, err = first.Wait(ctx)
	require.NoError(t, err)
	require.JSONEq(t, `"slow-result"`, string(result))
}

func TestRequestChannel_SendFailureIsTransportError(t *testing.T) {
	controller, transport := startController(t, Settings{})
	transport.failSends(errBoom)

	_, err := controller.Requests().Send(context.Background(), "x", nil)

	transportErr, ok := stderrors.AsType[*errors.TransportError](err)
	require.True(t, ok)
	require.ErrorIs(t, transportErr, errBoom)
	require.Zero(t, controller.Requests().Pending())
}

func TestRequestChannel_UnencodableData(t *testing.T) {
	controller, _ := startController(t, Settings{})

	_, err := controller.Requests().Send(context.Background(), "x", map[string]any{"ch": make(chan int)})

	_, ok := stderrors.AsType[*errors.TransportError](err)
	require.True(t, ok)
	require.Zero(t, controller.Requests().Pending())
}

func TestRequestChannel_Timeout(t *testing.T) {
	controller, _ := startController(t, Settings{RequestTimeout: 20 * time.Millisecond})

	future, err := controller.Requests().Send(context.Background(), "never.answered", nil)
	require.NoError(t, err)

	_, err = future.Wait(context.Background())
	require.ErrorIs(t, err, errors.ErrRequestTimeout)
	require.Zero(t, controller.Requests().Pending())
}

func TestRequestChannel_NoTimeoutByDefault(t *testing.T) {
	controller, _ := startController(t, Settings{})

	future, err := controller.Requests().Send(context.Background(), "never.answered", nil)
	require.NoError(t, err)

	select {
	case <-future.Done():
		t.Fatal("request settled without a result")
	case <-time.After(50 * time.Millisecond):
	}

	require.Equal(t, 1, controller.Requests().Pending())
}

func TestRequestChannel_CancelSendsCancelAction(t *testing.T) {
	controller, transport := startController(t, Settings{})

	future, err := controller.Requests().Send(context.Background(), "long.running", nil)
	require.NoError(t, err)

	require.True(t, future.Cancel())
	require.False(t, future.Cancel())

	_, err = future.Wait(context.Background())
	require.ErrorIs(t, err, errors.ErrOperationCancelled)

	cancelMsg := transport.waitForAction(t, ActionCancel, 0)

	var req CancelRequest
	require.NoError(t, json.Unmarshal(cancelMsg.Data, &req))
	require.Equal(t, future.ID(), req.ID)

	// A late result for the cancelled request is ignored
	transport.answer(transport.waitForAction(t, "long.running", 0), "late")
	require.Zero(t, controller.Requests().Pending())
}

func TestRequestChannel_CallAbandonsOnContextCancel(t *testing.T) {
	controller, transport := startController(t, Settings{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := controller.Requests().Call(ctx, "long.running", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, controller.Requests().Pending())

	transport.waitForAction(t, ActionCancel, 0)
}

func TestRequestChannel_CloseRejectsPending(t *testing.T) {
	controller, _ := startController(t, Settings{})
	ctx := context.Background()

	futures := make([]*Future, 0, 5)

	for range 5 {
		f, err := controller.Requests().Send(ctx, "pending", nil)
		require.NoError(t, err)

		futures = append(futures, f)
	}

	controller.Requests().Close(errBoom)

	for _, f := range futures {
		_, err := f.Wait(ctx)
		require.ErrorIs(t, err, errors.ErrChannelClosed)
		require.ErrorIs(t, err, errBoom)
	}

	_, err := controller.Requests().Send(ctx, "after.close", nil)
	require.ErrorIs(t, err, errors.ErrChannelClosed)
}

func TestRequestChannel_ConcurrentSends(t *testing.T) {
	controller, transport := startController(t, Settings{})
	ctx := context.Background()

	// Echo host: answers every action with its own id
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		answered := make(map[string]bool)

		for {
			select {
			case <-stop:
				return
			case <-time.After(time.Millisecond):
			}

			for _, msg := range transport.sent() {
				if answered[msg.ID] {
					continue
				}

				answered[msg.ID] = true
				transport.answer(msg, msg.ID)
			}
		}
	}()

	var wg sync.WaitGroup

	for range 50 {
		wg.Go(func() {
			future, err := controller.Requests().Send(ctx, "echo", nil)
			if !assert.NoError(t, err) {
				return
			}

			waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			result, err := future.Wait(waitCtx)
			if !assert.NoError(t, err) {
				return
			}

			var id string
			assert.NoError(t, json.Unmarshal(result, &id))
			assert.Equal(t, future.ID(), id)
		})
	}

	wg.Wait()
}

func TestRequestChannel_Metrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	controller, transport := startController(t, Settings{Metrics: m})
	ctx := context.Background()

	future, err := controller.Requests().Send(ctx, "metered", nil)
	require.NoError(t, err)
	require.InDelta(t, 1, testutil.ToFloat64(m.PendingRequests), 0)

	transport.answer(transport.waitForAction(t, "metered", 0), true)

	_, err = future.Wait(ctx)
	require.NoError(t, err)
	require.InDelta(t, 0, testutil.ToFloat64(m.PendingRequests), 0)
	require.Equal(t, 1, testutil.CollectAndCount(m.RequestDuration))
}

func TestRequestChannel_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	controller, transport := startController(t, Settings{Tracer: provider.Tracer("test")})
	ctx := context.Background()

	future, err := controller.Requests().Send(ctx, "traced", nil)
	require.NoError(t, err)

	transport.sendToController(map[string]any{"action": "traced", "id": future.ID(), "error": "nope"})

	_, err = future.Wait(ctx)
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "workerbridge.action traced", spans[0].Name())
	require.Equal(t, "Error", spans[0].Status().Code.String())
}
