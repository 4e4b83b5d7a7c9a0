package rosbridge

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/EgorLis/rosbridge/internal/observability"
)

func TestCallRosapiTopicsSuccess(t *testing.T) {
	c, ft := newConnectedClient(t)

	svc := NewService(c, "/rosapi/topics", "rosapi/Topics")
	success := make(chan json.RawMessage, 1)
	var failures atomic.Int32
	require.NoError(t, svc.Call(map[string]any{}, func(v json.RawMessage) { success <- v }, func(json.RawMessage) { failures.Add(1) }))

	req := ft.last(t)
	assert.Equal(t, "call_service", req["op"])
	assert.Equal(t, "/rosapi/topics", req["service"])
	assert.Equal(t, map[string]any{}, req["args"])
	id := req["id"].(string)
	assert.Equal(t, 1, c.PendingCalls())

	ft.push(t, ServiceResponse{
		ID:      id,
		Service: "/rosapi/topics",
		Result:  true,
		Values:  json.RawMessage(`{"topics":["/rosout"],"types":["rosgraph_msgs/Log"]}`),
	})

	select {
	case v := <-success:
		assert.JSONEq(t, `{"topics":["/rosout"],"types":["rosgraph_msgs/Log"]}`, string(v))
	case <-time.After(waitTimeout):
		t.Fatal("onSuccess not called")
	}
	assert.Zero(t, failures.Load())
	assert.Zero(t, c.PendingCalls())
}

func TestCallFailureWithCallback(t *testing.T) {
	c, ft := newConnectedClient(t)

	failed := make(chan json.RawMessage, 1)
	var successes atomic.Int32
	svc := NewService(c, "/broken", "x/Broken")
	require.NoError(t, svc.Call(nil, func(json.RawMessage) { successes.Add(1) }, func(v json.RawMessage) { failed <- v }))
	id := ft.last(t)["id"].(string)

	ft.push(t, ServiceResponse{ID: id, Service: "/broken", Result: false, Values: json.RawMessage(`{"err":"nope"}`)})

	select {
	case v := <-failed:
		assert.JSONEq(t, `{"err":"nope"}`, string(v))
	case <-time.After(waitTimeout):
		t.Fatal("onFailure not called")
	}
	assert.Zero(t, successes.Load())
}

func TestCallFailureWithoutCallbackIsSilent(t *testing.T) {
	c, ft := newConnectedClient(t)

	var errs atomic.Int32
	c.OnError(func(error) { errs.Add(1) })

	var successes atomic.Int32
	svc := NewService(c, "/broken", "")
	require.NoError(t, svc.Call(nil, func(json.RawMessage) { successes.Add(1) }, nil))
	id := ft.last(t)["id"].(string)

	ft.push(t, ServiceResponse{ID: id, Service: "/broken", Result: false, Values: json.RawMessage(`{"err":"nope"}`)})
	barrier(t, c, ft)

	assert.Zero(t, successes.Load())
	assert.Zero(t, errs.Load())
	assert.Zero(t, c.PendingCalls())
}

func TestResponseCorrelation(t *testing.T) {
	c, ft := newConnectedClient(t)

	var calls atomic.Int32
	svc := NewService(c, "/s", "")
	require.NoError(t, svc.Call(nil, func(json.RawMessage) { calls.Add(1) }, func(json.RawMessage) { calls.Add(1) }))
	id := ft.last(t)["id"].(string)

	// чужой id и чужой сервис игнорируются
	ft.push(t, ServiceResponse{ID: "call_service:/s:999", Service: "/s", Result: true})
	ft.push(t, ServiceResponse{ID: id, Service: "/other", Result: true})
	barrier(t, c, ft)
	assert.Zero(t, calls.Load())
	assert.Equal(t, 1, c.PendingCalls())

	// совпадение срабатывает ровно один раз, дубль ответа игнорируется
	ft.push(t, ServiceResponse{ID: id, Service: "/s", Result: true})
	ft.push(t, ServiceResponse{ID: id, Service: "/s", Result: false})
	barrier(t, c, ft)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCallArgsNotObjectBecomeEmpty(t *testing.T) {
	c, ft := newConnectedClient(t)
	svc := NewService(c, "/s", "")

	require.NoError(t, svc.Call([]int{1, 2, 3}, nil, nil))
	assert.Equal(t, map[string]any{}, ft.last(t)["args"])

	err := svc.Call(map[string]any{"ch": make(chan int)}, nil, nil)
	assert.ErrorIs(t, err, ErrNotJSONCompatible)
	assert.Equal(t, 1, c.PendingCalls(), "failed call must not leave a pending entry")
}

func TestCallOptions(t *testing.T) {
	c, ft := newConnectedClient(t)
	svc := NewService(c, "/big", "")
	require.NoError(t, svc.Call(nil, nil, nil, WithFragmentSize(1000), WithCallCompression(CompressionPNG)))
	m := ft.last(t)
	assert.Equal(t, float64(1000), m["fragment_size"])
	assert.Equal(t, "png", m["compression"])
}

func TestPendingCallSurvivesReconnect(t *testing.T) {
	first, second := newFakeTransport(), newFakeTransport()
	d := &fakeDialer{ts: []*fakeTransport{first, second}}
	c := New(WithDialer(d.dial))
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	c.Connect(ctx, "ws://bridge", TransportWebSocket, TransportOptions{})
	require.NoError(t, c.WaitOpen(ctx))

	done := make(chan json.RawMessage, 1)
	require.NoError(t, NewService(c, "/slow", "").Call(nil, func(v json.RawMessage) { done <- v }, nil))
	id := first.last(t)["id"].(string)

	closed := make(chan struct{}, 1)
	c.OnClose(func(CloseEvent) {
		select {
		case closed <- struct{}{}:
		default:
		}
	})
	first.drop(1006, "")
	<-closed
	require.NoError(t, c.Reconnect(ctx))

	second.push(t, ServiceResponse{ID: id, Service: "/slow", Result: true, Values: json.RawMessage(`{"ok":true}`)})
	select {
	case v := <-done:
		assert.JSONEq(t, `{"ok":true}`, string(v))
	case <-time.After(waitTimeout):
		t.Fatal("late response not delivered")
	}
}

func TestCallContext(t *testing.T) {
	c, ft := newConnectedClient(t)
	svc := NewService(c, "/add", "x/Add")

	type result struct {
		v   json.RawMessage
		err error
	}
	res := make(chan result, 1)
	go func() {
		v, err := svc.CallContext(context.Background(), map[string]int{"a": 1, "b": 2})
		res <- result{v, err}
	}()

	require.Eventually(t, func() bool { return c.PendingCalls() == 1 }, waitTimeout, 5*time.Millisecond)
	req := ft.last(t)
	assert.Equal(t, map[string]any{"a": float64(1), "b": float64(2)}, req["args"])
	ft.push(t, ServiceResponse{ID: req["id"].(string), Service: "/add", Result: true, Values: json.RawMessage(`{"sum":3}`)})

	r := <-res
	require.NoError(t, r.err)
	assert.JSONEq(t, `{"sum":3}`, string(r.v))
}

func TestCallContextTracedAndLogged(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	var logs logBuffer
	log := slog.New(&observability.TraceHandler{
		Handler: slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}),
	})
	c, ft := newConnectedClient(t, WithTracerProvider(tp), WithLogger(log))
	svc := NewService(c, "/rosapi/topics", "rosapi/Topics")

	res := make(chan error, 1)
	go func() {
		_, err := svc.CallContext(context.Background(), nil)
		res <- err
	}()
	require.Eventually(t, func() bool { return c.PendingCalls() == 1 }, waitTimeout, 5*time.Millisecond)
	req := ft.last(t)
	ft.push(t, ServiceResponse{ID: req["id"].(string), Service: "/rosapi/topics", Result: true, Values: json.RawMessage(`{"topics":[]}`)})
	require.NoError(t, <-res)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "rosbridge.call_service", span.Name)
	assert.Equal(t, trace.SpanKindClient, span.SpanKind)
	assert.Contains(t, span.Attributes, attribute.String("rosbridge.service", "/rosapi/topics"))
	assert.Contains(t, span.Attributes, attribute.String("rosbridge.id", req["id"].(string)))

	traceID := span.SpanContext.TraceID().String()
	assert.Contains(t, logs.String(), "call_service sent")
	assert.Contains(t, logs.String(), "call_service done")
	assert.Contains(t, logs.String(), "trace_id="+traceID)
}

func TestCallContextServiceError(t *testing.T) {
	c, ft := newConnectedClient(t)
	svc := NewService(c, "/fail", "")

	res := make(chan error, 1)
	go func() {
		_, err := svc.CallContext(context.Background(), nil)
		res <- err
	}()
	require.Eventually(t, func() bool { return c.PendingCalls() == 1 }, waitTimeout, 5*time.Millisecond)
	ft.push(t, ServiceResponse{ID: ft.last(t)["id"].(string), Service: "/fail", Result: false, Values: json.RawMessage(`"bad args"`)})

	err := <-res
	var serr *ServiceError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "/fail", serr.Service)
	assert.JSONEq(t, `"bad args"`, string(serr.Values))
}

func TestCallContextDeadlineDropsPending(t *testing.T) {
	c, ft := newConnectedClient(t)
	svc := NewService(c, "/never", "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := svc.CallContext(ctx, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, c.PendingCalls())

	// поздний ответ уже никому не нужен
	ft.push(t, ServiceResponse{ID: ft.last(t)["id"].(string), Service: "/never", Result: true})
	barrier(t, c, ft)
}

func TestAdvertiseServiceAnswersCalls(t *testing.T) {
	c, ft := newConnectedClient(t)

	svc := NewService(c, "/add_two_ints", "rospy_tutorials/AddTwoInts")
	require.NoError(t, svc.Advertise(func(args json.RawMessage) (any, error) {
		var in struct{ A, B int }
		if err := json.Unmarshal(args, &in); err != nil {
			return nil, err
		}
		return map[string]int{"sum": in.A + in.B}, nil
	}))
	assert.True(t, svc.IsAdvertised())

	adv := ft.last(t)
	assert.Equal(t, "advertise_service", adv["op"])
	assert.Equal(t, "rospy_tutorials/AddTwoInts", adv["type"])
	assert.Equal(t, "/add_two_ints", adv["service"])

	ft.push(t, CallService{ID: "srv:1", Service: "/add_two_ints", Args: json.RawMessage(`{"a":2,"b":3}`)})
	barrier(t, c, ft)

	resp := ft.last(t)
	assert.Equal(t, "service_response", resp["op"])
	assert.Equal(t, "srv:1", resp["id"])
	assert.Equal(t, "/add_two_ints", resp["service"])
	assert.Equal(t, true, resp["result"])
	assert.Equal(t, map[string]any{"sum": float64(5)}, resp["values"])
}

func TestAdvertiseServiceHandlerError(t *testing.T) {
	c, ft := newConnectedClient(t)

	errs := make(chan error, 1)
	c.OnError(func(err error) { errs <- err })

	svc := NewService(c, "/fails", "")
	require.NoError(t, svc.Advertise(func(json.RawMessage) (any, error) {
		return nil, errors.New("out of range")
	}))
	ft.push(t, CallService{ID: "srv:2", Service: "/fails"})
	barrier(t, c, ft)

	resp := ft.last(t)
	assert.Equal(t, false, resp["result"])
	assert.Equal(t, map[string]any{"error": "out of range"}, resp["values"])
	assert.EqualError(t, <-errs, "out of range")
}

func TestUnadvertiseService(t *testing.T) {
	c, ft := newConnectedClient(t)
	svc := NewService(c, "/s", "x/S")

	require.NoError(t, svc.Unadvertise())
	assert.Empty(t, ft.written(t))

	require.NoError(t, svc.Advertise(func(json.RawMessage) (any, error) { return nil, nil }))
	require.NoError(t, svc.Unadvertise())
	require.NoError(t, svc.Unadvertise())
	assert.Equal(t, []string{"advertise_service", "unadvertise_service"}, ft.ops(t))
	assert.False(t, svc.IsAdvertised())

	// после снятия объявления входящие вызовы остаются без ответа
	ft.push(t, CallService{ID: "srv:3", Service: "/s"})
	barrier(t, c, ft)
	assert.Equal(t, []string{"advertise_service", "unadvertise_service"}, ft.ops(t))
}
