package rosbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type frame struct {
	mt   int
	data []byte
}

// fakeTransport in-memory транспорт: push кладёт входящие кадры,
// всё записанное клиентом копится в out.
type fakeTransport struct {
	in   chan frame
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	out      [][]byte
	closeErr error
	closed   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		in:   make(chan frame, 64),
		done: make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case fr := <-f.in:
		return fr.mt, fr.data, nil
	case <-f.done:
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.closeErr != nil {
			return 0, nil, f.closeErr
		}
		return 0, nil, errors.New("use of closed connection")
	}
}

func (f *fakeTransport) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.done:
		return errors.New("write on closed connection")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
	return nil
}

// drop имитирует закрытие со стороны моста.
func (f *fakeTransport) drop(code int, reason string) {
	f.mu.Lock()
	f.closeErr = &websocket.CloseError{Code: code, Text: reason}
	f.mu.Unlock()
	f.once.Do(func() { close(f.done) })
}

func (f *fakeTransport) push(t *testing.T, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	f.in <- frame{mt: TextMessage, data: b}
}

func (f *fakeTransport) pushRaw(mt int, data []byte) {
	f.in <- frame{mt: mt, data: data}
}

// written все записанные envelope, разобранные в map.
func (f *fakeTransport) written(t *testing.T) []map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.out))
	for _, b := range f.out {
		var m map[string]any
		require.NoError(t, json.Unmarshal(b, &m))
		out = append(out, m)
	}
	return out
}

func (f *fakeTransport) ops(t *testing.T) []string {
	t.Helper()
	var ops []string
	for _, m := range f.written(t) {
		ops = append(ops, m["op"].(string))
	}
	return ops
}

func (f *fakeTransport) last(t *testing.T) map[string]any {
	t.Helper()
	w := f.written(t)
	require.NotEmpty(t, w)
	return w[len(w)-1]
}

// fakeDialer отдаёт транспорты по очереди, после исчерпания возвращает err.
type fakeDialer struct {
	mu    sync.Mutex
	ts    []*fakeTransport
	err   error
	dials int
	urls  []string
}

func (d *fakeDialer) dial(_ context.Context, url string, _ TransportOptions) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.urls = append(d.urls, url)
	if len(d.ts) == 0 {
		if d.err != nil {
			return nil, d.err
		}
		return nil, errors.New("no transport")
	}
	t := d.ts[0]
	d.ts = d.ts[1:]
	return t, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// newConnectedClient клиент, подключённый к fakeTransport.
func newConnectedClient(t *testing.T, opts ...Option) (*Client, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	d := &fakeDialer{ts: []*fakeTransport{ft}}
	c := New(append([]Option{WithDialer(d.dial)}, opts...)...)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	c.Connect(ctx, "ws://bridge:9090", TransportWebSocket, TransportOptions{})
	require.NoError(t, c.WaitOpen(ctx))
	return c, ft
}

// barrier ждёт, пока readLoop разберёт всё, что было отправлено до него.
// Входящие обрабатываются строго по порядку, поэтому достаточно дождаться
// status-сообщения с уникальным id.
func barrier(t *testing.T, c *Client, ft *fakeTransport) {
	t.Helper()
	id := "barrier:" + time.Now().Format(time.RFC3339Nano)
	got := make(chan struct{})
	cancel := c.OnStatus(func(s Status) {
		if s.ID == id {
			close(got)
		}
	})
	defer cancel()
	ft.push(t, Status{ID: id, Level: StatusInfo, Msg: "barrier"})
	select {
	case <-got:
	case <-time.After(waitTimeout):
		t.Fatal("barrier not reached")
	}
}

// lingeringTransport после Close ещё какое-то время отдаёт чтение, пока
// тест не вызовет release. Так readLoop старого сокета отстаёт от Close.
type lingeringTransport struct {
	*fakeTransport
	release chan struct{}
}

func newLingeringTransport() *lingeringTransport {
	return &lingeringTransport{fakeTransport: newFakeTransport(), release: make(chan struct{})}
}

func (l *lingeringTransport) Close() error {
	go func() {
		<-l.release
		_ = l.fakeTransport.Close()
	}()
	return nil
}

// brokenWriter транспорт, в который ничего не пишется.
type brokenWriter struct {
	*fakeTransport
}

func (b brokenWriter) WriteMessage(int, []byte) error {
	return errors.New("broken pipe")
}

// logBuffer потокобезопасный приёмник логов для проверок.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func debugLogger(w *logBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// transportsDialer отдаёт заранее заданные транспорты по очереди.
type transportsDialer struct {
	mu   sync.Mutex
	ts   []Transport
	urls []string
}

func (d *transportsDialer) dial(_ context.Context, url string, _ TransportOptions) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if len(d.ts) == 0 {
		return nil, errors.New("no transport")
	}
	t := d.ts[0]
	d.ts = d.ts[1:]
	return t, nil
}

func (d *transportsDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}
