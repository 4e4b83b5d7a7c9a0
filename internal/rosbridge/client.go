package rosbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// State состояние соединения.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type outbound struct {
	op   Op
	data []byte
}

// Client одно мультиплексированное соединение с rosbridge.
type Client struct {
	log     *slog.Logger
	ids     IDGenerator
	dial    Dialer
	metrics *Metrics
	tracer  trace.Tracer

	mu        sync.Mutex
	state     State
	url       string
	kind      TransportKind
	opts      TransportOptions
	transport Transport
	retired   Transport
	closing   bool
	gen       uint64 // номер попытки подключения
	queue     []outbound

	router *router

	opened   broadcaster[OpenEvent]
	closed   broadcaster[CloseEvent]
	errs     broadcaster[error]
	statuses broadcaster[Status]
}

// Option настраивает Client.
type Option func(*Client)

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

func WithIDGenerator(g IDGenerator) Option {
	return func(c *Client) {
		if g != nil {
			c.ids = g
		}
	}
}

// WithDialer подменяет транспорт (тесты, нестандартные сокеты).
func WithDialer(d Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dial = d
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithTracerProvider провайдер для спанов CallContext. По умолчанию
// глобальный из otel.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		log:    slog.Default(),
		ids:    NewCounterIDs(),
		dial:   DialWebSocket,
		router: newRouter(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "rosbridge")
	return c
}

// Connect запоминает адрес и начинает подключение в фоне. Ошибки
// подключения приходят в OnError, Connect их не возвращает.
// Если соединение уже открыто или открывается, вызов ничего не делает.
// После Close подключается заново, даже если старый сокет ещё дочитывается.
func (c *Client) Connect(ctx context.Context, url string, kind TransportKind, opts TransportOptions) {
	if kind == "" {
		kind = TransportWebSocket
	}

	c.mu.Lock()
	if !c.closing && (c.transport != nil || c.state == StateConnecting) {
		c.mu.Unlock()
		c.log.Debug("connect skipped, connection in use", "state", c.state)
		return
	}
	c.retireTransport()
	if kind == TransportWebSocket {
		url = NormalizeURL(url)
	}
	c.url, c.kind, c.opts = url, kind, opts
	c.closing = false

	if kind != TransportWebSocket {
		c.mu.Unlock()
		c.log.Warn("transport not implemented", "transport", kind)
		c.errs.emit(fmt.Errorf("%w: %s", ErrUnsupportedTransport, kind))
		return
	}
	c.state = StateConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go func() { _ = c.open(ctx, gen) }()
}

// Reconnect синхронно переподключается с последними параметрами Connect.
// Открытое соединение не трогает.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	if !c.closing && c.transport != nil {
		c.mu.Unlock()
		return nil
	}
	if c.url == "" {
		c.mu.Unlock()
		return fmt.Errorf("reconnect: connect was never called")
	}
	if c.kind != TransportWebSocket {
		kind := c.kind
		c.mu.Unlock()
		err := fmt.Errorf("%w: %s", ErrUnsupportedTransport, kind)
		c.errs.emit(err)
		return err
	}
	if !c.closing && c.state == StateConnecting {
		c.mu.Unlock()
		return fmt.Errorf("reconnect: already connecting")
	}
	c.retireTransport()
	c.state = StateConnecting
	c.closing = false
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	return c.open(ctx, gen)
}

// retireTransport отвязывает транспорт, закрытый через Close, но ещё не
// дочитанный своим readLoop. Событие закрытия он отправит сам. Вызывать
// под c.mu.
func (c *Client) retireTransport() {
	if c.closing && c.transport != nil {
		c.retired = c.transport
		c.transport = nil
	}
}

func (c *Client) open(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	url, opts := c.url, c.opts
	c.mu.Unlock()

	c.log.Info("connecting", "url", url)
	t, err := c.dial(ctx, url, opts)
	if err != nil {
		c.mu.Lock()
		if c.gen == gen && !c.closing {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		c.metrics.connectFailed()
		c.log.Warn("connect failed", "url", url, "err", err)
		c.errs.emit(err)
		return err
	}

	c.mu.Lock()
	if c.closing || c.gen != gen {
		// Close или новый Connect, пока шёл dial
		if c.gen == gen {
			c.state = StateClosed
		}
		c.mu.Unlock()
		_ = t.Close()
		return ErrClosed
	}
	// очередь сбрасывается под тем же мьютексом, что и Send: ничего,
	// отправленное после open, не обгонит накопленное до него
	c.transport = t
	queued := c.queue
	c.queue = nil
	var flushErrs []error
	for _, o := range queued {
		if werr := t.WriteMessage(TextMessage, o.data); werr != nil {
			c.log.Warn("flush queued envelope", "op", o.op, "err", werr)
			flushErrs = append(flushErrs, fmt.Errorf("flush %s: %w", o.op, werr))
			continue
		}
		c.metrics.sent(o.op)
	}
	c.state = StateOpen
	c.mu.Unlock()
	c.metrics.setQueued(0)
	c.metrics.connected(true)
	// вне мьютекса: подписчики OnError могут сами вызывать Send
	for _, err := range flushErrs {
		c.errs.emit(err)
	}

	c.log.Info("connected", "url", url, "flushed", len(queued))
	c.opened.emit(OpenEvent{URL: url, At: time.Now()})

	go c.readLoop(t)
	return nil
}

// Close закрывает транспорт. Ожидающие вызовы и очередь не сбрасываются,
// после нового Connect очередь уйдёт на мост.
func (c *Client) Close() error {
	c.mu.Lock()
	t := c.transport
	c.closing = true
	c.state = StateClosed
	c.mu.Unlock()

	if t == nil {
		return nil
	}
	return t.Close()
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) IsConnected() bool {
	return c.State() == StateOpen
}

// URL последний адрес, переданный в Connect (после нормализации).
func (c *Client) URL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.url
}

// Send отправляет envelope. До открытия соединения envelope копятся в
// очереди и уходят в порядке поступления сразу после open.
// Ошибка возвращается только если envelope не сериализуется.
func (c *Client) Send(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", env.Op(), err)
	}

	c.mu.Lock()
	if c.state != StateOpen || c.transport == nil {
		c.queue = append(c.queue, outbound{op: env.Op(), data: data})
		n := len(c.queue)
		c.mu.Unlock()
		c.metrics.setQueued(n)
		c.log.Debug("not connected, envelope queued", "op", env.Op(), "queued", n)
		return nil
	}
	werr := c.transport.WriteMessage(TextMessage, data)
	c.mu.Unlock()

	if werr != nil {
		// разрыв между проверкой и записью: readLoop увидит ошибку чтения
		// и сообщит о закрытии
		c.log.Warn("write envelope", "op", env.Op(), "err", werr)
		c.errs.emit(werr)
		return nil
	}
	c.metrics.sent(env.Op())
	return nil
}

// QueuedSends сколько envelope ждут открытия соединения.
func (c *Client) QueuedSends() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// PendingCalls сколько вызовов сервисов ждут ответа.
func (c *Client) PendingCalls() int {
	return c.router.pendingCalls()
}

// ========================= события =========================

// OnOpen подписка на открытие соединения. Возвращает функцию отписки.
func (c *Client) OnOpen(fn func(OpenEvent)) (cancel func()) {
	return c.opened.subscribe(fn, false)
}

func (c *Client) OnClose(fn func(CloseEvent)) (cancel func()) {
	return c.closed.subscribe(fn, false)
}

func (c *Client) OnError(fn func(error)) (cancel func()) {
	return c.errs.subscribe(fn, false)
}

// OnStatus статус-сообщения моста (см. SetStatusLevel).
func (c *Client) OnStatus(fn func(Status)) (cancel func()) {
	return c.statuses.subscribe(fn, false)
}

// ========================= протокол уровня соединения =========================

// SetStatusLevel просит мост слать status-сообщения уровня level и выше.
func (c *Client) SetStatusLevel(level StatusLevel) error {
	return c.Send(SetLevel{Level: level})
}

// Authenticate шлёт auth (rosauth).
func (c *Client) Authenticate(a Auth) error {
	return c.Send(a)
}

// WaitOpen блокируется до открытия соединения или отмены ctx.
func (c *Client) WaitOpen(ctx context.Context) error {
	ch := make(chan struct{})
	cancel := c.opened.subscribe(func(OpenEvent) { close(ch) }, true)
	defer cancel()

	if c.IsConnected() {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
