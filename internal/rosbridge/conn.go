package rosbridge

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// TransportKind тип транспорта. Реально поддерживается только websocket,
// остальные принимаются конфигом, но ничего не делают.
type TransportKind string

const (
	TransportWebSocket    TransportKind = "websocket"
	TransportSocketIO     TransportKind = "socket.io"
	TransportRTC          TransportKind = "RTCPeerConnection"
	TransportWorkerSocket TransportKind = "workerSocket"
)

// Типы кадров, совпадают с gorilla/websocket.
const (
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
)

const (
	writeTimeout            = 5 * time.Second
	defaultHandshakeTimeout = 45 * time.Second
	defaultReadLimit        = 64 << 20
)

// TransportOptions параметры транспорта.
type TransportOptions struct {
	Header            http.Header
	HandshakeTimeout  time.Duration
	PingInterval      time.Duration // 0 = без ping
	ReadLimit         int64
	EnableCompression bool
}

// Transport дуплексный канал сообщений. *websocket.Conn подходит почти
// напрямую, в тестах подставляется in-memory реализация.
type Transport interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer открывает транспорт по адресу.
type Dialer func(ctx context.Context, url string, opts TransportOptions) (Transport, error)

var httpScheme = regexp.MustCompile(`^http(s)?://`)

// NormalizeURL переводит http(s):// в ws(s)://.
func NormalizeURL(url string) string {
	return httpScheme.ReplaceAllString(url, "ws${1}://")
}

// DialWebSocket Dialer по умолчанию на gorilla/websocket.
func DialWebSocket(ctx context.Context, url string, opts TransportOptions) (Transport, error) {
	d := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  opts.HandshakeTimeout,
		EnableCompression: opts.EnableCompression,
	}
	if d.HandshakeTimeout <= 0 {
		d.HandshakeTimeout = defaultHandshakeTimeout
	}

	conn, _, err := d.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, err
	}

	limit := opts.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	conn.SetReadLimit(limit)

	t := &wsTransport{conn: conn}
	if opts.PingInterval > 0 {
		t.startPing(opts.PingInterval)
	}
	return t, nil
}

type wsTransport struct {
	conn      *websocket.Conn
	wmu       sync.Mutex
	pingStop  chan struct{}
	closeOnce sync.Once
}

func (t *wsTransport) ReadMessage() (int, []byte, error) {
	return t.conn.ReadMessage()
}

// запись строго через один мьютекс + write-deadline
func (t *wsTransport) WriteMessage(messageType int, data []byte) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return t.conn.WriteMessage(messageType, data)
}

// Close шлёт close-кадр и закрывает сокет. Повторный вызов ничего не делает.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		if t.pingStop != nil {
			close(t.pingStop)
		}
		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
			time.Now().Add(500*time.Millisecond))
		err = t.conn.Close()
	})
	return err
}

// ping раз в interval, соединение считается мёртвым без pong за 3 интервала
func (t *wsTransport) startPing(interval time.Duration) {
	deadline := 3 * interval
	_ = t.conn.SetReadDeadline(time.Now().Add(deadline))
	t.conn.SetPongHandler(func(string) error {
		return t.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	t.pingStop = make(chan struct{})
	stop := t.pingStop
	go func() {
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				if err := t.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout)); err != nil {
					return
				}
			}
		}
	}()
}

// closeEventFromError собирает CloseEvent из ошибки чтения.
func closeEventFromError(err error) (CloseEvent, bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return CloseEvent{
			Code:     ce.Code,
			Reason:   ce.Text,
			WasClean: ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway,
		}, true
	}
	return CloseEvent{Code: websocket.CloseAbnormalClosure, Reason: errString(err)}, false
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
