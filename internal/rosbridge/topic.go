package rosbridge

import (
	"encoding/json"
	"sync"
)

// TopicOptions параметры топика. Нулевые значения заменяются значениями
// по умолчанию (см. NewTopic).
type TopicOptions struct {
	Name         string
	MessageType  string
	Compression  Compression
	ThrottleRate int
	Latch        bool
	QueueSize    int // 0 = DefaultQueueSize, отрицательное = 0
	QueueLength  int
	// FragmentSize уходит на мост как есть. Кадры fragment и png клиент не
	// собирает, они пропускаются с debug-записью в лог.
	FragmentSize int

	// ReconnectOnClose просит supervisor переподписать топик после
	// переподключения. Nil = true.
	ReconnectOnClose *bool
}

// Topic подписка и публикация в один топик. Подписка и объявление
// независимы: топик может быть одновременно подписан и объявлен.
type Topic struct {
	c    *Client
	opts TopicOptions

	mu         sync.Mutex
	callback   func(json.RawMessage)
	listenerID uint64
	subID      string
	advID      string
	advertised bool
}

// NewTopic создаёт handle топика на клиенте.
func NewTopic(c *Client, opts TopicOptions) *Topic {
	if opts.Compression == "" {
		opts.Compression = CompressionNone
	}
	if opts.ThrottleRate < 0 {
		opts.ThrottleRate = 0
	}
	if opts.QueueLength < 0 {
		opts.QueueLength = 0
	}
	opts.QueueSize = queueSize(opts.QueueSize)
	if opts.ReconnectOnClose == nil {
		v := true
		opts.ReconnectOnClose = &v
	}
	return &Topic{c: c, opts: opts}
}

func queueSize(n int) int {
	switch {
	case n == 0:
		return DefaultQueueSize
	case n < 0:
		return 0
	default:
		return n
	}
}

func (t *Topic) Name() string { return t.opts.Name }

func (t *Topic) Options() TopicOptions { return t.opts }

func (t *Topic) ReconnectOnClose() bool { return *t.opts.ReconnectOnClose }

func (t *Topic) subscribeEnvelope() Subscribe {
	return Subscribe{
		ID:           t.c.ids.Next(OpSubscribe, t.opts.Name),
		Topic:        t.opts.Name,
		Type:         t.opts.MessageType,
		ThrottleRate: t.opts.ThrottleRate,
		QueueLength:  t.opts.QueueLength,
		FragmentSize: t.opts.FragmentSize,
		Compression:  t.opts.Compression,
	}
}

// Subscribe подписывается на топик. Повторный вызов заменяет колбэк и
// шлёт ещё один subscribe: дубль подписки на стороне моста допустим.
func (t *Topic) Subscribe(cb func(msg json.RawMessage)) error {
	if cb == nil {
		cb = func(json.RawMessage) {}
	}
	env := t.subscribeEnvelope()

	t.mu.Lock()
	t.callback = cb
	t.listenerID = t.c.router.addListener(t.opts.Name, t.listenerID, cb)
	t.subID = env.ID
	t.mu.Unlock()

	return t.c.Send(env)
}

// Resubscribe повторяет subscribe с текущим колбэком, если он есть.
// Нужен после переподключения: мост новой сессии о подписке не знает.
func (t *Topic) Resubscribe() error {
	t.mu.Lock()
	cb := t.callback
	t.mu.Unlock()
	if cb == nil {
		return nil
	}
	return t.Subscribe(cb)
}

// IsSubscribed есть ли активный колбэк.
func (t *Topic) IsSubscribed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.callback != nil
}

// Unsubscribe снимает колбэк и шлёт unsubscribe с id подписки.
// Без предыдущего Subscribe ничего не делает.
func (t *Topic) Unsubscribe() error {
	t.mu.Lock()
	id := t.subID
	if t.listenerID != 0 {
		t.c.router.removeListener(t.opts.Name, t.listenerID)
		t.listenerID = 0
	}
	t.callback = nil
	t.mu.Unlock()

	if id == "" {
		return nil
	}
	return t.c.Send(Unsubscribe{ID: id, Topic: t.opts.Name})
}

// Advertise объявляет топик на мосту.
func (t *Topic) Advertise() error {
	env := Advertise{
		ID:        t.c.ids.Next(OpAdvertise, t.opts.Name),
		Topic:     t.opts.Name,
		Type:      t.opts.MessageType,
		Latch:     t.opts.Latch,
		QueueSize: t.opts.QueueSize,
	}

	t.mu.Lock()
	t.advID = env.ID
	t.advertised = true
	t.mu.Unlock()

	return t.c.Send(env)
}

// IsAdvertised объявлен ли топик.
func (t *Topic) IsAdvertised() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.advertised
}

// Publish публикует сообщение. Предварительный Advertise не обязателен,
// форма сообщения не проверяется.
func (t *Topic) Publish(msg any) error {
	raw, err := marshalPayload(msg)
	if err != nil {
		return err
	}
	return t.c.Send(Publish{
		ID:        t.c.ids.Next(OpPublish, t.opts.Name),
		Topic:     t.opts.Name,
		Msg:       raw,
		Latch:     t.opts.Latch,
		QueueSize: t.opts.QueueSize,
	})
}

// Unadvertise снимает объявление. Если топик не объявлен, ничего не шлёт.
func (t *Topic) Unadvertise() error {
	t.mu.Lock()
	if !t.advertised {
		t.mu.Unlock()
		return nil
	}
	id := t.advID
	t.advertised = false
	t.mu.Unlock()

	return t.c.Send(Unadvertise{ID: id, Topic: t.opts.Name})
}
