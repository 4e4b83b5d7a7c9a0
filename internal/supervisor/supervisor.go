// Package supervisor держит соединение rosbridge живым: переподключается с
// экспоненциальной задержкой после потери связи и заново подписывает топики
// после каждого open. Сам Client ничего из этого не делает.
//
// Пример:
//
//	c := rosbridge.New()
//	s := supervisor.New(c, supervisor.DefaultConfig(), slog.Default())
//	s.Track(rosout)
//	if err := s.Start(ctx, "ws://localhost:9090", rosbridge.TransportWebSocket, rosbridge.TransportOptions{}); err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Stop()
package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/EgorLis/rosbridge/internal/rosbridge"
)

// Config параметры переподключения.
type Config struct {
	Enabled         bool
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration // 0 = без ограничения
	// ReinitInterval схлопывает серию быстрых open в одну переподписку.
	ReinitInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxElapsed:      0,
		ReinitInterval:  2 * time.Second,
	}
}

// Supervisor переподключение и переподписка поверх событий Client.
type Supervisor struct {
	c   *rosbridge.Client
	cfg Config
	log *slog.Logger

	mu      sync.Mutex
	topics  []*rosbridge.Topic
	stopCh  chan struct{}
	cancel  context.CancelFunc
	unsubs  []func()
	kick    chan struct{}
	wg      sync.WaitGroup
	retries int

	// чтобы не переподписываться на каждый open в серии быстрых реконнектов
	reinitMu      sync.Mutex
	lastReinit    time.Time
	reinitPending bool
	seenOpen      bool
}

func New(c *rosbridge.Client, cfg Config, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	return &Supervisor{
		c:    c,
		cfg:  cfg,
		log:  log.With("component", "supervisor"),
		kick: make(chan struct{}, 1),
	}
}

// Track добавляет топик в список переподписки. Топики с
// ReconnectOnClose=false и неподписанные пропускаются.
func (s *Supervisor) Track(t *rosbridge.Topic) {
	s.mu.Lock()
	s.topics = append(s.topics, t)
	s.mu.Unlock()
}

// Start подключает клиента и запускает фоновое переподключение.
func (s *Supervisor) Start(ctx context.Context, url string, kind rosbridge.TransportKind, opts rosbridge.TransportOptions) error {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return errors.New("supervisor: already started")
	}
	s.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.unsubs = []func(){
		s.c.OnOpen(func(rosbridge.OpenEvent) { s.reinit() }),
		s.c.OnClose(s.onClose),
	}
	stopCh := s.stopCh
	s.mu.Unlock()

	s.c.Connect(ctx, url, kind, opts)
	if s.cfg.Enabled {
		// первый Connect асинхронный и может не пройти, цикл его подхватит
		s.trigger()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx, stopCh)
	}()
	return nil
}

// Stop останавливает переподключение. Клиент не закрывается.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	ch := s.stopCh
	s.stopCh = nil
	cancel := s.cancel
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	if ch == nil {
		return
	}
	for _, u := range unsubs {
		u()
	}
	close(ch)
	cancel()
	s.wg.Wait()
}

// Retries сколько неудачных попыток подключения было с момента Start.
func (s *Supervisor) Retries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

func (s *Supervisor) onClose(ev rosbridge.CloseEvent) {
	if !s.cfg.Enabled {
		return
	}
	// закрыл сам пользователь
	if s.c.State() == rosbridge.StateClosed {
		s.log.Info("client closed, not reconnecting", "code", ev.Code)
		return
	}
	s.log.Info("connection lost, scheduling reconnect", "code", ev.Code, "reason", ev.Reason)
	s.trigger()
}

func (s *Supervisor) trigger() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Supervisor) loop(ctx context.Context, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case <-s.kick:
		}
		if err := s.reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Error("reconnect gave up", "err", err)
		}
	}
}

func (s *Supervisor) reconnect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialInterval
	b.MaxInterval = s.cfg.MaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if s.c.State() == rosbridge.StateClosed {
			return struct{}{}, backoff.Permanent(rosbridge.ErrClosed)
		}
		err := s.c.Reconnect(ctx)
		if errors.Is(err, rosbridge.ErrUnsupportedTransport) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(s.cfg.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.mu.Lock()
			s.retries++
			s.mu.Unlock()
			s.log.Warn("reconnect failed", "err", err, "next", next)
		}),
	)
	if errors.Is(err, rosbridge.ErrClosed) {
		return nil
	}
	return err
}

// reinit переподписывает отслеживаемые топики. Повторный open раньше
// ReinitInterval откладывается до конца интервала, а не теряется.
func (s *Supervisor) reinit() {
	s.reinitMu.Lock()
	if !s.seenOpen {
		// подписки, сделанные до первого open, уже ушли из очереди клиента
		s.seenOpen = true
		s.lastReinit = time.Now()
		s.reinitMu.Unlock()
		return
	}
	since := time.Since(s.lastReinit)
	if s.cfg.ReinitInterval > 0 && !s.lastReinit.IsZero() && since < s.cfg.ReinitInterval {
		if !s.reinitPending {
			s.reinitPending = true
			time.AfterFunc(s.cfg.ReinitInterval-since, func() {
				s.reinitMu.Lock()
				s.reinitPending = false
				s.reinitMu.Unlock()
				s.reinit()
			})
		}
		s.reinitMu.Unlock()
		return
	}
	s.lastReinit = time.Now()
	s.reinitMu.Unlock()

	s.mu.Lock()
	topics := make([]*rosbridge.Topic, len(s.topics))
	copy(topics, s.topics)
	s.mu.Unlock()

	n := 0
	for _, t := range topics {
		if !t.ReconnectOnClose() || !t.IsSubscribed() {
			continue
		}
		if err := t.Resubscribe(); err != nil {
			s.log.Warn("resubscribe", "topic", t.Name(), "err", err)
			continue
		}
		n++
	}
	s.log.Info("topics resubscribed", "count", n)
}
