package rosbridge

import (
	"sync"
	"time"
)

// OpenEvent соединение установлено.
type OpenEvent struct {
	URL string
	At  time.Time
}

// CloseEvent транспорт закрыт.
type CloseEvent struct {
	Code     int
	Reason   string
	WasClean bool
}

// broadcaster рассылает событие всем подписчикам в порядке подписки.
// Обработчики вызываются синхронно в горутине, которая породила событие.
type broadcaster[T any] struct {
	mu        sync.Mutex
	next      uint64
	listeners []listener[T]
}

type listener[T any] struct {
	id   uint64
	fn   func(T)
	once bool
}

func (b *broadcaster[T]) subscribe(fn func(T), once bool) (cancel func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.listeners = append(b.listeners, listener[T]{id: id, fn: fn, once: once})
	b.mu.Unlock()
	return func() { b.remove(id) }
}

func (b *broadcaster[T]) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, l := range b.listeners {
		if l.id == id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return
		}
	}
}

func (b *broadcaster[T]) emit(v T) {
	b.mu.Lock()
	snapshot := make([]listener[T], len(b.listeners))
	copy(snapshot, b.listeners)
	kept := b.listeners[:0:0]
	for _, l := range b.listeners {
		if !l.once {
			kept = append(kept, l)
		}
	}
	b.listeners = kept
	b.mu.Unlock()

	for _, l := range snapshot {
		l.fn(v)
	}
}
