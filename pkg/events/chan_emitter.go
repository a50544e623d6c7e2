package events

import (
	"context"
	"sync"
)

// ChanEmitter — реализация Emitter через ограниченный канал.
//
// Когда буфер заполнен, Emit блокируется до чтения подписчиком или отмены ctx.
// Это и есть backpressure между графом и потребителем.
type ChanEmitter struct {
	mu     sync.RWMutex
	ch     chan Event
	closed bool
}

// NewChanEmitter создаёт новый ChanEmitter с буферизованным каналом.
//
// buffer = 0 делает канал небуферизованным (blocking).
func NewChanEmitter(buffer int) *ChanEmitter {
	if buffer < 0 {
		buffer = 0
	}
	return &ChanEmitter{
		ch: make(chan Event, buffer),
	}
}

// Emit отправляет событие в канал.
//
// После Close события молча отбрасываются.
func (e *ChanEmitter) Emit(ctx context.Context, event Event) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.ch <- event:
	case <-ctx.Done():
	}
}

// Events возвращает read-only канал событий.
func (e *ChanEmitter) Events() <-chan Event {
	return e.ch
}

// Close закрывает канал. Повторный вызов безопасен.
func (e *ChanEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}

var (
	_ Emitter    = (*ChanEmitter)(nil)
	_ Subscriber = (*ChanEmitter)(nil)
)
