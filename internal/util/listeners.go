package util

import (
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
)

type listenerEntry[T any] struct {
	id int
	fn func(T)
}

// Listeners is an ordered callback registry. Add returns a func that removes
// the callback again; Notify calls a snapshot so callbacks may add or remove
// listeners while being notified.
type Listeners[T any] struct {
	mu      sync.Mutex
	nextID  int
	entries []listenerEntry[T]
}

func (l *Listeners[T]) Add(fn func(T)) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, listenerEntry[T]{id: id, fn: fn})
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *Listeners[T]) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.id == id {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

func (l *Listeners[T]) Notify(v T) {
	l.mu.Lock()
	snapshot := make([]func(T), 0, len(l.entries))
	for _, e := range l.entries {
		snapshot = append(snapshot, e.fn)
	}
	l.mu.Unlock()

	for _, fn := range snapshot {
		if r := panics.Try(func() { fn(v) }); r != nil {
			log.Error().Str("module", "util.listeners").Str("panic", r.String()).Msg("listener panicked")
		}
	}
}

func (l *Listeners[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Listeners[T]) Clear() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}
