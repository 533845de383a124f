package events

import (
	"sync"

	"github.com/dkeye/roomsync/internal/util"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

type Listener interface {
	HandleEvent(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) HandleEvent(ev Event) { f(ev) }

// Subscription is returned by Subscribe. Unsubscribe is idempotent.
type Subscription struct {
	remove func()
}

func (s *Subscription) Unsubscribe() {
	if s != nil && s.remove != nil {
		s.remove()
	}
}

type barrier struct {
	done chan struct{}
}

func (barrier) Name() Name { return "" }

// Bus delivers events to listeners in publish order on a single dispatcher
// goroutine. Publish never blocks. Room-scoped events published while the bus
// is not listening are dropped.
type Bus struct {
	logger    zerolog.Logger
	listeners util.Listeners[Event]

	mu        sync.Mutex
	listening bool
	closed    bool
	queue     []Event

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        conc.WaitGroup
}

// NewBus starts the dispatcher. The bus starts with listening off.
func NewBus(logger zerolog.Logger) *Bus {
	b := &Bus{
		logger: logger.With().Str("module", "events.bus").Logger(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	b.wg.Go(b.loop)
	return b
}

func (b *Bus) SetListening(listening bool) {
	b.mu.Lock()
	b.listening = listening
	b.mu.Unlock()
	b.logger.Debug().Bool("listening", listening).Msg("listener status changed")
}

func (b *Bus) Listening() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listening
}

func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if !b.listening && RoomScoped(ev) {
		b.mu.Unlock()
		b.logger.Debug().Str("event", string(ev.Name())).Msg("not listening, event dropped")
		return
	}
	b.queue = append(b.queue, ev)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bus) Subscribe(l Listener) *Subscription {
	return &Subscription{remove: b.listeners.Add(l.HandleEvent)}
}

// On subscribes fn to a single event name.
func (b *Bus) On(name Name, fn func(Event)) *Subscription {
	return b.Subscribe(ListenerFunc(func(ev Event) {
		if ev.Name() == name {
			fn(ev)
		}
	}))
}

// UnsubscribeAll detaches every listener. Outstanding subscriptions become no-ops.
func (b *Bus) UnsubscribeAll() {
	b.listeners.Clear()
}

func (b *Bus) ListenerCount() int {
	return b.listeners.Len()
}

// Flush blocks until every event published before the call has been delivered.
// It must not be called from a listener.
func (b *Bus) Flush() {
	bar := barrier{done: make(chan struct{})}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.queue = append(b.queue, bar)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	select {
	case <-bar.done:
	case <-b.done:
	}
}

// Close delivers what is queued and stops the dispatcher.
// It must not be called from a listener.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()
		close(b.done)
		b.wg.Wait()
		b.logger.Debug().Msg("bus closed")
	})
}

func (b *Bus) loop() {
	for {
		select {
		case <-b.wake:
			b.drain()
		case <-b.done:
			b.drain()
			return
		}
	}
}

func (b *Bus) drain() {
	for {
		b.mu.Lock()
		batch := b.queue
		b.queue = nil
		b.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			if bar, ok := ev.(barrier); ok {
				close(bar.done)
				continue
			}
			b.listeners.Notify(ev)
		}
	}
}
