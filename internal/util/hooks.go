package util

import "github.com/dkeye/roomsync/internal/core"

// Hooks collects teardown funcs and runs them all on Fire.
type Hooks struct {
	l Listeners[struct{}]
}

var _ core.TeardownHooks = (*Hooks)(nil)

func (h *Hooks) Register(fn func()) core.Unsubscribe {
	return h.l.Add(func(struct{}) { fn() })
}

// Fire runs every registered hook once and forgets them.
func (h *Hooks) Fire() {
	h.l.Notify(struct{}{})
	h.l.Clear()
}

func (h *Hooks) Len() int {
	return h.l.Len()
}
