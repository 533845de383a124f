// Package memsdk is an in-process conferencing SDK. Rooms live in memory and
// remote participants are scripted by the caller, or played by an echo
// participant that sends the local media back.
package memsdk

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrRoomClosed   = errors.New("room closed")
)

type Option func(*Connector)

// WithEcho adds an echo participant to every room. It republishes each local
// track and answers data messages.
func WithEcho() Option {
	return func(c *Connector) { c.echo = true }
}

type Connector struct {
	mu       sync.Mutex
	echo     bool
	prepare  map[domain.RoomName]func(*Room)
	rooms    map[domain.RoomName]*Room
	failure  error
	gate     chan struct{}
	connects int
}

var _ core.Connector = (*Connector)(nil)

func NewConnector(opts ...Option) *Connector {
	c := &Connector{
		prepare: make(map[domain.RoomName]func(*Room)),
		rooms:   make(map[domain.RoomName]*Room),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Prepare runs fn on every new room with that name before Connect returns.
func (c *Connector) Prepare(name domain.RoomName, fn func(*Room)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prepare[name] = fn
}

// FailNext makes the next Connect fail with err.
func (c *Connector) FailNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure = err
}

// Hold makes Connect block until the returned func is called.
func (c *Connector) Hold() (release func()) {
	gate := make(chan struct{})
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			if c.gate == gate {
				c.gate = nil
			}
			c.mu.Unlock()
			close(gate)
		})
	}
}

func (c *Connector) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

// Room returns the most recent room created for name.
func (c *Connector) Room(name domain.RoomName) *Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[name]
}

func (c *Connector) Connect(ctx context.Context, token string, opts core.ConnectOptions) (core.Room, error) {
	c.mu.Lock()
	c.connects++
	gate := c.gate
	failure := c.failure
	c.failure = nil
	prep := c.prepare[opts.Name]
	c.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if token == "" {
		return nil, ErrInvalidToken
	}
	if failure != nil {
		return nil, failure
	}

	room := newRoom(opts.Name, c.echo)
	if prep != nil {
		prep(room)
	}
	for _, t := range opts.Tracks {
		if t == nil {
			continue
		}
		if _, err := room.local.PublishTrack(ctx, t); err != nil {
			return nil, err
		}
	}

	c.mu.Lock()
	c.rooms[opts.Name] = room
	c.mu.Unlock()
	return room, nil
}

func newSID(prefix string) string {
	return prefix + uuid.NewString()[:8]
}
