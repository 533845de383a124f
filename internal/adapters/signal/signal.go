// Package signal bridges UI clients to the conference over WebSocket. Each
// client sends commands and receives every event of the session.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomsync/internal/app/conference"
	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/events"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// TokenSource mints an access token when a connect command carries none.
type TokenSource interface {
	Generate(room domain.RoomName, identity string) (string, error)
}

type Options struct {
	SendBuffer        int
	ReadLimit         int64
	PingPeriod        time.Duration
	ConnectRateLimit  int
	ConnectRateWindow time.Duration
	// Identity prefixes the participant identity of minted tokens.
	Identity string
	// Policy handles a full send queue. Nil drops frames.
	Policy Policy
}

// Bridge owns the UI clients of one conference. The conference listens for
// room events while at least one client is open.
type Bridge struct {
	conf    *conference.Conference
	sinks   core.SinkFactory
	tokens  TokenSource
	limiter *ConnectRateLimiter
	opts    Options

	mu      sync.Mutex
	clients map[string]*client
}

func NewBridge(conf *conference.Conference, sinks core.SinkFactory, tokens TokenSource, opts Options) *Bridge {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.Policy == nil {
		opts.Policy = DropPolicy{}
	}
	return &Bridge{
		conf:    conf,
		sinks:   sinks,
		tokens:  tokens,
		limiter: NewConnectRateLimiter(opts.ConnectRateLimit, opts.ConnectRateWindow),
		opts:    opts,
		clients: make(map[string]*client),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// client is one UI component instance.
type client struct {
	id     string
	conn   *WsSignalConn
	ctx    context.Context
	cancel context.CancelFunc
	sub    *events.Subscription

	mu      sync.Mutex
	views   map[string]*viewBinding
	dropped int
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (b *Bridge) HandleSignal(ctx context.Context, c *gin.Context) {
	id := c.GetString("client_token")
	log.Info().Str("module", "signal").Str("sid", id).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if b.opts.ReadLimit > 0 {
		ws.SetReadLimit(b.opts.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, b.opts.SendBuffer),
	}
	ctx, cancel := context.WithCancel(ctx)
	cl := &client{
		id:     id,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		views:  make(map[string]*viewBinding),
	}
	b.register(cl)

	go b.writePump(ctx, conn)
	go b.readPump(ctx, cl)
}

// register starts forwarding events to cl. A client reusing the token of an
// open one replaces it.
func (b *Bridge) register(cl *client) {
	cl.sub = b.conf.Bus().Subscribe(events.ListenerFunc(func(ev events.Event) {
		b.deliver(cl, eventFrame{Type: "event", Event: ev.Name(), Data: ev})
	}))

	b.mu.Lock()
	old := b.clients[cl.id]
	b.clients[cl.id] = cl
	n := len(b.clients)
	b.mu.Unlock()

	if old != nil {
		log.Info().Str("module", "signal").Str("sid", cl.id).Msg("replacing previous connection")
		b.release(old)
	}
	if n == 1 {
		b.conf.SetListening(true)
	}
	log.Info().Str("module", "signal").Str("sid", cl.id).Int("clients", n).Msg("client registered")
}

// unregister drops cl and turns listening off after the last client.
func (b *Bridge) unregister(cl *client) {
	b.mu.Lock()
	current, ok := b.clients[cl.id]
	if ok && current == cl {
		delete(b.clients, cl.id)
	}
	n := len(b.clients)
	b.mu.Unlock()

	b.release(cl)
	if ok && current == cl && n == 0 {
		b.conf.SetListening(false)
	}
	log.Info().Str("module", "signal").Str("sid", cl.id).Int("clients", n).Msg("client unregistered")
}

func (b *Bridge) release(cl *client) {
	cl.sub.Unsubscribe()
	cl.cancel()
	b.releaseViews(cl)
	cl.conn.Close()
}

func (b *Bridge) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *Bridge) Close() {
	b.mu.Lock()
	clients := make([]*client, 0, len(b.clients))
	for _, cl := range b.clients {
		clients = append(clients, cl)
	}
	b.mu.Unlock()
	for _, cl := range clients {
		b.unregister(cl)
	}
}
