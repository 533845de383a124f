package conference

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomsync/internal/adapters/media"
	"github.com/dkeye/roomsync/internal/adapters/memsdk"
	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/events"
	"github.com/dkeye/roomsync/internal/util"
)

var trackSeq atomic.Int64

type fakeTrack struct {
	id   string
	kind domain.TrackKind

	mu       sync.Mutex
	sinks    map[string]core.Sink
	stopped  int
	stopHold chan struct{}
	stopping chan struct{}

	interruptL util.Listeners[bool]
}

func newFakeTrack(kind domain.TrackKind) *fakeTrack {
	return &fakeTrack{
		id:    fmt.Sprintf("%s-%d", kind, trackSeq.Add(1)),
		kind:  kind,
		sinks: make(map[string]core.Sink),
	}
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() domain.TrackKind { return t.kind }

func (t *fakeTrack) Attach(s core.Sink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sinks[s.ID()] = s
}

func (t *fakeTrack) Detach(s core.Sink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sinks, s.ID())
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	t.stopped++
	hold, stopping := t.stopHold, t.stopping
	t.mu.Unlock()
	if hold != nil {
		close(stopping)
		<-hold
	}
}

// blockStop makes the next Stop block until release is called. entered is
// closed once Stop is waiting.
func (t *fakeTrack) blockStop() (entered <-chan struct{}, release func()) {
	hold := make(chan struct{})
	stopping := make(chan struct{})
	t.mu.Lock()
	t.stopHold = hold
	t.stopping = stopping
	t.mu.Unlock()
	var once sync.Once
	return stopping, func() { once.Do(func() { close(hold) }) }
}

func (t *fakeTrack) OnInterruption(fn func(bool)) core.Unsubscribe {
	return t.interruptL.Add(fn)
}

func (t *fakeTrack) hasSink(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sinks[id]
	return ok
}

func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped > 0
}

type fakeDevice struct {
	mu        sync.Mutex
	calls     int
	hold      chan struct{}
	failNext  error
	tracks    []*fakeTrack
	flipErr   error
	speaker   bool
	bluetooth bool
}

func (d *fakeDevice) Acquire(ctx context.Context, kind domain.TrackKind) (core.LocalTrack, error) {
	d.mu.Lock()
	d.calls++
	hold := d.hold
	fail := d.failNext
	d.failNext = nil
	d.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	t := newFakeTrack(kind)
	d.mu.Lock()
	d.tracks = append(d.tracks, t)
	d.mu.Unlock()
	return t, nil
}

// holdAcquisitions blocks Acquire until the returned func is called.
func (d *fakeDevice) holdAcquisitions() func() {
	ch := make(chan struct{})
	d.mu.Lock()
	d.hold = ch
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		d.hold = nil
		d.mu.Unlock()
		close(ch)
	}
}

func (d *fakeDevice) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDevice) track(i int) *fakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tracks[i]
}

func (d *fakeDevice) trackCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tracks)
}

func (d *fakeDevice) FlipCamera() error { return d.flipErr }

func (d *fakeDevice) SetSpeakerphone(on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.speaker = on
	return nil
}

func (d *fakeDevice) SetBluetoothHeadset(connected bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.bluetooth = connected
	return nil
}

type fakeSinks struct {
	mu    sync.Mutex
	audio map[domain.ParticipantSID]*media.DiscardSink
}

func (f *fakeSinks) NewAudioSink(p domain.ParticipantSID) (core.Sink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := media.NewDiscardSink("audio-" + string(p))
	f.audio[p] = s
	return s, nil
}

func (f *fakeSinks) NewViewSink(name string, _ domain.TrackKind) (core.Sink, error) {
	return media.NewDiscardSink(name), nil
}

func (f *fakeSinks) audioSink(p domain.ParticipantSID) *media.DiscardSink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audio[p]
}

type recorder struct {
	mu   sync.Mutex
	seen []events.Event
}

func (r *recorder) HandleEvent(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, ev)
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.seen...)
}

func (r *recorder) names() []events.Name {
	var out []events.Name
	for _, ev := range r.all() {
		out = append(out, ev.Name())
	}
	return out
}

func (r *recorder) count(name events.Name) int {
	n := 0
	for _, ev := range r.all() {
		if ev.Name() == name {
			n++
		}
	}
	return n
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = nil
}

type harness struct {
	conf  *Conference
	conn  *memsdk.Connector
	dev   *fakeDevice
	sinks *fakeSinks
	bus   *events.Bus
	hooks *util.Hooks
	rec   *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	bus := events.NewBus(zerolog.Nop())
	t.Cleanup(bus.Close)
	bus.SetListening(true)
	rec := &recorder{}
	bus.Subscribe(rec)

	h := &harness{
		conn:  memsdk.NewConnector(),
		dev:   &fakeDevice{},
		sinks: &fakeSinks{audio: make(map[domain.ParticipantSID]*media.DiscardSink)},
		bus:   bus,
		hooks: &util.Hooks{},
		rec:   rec,
	}
	h.conf = New(Deps{
		Connector: h.conn,
		Device:    h.dev,
		Sinks:     h.sinks,
		Bus:       bus,
		Hooks:     h.hooks,
		Logger:    zerolog.Nop(),
	}, Options{})
	return h
}

func (h *harness) connect(t *testing.T, name domain.RoomName) *memsdk.Room {
	t.Helper()
	require.NoError(t, h.conf.Connect(context.Background(), ConnectRequest{RoomName: name, Token: "token"}))
	room := h.conn.Room(name)
	require.NotNil(t, room)
	return room
}

// events flushes the bus and returns everything recorded so far.
func (h *harness) events() []events.Event {
	h.bus.Flush()
	return h.rec.all()
}

func (h *harness) names() []events.Name {
	h.bus.Flush()
	return h.rec.names()
}

// clear drops everything recorded so far, including events still queued.
func (h *harness) clear() {
	h.bus.Flush()
	h.rec.reset()
}
