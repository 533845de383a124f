// Package conference keeps one conferencing session in sync with the wrapped SDK:
// the room lifecycle, local capture, the mirror of remote participants and
// their tracks, and remote audio playback. Every change is reported on the
// event bus.
package conference

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/events"
)

const DefaultAcquireTimeout = 10 * time.Second

type Deps struct {
	Connector core.Connector
	Device    core.CaptureDevice
	Sinks     core.SinkFactory
	Bus       *events.Bus
	// Hooks is optional. When set, a live room is disconnected on process teardown.
	Hooks  core.TeardownHooks
	Logger zerolog.Logger
}

type Options struct {
	AcquireTimeout time.Duration
}

// localMedia is the capture state of one kind. gen changes on every stop so
// acquisitions that finish late can tell they are stale.
type localMedia struct {
	kind       domain.TrackKind
	state      domain.AcquisitionState
	track      core.LocalTrack
	gen        uint64
	publishing bool
	release    []core.Unsubscribe
}

// Conference is the session context. All state lives behind mu; SDK calls that
// may block or call back are made without holding it.
type Conference struct {
	logger    zerolog.Logger
	connector core.Connector
	device    core.CaptureDevice
	bus       *events.Bus
	hooks     core.TeardownHooks
	opts      Options

	acquire singleflight.Group

	mu          sync.Mutex
	state       domain.ConnectionState
	roomName    domain.RoomName
	room        core.Room
	roomGen     uint64
	roomRelease []core.Unsubscribe
	video       *localMedia
	audio       *localMedia
	mirror      *mirror
	audioOut    *audioRouter
	views       *viewRegistry
}

func New(deps Deps, opts Options) *Conference {
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = DefaultAcquireTimeout
	}
	logger := deps.Logger.With().Str("module", "app.conference").Logger()
	return &Conference{
		logger:    logger,
		connector: deps.Connector,
		device:    deps.Device,
		bus:       deps.Bus,
		hooks:     deps.Hooks,
		opts:      opts,
		video:     &localMedia{kind: domain.TrackKindVideo},
		audio:     &localMedia{kind: domain.TrackKindAudio},
		audioOut:  newAudioRouter(deps.Sinks, logger),
		views:     newViewRegistry(),
	}
}

func (c *Conference) Bus() *events.Bus {
	return c.bus
}

// SetListening gates room-scoped events without touching the session.
func (c *Conference) SetListening(listening bool) {
	c.bus.SetListening(listening)
}

// Close disconnects and releases local capture.
func (c *Conference) Close() {
	c.Disconnect()
	c.StopLocalVideo()
	c.StopLocalAudio()
}

func (c *Conference) media(kind domain.TrackKind) *localMedia {
	if kind == domain.TrackKindVideo {
		return c.video
	}
	return c.audio
}

func release(fns []core.Unsubscribe) {
	for _, fn := range fns {
		if fn != nil {
			fn()
		}
	}
}

func closeSinks(logger zerolog.Logger, sinks []core.Sink) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			logger.Warn().Err(err).Str("sink", s.ID()).Msg("close sink")
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
