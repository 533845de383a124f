package media

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomsync/internal/app/sfu"
	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/util"
)

const (
	VideoPayloadType = 96
	AudioPayloadType = 111

	videoClockRate = 90000
	audioClockRate = 48000
)

var (
	// One VP8 keyframe per packet: payload descriptor with S set, then a keyframe header.
	vp8Frame = []byte{0x10, 0x00, 0x9d, 0x01, 0x2a, 0x10, 0x00, 0x10, 0x00}
	// Opus TOC for a 20ms silent frame.
	opusSilence = []byte{0xf8, 0xff, 0xfe}
)

// SyntheticTrack produces a test pattern at a fixed packet rate.
type SyntheticTrack struct {
	id       string
	kind     domain.TrackKind
	relay    *sfu.Relay
	logger   zerolog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	interruptL util.Listeners[bool]
}

var _ core.LocalTrack = (*SyntheticTrack)(nil)

func newSyntheticTrack(kind domain.TrackKind, interval time.Duration) *SyntheticTrack {
	ctx, cancel := context.WithCancel(context.Background())
	t := &SyntheticTrack{
		id:     uuid.NewString(),
		kind:   kind,
		relay:  sfu.NewRelay(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.logger = log.With().Str("module", "media.synthetic").Str("kind", string(kind)).Str("track", t.id).Logger()
	go t.loop(ctx, interval)
	return t
}

func (t *SyntheticTrack) loop(ctx context.Context, interval time.Duration) {
	defer close(t.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pt, payload, clock := uint8(VideoPayloadType), vp8Frame, uint32(videoClockRate)
	if t.kind == domain.TrackKindAudio {
		pt, payload, clock = AudioPayloadType, opusSilence, audioClockRate
	}
	step := uint32(interval.Seconds() * float64(clock))
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			PayloadType: pt,
			SSRC:        uuid.New().ID(),
			Marker:      true,
		},
		Payload: payload,
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.relay.Forward(pkt.Clone(), &t.logger)
			pkt.SequenceNumber++
			pkt.Timestamp += step
		}
	}
}

func (t *SyntheticTrack) ID() string { return t.id }

func (t *SyntheticTrack) Kind() domain.TrackKind { return t.kind }

func (t *SyntheticTrack) Attach(s core.Sink) { t.relay.AddSink(s) }

func (t *SyntheticTrack) Detach(s core.Sink) { t.relay.RemoveSink(s) }

func (t *SyntheticTrack) Stop() {
	t.stopOnce.Do(func() {
		t.cancel()
		<-t.done
		t.relay.Close()
		t.logger.Debug().Msg("synthetic track stopped")
	})
}

func (t *SyntheticTrack) Stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

func (t *SyntheticTrack) OnInterruption(fn func(bool)) core.Unsubscribe {
	return t.interruptL.Add(fn)
}

func (t *SyntheticTrack) interrupt(interrupted bool) {
	t.interruptL.Notify(interrupted)
}
