package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
)

type DeviceOptions struct {
	// Cameras lists the selectable cameras. Flipping needs at least two.
	Cameras    []string
	VideoFPS   int
	StartDelay time.Duration
}

// Device is a capture device backed by synthetic tracks.
type Device struct {
	opts DeviceOptions

	mu        sync.Mutex
	camera    int
	speaker   bool
	bluetooth bool
	acquired  int
	live      []*SyntheticTrack
}

var _ core.CaptureDevice = (*Device)(nil)

func NewDevice(opts DeviceOptions) *Device {
	if opts.VideoFPS <= 0 {
		opts.VideoFPS = 30
	}
	return &Device{opts: opts}
}

func (d *Device) Acquire(ctx context.Context, kind domain.TrackKind) (core.LocalTrack, error) {
	if kind != domain.TrackKindVideo && kind != domain.TrackKindAudio {
		return nil, fmt.Errorf("cannot capture %s", kind)
	}
	if d.opts.StartDelay > 0 {
		select {
		case <-time.After(d.opts.StartDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	interval := time.Second / time.Duration(d.opts.VideoFPS)
	if kind == domain.TrackKindAudio {
		interval = 20 * time.Millisecond
	}
	t := newSyntheticTrack(kind, interval)

	d.mu.Lock()
	d.acquired++
	live := d.live[:0]
	for _, old := range d.live {
		if !old.Stopped() {
			live = append(live, old)
		}
	}
	d.live = append(live, t)
	d.mu.Unlock()

	log.Info().Str("module", "media.device").Str("kind", string(kind)).Str("track", t.ID()).Msg("capture started")
	return t, nil
}

func (d *Device) Acquired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acquired
}

func (d *Device) FlipCamera() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.opts.Cameras) < 2 {
		return core.ErrFlipUnsupported
	}
	d.camera = (d.camera + 1) % len(d.opts.Cameras)
	log.Info().Str("module", "media.device").Str("camera", d.opts.Cameras[d.camera]).Msg("camera flipped")
	return nil
}

func (d *Device) Camera() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.opts.Cameras) == 0 {
		return ""
	}
	return d.opts.Cameras[d.camera]
}

func (d *Device) SetSpeakerphone(on bool) error {
	d.mu.Lock()
	d.speaker = on
	d.mu.Unlock()
	log.Info().Str("module", "media.device").Bool("speaker", on).Msg("sound setup changed")
	return nil
}

func (d *Device) SetBluetoothHeadset(connected bool) error {
	d.mu.Lock()
	d.bluetooth = connected
	d.mu.Unlock()
	log.Info().Str("module", "media.device").Bool("bluetooth", connected).Msg("headset state changed")
	return nil
}

// Interrupt reports an interruption (or its end) on every live video track.
func (d *Device) Interrupt(interrupted bool) {
	d.mu.Lock()
	live := append([]*SyntheticTrack(nil), d.live...)
	d.mu.Unlock()
	for _, t := range live {
		if t.Kind() == domain.TrackKindVideo && !t.Stopped() {
			t.interrupt(interrupted)
		}
	}
}
