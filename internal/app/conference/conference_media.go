package conference

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/events"
)

func (c *Conference) StartLocalVideo(ctx context.Context) error {
	return c.start(ctx, domain.TrackKindVideo)
}

func (c *Conference) StartLocalAudio(ctx context.Context) error {
	return c.start(ctx, domain.TrackKindAudio)
}

// start acquires a track of the given kind unless one exists. Concurrent
// callers share one acquisition.
func (c *Conference) start(ctx context.Context, kind domain.TrackKind) error {
	c.mu.Lock()
	m := c.media(kind)
	if m.track != nil {
		c.mu.Unlock()
		return nil
	}
	m.state = domain.Acquiring
	gen := m.gen
	c.mu.Unlock()

	key := fmt.Sprintf("%s/%d", kind, gen)
	ch := c.acquire.DoChan(key, func() (any, error) {
		return nil, c.acquireTrack(ctx, kind, gen)
	})
	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug().Str("kind", string(kind)).Msg("joined in-flight acquisition")
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Conference) acquireTrack(ctx context.Context, kind domain.TrackKind, gen uint64) error {
	c.mu.Lock()
	m := c.media(kind)
	done := m.gen != gen || m.track != nil
	c.mu.Unlock()
	if done {
		return nil
	}

	acquireCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.AcquireTimeout)
	defer cancel()

	c.logger.Info().Str("kind", string(kind)).Msg("acquiring local track")
	track, err := c.device.Acquire(acquireCtx, kind)

	c.mu.Lock()
	if err != nil {
		if m.gen == gen && m.track == nil {
			m.state = domain.AcquisitionIdle
		}
		c.mu.Unlock()
		c.logger.Warn().Err(err).Str("kind", string(kind)).Msg("acquisition failed")
		return fmt.Errorf("%w: %s: %w", ErrAcquireFailed, kind, err)
	}
	if m.gen != gen || m.track != nil {
		c.mu.Unlock()
		c.logger.Debug().Str("kind", string(kind)).Msg("stale acquisition, stopping track")
		track.Stop()
		return nil
	}
	m.track = track
	m.state = domain.AcquisitionActive
	if kind == domain.TrackKindVideo {
		m.release = append(m.release, track.OnInterruption(func(interrupted bool) {
			c.onCameraInterruption(gen, interrupted)
		}))
		c.views.attachLocalLocked(track)
		c.bus.Publish(events.CameraDidStart{})
	}
	c.mu.Unlock()

	c.logger.Info().Str("kind", string(kind)).Str("track", track.ID()).Msg("local track started")
	return nil
}

func (c *Conference) onCameraInterruption(gen uint64, interrupted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.video.gen != gen || c.video.track == nil {
		return
	}
	if interrupted {
		c.bus.Publish(events.CameraWasInterrupted{})
	} else {
		c.bus.Publish(events.CameraInterruptionEnded{})
	}
}

func (c *Conference) StopLocalVideo() {
	c.stop(domain.TrackKindVideo)
}

func (c *Conference) StopLocalAudio() {
	c.stop(domain.TrackKindAudio)
}

// stop releases the local track of the given kind, if any, and removes its
// publications from the room. Acquisitions still in flight become stale.
// Publications of a track started after this call are left alone.
func (c *Conference) stop(kind domain.TrackKind) {
	c.mu.Lock()
	m := c.media(kind)
	m.gen++
	m.publishing = false
	track := m.track
	rel := m.release
	m.track = nil
	m.release = nil
	if track != nil || m.state == domain.Acquiring {
		m.state = domain.AcquisitionStopped
	}
	if track != nil && kind == domain.TrackKindVideo {
		c.views.detachLocalLocked(track)
	}
	if kind == domain.TrackKindVideo {
		c.bus.Publish(events.CameraDidStopRunning{})
	}
	room := c.room
	c.mu.Unlock()

	release(rel)
	if track != nil {
		track.Stop()
		c.logger.Info().Str("kind", string(kind)).Str("track", track.ID()).Msg("local track stopped")
	}
	if room != nil && track != nil {
		if err := unpublishTrack(room, kind, track.ID()); err != nil {
			c.logger.Warn().Err(err).Str("kind", string(kind)).Msg("unpublish on stop")
		}
	}
}

// SetLocalVideoEnabled stops capture when disabling and acquires it when
// enabling. It returns whether a video track is active afterwards.
func (c *Conference) SetLocalVideoEnabled(ctx context.Context, enabled bool) (bool, error) {
	return c.setEnabled(ctx, domain.TrackKindVideo, enabled)
}

func (c *Conference) SetLocalAudioEnabled(ctx context.Context, enabled bool) (bool, error) {
	return c.setEnabled(ctx, domain.TrackKindAudio, enabled)
}

func (c *Conference) setEnabled(ctx context.Context, kind domain.TrackKind, enabled bool) (bool, error) {
	c.mu.Lock()
	hasTrack := c.media(kind).track != nil
	c.mu.Unlock()

	switch {
	case hasTrack && !enabled:
		c.stop(kind)
	case !hasTrack && enabled:
		if err := c.start(ctx, kind); err != nil {
			return false, err
		}
	}
	// A stop racing the acquisition leaves no track behind.
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.media(kind).track != nil, nil
}

func (c *Conference) FlipCamera() error {
	err := c.device.FlipCamera()
	if errors.Is(err, core.ErrFlipUnsupported) {
		c.logger.Info().Msg("camera flip not supported on this device")
	}
	return err
}

// ToggleSoundSetup routes playback to the speaker (true) or the earpiece.
func (c *Conference) ToggleSoundSetup(speaker bool) error {
	return c.device.SetSpeakerphone(speaker)
}

func (c *Conference) SetBluetoothHeadsetConnected(connected bool) (bool, error) {
	if err := c.device.SetBluetoothHeadset(connected); err != nil {
		return false, err
	}
	return connected, nil
}

// SetRemoteAudioPlayback mutes or unmutes the playback of one participant.
// It never changes what the participant sends.
func (c *Conference) SetRemoteAudioPlayback(participant domain.ParticipantSID, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioOut.setPlaybackLocked(participant, enabled)
}

// SetRemoteAudioEnabled mutes or unmutes every remote participant.
func (c *Conference) SetRemoteAudioEnabled(enabled bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioOut.setAllLocked(enabled)
	return enabled
}
