package conference

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/events"
)

type ConnectRequest struct {
	RoomName             domain.RoomName
	Token                string
	EnableVideo          bool
	Encoding             *core.EncodingParameters
	EnableNetworkQuality bool
}

// Connect joins a room with the current local tracks. It returns
// ErrSessionActive while another room is connecting or connected, and
// ErrConnectAbandoned when a Disconnect arrived before the room was joined.
func (c *Conference) Connect(ctx context.Context, req ConnectRequest) error {
	c.mu.Lock()
	if c.state.Active() {
		c.mu.Unlock()
		c.logger.Debug().Str("room", string(req.RoomName)).Str("state", c.state.String()).Msg("connect ignored, session active")
		return ErrSessionActive
	}
	if err := req.RoomName.Validate(); err != nil {
		c.bus.Publish(events.RoomDidFailToConnect{RoomName: req.RoomName, Error: err.Error()})
		c.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	c.state = domain.Connecting
	c.roomGen++
	gen := c.roomGen
	c.roomName = req.RoomName
	opts := core.ConnectOptions{
		Name:           req.RoomName,
		Video:          req.EnableVideo,
		Audio:          true,
		NetworkQuality: req.EnableNetworkQuality,
		Encoding:       req.Encoding,
	}
	for _, m := range []*localMedia{c.video, c.audio} {
		if m.track != nil {
			opts.Tracks = append(opts.Tracks, m.track)
		}
	}
	c.mu.Unlock()

	c.logger.Info().Str("room", string(req.RoomName)).Int("tracks", len(opts.Tracks)).Msg("connecting")
	room, err := c.connector.Connect(ctx, req.Token, opts)

	c.mu.Lock()
	if gen != c.roomGen {
		c.mu.Unlock()
		c.logger.Debug().Str("room", string(req.RoomName)).Msg("connect finished after disconnect, dropping room")
		if room != nil {
			room.Disconnect()
		}
		return ErrConnectAbandoned
	}
	if err != nil {
		c.state = domain.Failed
		c.bus.Publish(events.RoomDidFailToConnect{RoomName: req.RoomName, Error: err.Error()})
		c.state = domain.Disconnected
		c.roomName = ""
		c.mu.Unlock()
		c.logger.Warn().Err(err).Str("room", string(req.RoomName)).Msg("connect failed")
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	c.state = domain.Connected
	c.room = room
	participants := room.Participants()
	infos := make([]domain.ParticipantInfo, 0, len(participants))
	for _, p := range participants {
		infos = append(infos, domain.ParticipantInfo{SID: p.SID(), Identity: p.Identity()})
	}
	c.bus.Publish(events.RoomDidConnect{
		RoomName:     room.Name(),
		RoomSID:      room.SID(),
		Participants: infos,
	})
	c.attachMirrorLocked(room, gen, req.EnableNetworkQuality)
	c.roomRelease = append(c.roomRelease, room.OnDisconnected(func(err error) {
		c.onRoomDisconnected(gen, err)
	}))
	if c.hooks != nil {
		c.roomRelease = append(c.roomRelease, c.hooks.Register(c.Disconnect))
	}
	c.mu.Unlock()

	c.logger.Info().Str("room", string(room.Name())).Str("room_sid", string(room.SID())).Int("participants", len(infos)).Msg("connected")
	return nil
}

// Disconnect leaves the current room. It returns right away; a new Connect
// is valid as soon as it returns.
func (c *Conference) Disconnect() {
	c.mu.Lock()
	if !c.state.Active() {
		c.mu.Unlock()
		c.logger.Debug().Msg("disconnect ignored, no session")
		return
	}
	room := c.room
	name := c.roomName
	wasConnected := c.state == domain.Connected
	sinks := c.teardownRoomLocked()
	if wasConnected {
		c.bus.Publish(events.RoomDidDisconnect{RoomName: name})
	}
	c.mu.Unlock()

	closeSinks(c.logger, sinks)
	if room != nil {
		room.Disconnect()
	}
	c.logger.Info().Str("room", string(name)).Msg("disconnected")
}

func (c *Conference) onRoomDisconnected(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.roomGen || c.room == nil {
		c.mu.Unlock()
		c.logger.Debug().Msg("stale room disconnect ignored")
		return
	}
	name := c.roomName
	sinks := c.teardownRoomLocked()
	c.bus.Publish(events.RoomDidDisconnect{RoomName: name, Error: errString(err)})
	c.mu.Unlock()

	closeSinks(c.logger, sinks)
	c.logger.Info().Err(err).Str("room", string(name)).Msg("room disconnected")
}

// teardownRoomLocked clears every room-bound resource and returns the audio
// sinks the caller must close once mu is released.
func (c *Conference) teardownRoomLocked() []core.Sink {
	c.roomGen++
	release(c.roomRelease)
	c.roomRelease = nil
	c.detachMirrorLocked()
	c.views.dropRemoteLocked()
	c.room = nil
	c.roomName = ""
	c.state = domain.Disconnected
	return c.audioOut.closeAllLocked()
}

func (c *Conference) PublishLocalVideo(ctx context.Context) error {
	return c.publish(ctx, domain.TrackKindVideo)
}

func (c *Conference) PublishLocalAudio(ctx context.Context) error {
	return c.publish(ctx, domain.TrackKindAudio)
}

func (c *Conference) publish(ctx context.Context, kind domain.TrackKind) error {
	c.mu.Lock()
	m := c.media(kind)
	if c.room == nil || m.track == nil || m.publishing {
		c.mu.Unlock()
		c.logger.Debug().Str("kind", string(kind)).Msg("publish skipped")
		return nil
	}
	room, track := c.room, m.track
	gen, roomGen := m.gen, c.roomGen
	lp := room.LocalParticipant()
	for _, pub := range lp.Publications(kind) {
		if pub.LocalTrackID() == track.ID() {
			c.mu.Unlock()
			return nil
		}
	}
	m.publishing = true
	c.mu.Unlock()

	pub, err := lp.PublishTrack(ctx, track)

	c.mu.Lock()
	if m.gen == gen {
		m.publishing = false
	}
	stale := m.gen != gen || c.roomGen != roomGen
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	if stale {
		c.logger.Debug().Str("kind", string(kind)).Msg("track stopped while publishing, unpublishing")
		if err := pub.Unpublish(); err != nil {
			c.logger.Warn().Err(err).Str("kind", string(kind)).Msg("unpublish stale track")
		}
		return nil
	}
	c.logger.Info().Str("kind", string(kind)).Str("track", string(pub.TrackSID())).Msg("published")
	return nil
}

func (c *Conference) UnpublishLocalVideo() error {
	return c.unpublish(domain.TrackKindVideo)
}

func (c *Conference) UnpublishLocalAudio() error {
	return c.unpublish(domain.TrackKindAudio)
}

func (c *Conference) unpublish(kind domain.TrackKind) error {
	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	if room == nil {
		return nil
	}
	return unpublishTrack(room, kind, "")
}

// unpublishTrack removes the publications of one local track, or all of kind
// when trackID is empty.
func unpublishTrack(room core.Room, kind domain.TrackKind, trackID string) error {
	var errs []error
	for _, pub := range room.LocalParticipant().Publications(kind) {
		if trackID != "" && pub.LocalTrackID() != trackID {
			continue
		}
		if err := pub.Unpublish(); err != nil {
			errs = append(errs, fmt.Errorf("unpublish %s: %w", pub.TrackSID(), err))
		}
	}
	return errors.Join(errs...)
}

// GetStats requests a stats report and emits it as statsReceived.
func (c *Conference) GetStats(ctx context.Context) error {
	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	if room == nil {
		return nil
	}
	report, err := room.Stats(ctx)
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	c.bus.Publish(events.StatsReceived{StatsReport: report})
	return nil
}

// SendString sends a text message on the local data channel.
func (c *Conference) SendString(ctx context.Context, message string) error {
	c.mu.Lock()
	room := c.room
	c.mu.Unlock()
	if room == nil {
		return ErrNoSession
	}
	if err := room.LocalParticipant().SendData(ctx, []byte(message)); err != nil {
		return fmt.Errorf("send data: %w", err)
	}
	return nil
}
