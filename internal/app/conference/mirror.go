package conference

import (
	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/events"
)

type mirroredTrack struct {
	kind    domain.TrackKind
	info    domain.TrackInfo
	track   core.RemoteTrack
	release []core.Unsubscribe
}

type mirroredParticipant struct {
	info    domain.ParticipantInfo
	release []core.Unsubscribe
	tracks  map[domain.TrackSID]*mirroredTrack
}

// mirror is the view of remote participants for one room generation.
type mirror struct {
	gen          uint64
	roomName     domain.RoomName
	roomSID      domain.RoomSID
	release      []core.Unsubscribe
	participants map[domain.ParticipantSID]*mirroredParticipant
	order        []domain.ParticipantSID
}

func (c *Conference) attachMirrorLocked(room core.Room, gen uint64, networkQuality bool) {
	m := &mirror{
		gen:          gen,
		roomName:     room.Name(),
		roomSID:      room.SID(),
		participants: make(map[domain.ParticipantSID]*mirroredParticipant),
	}
	c.mirror = m

	m.release = append(m.release,
		room.OnParticipantConnected(func(p core.RemoteParticipant) {
			c.onParticipantConnected(gen, p)
		}),
		room.OnParticipantDisconnected(func(p core.RemoteParticipant) {
			c.onParticipantDisconnected(gen, p.SID())
		}),
	)
	if networkQuality {
		m.release = append(m.release, room.OnNetworkQuality(func(p domain.ParticipantInfo, level domain.NetworkQuality) {
			c.onNetworkQuality(gen, p, level)
		}))
	}
	for _, p := range room.Participants() {
		c.syncParticipantLocked(p)
	}
}

func (c *Conference) detachMirrorLocked() {
	m := c.mirror
	if m == nil {
		return
	}
	c.mirror = nil
	release(m.release)
	for _, mp := range m.participants {
		for _, mt := range mp.tracks {
			release(mt.release)
		}
		release(mp.release)
	}
}

// currentMirrorLocked returns the mirror if gen still names the live room.
func (c *Conference) currentMirrorLocked(gen uint64) *mirror {
	if c.mirror == nil || c.mirror.gen != gen || c.roomGen != gen {
		return nil
	}
	return c.mirror
}

func (c *Conference) onParticipantConnected(gen uint64, p core.RemoteParticipant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentMirrorLocked(gen) == nil {
		return
	}
	c.syncParticipantLocked(p)
}

// syncParticipantLocked registers p once, then reports every track it is
// already subscribed to.
func (c *Conference) syncParticipantLocked(p core.RemoteParticipant) {
	m := c.mirror
	if _, ok := m.participants[p.SID()]; ok {
		return
	}
	mp := &mirroredParticipant{
		info:   domain.ParticipantInfo{SID: p.SID(), Identity: p.Identity()},
		tracks: make(map[domain.TrackSID]*mirroredTrack),
	}
	m.participants[p.SID()] = mp
	m.order = append(m.order, p.SID())

	c.bus.Publish(events.RoomParticipantDidConnect{ParticipantEvent: events.ParticipantEvent{
		RoomName:    m.roomName,
		RoomSID:     m.roomSID,
		Participant: mp.info,
	}})
	c.logger.Info().Str("participant", string(p.SID())).Str("identity", p.Identity()).Msg("participant connected")

	gen := m.gen
	psid := p.SID()
	mp.release = append(mp.release, p.OnTrackSubscribed(func(t core.RemoteTrack, pub core.RemotePublication) {
		c.onTrackSubscribed(gen, psid, t, pub)
	}))
	for _, pub := range p.Publications() {
		if !pub.IsSubscribed() {
			continue
		}
		if t := pub.Track(); t != nil {
			c.addTrackLocked(mp, t, pub)
		}
	}
}

func (c *Conference) onParticipantDisconnected(gen uint64, psid domain.ParticipantSID) {
	c.mu.Lock()
	m := c.currentMirrorLocked(gen)
	if m == nil {
		c.mu.Unlock()
		return
	}
	mp, ok := m.participants[psid]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(m.participants, psid)
	for i, sid := range m.order {
		if sid == psid {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	for _, mt := range mp.tracks {
		release(mt.release)
		if mt.kind == domain.TrackKindVideo {
			c.views.detachRemoteLocked(psid, mt.info.TrackSID, mt.track)
		}
	}
	release(mp.release)
	sink := c.audioOut.removeParticipantLocked(psid)
	c.bus.Publish(events.RoomParticipantDidDisconnect{ParticipantEvent: events.ParticipantEvent{
		RoomName:    m.roomName,
		RoomSID:     m.roomSID,
		Participant: mp.info,
	}})
	c.mu.Unlock()

	if sink != nil {
		closeSinks(c.logger, []core.Sink{sink})
	}
	c.logger.Info().Str("participant", string(psid)).Msg("participant disconnected")
}

func (c *Conference) onTrackSubscribed(gen uint64, psid domain.ParticipantSID, t core.RemoteTrack, pub core.RemotePublication) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.currentMirrorLocked(gen)
	if m == nil {
		return
	}
	mp, ok := m.participants[psid]
	if !ok {
		c.logger.Debug().Str("participant", string(psid)).Str("track", string(t.SID())).Msg("track for unknown participant ignored")
		return
	}
	c.addTrackLocked(mp, t, pub)
}

func (c *Conference) addTrackLocked(mp *mirroredParticipant, t core.RemoteTrack, pub core.RemotePublication) {
	sid := t.SID()
	if _, ok := mp.tracks[sid]; ok {
		return
	}
	mt := &mirroredTrack{
		kind:  t.Kind(),
		info:  domain.TrackInfo{Enabled: t.IsEnabled(), TrackName: t.Name(), TrackSID: sid},
		track: t,
	}
	mp.tracks[sid] = mt

	gen := c.mirror.gen
	psid := mp.info.SID
	te := events.TrackEvent{Participant: mp.info, Track: mt.info}
	switch mt.kind {
	case domain.TrackKindVideo:
		c.bus.Publish(events.ParticipantAddedVideoTrack{TrackEvent: te})
		c.views.attachRemoteLocked(psid, sid, t)
	case domain.TrackKindAudio:
		c.audioOut.addLocked(psid, t)
		c.bus.Publish(events.ParticipantAddedAudioTrack{TrackEvent: te})
	case domain.TrackKindData:
		c.bus.Publish(events.ParticipantAddedDataTrack{TrackEvent: te})
		mt.release = append(mt.release, t.OnMessage(func(msg string) {
			c.onDataMessage(gen, psid, sid, msg)
		}))
	default:
		c.logger.Warn().Str("kind", string(mt.kind)).Str("track", string(sid)).Msg("unknown track kind")
	}
	if mt.kind != domain.TrackKindData {
		mt.release = append(mt.release, t.OnEnabledChanged(func(enabled bool) {
			c.onTrackEnabledChanged(gen, psid, sid, enabled)
		}))
	}
	mt.release = append(mt.release, pub.OnUnsubscribed(func() {
		c.onTrackUnsubscribed(gen, psid, sid)
	}))
	c.logger.Debug().Str("participant", string(psid)).Str("track", string(sid)).Str("kind", string(mt.kind)).Msg("track added")
}

func (c *Conference) lookupTrackLocked(gen uint64, psid domain.ParticipantSID, sid domain.TrackSID) (*mirroredParticipant, *mirroredTrack) {
	m := c.currentMirrorLocked(gen)
	if m == nil {
		return nil, nil
	}
	mp, ok := m.participants[psid]
	if !ok {
		return nil, nil
	}
	mt, ok := mp.tracks[sid]
	if !ok {
		return mp, nil
	}
	return mp, mt
}

func (c *Conference) onTrackEnabledChanged(gen uint64, psid domain.ParticipantSID, sid domain.TrackSID, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mp, mt := c.lookupTrackLocked(gen, psid, sid)
	if mt == nil || mt.info.Enabled == enabled {
		return
	}
	mt.info.Enabled = enabled
	te := events.TrackEvent{Participant: mp.info, Track: mt.info}
	switch mt.kind {
	case domain.TrackKindVideo:
		if enabled {
			c.bus.Publish(events.ParticipantEnabledVideoTrack{TrackEvent: te})
		} else {
			c.bus.Publish(events.ParticipantDisabledVideoTrack{TrackEvent: te})
		}
	case domain.TrackKindAudio:
		c.audioOut.setPlaybackLocked(psid, enabled)
		if enabled {
			c.bus.Publish(events.ParticipantEnabledAudioTrack{TrackEvent: te})
		} else {
			c.bus.Publish(events.ParticipantDisabledAudioTrack{TrackEvent: te})
		}
	}
}

func (c *Conference) onDataMessage(gen uint64, psid domain.ParticipantSID, sid domain.TrackSID, msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mp, mt := c.lookupTrackLocked(gen, psid, sid)
	if mt == nil {
		return
	}
	c.bus.Publish(events.DataTrackMessageReceived{Message: msg, Participant: mp.info, Track: mt.info})
}

func (c *Conference) onTrackUnsubscribed(gen uint64, psid domain.ParticipantSID, sid domain.TrackSID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mp, mt := c.lookupTrackLocked(gen, psid, sid)
	if mt == nil {
		return
	}
	delete(mp.tracks, sid)
	release(mt.release)

	// The live track may already be gone, report the last snapshot.
	te := events.TrackEvent{Participant: mp.info, Track: mt.info}
	switch mt.kind {
	case domain.TrackKindVideo:
		c.views.detachRemoteLocked(psid, sid, mt.track)
		c.bus.Publish(events.ParticipantRemovedVideoTrack{TrackEvent: te})
	case domain.TrackKindAudio:
		c.audioOut.removeTrackLocked(psid, mt.track)
		c.bus.Publish(events.ParticipantRemovedAudioTrack{TrackEvent: te})
	case domain.TrackKindData:
		c.bus.Publish(events.ParticipantRemovedDataTrack{TrackEvent: te})
	}
	c.logger.Debug().Str("participant", string(psid)).Str("track", string(sid)).Msg("track removed")
}

func (c *Conference) onNetworkQuality(gen uint64, p domain.ParticipantInfo, level domain.NetworkQuality) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentMirrorLocked(gen) == nil {
		return
	}
	c.bus.Publish(events.NetworkQualityLevelsChanged{Participant: p, Level: level})
}
