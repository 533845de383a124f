package conference

import (
	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
)

type remoteViewKey struct {
	participant domain.ParticipantSID
	track       domain.TrackSID
}

// viewRegistry remembers which render sinks want which video. Bindings
// outlive the tracks they point at: the local binding follows every new
// local video track, a remote binding attaches once its track is subscribed.
type viewRegistry struct {
	local  map[string]core.Sink
	remote map[remoteViewKey]map[string]core.Sink
}

func newViewRegistry() *viewRegistry {
	return &viewRegistry{
		local:  make(map[string]core.Sink),
		remote: make(map[remoteViewKey]map[string]core.Sink),
	}
}

func (v *viewRegistry) attachLocalLocked(track core.LocalTrack) {
	for _, s := range v.local {
		track.Attach(s)
	}
}

func (v *viewRegistry) detachLocalLocked(track core.LocalTrack) {
	for _, s := range v.local {
		track.Detach(s)
	}
}

func (v *viewRegistry) attachRemoteLocked(psid domain.ParticipantSID, sid domain.TrackSID, t core.RemoteTrack) {
	for _, s := range v.remote[remoteViewKey{psid, sid}] {
		t.Attach(s)
	}
}

func (v *viewRegistry) detachRemoteLocked(psid domain.ParticipantSID, sid domain.TrackSID, t core.RemoteTrack) {
	for _, s := range v.remote[remoteViewKey{psid, sid}] {
		t.Detach(s)
	}
}

// dropRemoteLocked forgets remote bindings. Tracks are released by the mirror.
func (v *viewRegistry) dropRemoteLocked() {
	clear(v.remote)
}

// AttachLocalView renders the local video into sink, now and after every restart.
func (c *Conference) AttachLocalView(sink core.Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.views.local[sink.ID()]; ok {
		return
	}
	c.views.local[sink.ID()] = sink
	if t := c.video.track; t != nil {
		t.Attach(sink)
	}
}

func (c *Conference) DetachLocalView(sink core.Sink) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.views.local[sink.ID()]; !ok {
		return
	}
	delete(c.views.local, sink.ID())
	if t := c.video.track; t != nil {
		t.Detach(sink)
	}
}

// AttachParticipantView renders a remote video track into sink. The binding
// waits for the track if it is not subscribed yet.
func (c *Conference) AttachParticipantView(sink core.Sink, psid domain.ParticipantSID, sid domain.TrackSID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := remoteViewKey{psid, sid}
	sinks, ok := c.views.remote[key]
	if !ok {
		sinks = make(map[string]core.Sink)
		c.views.remote[key] = sinks
	}
	if _, ok := sinks[sink.ID()]; ok {
		return
	}
	sinks[sink.ID()] = sink
	if mt := c.remoteVideoLocked(psid, sid); mt != nil {
		mt.track.Attach(sink)
	}
}

func (c *Conference) DetachParticipantView(sink core.Sink, psid domain.ParticipantSID, sid domain.TrackSID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := remoteViewKey{psid, sid}
	sinks, ok := c.views.remote[key]
	if !ok {
		return
	}
	if _, ok := sinks[sink.ID()]; !ok {
		return
	}
	delete(sinks, sink.ID())
	if len(sinks) == 0 {
		delete(c.views.remote, key)
	}
	if mt := c.remoteVideoLocked(psid, sid); mt != nil {
		mt.track.Detach(sink)
	}
}

func (c *Conference) remoteVideoLocked(psid domain.ParticipantSID, sid domain.TrackSID) *mirroredTrack {
	if c.mirror == nil {
		return nil
	}
	mp, ok := c.mirror.participants[psid]
	if !ok {
		return nil
	}
	mt, ok := mp.tracks[sid]
	if !ok || mt.kind != domain.TrackKindVideo {
		return nil
	}
	return mt
}
