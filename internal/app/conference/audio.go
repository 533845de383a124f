package conference

import (
	"github.com/rs/zerolog"

	"github.com/dkeye/roomsync/internal/app/sfu"
	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
)

// audioOut is the playback element of one participant. Every audio track of
// the participant feeds the same gate.
type audioOut struct {
	gate   *sfu.OutTrack
	tracks map[domain.TrackSID]core.RemoteTrack
}

// audioRouter owns the per-participant playback elements. Playback follows the
// sender's enabled flag and can be toggled locally; it never changes what the
// participant sends.
type audioRouter struct {
	factory core.SinkFactory
	logger  zerolog.Logger
	outs    map[domain.ParticipantSID]*audioOut
}

func newAudioRouter(factory core.SinkFactory, logger zerolog.Logger) *audioRouter {
	return &audioRouter{
		factory: factory,
		logger:  logger,
		outs:    make(map[domain.ParticipantSID]*audioOut),
	}
}

func (r *audioRouter) addLocked(psid domain.ParticipantSID, t core.RemoteTrack) {
	out, ok := r.outs[psid]
	if !ok {
		sink, err := r.factory.NewAudioSink(psid)
		if err != nil {
			r.logger.Warn().Err(err).Str("participant", string(psid)).Msg("create audio sink")
			return
		}
		out = &audioOut{
			gate:   sfu.NewOutTrack(sink),
			tracks: make(map[domain.TrackSID]core.RemoteTrack),
		}
		r.outs[psid] = out
	}
	out.tracks[t.SID()] = t
	if !t.IsEnabled() {
		out.gate.MarkMuted()
	}
	t.Attach(out.gate)
}

func (r *audioRouter) setPlaybackLocked(psid domain.ParticipantSID, enabled bool) {
	out, ok := r.outs[psid]
	if !ok {
		return
	}
	if enabled {
		out.gate.MarkOk()
	} else {
		out.gate.MarkMuted()
	}
}

func (r *audioRouter) setAllLocked(enabled bool) {
	for psid := range r.outs {
		r.setPlaybackLocked(psid, enabled)
	}
}

func (r *audioRouter) mutedLocked(psid domain.ParticipantSID) (muted, ok bool) {
	out, ok := r.outs[psid]
	if !ok {
		return false, false
	}
	return out.gate.Muted(), true
}

func (r *audioRouter) removeTrackLocked(psid domain.ParticipantSID, t core.RemoteTrack) {
	out, ok := r.outs[psid]
	if !ok {
		return
	}
	if _, ok := out.tracks[t.SID()]; !ok {
		return
	}
	delete(out.tracks, t.SID())
	t.Detach(out.gate)
}

// removeParticipantLocked detaches every track and returns the sink to close.
func (r *audioRouter) removeParticipantLocked(psid domain.ParticipantSID) core.Sink {
	out, ok := r.outs[psid]
	if !ok {
		return nil
	}
	delete(r.outs, psid)
	for _, t := range out.tracks {
		t.Detach(out.gate)
	}
	return out.gate
}

func (r *audioRouter) closeAllLocked() []core.Sink {
	sinks := make([]core.Sink, 0, len(r.outs))
	for psid := range r.outs {
		if s := r.removeParticipantLocked(psid); s != nil {
			sinks = append(sinks, s)
		}
	}
	return sinks
}
