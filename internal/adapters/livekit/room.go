package livekit

import (
	"context"
	"fmt"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/dkeye/roomsync/internal/app/sfu"
	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/util"
)

type qualityUpdate struct {
	participant domain.ParticipantInfo
	level       domain.NetworkQuality
}

// Room wraps a joined lksdk.Room. Remote state is kept here so that
// registrations made after the SDK reported something still see it.
type Room struct {
	name   domain.RoomName
	rooms  *lksdk.RoomServiceClient
	relays *sfu.RelayManager
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	lk    *lksdk.Room
	sid   domain.RoomSID
	local *LocalParticipant

	mu           sync.Mutex
	participants map[domain.ParticipantSID]*RemoteParticipant
	order        []domain.ParticipantSID
	closed       bool
	closeErr     error

	connectedL    util.Listeners[core.RemoteParticipant]
	disconnectedL util.Listeners[core.RemoteParticipant]
	closedL       util.Listeners[error]
	qualityL      util.Listeners[qualityUpdate]
}

var _ core.Room = (*Room)(nil)

func newRoom(name domain.RoomName, rooms *lksdk.RoomServiceClient, logger zerolog.Logger) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	return &Room{
		name:         name,
		rooms:        rooms,
		relays:       sfu.NewRelayManager(),
		logger:       logger.With().Str("room", string(name)).Logger(),
		ctx:          ctx,
		cancel:       cancel,
		participants: make(map[domain.ParticipantSID]*RemoteParticipant),
	}
}

func (r *Room) callback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			r.ensureParticipant(rp)
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			r.removeParticipant(domain.ParticipantSID(rp.SID()))
		},
		OnDisconnectedWithReason: func(reason lksdk.DisconnectionReason) {
			r.close(fmt.Errorf("%w: %v", ErrRoomClosed, reason))
		},
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				r.ensureParticipant(rp).subscribe(pub, track)
			},
			OnTrackUnsubscribed: func(_ *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if p := r.participant(domain.ParticipantSID(rp.SID())); p != nil {
					p.unsubscribe(domain.TrackSID(pub.SID()))
				}
			},
			OnTrackMuted: func(pub lksdk.TrackPublication, p lksdk.Participant) {
				r.setTrackEnabled(p, pub, false)
			},
			OnTrackUnmuted: func(pub lksdk.TrackPublication, p lksdk.Participant) {
				r.setTrackEnabled(p, pub, true)
			},
			OnDataPacket: func(data lksdk.DataPacket, params lksdk.DataReceiveParams) {
				r.onData(data, params)
			},
			OnConnectionQualityChanged: func(info *livekit.ConnectionQualityInfo, p lksdk.Participant) {
				r.qualityL.Notify(qualityUpdate{
					participant: domain.ParticipantInfo{SID: domain.ParticipantSID(p.SID()), Identity: p.Identity()},
					level:       qualityLevel(info.GetQuality()),
				})
			},
		},
	}
}

// attach binds the joined SDK room. SID blocks until the server assigned it.
func (r *Room) attach(lk *lksdk.Room) {
	r.lk = lk
	r.sid = domain.RoomSID(lk.SID())
	r.local = &LocalParticipant{room: r, lp: lk.LocalParticipant}
	for _, rp := range lk.GetRemoteParticipants() {
		r.ensureParticipant(rp)
	}
}

func (r *Room) Name() domain.RoomName { return r.name }

func (r *Room) SID() domain.RoomSID { return r.sid }

func (r *Room) LocalParticipant() core.LocalParticipant { return r.local }

func (r *Room) Participants() []core.RemoteParticipant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.RemoteParticipant, 0, len(r.order))
	for _, sid := range r.order {
		out = append(out, r.participants[sid])
	}
	return out
}

func (r *Room) participant(sid domain.ParticipantSID) *RemoteParticipant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participants[sid]
}

// ensureParticipant returns the wrapper for rp, creating it and reporting the
// join the first time rp is seen.
func (r *Room) ensureParticipant(rp *lksdk.RemoteParticipant) *RemoteParticipant {
	sid := domain.ParticipantSID(rp.SID())
	r.mu.Lock()
	if p, ok := r.participants[sid]; ok {
		r.mu.Unlock()
		return p
	}
	p := newRemoteParticipant(r, sid, rp.Identity())
	r.participants[sid] = p
	r.order = append(r.order, sid)
	r.mu.Unlock()

	for _, tp := range rp.TrackPublications() {
		pub, ok := tp.(*lksdk.RemoteTrackPublication)
		if !ok {
			continue
		}
		p.announce(pub)
		if track := pub.TrackRemote(); track != nil {
			p.subscribe(pub, track)
		}
	}
	r.logger.Debug().Str("participant", string(sid)).Str("identity", rp.Identity()).Msg("remote participant")
	r.connectedL.Notify(p)
	return p
}

func (r *Room) removeParticipant(sid domain.ParticipantSID) {
	r.mu.Lock()
	p, ok := r.participants[sid]
	if ok {
		delete(r.participants, sid)
		for i, s := range r.order {
			if s == sid {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	p.unsubscribeAll()
	r.disconnectedL.Notify(p)
}

func (r *Room) setTrackEnabled(p lksdk.Participant, pub lksdk.TrackPublication, enabled bool) {
	rp := r.participant(domain.ParticipantSID(p.SID()))
	if rp == nil {
		return
	}
	if t := rp.publication(domain.TrackSID(pub.SID())); t != nil {
		t.setEnabled(enabled)
	}
}

func (r *Room) onData(data lksdk.DataPacket, params lksdk.DataReceiveParams) {
	user, ok := data.(*lksdk.UserDataPacket)
	if !ok || params.Sender == nil {
		return
	}
	p := r.ensureParticipant(params.Sender)
	p.dataTrack().messageL.Notify(string(user.Payload))
}

// Disconnect leaves the room. The SDK reports nothing for a local leave, so
// OnDisconnected listeners are notified here.
func (r *Room) Disconnect() {
	if !r.markClosed(nil) {
		return
	}
	go func() {
		if r.lk != nil {
			r.lk.Disconnect()
		}
		r.closedL.Notify(nil)
	}()
}

func (r *Room) close(err error) {
	if !r.markClosed(err) {
		return
	}
	r.logger.Info().Err(err).Msg("livekit room closed")
	r.closedL.Notify(err)
}

func (r *Room) markClosed(err error) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	r.closed = true
	r.closeErr = err
	r.mu.Unlock()
	r.cancel()
	r.relays.StopAll()
	return true
}

func (r *Room) Stats(ctx context.Context) (domain.StatsReport, error) {
	report := domain.StatsReport{
		RoomSID:      r.sid,
		LocalTracks:  r.local.stats(),
		RemoteTracks: []domain.TrackStats{},
	}

	r.mu.Lock()
	participants := make([]*RemoteParticipant, 0, len(r.order))
	for _, sid := range r.order {
		participants = append(participants, r.participants[sid])
	}
	r.mu.Unlock()
	report.Participants = len(participants)
	for _, p := range participants {
		report.RemoteTracks = append(report.RemoteTracks, p.stats()...)
	}

	if r.rooms != nil {
		resp, err := r.rooms.ListParticipants(ctx, &livekit.ListParticipantsRequest{Room: string(r.name)})
		if err != nil {
			return report, fmt.Errorf("list participants: %w", err)
		}
		n := 0
		for _, p := range resp.Participants {
			if p.Sid != string(r.local.SID()) {
				n++
			}
		}
		report.Participants = n
	}
	return report, nil
}

func (r *Room) OnParticipantConnected(fn func(core.RemoteParticipant)) core.Unsubscribe {
	return r.connectedL.Add(fn)
}

func (r *Room) OnParticipantDisconnected(fn func(core.RemoteParticipant)) core.Unsubscribe {
	return r.disconnectedL.Add(fn)
}

func (r *Room) OnDisconnected(fn func(error)) core.Unsubscribe {
	r.mu.Lock()
	closed, err := r.closed, r.closeErr
	r.mu.Unlock()
	if closed {
		go fn(err)
		return func() {}
	}
	return r.closedL.Add(fn)
}

func (r *Room) OnNetworkQuality(fn func(domain.ParticipantInfo, domain.NetworkQuality)) core.Unsubscribe {
	return r.qualityL.Add(func(u qualityUpdate) { fn(u.participant, u.level) })
}

func qualityLevel(q livekit.ConnectionQuality) domain.NetworkQuality {
	switch q {
	case livekit.ConnectionQuality_EXCELLENT:
		return domain.NetworkQualityExcellent
	case livekit.ConnectionQuality_GOOD:
		return 3
	case livekit.ConnectionQuality_POOR:
		return 1
	default:
		return domain.NetworkQualityLost
	}
}
