package livekit

import (
	"sync"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/roomsync/internal/app/sfu"
	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/util"
)

// dataTrackName names the per-participant track that carries user data
// packets. LiveKit has no data track object, packets arrive per sender.
const dataTrackName = "data"

type subscription struct {
	track *RemoteTrack
	pub   *RemotePublication
}

type RemoteParticipant struct {
	room     *Room
	sid      domain.ParticipantSID
	identity string

	mu    sync.Mutex
	pubs  map[domain.TrackSID]*RemotePublication
	order []domain.TrackSID

	subscribedL util.Listeners[subscription]
}

var _ core.RemoteParticipant = (*RemoteParticipant)(nil)

func newRemoteParticipant(room *Room, sid domain.ParticipantSID, identity string) *RemoteParticipant {
	return &RemoteParticipant{
		room:     room,
		sid:      sid,
		identity: identity,
		pubs:     make(map[domain.TrackSID]*RemotePublication),
	}
}

func (p *RemoteParticipant) SID() domain.ParticipantSID { return p.sid }

func (p *RemoteParticipant) Identity() string { return p.identity }

func (p *RemoteParticipant) Publications() []core.RemotePublication {
	pubs := p.publications()
	out := make([]core.RemotePublication, 0, len(pubs))
	for _, pub := range pubs {
		out = append(out, pub)
	}
	return out
}

func (p *RemoteParticipant) publications() []*RemotePublication {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*RemotePublication, 0, len(p.order))
	for _, sid := range p.order {
		out = append(out, p.pubs[sid])
	}
	return out
}

func (p *RemoteParticipant) publication(sid domain.TrackSID) *RemotePublication {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pubs[sid]
}

func (p *RemoteParticipant) OnTrackSubscribed(fn func(core.RemoteTrack, core.RemotePublication)) core.Unsubscribe {
	return p.subscribedL.Add(func(s subscription) { fn(s.track, s.pub) })
}

// announce records a publication, subscribed or not.
func (p *RemoteParticipant) announce(pub *lksdk.RemoteTrackPublication) *RemotePublication {
	return p.addPublication(domain.TrackSID(pub.SID()), pub.Name(), trackKind(pub.Kind()), !pub.IsMuted())
}

func (p *RemoteParticipant) addPublication(sid domain.TrackSID, name string, kind domain.TrackKind, enabled bool) *RemotePublication {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pub, ok := p.pubs[sid]; ok {
		return pub
	}
	pub := &RemotePublication{participant: p, sid: sid, name: name, kind: kind, enabled: enabled}
	p.pubs[sid] = pub
	p.order = append(p.order, sid)
	return pub
}

// subscribe starts relaying a media track and reports it once.
func (p *RemoteParticipant) subscribe(lkPub *lksdk.RemoteTrackPublication, track *webrtc.TrackRemote) {
	pub := p.announce(lkPub)
	pub.mu.Lock()
	if pub.live != nil {
		pub.mu.Unlock()
		return
	}
	relay := p.room.relays.StartRelay(p.room.ctx, pub.sid, func() (*rtp.Packet, error) {
		pkt, _, err := track.ReadRTP()
		return pkt, err
	})
	t := &RemoteTrack{pub: pub, relay: relay}
	pub.live = t
	pub.mu.Unlock()

	p.subscribedL.Notify(subscription{track: t, pub: pub})
}

// dataTrack returns the participant's data track, subscribing it on first use.
func (p *RemoteParticipant) dataTrack() *RemoteTrack {
	pub := p.addPublication(domain.TrackSID("DT_"+string(p.sid)), dataTrackName, domain.TrackKindData, true)
	pub.mu.Lock()
	if pub.live != nil {
		t := pub.live
		pub.mu.Unlock()
		return t
	}
	t := &RemoteTrack{pub: pub}
	pub.live = t
	pub.mu.Unlock()

	p.subscribedL.Notify(subscription{track: t, pub: pub})
	return t
}

func (p *RemoteParticipant) unsubscribe(sid domain.TrackSID) {
	if pub := p.publication(sid); pub != nil {
		pub.unsubscribe()
	}
}

func (p *RemoteParticipant) unsubscribeAll() {
	for _, pub := range p.publications() {
		pub.unsubscribe()
	}
}

func (p *RemoteParticipant) stats() []domain.TrackStats {
	var out []domain.TrackStats
	for _, pub := range p.publications() {
		t := pub.track()
		if t == nil || t.relay == nil {
			continue
		}
		packets, bytes := t.relay.Counters()
		out = append(out, domain.TrackStats{
			TrackSID:    pub.sid,
			Kind:        pub.kind,
			Participant: p.sid,
			Packets:     packets,
			Bytes:       bytes,
		})
	}
	return out
}

type RemotePublication struct {
	participant *RemoteParticipant
	sid         domain.TrackSID
	name        string
	kind        domain.TrackKind

	mu      sync.Mutex
	enabled bool
	live    *RemoteTrack

	unsubscribedL util.Listeners[struct{}]
}

var _ core.RemotePublication = (*RemotePublication)(nil)

func (pub *RemotePublication) TrackSID() domain.TrackSID { return pub.sid }

func (pub *RemotePublication) TrackName() string { return pub.name }

func (pub *RemotePublication) Kind() domain.TrackKind { return pub.kind }

func (pub *RemotePublication) IsSubscribed() bool { return pub.track() != nil }

func (pub *RemotePublication) IsTrackEnabled() bool {
	pub.mu.Lock()
	defer pub.mu.Unlock()
	return pub.enabled
}

func (pub *RemotePublication) Track() core.RemoteTrack {
	if t := pub.track(); t != nil {
		return t
	}
	return nil
}

func (pub *RemotePublication) track() *RemoteTrack {
	pub.mu.Lock()
	defer pub.mu.Unlock()
	return pub.live
}

func (pub *RemotePublication) OnUnsubscribed(fn func()) core.Unsubscribe {
	return pub.unsubscribedL.Add(func(struct{}) { fn() })
}

func (pub *RemotePublication) setEnabled(enabled bool) {
	pub.mu.Lock()
	changed := pub.enabled != enabled
	pub.enabled = enabled
	t := pub.live
	pub.mu.Unlock()
	if changed && t != nil {
		t.enabledL.Notify(enabled)
	}
}

func (pub *RemotePublication) unsubscribe() {
	pub.mu.Lock()
	t := pub.live
	pub.live = nil
	pub.mu.Unlock()
	if t == nil {
		return
	}
	if t.relay != nil {
		pub.participant.room.relays.StopRelay(pub.sid)
	}
	pub.unsubscribedL.Notify(struct{}{})
}

// RemoteTrack exposes a subscribed track. Media tracks fan out through a
// relay, the data track only carries messages.
type RemoteTrack struct {
	pub   *RemotePublication
	relay *sfu.Relay

	enabledL util.Listeners[bool]
	messageL util.Listeners[string]
}

var _ core.RemoteTrack = (*RemoteTrack)(nil)

func (t *RemoteTrack) SID() domain.TrackSID { return t.pub.sid }

func (t *RemoteTrack) Name() string { return t.pub.name }

func (t *RemoteTrack) Kind() domain.TrackKind { return t.pub.kind }

func (t *RemoteTrack) IsEnabled() bool { return t.pub.IsTrackEnabled() }

func (t *RemoteTrack) Attach(s core.Sink) {
	if t.relay != nil {
		t.relay.AddSink(s)
	}
}

func (t *RemoteTrack) Detach(s core.Sink) {
	if t.relay != nil {
		t.relay.RemoveSink(s)
	}
}

func (t *RemoteTrack) OnEnabledChanged(fn func(bool)) core.Unsubscribe {
	return t.enabledL.Add(fn)
}

func (t *RemoteTrack) OnMessage(fn func(string)) core.Unsubscribe {
	return t.messageL.Add(fn)
}

func trackKind(k lksdk.TrackKind) domain.TrackKind {
	switch k {
	case lksdk.TrackKindVideo:
		return domain.TrackKindVideo
	case lksdk.TrackKindAudio:
		return domain.TrackKindAudio
	default:
		return domain.TrackKind(k)
	}
}
