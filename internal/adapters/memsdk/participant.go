package memsdk

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomsync/internal/app/sfu"
	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/util"
)

type subscription struct {
	track *RemoteTrack
	pub   *RemotePublication
}

type RemoteParticipant struct {
	room     *Room
	sid      domain.ParticipantSID
	identity string

	mu   sync.Mutex
	pubs []*RemotePublication

	subscribedL util.Listeners[subscription]
}

var _ core.RemoteParticipant = (*RemoteParticipant)(nil)

func (p *RemoteParticipant) SID() domain.ParticipantSID { return p.sid }

func (p *RemoteParticipant) Identity() string { return p.identity }

func (p *RemoteParticipant) Info() domain.ParticipantInfo {
	return domain.ParticipantInfo{SID: p.sid, Identity: p.identity}
}

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
	return append([]*RemotePublication(nil), p.pubs...)
}

func (p *RemoteParticipant) OnTrackSubscribed(fn func(core.RemoteTrack, core.RemotePublication)) core.Unsubscribe {
	return p.subscribedL.Add(func(s subscription) { fn(s.track, s.pub) })
}

// Publish announces a track without subscribing to it.
func (p *RemoteParticipant) Publish(kind domain.TrackKind, sid domain.TrackSID, name string, enabled bool) *RemotePublication {
	pub := &RemotePublication{participant: p, sid: sid, name: name, kind: kind, enabled: enabled}
	p.mu.Lock()
	p.pubs = append(p.pubs, pub)
	p.mu.Unlock()
	return pub
}

// AddTrack publishes a track and subscribes to it.
func (p *RemoteParticipant) AddTrack(kind domain.TrackKind, sid domain.TrackSID, name string, enabled bool) *RemoteTrack {
	return p.Publish(kind, sid, name, enabled).Subscribe()
}

func (p *RemoteParticipant) Publication(sid domain.TrackSID) *RemotePublication {
	for _, pub := range p.publications() {
		if pub.sid == sid {
			return pub
		}
	}
	return nil
}

func (p *RemoteParticipant) listenerCount() int {
	n := p.subscribedL.Len()
	for _, pub := range p.publications() {
		n += pub.listenerCount()
	}
	return n
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

// Subscribe creates the live track and reports it to the participant's listeners.
func (pub *RemotePublication) Subscribe() *RemoteTrack {
	pub.mu.Lock()
	if pub.live != nil {
		t := pub.live
		pub.mu.Unlock()
		return t
	}
	t := &RemoteTrack{pub: pub, relay: sfu.NewRelay()}
	pub.live = t
	pub.mu.Unlock()

	pub.participant.subscribedL.Notify(subscription{track: t, pub: pub})
	return t
}

// Unsubscribe drops the live track and fires the unsubscribed listeners.
func (pub *RemotePublication) Unsubscribe() {
	pub.mu.Lock()
	t := pub.live
	pub.live = nil
	pub.mu.Unlock()
	if t == nil {
		return
	}
	t.relay.Close()
	pub.unsubscribedL.Notify(struct{}{})
}

func (pub *RemotePublication) listenerCount() int {
	n := pub.unsubscribedL.Len()
	if t := pub.track(); t != nil {
		n += t.enabledL.Len() + t.messageL.Len()
	}
	return n
}

// RemoteTrack fans packets out to attached sinks. It is itself a sink so a
// local track can feed it directly.
type RemoteTrack struct {
	pub   *RemotePublication
	relay *sfu.Relay

	enabledL util.Listeners[bool]
	messageL util.Listeners[string]
}

var (
	_ core.RemoteTrack = (*RemoteTrack)(nil)
	_ core.Sink        = (*RemoteTrack)(nil)
)

func (t *RemoteTrack) SID() domain.TrackSID { return t.pub.sid }

func (t *RemoteTrack) Name() string { return t.pub.name }

func (t *RemoteTrack) Kind() domain.TrackKind { return t.pub.kind }

func (t *RemoteTrack) IsEnabled() bool { return t.pub.IsTrackEnabled() }

func (t *RemoteTrack) Attach(s core.Sink) { t.relay.AddSink(s) }

func (t *RemoteTrack) Detach(s core.Sink) { t.relay.RemoveSink(s) }

func (t *RemoteTrack) HasSink(id string) bool { return t.relay.HasSink(id) }

func (t *RemoteTrack) OnEnabledChanged(fn func(bool)) core.Unsubscribe {
	return t.enabledL.Add(fn)
}

func (t *RemoteTrack) OnMessage(fn func(string)) core.Unsubscribe {
	return t.messageL.Add(fn)
}

// SetEnabled flips the publisher-side enabled flag.
func (t *RemoteTrack) SetEnabled(enabled bool) {
	t.pub.mu.Lock()
	changed := t.pub.enabled != enabled
	t.pub.enabled = enabled
	t.pub.mu.Unlock()
	if changed {
		t.enabledL.Notify(enabled)
	}
}

// Send delivers a message on a data track.
func (t *RemoteTrack) Send(msg string) {
	t.messageL.Notify(msg)
}

func (t *RemoteTrack) ID() string { return "remote:" + string(t.pub.sid) }

func (t *RemoteTrack) WriteRTP(pkt *rtp.Packet) error {
	logger := log.With().Str("module", "memsdk").Str("track", string(t.pub.sid)).Logger()
	t.relay.Forward(pkt, &logger)
	return nil
}

func (t *RemoteTrack) Close() error { return nil }

type LocalParticipant struct {
	room *Room
	sid  domain.ParticipantSID

	mu         sync.Mutex
	pubs       []*LocalPublication
	sent       []string
	publishErr error
}

var _ core.LocalParticipant = (*LocalParticipant)(nil)

func (lp *LocalParticipant) SID() domain.ParticipantSID { return lp.sid }

// FailPublish makes every following PublishTrack fail with err, nil resets.
func (lp *LocalParticipant) FailPublish(err error) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.publishErr = err
}

func (lp *LocalParticipant) PublishTrack(_ context.Context, track core.LocalTrack) (core.LocalPublication, error) {
	if lp.room.Closed() {
		return nil, ErrRoomClosed
	}
	lp.mu.Lock()
	if lp.publishErr != nil {
		err := lp.publishErr
		lp.mu.Unlock()
		return nil, err
	}
	pub := &LocalPublication{
		owner: lp,
		sid:   domain.TrackSID(newSID("TR_")),
		track: track,
		kind:  track.Kind(),
	}
	lp.pubs = append(lp.pubs, pub)
	lp.mu.Unlock()

	if lp.room.echo {
		echo := lp.room.echoParticipant()
		remote := echo.AddTrack(pub.kind, domain.TrackSID(fmt.Sprintf("%s_echo", pub.sid)), "echo-"+string(pub.kind), true)
		track.Attach(remote)
		pub.echo = remote
	}
	return pub, nil
}

func (lp *LocalParticipant) Publications(kind domain.TrackKind) []core.LocalPublication {
	var out []core.LocalPublication
	for _, pub := range lp.publications() {
		if pub.kind == kind {
			out = append(out, pub)
		}
	}
	return out
}

func (lp *LocalParticipant) publications() []*LocalPublication {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return append([]*LocalPublication(nil), lp.pubs...)
}

// PublishedTrackIDs lists the local track instances currently published.
func (lp *LocalParticipant) PublishedTrackIDs(kind domain.TrackKind) []string {
	var ids []string
	for _, pub := range lp.publications() {
		if pub.kind == kind {
			ids = append(ids, pub.track.ID())
		}
	}
	return ids
}

func (lp *LocalParticipant) SendData(_ context.Context, payload []byte) error {
	if lp.room.Closed() {
		return ErrRoomClosed
	}
	lp.mu.Lock()
	lp.sent = append(lp.sent, string(payload))
	lp.mu.Unlock()

	if lp.room.echo {
		echo := lp.room.echoParticipant()
		pub := echo.Publication("echo-data")
		if pub == nil {
			pub = echo.Publish(domain.TrackKindData, "echo-data", "echo-data", true)
		}
		pub.Subscribe().Send(string(payload))
	}
	return nil
}

func (lp *LocalParticipant) Sent() []string {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	return append([]string(nil), lp.sent...)
}

func (lp *LocalParticipant) unpublishAll() {
	for _, pub := range lp.publications() {
		_ = pub.Unpublish()
	}
}

type LocalPublication struct {
	owner *LocalParticipant
	sid   domain.TrackSID
	track core.LocalTrack
	kind  domain.TrackKind
	echo  *RemoteTrack
}

var _ core.LocalPublication = (*LocalPublication)(nil)

func (pub *LocalPublication) TrackSID() domain.TrackSID { return pub.sid }

func (pub *LocalPublication) LocalTrackID() string { return pub.track.ID() }

func (pub *LocalPublication) Kind() domain.TrackKind { return pub.kind }

// Unpublish removes the publication. Unpublishing twice is a no-op.
func (pub *LocalPublication) Unpublish() error {
	lp := pub.owner
	lp.mu.Lock()
	found := false
	for i, p := range lp.pubs {
		if p == pub {
			lp.pubs = append(lp.pubs[:i], lp.pubs[i+1:]...)
			found = true
			break
		}
	}
	lp.mu.Unlock()
	if !found {
		return nil
	}
	if pub.echo != nil {
		pub.track.Detach(pub.echo)
		pub.echo.pub.Unsubscribe()
	}
	return nil
}
