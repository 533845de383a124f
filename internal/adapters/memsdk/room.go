package memsdk

import (
	"context"
	"sync"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/util"
)

const EchoIdentity = "echo"

type qualityUpdate struct {
	participant domain.ParticipantInfo
	level       domain.NetworkQuality
}

type Room struct {
	name  domain.RoomName
	sid   domain.RoomSID
	local *LocalParticipant
	echo  bool

	echoMu sync.Mutex

	mu           sync.Mutex
	participants []*RemoteParticipant
	closed       bool
	closeErr     error
	disconnects  int

	connectedL    util.Listeners[core.RemoteParticipant]
	disconnectedL util.Listeners[core.RemoteParticipant]
	closedL       util.Listeners[error]
	qualityL      util.Listeners[qualityUpdate]
}

var _ core.Room = (*Room)(nil)

func newRoom(name domain.RoomName, echo bool) *Room {
	r := &Room{
		name: name,
		sid:  domain.RoomSID(newSID("RM_")),
		echo: echo,
	}
	r.local = &LocalParticipant{room: r, sid: domain.ParticipantSID(newSID("PA_"))}
	return r
}

func (r *Room) Name() domain.RoomName { return r.name }

func (r *Room) SID() domain.RoomSID { return r.sid }

func (r *Room) LocalParticipant() core.LocalParticipant { return r.local }

// Local gives tests access to the local participant's recordings.
func (r *Room) Local() *LocalParticipant { return r.local }

func (r *Room) Participants() []core.RemoteParticipant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.RemoteParticipant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p)
	}
	return out
}

func (r *Room) Participant(sid domain.ParticipantSID) *RemoteParticipant {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.participants {
		if p.sid == sid {
			return p
		}
	}
	return nil
}

// Disconnect closes the room. OnDisconnected fires on another goroutine.
func (r *Room) Disconnect() {
	r.mu.Lock()
	r.disconnects++
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.mu.Unlock()

	r.local.unpublishAll()
	go r.closedL.Notify(nil)
}

// DropConnection simulates a remote disconnect.
func (r *Room) DropConnection(err error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.closeErr = err
	r.mu.Unlock()

	r.local.unpublishAll()
	r.closedL.Notify(err)
}

func (r *Room) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Room) DisconnectCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnects
}

func (r *Room) Stats(context.Context) (domain.StatsReport, error) {
	r.mu.Lock()
	participants := append([]*RemoteParticipant(nil), r.participants...)
	r.mu.Unlock()

	report := domain.StatsReport{
		RoomSID:      r.sid,
		Participants: len(participants),
		LocalTracks:  []domain.TrackStats{},
		RemoteTracks: []domain.TrackStats{},
	}
	for _, pub := range r.local.publications() {
		report.LocalTracks = append(report.LocalTracks, domain.TrackStats{
			TrackSID:    pub.sid,
			Kind:        pub.kind,
			Participant: r.local.sid,
		})
	}
	for _, p := range participants {
		for _, pub := range p.publications() {
			t := pub.track()
			if t == nil {
				continue
			}
			packets, bytes := t.relay.Counters()
			report.RemoteTracks = append(report.RemoteTracks, domain.TrackStats{
				TrackSID:    pub.sid,
				Kind:        pub.kind,
				Participant: p.sid,
				Packets:     packets,
				Bytes:       bytes,
			})
		}
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

// AddParticipant joins a scripted remote participant.
func (r *Room) AddParticipant(sid domain.ParticipantSID, identity string) *RemoteParticipant {
	p := &RemoteParticipant{room: r, sid: sid, identity: identity}
	r.mu.Lock()
	r.participants = append(r.participants, p)
	r.mu.Unlock()
	r.connectedL.Notify(p)
	return p
}

// RemoveParticipant makes a remote participant leave. Its subscriptions end first.
func (r *Room) RemoveParticipant(sid domain.ParticipantSID) {
	r.mu.Lock()
	var p *RemoteParticipant
	for i, rp := range r.participants {
		if rp.sid == sid {
			p = rp
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	if p == nil {
		return
	}
	for _, pub := range p.publications() {
		pub.Unsubscribe()
	}
	r.disconnectedL.Notify(p)
}

// SetNetworkQuality reports a quality level for a participant.
func (r *Room) SetNetworkQuality(p domain.ParticipantInfo, level domain.NetworkQuality) {
	r.qualityL.Notify(qualityUpdate{participant: p, level: level})
}

// ListenerCount is the number of callbacks registered on the room and
// everything in it.
func (r *Room) ListenerCount() int {
	r.mu.Lock()
	participants := append([]*RemoteParticipant(nil), r.participants...)
	r.mu.Unlock()
	n := r.connectedL.Len() + r.disconnectedL.Len() + r.closedL.Len() + r.qualityL.Len()
	for _, p := range participants {
		n += p.listenerCount()
	}
	return n
}

func (r *Room) echoParticipant() *RemoteParticipant {
	r.echoMu.Lock()
	defer r.echoMu.Unlock()
	r.mu.Lock()
	for _, p := range r.participants {
		if p.identity == EchoIdentity {
			r.mu.Unlock()
			return p
		}
	}
	r.mu.Unlock()
	return r.AddParticipant(domain.ParticipantSID(newSID("PA_")), EchoIdentity)
}
