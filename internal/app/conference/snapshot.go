package conference

import (
	"slices"
	"strings"

	"github.com/dkeye/roomsync/internal/domain"
)

type MediaSnapshot struct {
	State   domain.AcquisitionState `json:"state"`
	TrackID string                  `json:"trackId,omitempty"`
}

type TrackSnapshot struct {
	domain.TrackInfo
	Kind domain.TrackKind `json:"kind"`
}

type ParticipantSnapshot struct {
	domain.ParticipantInfo
	Tracks     []TrackSnapshot `json:"tracks"`
	AudioMuted bool            `json:"audioMuted"`
}

// Snapshot is a consistent copy of the session state.
type Snapshot struct {
	State        domain.ConnectionState `json:"state"`
	RoomName     domain.RoomName        `json:"roomName,omitempty"`
	RoomSID      domain.RoomSID         `json:"roomSid,omitempty"`
	Listening    bool                   `json:"listening"`
	Video        MediaSnapshot          `json:"video"`
	Audio        MediaSnapshot          `json:"audio"`
	Participants []ParticipantSnapshot  `json:"participants"`
}

func (c *Conference) State() Snapshot {
	listening := c.bus.Listening()

	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		State:        c.state,
		RoomName:     c.roomName,
		Listening:    listening,
		Video:        mediaSnapshot(c.video),
		Audio:        mediaSnapshot(c.audio),
		Participants: []ParticipantSnapshot{},
	}
	if c.mirror == nil {
		return s
	}
	s.RoomSID = c.mirror.roomSID
	for _, psid := range c.mirror.order {
		mp := c.mirror.participants[psid]
		ps := ParticipantSnapshot{ParticipantInfo: mp.info, Tracks: []TrackSnapshot{}}
		ps.AudioMuted, _ = c.audioOut.mutedLocked(psid)
		for _, mt := range mp.tracks {
			ps.Tracks = append(ps.Tracks, TrackSnapshot{TrackInfo: mt.info, Kind: mt.kind})
		}
		slices.SortFunc(ps.Tracks, func(a, b TrackSnapshot) int {
			return strings.Compare(string(a.TrackSID), string(b.TrackSID))
		})
		s.Participants = append(s.Participants, ps)
	}
	return s
}

func mediaSnapshot(m *localMedia) MediaSnapshot {
	s := MediaSnapshot{State: m.state}
	if m.track != nil {
		s.TrackID = m.track.ID()
	}
	return s
}
