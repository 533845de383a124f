package domain

type (
	TrackSID  string
	TrackKind string
)

const (
	TrackKindVideo TrackKind = "video"
	TrackKindAudio TrackKind = "audio"
	TrackKindData  TrackKind = "data"
)

// TrackInfo is the snapshot carried by every track event.
// Removal events reuse the last snapshot taken while the track was live.
type TrackInfo struct {
	Enabled   bool     `json:"enabled"`
	TrackName string   `json:"trackName"`
	TrackSID  TrackSID `json:"trackSid"`
}

type AcquisitionState int

const (
	AcquisitionIdle AcquisitionState = iota
	Acquiring
	AcquisitionActive
	AcquisitionStopped
)

func (s AcquisitionState) String() string {
	switch s {
	case Acquiring:
		return "acquiring"
	case AcquisitionActive:
		return "active"
	case AcquisitionStopped:
		return "stopped"
	default:
		return "idle"
	}
}

func (s AcquisitionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TrackStats is a per-track counter sample reported by the SDK.
type TrackStats struct {
	TrackSID    TrackSID       `json:"trackSid"`
	Kind        TrackKind      `json:"kind"`
	Participant ParticipantSID `json:"participantSid,omitempty"`
	Packets     uint64         `json:"packets"`
	Bytes       uint64         `json:"bytes"`
}

// StatsReport is the payload of a stats request.
type StatsReport struct {
	RoomSID      RoomSID      `json:"roomSid"`
	Participants int          `json:"participants"`
	LocalTracks  []TrackStats `json:"localTracks"`
	RemoteTracks []TrackStats `json:"remoteTracks"`
}
