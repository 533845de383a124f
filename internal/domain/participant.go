package domain

type ParticipantSID string

// ParticipantInfo is what listeners learn about a remote participant.
type ParticipantInfo struct {
	SID      ParticipantSID `json:"sid"`
	Identity string         `json:"identity"`
}

// NetworkQuality ranges from 0 (lost) to 5 (excellent).
type NetworkQuality int

const (
	NetworkQualityLost      NetworkQuality = 0
	NetworkQualityExcellent NetworkQuality = 5
)
