// Package events holds the normalized event catalog and the bus that delivers it.
package events

import "github.com/dkeye/roomsync/internal/domain"

type Name string

const (
	NameRoomDidConnect                Name = "roomDidConnect"
	NameRoomDidDisconnect             Name = "roomDidDisconnect"
	NameRoomDidFailToConnect          Name = "roomDidFailToConnect"
	NameRoomParticipantDidConnect     Name = "roomParticipantDidConnect"
	NameRoomParticipantDidDisconnect  Name = "roomParticipantDidDisconnect"
	NameParticipantAddedVideoTrack    Name = "participantAddedVideoTrack"
	NameParticipantRemovedVideoTrack  Name = "participantRemovedVideoTrack"
	NameParticipantAddedDataTrack     Name = "participantAddedDataTrack"
	NameParticipantRemovedDataTrack   Name = "participantRemovedDataTrack"
	NameParticipantAddedAudioTrack    Name = "participantAddedAudioTrack"
	NameParticipantRemovedAudioTrack  Name = "participantRemovedAudioTrack"
	NameParticipantEnabledVideoTrack  Name = "participantEnabledVideoTrack"
	NameParticipantDisabledVideoTrack Name = "participantDisabledVideoTrack"
	NameParticipantEnabledAudioTrack  Name = "participantEnabledAudioTrack"
	NameParticipantDisabledAudioTrack Name = "participantDisabledAudioTrack"
	NameDataTrackMessageReceived      Name = "dataTrackMessageReceived"
	NameCameraDidStart                Name = "cameraDidStart"
	NameCameraDidStopRunning          Name = "cameraDidStopRunning"
	NameCameraWasInterrupted          Name = "cameraWasInterrupted"
	NameCameraInterruptionEnded       Name = "cameraInterruptionEnded"
	NameStatsReceived                 Name = "statsReceived"
	NameNetworkQualityLevelsChanged   Name = "networkQualityLevelsChanged"
)

// Catalog lists every event name in a stable order.
var Catalog = []Name{
	NameRoomDidConnect,
	NameRoomDidDisconnect,
	NameRoomDidFailToConnect,
	NameRoomParticipantDidConnect,
	NameRoomParticipantDidDisconnect,
	NameParticipantAddedVideoTrack,
	NameParticipantRemovedVideoTrack,
	NameParticipantAddedDataTrack,
	NameParticipantRemovedDataTrack,
	NameParticipantAddedAudioTrack,
	NameParticipantRemovedAudioTrack,
	NameParticipantEnabledVideoTrack,
	NameParticipantDisabledVideoTrack,
	NameParticipantEnabledAudioTrack,
	NameParticipantDisabledAudioTrack,
	NameDataTrackMessageReceived,
	NameCameraDidStopRunning,
	NameCameraDidStart,
	NameCameraWasInterrupted,
	NameCameraInterruptionEnded,
	NameStatsReceived,
	NameNetworkQualityLevelsChanged,
}

// Event is one entry of the catalog. The concrete type carries the payload.
type Event interface {
	Name() Name
}

// RoomScoped reports whether ev is suppressed while the bus is not listening.
// Camera lifecycle and stats are always delivered.
func RoomScoped(ev Event) bool {
	switch ev.(type) {
	case CameraDidStart, CameraDidStopRunning, CameraWasInterrupted, CameraInterruptionEnded, StatsReceived:
		return false
	default:
		return true
	}
}

type RoomDidConnect struct {
	RoomName     domain.RoomName          `json:"roomName"`
	RoomSID      domain.RoomSID           `json:"roomSid"`
	Participants []domain.ParticipantInfo `json:"participants"`
}

type RoomDidDisconnect struct {
	RoomName domain.RoomName `json:"roomName"`
	Error    string          `json:"error,omitempty"`
}

// RoomDidFailToConnect never carries a room SID, the field stays for payload compatibility.
type RoomDidFailToConnect struct {
	RoomName domain.RoomName `json:"roomName"`
	RoomSID  *domain.RoomSID `json:"roomSid"`
	Error    string          `json:"error"`
}

type ParticipantEvent struct {
	RoomName    domain.RoomName        `json:"roomName"`
	RoomSID     domain.RoomSID         `json:"roomSid"`
	Participant domain.ParticipantInfo `json:"participant"`
}

type (
	RoomParticipantDidConnect    struct{ ParticipantEvent }
	RoomParticipantDidDisconnect struct{ ParticipantEvent }
)

type TrackEvent struct {
	Participant domain.ParticipantInfo `json:"participant"`
	Track       domain.TrackInfo       `json:"track"`
}

type (
	ParticipantAddedVideoTrack    struct{ TrackEvent }
	ParticipantRemovedVideoTrack  struct{ TrackEvent }
	ParticipantAddedDataTrack     struct{ TrackEvent }
	ParticipantRemovedDataTrack   struct{ TrackEvent }
	ParticipantAddedAudioTrack    struct{ TrackEvent }
	ParticipantRemovedAudioTrack  struct{ TrackEvent }
	ParticipantEnabledVideoTrack  struct{ TrackEvent }
	ParticipantDisabledVideoTrack struct{ TrackEvent }
	ParticipantEnabledAudioTrack  struct{ TrackEvent }
	ParticipantDisabledAudioTrack struct{ TrackEvent }
)

type DataTrackMessageReceived struct {
	Message     string                 `json:"message"`
	Participant domain.ParticipantInfo `json:"participant"`
	Track       domain.TrackInfo       `json:"track"`
}

type CameraDidStart struct{}

type CameraDidStopRunning struct {
	Error string `json:"error,omitempty"`
}

type CameraWasInterrupted struct {
	Reason string `json:"reason,omitempty"`
}

type CameraInterruptionEnded struct{}

type StatsReceived struct {
	domain.StatsReport
}

type NetworkQualityLevelsChanged struct {
	Participant domain.ParticipantInfo `json:"participant"`
	Level       domain.NetworkQuality  `json:"level"`
}

func (RoomDidConnect) Name() Name                { return NameRoomDidConnect }
func (RoomDidDisconnect) Name() Name             { return NameRoomDidDisconnect }
func (RoomDidFailToConnect) Name() Name          { return NameRoomDidFailToConnect }
func (RoomParticipantDidConnect) Name() Name     { return NameRoomParticipantDidConnect }
func (RoomParticipantDidDisconnect) Name() Name  { return NameRoomParticipantDidDisconnect }
func (ParticipantAddedVideoTrack) Name() Name    { return NameParticipantAddedVideoTrack }
func (ParticipantRemovedVideoTrack) Name() Name  { return NameParticipantRemovedVideoTrack }
func (ParticipantAddedDataTrack) Name() Name     { return NameParticipantAddedDataTrack }
func (ParticipantRemovedDataTrack) Name() Name   { return NameParticipantRemovedDataTrack }
func (ParticipantAddedAudioTrack) Name() Name    { return NameParticipantAddedAudioTrack }
func (ParticipantRemovedAudioTrack) Name() Name  { return NameParticipantRemovedAudioTrack }
func (ParticipantEnabledVideoTrack) Name() Name  { return NameParticipantEnabledVideoTrack }
func (ParticipantDisabledVideoTrack) Name() Name { return NameParticipantDisabledVideoTrack }
func (ParticipantEnabledAudioTrack) Name() Name  { return NameParticipantEnabledAudioTrack }
func (ParticipantDisabledAudioTrack) Name() Name { return NameParticipantDisabledAudioTrack }
func (DataTrackMessageReceived) Name() Name      { return NameDataTrackMessageReceived }
func (CameraDidStart) Name() Name                { return NameCameraDidStart }
func (CameraDidStopRunning) Name() Name          { return NameCameraDidStopRunning }
func (CameraWasInterrupted) Name() Name          { return NameCameraWasInterrupted }
func (CameraInterruptionEnded) Name() Name       { return NameCameraInterruptionEnded }
func (StatsReceived) Name() Name                 { return NameStatsReceived }
func (NetworkQualityLevelsChanged) Name() Name   { return NameNetworkQualityLevelsChanged }
