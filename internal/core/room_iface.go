package core

import (
	"context"

	"github.com/dkeye/roomsync/internal/domain"
)

// Unsubscribe removes a previously registered callback. Calling it more than once is safe.
type Unsubscribe func()

// EncodingParameters caps the send bitrates, zero means SDK default.
type EncodingParameters struct {
	MaxAudioBitrate uint64 `json:"maxAudioBitrate"`
	MaxVideoBitrate uint64 `json:"maxVideoBitrate"`
}

type ConnectOptions struct {
	Name           domain.RoomName
	Video          bool
	Audio          bool
	NetworkQuality bool
	// Tracks are published right after join. Entries may be nil.
	Tracks   []LocalTrack
	Encoding *EncodingParameters
}

// Connector is the entry point of the wrapped conferencing SDK.
type Connector interface {
	Connect(ctx context.Context, token string, opts ConnectOptions) (Room, error)
}

// Room is a live connection handle. Callbacks may fire on any goroutine,
// implementations never hold internal locks while invoking them.
type Room interface {
	Name() domain.RoomName
	SID() domain.RoomSID
	LocalParticipant() LocalParticipant
	Participants() []RemoteParticipant
	// Disconnect requests teardown and returns without waiting for OnDisconnected.
	Disconnect()
	Stats(ctx context.Context) (domain.StatsReport, error)

	OnParticipantConnected(func(RemoteParticipant)) Unsubscribe
	OnParticipantDisconnected(func(RemoteParticipant)) Unsubscribe
	// OnDisconnected fires once; err is nil for a clean local disconnect.
	OnDisconnected(func(err error)) Unsubscribe
	OnNetworkQuality(func(p domain.ParticipantInfo, level domain.NetworkQuality)) Unsubscribe
}

type RemoteParticipant interface {
	SID() domain.ParticipantSID
	Identity() string
	Publications() []RemotePublication
	OnTrackSubscribed(func(track RemoteTrack, pub RemotePublication)) Unsubscribe
}

type RemotePublication interface {
	TrackSID() domain.TrackSID
	TrackName() string
	Kind() domain.TrackKind
	IsSubscribed() bool
	IsTrackEnabled() bool
	// Track is nil until subscribed.
	Track() RemoteTrack
	OnUnsubscribed(func()) Unsubscribe
}

type RemoteTrack interface {
	SID() domain.TrackSID
	Name() string
	Kind() domain.TrackKind
	IsEnabled() bool
	Attach(Sink)
	Detach(Sink)
	OnEnabledChanged(func(enabled bool)) Unsubscribe
	// OnMessage only fires for data tracks.
	OnMessage(func(msg string)) Unsubscribe
}

type LocalParticipant interface {
	SID() domain.ParticipantSID
	PublishTrack(ctx context.Context, track LocalTrack) (LocalPublication, error)
	Publications(kind domain.TrackKind) []LocalPublication
	SendData(ctx context.Context, payload []byte) error
}

type LocalPublication interface {
	TrackSID() domain.TrackSID
	// LocalTrackID is the ID of the published LocalTrack instance.
	LocalTrackID() string
	Kind() domain.TrackKind
	Unpublish() error
}
