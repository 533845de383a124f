package conference

import (
	"context"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomsync/internal/adapters/media"
	"github.com/dkeye/roomsync/internal/adapters/memsdk"
	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/events"
)

func packet() *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 111}, Payload: []byte{0xf8, 0xff, 0xfe}}
}

func TestExistingParticipantsReportedAfterConnect(t *testing.T) {
	h := newHarness(t)
	h.conn.Prepare("a", func(r *memsdk.Room) {
		alice := r.AddParticipant("PA_1", "alice")
		alice.AddTrack(domain.TrackKindVideo, "TR_V1", "camera", true)
		alice.AddTrack(domain.TrackKindAudio, "TR_A1", "mic", false)
		alice.Publish(domain.TrackKindVideo, "TR_V2", "screen", true)
		bob := r.AddParticipant("PA_2", "bob")
		bob.AddTrack(domain.TrackKindData, "TR_D2", "chat", true)
	})
	h.connect(t, "a")

	evs := h.events()
	require.Len(t, evs, 6)
	connected := evs[0].(events.RoomDidConnect)
	assert.Equal(t, []domain.ParticipantInfo{
		{SID: "PA_1", Identity: "alice"},
		{SID: "PA_2", Identity: "bob"},
	}, connected.Participants)
	assert.Equal(t, []events.Name{
		events.NameRoomDidConnect,
		events.NameRoomParticipantDidConnect,
		events.NameParticipantAddedVideoTrack,
		events.NameParticipantAddedAudioTrack,
		events.NameRoomParticipantDidConnect,
		events.NameParticipantAddedDataTrack,
	}, h.names())

	audio := evs[3].(events.ParticipantAddedAudioTrack)
	assert.Equal(t, domain.TrackInfo{Enabled: false, TrackName: "mic", TrackSID: "TR_A1"}, audio.Track)
	assert.Equal(t, domain.ParticipantSID("PA_1"), audio.Participant.SID)

	s := h.conf.State()
	require.Len(t, s.Participants, 2)
	assert.Equal(t, "alice", s.Participants[0].Identity)
	require.Len(t, s.Participants[0].Tracks, 2)
	assert.Equal(t, domain.TrackSID("TR_A1"), s.Participants[0].Tracks[0].TrackSID)
	assert.Equal(t, domain.TrackSID("TR_V1"), s.Participants[0].Tracks[1].TrackSID)
}

func TestParticipantLifecycle(t *testing.T) {
	h := newHarness(t)
	room := h.connect(t, "a")
	h.clear()

	alice := room.AddParticipant("PA_1", "alice")
	video := alice.AddTrack(domain.TrackKindVideo, "TR_V", "camera", true)
	audio := alice.AddTrack(domain.TrackKindAudio, "TR_A", "mic", true)
	video.SetEnabled(false)
	video.SetEnabled(false)
	audio.SetEnabled(false)
	audio.SetEnabled(true)
	video.SetEnabled(true)
	alice.Publication("TR_V").Unsubscribe()
	room.RemoveParticipant("PA_1")

	assert.Equal(t, []events.Name{
		events.NameRoomParticipantDidConnect,
		events.NameParticipantAddedVideoTrack,
		events.NameParticipantAddedAudioTrack,
		events.NameParticipantDisabledVideoTrack,
		events.NameParticipantDisabledAudioTrack,
		events.NameParticipantEnabledAudioTrack,
		events.NameParticipantEnabledVideoTrack,
		events.NameParticipantRemovedVideoTrack,
		events.NameParticipantRemovedAudioTrack,
		events.NameRoomParticipantDidDisconnect,
	}, h.names())

	evs := h.events()
	disabled := evs[3].(events.ParticipantDisabledVideoTrack)
	assert.False(t, disabled.Track.Enabled)
	removed := evs[7].(events.ParticipantRemovedVideoTrack)
	assert.True(t, removed.Track.Enabled)

	assert.Empty(t, h.conf.State().Participants)
	assert.True(t, h.sinks.audioSink("PA_1").Closed())
}

func TestRemoteAudioMuteIsPerParticipant(t *testing.T) {
	h := newHarness(t)
	room := h.connect(t, "a")
	aliceMic := room.AddParticipant("PA_1", "alice").AddTrack(domain.TrackKindAudio, "TR_A1", "mic", true)
	bobMic := room.AddParticipant("PA_2", "bob").AddTrack(domain.TrackKindAudio, "TR_A2", "mic", true)

	h.conf.SetRemoteAudioPlayback("PA_1", false)
	require.NoError(t, aliceMic.WriteRTP(packet()))
	require.NoError(t, bobMic.WriteRTP(packet()))

	assert.Zero(t, h.sinks.audioSink("PA_1").Packets())
	assert.Equal(t, uint64(1), h.sinks.audioSink("PA_2").Packets())
	// The sender side is untouched.
	assert.True(t, aliceMic.IsEnabled())

	s := h.conf.State()
	assert.True(t, s.Participants[0].AudioMuted)
	assert.False(t, s.Participants[1].AudioMuted)

	assert.False(t, h.conf.SetRemoteAudioEnabled(false))
	require.NoError(t, bobMic.WriteRTP(packet()))
	assert.Equal(t, uint64(1), h.sinks.audioSink("PA_2").Packets())

	assert.True(t, h.conf.SetRemoteAudioEnabled(true))
	require.NoError(t, aliceMic.WriteRTP(packet()))
	require.NoError(t, bobMic.WriteRTP(packet()))
	assert.Equal(t, uint64(1), h.sinks.audioSink("PA_1").Packets())
	assert.Equal(t, uint64(2), h.sinks.audioSink("PA_2").Packets())
}

func TestDisabledRemoteAudioMutesOnlyThatParticipant(t *testing.T) {
	h := newHarness(t)
	room := h.connect(t, "a")
	alice := room.AddParticipant("PA_1", "alice")
	aliceMic := alice.AddTrack(domain.TrackKindAudio, "TR_A1", "mic", true)
	bobMic := room.AddParticipant("PA_2", "bob").AddTrack(domain.TrackKindAudio, "TR_A2", "mic", true)
	h.clear()

	aliceMic.SetEnabled(false)
	require.NoError(t, aliceMic.WriteRTP(packet()))
	require.NoError(t, bobMic.WriteRTP(packet()))

	assert.Zero(t, h.sinks.audioSink("PA_1").Packets())
	assert.Equal(t, uint64(1), h.sinks.audioSink("PA_2").Packets())

	evs := h.events()
	require.Len(t, evs, 1)
	ev := evs[0].(events.ParticipantDisabledAudioTrack)
	assert.Equal(t, domain.ParticipantSID("PA_1"), ev.Participant.SID)
	assert.Equal(t, domain.TrackSID("TR_A1"), ev.Track.TrackSID)
	assert.False(t, ev.Track.Enabled)

	s := h.conf.State()
	assert.True(t, s.Participants[0].AudioMuted)
	assert.False(t, s.Participants[1].AudioMuted)

	aliceMic.SetEnabled(true)
	require.NoError(t, aliceMic.WriteRTP(packet()))
	assert.Equal(t, uint64(1), h.sinks.audioSink("PA_1").Packets())
	assert.Equal(t, []events.Name{events.NameParticipantDisabledAudioTrack, events.NameParticipantEnabledAudioTrack}, h.names())
}

func TestRemoteAudioAddedDisabledStartsMuted(t *testing.T) {
	h := newHarness(t)
	room := h.connect(t, "a")
	mic := room.AddParticipant("PA_1", "alice").AddTrack(domain.TrackKindAudio, "TR_A1", "mic", false)

	require.NoError(t, mic.WriteRTP(packet()))
	assert.Zero(t, h.sinks.audioSink("PA_1").Packets())
	assert.True(t, h.conf.State().Participants[0].AudioMuted)

	mic.SetEnabled(true)
	require.NoError(t, mic.WriteRTP(packet()))
	assert.Equal(t, uint64(1), h.sinks.audioSink("PA_1").Packets())
}

func TestParticipantViewWaitsForTrack(t *testing.T) {
	h := newHarness(t)
	view := media.NewDiscardSink("alice-view")
	h.conf.AttachParticipantView(view, "PA_1", "TR_V")

	room := h.connect(t, "a")
	alice := room.AddParticipant("PA_1", "alice")
	video := alice.AddTrack(domain.TrackKindVideo, "TR_V", "camera", true)
	assert.True(t, video.HasSink(view.ID()))

	require.NoError(t, video.WriteRTP(packet()))
	assert.Equal(t, uint64(1), view.Packets())

	h.conf.DetachParticipantView(view, "PA_1", "TR_V")
	assert.False(t, video.HasSink(view.ID()))

	h.conf.AttachParticipantView(view, "PA_1", "TR_V")
	assert.True(t, video.HasSink(view.ID()))
	alice.Publication("TR_V").Unsubscribe()
	assert.False(t, video.HasSink(view.ID()))
	assert.False(t, view.Closed())
}

func TestDataTrackMessages(t *testing.T) {
	h := newHarness(t)
	room := h.connect(t, "a")
	chat := room.AddParticipant("PA_1", "alice").AddTrack(domain.TrackKindData, "TR_D", "chat", true)
	h.clear()

	chat.Send("hello")

	evs := h.events()
	require.Len(t, evs, 1)
	msg := evs[0].(events.DataTrackMessageReceived)
	assert.Equal(t, "hello", msg.Message)
	assert.Equal(t, "alice", msg.Participant.Identity)
	assert.Equal(t, domain.TrackSID("TR_D"), msg.Track.TrackSID)
}

func TestNetworkQualityOnlyWhenRequested(t *testing.T) {
	h := newHarness(t)
	room := h.connect(t, "a")
	room.SetNetworkQuality(domain.ParticipantInfo{SID: "PA_1"}, 3)
	h.conf.Disconnect()

	require.NoError(t, h.conf.Connect(context.Background(), ConnectRequest{
		RoomName:             "b",
		Token:                "token",
		EnableNetworkQuality: true,
	}))
	h.clear()
	h.conn.Room("b").SetNetworkQuality(domain.ParticipantInfo{SID: "PA_1", Identity: "alice"}, 4)

	evs := h.events()
	require.Len(t, evs, 1)
	ev := evs[0].(events.NetworkQualityLevelsChanged)
	assert.Equal(t, domain.NetworkQuality(4), ev.Level)
	assert.Equal(t, "alice", ev.Participant.Identity)
}

func TestTeardownReleasesEverySubscription(t *testing.T) {
	h := newHarness(t)
	h.conn.Prepare("a", func(r *memsdk.Room) {
		p := r.AddParticipant("PA_1", "alice")
		p.AddTrack(domain.TrackKindVideo, "TR_V", "camera", true)
		p.AddTrack(domain.TrackKindAudio, "TR_A", "mic", true)
		p.AddTrack(domain.TrackKindData, "TR_D", "chat", true)
	})
	first := h.connect(t, "a")
	require.NotZero(t, first.ListenerCount())

	h.conf.Disconnect()
	assert.Zero(t, first.ListenerCount())
	assert.True(t, h.sinks.audioSink("PA_1").Closed())

	second := h.connect(t, "a")
	h.clear()

	// The old room is silent.
	first.AddParticipant("PA_9", "ghost")
	first.DropConnection(nil)

	second.AddParticipant("PA_2", "bob")
	assert.Equal(t, []events.Name{events.NameRoomParticipantDidConnect}, h.names())
	assert.Len(t, h.conf.State().Participants, 2)
}

func TestRoomEventsGatedByListening(t *testing.T) {
	h := newHarness(t)
	room := h.connect(t, "a")
	h.conf.SetListening(false)
	h.clear()

	room.AddParticipant("PA_1", "alice")
	assert.Empty(t, h.names())

	h.conf.SetListening(true)
	room.AddParticipant("PA_2", "bob")
	assert.Equal(t, []events.Name{events.NameRoomParticipantDidConnect}, h.names())
	// The mirror keeps tracking while events are gated.
	assert.Len(t, h.conf.State().Participants, 2)
}

func TestEchoRoomMirrorsLocalMedia(t *testing.T) {
	h := newHarness(t)
	h.conn = memsdk.NewConnector(memsdk.WithEcho())
	h.conf.connector = h.conn
	ctx := context.Background()

	require.NoError(t, h.conf.StartLocalAudio(ctx))
	h.connect(t, "a")
	require.NoError(t, h.conf.SendString(ctx, "ping"))

	s := h.conf.State()
	require.Len(t, s.Participants, 1)
	assert.Equal(t, memsdk.EchoIdentity, s.Participants[0].Identity)
	kinds := map[domain.TrackKind]bool{}
	for _, tr := range s.Participants[0].Tracks {
		kinds[tr.Kind] = true
	}
	assert.True(t, kinds[domain.TrackKindAudio])
	assert.True(t, kinds[domain.TrackKindData])

	evs := h.events()
	last := evs[len(evs)-1].(events.DataTrackMessageReceived)
	assert.Equal(t, "ping", last.Message)
}
