package conference

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomsync/internal/domain"
	"github.com/dkeye/roomsync/internal/events"
)

func TestConnectEmitsRoomDidConnect(t *testing.T) {
	h := newHarness(t)
	room := h.connect(t, "standup")

	evs := h.events()
	require.Len(t, evs, 1)
	ev := evs[0].(events.RoomDidConnect)
	assert.Equal(t, domain.RoomName("standup"), ev.RoomName)
	assert.Equal(t, room.SID(), ev.RoomSID)
	assert.Empty(t, ev.Participants)

	s := h.conf.State()
	assert.Equal(t, domain.Connected, s.State)
	assert.Equal(t, room.SID(), s.RoomSID)
}

func TestConnectWhileConnectedIsRejected(t *testing.T) {
	h := newHarness(t)
	room := h.connect(t, "a")

	err := h.conf.Connect(context.Background(), ConnectRequest{RoomName: "b", Token: "token"})
	assert.ErrorIs(t, err, ErrSessionActive)
	assert.Equal(t, 1, h.conn.Connects())
	assert.False(t, room.Closed())
	assert.Equal(t, domain.RoomName("a"), h.conf.State().RoomName)
}

func TestConnectWhileConnectingIsRejected(t *testing.T) {
	h := newHarness(t)
	release := h.conn.Hold()

	done := make(chan error, 1)
	go func() {
		done <- h.conf.Connect(context.Background(), ConnectRequest{RoomName: "a", Token: "token"})
	}()
	require.Eventually(t, func() bool { return h.conf.State().State == domain.Connecting }, time.Second, time.Millisecond)

	err := h.conf.Connect(context.Background(), ConnectRequest{RoomName: "a", Token: "token"})
	assert.ErrorIs(t, err, ErrSessionActive)

	release()
	require.NoError(t, <-done)
	assert.Equal(t, domain.Connected, h.conf.State().State)
}

func TestConnectFailure(t *testing.T) {
	h := newHarness(t)
	h.conn.FailNext(errors.New("bad credentials"))

	err := h.conf.Connect(context.Background(), ConnectRequest{RoomName: "a", Token: "token"})
	require.ErrorIs(t, err, ErrConnectFailed)

	evs := h.events()
	require.Len(t, evs, 1)
	ev := evs[0].(events.RoomDidFailToConnect)
	assert.Equal(t, domain.RoomName("a"), ev.RoomName)
	assert.Nil(t, ev.RoomSID)
	assert.Equal(t, "bad credentials", ev.Error)
	assert.Equal(t, domain.Disconnected, h.conf.State().State)

	// Retry is valid from the rest state.
	h.connect(t, "a")
	assert.Equal(t, domain.Connected, h.conf.State().State)
}

func TestConnectRejectsEmptyRoomName(t *testing.T) {
	h := newHarness(t)
	err := h.conf.Connect(context.Background(), ConnectRequest{Token: "token"})
	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.ErrorIs(t, err, domain.ErrRoomNameEmpty)
	assert.Equal(t, []events.Name{events.NameRoomDidFailToConnect}, h.names())
	assert.Equal(t, 0, h.conn.Connects())
}

func TestDisconnectTwiceIsNoop(t *testing.T) {
	h := newHarness(t)
	room := h.connect(t, "a")

	h.conf.Disconnect()
	h.conf.Disconnect()

	assert.Equal(t, 1, room.DisconnectCalls())
	assert.Equal(t, domain.Disconnected, h.conf.State().State)
	// Give the SDK's late disconnect callback a chance to arrive.
	time.Sleep(10 * time.Millisecond)
	h.bus.Flush()
	assert.Equal(t, 1, h.rec.count(events.NameRoomDidDisconnect))
}

func TestDisconnectWithoutSession(t *testing.T) {
	h := newHarness(t)
	h.conf.Disconnect()
	assert.Empty(t, h.names())
}

func TestConnectAfterDisconnectIsImmediate(t *testing.T) {
	h := newHarness(t)
	first := h.connect(t, "a")
	h.conf.Disconnect()
	second := h.connect(t, "a")

	assert.NotSame(t, first, second)
	assert.Equal(t, second.SID(), h.conf.State().RoomSID)
	assert.Equal(t, []events.Name{
		events.NameRoomDidConnect,
		events.NameRoomDidDisconnect,
		events.NameRoomDidConnect,
	}, h.names())
}

func TestDisconnectWhileConnectingDropsLateRoom(t *testing.T) {
	h := newHarness(t)
	release := h.conn.Hold()

	done := make(chan error, 1)
	go func() {
		done <- h.conf.Connect(context.Background(), ConnectRequest{RoomName: "a", Token: "token"})
	}()
	require.Eventually(t, func() bool { return h.conf.State().State == domain.Connecting }, time.Second, time.Millisecond)

	h.conf.Disconnect()
	assert.Equal(t, domain.Disconnected, h.conf.State().State)
	release()
	require.ErrorIs(t, <-done, ErrConnectAbandoned)

	room := h.conn.Room("a")
	require.NotNil(t, room)
	assert.True(t, room.Closed())
	assert.Equal(t, domain.Disconnected, h.conf.State().State)
	assert.Empty(t, h.names())
}

func TestRemoteDisconnect(t *testing.T) {
	h := newHarness(t)
	room := h.connect(t, "a")

	room.DropConnection(errors.New("server shutdown"))

	evs := h.events()
	require.Len(t, evs, 2)
	ev := evs[1].(events.RoomDidDisconnect)
	assert.Equal(t, domain.RoomName("a"), ev.RoomName)
	assert.Equal(t, "server shutdown", ev.Error)
	assert.Equal(t, domain.Disconnected, h.conf.State().State)

	h.connect(t, "a")
}

func TestTeardownHookDisconnects(t *testing.T) {
	h := newHarness(t)
	room := h.connect(t, "a")
	assert.Equal(t, 1, h.hooks.Len())

	h.hooks.Fire()
	assert.True(t, room.Closed())
	assert.Equal(t, domain.Disconnected, h.conf.State().State)

	h.connect(t, "b")
	h.conf.Disconnect()
	assert.Equal(t, 0, h.hooks.Len())
}

func TestConnectPublishesExistingLocalTracks(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.conf.StartLocalVideo(context.Background()))
	require.NoError(t, h.conf.StartLocalAudio(context.Background()))

	room := h.connect(t, "a")
	assert.Len(t, room.Local().PublishedTrackIDs(domain.TrackKindVideo), 1)
	assert.Len(t, room.Local().PublishedTrackIDs(domain.TrackKindAudio), 1)
}

func TestPublishUsesCurrentTrackOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	room := h.connect(t, "a")

	require.NoError(t, h.conf.PublishLocalVideo(ctx))
	assert.Empty(t, room.Local().PublishedTrackIDs(domain.TrackKindVideo))

	require.NoError(t, h.conf.StartLocalVideo(ctx))
	require.NoError(t, h.conf.PublishLocalVideo(ctx))
	require.NoError(t, h.conf.PublishLocalVideo(ctx))
	first := h.dev.track(0)
	assert.Equal(t, []string{first.ID()}, room.Local().PublishedTrackIDs(domain.TrackKindVideo))

	h.conf.StopLocalVideo()
	assert.Empty(t, room.Local().PublishedTrackIDs(domain.TrackKindVideo))

	require.NoError(t, h.conf.StartLocalVideo(ctx))
	require.NoError(t, h.conf.PublishLocalVideo(ctx))
	second := h.dev.track(1)
	assert.Equal(t, []string{second.ID()}, room.Local().PublishedTrackIDs(domain.TrackKindVideo))
}

func TestPublishWithoutSessionIsNoop(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.conf.StartLocalAudio(context.Background()))
	assert.NoError(t, h.conf.PublishLocalAudio(context.Background()))
	assert.NoError(t, h.conf.UnpublishLocalAudio())
}

func TestPublishFailureIsReturned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	room := h.connect(t, "a")
	require.NoError(t, h.conf.StartLocalAudio(ctx))
	room.Local().FailPublish(errors.New("no permission"))

	assert.Error(t, h.conf.PublishLocalAudio(ctx))
	room.Local().FailPublish(nil)
	assert.NoError(t, h.conf.PublishLocalAudio(ctx))
	assert.Len(t, room.Local().PublishedTrackIDs(domain.TrackKindAudio), 1)
}

func TestUnpublish(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.conf.StartLocalAudio(ctx))
	room := h.connect(t, "a")

	require.NoError(t, h.conf.UnpublishLocalAudio())
	require.NoError(t, h.conf.UnpublishLocalAudio())
	assert.Empty(t, room.Local().PublishedTrackIDs(domain.TrackKindAudio))

	// The track itself keeps running.
	assert.False(t, h.dev.track(0).isStopped())
	assert.Equal(t, domain.AcquisitionActive, h.conf.State().Audio.State)
}

func TestGetStatsIsDeliveredWhileNotListening(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.conf.GetStats(context.Background()))
	assert.Empty(t, h.names())

	room := h.connect(t, "a")
	room.AddParticipant("PA_1", "alice").AddTrack(domain.TrackKindAudio, "TR_A", "mic", true)
	h.conf.SetListening(false)
	require.NoError(t, h.conf.GetStats(context.Background()))

	evs := h.events()
	last := evs[len(evs)-1].(events.StatsReceived)
	assert.Equal(t, room.SID(), last.RoomSID)
	assert.Equal(t, 1, last.Participants)
	require.Len(t, last.RemoteTracks, 1)
	assert.Equal(t, domain.TrackSID("TR_A"), last.RemoteTracks[0].TrackSID)
}

func TestSendString(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.conf.SendString(context.Background(), "hi"), ErrNoSession)

	room := h.connect(t, "a")
	require.NoError(t, h.conf.SendString(context.Background(), "hello"))
	assert.Equal(t, []string{"hello"}, room.Local().Sent())
}

func TestConcurrentCommandsSettle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 4 {
			case 0:
				_ = h.conf.Connect(ctx, ConnectRequest{RoomName: "a", Token: "token"})
			case 1:
				h.conf.Disconnect()
			case 2:
				_ = h.conf.StartLocalVideo(ctx)
			case 3:
				h.conf.StopLocalVideo()
			}
		}(i)
	}
	wg.Wait()
	h.conf.Close()

	s := h.conf.State()
	assert.Equal(t, domain.Disconnected, s.State)
	assert.Empty(t, s.Video.TrackID)
	for i := 0; i < h.dev.trackCount(); i++ {
		assert.True(t, h.dev.track(i).isStopped())
	}
}
