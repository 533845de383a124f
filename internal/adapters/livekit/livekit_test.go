package livekit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
)

func TestTokenGenerator(t *testing.T) {
	_, err := NewTokenGenerator("", "", 0).Generate("room", "me")
	assert.ErrorIs(t, err, ErrMissingCredentials)

	token, err := NewTokenGenerator("key", "a-secret-that-is-long-enough-for-hs256", time.Minute).Generate("room", "me")
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)
}

func TestConnectValidatesInput(t *testing.T) {
	_, err := NewConnector(Options{}, zerolog.Nop()).Connect(context.Background(), "token", core.ConnectOptions{Name: "a"})
	assert.ErrorIs(t, err, ErrMissingURL)

	_, err = NewConnector(Options{URL: "ws://localhost:7880"}, zerolog.Nop()).Connect(context.Background(), "", core.ConnectOptions{Name: "a"})
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestQualityLevel(t *testing.T) {
	assert.Equal(t, domain.NetworkQualityExcellent, qualityLevel(livekit.ConnectionQuality_EXCELLENT))
	assert.Equal(t, domain.NetworkQuality(3), qualityLevel(livekit.ConnectionQuality_GOOD))
	assert.Equal(t, domain.NetworkQuality(1), qualityLevel(livekit.ConnectionQuality_POOR))
	assert.Equal(t, domain.NetworkQualityLost, qualityLevel(livekit.ConnectionQuality_LOST))
}

func TestTrackKind(t *testing.T) {
	assert.Equal(t, domain.TrackKindVideo, trackKind(lksdk.TrackKindVideo))
	assert.Equal(t, domain.TrackKindAudio, trackKind(lksdk.TrackKindAudio))
}

func TestDataTrackIsCreatedOnce(t *testing.T) {
	r := newRoom("a", nil, zerolog.Nop())
	p := newRemoteParticipant(r, "PA_1", "alice")

	var subscribed []domain.TrackSID
	p.OnTrackSubscribed(func(t core.RemoteTrack, _ core.RemotePublication) {
		subscribed = append(subscribed, t.SID())
	})
	first := p.dataTrack()
	var got []string
	first.OnMessage(func(msg string) { got = append(got, msg) })
	second := p.dataTrack()
	second.messageL.Notify("hi")

	assert.Same(t, first, second)
	assert.Equal(t, []domain.TrackSID{"DT_PA_1"}, subscribed)
	assert.Equal(t, []string{"hi"}, got)
	assert.Equal(t, domain.TrackKindData, p.Publications()[0].Kind())

	var unsubscribed bool
	p.Publications()[0].OnUnsubscribed(func() { unsubscribed = true })
	p.unsubscribeAll()
	assert.True(t, unsubscribed)
	assert.False(t, p.Publications()[0].IsSubscribed())
}

func TestRoomCloseNotifiesOnce(t *testing.T) {
	r := newRoom("a", nil, zerolog.Nop())
	got := make(chan error, 2)
	r.OnDisconnected(func(err error) { got <- err })

	r.close(ErrRoomClosed)
	r.close(ErrRoomClosed)
	r.Disconnect()
	assert.ErrorIs(t, <-got, ErrRoomClosed)
	assert.Len(t, got, 0)

	r.OnDisconnected(func(err error) { got <- err })
	assert.ErrorIs(t, <-got, ErrRoomClosed)
}
