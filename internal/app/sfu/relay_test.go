package sfu

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomsync/internal/domain"
)

type countingSink struct {
	id string

	mu      sync.Mutex
	packets int
	closed  bool
	failing bool
}

func (s *countingSink) ID() string { return s.id }

func (s *countingSink) WriteRTP(*rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("sink broken")
	}
	s.packets++
	return nil
}

func (s *countingSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packets
}

func pkt() *rtp.Packet {
	return &rtp.Packet{Payload: []byte{1, 2, 3}}
}

func TestOutTrackGate(t *testing.T) {
	sink := &countingSink{id: "a"}
	ot := NewOutTrack(sink)

	require.NoError(t, ot.WriteRTP(pkt()))
	ot.MarkMuted()
	assert.True(t, ot.Muted())
	require.NoError(t, ot.WriteRTP(pkt()))
	ot.MarkOk()
	require.NoError(t, ot.WriteRTP(pkt()))
	assert.Equal(t, 2, sink.count())

	require.NoError(t, ot.Close())
	require.NoError(t, ot.Close())
	assert.True(t, sink.closed)
	assert.ErrorIs(t, ot.WriteRTP(pkt()), io.ErrClosedPipe)

	// A deleted gate never comes back.
	ot.MarkOk()
	assert.Equal(t, TrackStateDelete, ot.GetState())
}

func TestRelayForwardsToSinks(t *testing.T) {
	logger := zerolog.Nop()
	r := NewRelay()
	a := &countingSink{id: "a"}
	b := &countingSink{id: "b"}
	r.AddSink(a)
	r.AddSink(a)
	r.AddSink(b)
	assert.Equal(t, 2, r.SinkCount())

	r.Forward(pkt(), &logger)
	r.RemoveSink(b)
	r.Forward(pkt(), &logger)

	assert.Equal(t, 2, a.count())
	assert.Equal(t, 1, b.count())
	packets, bytes := r.Counters()
	assert.Equal(t, uint64(2), packets)
	assert.Equal(t, uint64(6), bytes)
}

func TestRelayDropsFailingSink(t *testing.T) {
	logger := zerolog.Nop()
	r := NewRelay()
	bad := &countingSink{id: "bad", failing: true}
	r.AddSink(bad)
	r.Forward(pkt(), &logger)
	assert.False(t, r.HasSink("bad"))
	assert.Equal(t, 0, r.SinkCount())
}

func TestRelayRunStopsOnReadError(t *testing.T) {
	logger := zerolog.Nop()
	r := NewRelay()
	sink := &countingSink{id: "a"}
	r.AddSink(sink)

	n := 0
	read := func() (*rtp.Packet, error) {
		n++
		if n > 3 {
			return nil, io.EOF
		}
		return pkt(), nil
	}
	r.Run(context.Background(), read, &logger)
	assert.Equal(t, 3, sink.count())
	assert.False(t, r.HasSink("a"))
}

func TestRelayManagerLifecycle(t *testing.T) {
	m := NewRelayManager()
	block := make(chan struct{})
	read := func() (*rtp.Packet, error) {
		<-block
		return nil, io.EOF
	}
	relay := m.StartRelay(context.Background(), domain.TrackSID("TR_1"), read)
	require.NotNil(t, relay)
	assert.True(t, m.HasRelay("TR_1"))

	got, ok := m.Relay("TR_1")
	require.True(t, ok)
	assert.Same(t, relay, got)

	m.StopRelay("TR_1")
	m.StopRelay("TR_1")
	assert.False(t, m.HasRelay("TR_1"))
	close(block)

	m.StartRelay(context.Background(), "TR_2", func() (*rtp.Packet, error) {
		time.Sleep(time.Millisecond)
		return pkt(), nil
	})
	m.StopAll()
	assert.False(t, m.HasRelay("TR_2"))
}
