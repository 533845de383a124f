package sfu

import (
	"io"
	"sync/atomic"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/pion/rtp"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
	TrackStateDelete
)

// OutTrack gates a single sink attached to a relay. A muted OutTrack swallows
// packets, a deleted one rejects them.
type OutTrack struct {
	Sink  core.Sink
	state atomic.Int32 // Zero by default (TrackStateOk)
}

var _ core.Sink = (*OutTrack)(nil)

func NewOutTrack(sink core.Sink) *OutTrack {
	return &OutTrack{Sink: sink}
}

func (ot *OutTrack) GetState() TrackState {
	return TrackState(ot.state.Load())
}

func (ot *OutTrack) MarkOk() {
	ot.state.CompareAndSwap(int32(TrackStateMuted), int32(TrackStateOk))
}

func (ot *OutTrack) MarkMuted() {
	ot.state.CompareAndSwap(int32(TrackStateOk), int32(TrackStateMuted))
}

func (ot *OutTrack) MarkDelete() {
	ot.state.Store(int32(TrackStateDelete))
}

func (ot *OutTrack) Muted() bool {
	return ot.GetState() == TrackStateMuted
}

func (ot *OutTrack) ID() string {
	return ot.Sink.ID()
}

func (ot *OutTrack) WriteRTP(pkt *rtp.Packet) error {
	switch ot.GetState() {
	case TrackStateOk:
		return ot.Sink.WriteRTP(pkt)
	case TrackStateMuted:
		return nil
	default:
		return io.ErrClosedPipe
	}
}

// Close marks the gate deleted and closes the wrapped sink.
func (ot *OutTrack) Close() error {
	if TrackState(ot.state.Swap(int32(TrackStateDelete))) == TrackStateDelete {
		return nil
	}
	return ot.Sink.Close()
}
