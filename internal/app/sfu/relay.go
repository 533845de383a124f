package sfu

import (
	"context"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// ReadFunc yields the next packet of a source track.
type ReadFunc func() (*rtp.Packet, error)

// Relay copies the packets of one source track to every attached sink.
type Relay struct {
	mu        sync.RWMutex
	outTracks map[string]*OutTrack

	packets atomic.Uint64
	bytes   atomic.Uint64
}

func NewRelay() *Relay {
	return &Relay{
		outTracks: make(map[string]*OutTrack),
	}
}

// Run reads packets from read and forwards them until ctx ends or read fails.
func (r *Relay) Run(ctx context.Context, read ReadFunc, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("relay ctx done, marking all out tracks for delete")
			r.markAllDelete()
			return
		default:
		}
		pkt, err := read()
		if err != nil {
			logger.Debug().Err(err).Msg("relay read RTP error, stopping")
			r.markAllDelete()
			return
		}
		r.Forward(pkt, logger)
	}
}

func (r *Relay) Forward(pkt *rtp.Packet, logger *zerolog.Logger) {
	r.packets.Add(1)
	r.bytes.Add(uint64(len(pkt.Payload)))

	r.mu.RLock()
	snapshot := make(map[string]*OutTrack, len(r.outTracks))
	maps.Copy(snapshot, r.outTracks)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for id, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, id)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.WriteRTP(pkt); err != nil {
				logger.Warn().
					Err(err).
					Str("sink", id).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, id)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		if ot, ok := r.outTracks[id]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, id)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

// AddSink attaches sink. Attaching the same sink ID twice keeps one entry.
func (r *Relay) AddSink(sink core.Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ot, ok := r.outTracks[sink.ID()]; ok && ot.GetState() != TrackStateDelete {
		return
	}
	r.outTracks[sink.ID()] = NewOutTrack(sink)
}

// RemoveSink detaches sink without closing it.
func (r *Relay) RemoveSink(sink core.Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ot, ok := r.outTracks[sink.ID()]; ok {
		ot.MarkDelete()
		delete(r.outTracks, sink.ID())
	}
}

func (r *Relay) HasSink(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ot, ok := r.outTracks[id]
	return ok && ot.GetState() != TrackStateDelete
}

func (r *Relay) SinkCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outTracks)
}

// Close detaches every sink.
func (r *Relay) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ot := range r.outTracks {
		ot.MarkDelete()
		delete(r.outTracks, id)
	}
}

func (r *Relay) Counters() (packets, bytes uint64) {
	return r.packets.Load(), r.bytes.Load()
}
