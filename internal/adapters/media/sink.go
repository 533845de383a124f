package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
)

type rtpWriter interface {
	WriteRTP(*rtp.Packet) error
	Close() error
}

// WriterSink records packets into a media container file.
type WriterSink struct {
	id   string
	path string

	mu     sync.Mutex
	w      rtpWriter
	closed bool
}

func (s *WriterSink) ID() string { return s.id }

func (s *WriterSink) Path() string { return s.path }

func (s *WriterSink) WriteRTP(pkt *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return os.ErrClosed
	}
	return s.w.WriteRTP(pkt)
}

func (s *WriterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.Close()
}

// DiscardSink counts packets and drops them.
type DiscardSink struct {
	id      string
	packets atomic.Uint64
	closed  atomic.Bool
}

func NewDiscardSink(id string) *DiscardSink {
	if id == "" {
		id = uuid.NewString()
	}
	return &DiscardSink{id: id}
}

func (s *DiscardSink) ID() string { return s.id }

func (s *DiscardSink) WriteRTP(*rtp.Packet) error {
	if s.closed.Load() {
		return os.ErrClosed
	}
	s.packets.Add(1)
	return nil
}

func (s *DiscardSink) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *DiscardSink) Packets() uint64 { return s.packets.Load() }

func (s *DiscardSink) Closed() bool { return s.closed.Load() }

// SinkFactory records into Dir, or discards when Dir is empty.
type SinkFactory struct {
	Dir string
}

var _ core.SinkFactory = (*SinkFactory)(nil)

func (f *SinkFactory) NewAudioSink(participant domain.ParticipantSID) (core.Sink, error) {
	return f.newSink("audio-"+string(participant), domain.TrackKindAudio)
}

func (f *SinkFactory) NewViewSink(name string, kind domain.TrackKind) (core.Sink, error) {
	return f.newSink("view-"+name, kind)
}

func (f *SinkFactory) newSink(name string, kind domain.TrackKind) (core.Sink, error) {
	id := fmt.Sprintf("%s-%s", name, uuid.NewString()[:8])
	if f.Dir == "" {
		return NewDiscardSink(id), nil
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}

	var (
		w    rtpWriter
		err  error
		path string
	)
	switch kind {
	case domain.TrackKindVideo:
		path = filepath.Join(f.Dir, id+".ivf")
		w, err = ivfwriter.New(path)
	case domain.TrackKindAudio:
		path = filepath.Join(f.Dir, id+".ogg")
		w, err = oggwriter.New(path, audioClockRate, 2)
	default:
		return nil, fmt.Errorf("no sink for %s", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	log.Debug().Str("module", "media.sink").Str("path", path).Msg("recording sink opened")
	return &WriterSink{id: id, path: path, w: w}, nil
}
