package core

import (
	"context"
	"errors"

	"github.com/dkeye/roomsync/internal/domain"
	"github.com/pion/rtp"
)

var ErrFlipUnsupported = errors.New("camera flip not supported")

// Sink is a render surface or playback element. It receives RTP packets
// from every track it is attached to.
type Sink interface {
	ID() string
	WriteRTP(pkt *rtp.Packet) error
	Close() error
}

type SinkFactory interface {
	// NewAudioSink creates the playback element of one remote participant.
	NewAudioSink(participant domain.ParticipantSID) (Sink, error)
	NewViewSink(name string, kind domain.TrackKind) (Sink, error)
}

// LocalTrack is a captured camera or microphone stream.
type LocalTrack interface {
	ID() string
	Kind() domain.TrackKind
	Attach(Sink)
	Detach(Sink)
	// Stop releases the device. Safe to call more than once.
	Stop()
	// OnInterruption reports device interruptions (true) and their end (false).
	OnInterruption(func(interrupted bool)) Unsubscribe
}

type CaptureDevice interface {
	// Acquire opens the device of the given kind. It may block until ctx ends.
	Acquire(ctx context.Context, kind domain.TrackKind) (LocalTrack, error)
	FlipCamera() error
	SetSpeakerphone(on bool) error
	SetBluetoothHeadset(connected bool) error
}

// TeardownHooks runs registered funcs when the hosting process goes away.
type TeardownHooks interface {
	Register(fn func()) Unsubscribe
}
