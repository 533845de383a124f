package livekit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
)

var (
	videoCodec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	audioCodec = webrtc.RTPCodecCapability{
		MimeType:    webrtc.MimeTypeOpus,
		ClockRate:   48000,
		Channels:    2,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}
)

// rtpSink writes the packets of a local track into the SDK's outgoing track.
type rtpSink struct {
	id      string
	track   *webrtc.TrackLocalStaticRTP
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func (s *rtpSink) ID() string { return s.id }

func (s *rtpSink) WriteRTP(pkt *rtp.Packet) error {
	s.packets.Add(1)
	s.bytes.Add(uint64(len(pkt.Payload)))
	return s.track.WriteRTP(pkt)
}

func (s *rtpSink) Close() error { return nil }

type LocalParticipant struct {
	room *Room
	lp   *lksdk.LocalParticipant

	mu   sync.Mutex
	pubs []*LocalPublication
}

var _ core.LocalParticipant = (*LocalParticipant)(nil)

func (p *LocalParticipant) SID() domain.ParticipantSID {
	return domain.ParticipantSID(p.lp.SID())
}

func (p *LocalParticipant) PublishTrack(ctx context.Context, track core.LocalTrack) (core.LocalPublication, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	codec := videoCodec
	if track.Kind() == domain.TrackKindAudio {
		codec = audioCodec
	}
	out, err := webrtc.NewTrackLocalStaticRTP(codec, string(track.Kind()), "roomsync-"+track.ID())
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", track.Kind(), err)
	}
	lkPub, err := p.lp.PublishTrack(out, &lksdk.TrackPublicationOptions{Name: string(track.Kind())})
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", track.Kind(), err)
	}

	sink := &rtpSink{id: "livekit-" + track.ID(), track: out}
	track.Attach(sink)
	pub := &LocalPublication{
		owner: p,
		sid:   domain.TrackSID(lkPub.SID()),
		track: track,
		sink:  sink,
	}
	p.mu.Lock()
	p.pubs = append(p.pubs, pub)
	p.mu.Unlock()
	return pub, nil
}

func (p *LocalParticipant) Publications(kind domain.TrackKind) []core.LocalPublication {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []core.LocalPublication
	for _, pub := range p.pubs {
		if pub.track.Kind() == kind {
			out = append(out, pub)
		}
	}
	return out
}

func (p *LocalParticipant) SendData(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.lp.PublishDataPacket(lksdk.UserData(payload), lksdk.WithDataPublishReliable(true))
}

func (p *LocalParticipant) stats() []domain.TrackStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.TrackStats, 0, len(p.pubs))
	for _, pub := range p.pubs {
		out = append(out, domain.TrackStats{
			TrackSID:    pub.sid,
			Kind:        pub.track.Kind(),
			Participant: p.SID(),
			Packets:     pub.sink.packets.Load(),
			Bytes:       pub.sink.bytes.Load(),
		})
	}
	return out
}

type LocalPublication struct {
	owner *LocalParticipant
	sid   domain.TrackSID
	track core.LocalTrack
	sink  *rtpSink
}

var _ core.LocalPublication = (*LocalPublication)(nil)

func (pub *LocalPublication) TrackSID() domain.TrackSID { return pub.sid }

func (pub *LocalPublication) LocalTrackID() string { return pub.track.ID() }

func (pub *LocalPublication) Kind() domain.TrackKind { return pub.track.Kind() }

// Unpublish stops sending the track. A second call is a no-op.
func (pub *LocalPublication) Unpublish() error {
	p := pub.owner
	p.mu.Lock()
	found := false
	for i, other := range p.pubs {
		if other == pub {
			p.pubs = append(p.pubs[:i], p.pubs[i+1:]...)
			found = true
			break
		}
	}
	p.mu.Unlock()
	if !found {
		return nil
	}
	pub.track.Detach(pub.sink)
	if err := p.lp.UnpublishTrack(string(pub.sid)); err != nil {
		return fmt.Errorf("unpublish %s: %w", pub.sid, err)
	}
	return nil
}
