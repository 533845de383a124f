package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
)

var ErrUnknownView = errors.New("unknown view")

// viewBinding is a render sink a client asked for.
type viewBinding struct {
	sink        core.Sink
	local       bool
	participant domain.ParticipantSID
	track       domain.TrackSID
}

type viewPayload struct {
	ViewID         string                `json:"viewId"`
	ParticipantSID domain.ParticipantSID `json:"participantSid"`
	TrackSID       domain.TrackSID       `json:"trackSid"`
}

func decodeView(data []byte) (viewPayload, error) {
	var p viewPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("bad_payload: %w", err)
	}
	if p.ViewID == "" {
		return p, errors.New("viewId is required")
	}
	return p, nil
}

func (b *Bridge) handleAttachLocalView(cl *client, data []byte) error {
	p, err := decodeView(data)
	if err != nil {
		return err
	}
	return b.attachView(cl, p.ViewID, &viewBinding{local: true})
}

func (b *Bridge) handleAttachParticipantView(cl *client, data []byte) error {
	p, err := decodeView(data)
	if err != nil {
		return err
	}
	if p.ParticipantSID == "" || p.TrackSID == "" {
		return errors.New("participantSid and trackSid are required")
	}
	return b.attachView(cl, p.ViewID, &viewBinding{participant: p.ParticipantSID, track: p.TrackSID})
}

func (b *Bridge) attachView(cl *client, viewID string, v *viewBinding) error {
	cl.mu.Lock()
	_, exists := cl.views[viewID]
	cl.mu.Unlock()
	if exists {
		return nil
	}

	sink, err := b.sinks.NewViewSink(shortID(cl.id)+"-"+viewID, domain.TrackKindVideo)
	if err != nil {
		return fmt.Errorf("create view: %w", err)
	}
	v.sink = sink

	cl.mu.Lock()
	if _, ok := cl.views[viewID]; ok {
		cl.mu.Unlock()
		_ = sink.Close()
		return nil
	}
	cl.views[viewID] = v
	cl.mu.Unlock()

	if v.local {
		b.conf.AttachLocalView(sink)
	} else {
		b.conf.AttachParticipantView(sink, v.participant, v.track)
	}
	log.Debug().Str("module", "signal").Str("sid", cl.id).Str("view", viewID).Bool("local", v.local).Msg("view attached")
	return nil
}

func (b *Bridge) handleDetachView(cl *client, data []byte) error {
	p, err := decodeView(data)
	if err != nil {
		return err
	}
	cl.mu.Lock()
	v, ok := cl.views[p.ViewID]
	delete(cl.views, p.ViewID)
	cl.mu.Unlock()
	if !ok {
		return ErrUnknownView
	}
	b.detachView(v)
	return nil
}

func (b *Bridge) detachView(v *viewBinding) {
	if v.local {
		b.conf.DetachLocalView(v.sink)
	} else {
		b.conf.DetachParticipantView(v.sink, v.participant, v.track)
	}
	if err := v.sink.Close(); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sink", v.sink.ID()).Msg("close view")
	}
}

func (b *Bridge) releaseViews(cl *client) {
	cl.mu.Lock()
	views := cl.views
	cl.views = make(map[string]*viewBinding)
	cl.mu.Unlock()
	for _, v := range views {
		b.detachView(v)
	}
}
