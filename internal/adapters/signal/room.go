package signal

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomsync/internal/app/conference"
	"github.com/dkeye/roomsync/internal/core"
	"github.com/dkeye/roomsync/internal/domain"
)

var ErrRateLimited = errors.New("too many connect attempts")

func (b *Bridge) handleConnect(cl *client, data []byte) error {
	var p struct {
		RoomName             domain.RoomName          `json:"roomName"`
		AccessToken          string                   `json:"accessToken"`
		EnableVideo          bool                     `json:"enableVideo"`
		EnableNetworkQuality bool                     `json:"enableNetworkQuality"`
		Encoding             *core.EncodingParameters `json:"encodingParameters,omitempty"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad connect payload")
		return fmt.Errorf("bad_payload: %w", err)
	}
	if !b.limiter.Allow(cl.id) {
		log.Warn().Str("module", "signal").Str("sid", cl.id).Msg("connect rate limited")
		return ErrRateLimited
	}

	token := p.AccessToken
	if token == "" && b.tokens != nil {
		identity := cl.id
		if b.opts.Identity != "" {
			identity = b.opts.Identity + "-" + shortID(cl.id)
		}
		t, err := b.tokens.Generate(p.RoomName, identity)
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
		token = t
	}

	log.Info().Str("module", "signal").Str("sid", cl.id).Str("room", string(p.RoomName)).Msg("connect")
	return b.conf.Connect(cl.ctx, conference.ConnectRequest{
		RoomName:             p.RoomName,
		Token:                token,
		EnableVideo:          p.EnableVideo,
		Encoding:             p.Encoding,
		EnableNetworkQuality: p.EnableNetworkQuality,
	})
}

func (b *Bridge) handleSendString(cl *client, data []byte) error {
	var p struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("bad_payload: %w", err)
	}
	return b.conf.SendString(cl.ctx, p.Message)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
