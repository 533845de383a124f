package livekit

import (
	"errors"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/dkeye/roomsync/internal/domain"
)

var ErrMissingCredentials = errors.New("livekit api key and secret are required to mint tokens")

// TokenGenerator mints join tokens for development setups that have the API
// secret at hand.
type TokenGenerator struct {
	apiKey    string
	apiSecret string
	ttl       time.Duration
}

func NewTokenGenerator(apiKey, apiSecret string, ttl time.Duration) *TokenGenerator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenGenerator{apiKey: apiKey, apiSecret: apiSecret, ttl: ttl}
}

func (g *TokenGenerator) Generate(room domain.RoomName, identity string) (string, error) {
	if g.apiKey == "" || g.apiSecret == "" {
		return "", ErrMissingCredentials
	}
	canPublish := true
	canSubscribe := true
	canPublishData := true

	at := auth.NewAccessToken(g.apiKey, g.apiSecret)
	at.AddGrant(&auth.VideoGrant{
		RoomJoin:       true,
		Room:           string(room),
		CanPublish:     &canPublish,
		CanSubscribe:   &canSubscribe,
		CanPublishData: &canPublishData,
	}).
		SetIdentity(identity).
		SetValidFor(g.ttl)
	return at.ToJWT()
}
