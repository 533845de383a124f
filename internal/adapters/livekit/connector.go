// Package livekit adapts the LiveKit Go client SDK to the core SDK boundary.
package livekit

import (
	"context"
	"errors"
	"fmt"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/rs/zerolog"

	"github.com/dkeye/roomsync/internal/core"
)

var (
	ErrMissingURL   = errors.New("livekit url is not configured")
	ErrMissingToken = errors.New("access token is empty")
	ErrRoomClosed   = errors.New("room closed")
)

type Options struct {
	URL       string
	APIKey    string
	APISecret string
}

// Connector joins LiveKit rooms. With API credentials it also queries the
// room service for stats.
type Connector struct {
	opts   Options
	rooms  *lksdk.RoomServiceClient
	logger zerolog.Logger
}

var _ core.Connector = (*Connector)(nil)

func NewConnector(opts Options, logger zerolog.Logger) *Connector {
	c := &Connector{
		opts:   opts,
		logger: logger.With().Str("module", "adapters.livekit").Logger(),
	}
	if opts.APIKey != "" && opts.APISecret != "" {
		c.rooms = lksdk.NewRoomServiceClient(opts.URL, opts.APIKey, opts.APISecret)
	}
	return c
}

type joinResult struct {
	room *lksdk.Room
	err  error
}

// Connect joins the room named by the token. The SDK join does not take a
// context, so a cancelled join is finished in the background and left.
func (c *Connector) Connect(ctx context.Context, token string, opts core.ConnectOptions) (core.Room, error) {
	if c.opts.URL == "" {
		return nil, ErrMissingURL
	}
	if token == "" {
		return nil, ErrMissingToken
	}

	room := newRoom(opts.Name, c.rooms, c.logger)
	done := make(chan joinResult, 1)
	go func() {
		lk, err := lksdk.ConnectToRoomWithToken(c.opts.URL, token, room.callback(), lksdk.WithAutoSubscribe(true))
		done <- joinResult{room: lk, err: err}
	}()

	var res joinResult
	select {
	case res = <-done:
	case <-ctx.Done():
		go func() {
			if late := <-done; late.room != nil {
				late.room.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
	if res.err != nil {
		return nil, fmt.Errorf("join %s: %w", opts.Name, res.err)
	}

	room.attach(res.room)
	c.logger.Info().Str("room", string(opts.Name)).Str("room_sid", string(room.SID())).Msg("joined livekit room")

	for _, t := range opts.Tracks {
		if t == nil {
			continue
		}
		if _, err := room.local.PublishTrack(ctx, t); err != nil {
			room.Disconnect()
			return nil, err
		}
	}
	return room, nil
}
