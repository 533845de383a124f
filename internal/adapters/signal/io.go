package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomsync/internal/events"
)

type eventFrame struct {
	Type  string       `json:"type"`
	Event events.Name  `json:"event"`
	Data  events.Event `json:"data"`
}

type resultFrame struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Value any    `json:"value,omitempty"`
}

// command is the envelope every client message shares.
type command struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (b *Bridge) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(b.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (b *Bridge) readPump(ctx context.Context, cl *client) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", cl.id).Msg("readPump closing")
		b.unregister(cl)
	}()

	ws := cl.conn.conn
	pongWait := b.opts.PingPeriod * 10 / 9
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", cl.id).Msg("readPump ctx done")
			return
		default:
			_, data, err := ws.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", cl.id).Msg("readPump read error")
				}
				return
			}
			_ = ws.SetReadDeadline(time.Now().Add(pongWait))
			b.handleSignal(cl, data)
		}
	}
}

func (b *Bridge) handleSignal(cl *client, data []byte) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		sendJSON(cl.conn, resultFrame{Type: "result", Error: "bad_payload"})
		return
	}

	var (
		value any
		err   error
	)
	switch cmd.Type {
	case "ping":
		b.handlePing(cl)
		return
	case "state":
		value = b.conf.State()
	case "connect":
		err = b.handleConnect(cl, data)
	case "disconnect":
		b.conf.Disconnect()
	case "sendString":
		err = b.handleSendString(cl, data)
	case "getStats":
		err = b.conf.GetStats(cl.ctx)
	case "startLocalVideo":
		err = b.conf.StartLocalVideo(cl.ctx)
	case "startLocalAudio":
		err = b.conf.StartLocalAudio(cl.ctx)
	case "stopLocalVideo":
		b.conf.StopLocalVideo()
	case "stopLocalAudio":
		b.conf.StopLocalAudio()
	case "setLocalVideoEnabled":
		value, err = b.handleSetLocalEnabled(cl, data, b.conf.SetLocalVideoEnabled)
	case "setLocalAudioEnabled":
		value, err = b.handleSetLocalEnabled(cl, data, b.conf.SetLocalAudioEnabled)
	case "publishLocalVideo":
		err = b.conf.PublishLocalVideo(cl.ctx)
	case "publishLocalAudio":
		err = b.conf.PublishLocalAudio(cl.ctx)
	case "unpublishLocalVideo":
		err = b.conf.UnpublishLocalVideo()
	case "unpublishLocalAudio":
		err = b.conf.UnpublishLocalAudio()
	case "flipCamera":
		err = b.conf.FlipCamera()
	case "toggleSoundSetup":
		err = b.handleToggleSoundSetup(data)
	case "setBluetoothHeadsetConnected":
		value, err = b.handleBluetooth(data)
	case "setRemoteAudioPlayback":
		err = b.handleRemoteAudioPlayback(data)
	case "setRemoteAudioEnabled":
		value, err = b.handleRemoteAudioEnabled(data)
	case "attachLocalView":
		err = b.handleAttachLocalView(cl, data)
	case "detachLocalView", "detachParticipantView":
		err = b.handleDetachView(cl, data)
	case "attachParticipantView":
		err = b.handleAttachParticipantView(cl, data)
	default:
		log.Warn().Str("module", "signal").Str("type", cmd.Type).Msg("unknown signal")
		sendJSON(cl.conn, resultFrame{Type: "result", ID: cmd.ID, Error: "unknown_command"})
		return
	}

	res := resultFrame{Type: "result", ID: cmd.ID, OK: err == nil, Value: value}
	if err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", cl.id).Str("type", cmd.Type).Msg("command failed")
		res.Error = err.Error()
	}
	sendJSON(cl.conn, res)
}

// deliver sends an event frame and applies the backpressure policy when the
// client falls behind.
func (b *Bridge) deliver(cl *client, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("deliver marshal")
		return
	}
	err = cl.conn.TrySend(data)
	cl.mu.Lock()
	if err == nil {
		cl.dropped = 0
		cl.mu.Unlock()
		return
	}
	if !errors.Is(err, ErrBackpressure) {
		cl.mu.Unlock()
		return
	}
	cl.dropped++
	dropped := cl.dropped
	cl.mu.Unlock()

	switch b.opts.Policy.OnBackpressure(cl.id, dropped) {
	case KickClient:
		log.Warn().Str("module", "signal").Str("sid", cl.id).Int("dropped", dropped).Msg("client too slow, closing")
		// Release off the dispatcher goroutine.
		go b.unregister(cl)
	default:
		log.Debug().Str("module", "signal").Str("sid", cl.id).Int("dropped", dropped).Msg("event dropped")
	}
}

func sendJSON(c *WsSignalConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("frame dropped")
	}
}
