package signal

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/roomsync/internal/domain"
)

func (b *Bridge) handlePing(cl *client) {
	resp := struct {
		Type string `json:"type"`
	}{
		Type: "pong",
	}
	sendJSON(cl.conn, resp)
}

func (b *Bridge) handleToggleSoundSetup(data []byte) error {
	var p struct {
		Speaker bool `json:"speaker"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("bad_payload: %w", err)
	}
	return b.conf.ToggleSoundSetup(p.Speaker)
}

func (b *Bridge) handleBluetooth(data []byte) (bool, error) {
	var p struct {
		Connected bool `json:"connected"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return false, fmt.Errorf("bad_payload: %w", err)
	}
	return b.conf.SetBluetoothHeadsetConnected(p.Connected)
}

func (b *Bridge) handleRemoteAudioPlayback(data []byte) error {
	var p struct {
		ParticipantSID domain.ParticipantSID `json:"participantSid"`
		Enabled        bool                  `json:"enabled"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("bad_payload: %w", err)
	}
	if p.ParticipantSID == "" {
		return fmt.Errorf("participantSid is required")
	}
	b.conf.SetRemoteAudioPlayback(p.ParticipantSID, p.Enabled)
	return nil
}

func (b *Bridge) handleRemoteAudioEnabled(data []byte) (bool, error) {
	var p struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return false, fmt.Errorf("bad_payload: %w", err)
	}
	return b.conf.SetRemoteAudioEnabled(p.Enabled), nil
}
