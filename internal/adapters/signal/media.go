package signal

import (
	"context"
	"encoding/json"
	"fmt"
)

type setEnabledFunc func(ctx context.Context, enabled bool) (bool, error)

func (b *Bridge) handleSetLocalEnabled(cl *client, data []byte, set setEnabledFunc) (bool, error) {
	var p struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return false, fmt.Errorf("bad_payload: %w", err)
	}
	return set(cl.ctx, p.Enabled)
}
