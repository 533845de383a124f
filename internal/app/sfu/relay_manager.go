package sfu

import (
	"context"
	"sync"

	"github.com/dkeye/roomsync/internal/domain"
	"github.com/rs/zerolog/log"
)

type relayEntry struct {
	relay  *Relay
	cancel context.CancelFunc
}

// RelayManager owns one relay per source track.
type RelayManager struct {
	mu     sync.RWMutex
	relays map[domain.TrackSID]*relayEntry
}

func NewRelayManager() *RelayManager {
	return &RelayManager{
		relays: make(map[domain.TrackSID]*relayEntry),
	}
}

// StartRelay creates a relay for the track and starts its read loop.
// An existing relay for the same track is replaced.
func (m *RelayManager) StartRelay(ctx context.Context, sid domain.TrackSID, read ReadFunc) *Relay {
	logger := log.With().
		Str("module", "relay").
		Str("track", string(sid)).
		Logger()

	relayCtx, cancel := context.WithCancel(ctx)
	relay := NewRelay()

	m.mu.Lock()
	if old, ok := m.relays[sid]; ok {
		logger.Info().Msg("replacing existing relay for track")
		old.relay.markAllDelete()
		old.cancel()
	}
	m.relays[sid] = &relayEntry{relay: relay, cancel: cancel}
	m.mu.Unlock()

	logger.Debug().Msg("starting relay loop")

	go relay.Run(relayCtx, read, &logger)
	return relay
}

func (m *RelayManager) Relay(sid domain.TrackSID) (*Relay, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.relays[sid]
	if !ok {
		return nil, false
	}
	return e.relay, true
}

// StopRelay stops a relay and removes it from the manager.
func (m *RelayManager) StopRelay(sid domain.TrackSID) {
	m.mu.Lock()
	e, ok := m.relays[sid]
	if ok {
		delete(m.relays, sid)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	e.cancel()
	e.relay.Close()
}

func (m *RelayManager) StopAll() {
	m.mu.Lock()
	entries := m.relays
	m.relays = make(map[domain.TrackSID]*relayEntry)
	m.mu.Unlock()
	for _, e := range entries {
		e.cancel()
		e.relay.Close()
	}
}

func (m *RelayManager) HasRelay(sid domain.TrackSID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.relays[sid]
	return ok
}
