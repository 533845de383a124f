package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/roomsync/internal/adapters/media"
	"github.com/dkeye/roomsync/internal/adapters/memsdk"
	"github.com/dkeye/roomsync/internal/adapters/signal"
	"github.com/dkeye/roomsync/internal/app/conference"
	"github.com/dkeye/roomsync/internal/config"
	"github.com/dkeye/roomsync/internal/events"
)

func newServer(t *testing.T) (*httptest.Server, *signal.Bridge) {
	t.Helper()
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>roomsync</html>"), 0o644))

	bus := events.NewBus(zerolog.Nop())
	conf := conference.New(conference.Deps{
		Connector: memsdk.NewConnector(memsdk.WithEcho()),
		Device:    media.NewDevice(media.DeviceOptions{}),
		Sinks:     &media.SinkFactory{},
		Bus:       bus,
		Logger:    zerolog.Nop(),
	}, conference.Options{})
	bridge := signal.NewBridge(conf, &media.SinkFactory{}, memsdk.TokenSource{}, signal.Options{})

	cfg := &config.Config{Mode: "test", StaticPath: static, Secret: "test-secret"}
	srv := httptest.NewServer(SetupRouter(context.Background(), cfg, bridge, conf))
	t.Cleanup(func() {
		bridge.Close()
		srv.Close()
		conf.Close()
		bus.Close()
	})
	return srv, bridge
}

func TestIndexAndSessionCookie(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var names []string
	for _, c := range resp.Cookies() {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "RoomsyncSessions")
}

func TestSessionEndpoint(t *testing.T) {
	srv, _ := newServer(t)

	resp, err := http.Get(srv.URL + "/api/session")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json; charset=utf-8", resp.Header.Get("Content-Type"))

	resp2, err := http.Post(srv.URL+"/api/session/stats", "application/json", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp2.StatusCode)
}

func TestControlSocket(t *testing.T) {
	srv, bridge := newServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/control"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	require.Eventually(t, func() bool { return bridge.ClientCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, ws.WriteJSON(map[string]any{"type": "ping"}))
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame struct {
		Type string `json:"type"`
	}
	require.NoError(t, ws.ReadJSON(&frame))
	assert.Equal(t, "pong", frame.Type)
}
