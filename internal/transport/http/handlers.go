// Package http exposes the session state over REST.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/roomsync/internal/app/conference"
)

// Session is the part of the conference the REST handlers drive.
type Session interface {
	State() conference.Snapshot
	Disconnect()
	GetStats(ctx context.Context) error
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type SessionHandlers struct {
	session      Session
	statsTimeout time.Duration
}

func NewSessionHandlers(s Session) *SessionHandlers {
	return &SessionHandlers{session: s, statsTimeout: 5 * time.Second}
}

// Register mounts the handlers under g.
func (h *SessionHandlers) Register(g *gin.RouterGroup) {
	g.GET("/session", h.handleState)
	g.POST("/session/disconnect", h.handleDisconnect)
	g.POST("/session/stats", h.handleStats)
}

func (h *SessionHandlers) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.State())
}

func (h *SessionHandlers) handleDisconnect(c *gin.Context) {
	log.Info().Str("module", "transport.http").Str("sid", c.GetString("client_token")).Msg("disconnect requested")
	h.session.Disconnect()
	c.JSON(http.StatusOK, h.session.State())
}

// handleStats asks for a report; it arrives as a statsReceived event.
func (h *SessionHandlers) handleStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.statsTimeout)
	defer cancel()
	if err := h.session.GetStats(ctx); err != nil {
		log.Warn().Err(err).Str("module", "transport.http").Msg("stats request failed")
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}
