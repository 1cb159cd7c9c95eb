package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/olahol/melody"

	"github.com/LovationAdmin/voice-invites/apperrors"
	"github.com/LovationAdmin/voice-invites/models"
)

const guildFilterKey = "guild_id"

// WSHandler streams invitation lifecycle events to dashboards.
type WSHandler struct {
	M      *melody.Melody
	logger *slog.Logger

	// melody blocks broadcasts once its hub has stopped
	mu     sync.RWMutex
	closed bool
}

func NewWSHandler(logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	m := melody.New()

	// Les clients n'envoient rien d'utile
	m.Config.MaxMessageSize = 4096

	// Keep-Alive Configuration (Critical for Render.com/Cloud hosting)
	m.Config.PingPeriod = 30 * time.Second
	m.Config.PongWait = 60 * time.Second

	m.HandleConnect(func(s *melody.Session) {
		guildID, _ := s.Get(guildFilterKey)
		logger.Info("✅ feed client connected", "guild_id", guildID)
	})

	m.HandleDisconnect(func(s *melody.Session) {
		guildID, _ := s.Get(guildFilterKey)
		logger.Info("🔌 feed client disconnected", "guild_id", guildID)
	})

	m.HandleError(func(s *melody.Session, err error) {
		logger.Warn("❌ websocket error", "error", err)
	})

	return &WSHandler{M: m, logger: logger}
}

// HandleWS upgrades the request. An optional ?guild_id= restricts the feed
// to one guild.
func (h *WSHandler) HandleWS(c *gin.Context) {
	keys := map[string]any{}
	if raw := strings.TrimSpace(c.Query("guild_id")); raw != "" {
		guildID, err := snowflake.ParseString(raw)
		if err != nil || guildID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "invalid guild_id",
				"code":  apperrors.CodeValidation,
			})
			return
		}
		keys[guildFilterKey] = guildID
	}

	if err := h.M.HandleRequestWithKeys(c.Writer, c.Request, keys); err != nil {
		h.logger.Warn("❌ failed to upgrade websocket", "error", err)
	}
}

// PublishInvitationEvent broadcasts to every session watching the event's
// guild or all guilds.
func (h *WSHandler) PublishInvitationEvent(event models.InvitationEvent) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("❌ failed to encode lifecycle event", "type", event.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	err = h.M.BroadcastFilter(msg, func(s *melody.Session) bool {
		return sessionWants(s, event.Invitation.GuildID)
	})
	if err != nil && !errors.Is(err, melody.ErrClosed) {
		h.logger.Warn("⚠️ error broadcasting lifecycle event", "type", event.Type, "error", err)
	}
}

// Close disconnects every feed client. Later publishes are dropped.
func (h *WSHandler) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()
	return h.M.Close()
}

func sessionWants(s *melody.Session, guildID snowflake.ID) bool {
	filter, ok := s.Get(guildFilterKey)
	if !ok {
		return true
	}
	id, ok := filter.(snowflake.ID)
	return ok && id == guildID
}
