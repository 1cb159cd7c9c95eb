package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LovationAdmin/voice-invites/apperrors"
	"github.com/LovationAdmin/voice-invites/models"
	"github.com/LovationAdmin/voice-invites/utils"
)

const DefaultReadyWait = 15 * time.Second

// BotController is the part of the bot service the HTTP API drives.
type BotController interface {
	SubmitRequest(ctx context.Context, input models.NewInvitationInput) (models.Invitation, error)
	Invitation(id string) (models.Invitation, error)
	WaitReady(ctx context.Context) bool
	IsReady() bool
	TokenConfigured() bool
	TokenFingerprint() string
	RestartWithToken(token string) error
}

type InvitationHandler struct {
	Bot       BotController
	Metrics   *utils.Metrics
	ReadyWait time.Duration
	Logger    *slog.Logger
}

func NewInvitationHandler(bot BotController, metrics *utils.Metrics, readyWait time.Duration, logger *slog.Logger) *InvitationHandler {
	if readyWait <= 0 {
		readyWait = DefaultReadyWait
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &InvitationHandler{Bot: bot, Metrics: metrics, ReadyWait: readyWait, Logger: logger}
}

// CreateInvite provisions a private channel and DMs the target user.
func (h *InvitationHandler) CreateInvite(c *gin.Context) {
	var req models.InvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.Wrap(apperrors.CodeValidation, "invalid request body", err))
		return
	}

	input, err := req.Normalize()
	if err != nil {
		h.respondError(c, err)
		return
	}

	// Without a token there is nothing to wait for.
	if h.Bot.TokenConfigured() && !h.Bot.IsReady() {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.ReadyWait)
		ready := h.Bot.WaitReady(ctx)
		cancel()
		if !ready {
			h.respondError(c, apperrors.New(apperrors.CodeTimeout, "bot is not ready yet, retry later"))
			return
		}
	}

	inv, err := h.Bot.SubmitRequest(c.Request.Context(), input)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := inv.ToResponse()
	resp.Message = "Invitation sent"
	c.JSON(http.StatusOK, resp)
}

// GetInvitation returns the tracked state of one invitation.
func (h *InvitationHandler) GetInvitation(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		h.respondError(c, apperrors.New(apperrors.CodeValidation, "invitation id is required"))
		return
	}

	inv, err := h.Bot.Invitation(id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv.ToResponse())
}

func (h *InvitationHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"bot_ready":         h.Bot.IsReady(),
		"token_configured":  h.Bot.TokenConfigured(),
		"token_fingerprint": h.Bot.TokenFingerprint(),
	})
}

// UpdateToken swaps the bot credential and reconnects. Tracked invitations
// are discarded.
func (h *InvitationHandler) UpdateToken(c *gin.Context) {
	var req models.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.respondError(c, apperrors.Wrap(apperrors.CodeValidation, "invalid request body", err))
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		h.respondError(c, apperrors.New(apperrors.CodeValidation, "token is required"))
		return
	}

	if err := h.Bot.RestartWithToken(req.Token); err != nil {
		h.respondError(c, err)
		return
	}

	h.Logger.Info("🔑 bot token updated", "fingerprint", h.Bot.TokenFingerprint())
	c.JSON(http.StatusOK, gin.H{
		"message":   "Token accepted, bot is reconnecting",
		"accepted":  true,
		"bot_ready": h.Bot.IsReady(),
	})
}

func (h *InvitationHandler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.Metrics.Snapshot())
}

func (h *InvitationHandler) respondError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	status := code.HTTPStatus()

	message := "internal server error"
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		message = appErr.Error()
	}

	if status >= http.StatusInternalServerError {
		h.Logger.Error("❌ request failed", "path", c.FullPath(), "code", string(code), "error", err)
	} else {
		h.Logger.Warn("⚠️ request rejected", "path", c.FullPath(), "code", string(code), "error", err)
	}
	c.JSON(status, gin.H{"error": message, "code": code, "retryable": code.Retryable()})
}
