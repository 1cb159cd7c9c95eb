package services

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"

	"github.com/LovationAdmin/voice-invites/clock"
	"github.com/LovationAdmin/voice-invites/i18n"
	"github.com/LovationAdmin/voice-invites/models"
	"github.com/LovationAdmin/voice-invites/utils"
)

var tracer = otel.Tracer("github.com/LovationAdmin/voice-invites/services")

// LifecycleListener receives every invitation transition.
type LifecycleListener interface {
	PublishInvitationEvent(event models.InvitationEvent)
}

// Deps bundles what the engine components of one connection share.
type Deps struct {
	Platform Platform
	Store    *InvitationStore
	Texts    *i18n.Bundle
	Clock    clock.Clock
	Metrics  *utils.Metrics
	Listener LifecycleListener
	Logger   *slog.Logger
}

func (d Deps) publish(eventType, reason string, inv models.Invitation) {
	if d.Listener == nil {
		return
	}
	d.Listener.PublishInvitationEvent(models.InvitationEvent{
		Type:       eventType,
		Reason:     reason,
		Invitation: inv.ToResponse(),
	})
}

// deleteChannel removes a managed channel. A channel that is already gone
// counts as deleted.
func (d Deps) deleteChannel(ctx context.Context, channelID snowflake.ID, auditKey string) error {
	if channelID == 0 {
		return nil
	}
	err := d.Platform.DeleteChannel(ctx, channelID, d.Texts.Default(auditKey))
	if err != nil && !errors.Is(err, ErrUnknownResource) {
		return err
	}
	return nil
}
