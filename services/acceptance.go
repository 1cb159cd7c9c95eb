package services

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/LovationAdmin/voice-invites/i18n"
	"github.com/LovationAdmin/voice-invites/models"
	"github.com/LovationAdmin/voice-invites/utils"
)

// AcceptOutcome is how an "Accept" click was resolved.
type AcceptOutcome int

const (
	AcceptGranted AcceptOutcome = iota + 1
	AcceptUnavailable
	AcceptNotForYou
	AcceptChannelGone
	AcceptFailed
)

func (o AcceptOutcome) String() string {
	switch o {
	case AcceptGranted:
		return "granted"
	case AcceptUnavailable:
		return "unavailable"
	case AcceptNotForYou:
		return "not_for_you"
	case AcceptChannelGone:
		return "channel_gone"
	case AcceptFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AcceptanceHandler turns a click on "Accept" into access to the channel
// and a single-use join link.
type AcceptanceHandler struct {
	Deps
}

func NewAcceptanceHandler(deps Deps) *AcceptanceHandler {
	return &AcceptanceHandler{Deps: deps}
}

// HandleAccept runs the accept transaction under the invitation's lock and
// answers the click ephemerally. Only the invited user can change anything;
// repeated clicks return the same link.
func (h *AcceptanceHandler) HandleAccept(ctx context.Context, event AcceptEvent) (AcceptOutcome, models.Invitation) {
	ctx, span := tracer.Start(ctx, "invitation.accept")
	defer span.End()
	span.SetAttributes(attribute.String("invitation.id", event.InvitationID))

	unlock := h.Store.Lock(event.InvitationID)
	outcome, inv, err := h.accept(ctx, event)
	unlock()

	span.SetAttributes(attribute.String("accept.outcome", outcome.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	locale := event.Interaction.Locale
	reply := Reply{}
	switch outcome {
	case AcceptGranted:
		reply = Reply{
			Content:   h.Texts.Text(locale, i18n.KeyNoticeAccessGranted),
			LinkLabel: h.Texts.Text(locale, i18n.KeyButtonJoin),
			LinkURL:   inv.InviteURL,
		}
	case AcceptUnavailable:
		reply.Content = h.Texts.Text(locale, i18n.KeyNoticeUnavailable)
	case AcceptNotForYou:
		reply.Content = h.Texts.Text(locale, i18n.KeyNoticeNotForYou)
	case AcceptChannelGone:
		reply.Content = h.Texts.Text(locale, i18n.KeyNoticeChannelGone)
	default:
		reply.Content = h.Texts.Text(locale, i18n.KeyNoticeFailed)
	}

	if err := h.Platform.Respond(ctx, event.Interaction, reply); err != nil {
		h.Logger.Warn("⚠️ failed to answer accept click", "invitation_id", event.InvitationID, "error", err)
	}
	return outcome, inv
}

func (h *AcceptanceHandler) accept(ctx context.Context, event AcceptEvent) (AcceptOutcome, models.Invitation, error) {
	inv, ok := h.Store.Get(event.InvitationID)
	if !ok {
		h.Logger.Info("invitation no longer available", "invitation_id", event.InvitationID)
		return AcceptUnavailable, models.Invitation{}, nil
	}

	acting := event.Interaction.UserID
	if acting != inv.TargetUserID {
		h.Logger.Warn("🚫 accept attempted by another user",
			"invitation_id", inv.ID,
			"acting_user_id", acting.String(),
		)
		return AcceptNotForYou, models.Invitation{}, nil
	}

	channel, err := h.Platform.Channel(ctx, inv.ChannelID)
	if err != nil {
		if !errors.Is(err, ErrUnknownResource) {
			h.Logger.Warn("⚠️ channel lookup failed", "invitation_id", inv.ID, "error", err)
		}
		return AcceptChannelGone, inv, nil
	}

	reason := h.Texts.Default(i18n.KeyAuditAccepted)

	isMember, err := h.Platform.Member(ctx, inv.GuildID, inv.TargetUserID)
	if err != nil {
		h.Logger.Error("❌ member lookup failed", "invitation_id", inv.ID, "error", err)
		return AcceptFailed, inv, err
	}
	if isMember {
		grant := PermissionOverwrite{
			ID:     inv.TargetUserID,
			Target: OverwriteMember,
			Allow:  PermissionViewChannel | PermissionConnect,
		}
		if err := h.Platform.SetPermission(ctx, channel.ID, grant, reason); err != nil {
			h.Logger.Error("❌ failed to grant access", "invitation_id", inv.ID, "error", err)
			return AcceptFailed, inv, err
		}
	}

	guild, err := h.Platform.Guild(ctx, inv.GuildID)
	if err != nil {
		h.Logger.Error("❌ guild lookup failed during accept", "invitation_id", inv.ID, "error", err)
		return AcceptFailed, inv, err
	}
	if err := h.Platform.SetPermission(ctx, channel.ID, defaultRoleOverwrite(guild.DefaultRoleID), reason); err != nil {
		h.Logger.Error("❌ failed to restore default role policy", "invitation_id", inv.ID, "error", err)
		return AcceptFailed, inv, err
	}

	firstAccept := false
	inv, ok = h.Store.Update(inv.ID, func(stored *models.Invitation) {
		if !stored.Accepted {
			stored.Accepted = true
			stored.AcceptedAt = h.Clock.Now().UTC()
			firstAccept = true
		}
	})
	if !ok {
		return AcceptUnavailable, models.Invitation{}, nil
	}
	if firstAccept {
		h.Metrics.Inc(utils.MetricInvitationsAccepted)
		h.Logger.Info("✅ invitation accepted", "invitation_id", inv.ID, "channel_id", inv.ChannelID.String())
	}

	if inv.InviteURL == "" {
		url, err := h.Platform.CreateInvite(ctx, channel.ID, reason)
		if err != nil {
			h.Logger.Error("❌ failed to create join link", "invitation_id", inv.ID, "error", err)
			return AcceptFailed, inv, err
		}
		inv, ok = h.Store.Update(inv.ID, func(stored *models.Invitation) {
			if stored.InviteURL == "" {
				stored.InviteURL = url
			}
		})
		if !ok {
			return AcceptUnavailable, models.Invitation{}, nil
		}
	}

	if firstAccept {
		h.publish(models.EventInvitationAccepted, "", inv)
	}
	return AcceptGranted, inv, nil
}
