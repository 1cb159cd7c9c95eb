package services

import (
	"context"
	"errors"
	"strings"

	"github.com/LovationAdmin/voice-invites/apperrors"
	"github.com/LovationAdmin/voice-invites/i18n"
	"github.com/LovationAdmin/voice-invites/models"
	"github.com/LovationAdmin/voice-invites/utils"
)

// acceptCustomIDPrefix marks "Accept" buttons owned by this service.
const acceptCustomIDPrefix = "invite_accept:"

// AcceptCustomID encodes an invitation id into a button custom id.
func AcceptCustomID(invitationID string) string {
	return acceptCustomIDPrefix + invitationID
}

// ParseAcceptCustomID extracts the invitation id from a button custom id.
func ParseAcceptCustomID(customID string) (string, bool) {
	id, ok := strings.CutPrefix(customID, acceptCustomIDPrefix)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Notifier delivers the private "Accept" prompt to the invited user.
type Notifier struct {
	Deps
}

func NewNotifier(deps Deps) *Notifier {
	return &Notifier{Deps: deps}
}

// Notify resolves the target and sends the prompt. The invitation stays in
// the store whatever happens here.
func (n *Notifier) Notify(ctx context.Context, inv models.Invitation, guild Guild) error {
	user, err := n.Platform.User(ctx, inv.TargetUserID)
	if err != nil {
		n.Metrics.Inc(utils.MetricDeliveryFailures)
		n.Logger.Warn("⚠️ target user lookup failed", "invitation_id", inv.ID, "target_user_id", inv.TargetUserID.String(), "error", err)
		return apperrors.Wrap(apperrors.CodeUserNotFound, "could not resolve the invited user", err)
	}

	prompt := AcceptPrompt{
		Content:     n.Texts.Default(i18n.KeyInvitationDM, inv.ChannelName, guild.Name),
		ButtonLabel: n.Texts.Default(i18n.KeyButtonAccept),
		CustomID:    AcceptCustomID(inv.ID),
	}

	if err := n.Platform.SendAcceptPrompt(ctx, user.ID, prompt); err != nil {
		n.Metrics.Inc(utils.MetricDeliveryFailures)
		if errors.Is(err, ErrDirectMessagesClosed) {
			n.Logger.Warn("⚠️ direct messages closed", "invitation_id", inv.ID, "target_user_id", user.ID.String())
			return apperrors.Wrap(apperrors.CodeDeliveryForbidden,
				"the user does not accept direct messages; ask them to open DMs or allow messages from server members", err)
		}
		n.Logger.Error("❌ direct message failed", "invitation_id", inv.ID, "error", err)
		return apperrors.Wrap(apperrors.CodeDeliveryFailed, "failed to send the invitation message", err)
	}

	n.Logger.Info("📧 invitation delivered", "invitation_id", inv.ID, "target_user_id", user.ID.String())
	return nil
}
