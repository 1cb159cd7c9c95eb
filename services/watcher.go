package services

import (
	"context"

	"github.com/LovationAdmin/voice-invites/i18n"
	"github.com/LovationAdmin/voice-invites/models"
	"github.com/LovationAdmin/voice-invites/utils"
)

// MembershipWatcher deletes a managed channel as soon as the last member
// leaves it, accepted or not.
type MembershipWatcher struct {
	Deps
}

func NewMembershipWatcher(deps Deps) *MembershipWatcher {
	return &MembershipWatcher{Deps: deps}
}

// HandleVoiceState reacts to one voice-state change and returns the
// invitations it purged.
func (w *MembershipWatcher) HandleVoiceState(ctx context.Context, event VoiceStateEvent) []models.Invitation {
	if !event.Left() || !w.Store.TracksChannel(event.BeforeChannelID) {
		return nil
	}
	channelID := event.BeforeChannelID

	count, err := w.Platform.VoiceMemberCount(ctx, event.GuildID, channelID)
	if err != nil {
		w.Logger.Warn("⚠️ member count failed", "channel_id", channelID.String(), "error", err)
		return nil
	}
	if count > 0 {
		return nil
	}

	if err := w.deleteChannel(ctx, channelID, i18n.KeyAuditVacated); err != nil {
		w.Logger.Error("❌ failed to delete empty channel", "channel_id", channelID.String(), "error", err)
		return nil
	}

	removed := w.Store.DeleteByChannel(channelID)
	if len(removed) > 0 {
		w.Metrics.Inc(utils.MetricChannelsReclaimedVacated)
	}
	w.Logger.Info("🧹 empty channel reclaimed", "channel_id", channelID.String(), "purged", len(removed))
	for _, inv := range removed {
		w.publish(models.EventInvitationReclaimed, models.ReclaimReasonVacated, inv)
	}
	return removed
}
