package services

import (
	"context"

	"github.com/bwmarrin/snowflake"

	"github.com/LovationAdmin/voice-invites/apperrors"
	"github.com/LovationAdmin/voice-invites/i18n"
	"github.com/LovationAdmin/voice-invites/models"
)

// Provisioner creates the restricted voice channel for an invitation.
type Provisioner struct {
	Deps
}

func NewProvisioner(deps Deps) *Provisioner {
	return &Provisioner{Deps: deps}
}

// restrictedOverwrites is the access policy of a fresh channel: everyone may
// see it but not connect, the bot may see, connect and manage it.
func restrictedOverwrites(guild Guild, botUserID snowflake.ID) []PermissionOverwrite {
	return []PermissionOverwrite{
		defaultRoleOverwrite(guild.DefaultRoleID),
		{
			ID:     botUserID,
			Target: OverwriteMember,
			Allow:  PermissionViewChannel | PermissionConnect | PermissionManageChannel,
		},
	}
}

func defaultRoleOverwrite(roleID snowflake.ID) PermissionOverwrite {
	return PermissionOverwrite{
		ID:     roleID,
		Target: OverwriteRole,
		Allow:  PermissionViewChannel,
		Deny:   PermissionConnect,
	}
}

// Provision locates the guild, creates the channel and records the
// invitation in the store. The returned invitation carries the channel id.
func (p *Provisioner) Provision(ctx context.Context, inv models.Invitation) (models.Invitation, Guild, error) {
	guild, err := p.Platform.Guild(ctx, inv.GuildID)
	if err != nil {
		p.Logger.Warn("❌ guild lookup failed", "guild_id", inv.GuildID.String(), "error", err)
		return inv, Guild{}, apperrors.Wrap(apperrors.CodeCommunityNotFound, "guild not found or bot is not a member", err)
	}

	channel, err := p.Platform.CreateVoiceChannel(ctx, guild.ID, inv.ChannelName,
		restrictedOverwrites(guild, p.Platform.BotUserID()), p.Texts.Default(i18n.KeyAuditCreated))
	if err != nil {
		p.Logger.Error("❌ channel creation failed", "guild_id", guild.ID.String(), "error", err)
		return inv, guild, apperrors.Wrap(apperrors.CodeProvisioning, "failed to create voice channel", err)
	}

	inv.ChannelID = channel.ID
	p.Store.Put(inv)

	p.Logger.Info("✅ private channel created",
		"invitation_id", inv.ID,
		"guild_id", guild.ID.String(),
		"channel_id", channel.ID.String(),
		"expires_at", inv.ExpiresAt,
	)
	return inv, guild, nil
}
