package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/bwmarrin/snowflake"
)

const discordInviteBaseURL = "https://discord.gg/"

// DiscordPlatform is the Platform backed by a discordgo session.
type DiscordPlatform struct {
	session *discordgo.Session
	logger  *slog.Logger

	mu             sync.Mutex
	removeHandlers []func()
}

// NewDiscordPlatformFactory returns a PlatformFactory for bot tokens.
func NewDiscordPlatformFactory(logger *slog.Logger) PlatformFactory {
	return func(token string) (Platform, error) {
		return NewDiscordPlatform(token, logger)
	}
}

func NewDiscordPlatform(token string, logger *slog.Logger) (*DiscordPlatform, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsDirectMessages
	session.StateEnabled = true
	session.State.TrackVoice = true

	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordPlatform{session: session, logger: logger}, nil
}

func (d *DiscordPlatform) Open(ctx context.Context, handler func(Event)) error {
	d.mu.Lock()
	d.removeHandlers = append(d.removeHandlers,
		d.session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			handler(ReadyEvent{BotUserID: parseSnowflake(r.User.ID)})
		}),
		d.session.AddHandler(func(_ *discordgo.Session, v *discordgo.VoiceStateUpdate) {
			if ev, ok := voiceStateEvent(v); ok {
				handler(ev)
			}
		}),
		d.session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			if ev, ok := acceptEvent(i); ok {
				handler(ev)
			}
		}),
	)
	d.mu.Unlock()

	if err := d.session.Open(); err != nil {
		return classifyError(err)
	}
	d.logger.Debug("discord gateway session opened")
	return nil
}

// Close may run concurrently with Open; the caller closes again once Open
// returns if it was stopped in between.
func (d *DiscordPlatform) Close() error {
	d.mu.Lock()
	removers := d.removeHandlers
	d.removeHandlers = nil
	d.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
	return d.session.Close()
}

func (d *DiscordPlatform) BotUserID() snowflake.ID {
	if d.session.State == nil || d.session.State.User == nil {
		return 0
	}
	return parseSnowflake(d.session.State.User.ID)
}

// Guild reads the state cache first and falls back to REST.
func (d *DiscordPlatform) Guild(ctx context.Context, guildID snowflake.ID) (Guild, error) {
	guild, err := d.session.State.Guild(guildID.String())
	if err != nil {
		guild, err = d.session.Guild(guildID.String(), discordgo.WithContext(ctx))
		if err != nil {
			return Guild{}, classifyError(err)
		}
	}
	return Guild{
		ID:   parseSnowflake(guild.ID),
		Name: guild.Name,
		// @everyone shares the guild's id
		DefaultRoleID: parseSnowflake(guild.ID),
	}, nil
}

func (d *DiscordPlatform) CreateVoiceChannel(ctx context.Context, guildID snowflake.ID, name string, overwrites []PermissionOverwrite, reason string) (Channel, error) {
	data := discordgo.GuildChannelCreateData{
		Name: name,
		Type: discordgo.ChannelTypeGuildVoice,
	}
	for _, ow := range overwrites {
		data.PermissionOverwrites = append(data.PermissionOverwrites, toDiscordOverwrite(ow))
	}

	channel, err := d.session.GuildChannelCreateComplex(guildID.String(), data, requestOptions(ctx, reason)...)
	if err != nil {
		return Channel{}, classifyError(err)
	}
	return fromDiscordChannel(channel), nil
}

func (d *DiscordPlatform) Channel(ctx context.Context, channelID snowflake.ID) (Channel, error) {
	if channel, err := d.session.State.Channel(channelID.String()); err == nil {
		return fromDiscordChannel(channel), nil
	}
	channel, err := d.session.Channel(channelID.String(), discordgo.WithContext(ctx))
	if err != nil {
		return Channel{}, classifyError(err)
	}
	if channel.Type != discordgo.ChannelTypeGuildVoice {
		return Channel{}, fmt.Errorf("channel %s is not a voice channel: %w", channelID, ErrUnknownResource)
	}
	return fromDiscordChannel(channel), nil
}

// VoiceMemberCount counts voice states in the state cache. The gateway keeps
// it current for every guild the bot is in.
func (d *DiscordPlatform) VoiceMemberCount(ctx context.Context, guildID, channelID snowflake.ID) (int, error) {
	guild, err := d.session.State.Guild(guildID.String())
	if err != nil {
		return 0, fmt.Errorf("guild %s not cached: %w", guildID, err)
	}

	d.session.State.RLock()
	defer d.session.State.RUnlock()
	return countVoiceMembers(guild.VoiceStates, channelID.String()), nil
}

func (d *DiscordPlatform) SetPermission(ctx context.Context, channelID snowflake.ID, overwrite PermissionOverwrite, reason string) error {
	ow := toDiscordOverwrite(overwrite)
	err := d.session.ChannelPermissionSet(channelID.String(), ow.ID, ow.Type, ow.Allow, ow.Deny, requestOptions(ctx, reason)...)
	return classifyError(err)
}

func (d *DiscordPlatform) DeleteChannel(ctx context.Context, channelID snowflake.ID, reason string) error {
	_, err := d.session.ChannelDelete(channelID.String(), requestOptions(ctx, reason)...)
	return classifyError(err)
}

func (d *DiscordPlatform) CreateInvite(ctx context.Context, channelID snowflake.ID, reason string) (string, error) {
	invite, err := d.session.ChannelInviteCreate(channelID.String(), discordgo.Invite{
		MaxUses: 1,
		Unique:  true,
	}, requestOptions(ctx, reason)...)
	if err != nil {
		return "", classifyError(err)
	}
	return discordInviteBaseURL + invite.Code, nil
}

func (d *DiscordPlatform) Member(ctx context.Context, guildID, userID snowflake.ID) (bool, error) {
	if _, err := d.session.State.Member(guildID.String(), userID.String()); err == nil {
		return true, nil
	}
	_, err := d.session.GuildMember(guildID.String(), userID.String(), discordgo.WithContext(ctx))
	if err != nil {
		err = classifyError(err)
		if errors.Is(err, ErrUnknownResource) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// User looks through cached guild members before asking REST.
func (d *DiscordPlatform) User(ctx context.Context, userID snowflake.ID) (User, error) {
	id := userID.String()

	d.session.State.RLock()
	guildIDs := make([]string, 0, len(d.session.State.Guilds))
	for _, g := range d.session.State.Guilds {
		guildIDs = append(guildIDs, g.ID)
	}
	d.session.State.RUnlock()

	for _, guildID := range guildIDs {
		if member, err := d.session.State.Member(guildID, id); err == nil && member.User != nil {
			return User{ID: userID, Username: member.User.Username}, nil
		}
	}

	user, err := d.session.User(id, discordgo.WithContext(ctx))
	if err != nil {
		return User{}, classifyError(err)
	}
	return User{ID: parseSnowflake(user.ID), Username: user.Username}, nil
}

func (d *DiscordPlatform) SendAcceptPrompt(ctx context.Context, userID snowflake.ID, prompt AcceptPrompt) error {
	dm, err := d.session.UserChannelCreate(userID.String(), discordgo.WithContext(ctx))
	if err != nil {
		return classifyError(err)
	}

	_, err = d.session.ChannelMessageSendComplex(dm.ID, &discordgo.MessageSend{
		Content: prompt.Content,
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    prompt.ButtonLabel,
					Style:    discordgo.PrimaryButton,
					CustomID: prompt.CustomID,
				},
			}},
		},
	}, discordgo.WithContext(ctx))
	err = classifyError(err)
	if errors.Is(err, ErrMissingAccess) {
		// a 403 on a DM channel means the user blocked DMs from the guild
		return fmt.Errorf("%w: %v", ErrDirectMessagesClosed, err)
	}
	return err
}

func (d *DiscordPlatform) Respond(ctx context.Context, interaction Interaction, reply Reply) error {
	data := &discordgo.InteractionResponseData{
		Content: reply.Content,
		Flags:   discordgo.MessageFlagsEphemeral,
	}
	if reply.LinkURL != "" {
		data.Components = []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label: reply.LinkLabel,
					Style: discordgo.LinkButton,
					URL:   reply.LinkURL,
				},
			}},
		}
	}

	err := d.session.InteractionRespond(&discordgo.Interaction{
		ID:    interaction.ID,
		Token: interaction.Token,
		AppID: interaction.AppID,
	}, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}, discordgo.WithContext(ctx))
	return classifyError(err)
}

// ============================================================================
// TRANSLATION HELPERS
// ============================================================================

func requestOptions(ctx context.Context, reason string) []discordgo.RequestOption {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
	}
	return opts
}

// classifyError wraps discordgo REST failures in the platform sentinels.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return err
	}

	if restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownGuild,
			discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser:
			return fmt.Errorf("%w: %v", ErrUnknownResource, err)
		case discordgo.ErrCodeCannotSendMessagesToThisUser:
			return fmt.Errorf("%w: %v", ErrDirectMessagesClosed, err)
		case discordgo.ErrCodeMissingAccess, discordgo.ErrCodeMissingPermissions:
			return fmt.Errorf("%w: %v", ErrMissingAccess, err)
		}
	}
	if restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", ErrUnknownResource, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrMissingAccess, err)
		}
	}
	return err
}

func voiceStateEvent(v *discordgo.VoiceStateUpdate) (VoiceStateEvent, bool) {
	if v == nil || v.VoiceState == nil {
		return VoiceStateEvent{}, false
	}
	ev := VoiceStateEvent{
		GuildID:        parseSnowflake(v.GuildID),
		UserID:         parseSnowflake(v.UserID),
		AfterChannelID: parseSnowflake(v.ChannelID),
	}
	if v.BeforeUpdate != nil {
		ev.BeforeChannelID = parseSnowflake(v.BeforeUpdate.ChannelID)
	}
	return ev, true
}

func acceptEvent(i *discordgo.InteractionCreate) (AcceptEvent, bool) {
	if i == nil || i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return AcceptEvent{}, false
	}
	invitationID, ok := ParseAcceptCustomID(i.MessageComponentData().CustomID)
	if !ok {
		return AcceptEvent{}, false
	}

	var userID string
	switch {
	case i.Member != nil && i.Member.User != nil:
		userID = i.Member.User.ID
	case i.User != nil:
		userID = i.User.ID
	}

	return AcceptEvent{
		InvitationID: invitationID,
		Interaction: Interaction{
			ID:      i.ID,
			Token:   i.Token,
			AppID:   i.AppID,
			UserID:  parseSnowflake(userID),
			GuildID: parseSnowflake(i.GuildID),
			Locale:  string(i.Locale),
		},
	}, true
}

func toDiscordOverwrite(ow PermissionOverwrite) *discordgo.PermissionOverwrite {
	kind := discordgo.PermissionOverwriteTypeRole
	if ow.Target == OverwriteMember {
		kind = discordgo.PermissionOverwriteTypeMember
	}
	return &discordgo.PermissionOverwrite{
		ID:    ow.ID.String(),
		Type:  kind,
		Allow: toDiscordPermissions(ow.Allow),
		Deny:  toDiscordPermissions(ow.Deny),
	}
}

func toDiscordPermissions(p Permission) int64 {
	var out int64
	if p.Has(PermissionViewChannel) {
		out |= discordgo.PermissionViewChannel
	}
	if p.Has(PermissionConnect) {
		out |= discordgo.PermissionVoiceConnect
	}
	if p.Has(PermissionManageChannel) {
		out |= discordgo.PermissionManageChannels
	}
	return out
}

func fromDiscordChannel(c *discordgo.Channel) Channel {
	return Channel{
		ID:      parseSnowflake(c.ID),
		GuildID: parseSnowflake(c.GuildID),
		Name:    c.Name,
	}
}

func countVoiceMembers(states []*discordgo.VoiceState, channelID string) int {
	count := 0
	for _, vs := range states {
		if vs != nil && vs.ChannelID == channelID {
			count++
		}
	}
	return count
}

// parseSnowflake returns 0 for empty or malformed ids.
func parseSnowflake(id string) snowflake.ID {
	parsed, err := snowflake.ParseString(id)
	if err != nil {
		return 0
	}
	return parsed
}
