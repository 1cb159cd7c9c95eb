package services

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// ============================================================================
// PLATFORM ABSTRACTION
// ============================================================================

// Errors reported by a Platform. The engine translates them into coded
// apperrors; adapters must wrap them so errors.Is keeps working.
var (
	ErrUnknownResource      = errors.New("platform: unknown resource")
	ErrMissingAccess        = errors.New("platform: missing access")
	ErrDirectMessagesClosed = errors.New("platform: direct messages closed")
)

// Permission is a bit set of channel permissions.
type Permission int64

const (
	PermissionManageChannel Permission = 1 << 4
	PermissionViewChannel   Permission = 1 << 10
	PermissionConnect       Permission = 1 << 20
)

// Has reports whether every bit of other is set in p.
func (p Permission) Has(other Permission) bool {
	return p&other == other
}

// OverwriteTarget says whether an overwrite applies to a role or a member.
type OverwriteTarget int

const (
	OverwriteRole OverwriteTarget = iota
	OverwriteMember
)

// PermissionOverwrite grants or denies permissions to one role or member.
type PermissionOverwrite struct {
	ID     snowflake.ID
	Target OverwriteTarget
	Allow  Permission
	Deny   Permission
}

// Guild is the subset of a Discord server the engine needs.
type Guild struct {
	ID            snowflake.ID
	Name          string
	DefaultRoleID snowflake.ID
}

// Channel is a voice channel managed by the engine.
type Channel struct {
	ID      snowflake.ID
	GuildID snowflake.ID
	Name    string
}

// User is a resolved Discord user.
type User struct {
	ID       snowflake.ID
	Username string
}

// Interaction identifies a button click that must be answered.
type Interaction struct {
	ID      string
	Token   string
	AppID   string
	UserID  snowflake.ID
	GuildID snowflake.ID
	Locale  string
}

// AcceptPrompt is the private message carrying the "Accept" button.
type AcceptPrompt struct {
	Content     string
	ButtonLabel string
	CustomID    string
}

// Reply is an ephemeral answer to an interaction. A non-empty LinkURL adds
// a link button.
type Reply struct {
	Content   string
	LinkLabel string
	LinkURL   string
}

// Platform is everything the engine needs from the chat platform. The
// Discord adapter is the production implementation; tests use an in-memory
// fake.
type Platform interface {
	// Open connects to the gateway. Events are delivered to handler from
	// the platform's own goroutines until Close returns.
	Open(ctx context.Context, handler func(Event)) error
	Close() error

	BotUserID() snowflake.ID

	Guild(ctx context.Context, guildID snowflake.ID) (Guild, error)
	CreateVoiceChannel(ctx context.Context, guildID snowflake.ID, name string, overwrites []PermissionOverwrite, reason string) (Channel, error)
	Channel(ctx context.Context, channelID snowflake.ID) (Channel, error)
	// VoiceMemberCount returns how many users are connected to the channel.
	VoiceMemberCount(ctx context.Context, guildID, channelID snowflake.ID) (int, error)
	SetPermission(ctx context.Context, channelID snowflake.ID, overwrite PermissionOverwrite, reason string) error
	DeleteChannel(ctx context.Context, channelID snowflake.ID, reason string) error
	// CreateInvite mints a single-use, unique join link.
	CreateInvite(ctx context.Context, channelID snowflake.ID, reason string) (string, error)

	// Member reports whether the user belongs to the guild.
	Member(ctx context.Context, guildID, userID snowflake.ID) (bool, error)
	User(ctx context.Context, userID snowflake.ID) (User, error)
	SendAcceptPrompt(ctx context.Context, userID snowflake.ID, prompt AcceptPrompt) error
	Respond(ctx context.Context, interaction Interaction, reply Reply) error
}

// ============================================================================
// EVENTS
// ============================================================================

// EventKind keys the per-connection handler table.
type EventKind int

const (
	EventReady EventKind = iota + 1
	EventVoiceState
	EventAccept
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventVoiceState:
		return "voice_state"
	case EventAccept:
		return "accept"
	default:
		return "unknown"
	}
}

// Event is something the platform observed.
type Event interface {
	Kind() EventKind
}

// ReadyEvent is emitted once the gateway session is established.
type ReadyEvent struct {
	BotUserID snowflake.ID
}

func (ReadyEvent) Kind() EventKind { return EventReady }

// VoiceStateEvent is emitted when a user joins, leaves, or moves between
// voice channels. A zero channel id means "not in a channel".
type VoiceStateEvent struct {
	GuildID         snowflake.ID
	UserID          snowflake.ID
	BeforeChannelID snowflake.ID
	AfterChannelID  snowflake.ID
}

func (VoiceStateEvent) Kind() EventKind { return EventVoiceState }

// Left reports whether the user left BeforeChannelID.
func (e VoiceStateEvent) Left() bool {
	return e.BeforeChannelID != 0 && e.BeforeChannelID != e.AfterChannelID
}

// AcceptEvent is emitted when someone clicks an "Accept" button.
type AcceptEvent struct {
	Interaction  Interaction
	InvitationID string
}

func (AcceptEvent) Kind() EventKind { return EventAccept }
