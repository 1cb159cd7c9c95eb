package models

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ============================================================================
// INVITATION LIMITS
// ============================================================================

const (
	MaxChannelNameLength    = 80
	DefaultExpiresInMinutes = 30
	MinExpiresInMinutes     = 1
	MaxExpiresInMinutes     = 240
)

// ============================================================================
// INVITATION MODEL
// ============================================================================

// Invitation is one private voice channel offered to one guild member.
// A zero ChannelID means the channel has not been created yet; a zero
// RequestedBy means the requester is unknown.
type Invitation struct {
	ID           string
	GuildID      snowflake.ID
	TargetUserID snowflake.ID
	ChannelName  string
	RequestedBy  snowflake.ID
	CreatedAt    time.Time
	ExpiresAt    time.Time
	ChannelID    snowflake.ID
	InviteURL    string
	Accepted     bool
	AcceptedAt   time.Time
}

// NewInvitation builds a pending invitation expiring ExpiresIn minutes after now.
func NewInvitation(id string, input NewInvitationInput, now time.Time) Invitation {
	createdAt := now.UTC()
	return Invitation{
		ID:           id,
		GuildID:      input.GuildID,
		TargetUserID: input.TargetUserID,
		ChannelName:  input.ChannelName,
		RequestedBy:  input.RequestedBy,
		CreatedAt:    createdAt,
		ExpiresAt:    createdAt.Add(time.Duration(input.ExpiresIn) * time.Minute),
	}
}

// IsExpired reports whether the invitation's lifetime has run out at now.
func (i Invitation) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// HasChannel reports whether the provisioner has attached a channel.
func (i Invitation) HasChannel() bool {
	return i.ChannelID != 0
}

// ToResponse renders the invitation the way the HTTP API exposes it.
func (i Invitation) ToResponse() InvitationResponse {
	resp := InvitationResponse{
		InvitationID: i.ID,
		GuildID:      i.GuildID,
		TargetUserID: i.TargetUserID,
		ChannelName:  i.ChannelName,
		ExpiresAt:    i.ExpiresAt.UTC().Format(time.RFC3339),
		Accepted:     i.Accepted,
	}
	if i.ChannelID != 0 {
		channelID := i.ChannelID
		resp.ChannelID = &channelID
	}
	if i.RequestedBy != 0 {
		requestedBy := i.RequestedBy
		resp.RequestedBy = &requestedBy
	}
	if i.InviteURL != "" {
		inviteURL := i.InviteURL
		resp.InviteURL = &inviteURL
	}
	return resp
}

// NewInvitationInput is a validated invitation request.
type NewInvitationInput struct {
	GuildID      snowflake.ID
	TargetUserID snowflake.ID
	ChannelName  string
	ExpiresIn    int
	RequestedBy  snowflake.ID
}

// ============================================================================
// API RESPONSES
// ============================================================================

// InvitationResponse is the public view of an invitation. Snowflake ids
// marshal as JSON strings.
type InvitationResponse struct {
	Message      string        `json:"message,omitempty"`
	InvitationID string        `json:"invitation_id"`
	GuildID      snowflake.ID  `json:"guild_id"`
	TargetUserID snowflake.ID  `json:"target_user_id"`
	ChannelName  string        `json:"channel_name"`
	ChannelID    *snowflake.ID `json:"channel_id"`
	RequestedBy  *snowflake.ID `json:"requested_by"`
	ExpiresAt    string        `json:"expires_at"`
	Accepted     bool          `json:"accepted"`
	InviteURL    *string       `json:"invite_url"`
}

// Lifecycle event types published on the live feed.
const (
	EventInvitationCreated   = "invitation.created"
	EventInvitationAccepted  = "invitation.accepted"
	EventInvitationReclaimed = "invitation.reclaimed"
)

// Reclaim reasons attached to EventInvitationReclaimed.
const (
	ReclaimReasonExpired   = "expired"
	ReclaimReasonAbandoned = "abandoned"
	ReclaimReasonVacated   = "vacated"
	ReclaimReasonRollback  = "rollback"
)

// InvitationEvent is one lifecycle transition broadcast to dashboards.
type InvitationEvent struct {
	Type       string             `json:"type"`
	Reason     string             `json:"reason,omitempty"`
	Invitation InvitationResponse `json:"invitation"`
}
