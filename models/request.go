package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"

	"github.com/LovationAdmin/voice-invites/apperrors"
)

// ============================================================================
// REQUEST PARAMETERS
// ============================================================================

// SnowflakeParam accepts a Discord id sent either as a JSON number or as a
// JSON string. Discord ids overflow float64 precision, so web clients usually
// send strings. A number with a fractional part is truncated; a string must
// hold an integer.
type SnowflakeParam struct {
	ID  snowflake.ID
	Set bool
}

func (p *SnowflakeParam) UnmarshalJSON(data []byte) error {
	raw := string(bytes.TrimSpace(data))
	if raw == "null" {
		*p = SnowflakeParam{}
		return nil
	}

	var id snowflake.ID
	switch {
	case isJSONString(raw):
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return fmt.Errorf("invalid id %s", raw)
		}
		parsed, err := snowflake.ParseString(strings.TrimSpace(text))
		if err != nil {
			return fmt.Errorf("invalid id %q", text)
		}
		id = parsed
	case isJSONNumber(raw):
		n, ok := truncateNumber(raw)
		if !ok || !n.IsInt64() {
			return fmt.Errorf("invalid id %s", raw)
		}
		id = snowflake.ID(n.Int64())
	default:
		return fmt.Errorf("invalid id %s", raw)
	}

	if id <= 0 {
		return fmt.Errorf("invalid id %s", raw)
	}
	*p = SnowflakeParam{ID: id, Set: true}
	return nil
}

// ExpiresParam is a lenient minute count. Numbers are truncated to whole
// minutes, strings must hold an integer and booleans count as 0 or 1.
// Anything else leaves it unset so the default applies.
type ExpiresParam struct {
	Minutes int
	Set     bool
}

func (p *ExpiresParam) UnmarshalJSON(data []byte) error {
	*p = ExpiresParam{}
	raw := string(bytes.TrimSpace(data))

	switch {
	case raw == "true":
		*p = ExpiresParam{Minutes: 1, Set: true}
	case raw == "false":
		*p = ExpiresParam{Minutes: 0, Set: true}
	case isJSONString(raw):
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return nil
		}
		if n, err := strconv.Atoi(strings.TrimSpace(text)); err == nil {
			*p = ExpiresParam{Minutes: n, Set: true}
		}
	case isJSONNumber(raw):
		n, ok := truncateNumber(raw)
		if !ok {
			return nil
		}
		minutes := int64(math.MaxInt32)
		if n.Sign() < 0 {
			minutes = math.MinInt32
		}
		if n.IsInt64() && n.Int64() > math.MinInt32 && n.Int64() < math.MaxInt32 {
			minutes = n.Int64()
		}
		*p = ExpiresParam{Minutes: int(minutes), Set: true}
	}
	return nil
}

func isJSONString(raw string) bool {
	return strings.HasPrefix(raw, `"`)
}

func isJSONNumber(raw string) bool {
	return raw != "" && (raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'))
}

// truncateNumber converts a JSON number literal to an integer by dropping
// the fractional part. Large ids keep every digit.
func truncateNumber(raw string) (*big.Int, bool) {
	f, _, err := big.ParseFloat(raw, 10, 256, big.ToZero)
	if err != nil || f.IsInf() {
		return nil, false
	}
	n, _ := f.Int(nil)
	return n, true
}

// InvitationRequest is the body of POST /api/invite.
type InvitationRequest struct {
	GuildID     SnowflakeParam `json:"guild_id"`
	UserID      SnowflakeParam `json:"user_id"`
	ChannelName string         `json:"channel_name"`
	ExpiresIn   ExpiresParam   `json:"expires_in"`
	RequestedBy SnowflakeParam `json:"requested_by"`
}

// Normalize validates the request and applies the channel-name bound and
// the expiry clamp.
func (r InvitationRequest) Normalize() (NewInvitationInput, error) {
	if !r.GuildID.Set || !r.UserID.Set {
		return NewInvitationInput{}, apperrors.New(apperrors.CodeValidation, "guild_id and user_id are required")
	}

	name := NormalizeChannelName(r.ChannelName)
	if name == "" {
		return NewInvitationInput{}, apperrors.New(apperrors.CodeValidation, "channel_name is required")
	}

	expiresIn := DefaultExpiresInMinutes
	if r.ExpiresIn.Set {
		expiresIn = r.ExpiresIn.Minutes
	}

	input := NewInvitationInput{
		GuildID:      r.GuildID.ID,
		TargetUserID: r.UserID.ID,
		ChannelName:  name,
		ExpiresIn:    ClampExpiresIn(expiresIn),
	}
	if r.RequestedBy.Set {
		input.RequestedBy = r.RequestedBy.ID
	}
	return input, nil
}

// NormalizeChannelName keeps the first MaxChannelNameLength characters and
// trims surrounding whitespace.
func NormalizeChannelName(name string) string {
	runes := []rune(name)
	if len(runes) > MaxChannelNameLength {
		runes = runes[:MaxChannelNameLength]
	}
	return strings.TrimSpace(string(runes))
}

// ClampExpiresIn bounds an expiry in minutes to [MinExpiresInMinutes, MaxExpiresInMinutes].
func ClampExpiresIn(minutes int) int {
	if minutes < MinExpiresInMinutes {
		return MinExpiresInMinutes
	}
	if minutes > MaxExpiresInMinutes {
		return MaxExpiresInMinutes
	}
	return minutes
}

// TokenRequest is the body of POST /api/token.
type TokenRequest struct {
	Token string `json:"token"`
}
