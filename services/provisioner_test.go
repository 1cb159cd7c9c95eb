package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/bwmarrin/snowflake"

	"github.com/LovationAdmin/voice-invites/apperrors"
	"github.com/LovationAdmin/voice-invites/models"
	"github.com/LovationAdmin/voice-invites/utils"
)

func newPending(env *testEnv, id string) models.Invitation {
	return models.NewInvitation(id, models.NewInvitationInput{
		GuildID:      testGuildID,
		TargetUserID: testTarget,
		ChannelName:  "Movie Night",
		ExpiresIn:    15,
	}, env.clock.Now())
}

func TestProvisionCreatesRestrictedChannel(t *testing.T) {
	env := newTestEnv(t)

	inv, guild, err := NewProvisioner(env.deps).Provision(context.Background(), newPending(env, "inv-1"))
	if err != nil {
		t.Fatalf("Provision: %v", err)
	}
	if guild.Name != "Cinema Club" {
		t.Fatalf("guild = %+v", guild)
	}
	if !inv.HasChannel() || !env.platform.hasChannel(inv.ChannelID) {
		t.Fatalf("channel not created: %+v", inv)
	}

	stored, ok := env.deps.Store.Get("inv-1")
	if !ok || stored.ChannelID != inv.ChannelID {
		t.Fatalf("stored = %+v, %v", stored, ok)
	}

	everyone, ok := env.platform.overwrite(inv.ChannelID, testGuildID)
	if !ok || everyone.Target != OverwriteRole || !everyone.Allow.Has(PermissionViewChannel) || !everyone.Deny.Has(PermissionConnect) {
		t.Fatalf("default role overwrite = %+v", everyone)
	}
	bot, ok := env.platform.overwrite(inv.ChannelID, testBotID)
	if !ok || !bot.Allow.Has(PermissionViewChannel|PermissionConnect|PermissionManageChannel) {
		t.Fatalf("bot overwrite = %+v", bot)
	}
	if _, ok := env.platform.overwrite(inv.ChannelID, testTarget); ok {
		t.Fatalf("target must not have access before accepting")
	}
}

func TestProvisionErrors(t *testing.T) {
	tests := []struct {
		name   string
		inject func(p *fakePlatform)
		guild  int64
		want   error
	}{
		{
			name:  "unknown guild",
			guild: 777,
			want:  apperrors.ErrCommunityNotFound,
		},
		{
			name:   "missing access",
			inject: func(p *fakePlatform) { p.guildErr = fmt.Errorf("forbidden: %w", ErrMissingAccess) },
			want:   apperrors.ErrCommunityNotFound,
		},
		{
			name:   "channel creation fails",
			inject: func(p *fakePlatform) { p.createErr = errors.New("rate limited") },
			want:   apperrors.ErrProvisioning,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tc.inject != nil {
				env.platform.set(tc.inject)
			}
			inv := newPending(env, "inv-1")
			if tc.guild != 0 {
				inv.GuildID = snowflake.ID(tc.guild)
			}

			_, _, err := NewProvisioner(env.deps).Provision(context.Background(), inv)
			if !errors.Is(err, tc.want) {
				t.Fatalf("Provision error = %v, want %v", err, tc.want)
			}
			if env.deps.Store.Len() != 0 {
				t.Fatalf("failed provisioning must not record the invitation")
			}
		})
	}
}

func TestNotifySendsAcceptPrompt(t *testing.T) {
	env := newTestEnv(t)
	inv := env.provisioned(t, "inv-1", 15)

	err := NewNotifier(env.deps).Notify(context.Background(), inv, Guild{ID: testGuildID, Name: "Cinema Club"})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}

	env.platform.mu.Lock()
	prompts := append([]sentPrompt(nil), env.platform.prompts...)
	env.platform.mu.Unlock()

	if len(prompts) != 1 || prompts[0].UserID != testTarget {
		t.Fatalf("prompts = %+v", prompts)
	}
	prompt := prompts[0].Prompt
	if id, ok := ParseAcceptCustomID(prompt.CustomID); !ok || id != "inv-1" {
		t.Fatalf("custom id = %q", prompt.CustomID)
	}
	if !strings.Contains(prompt.Content, "Movie Night") || !strings.Contains(prompt.Content, "Cinema Club") {
		t.Fatalf("content = %q", prompt.Content)
	}
	if prompt.ButtonLabel != "Accept invitation" {
		t.Fatalf("button label = %q", prompt.ButtonLabel)
	}
}

func TestNotifyErrors(t *testing.T) {
	tests := []struct {
		name   string
		inject func(p *fakePlatform)
		want   error
	}{
		{
			name:   "unknown user",
			inject: func(p *fakePlatform) { delete(p.users, testTarget) },
			want:   apperrors.ErrUserNotFound,
		},
		{
			name:   "direct messages closed",
			inject: func(p *fakePlatform) { p.dmErr = fmt.Errorf("50007: %w", ErrDirectMessagesClosed) },
			want:   apperrors.ErrDeliveryForbidden,
		},
		{
			name:   "transient failure",
			inject: func(p *fakePlatform) { p.dmErr = errors.New("gateway timeout") },
			want:   apperrors.ErrDeliveryFailed,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			inv := env.provisioned(t, "inv-1", 15)
			env.platform.set(tc.inject)

			err := NewNotifier(env.deps).Notify(context.Background(), inv, Guild{ID: testGuildID, Name: "Cinema Club"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("Notify error = %v, want %v", err, tc.want)
			}
			if _, ok := env.deps.Store.Get("inv-1"); !ok {
				t.Fatalf("delivery failure must leave the invitation tracked")
			}
			if env.deps.Metrics.Get(utils.MetricDeliveryFailures) != 1 {
				t.Fatalf("delivery failure not counted")
			}
		})
	}
}

func TestParseAcceptCustomID(t *testing.T) {
	tests := []struct {
		in     string
		wantID string
		wantOK bool
	}{
		{in: AcceptCustomID("abc"), wantID: "abc", wantOK: true},
		{in: "invite_accept:", wantOK: false},
		{in: "other:abc", wantOK: false},
	}
	for _, tc := range tests {
		id, ok := ParseAcceptCustomID(tc.in)
		if id != tc.wantID || ok != tc.wantOK {
			t.Fatalf("ParseAcceptCustomID(%q) = %q, %v", tc.in, id, ok)
		}
	}
}
