package services

import (
	"context"
	"errors"
	"testing"

	"github.com/LovationAdmin/voice-invites/models"
	"github.com/LovationAdmin/voice-invites/utils"
)

func TestWatcherReclaimsVacatedChannel(t *testing.T) {
	env := newTestEnv(t)
	inv := env.provisioned(t, "inv-1", 15)
	twin := inv
	twin.ID = "inv-2"
	env.deps.Store.Put(twin)

	removed := NewMembershipWatcher(env.deps).HandleVoiceState(context.Background(), VoiceStateEvent{
		GuildID:         testGuildID,
		UserID:          testTarget,
		BeforeChannelID: inv.ChannelID,
	})

	if len(removed) != 2 {
		t.Fatalf("purged %d invitations, want 2", len(removed))
	}
	if env.platform.hasChannel(inv.ChannelID) {
		t.Fatalf("empty channel should be deleted")
	}
	if env.deps.Store.Len() != 0 {
		t.Fatalf("store should be empty, has %d", env.deps.Store.Len())
	}
	if env.deps.Metrics.Get(utils.MetricChannelsReclaimedVacated) != 1 {
		t.Fatalf("vacated counter not incremented")
	}
	want := models.EventInvitationReclaimed + ":" + models.ReclaimReasonVacated
	if got := env.listener.types(); len(got) != 2 || got[0] != want {
		t.Fatalf("events = %v", got)
	}
}

func TestWatcherIgnoresIrrelevantChanges(t *testing.T) {
	tests := []struct {
		name  string
		event func(inv models.Invitation) VoiceStateEvent
		setup func(env *testEnv, inv models.Invitation)
	}{
		{
			name: "joined the channel",
			event: func(inv models.Invitation) VoiceStateEvent {
				return VoiceStateEvent{GuildID: testGuildID, AfterChannelID: inv.ChannelID}
			},
		},
		{
			name: "mute toggled in place",
			event: func(inv models.Invitation) VoiceStateEvent {
				return VoiceStateEvent{GuildID: testGuildID, BeforeChannelID: inv.ChannelID, AfterChannelID: inv.ChannelID}
			},
		},
		{
			name: "left an unmanaged channel",
			event: func(inv models.Invitation) VoiceStateEvent {
				return VoiceStateEvent{GuildID: testGuildID, BeforeChannelID: 31337}
			},
		},
		{
			name: "someone is still inside",
			event: func(inv models.Invitation) VoiceStateEvent {
				return VoiceStateEvent{GuildID: testGuildID, BeforeChannelID: inv.ChannelID}
			},
			setup: func(env *testEnv, inv models.Invitation) {
				env.platform.set(func(p *fakePlatform) { p.voice[inv.ChannelID] = 1 })
			},
		},
		{
			name: "member count unavailable",
			event: func(inv models.Invitation) VoiceStateEvent {
				return VoiceStateEvent{GuildID: testGuildID, BeforeChannelID: inv.ChannelID}
			},
			setup: func(env *testEnv, inv models.Invitation) {
				env.platform.set(func(p *fakePlatform) { p.countErr = errors.New("no state") })
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			inv := env.provisioned(t, "inv-1", 15)
			if tc.setup != nil {
				tc.setup(env, inv)
			}

			removed := NewMembershipWatcher(env.deps).HandleVoiceState(context.Background(), tc.event(inv))
			if len(removed) != 0 || !env.platform.hasChannel(inv.ChannelID) || env.deps.Store.Len() != 1 {
				t.Fatalf("watcher should not reclaim: removed=%d", len(removed))
			}
		})
	}
}

func TestWatcherKeepsRecordWhenDeleteFails(t *testing.T) {
	env := newTestEnv(t)
	inv := env.provisioned(t, "inv-1", 15)
	env.platform.set(func(p *fakePlatform) { p.deleteErr = errors.New("rate limited") })

	removed := NewMembershipWatcher(env.deps).HandleVoiceState(context.Background(), VoiceStateEvent{
		GuildID:         testGuildID,
		BeforeChannelID: inv.ChannelID,
	})
	if len(removed) != 0 || env.deps.Store.Len() != 1 {
		t.Fatalf("record must stay for the reaper when deletion fails")
	}
}
