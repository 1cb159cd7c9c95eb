package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/LovationAdmin/voice-invites/models"
	"github.com/LovationAdmin/voice-invites/utils"
)

func TestSweepReclaimsExpiredInvitations(t *testing.T) {
	env := newTestEnv(t)
	inv := env.provisioned(t, "inv-1", 15)
	env.platform.set(func(p *fakePlatform) { p.voice[inv.ChannelID] = 3 })

	reaper := NewReaper(env.deps, time.Minute)

	env.clock.Advance(14 * time.Minute)
	if got := reaper.Sweep(context.Background()); got.Expired != 0 {
		t.Fatalf("reclaimed before expiry: %+v", got)
	}

	env.clock.Advance(time.Minute)
	got := reaper.Sweep(context.Background())
	if got.Expired != 1 || got.Errors != 0 {
		t.Fatalf("sweep = %+v", got)
	}
	if env.platform.hasChannel(inv.ChannelID) || env.deps.Store.Len() != 0 {
		t.Fatalf("expired invitation should be deleted even with members inside")
	}
	if env.deps.Metrics.Get(utils.MetricChannelsReclaimedExpired) != 1 {
		t.Fatalf("expired counter not incremented")
	}
}

func TestSweepPurgesExpiredInvitationWithoutChannel(t *testing.T) {
	env := newTestEnv(t)
	inv := env.provisioned(t, "inv-1", 1)
	if err := env.platform.DeleteChannel(context.Background(), inv.ChannelID, "manual"); err != nil {
		t.Fatalf("DeleteChannel: %v", err)
	}

	env.clock.Advance(2 * time.Minute)
	if got := NewReaper(env.deps, time.Minute).Sweep(context.Background()); got.Expired != 1 {
		t.Fatalf("sweep = %+v", got)
	}
	if env.deps.Store.Len() != 0 {
		t.Fatalf("record should be purged")
	}
}

func TestSweepReclaimsAbandonedAcceptedChannel(t *testing.T) {
	env := newTestEnv(t)
	accepted := env.provisioned(t, "accepted", 60)
	pending := env.provisioned(t, "pending", 60)
	env.deps.Store.Update("accepted", func(inv *models.Invitation) { inv.Accepted = true })

	got := NewReaper(env.deps, time.Minute).Sweep(context.Background())
	if got.Abandoned != 1 || got.Scanned != 2 {
		t.Fatalf("sweep = %+v", got)
	}
	if env.platform.hasChannel(accepted.ChannelID) {
		t.Fatalf("accepted empty channel should be deleted")
	}
	if !env.platform.hasChannel(pending.ChannelID) {
		t.Fatalf("never-joined pending channel must wait for expiry")
	}
	if _, ok := env.deps.Store.Get("pending"); !ok {
		t.Fatalf("pending invitation should stay tracked")
	}
}

func TestSweepLeavesOccupiedAcceptedChannel(t *testing.T) {
	env := newTestEnv(t)
	inv := env.provisioned(t, "inv-1", 60)
	env.deps.Store.Update("inv-1", func(i *models.Invitation) { i.Accepted = true })
	env.platform.set(func(p *fakePlatform) { p.voice[inv.ChannelID] = 1 })

	if got := NewReaper(env.deps, time.Minute).Sweep(context.Background()); got.Abandoned != 0 {
		t.Fatalf("sweep = %+v", got)
	}
	if !env.platform.hasChannel(inv.ChannelID) {
		t.Fatalf("occupied channel must survive")
	}
}

func TestSweepSkipsFailingInvitations(t *testing.T) {
	env := newTestEnv(t)
	env.provisioned(t, "a", 1)
	env.provisioned(t, "b", 1)
	env.platform.set(func(p *fakePlatform) { p.deleteErr = errors.New("discord is down") })

	env.clock.Advance(time.Minute)
	reaper := NewReaper(env.deps, time.Minute)
	got := reaper.Sweep(context.Background())
	if got.Errors != 2 || got.Expired != 0 {
		t.Fatalf("sweep = %+v", got)
	}
	if env.deps.Store.Len() != 2 {
		t.Fatalf("failed invitations stay for the next sweep")
	}
	if env.deps.Metrics.Get(utils.MetricSweepErrors) != 2 {
		t.Fatalf("sweep errors not counted")
	}

	env.platform.set(func(p *fakePlatform) { p.deleteErr = nil })
	if got := reaper.Sweep(context.Background()); got.Expired != 2 {
		t.Fatalf("retry sweep = %+v", got)
	}
}

func TestReaperRunsOnEveryTick(t *testing.T) {
	env := newTestEnv(t)
	inv := env.provisioned(t, "inv-1", 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewReaper(env.deps, time.Minute).Run(ctx)
		close(done)
	}()

	env.clock.WaitForTimers(1)
	env.clock.Advance(2 * time.Minute)

	deadline := time.After(2 * time.Second)
	for env.platform.hasChannel(inv.ChannelID) {
		select {
		case <-deadline:
			t.Fatalf("reaper did not reclaim the expired channel")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("reaper did not stop on cancel")
	}
}
