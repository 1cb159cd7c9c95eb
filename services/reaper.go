package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/LovationAdmin/voice-invites/i18n"
	"github.com/LovationAdmin/voice-invites/models"
	"github.com/LovationAdmin/voice-invites/utils"
)

const DefaultReaperInterval = time.Minute

// SweepResult summarizes one reaper pass.
type SweepResult struct {
	Scanned   int
	Expired   int
	Abandoned int
	Errors    int
}

// Reaper periodically reclaims expired invitations and accepted channels
// that everyone has left.
type Reaper struct {
	Deps
	interval time.Duration
}

func NewReaper(deps Deps, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = DefaultReaperInterval
	}
	return &Reaper{Deps: deps, interval: interval}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := r.Clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.Logger.Info("🧹 reaper started", "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			r.Logger.Info("reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep inspects a snapshot of all invitations once. Failures on one
// invitation are logged and leave it for the next pass.
func (r *Reaper) Sweep(ctx context.Context) SweepResult {
	ctx, span := tracer.Start(ctx, "invitation.sweep")
	defer span.End()

	now := r.Clock.Now()
	snapshot := r.Store.Snapshot()
	result := SweepResult{Scanned: len(snapshot)}

	for _, inv := range snapshot {
		if ctx.Err() != nil {
			break
		}
		reclaimed, reason, err := r.inspect(ctx, inv, now)
		if err != nil {
			result.Errors++
			r.Metrics.Inc(utils.MetricSweepErrors)
			r.Logger.Error("❌ sweep failed for invitation", "invitation_id", inv.ID, "error", err)
			continue
		}
		if !reclaimed {
			continue
		}

		switch reason {
		case models.ReclaimReasonExpired:
			result.Expired++
			r.Metrics.Inc(utils.MetricChannelsReclaimedExpired)
		case models.ReclaimReasonAbandoned:
			result.Abandoned++
			r.Metrics.Inc(utils.MetricChannelsReclaimedAbandoned)
		}
	}

	span.SetAttributes(
		attribute.Int("sweep.scanned", result.Scanned),
		attribute.Int("sweep.expired", result.Expired),
		attribute.Int("sweep.abandoned", result.Abandoned),
		attribute.Int("sweep.errors", result.Errors),
	)
	if result.Expired+result.Abandoned+result.Errors > 0 {
		r.Logger.Info("🧹 sweep finished",
			"scanned", result.Scanned,
			"expired", result.Expired,
			"abandoned", result.Abandoned,
			"errors", result.Errors,
		)
	}
	return result
}

func (r *Reaper) inspect(ctx context.Context, inv models.Invitation, now time.Time) (bool, string, error) {
	if inv.IsExpired(now) {
		if err := r.deleteChannel(ctx, inv.ChannelID, i18n.KeyAuditExpired); err != nil {
			return false, "", err
		}
		r.purge(inv, models.ReclaimReasonExpired)
		return true, models.ReclaimReasonExpired, nil
	}

	if !inv.Accepted || !inv.HasChannel() {
		return false, "", nil
	}

	if _, err := r.Platform.Channel(ctx, inv.ChannelID); err != nil {
		if errors.Is(err, ErrUnknownResource) {
			return false, "", nil
		}
		return false, "", err
	}
	count, err := r.Platform.VoiceMemberCount(ctx, inv.GuildID, inv.ChannelID)
	if err != nil {
		return false, "", err
	}
	if count > 0 {
		return false, "", nil
	}

	if err := r.deleteChannel(ctx, inv.ChannelID, i18n.KeyAuditAbandoned); err != nil {
		return false, "", err
	}
	r.purge(inv, models.ReclaimReasonAbandoned)
	return true, models.ReclaimReasonAbandoned, nil
}

func (r *Reaper) purge(inv models.Invitation, reason string) {
	if removed, ok := r.Store.Delete(inv.ID); ok {
		r.Logger.Info("🧹 invitation reclaimed", "invitation_id", inv.ID, "reason", reason)
		r.publish(models.EventInvitationReclaimed, reason, removed)
	}
}
