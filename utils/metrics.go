package utils

import "sync"

// Counter names exposed on /metrics.
const (
	MetricInvitationsCreated         = "invitations_created"
	MetricInvitationsAccepted        = "invitations_accepted"
	MetricChannelsReclaimedExpired   = "channels_reclaimed_expired"
	MetricChannelsReclaimedAbandoned = "channels_reclaimed_abandoned"
	MetricChannelsReclaimedVacated   = "channels_reclaimed_vacated"
	MetricChannelsReclaimedRollback  = "channels_reclaimed_rollback"
	MetricDeliveryFailures           = "delivery_failures"
	MetricSweepErrors                = "sweep_errors"
)

// Metrics is a tiny in-memory counter store for instrumentation hooks.
type Metrics struct {
	mu       sync.RWMutex
	counters map[string]uint64
}

func NewMetrics() *Metrics {
	m := &Metrics{counters: make(map[string]uint64)}
	for _, name := range []string{
		MetricInvitationsCreated,
		MetricInvitationsAccepted,
		MetricChannelsReclaimedExpired,
		MetricChannelsReclaimedAbandoned,
		MetricChannelsReclaimedVacated,
		MetricChannelsReclaimedRollback,
		MetricDeliveryFailures,
		MetricSweepErrors,
	} {
		m.counters[name] = 0
	}
	return m
}

// Inc is a no-op on a nil receiver so components can run without metrics.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp := make(map[string]uint64, len(m.counters))
	for k, v := range m.counters {
		cp[k] = v
	}
	return cp
}
