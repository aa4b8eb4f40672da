// Package usagerefresh is the collaborator the failover driver consults
// on a non-challenge business error: "is this account now known to be
// over quota?" The actual upstream quota poll (§6's USAGE_BASE_URL /
// USAGE_POLL_INTERVAL_SECS collaborator) is out of this core's scope;
// this package owns the consultation surface and the metrics the core
// emits around it, reading whatever the poller last wrote to storage.
package usagerefresh

import (
	"context"
	"time"

	"gpttoolsgw/internal/gwmetrics"
	"gpttoolsgw/internal/store"
)

// SnapshotReader is the storage dependency: the latest usage reading
// for an account, however it got there. *store.Store satisfies this
// directly.
type SnapshotReader interface {
	MostExhaustedWindow(ctx context.Context, accountID string) (*store.UsageSnapshot, error)
}

// exhaustedThreshold marks an account unavailable once its
// most-exhausted window is reported fully spent.
const exhaustedThreshold = 99.5

// Refresher answers "is this account unavailable" by consulting the
// latest stored snapshot, instrumenting every call per §4.C's
// usage_refresh_{attempts,success,failures,duration_ms} counters.
type Refresher struct {
	reader  SnapshotReader
	metrics *gwmetrics.Metrics
}

// New builds a Refresher.
func New(reader SnapshotReader, metrics *gwmetrics.Metrics) *Refresher {
	return &Refresher{reader: reader, metrics: metrics}
}

// IsUnavailable reports whether accountID's most-exhausted usage window
// is currently spent, so the failover driver should treat this account
// as out of quota rather than retrying it. A read failure counts as a
// failed refresh and conservatively reports the account as still
// available, since the driver's own cooldown/failover path already
// handles the error if the business response itself was indicative.
func (r *Refresher) IsUnavailable(ctx context.Context, accountID string) bool {
	start := time.Now()
	r.metrics.UsageRefreshAttemptsTotal.Inc()
	defer func() {
		r.metrics.UsageRefreshDurationMillis.Observe(float64(time.Since(start).Milliseconds()))
	}()

	snap, err := r.reader.MostExhaustedWindow(ctx, accountID)
	if err != nil {
		r.metrics.UsageRefreshFailuresTotal.Inc()
		return false
	}
	r.metrics.UsageRefreshSuccessTotal.Inc()
	if snap == nil {
		return false
	}
	if snap.ResetsAt != nil && snap.ResetsAt.Before(time.Now()) {
		return false
	}
	return snap.UsedPercent >= exhaustedThreshold
}
