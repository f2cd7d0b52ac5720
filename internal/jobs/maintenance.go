package jobs

import (
	"context"
	"log"
	"time"

	"github.com/akmatori/contractmon/internal/clock"
	"github.com/akmatori/contractmon/internal/database"
	"github.com/akmatori/contractmon/internal/utils"
)

// MaintenanceStore is the part of the store the maintenance job drives
type MaintenanceStore interface {
	RollupDaily(ctx context.Context, day time.Time) (int, error)
	CleanupExpired(ctx context.Context, cutoff time.Time) (database.CleanupStats, error)
}

// Maintenance keeps daily aggregates current and enforces raw-row retention
type Maintenance struct {
	store     MaintenanceStore
	clock     clock.Clock
	retention time.Duration

	lastCleanup time.Time
}

// NewMaintenance creates a maintenance job
func NewMaintenance(store MaintenanceStore, clk clock.Clock, retention time.Duration) *Maintenance {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Maintenance{store: store, clock: clk, retention: retention}
}

// Rollup recomputes the aggregates of today and yesterday (UTC).
// Yesterday is included so late results of the previous day are picked up.
func (m *Maintenance) Rollup(ctx context.Context) (int, error) {
	now := m.clock.Now()
	total := 0
	for _, day := range []time.Time{now.AddDate(0, 0, -1), now} {
		n, err := m.store.RollupDaily(ctx, day)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Cleanup deletes raw rows older than the retention period
func (m *Maintenance) Cleanup(ctx context.Context) (database.CleanupStats, error) {
	stats, err := m.store.CleanupExpired(ctx, m.clock.Now().Add(-m.retention))
	if err != nil {
		return stats, err
	}
	m.lastCleanup = m.clock.Now()
	return stats, nil
}

// RunOnce performs a rollup and, at most once a day, a cleanup
func (m *Maintenance) RunOnce(ctx context.Context) {
	written, err := m.Rollup(ctx)
	if err != nil {
		log.Printf("Maintenance: rollup error: %s", utils.SanitizeError(err))
	} else if written > 0 {
		log.Printf("Maintenance: rolled up %d daily aggregate(s)", written)
	}

	if !m.lastCleanup.IsZero() && m.clock.Now().Sub(m.lastCleanup) < 24*time.Hour {
		return
	}
	stats, err := m.Cleanup(ctx)
	if err != nil {
		log.Printf("Maintenance: cleanup error: %s", utils.SanitizeError(err))
		return
	}
	if stats.CheckResults > 0 || stats.Violations > 0 || stats.DedupStates > 0 {
		log.Printf("Maintenance: removed %d check result(s), %d violation(s), %d dedup state(s)",
			stats.CheckResults, stats.Violations, stats.DedupStates)
	}
}

// Start runs the job every interval until stop is closed
func (m *Maintenance) Start(ctx context.Context, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.RunOnce(ctx)
	for {
		select {
		case <-ticker.C:
			m.RunOnce(ctx)
		case <-stop:
			log.Println("Maintenance job stopped")
			return
		case <-ctx.Done():
			log.Println("Maintenance job stopped")
			return
		}
	}
}
