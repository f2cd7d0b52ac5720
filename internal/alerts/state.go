package alerts

import (
	"context"
	"sync"
	"time"

	"github.com/akmatori/contractmon/internal/database"
	"github.com/akmatori/contractmon/internal/models"
)

// StateStore decides whether an alert may be dispatched and records the
// decision atomically. *database.Store implements it.
type StateStore interface {
	ClaimAlert(ctx context.Context, claim database.AlertClaim) (database.AlertDecision, error)
}

type dedupKey struct {
	contract      string
	violationType models.ViolationType
}

type dedupEntry struct {
	lastAlertedAt time.Time
	lastSeverity  models.Severity
	windowCount   int
}

type rateEntry struct {
	windowStart time.Time
	count       int
}

// MemoryState is an in-process StateStore with the same decision rules as
// the database store. The router falls back to it while persistence is degraded.
type MemoryState struct {
	mu    sync.Mutex
	dedup map[dedupKey]*dedupEntry
	rate  map[string]*rateEntry
}

// NewMemoryState creates an empty in-memory state store
func NewMemoryState() *MemoryState {
	return &MemoryState{
		dedup: make(map[dedupKey]*dedupEntry),
		rate:  make(map[string]*rateEntry),
	}
}

// ClaimAlert applies deduplication, then the rate limit
func (m *MemoryState) ClaimAlert(ctx context.Context, claim database.AlertClaim) (database.AlertDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := claim.Now.UTC()
	k := dedupKey{contract: claim.ContractName, violationType: claim.ViolationType}

	if d, ok := m.dedup[k]; ok && database.IsDuplicate(claim, d.lastAlertedAt, d.lastSeverity) {
		d.windowCount++
		return database.AlertDecision{Reason: database.SuppressDuplicate, WindowCount: d.windowCount}, nil
	}

	r, ok := m.rate[claim.ContractName]
	if !ok {
		r = &rateEntry{windowStart: now}
		m.rate[claim.ContractName] = r
	}
	if claim.RateWindow > 0 && now.Sub(r.windowStart) >= claim.RateWindow {
		r.windowStart = now
		r.count = 0
	}
	if claim.MaxAlerts > 0 && r.count >= claim.MaxAlerts {
		return database.AlertDecision{Reason: database.SuppressRateLimited}, nil
	}

	r.count++
	m.dedup[k] = &dedupEntry{lastAlertedAt: now, lastSeverity: claim.Severity, windowCount: 1}
	return database.AlertDecision{Allowed: true, WindowCount: 1}, nil
}
