// Package monitor turns check results into persisted history, violation
// events, alerts, metrics and lineage.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/akmatori/contractmon/internal/alerts"
	"github.com/akmatori/contractmon/internal/clock"
	"github.com/akmatori/contractmon/internal/config"
	"github.com/akmatori/contractmon/internal/database"
	"github.com/akmatori/contractmon/internal/evaluator"
	"github.com/akmatori/contractmon/internal/lineage"
	"github.com/akmatori/contractmon/internal/metrics"
	"github.com/akmatori/contractmon/internal/models"
	"github.com/akmatori/contractmon/internal/registry"
	"github.com/akmatori/contractmon/internal/utils"
)

// Store is the persistence the monitor writes through
type Store interface {
	CountRecentViolations(ctx context.Context, contractName string, vt models.ViolationType, since time.Time) (int, error)
	SaveCheckResult(ctx context.Context, result *models.CheckResult) error
	SaveViolation(ctx context.Context, checkResultID string, event *models.ContractViolationEvent) error
	UpsertSLAStatus(ctx context.Context, u database.SLAUpdate) (*database.SLAStatus, error)
}

// Router dispatches violation events to channels
type Router interface {
	Route(ctx context.Context, event models.ContractViolationEvent, cfg config.MonitoringConfig) alerts.Outcome
}

// Health status values
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// HealthStatus is the engine health reported to operators
type HealthStatus struct {
	Status    string    `json:"status"`
	Since     time.Time `json:"since"`
	LastError string    `json:"last_error,omitempty"`
}

// Monitor is the scheduler's result handler
type Monitor struct {
	store   Store
	router  Router
	metrics metrics.Sink
	lineage lineage.Sink
	clock   clock.Clock

	mu     sync.RWMutex
	health HealthStatus
}

// Options configures a Monitor. Store may be nil to run without history.
// StoreErr records why the store could not be opened; a monitor created with
// it reports degraded until a store write succeeds.
type Options struct {
	Store    Store
	StoreErr error
	Router   Router
	Metrics  metrics.Sink
	Lineage  lineage.Sink
	Clock    clock.Clock
}

// New creates a monitor
func New(opts Options) *Monitor {
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Lineage == nil {
		opts.Lineage = lineage.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	m := &Monitor{
		store:   opts.Store,
		router:  opts.Router,
		metrics: opts.Metrics,
		lineage: opts.Lineage,
		clock:   opts.Clock,
		health:  HealthStatus{Status: StatusOK, Since: opts.Clock.Now()},
	}
	if opts.StoreErr != nil {
		m.markDegraded(opts.StoreErr)
	}
	return m
}

// Health returns the current engine health
func (m *Monitor) Health() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.health
}

func (m *Monitor) markDegraded(err error) {
	msg := utils.SanitizeError(err)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.health.Status != StatusDegraded {
		log.Printf("Warning: Monitor: persistence degraded: %s", msg)
		m.health = HealthStatus{Status: StatusDegraded, Since: m.clock.Now()}
	}
	m.health.LastError = msg
}

func (m *Monitor) markHealthy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.health.Status != StatusOK {
		log.Printf("Monitor: persistence recovered")
		m.health = HealthStatus{Status: StatusOK, Since: m.clock.Now()}
	}
}

// HandleResult classifies, persists and fans out one check result
func (m *Monitor) HandleResult(ctx context.Context, rc registry.RegisteredContract, result models.CheckResult) {
	m.Process(ctx, rc, result)
}

// Process is HandleResult returning the emitted events
func (m *Monitor) Process(ctx context.Context, rc registry.RegisteredContract, result models.CheckResult) []models.ContractViolationEvent {
	cfg := rc.Config

	recent := m.recentBreaches(ctx, result, cfg.Severity)
	events := evaluator.Evaluate(result, rc.Contract, recent, cfg.Severity)
	for i := range events {
		events[i].ID = uuid.New().String()
	}
	if top := evaluator.MostSevere(events); top != nil {
		v := *top
		result.Violation = &v
	}

	m.persist(ctx, result, events, cfg)

	m.metrics.ObserveResult(result)
	for _, e := range events {
		m.metrics.RecordViolation(e)
	}
	if len(events) == 0 {
		return nil
	}

	var g errgroup.Group
	if m.router != nil {
		g.Go(func() error {
			for _, e := range events {
				m.router.Route(ctx, e, cfg)
			}
			return nil
		})
	}
	g.Go(func() error {
		for _, e := range events {
			if !e.Persisted() {
				continue
			}
			if err := m.lineage.Emit(ctx, rc.Contract, e); err != nil {
				log.Printf("Warning: Monitor: lineage emit failed for %s/%s: %s", e.ContractName, e.ViolationType, utils.SanitizeError(err))
			}
		}
		return nil
	})
	_ = g.Wait()

	return events
}

// recentBreaches counts prior breaches per finding type in the critical window
func (m *Monitor) recentBreaches(ctx context.Context, result models.CheckResult, t config.SeverityThresholds) evaluator.RecentCounts {
	recent := evaluator.RecentCounts{}
	if m.store == nil || result.Status != models.CheckStatusFail {
		return recent
	}
	since := result.Timestamp.Add(-t.CriticalWindow)
	for _, f := range result.Findings {
		if _, done := recent[f.ViolationType]; done {
			continue
		}
		n, err := m.store.CountRecentViolations(ctx, result.ContractName, f.ViolationType, since)
		if err != nil {
			m.markDegraded(err)
			recent[f.ViolationType] = 0
			continue
		}
		recent[f.ViolationType] = n
	}
	return recent
}

func (m *Monitor) persist(ctx context.Context, result models.CheckResult, events []models.ContractViolationEvent, cfg config.MonitoringConfig) {
	if m.store == nil {
		return
	}

	if err := m.store.SaveCheckResult(ctx, &result); err != nil {
		m.markDegraded(err)
		return
	}
	for i := range events {
		if err := m.store.SaveViolation(ctx, result.ID, &events[i]); err != nil {
			m.markDegraded(err)
			return
		}
	}
	if _, err := m.store.UpsertSLAStatus(ctx, database.SLAUpdate{
		ContractName: result.ContractName,
		CheckType:    result.CheckType,
		Status:       result.Status,
		Measurement:  result.Measurement,
		CheckedAt:    result.Timestamp,
		Window:       cfg.Severity.CriticalWindow,
	}); err != nil {
		m.markDegraded(err)
		return
	}
	m.markHealthy()
}
