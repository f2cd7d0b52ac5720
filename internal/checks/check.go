// Package checks implements the freshness, schema drift, quality and
// availability evaluations run by the scheduler.
package checks

import (
	"context"
	"time"

	"github.com/akmatori/contractmon/internal/config"
	"github.com/akmatori/contractmon/internal/models"
)

// Check evaluates one aspect of a contract.
// Execute fills status, details, measurement and findings; the scheduler
// stamps identity, duration and timestamp.
type Check interface {
	Type() models.CheckType
	Execute(ctx context.Context, contract models.Contract, cfg config.MonitoringConfig) (models.CheckResult, error)
}

// Table is a deployed dataset as seen by the catalog
type Table interface {
	Schema() []models.Column
	LastUpdated(ctx context.Context) (time.Time, error)
}

// Catalog discovers deployed tables and their schemas
type Catalog interface {
	ListNamespaces(ctx context.Context) ([]string, error)
	ListTables(ctx context.Context, namespace string) ([]string, error)
	LoadTable(ctx context.Context, loc models.Location) (Table, error)
}

// ProbeResult is the outcome of a health probe
type ProbeResult struct {
	Healthy bool
	Latency time.Duration
	Message string
}

// HealthProber validates that the compute serving a contract is reachable
type HealthProber interface {
	ValidateConnection(ctx context.Context, contract models.Contract) (ProbeResult, error)
}

// Set is the lookup table of checks by type
type Set struct {
	checks map[models.CheckType]Check
}

// NewSet builds a set; a later check of the same type replaces an earlier one
func NewSet(checks ...Check) *Set {
	s := &Set{checks: make(map[models.CheckType]Check, len(checks))}
	for _, c := range checks {
		s.checks[c.Type()] = c
	}
	return s
}

// Get returns the check for a type
func (s *Set) Get(ct models.CheckType) (Check, bool) {
	c, ok := s.checks[ct]
	return c, ok
}

// Types returns the registered check types in scheduling order
func (s *Set) Types() []models.CheckType {
	var types []models.CheckType
	for _, ct := range models.AllCheckTypes() {
		if _, ok := s.checks[ct]; ok {
			types = append(types, ct)
		}
	}
	return types
}

func skipped(reason string) models.CheckResult {
	return models.CheckResult{
		Status:  models.CheckStatusSkipped,
		Details: map[string]interface{}{"reason": reason},
	}
}

func statusFor(breached bool) models.CheckStatus {
	if breached {
		return models.CheckStatusFail
	}
	return models.CheckStatusPass
}

// shortfallConsumption converts a 0-100 score against a minimum into the share
// of the allowed shortfall already used. A minimum of 0 means no SLA.
func shortfallConsumption(value, minimum float64) float64 {
	if minimum <= 0 || value >= 100 {
		return 0
	}
	headroom := 100 - minimum
	if headroom <= 0 {
		return 100 + (100 - value)
	}
	return (100 - value) / headroom * 100
}
