package checks

import (
	"context"
	"fmt"
	"time"

	"github.com/akmatori/contractmon/internal/clock"
	"github.com/akmatori/contractmon/internal/config"
	"github.com/akmatori/contractmon/internal/models"
	"github.com/akmatori/contractmon/internal/utils"
)

// FreshnessCheck compares the age of the newest row against the SLA
type FreshnessCheck struct {
	catalog Catalog
	clock   clock.Clock
}

// NewFreshnessCheck creates a freshness check
func NewFreshnessCheck(catalog Catalog, clk clock.Clock) *FreshnessCheck {
	return &FreshnessCheck{catalog: catalog, clock: clk}
}

// Type returns the check type
func (c *FreshnessCheck) Type() models.CheckType {
	return models.CheckTypeFreshness
}

// Execute measures data age. The clock-skew tolerance is subtracted from the
// age before comparing, so age == threshold+skew does not violate.
func (c *FreshnessCheck) Execute(ctx context.Context, contract models.Contract, cfg config.MonitoringConfig) (models.CheckResult, error) {
	threshold := contract.SLA.Freshness
	if threshold <= 0 {
		return skipped("no freshness SLA"), nil
	}

	table, err := c.catalog.LoadTable(ctx, contract.Location)
	if err != nil {
		return models.CheckResult{}, fmt.Errorf("load table %s: %w", contract.Location.QualifiedName(), err)
	}
	lastUpdated, err := table.LastUpdated(ctx)
	if err != nil {
		return models.CheckResult{}, fmt.Errorf("read last update of %s: %w", contract.Location.QualifiedName(), err)
	}

	age := c.clock.Now().Sub(lastUpdated)
	if age < 0 {
		age = 0
	}
	breached := age-cfg.ClockSkewTolerance > threshold

	result := models.CheckResult{
		Status: statusFor(breached),
		Details: map[string]interface{}{
			"table":              contract.Location.QualifiedName(),
			"last_updated":       lastUpdated.UTC().Format(time.RFC3339),
			"age_seconds":        age.Seconds(),
			"clock_skew_seconds": cfg.ClockSkewTolerance.Seconds(),
		},
		Measurement: &models.Measurement{
			Value:              age.Seconds(),
			Threshold:          threshold.Seconds(),
			ConsumptionPercent: float64(age) / float64(threshold) * 100,
			Breached:           breached,
		},
		Findings: []models.Finding{{
			ViolationType: models.ViolationFreshness,
			Message: fmt.Sprintf("data in %s is %s old (SLA %s)",
				contract.Location.QualifiedName(), utils.FormatDuration(age), utils.FormatDuration(threshold)),
			Element:  contract.Location.FreshnessColumn,
			Expected: "<= " + utils.FormatDuration(threshold),
			Actual:   utils.FormatDuration(age),
		}},
	}
	return result, nil
}
