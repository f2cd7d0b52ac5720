package checks

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/akmatori/contractmon/internal/clock"
	"github.com/akmatori/contractmon/internal/config"
	"github.com/akmatori/contractmon/internal/models"
	"github.com/akmatori/contractmon/internal/utils"
)

// UptimeWindow is the rolling span of the availability ratio
const UptimeWindow = 24 * time.Hour

type probeSample struct {
	at      time.Time
	healthy bool
}

type uptimeState struct {
	samples     []probeSample
	consecutive int
}

// record appends a sample, trims samples older than the window and returns
// the uptime percentage and consecutive failure count
func (s *uptimeState) record(at time.Time, healthy bool) (float64, int) {
	s.samples = append(s.samples, probeSample{at: at, healthy: healthy})
	if healthy {
		s.consecutive = 0
	} else {
		s.consecutive++
	}

	cutoff := at.Add(-UptimeWindow)
	keep := s.samples[:0]
	for _, sample := range s.samples {
		if sample.at.After(cutoff) {
			keep = append(keep, sample)
		}
	}
	s.samples = keep

	up := 0
	for _, sample := range s.samples {
		if sample.healthy {
			up++
		}
	}
	return float64(up) / float64(len(s.samples)) * 100, s.consecutive
}

// seedUptimeState rebuilds rolling state from stored availability results,
// oldest first. Results without a probe outcome are ignored.
func seedUptimeState(results []models.CheckResult) *uptimeState {
	st := &uptimeState{}
	for _, r := range results {
		healthy, ok := r.Details["healthy"].(bool)
		if !ok {
			continue
		}
		st.samples = append(st.samples, probeSample{at: r.Timestamp, healthy: healthy})
		switch n := r.Details["consecutive_failures"].(type) {
		case float64:
			st.consecutive = int(n)
		case int:
			st.consecutive = n
		default:
			if healthy {
				st.consecutive = 0
			} else {
				st.consecutive++
			}
		}
	}
	return st
}

// AvailabilityHistory supplies stored availability results so rolling state
// survives a restart. *database.Store implements it.
type AvailabilityHistory interface {
	ListCheckResults(ctx context.Context, contractName string, ct models.CheckType, since time.Time) ([]models.CheckResult, error)
}

// AvailabilityCheck probes the compute behind a contract and keeps a rolling
// 24h uptime ratio and a consecutive failure counter per contract
type AvailabilityCheck struct {
	prober  HealthProber
	clock   clock.Clock
	history AvailabilityHistory

	mu    sync.Mutex
	state map[string]*uptimeState
}

// NewAvailabilityCheck creates an availability check
func NewAvailabilityCheck(prober HealthProber, clk clock.Clock) *AvailabilityCheck {
	return &AvailabilityCheck{
		prober: prober,
		clock:  clk,
		state:  make(map[string]*uptimeState),
	}
}

// WithHistory seeds each contract's rolling state from stored results the
// first time the contract is probed
func (c *AvailabilityCheck) WithHistory(h AvailabilityHistory) *AvailabilityCheck {
	c.history = h
	return c
}

// Type returns the check type
func (c *AvailabilityCheck) Type() models.CheckType {
	return models.CheckTypeAvailability
}

// Execute probes once. A probe error counts as an unhealthy sample.
func (c *AvailabilityCheck) Execute(ctx context.Context, contract models.Contract, cfg config.MonitoringConfig) (models.CheckResult, error) {
	probe, err := c.prober.ValidateConnection(ctx, contract)
	if err != nil {
		if ctx.Err() != nil {
			// cancelled by the scheduler; not an outage observation
			return models.CheckResult{}, err
		}
		probe = ProbeResult{Healthy: false, Message: utils.SanitizeError(err)}
	}

	now := c.clock.Now()
	c.mu.Lock()
	_, known := c.state[contract.Name]
	c.mu.Unlock()
	var seeded *uptimeState
	if !known {
		seeded = c.loadState(ctx, contract.Name, now)
	}

	c.mu.Lock()
	st := c.state[contract.Name]
	if st == nil {
		st = seeded
		c.state[contract.Name] = st
	}
	uptime, consecutive := st.record(now, probe.Healthy)
	c.mu.Unlock()

	minimum := contract.SLA.MinAvailability
	maxFailures := contract.SLA.MaxConsecutiveFailures
	breached := uptime < minimum || (maxFailures > 0 && consecutive >= maxFailures)

	consumption := shortfallConsumption(uptime, minimum)
	if maxFailures > 0 && consecutive >= maxFailures && consumption < 100 {
		consumption = 100
	}

	message := fmt.Sprintf("availability %s over 24h (minimum %s), %d consecutive failure(s)",
		utils.FormatPercent(uptime), utils.FormatPercent(minimum), consecutive)
	if !probe.Healthy && probe.Message != "" {
		message += ": " + probe.Message
	}

	return models.CheckResult{
		Status: statusFor(breached),
		Details: map[string]interface{}{
			"healthy":              probe.Healthy,
			"latency_ms":           probe.Latency.Milliseconds(),
			"uptime_percent":       uptime,
			"consecutive_failures": consecutive,
		},
		Measurement: &models.Measurement{
			Value:              uptime,
			Threshold:          minimum,
			ConsumptionPercent: consumption,
			Breached:           breached,
		},
		Findings: []models.Finding{{
			ViolationType: models.ViolationAvailability,
			Message:       message,
			Element:       contract.Location.QualifiedName(),
			Expected:      ">= " + utils.FormatPercent(minimum),
			Actual:        utils.FormatPercent(uptime),
		}},
	}, nil
}

func (c *AvailabilityCheck) loadState(ctx context.Context, contractName string, now time.Time) *uptimeState {
	if c.history == nil {
		return &uptimeState{}
	}
	results, err := c.history.ListCheckResults(ctx, contractName, models.CheckTypeAvailability, now.Add(-UptimeWindow))
	if err != nil {
		log.Printf("Warning: AvailabilityCheck: failed to load history for %s: %s", contractName, utils.SanitizeError(err))
		return &uptimeState{}
	}
	return seedUptimeState(results)
}

// Forget drops the rolling state of a contract
func (c *AvailabilityCheck) Forget(contractName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, contractName)
}
