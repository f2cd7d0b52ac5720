package checks

import (
	"context"
	"fmt"
	"math"

	"github.com/akmatori/contractmon/internal/config"
	"github.com/akmatori/contractmon/internal/models"
	"github.com/akmatori/contractmon/internal/utils"
)

// ExpectationResult is the outcome of one quality expectation
type ExpectationResult struct {
	Name      string
	Dimension string // e.g. completeness, validity, uniqueness
	Passed    bool
	Detail    string
}

// QualityRun is the raw outcome of running a contract's expectations
type QualityRun struct {
	Expectations []ExpectationResult
}

// Failed returns the names of the failing expectations
func (r QualityRun) Failed() []string {
	var names []string
	for _, e := range r.Expectations {
		if !e.Passed {
			names = append(names, e.Name)
		}
	}
	return names
}

// QualityEngine executes quality expectations outside the engine
type QualityEngine interface {
	RunChecks(ctx context.Context, contract models.Contract) (QualityRun, error)
	// CalculateScore returns a 0-100 score; weights map dimension -> weight
	CalculateScore(run QualityRun, weights map[string]float64) float64
}

// WeightedScore is the default scoring. Without weights every expectation
// counts equally. With weights, each dimension's pass ratio is weighted and
// the weights of dimensions absent from the run are renormalized away.
func WeightedScore(run QualityRun, weights map[string]float64) float64 {
	if len(run.Expectations) == 0 {
		return 100
	}

	if len(weights) == 0 {
		passed := 0
		for _, e := range run.Expectations {
			if e.Passed {
				passed++
			}
		}
		return float64(passed) / float64(len(run.Expectations)) * 100
	}

	type tally struct{ passed, total int }
	byDimension := map[string]*tally{}
	for _, e := range run.Expectations {
		t := byDimension[e.Dimension]
		if t == nil {
			t = &tally{}
			byDimension[e.Dimension] = t
		}
		t.total++
		if e.Passed {
			t.passed++
		}
	}

	var score, weightSum float64
	for dim, t := range byDimension {
		w := weights[dim]
		if w <= 0 {
			continue
		}
		score += w * float64(t.passed) / float64(t.total)
		weightSum += w
	}
	if weightSum == 0 {
		return WeightedScore(run, nil)
	}
	return score / weightSum * 100
}

// QualityCheck delegates to an external quality engine
type QualityCheck struct {
	engine QualityEngine
}

// NewQualityCheck creates a quality check. A nil engine makes every run skipped.
func NewQualityCheck(engine QualityEngine) *QualityCheck {
	return &QualityCheck{engine: engine}
}

// Type returns the check type
func (c *QualityCheck) Type() models.CheckType {
	return models.CheckTypeQuality
}

// Execute runs the expectations and fails when the score is below the contract minimum
func (c *QualityCheck) Execute(ctx context.Context, contract models.Contract, cfg config.MonitoringConfig) (models.CheckResult, error) {
	if c.engine == nil {
		return skipped("no quality engine configured"), nil
	}

	run, err := c.engine.RunChecks(ctx, contract)
	if err != nil {
		return models.CheckResult{}, fmt.Errorf("run quality checks: %w", err)
	}

	score := math.Max(0, math.Min(100, c.engine.CalculateScore(run, cfg.QualityWeights)))
	minimum := contract.SLA.MinQualityScore
	breached := score < minimum
	failed := run.Failed()

	message := fmt.Sprintf("quality score %.1f (minimum %.1f)", score, minimum)
	if breached {
		message = fmt.Sprintf("quality score %.1f below minimum %.1f", score, minimum)
	}
	if len(failed) > 0 {
		message += "; failing: " + utils.JoinLimited(failed, 5)
	}

	return models.CheckResult{
		Status: statusFor(breached),
		Details: map[string]interface{}{
			"score":               score,
			"expectations":        len(run.Expectations),
			"failed_expectations": failed,
		},
		Measurement: &models.Measurement{
			Value:              score,
			Threshold:          minimum,
			ConsumptionPercent: shortfallConsumption(score, minimum),
			Breached:           breached,
		},
		Findings: []models.Finding{{
			ViolationType: models.ViolationQuality,
			Message:       message,
			Element:       utils.JoinLimited(failed, 5),
			Expected:      fmt.Sprintf(">= %.1f", minimum),
			Actual:        fmt.Sprintf("%.1f", score),
		}},
	}, nil
}
