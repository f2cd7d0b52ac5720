// Package evaluator classifies check results into violation events.
//
// Severity is a pure function of the SLA consumption percentage, the breach
// flag and the number of same-type breaches already recorded in the critical
// window. Nothing here reads clocks, stores or globals, so re-evaluating a
// stored result with the same counters always yields the same severity.
package evaluator

import (
	"github.com/akmatori/contractmon/internal/config"
	"github.com/akmatori/contractmon/internal/models"
	"github.com/akmatori/contractmon/internal/utils"
)

// Input is everything severity depends on
type Input struct {
	ConsumptionPercent float64
	Breached           bool
	ForceCritical      bool
	// RecentBreaches is the number of error-or-worse violations of the same
	// (contract, violation type) already recorded within the critical window
	RecentBreaches int
}

// Classify assigns a severity. The boolean is false when no event should be emitted.
func Classify(in Input, t config.SeverityThresholds) (models.Severity, bool) {
	if in.ForceCritical {
		return models.SeverityCritical, true
	}
	if in.Breached {
		if in.RecentBreaches+1 > t.CriticalRepeatCount {
			return models.SeverityCritical, true
		}
		return models.SeverityError, true
	}
	if in.ConsumptionPercent >= t.WarningPercent {
		return models.SeverityWarning, true
	}
	if in.ConsumptionPercent >= t.InfoPercent {
		return models.SeverityInfo, true
	}
	return "", false
}

// RecentCounts maps a violation type to its breach count in the critical window
type RecentCounts map[models.ViolationType]int

// Evaluate turns a check result into zero or more violation events, one per
// finding that classifies. Errored and skipped results never produce events.
// Returned events carry no ID; the caller assigns one when emitting.
func Evaluate(result models.CheckResult, contract models.Contract, recent RecentCounts, t config.SeverityThresholds) []models.ContractViolationEvent {
	if result.Status != models.CheckStatusPass && result.Status != models.CheckStatusFail {
		return nil
	}

	var consumption float64
	breached := result.Status == models.CheckStatusFail
	if m := result.Measurement; m != nil {
		consumption = m.ConsumptionPercent
		breached = m.Breached
	}

	var events []models.ContractViolationEvent
	for _, f := range result.Findings {
		severity, ok := Classify(Input{
			ConsumptionPercent: consumption,
			Breached:           breached,
			ForceCritical:      f.ForceCritical,
			RecentBreaches:     recent[f.ViolationType],
		}, t)
		if !ok {
			continue
		}

		events = append(events, models.ContractViolationEvent{
			ContractName:      result.ContractName,
			ContractVersion:   result.ContractVersion,
			ViolationType:     f.ViolationType,
			Severity:          severity,
			Message:           utils.SanitizeText(f.Message),
			Element:           utils.SanitizeText(f.Element),
			ExpectedValue:     utils.SanitizeText(f.Expected),
			ActualValue:       utils.SanitizeText(f.Actual),
			Timestamp:         result.Timestamp,
			AffectedConsumers: append([]string(nil), contract.Consumers...),
			CheckDuration:     result.Duration,
		})
	}
	return events
}

// MostSevere returns the most severe persisted event, or nil
func MostSevere(events []models.ContractViolationEvent) *models.ContractViolationEvent {
	var top *models.ContractViolationEvent
	for i := range events {
		if !events[i].Persisted() {
			continue
		}
		if top == nil || events[i].Severity.Rank() > top.Severity.Rank() {
			top = &events[i]
		}
	}
	return top
}
