package models

import (
	"fmt"
	"time"
)

// CheckType identifies one of the four evaluation algorithms
type CheckType string

const (
	CheckTypeFreshness    CheckType = "freshness"
	CheckTypeSchema       CheckType = "schema"
	CheckTypeQuality      CheckType = "quality"
	CheckTypeAvailability CheckType = "availability"
)

// AllCheckTypes returns the check types in scheduling order
func AllCheckTypes() []CheckType {
	return []CheckType{CheckTypeFreshness, CheckTypeSchema, CheckTypeQuality, CheckTypeAvailability}
}

// ParseCheckType converts a string into a known CheckType
func ParseCheckType(s string) (CheckType, error) {
	for _, ct := range AllCheckTypes() {
		if string(ct) == s {
			return ct, nil
		}
	}
	return "", fmt.Errorf("unknown check type %q", s)
}

// CheckStatus is the outcome of one check execution
type CheckStatus string

const (
	CheckStatusPass    CheckStatus = "pass"
	CheckStatusFail    CheckStatus = "fail"
	CheckStatusError   CheckStatus = "error"
	CheckStatusSkipped CheckStatus = "skipped"
)

// Measurement is the SLA metric observed by a check.
// ConsumptionPercent is the share of the SLA threshold already used up
// (100 means the threshold is reached).
type Measurement struct {
	Value              float64 `json:"value"`
	Threshold          float64 `json:"threshold"`
	ConsumptionPercent float64 `json:"consumption_percent"`
	Breached           bool    `json:"breached"`
}

// Finding is one candidate violation produced by a check
type Finding struct {
	ViolationType ViolationType `json:"violation_type"`
	Message       string        `json:"message"`
	Element       string        `json:"element,omitempty"`
	Expected      string        `json:"expected,omitempty"`
	Actual        string        `json:"actual,omitempty"`
	// ForceCritical bypasses the threshold logic (removed required column)
	ForceCritical bool `json:"force_critical,omitempty"`
}

// CheckResult is the immutable record of one check execution
type CheckResult struct {
	ID              string                  `json:"id"`
	ContractName    string                  `json:"contract_name"`
	ContractVersion string                  `json:"contract_version"`
	CheckType       CheckType               `json:"check_type"`
	Status          CheckStatus             `json:"status"`
	Duration        time.Duration           `json:"duration"`
	Timestamp       time.Time               `json:"timestamp"`
	Details         map[string]interface{}  `json:"details,omitempty"`
	Measurement     *Measurement            `json:"measurement,omitempty"`
	Findings        []Finding               `json:"findings,omitempty"`
	Violation       *ContractViolationEvent `json:"violation,omitempty"`
}

// Failed reports whether the result represents an SLA failure
func (r CheckResult) Failed() bool {
	return r.Status == CheckStatusFail
}
