package models

import (
	"fmt"
	"strings"
	"time"
)

// ViolationType classifies a contract violation
type ViolationType string

const (
	ViolationFreshness          ViolationType = "freshness"
	ViolationSchemaDrift        ViolationType = "schema_drift"
	ViolationColumnAdded        ViolationType = "column_added"
	ViolationColumnRemoved      ViolationType = "column_removed"
	ViolationTypeChanged        ViolationType = "type_changed"
	ViolationNullabilityChanged ViolationType = "nullability_changed"
	ViolationQuality            ViolationType = "quality"
	ViolationAvailability       ViolationType = "availability"
)

// CheckType returns the check type that produces this violation type
func (v ViolationType) CheckType() CheckType {
	switch v {
	case ViolationFreshness:
		return CheckTypeFreshness
	case ViolationQuality:
		return CheckTypeQuality
	case ViolationAvailability:
		return CheckTypeAvailability
	default:
		return CheckTypeSchema
	}
}

// Severity of a violation. Ordering matters: higher rank is more severe.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Rank returns a comparable rank (0 for unknown severities)
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityWarning:
		return 2
	case SeverityError:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// AtLeast reports whether s is at least as severe as other
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// ParseSeverity converts a string into a Severity
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if sev.Rank() == 0 {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}

// ContractViolationEvent is the only payload handed to alert channels.
// Once emitted it is never revised. Message, expected and actual values are
// sanitized before construction.
type ContractViolationEvent struct {
	ID                string        `json:"id"`
	ContractName      string        `json:"contract_name"`
	ContractVersion   string        `json:"contract_version"`
	ViolationType     ViolationType `json:"violation_type"`
	Severity          Severity      `json:"severity"`
	Message           string        `json:"message"`
	Element           string        `json:"element,omitempty"`
	ExpectedValue     string        `json:"expected_value,omitempty"`
	ActualValue       string        `json:"actual_value,omitempty"`
	Timestamp         time.Time     `json:"timestamp"`
	AffectedConsumers []string      `json:"affected_consumers,omitempty"`
	CheckDuration     time.Duration `json:"check_duration"`
}

// Persisted reports whether the event is stored as a violation record.
// Informational events are emitted but never recorded.
func (e ContractViolationEvent) Persisted() bool {
	return e.Severity.AtLeast(SeverityWarning)
}

// Breach reports whether the event represents an active SLA breach
func (e ContractViolationEvent) Breach() bool {
	return e.Severity.AtLeast(SeverityError)
}
