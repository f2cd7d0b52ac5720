package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, j)
}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// StringList stores a list of strings as a JSON array
type StringList []string

// Scan implements the sql.Scanner interface
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}
	return json.Unmarshal(bytes, l)
}

// Value implements the driver.Valuer interface
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// CheckResultRecord is one raw check execution (bounded retention)
type CheckResultRecord struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	ContractName       string    `gorm:"size:255;not null;index:idx_check_results_key_ts,priority:1" json:"contract_name"`
	ContractVersion    string    `gorm:"size:64;not null" json:"contract_version"`
	CheckType          string    `gorm:"size:32;not null;index:idx_check_results_key_ts,priority:2" json:"check_type"`
	Status             string    `gorm:"size:16;not null" json:"status"`
	DurationNs         int64     `json:"duration_ns"`
	Timestamp          time.Time `gorm:"not null;index;index:idx_check_results_key_ts,priority:3" json:"timestamp"`
	Details            JSONB     `gorm:"type:jsonb" json:"details"`
	HasMeasurement     bool      `gorm:"default:false" json:"has_measurement"`
	MetricValue        float64   `json:"metric_value"`
	Threshold          float64   `json:"threshold"`
	ConsumptionPercent float64   `json:"consumption_percent"`
	Breached           bool      `gorm:"default:false" json:"breached"`
	Findings           string    `gorm:"type:text" json:"findings"` // JSON array of findings
	ViolationID        *string   `gorm:"size:36" json:"violation_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// ViolationRecord is one persisted ContractViolationEvent
type ViolationRecord struct {
	ID                string     `gorm:"primaryKey;size:36" json:"id"`
	CheckResultID     string     `gorm:"size:36;index" json:"check_result_id"`
	ContractName      string     `gorm:"size:255;not null;index:idx_violations_key_ts,priority:1" json:"contract_name"`
	ContractVersion   string     `gorm:"size:64;not null" json:"contract_version"`
	CheckType         string     `gorm:"size:32;not null" json:"check_type"`
	ViolationType     string     `gorm:"size:32;not null;index:idx_violations_key_ts,priority:2" json:"violation_type"`
	Severity          string     `gorm:"size:16;not null" json:"severity"`
	SeverityRank      int        `gorm:"not null;default:0" json:"severity_rank"`
	Message           string     `gorm:"type:text" json:"message"`
	Element           string     `gorm:"size:1024" json:"element"`
	ExpectedValue     string     `gorm:"type:text" json:"expected_value"`
	ActualValue       string     `gorm:"type:text" json:"actual_value"`
	Timestamp         time.Time  `gorm:"not null;index;index:idx_violations_key_ts,priority:3" json:"timestamp"`
	AffectedConsumers StringList `gorm:"type:text" json:"affected_consumers"`
	CheckDurationNs   int64      `json:"check_duration_ns"`
	CreatedAt         time.Time  `json:"created_at"`
}

// SLAStatus is the current-state row for one (contract, check type)
type SLAStatus struct {
	ContractName        string    `gorm:"primaryKey;size:255" json:"contract_name"`
	CheckType           string    `gorm:"primaryKey;size:32" json:"check_type"`
	CurrentValue        float64   `json:"current_value"`
	Threshold           float64   `json:"threshold"`
	CompliancePercent   float64   `json:"compliance_percent"`
	LastStatus          string    `gorm:"size:16" json:"last_status"`
	LastCheckAt         time.Time `json:"last_check_at"`
	ConsecutiveFailures int       `gorm:"default:0" json:"consecutive_failures"`
	ViolationCount24h   int       `gorm:"column:violation_count_24h;default:0" json:"violation_count_24h"`
	WindowStart         time.Time `json:"window_start"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// DailyAggregate is the rollup of one (contract, check type, date). Kept forever.
type DailyAggregate struct {
	ContractName    string    `gorm:"primaryKey;size:255" json:"contract_name"`
	CheckType       string    `gorm:"primaryKey;size:32" json:"check_type"`
	Date            string    `gorm:"primaryKey;size:10" json:"date"` // YYYY-MM-DD (UTC)
	TotalChecks     int64     `json:"total_checks"`
	PassedChecks    int64     `json:"passed_checks"`
	FailedChecks    int64     `json:"failed_checks"`
	ErrorChecks     int64     `json:"error_checks"`
	AvgDurationMs   float64   `json:"avg_duration_ms"`
	MinQualityScore *float64  `json:"min_quality_score,omitempty"`
	MaxQualityScore *float64  `json:"max_quality_score,omitempty"`
	AvgQualityScore *float64  `json:"avg_quality_score,omitempty"`
	UptimePercent   float64   `json:"uptime_percent"`
	ViolationCount  int64     `json:"violation_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// AlertDedupState tracks the last alert per (contract, violation type)
type AlertDedupState struct {
	ContractName  string    `gorm:"primaryKey;size:255" json:"contract_name"`
	ViolationType string    `gorm:"primaryKey;size:32" json:"violation_type"`
	LastAlertedAt time.Time `gorm:"index" json:"last_alerted_at"`
	LastSeverity  string    `gorm:"size:16" json:"last_severity"`
	WindowCount   int       `gorm:"default:0" json:"window_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AlertRateState counts alerts dispatched per contract in the current rate-limit window
type AlertRateState struct {
	ContractName    string    `gorm:"primaryKey;size:255" json:"contract_name"`
	WindowStart     time.Time `json:"window_start"`
	DispatchedCount int       `gorm:"default:0" json:"dispatched_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RegisteredContractRecord persists the registry for cold-start recovery
type RegisteredContractRecord struct {
	Name         string    `gorm:"primaryKey;size:255" json:"name"`
	Version      string    `gorm:"size:64;not null" json:"version"`
	Definition   string    `gorm:"type:text;not null" json:"definition"` // JSON encoded contract definition
	Active       bool      `gorm:"default:true;index" json:"active"`
	LastChecks   JSONB     `gorm:"type:jsonb" json:"last_checks"` // check type -> RFC3339Nano
	RegisteredAt time.Time `json:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName overrides for explicit table naming
func (CheckResultRecord) TableName() string {
	return "check_results"
}

func (ViolationRecord) TableName() string {
	return "violations"
}

func (SLAStatus) TableName() string {
	return "sla_statuses"
}

func (DailyAggregate) TableName() string {
	return "daily_aggregates"
}

func (AlertDedupState) TableName() string {
	return "alert_dedup_states"
}

func (AlertRateState) TableName() string {
	return "alert_rate_states"
}

func (RegisteredContractRecord) TableName() string {
	return "registered_contracts"
}
