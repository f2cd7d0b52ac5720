package testhelpers

import (
	"time"

	"github.com/google/uuid"

	"github.com/akmatori/contractmon/internal/config"
	"github.com/akmatori/contractmon/internal/models"
	"github.com/akmatori/contractmon/internal/registry"
)

// ========================================
// Contract Builder
// ========================================

// ContractBuilder builds Contract instances for testing
type ContractBuilder struct {
	contract  models.Contract
	overrides *config.Overrides
}

// NewContractBuilder creates a contract for sales.orders with a one hour freshness SLA
func NewContractBuilder() *ContractBuilder {
	return &ContractBuilder{
		contract: models.Contract{
			Name:    "orders",
			Version: "1.0.0",
			Location: models.Location{
				Namespace:       "sales",
				Table:           "orders",
				FreshnessColumn: "updated_at",
			},
			Schema: []models.Column{
				{Name: "id", Type: "bigint", Required: true},
				{Name: "updated_at", Type: "timestamp", Required: true},
			},
			SLA: models.SLA{Freshness: time.Hour},
		},
	}
}

// WithName sets the contract name
func (b *ContractBuilder) WithName(name string) *ContractBuilder {
	b.contract.Name = name
	return b
}

// WithVersion sets the contract version
func (b *ContractBuilder) WithVersion(version string) *ContractBuilder {
	b.contract.Version = version
	return b
}

// WithTable sets the contracted table
func (b *ContractBuilder) WithTable(namespace, table string) *ContractBuilder {
	b.contract.Location.Namespace = namespace
	b.contract.Location.Table = table
	return b
}

// WithColumn appends a schema column
func (b *ContractBuilder) WithColumn(name, typ string, required bool) *ContractBuilder {
	b.contract.Schema = append(b.contract.Schema, models.Column{Name: name, Type: typ, Required: required, Nullable: !required})
	return b
}

// WithFreshness sets the freshness SLA
func (b *ContractBuilder) WithFreshness(d time.Duration) *ContractBuilder {
	b.contract.SLA.Freshness = d
	return b
}

// WithMinQuality sets the minimum quality score
func (b *ContractBuilder) WithMinQuality(score float64) *ContractBuilder {
	b.contract.SLA.MinQualityScore = score
	return b
}

// WithConsumers sets the downstream consumers
func (b *ContractBuilder) WithConsumers(consumers ...string) *ContractBuilder {
	b.contract.Consumers = consumers
	return b
}

// WithOverrides sets monitoring overrides used by BuildRegistered
func (b *ContractBuilder) WithOverrides(o *config.Overrides) *ContractBuilder {
	b.overrides = o
	return b
}

// Build returns the contract
func (b *ContractBuilder) Build() models.Contract {
	c := b.contract
	c.Schema = append([]models.Column(nil), b.contract.Schema...)
	return c
}

// BuildRegistered returns an active registration with the default
// monitoring config merged with any overrides
func (b *ContractBuilder) BuildRegistered(at time.Time) registry.RegisteredContract {
	return registry.RegisteredContract{
		Contract:     b.Build(),
		Overrides:    b.overrides,
		Config:       config.DefaultMonitoringConfig().Merge(b.overrides),
		LastChecks:   map[models.CheckType]time.Time{},
		Active:       true,
		RegisteredAt: at,
	}
}

// ========================================
// Check Result Builder
// ========================================

// CheckResultBuilder builds CheckResult instances for testing
type CheckResultBuilder struct {
	result models.CheckResult
}

// NewCheckResultBuilder creates a passing freshness result for orders@1.0.0
func NewCheckResultBuilder() *CheckResultBuilder {
	return &CheckResultBuilder{
		result: models.CheckResult{
			ID:              uuid.New().String(),
			ContractName:    "orders",
			ContractVersion: "1.0.0",
			CheckType:       models.CheckTypeFreshness,
			Status:          models.CheckStatusPass,
			Duration:        25 * time.Millisecond,
			Timestamp:       time.Now().UTC(),
		},
	}
}

// ForContract sets the contract identity
func (b *CheckResultBuilder) ForContract(c models.Contract) *CheckResultBuilder {
	b.result.ContractName = c.Name
	b.result.ContractVersion = c.Version
	return b
}

// WithCheckType sets the check type
func (b *CheckResultBuilder) WithCheckType(ct models.CheckType) *CheckResultBuilder {
	b.result.CheckType = ct
	return b
}

// WithStatus sets the status
func (b *CheckResultBuilder) WithStatus(status models.CheckStatus) *CheckResultBuilder {
	b.result.Status = status
	return b
}

// At sets the timestamp
func (b *CheckResultBuilder) At(ts time.Time) *CheckResultBuilder {
	b.result.Timestamp = ts
	return b
}

// WithMeasurement sets value and threshold; consumption and breach follow
// "higher is worse" semantics, as for freshness lag
func (b *CheckResultBuilder) WithMeasurement(value, threshold float64) *CheckResultBuilder {
	m := &models.Measurement{Value: value, Threshold: threshold}
	if threshold > 0 {
		m.ConsumptionPercent = value / threshold * 100
	}
	m.Breached = value > threshold
	b.result.Measurement = m
	if m.Breached {
		b.result.Status = models.CheckStatusFail
	}
	return b
}

// WithFinding appends a finding
func (b *CheckResultBuilder) WithFinding(f models.Finding) *CheckResultBuilder {
	b.result.Findings = append(b.result.Findings, f)
	return b
}

// Build returns the check result
func (b *CheckResultBuilder) Build() models.CheckResult {
	r := b.result
	r.Findings = append([]models.Finding(nil), b.result.Findings...)
	return r
}

// ========================================
// Violation Builder
// ========================================

// ViolationBuilder builds ContractViolationEvent instances for testing
type ViolationBuilder struct {
	event models.ContractViolationEvent
}

// NewViolationBuilder creates an error-level freshness violation on orders@1.0.0
func NewViolationBuilder() *ViolationBuilder {
	return &ViolationBuilder{
		event: models.ContractViolationEvent{
			ID:              uuid.New().String(),
			ContractName:    "orders",
			ContractVersion: "1.0.0",
			ViolationType:   models.ViolationFreshness,
			Severity:        models.SeverityError,
			Message:         "data is 2h 30m old, SLA is 1h",
			ExpectedValue:   "1h",
			ActualValue:     "2h 30m",
			Timestamp:       time.Now().UTC(),
		},
	}
}

// WithContract sets the contract identity and consumers
func (b *ViolationBuilder) WithContract(c models.Contract) *ViolationBuilder {
	b.event.ContractName = c.Name
	b.event.ContractVersion = c.Version
	b.event.AffectedConsumers = append([]string(nil), c.Consumers...)
	return b
}

// WithType sets the violation type
func (b *ViolationBuilder) WithType(vt models.ViolationType) *ViolationBuilder {
	b.event.ViolationType = vt
	return b
}

// WithSeverity sets the severity
func (b *ViolationBuilder) WithSeverity(s models.Severity) *ViolationBuilder {
	b.event.Severity = s
	return b
}

// WithElement sets the affected element (column or expectation)
func (b *ViolationBuilder) WithElement(element string) *ViolationBuilder {
	b.event.Element = element
	return b
}

// WithMessage sets the message
func (b *ViolationBuilder) WithMessage(msg string) *ViolationBuilder {
	b.event.Message = msg
	return b
}

// At sets the timestamp
func (b *ViolationBuilder) At(ts time.Time) *ViolationBuilder {
	b.event.Timestamp = ts
	return b
}

// Build returns the violation event
func (b *ViolationBuilder) Build() models.ContractViolationEvent {
	return b.event
}
