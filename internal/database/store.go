package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/akmatori/contractmon/internal/models"
)

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("record not found")

// SaveCheckResult inserts a check result. A missing ID is generated and
// Details are rewritten to the JSON types they are stored as, so the saved
// result equals what GetCheckResult returns.
func (s *Store) SaveCheckResult(ctx context.Context, result *models.CheckResult) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}
	details, err := normalizeDetails(result.Details)
	if err != nil {
		return err
	}
	result.Details = details
	rec, err := checkResultToRecord(*result)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to save check result: %w", err)
	}
	return nil
}

// GetCheckResult loads one check result including its embedded violation
func (s *Store) GetCheckResult(ctx context.Context, id string) (*models.CheckResult, error) {
	var rec CheckResultRecord
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get check result: %w", err)
	}

	result, err := recordToCheckResult(rec)
	if err != nil {
		return nil, err
	}

	if rec.ViolationID != nil {
		var v ViolationRecord
		err := s.db.WithContext(ctx).Where("id = ?", *rec.ViolationID).First(&v).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to load violation: %w", err)
		}
		if err == nil {
			event := RecordToViolation(v)
			result.Violation = &event
		}
	}
	return &result, nil
}

// ListCheckResults returns the results of one (contract, check type) at or
// after since, oldest first. Embedded violations are not loaded.
func (s *Store) ListCheckResults(ctx context.Context, contractName string, ct models.CheckType, since time.Time) ([]models.CheckResult, error) {
	var recs []CheckResultRecord
	err := s.db.WithContext(ctx).
		Where("contract_name = ? AND check_type = ? AND timestamp >= ?", contractName, string(ct), since.UTC()).
		Order("timestamp ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list check results: %w", err)
	}
	results := make([]models.CheckResult, 0, len(recs))
	for _, rec := range recs {
		r, err := recordToCheckResult(rec)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// SaveViolation records a violation produced by the given check result.
// Informational events are not persisted and return nil.
func (s *Store) SaveViolation(ctx context.Context, checkResultID string, event *models.ContractViolationEvent) error {
	if !event.Persisted() {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	rec := violationToRecord(checkResultID, *event)
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to save violation: %w", err)
	}
	return nil
}

// CountRecentViolations counts persisted breaches (error or above) of one
// (contract, violation type) since the given time
func (s *Store) CountRecentViolations(ctx context.Context, contractName string, vt models.ViolationType, since time.Time) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&ViolationRecord{}).
		Where("contract_name = ? AND violation_type = ? AND severity_rank >= ? AND timestamp >= ?",
			contractName, string(vt), models.SeverityError.Rank(), since.UTC()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count violations: %w", err)
	}
	return int(count), nil
}

// ViolationFilter narrows violation queries. Zero values are ignored.
type ViolationFilter struct {
	ContractName  string
	ViolationType models.ViolationType
	MinSeverity   models.Severity
	Since         time.Time
	Until         time.Time
	Limit         int
	Offset        int
}

// GetViolations returns violations newest first
func (s *Store) GetViolations(ctx context.Context, filter ViolationFilter) ([]models.ContractViolationEvent, int64, error) {
	query := s.db.WithContext(ctx).Model(&ViolationRecord{})
	if filter.ContractName != "" {
		query = query.Where("contract_name = ?", filter.ContractName)
	}
	if filter.ViolationType != "" {
		query = query.Where("violation_type = ?", string(filter.ViolationType))
	}
	if filter.MinSeverity != "" {
		query = query.Where("severity_rank >= ?", filter.MinSeverity.Rank())
	}
	if !filter.Since.IsZero() {
		query = query.Where("timestamp >= ?", filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query = query.Where("timestamp < ?", filter.Until.UTC())
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count violations: %w", err)
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var recs []ViolationRecord
	if err := query.Order("timestamp DESC").Find(&recs).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list violations: %w", err)
	}

	events := make([]models.ContractViolationEvent, 0, len(recs))
	for _, rec := range recs {
		events = append(events, RecordToViolation(rec))
	}
	return events, total, nil
}

// CleanupStats reports how many rows a retention pass removed
type CleanupStats struct {
	CheckResults int64
	Violations   int64
	DedupStates  int64
}

// CleanupExpired deletes raw rows older than cutoff. SLA status and daily aggregates are kept.
func (s *Store) CleanupExpired(ctx context.Context, cutoff time.Time) (CleanupStats, error) {
	var stats CleanupStats
	cutoff = cutoff.UTC()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("timestamp < ?", cutoff).Delete(&ViolationRecord{})
		if res.Error != nil {
			return res.Error
		}
		stats.Violations = res.RowsAffected

		res = tx.Where("timestamp < ?", cutoff).Delete(&CheckResultRecord{})
		if res.Error != nil {
			return res.Error
		}
		stats.CheckResults = res.RowsAffected

		res = tx.Where("last_alerted_at < ?", cutoff).Delete(&AlertDedupState{})
		if res.Error != nil {
			return res.Error
		}
		stats.DedupStates = res.RowsAffected
		return nil
	})
	if err != nil {
		return CleanupStats{}, fmt.Errorf("failed to clean up expired rows: %w", err)
	}
	return stats, nil
}

// normalizeDetails converts details to JSON-native values: numbers become
// float64, slices []interface{} and nested maps map[string]interface{}.
func normalizeDetails(details map[string]interface{}) (map[string]interface{}, error) {
	if details == nil {
		return nil, nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to encode details: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to decode details: %w", err)
	}
	return out, nil
}

func checkResultToRecord(r models.CheckResult) (CheckResultRecord, error) {
	rec := CheckResultRecord{
		ID:              r.ID,
		ContractName:    r.ContractName,
		ContractVersion: r.ContractVersion,
		CheckType:       string(r.CheckType),
		Status:          string(r.Status),
		DurationNs:      int64(r.Duration),
		Timestamp:       r.Timestamp.UTC(),
		Details:         JSONB(r.Details),
	}
	if m := r.Measurement; m != nil {
		rec.HasMeasurement = true
		rec.MetricValue = m.Value
		rec.Threshold = m.Threshold
		rec.ConsumptionPercent = m.ConsumptionPercent
		rec.Breached = m.Breached
	}
	if len(r.Findings) > 0 {
		b, err := json.Marshal(r.Findings)
		if err != nil {
			return CheckResultRecord{}, fmt.Errorf("failed to encode findings: %w", err)
		}
		rec.Findings = string(b)
	}
	if r.Violation != nil && r.Violation.Persisted() && r.Violation.ID != "" {
		id := r.Violation.ID
		rec.ViolationID = &id
	}
	return rec, nil
}

func recordToCheckResult(rec CheckResultRecord) (models.CheckResult, error) {
	r := models.CheckResult{
		ID:              rec.ID,
		ContractName:    rec.ContractName,
		ContractVersion: rec.ContractVersion,
		CheckType:       models.CheckType(rec.CheckType),
		Status:          models.CheckStatus(rec.Status),
		Duration:        time.Duration(rec.DurationNs),
		Timestamp:       rec.Timestamp.UTC(),
		Details:         map[string]interface{}(rec.Details),
	}
	if rec.HasMeasurement {
		r.Measurement = &models.Measurement{
			Value:              rec.MetricValue,
			Threshold:          rec.Threshold,
			ConsumptionPercent: rec.ConsumptionPercent,
			Breached:           rec.Breached,
		}
	}
	if rec.Findings != "" {
		if err := json.Unmarshal([]byte(rec.Findings), &r.Findings); err != nil {
			return models.CheckResult{}, fmt.Errorf("failed to decode findings: %w", err)
		}
	}
	return r, nil
}

func violationToRecord(checkResultID string, e models.ContractViolationEvent) ViolationRecord {
	return ViolationRecord{
		ID:                e.ID,
		CheckResultID:     checkResultID,
		ContractName:      e.ContractName,
		ContractVersion:   e.ContractVersion,
		CheckType:         string(e.ViolationType.CheckType()),
		ViolationType:     string(e.ViolationType),
		Severity:          string(e.Severity),
		SeverityRank:      e.Severity.Rank(),
		Message:           e.Message,
		Element:           e.Element,
		ExpectedValue:     e.ExpectedValue,
		ActualValue:       e.ActualValue,
		Timestamp:         e.Timestamp.UTC(),
		AffectedConsumers: StringList(e.AffectedConsumers),
		CheckDurationNs:   int64(e.CheckDuration),
	}
}

// RecordToViolation converts a stored row back into the event
func RecordToViolation(rec ViolationRecord) models.ContractViolationEvent {
	return models.ContractViolationEvent{
		ID:                rec.ID,
		ContractName:      rec.ContractName,
		ContractVersion:   rec.ContractVersion,
		ViolationType:     models.ViolationType(rec.ViolationType),
		Severity:          models.Severity(rec.Severity),
		Message:           rec.Message,
		Element:           rec.Element,
		ExpectedValue:     rec.ExpectedValue,
		ActualValue:       rec.ActualValue,
		Timestamp:         rec.Timestamp.UTC(),
		AffectedConsumers: []string(rec.AffectedConsumers),
		CheckDuration:     time.Duration(rec.CheckDurationNs),
	}
}

// upsertOnKey builds an ON CONFLICT DO UPDATE clause for the given key columns
func upsertOnKey(columns ...string) clause.OnConflict {
	cols := make([]clause.Column, len(columns))
	for i, name := range columns {
		cols[i] = clause.Column{Name: name}
	}
	return clause.OnConflict{Columns: cols, UpdateAll: true}
}
