package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/akmatori/contractmon/internal/models"
)

// SLAUpdate is the outcome of one check applied to the current-state table
type SLAUpdate struct {
	ContractName string
	CheckType    models.CheckType
	Status       models.CheckStatus
	Measurement  *models.Measurement
	CheckedAt    time.Time
	// Window is the rolling window for compliance and violation counts (24h by default)
	Window time.Duration
}

// UpsertSLAStatus applies one check outcome to the SLA status row inside a
// single transaction. The check result must already be saved so the rolling
// compliance figure includes it.
func (s *Store) UpsertSLAStatus(ctx context.Context, u SLAUpdate) (*SLAStatus, error) {
	if u.Window <= 0 {
		u.Window = 24 * time.Hour
	}
	checkedAt := u.CheckedAt.UTC()
	windowStart := checkedAt.Add(-u.Window)

	var row SLAStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prior SLAStatus
		err := forUpdate(tx).
			Where("contract_name = ? AND check_type = ?", u.ContractName, string(u.CheckType)).
			First(&prior).Error
		found := err == nil
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		row = SLAStatus{
			ContractName: u.ContractName,
			CheckType:    string(u.CheckType),
		}
		if found {
			row = prior
		}

		switch u.Status {
		case models.CheckStatusFail:
			row.ConsecutiveFailures++
		case models.CheckStatusPass:
			row.ConsecutiveFailures = 0
		}

		if m := u.Measurement; m != nil {
			row.CurrentValue = m.Value
			row.Threshold = m.Threshold
		}

		compliance, err := complianceSince(tx, u.ContractName, u.CheckType, windowStart)
		if err != nil {
			return err
		}
		row.CompliancePercent = compliance

		var violations int64
		err = tx.Model(&ViolationRecord{}).
			Where("contract_name = ? AND check_type = ? AND severity_rank >= ? AND timestamp >= ?",
				u.ContractName, string(u.CheckType), models.SeverityError.Rank(), windowStart).
			Count(&violations).Error
		if err != nil {
			return err
		}
		row.ViolationCount24h = int(violations)

		row.LastStatus = string(u.Status)
		row.LastCheckAt = checkedAt
		row.WindowStart = windowStart
		row.UpdatedAt = checkedAt

		return tx.Clauses(upsertOnKey("contract_name", "check_type")).Create(&row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert SLA status: %w", err)
	}
	return &row, nil
}

// complianceSince computes passed/(passed+failed) over evaluated checks.
// Error and skipped results are excluded; no evaluated checks means 100%.
func complianceSince(tx *gorm.DB, contractName string, ct models.CheckType, since time.Time) (float64, error) {
	var counts struct {
		Passed int64
		Failed int64
	}
	err := tx.Model(&CheckResultRecord{}).
		Select("COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS passed, "+
			"COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed",
			string(models.CheckStatusPass), string(models.CheckStatusFail)).
		Where("contract_name = ? AND check_type = ? AND timestamp >= ?", contractName, string(ct), since).
		Scan(&counts).Error
	if err != nil {
		return 0, err
	}
	evaluated := counts.Passed + counts.Failed
	if evaluated == 0 {
		return 100, nil
	}
	return float64(counts.Passed) / float64(evaluated) * 100, nil
}

// GetSLAStatus returns the current-state row for one (contract, check type)
func (s *Store) GetSLAStatus(ctx context.Context, contractName string, ct models.CheckType) (*SLAStatus, error) {
	var row SLAStatus
	err := s.db.WithContext(ctx).
		Where("contract_name = ? AND check_type = ?", contractName, string(ct)).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get SLA status: %w", err)
	}
	return &row, nil
}

// ListSLAStatuses returns all SLA rows, optionally for a single contract
func (s *Store) ListSLAStatuses(ctx context.Context, contractName string) ([]SLAStatus, error) {
	query := s.db.WithContext(ctx).Model(&SLAStatus{})
	if contractName != "" {
		query = query.Where("contract_name = ?", contractName)
	}
	var rows []SLAStatus
	if err := query.Order("contract_name ASC, check_type ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list SLA statuses: %w", err)
	}
	return rows, nil
}
