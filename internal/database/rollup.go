package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/akmatori/contractmon/internal/models"
)

// DateLayout is the format of DailyAggregate.Date
const DateLayout = "2006-01-02"

type rollupRow struct {
	ContractName string
	CheckType    string
	Total        int64
	Passed       int64
	Failed       int64
	Errors       int64
	AvgDuration  float64
	MinValue     *float64
	MaxValue     *float64
	AvgValue     *float64
}

type violationCountRow struct {
	ContractName string
	CheckType    string
	Count        int64
}

// RollupDaily recomputes the daily aggregates of the UTC day containing day.
// Re-running it for the same day replaces the previous figures.
func (s *Store) RollupDaily(ctx context.Context, day time.Time) (int, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)
	date := start.Format(DateLayout)

	var written int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []rollupRow
		err := tx.Model(&CheckResultRecord{}).
			Select(`contract_name, check_type, COUNT(*) AS total,
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS passed,
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS failed,
				COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS errors,
				COALESCE(AVG(duration_ns), 0) / 1000000.0 AS avg_duration,
				MIN(CASE WHEN has_measurement THEN metric_value END) AS min_value,
				MAX(CASE WHEN has_measurement THEN metric_value END) AS max_value,
				AVG(CASE WHEN has_measurement THEN metric_value END) AS avg_value`,
				string(models.CheckStatusPass), string(models.CheckStatusFail), string(models.CheckStatusError)).
			Where("timestamp >= ? AND timestamp < ?", start, end).
			Group("contract_name, check_type").
			Scan(&rows).Error
		if err != nil {
			return err
		}

		var counts []violationCountRow
		err = tx.Model(&ViolationRecord{}).
			Select("contract_name, check_type, COUNT(*) AS count").
			Where("timestamp >= ? AND timestamp < ?", start, end).
			Group("contract_name, check_type").
			Scan(&counts).Error
		if err != nil {
			return err
		}
		violations := make(map[string]int64, len(counts))
		for _, c := range counts {
			violations[c.ContractName+"/"+c.CheckType] = c.Count
		}

		now := time.Now().UTC()
		for _, r := range rows {
			agg := DailyAggregate{
				ContractName:   r.ContractName,
				CheckType:      r.CheckType,
				Date:           date,
				TotalChecks:    r.Total,
				PassedChecks:   r.Passed,
				FailedChecks:   r.Failed,
				ErrorChecks:    r.Errors,
				AvgDurationMs:  r.AvgDuration,
				ViolationCount: violations[r.ContractName+"/"+r.CheckType],
				UpdatedAt:      now,
			}
			if evaluated := r.Passed + r.Failed; evaluated > 0 {
				agg.UptimePercent = float64(r.Passed) / float64(evaluated) * 100
			}
			if r.CheckType == string(models.CheckTypeQuality) {
				agg.MinQualityScore = r.MinValue
				agg.MaxQualityScore = r.MaxValue
				agg.AvgQualityScore = r.AvgValue
			}
			if err := tx.Clauses(upsertOnKey("contract_name", "check_type", "date")).Create(&agg).Error; err != nil {
				return err
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to roll up %s: %w", date, err)
	}
	return written, nil
}

// AggregateFilter selects daily aggregates; From and To are inclusive YYYY-MM-DD dates
type AggregateFilter struct {
	ContractName string
	CheckType    models.CheckType
	From         string
	To           string
}

// GetDailyAggregates returns aggregates ordered by date ascending
func (s *Store) GetDailyAggregates(ctx context.Context, filter AggregateFilter) ([]DailyAggregate, error) {
	query := s.db.WithContext(ctx).Model(&DailyAggregate{})
	if filter.ContractName != "" {
		query = query.Where("contract_name = ?", filter.ContractName)
	}
	if filter.CheckType != "" {
		query = query.Where("check_type = ?", string(filter.CheckType))
	}
	if filter.From != "" {
		query = query.Where("date >= ?", filter.From)
	}
	if filter.To != "" {
		query = query.Where("date <= ?", filter.To)
	}

	var rows []DailyAggregate
	if err := query.Order("date ASC, check_type ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list daily aggregates: %w", err)
	}
	return rows, nil
}

// SaveDailyAggregate upserts one aggregate row
func (s *Store) SaveDailyAggregate(ctx context.Context, agg *DailyAggregate) error {
	if agg.UpdatedAt.IsZero() {
		agg.UpdatedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).
		Clauses(upsertOnKey("contract_name", "check_type", "date")).
		Create(agg).Error
	if err != nil {
		return fmt.Errorf("failed to save daily aggregate: %w", err)
	}
	return nil
}
