package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/akmatori/contractmon/internal/models"
)

// SuppressReason explains why an alert was not dispatched
type SuppressReason string

const (
	SuppressNone        SuppressReason = ""
	SuppressDuplicate   SuppressReason = "duplicate"
	SuppressRateLimited SuppressReason = "rate_limited"
)

// AlertClaim asks whether an alert for one violation may be dispatched now
type AlertClaim struct {
	ContractName  string
	ViolationType models.ViolationType
	Severity      models.Severity
	Now           time.Time
	DedupWindow   time.Duration // 0 disables deduplication
	MaxAlerts     int           // 0 disables rate limiting
	RateWindow    time.Duration
}

// AlertDecision is the outcome of a claim
type AlertDecision struct {
	Allowed bool
	Reason  SuppressReason
	// WindowCount is how many violations of this key were seen in the current dedup window
	WindowCount int
}

// IsDuplicate reports whether a claim repeats the alert last sent for its key.
// An escalation above the last alerted severity is never a duplicate.
func IsDuplicate(claim AlertClaim, lastAlertedAt time.Time, lastSeverity models.Severity) bool {
	if claim.DedupWindow <= 0 || lastAlertedAt.IsZero() {
		return false
	}
	if claim.Now.UTC().Sub(lastAlertedAt.UTC()) >= claim.DedupWindow {
		return false
	}
	return claim.Severity.Rank() <= lastSeverity.Rank()
}

// ClaimAlert checks deduplication, then the per-contract rate limit, and
// records the dispatch when allowed. Both state rows are seeded before they
// are locked, so concurrent claims serialize on the row locks even the first
// time a contract alerts.
func (s *Store) ClaimAlert(ctx context.Context, claim AlertClaim) (AlertDecision, error) {
	now := claim.Now.UTC()
	var decision AlertDecision

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seedDedup := AlertDedupState{ContractName: claim.ContractName, ViolationType: string(claim.ViolationType), UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seedDedup).Error; err != nil {
			return err
		}
		seedRate := AlertRateState{ContractName: claim.ContractName, WindowStart: now, UpdatedAt: now}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seedRate).Error; err != nil {
			return err
		}

		var dedup AlertDedupState
		if err := forUpdate(tx).
			Where("contract_name = ? AND violation_type = ?", claim.ContractName, string(claim.ViolationType)).
			First(&dedup).Error; err != nil {
			return err
		}

		if IsDuplicate(claim, dedup.LastAlertedAt, models.Severity(dedup.LastSeverity)) {
			decision = AlertDecision{Reason: SuppressDuplicate, WindowCount: dedup.WindowCount + 1}
			return tx.Model(&AlertDedupState{}).
				Where("contract_name = ? AND violation_type = ?", claim.ContractName, string(claim.ViolationType)).
				Updates(map[string]interface{}{"window_count": gorm.Expr("window_count + 1"), "updated_at": now}).Error
		}

		var rate AlertRateState
		if err := forUpdate(tx).Where("contract_name = ?", claim.ContractName).First(&rate).Error; err != nil {
			return err
		}
		if claim.RateWindow > 0 && now.Sub(rate.WindowStart.UTC()) >= claim.RateWindow {
			rate.WindowStart = now
			rate.DispatchedCount = 0
		}

		if claim.MaxAlerts > 0 && rate.DispatchedCount >= claim.MaxAlerts {
			decision = AlertDecision{Reason: SuppressRateLimited}
			rate.UpdatedAt = now
			return tx.Save(&rate).Error
		}

		rate.DispatchedCount++
		rate.UpdatedAt = now
		if err := tx.Save(&rate).Error; err != nil {
			return err
		}

		dedup.LastAlertedAt = now
		dedup.LastSeverity = string(claim.Severity)
		dedup.WindowCount = 1
		dedup.UpdatedAt = now
		if err := tx.Save(&dedup).Error; err != nil {
			return err
		}

		decision = AlertDecision{Allowed: true, WindowCount: 1}
		return nil
	})
	if err != nil {
		return AlertDecision{}, fmt.Errorf("failed to claim alert: %w", err)
	}
	return decision, nil
}
