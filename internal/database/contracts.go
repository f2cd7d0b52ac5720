package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SaveRegisteredContract upserts a registry row
func (s *Store) SaveRegisteredContract(ctx context.Context, rec *RegisteredContractRecord) error {
	now := time.Now().UTC()
	if rec.RegisteredAt.IsZero() {
		rec.RegisteredAt = now
	}
	rec.UpdatedAt = now
	err := s.db.WithContext(ctx).Clauses(upsertOnKey("name")).Create(rec).Error
	if err != nil {
		return fmt.Errorf("failed to save contract %s: %w", rec.Name, err)
	}
	return nil
}

// LoadActiveContracts returns every registry row still marked active
func (s *Store) LoadActiveContracts(ctx context.Context) ([]RegisteredContractRecord, error) {
	var recs []RegisteredContractRecord
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("name ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to load contracts: %w", err)
	}
	return recs, nil
}

// SetContractActive flips the active flag of a registered contract
func (s *Store) SetContractActive(ctx context.Context, name string, active bool) error {
	res := s.db.WithContext(ctx).Model(&RegisteredContractRecord{}).
		Where("name = ?", name).
		Updates(map[string]interface{}{"active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("failed to update contract %s: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SaveLastCheck records when a check type last ran for a contract
func (s *Store) SaveLastCheck(ctx context.Context, name, checkType string, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec RegisteredContractRecord
		err := forUpdate(tx).Where("name = ?", name).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if rec.LastChecks == nil {
			rec.LastChecks = JSONB{}
		}
		rec.LastChecks[checkType] = at.UTC().Format(time.RFC3339Nano)
		return tx.Model(&RegisteredContractRecord{}).
			Where("name = ?", name).
			Update("last_checks", rec.LastChecks).Error
	})
}
