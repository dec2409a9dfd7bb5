package balances

import (
	"context"
	"errors"
	"fmt"
	"time"

	"grove-ledger/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EnsureAccount returns the beneficiary's account row, creating it on first use.
// Safe to call concurrently: the insert is a no-op when the row already exists.
func EnsureAccount(tx *gorm.DB, beneficiaryID string) (*domain.BeneficiaryAccount, error) {
	acc := domain.BeneficiaryAccount{BeneficiaryID: beneficiaryID}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&acc).Error; err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	var out domain.BeneficiaryAccount
	if err := tx.Where("beneficiary_id = ?", beneficiaryID).First(&out).Error; err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return &out, nil
}

// BumpVersion advances the account version only if it still equals expected. A false
// return means another money movement for the same beneficiary committed first.
func BumpVersion(tx *gorm.DB, beneficiaryID string, expected int64) (bool, error) {
	res := tx.Model(&domain.BeneficiaryAccount{}).
		Where("beneficiary_id = ? AND version = ?", beneficiaryID, expected).
		Updates(map[string]interface{}{
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func freeze(tx *gorm.DB, beneficiaryID, reason string) error {
	if _, err := EnsureAccount(tx, beneficiaryID); err != nil {
		return err
	}
	now := time.Now().UTC()
	return tx.Model(&domain.BeneficiaryAccount{}).
		Where("beneficiary_id = ?", beneficiaryID).
		Updates(map[string]interface{}{
			"frozen":        true,
			"frozen_reason": reason,
			"frozen_at":     now,
			"updated_at":    now,
		}).Error
}

// Freeze blocks payouts for the beneficiary until an operator unfreezes it.
func (a *Aggregator) Freeze(ctx context.Context, beneficiaryID, reason string) error {
	if beneficiaryID == "" {
		return ErrBeneficiaryRequired
	}
	if err := freeze(a.DB.WithContext(ctx), beneficiaryID, reason); err != nil {
		return err
	}
	a.invalidate(ctx, beneficiaryID)
	return nil
}

// Unfreeze lifts a freeze after reconciliation. The balance is recomputed first: if the
// ledger is still inconsistent the account stays frozen.
func (a *Aggregator) Unfreeze(ctx context.Context, beneficiaryID string) (*domain.BeneficiaryAccount, error) {
	if beneficiaryID == "" {
		return nil, ErrBeneficiaryRequired
	}
	db := a.DB.WithContext(ctx)
	var acc domain.BeneficiaryAccount
	if err := db.Where("beneficiary_id = ?", beneficiaryID).First(&acc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	b, err := a.Compute(ctx, db, beneficiaryID)
	if err != nil {
		return nil, err
	}
	if violation := b.violation(); violation != "" {
		return nil, ErrInvariantViolation
	}
	if err := db.Model(&acc).Updates(map[string]interface{}{
		"frozen":        false,
		"frozen_reason": nil,
		"frozen_at":     nil,
		"updated_at":    time.Now().UTC(),
	}).Error; err != nil {
		return nil, err
	}
	a.invalidate(ctx, beneficiaryID)
	acc.Frozen = false
	acc.FrozenReason = nil
	acc.FrozenAt = nil
	return &acc, nil
}

// IsFrozen reports the freeze flag without creating an account row.
func IsFrozen(tx *gorm.DB, beneficiaryID string) (bool, error) {
	var acc domain.BeneficiaryAccount
	err := tx.Where("beneficiary_id = ?", beneficiaryID).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return acc.Frozen, nil
}
