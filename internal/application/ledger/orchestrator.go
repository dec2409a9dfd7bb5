// Package ledger records harvest entitlements as immutable EarningRecords. Each harvest is
// distributed at most once; the latch is a conditional update on the harvest row committed in
// the same transaction as the records.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"grove-ledger/internal/application/distribution"
	"grove-ledger/internal/application/holdings"
	"grove-ledger/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StatusDistributed        = "distributed"
	StatusAlreadyDistributed = "already_distributed"
)

// BalanceInvalidator is told which beneficiaries changed after a ledger write commits.
type BalanceInvalidator interface {
	Invalidate(ctx context.Context, beneficiaryIDs ...string)
}

// DistributionResult reports the outcome of DistributeHarvest. Records are the harvest's
// EarningRecords, whether written by this call or by an earlier one.
type DistributionResult struct {
	Status              string                 `json:"status"`
	HarvestID           uuid.UUID              `json:"harvest_id"`
	GroveID             uuid.UUID              `json:"grove_id"`
	GrossRevenue        int64                  `json:"gross_revenue"`
	FarmerShare         int64                  `json:"farmer_share"`
	InvestorShare       int64                  `json:"investor_share"`
	UnallocatedAmount   int64                  `json:"unallocated_amount"`
	NeedsReconciliation bool                   `json:"needs_reconciliation"`
	DistributedAt       *time.Time             `json:"distributed_at"`
	Records             []domain.EarningRecord `json:"records"`
}

// Orchestrator drives one harvest from reported to distributed.
type Orchestrator struct {
	DB               *gorm.DB
	Registry         holdings.Registry
	Balances         BalanceInvalidator
	FarmerShareRatio decimal.Decimal
	Now              func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now().UTC()
}

// DistributeHarvest computes and records every party's entitlement for a harvest. Calling it
// again, sequentially or concurrently, returns already_distributed and writes nothing.
// A failed attempt leaves the harvest retryable with status failed.
func (o *Orchestrator) DistributeHarvest(ctx context.Context, harvestID uuid.UUID) (*DistributionResult, error) {
	db := o.DB.WithContext(ctx)

	var harvest domain.Harvest
	if err := db.Where("harvest_id = ?", harvestID).First(&harvest).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHarvestNotFound
		}
		return nil, err
	}
	if harvest.Distributed {
		return o.existingResult(ctx, &harvest)
	}

	var grove domain.Grove
	if err := db.Where("grove_id = ?", harvest.GroveID).First(&grove).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			o.markFailed(ctx, harvestID, ErrGroveNotFound)
			return nil, ErrGroveNotFound
		}
		return nil, err
	}

	if err := db.Model(&domain.Harvest{}).
		Where("harvest_id = ? AND distributed = ?", harvestID, false).
		Update("status", domain.HarvestDistributing).Error; err != nil {
		return nil, fmt.Errorf("mark distributing: %w", err)
	}

	calc, err := o.calculate(ctx, &harvest)
	if err != nil {
		o.markFailed(ctx, harvestID, err)
		return nil, err
	}

	distributedAt := o.now()
	records := buildRecords(&harvest, grove.FarmerID, calc)
	summary, err := json.Marshal(calc)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Harvest{}).
			Where("harvest_id = ? AND distributed = ?", harvestID, false).
			Updates(map[string]interface{}{
				"distributed":          true,
				"status":               domain.HarvestDistributed,
				"distributed_at":       distributedAt,
				"farmer_share":         calc.FarmerShare,
				"investor_share":       calc.InvestorShare,
				"unallocated_amount":   calc.Unallocated,
				"needs_reconciliation": calc.Unallocated > 0,
				"summary":              datatypes.JSON(summary),
				"last_error":           nil,
				"updated_at":           distributedAt,
			})
		if res.Error != nil {
			return fmt.Errorf("flip distribution latch: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errLatchTaken
		}
		if err := tx.CreateInBatches(&records, 200).Error; err != nil {
			return fmt.Errorf("insert earning records: %w", err)
		}
		return nil
	})
	if errors.Is(err, errLatchTaken) {
		log.Info().Str("harvest_id", harvestID.String()).Msg("Harvest distributed by a concurrent caller")
		if err := db.Where("harvest_id = ?", harvestID).First(&harvest).Error; err != nil {
			return nil, err
		}
		return o.existingResult(ctx, &harvest)
	}
	if err != nil {
		o.markFailed(ctx, harvestID, err)
		return nil, err
	}

	if calc.Unallocated > 0 {
		log.Warn().
			Str("harvest_id", harvestID.String()).
			Int64("unallocated", calc.Unallocated).
			Msg("Harvest has no eligible holders; investor share left unallocated")
	}
	log.Info().
		Str("harvest_id", harvestID.String()).
		Str("grove_id", harvest.GroveID.String()).
		Int64("gross_revenue", harvest.GrossRevenue).
		Int("records", len(records)).
		Msg("Harvest distributed")

	if o.Balances != nil {
		o.Balances.Invalidate(ctx, beneficiaryIDs(records)...)
	}

	return &DistributionResult{
		Status:              StatusDistributed,
		HarvestID:           harvestID,
		GroveID:             harvest.GroveID,
		GrossRevenue:        harvest.GrossRevenue,
		FarmerShare:         calc.FarmerShare,
		InvestorShare:       calc.InvestorShare,
		UnallocatedAmount:   calc.Unallocated,
		NeedsReconciliation: calc.Unallocated > 0,
		DistributedAt:       &distributedAt,
		Records:             records,
	}, nil
}

// calculate migrates legacy holders of the grove, then runs the pure calculator over the
// holdings eligible at harvest time.
func (o *Orchestrator) calculate(ctx context.Context, harvest *domain.Harvest) (*distribution.Result, error) {
	if _, err := o.Registry.MigrateLegacyHoldings(ctx, harvest.GroveID); err != nil {
		return nil, err
	}
	active, err := o.Registry.ListActiveHoldings(ctx, harvest.GroveID)
	if err != nil {
		return nil, err
	}
	return distribution.Calculate(*harvest, o.FarmerShareRatio, distribution.Consolidate(active, harvest.HarvestedAt))
}

func buildRecords(harvest *domain.Harvest, farmerID string, calc *distribution.Result) []domain.EarningRecord {
	records := make([]domain.EarningRecord, 0, len(calc.Shares)+1)
	records = append(records, domain.EarningRecord{
		EarningID:       uuid.New(),
		BeneficiaryID:   farmerID,
		BeneficiaryKind: domain.BeneficiaryFarmer,
		HarvestID:       harvest.HarvestID,
		GroveID:         harvest.GroveID,
		Amount:          calc.FarmerShare,
		Status:          domain.EarningUnclaimed,
	})
	for _, s := range calc.Shares {
		tokens := s.TokenAmount
		records = append(records, domain.EarningRecord{
			EarningID:       uuid.New(),
			BeneficiaryID:   s.BeneficiaryID,
			BeneficiaryKind: domain.BeneficiaryInvestor,
			HarvestID:       harvest.HarvestID,
			GroveID:         harvest.GroveID,
			TokenAmount:     &tokens,
			Amount:          s.Amount,
			Status:          domain.EarningUnclaimed,
		})
	}
	return records
}

func beneficiaryIDs(records []domain.EarningRecord) []string {
	seen := make(map[string]struct{}, len(records))
	var out []string
	for _, r := range records {
		if _, ok := seen[r.BeneficiaryID]; ok {
			continue
		}
		seen[r.BeneficiaryID] = struct{}{}
		out = append(out, r.BeneficiaryID)
	}
	return out
}

// markFailed records the error on a harvest that is still undistributed so it can be retried.
func (o *Orchestrator) markFailed(ctx context.Context, harvestID uuid.UUID, cause error) {
	msg := cause.Error()
	err := o.DB.WithContext(ctx).Model(&domain.Harvest{}).
		Where("harvest_id = ? AND distributed = ?", harvestID, false).
		Updates(map[string]interface{}{
			"status":     domain.HarvestFailed,
			"last_error": msg,
			"updated_at": o.now(),
		}).Error
	if err != nil {
		log.Error().Err(err).Str("harvest_id", harvestID.String()).Msg("Failed to mark harvest failed")
	}
	log.Error().Err(cause).Str("harvest_id", harvestID.String()).Msg("Harvest distribution failed")
}

func (o *Orchestrator) existingResult(ctx context.Context, harvest *domain.Harvest) (*DistributionResult, error) {
	var records []domain.EarningRecord
	if err := o.DB.WithContext(ctx).
		Where("harvest_id = ?", harvest.HarvestID).
		Order("beneficiary_kind DESC, beneficiary_id ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return &DistributionResult{
		Status:              StatusAlreadyDistributed,
		HarvestID:           harvest.HarvestID,
		GroveID:             harvest.GroveID,
		GrossRevenue:        harvest.GrossRevenue,
		FarmerShare:         harvest.FarmerShare,
		InvestorShare:       harvest.InvestorShare,
		UnallocatedAmount:   harvest.UnallocatedAmount,
		NeedsReconciliation: harvest.NeedsReconciliation,
		DistributedAt:       harvest.DistributedAt,
		Records:             records,
	}, nil
}

// GetEarningsHistory lists a beneficiary's EarningRecords, newest first.
func (o *Orchestrator) GetEarningsHistory(ctx context.Context, beneficiaryID string) ([]domain.EarningRecord, error) {
	if beneficiaryID == "" {
		return nil, ErrBeneficiaryEmpty
	}
	var out []domain.EarningRecord
	if err := o.DB.WithContext(ctx).
		Where("beneficiary_id = ?", beneficiaryID).
		Order("created_at DESC").
		Order("earning_id ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list earnings: %w", err)
	}
	return out, nil
}

// GetHarvest loads one harvest.
func (o *Orchestrator) GetHarvest(ctx context.Context, harvestID uuid.UUID) (*domain.Harvest, error) {
	var h domain.Harvest
	if err := o.DB.WithContext(ctx).Where("harvest_id = ?", harvestID).First(&h).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrHarvestNotFound
		}
		return nil, err
	}
	return &h, nil
}
