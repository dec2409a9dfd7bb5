package balances

import (
	"context"
	"fmt"
	"time"

	"grove-ledger/internal/domain"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Balance is derived from the ledger, never stored as a mutable counter.
//
//	available = total_earned - total_withdrawn - in_flight - pending
//
// in_flight is the amount of requested/processing claims; pending is the part of unspent,
// unreserved earnings younger than the maturation delay.
type Balance struct {
	BeneficiaryID  string    `json:"beneficiary_id"`
	Available      int64     `json:"available"`
	Pending        int64     `json:"pending"`
	InFlight       int64     `json:"in_flight"`
	TotalEarned    int64     `json:"total_earned"`
	TotalWithdrawn int64     `json:"total_withdrawn"`
	Frozen         bool      `json:"frozen"`
	ComputedAt     time.Time `json:"computed_at"`
}

func (b *Balance) violation() string {
	switch {
	case b.TotalWithdrawn > b.TotalEarned:
		return fmt.Sprintf("total_withdrawn %d exceeds total_earned %d", b.TotalWithdrawn, b.TotalEarned)
	case b.Available < 0:
		return fmt.Sprintf("available balance is negative (%d)", b.Available)
	}
	return ""
}

// Aggregator folds EarningRecords and ClaimRequests into balances.
type Aggregator struct {
	DB              *gorm.DB
	Cache           Cache
	MaturationDelay time.Duration
	Now             func() time.Time
}

func (a *Aggregator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now().UTC()
}

func (a *Aggregator) cache() Cache {
	if a.Cache == nil {
		return NopCache{}
	}
	return a.Cache
}

// MatureBefore is the cutoff: records created at or before it can be paid out.
func (a *Aggregator) MatureBefore() time.Time {
	return a.now().Add(-a.MaturationDelay)
}

// Compute folds the ledger for one beneficiary using tx, which may be a transaction.
// It never reads or writes the cache.
func (a *Aggregator) Compute(ctx context.Context, tx *gorm.DB, beneficiaryID string) (*Balance, error) {
	if beneficiaryID == "" {
		return nil, ErrBeneficiaryRequired
	}
	tx = tx.WithContext(ctx)
	b := &Balance{BeneficiaryID: beneficiaryID, ComputedAt: a.now()}

	if err := tx.Model(&domain.EarningRecord{}).
		Where("beneficiary_id = ?", beneficiaryID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&b.TotalEarned).Error; err != nil {
		return nil, fmt.Errorf("sum earnings: %w", err)
	}
	if err := tx.Model(&domain.ClaimRequest{}).
		Where("beneficiary_id = ? AND status = ?", beneficiaryID, domain.ClaimCompleted).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&b.TotalWithdrawn).Error; err != nil {
		return nil, fmt.Errorf("sum withdrawn: %w", err)
	}
	if err := tx.Model(&domain.ClaimRequest{}).
		Where("beneficiary_id = ? AND status IN ?", beneficiaryID, []string{domain.ClaimRequested, domain.ClaimProcessing}).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&b.InFlight).Error; err != nil {
		return nil, fmt.Errorf("sum in flight: %w", err)
	}

	var immature int64
	if a.MaturationDelay > 0 {
		// filtered in Go so the cutoff comparison does not depend on how the driver stores times
		var young []domain.EarningRecord
		if err := tx.Select("amount", "created_at").
			Where("beneficiary_id = ? AND status = ? AND claim_id IS NULL", beneficiaryID, domain.EarningUnclaimed).
			Find(&young).Error; err != nil {
			return nil, fmt.Errorf("load unclaimed: %w", err)
		}
		cutoff := a.MatureBefore()
		for _, r := range young {
			if r.CreatedAt.After(cutoff) {
				immature += r.Amount
			}
		}
	}

	spendable := b.TotalEarned - b.TotalWithdrawn - b.InFlight
	b.Pending = immature
	if spendable < immature {
		b.Pending = max(spendable, 0)
	}
	b.Available = spendable - b.Pending

	frozen, err := IsFrozen(tx, beneficiaryID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	b.Frozen = frozen
	return b, nil
}

// RefreshBalance recomputes from the ledger, checks the invariants and stores the result in
// the cache unless the beneficiary was invalidated meanwhile. A violation freezes the beneficiary and returns ErrInvariantViolation.
func (a *Aggregator) RefreshBalance(ctx context.Context, beneficiaryID string) (*Balance, error) {
	gen, genErr := a.cache().Generation(ctx, beneficiaryID)
	if genErr != nil {
		log.Warn().Err(genErr).Str("beneficiary_id", beneficiaryID).Msg("Balance cache generation read failed")
	}
	b, err := a.Compute(ctx, a.DB, beneficiaryID)
	if err != nil {
		return nil, err
	}
	if v := b.violation(); v != "" {
		log.Error().
			Str("beneficiary_id", beneficiaryID).
			Int64("total_earned", b.TotalEarned).
			Int64("total_withdrawn", b.TotalWithdrawn).
			Int64("in_flight", b.InFlight).
			Str("violation", v).
			Msg("Balance invariant violated; freezing beneficiary")
		if ferr := freeze(a.DB.WithContext(ctx), beneficiaryID, v); ferr != nil {
			log.Error().Err(ferr).Str("beneficiary_id", beneficiaryID).Msg("Failed to freeze beneficiary")
		}
		a.invalidate(ctx, beneficiaryID)
		return nil, ErrInvariantViolation
	}
	if genErr == nil {
		if err := a.cache().Set(ctx, b, gen); err != nil {
			log.Warn().Err(err).Str("beneficiary_id", beneficiaryID).Msg("Balance cache write failed")
		}
	}
	return b, nil
}

// GetBalance serves from the cache when possible. Display only; payout paths use Compute.
func (a *Aggregator) GetBalance(ctx context.Context, beneficiaryID string) (*Balance, error) {
	if beneficiaryID == "" {
		return nil, ErrBeneficiaryRequired
	}
	cached, ok, err := a.cache().Get(ctx, beneficiaryID)
	if err != nil {
		log.Warn().Err(err).Str("beneficiary_id", beneficiaryID).Msg("Balance cache read failed")
	}
	if ok {
		return cached, nil
	}
	return a.RefreshBalance(ctx, beneficiaryID)
}

// Invalidate drops cached balances and recomputes them. Errors are logged, not returned:
// the ledger write that triggered this has already committed.
func (a *Aggregator) Invalidate(ctx context.Context, beneficiaryIDs ...string) {
	a.invalidate(ctx, beneficiaryIDs...)
	for _, id := range beneficiaryIDs {
		if _, err := a.RefreshBalance(ctx, id); err != nil {
			log.Warn().Err(err).Str("beneficiary_id", id).Msg("Balance refresh after ledger write failed")
		}
	}
}

func (a *Aggregator) invalidate(ctx context.Context, beneficiaryIDs ...string) {
	if err := a.cache().Invalidate(ctx, beneficiaryIDs...); err != nil {
		log.Warn().Err(err).Strs("beneficiary_ids", beneficiaryIDs).Msg("Balance cache invalidation failed")
	}
}
