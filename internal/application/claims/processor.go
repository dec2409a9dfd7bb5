// Package claims turns earned balances into external transfers. Every payout is journaled as a
// ClaimRequest before the executor is called, and no payout ever relies on a cached balance.
package claims

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"grove-ledger/internal/application/balances"
	"grove-ledger/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const defaultTransferTimeout = 15 * time.Second

// Ledger is the balance view the processor validates against.
type Ledger interface {
	Compute(ctx context.Context, tx *gorm.DB, beneficiaryID string) (*balances.Balance, error)
	MatureBefore() time.Time
	Invalidate(ctx context.Context, beneficiaryIDs ...string)
}

// Processor executes investor claims and farmer withdrawals.
type Processor struct {
	DB              *gorm.DB
	Ledger          Ledger
	Executor        TransferExecutor
	TransferTimeout time.Duration
	Now             func() time.Time
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

// ClaimInput asks to pay out specific investor EarningRecords. Amount is optional; when set
// it must equal the sum of the records.
type ClaimInput struct {
	BeneficiaryID    string      `json:"-"`
	EarningRecordIDs []uuid.UUID `json:"earning_record_ids"`
	Amount           int64       `json:"amount"`
}

// WithdrawalInput asks to pay out an amount of the beneficiary's farmer earnings.
type WithdrawalInput struct {
	BeneficiaryID string `json:"-"`
	Amount        int64  `json:"amount"`
}

// ProcessClaim reserves the records, journals the request and invokes the transfer.
//
// The returned claim is completed on success. A declined transfer returns the failed claim
// with ErrTransferFailed and releases the records. An unknown outcome (timeout, transport
// error) returns the claim still processing and a nil error; it waits for ResolveClaim.
func (p *Processor) ProcessClaim(ctx context.Context, in ClaimInput) (*domain.ClaimRequest, error) {
	if in.BeneficiaryID == "" {
		return nil, ErrBeneficiaryRequired
	}
	if len(in.EarningRecordIDs) == 0 {
		return nil, ErrRecordsRequired
	}
	if in.Amount < 0 {
		return nil, ErrInvalidAmount
	}
	seen := make(map[uuid.UUID]struct{}, len(in.EarningRecordIDs))
	for _, id := range in.EarningRecordIDs {
		if _, dup := seen[id]; dup {
			return nil, ErrDuplicateRecord
		}
		seen[id] = struct{}{}
	}

	var claim domain.ClaimRequest
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acc, err := balances.EnsureAccount(tx, in.BeneficiaryID)
		if err != nil {
			return err
		}
		if acc.Frozen {
			return balances.ErrBeneficiaryFrozen
		}

		var records []domain.EarningRecord
		if err := tx.Where("earning_id IN ?", in.EarningRecordIDs).Find(&records).Error; err != nil {
			return fmt.Errorf("load records: %w", err)
		}
		if len(records) != len(in.EarningRecordIDs) {
			return ErrRecordNotFound
		}
		cutoff := p.Ledger.MatureBefore()
		var total int64
		for _, r := range records {
			switch {
			case r.BeneficiaryID != in.BeneficiaryID:
				return ErrRecordNotOwned
			case r.BeneficiaryKind != domain.BeneficiaryInvestor:
				return ErrRecordNotClaimable
			case r.Status == domain.EarningClaimed:
				return ErrRecordAlreadyClaimed
			case r.ClaimID != nil:
				return ErrClaimInProgress
			case r.CreatedAt.After(cutoff):
				return ErrEarningNotMature
			}
			total += r.Amount
		}
		if total <= 0 {
			return ErrInvalidAmount
		}
		if in.Amount > 0 && in.Amount != total {
			return ErrAmountMismatch
		}

		bal, err := p.Ledger.Compute(ctx, tx, in.BeneficiaryID)
		if err != nil {
			return err
		}
		if bal.Available < total {
			return ErrInsufficientBalance
		}

		fp := fingerprint(in.BeneficiaryID, domain.ClaimKindClaim, in.EarningRecordIDs, total)
		if err := ensureNotActive(tx, in.BeneficiaryID, fp); err != nil {
			return err
		}
		if err := bumpVersion(tx, acc); err != nil {
			return err
		}

		ids, err := json.Marshal(in.EarningRecordIDs)
		if err != nil {
			return err
		}
		claim = domain.ClaimRequest{
			BeneficiaryID:    in.BeneficiaryID,
			Kind:             domain.ClaimKindClaim,
			Amount:           total,
			EarningRecordIDs: datatypes.JSON(ids),
			Fingerprint:      fp,
			Status:           domain.ClaimRequested,
		}
		if err := tx.Create(&claim).Error; err != nil {
			return fmt.Errorf("create claim: %w", err)
		}

		res := tx.Model(&domain.EarningRecord{}).
			Where("earning_id IN ? AND beneficiary_id = ? AND status = ? AND claim_id IS NULL",
				in.EarningRecordIDs, in.BeneficiaryID, domain.EarningUnclaimed).
			Update("claim_id", claim.ClaimID)
		if res.Error != nil {
			return fmt.Errorf("reserve records: %w", res.Error)
		}
		if res.RowsAffected != int64(len(in.EarningRecordIDs)) {
			return ErrClaimInProgress
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.Ledger.Invalidate(ctx, in.BeneficiaryID)
	return p.execute(ctx, &claim)
}

// ProcessWithdrawal journals an amount-based payout of farmer earnings and invokes the
// transfer. The amount is bounded by the available balance and by the mature farmer earnings
// not yet withdrawn; investor earnings are only paid through ProcessClaim. Outcomes are
// reported as for ProcessClaim.
func (p *Processor) ProcessWithdrawal(ctx context.Context, in WithdrawalInput) (*domain.ClaimRequest, error) {
	if in.BeneficiaryID == "" {
		return nil, ErrBeneficiaryRequired
	}
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	var claim domain.ClaimRequest
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		acc, err := balances.EnsureAccount(tx, in.BeneficiaryID)
		if err != nil {
			return err
		}
		if acc.Frozen {
			return balances.ErrBeneficiaryFrozen
		}
		withdrawable, isFarmer, err := farmerWithdrawable(tx, in.BeneficiaryID, p.Ledger.MatureBefore())
		if err != nil {
			return err
		}
		if !isFarmer {
			return ErrNoFarmerEarnings
		}
		bal, err := p.Ledger.Compute(ctx, tx, in.BeneficiaryID)
		if err != nil {
			return err
		}
		if bal.Available < in.Amount || withdrawable < in.Amount {
			return ErrInsufficientBalance
		}

		fp := fingerprint(in.BeneficiaryID, domain.ClaimKindWithdrawal, nil, in.Amount)
		if err := ensureNotActive(tx, in.BeneficiaryID, fp); err != nil {
			return err
		}
		if err := bumpVersion(tx, acc); err != nil {
			return err
		}

		claim = domain.ClaimRequest{
			BeneficiaryID: in.BeneficiaryID,
			Kind:          domain.ClaimKindWithdrawal,
			Amount:        in.Amount,
			Fingerprint:   fp,
			Status:        domain.ClaimRequested,
		}
		if err := tx.Create(&claim).Error; err != nil {
			return fmt.Errorf("create withdrawal: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.Ledger.Invalidate(ctx, in.BeneficiaryID)
	return p.execute(ctx, &claim)
}

// farmerWithdrawable is the mature farmer earnings of a beneficiary minus every withdrawal
// that is completed or still in flight. The flag is false when the beneficiary has never
// earned as a farmer.
func farmerWithdrawable(tx *gorm.DB, beneficiaryID string, cutoff time.Time) (int64, bool, error) {
	var earned []domain.EarningRecord
	if err := tx.Select("amount", "created_at").
		Where("beneficiary_id = ? AND beneficiary_kind = ?", beneficiaryID, domain.BeneficiaryFarmer).
		Find(&earned).Error; err != nil {
		return 0, false, fmt.Errorf("load farmer earnings: %w", err)
	}
	if len(earned) == 0 {
		return 0, false, nil
	}
	var mature int64
	for _, r := range earned {
		if !r.CreatedAt.After(cutoff) {
			mature += r.Amount
		}
	}
	var withdrawn int64
	if err := tx.Model(&domain.ClaimRequest{}).
		Where("beneficiary_id = ? AND kind = ? AND status IN ?", beneficiaryID, domain.ClaimKindWithdrawal,
			[]string{domain.ClaimRequested, domain.ClaimProcessing, domain.ClaimCompleted}).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&withdrawn).Error; err != nil {
		return 0, false, fmt.Errorf("sum withdrawals: %w", err)
	}
	return mature - withdrawn, true, nil
}

func ensureNotActive(tx *gorm.DB, beneficiaryID, fp string) error {
	var n int64
	if err := tx.Model(&domain.ClaimRequest{}).
		Where("beneficiary_id = ? AND fingerprint = ? AND status IN ?",
			beneficiaryID, fp, []string{domain.ClaimRequested, domain.ClaimProcessing}).
		Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return ErrClaimInProgress
	}
	return nil
}

func bumpVersion(tx *gorm.DB, acc *domain.BeneficiaryAccount) error {
	ok, err := balances.BumpVersion(tx, acc.BeneficiaryID, acc.Version)
	if err != nil {
		return fmt.Errorf("bump account version: %w", err)
	}
	if !ok {
		return ErrConcurrentModification
	}
	return nil
}

// execute moves a requested claim to processing and calls the executor once. There are no
// automatic retries: a second transfer for the same claim could pay twice.
func (p *Processor) execute(ctx context.Context, claim *domain.ClaimRequest) (*domain.ClaimRequest, error) {
	// bookkeeping after the transfer must survive the caller going away
	bg := context.WithoutCancel(ctx)
	db := p.DB.WithContext(bg)

	res := db.Model(&domain.ClaimRequest{}).
		Where("claim_id = ? AND status = ?", claim.ClaimID, domain.ClaimRequested).
		Updates(map[string]interface{}{"status": domain.ClaimProcessing, "updated_at": p.now()})
	if res.Error != nil {
		return nil, fmt.Errorf("start claim: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return p.GetClaim(bg, claim.ClaimID)
	}

	timeout := p.TransferTimeout
	if timeout <= 0 {
		timeout = defaultTransferTimeout
	}
	tctx, cancel := context.WithTimeout(bg, timeout)
	defer cancel()

	result, err := p.Executor.Transfer(tctx, TransferRequest{
		Address:        claim.BeneficiaryID,
		Amount:         claim.Amount,
		Memo:           fmt.Sprintf("%s %s", claim.Kind, claim.ClaimID),
		IdempotencyKey: claim.ClaimID.String(),
	})

	logger := log.With().
		Str("claim_id", claim.ClaimID.String()).
		Str("beneficiary_id", claim.BeneficiaryID).
		Str("kind", claim.Kind).
		Int64("amount", claim.Amount).
		Logger()

	switch {
	case err == nil:
		ref := ""
		if result != nil {
			ref = result.Reference
		}
		out, cerr := p.complete(bg, claim.ClaimID, ref)
		if cerr != nil {
			logger.Error().Err(cerr).Str("external_reference", ref).Msg("Transfer succeeded but completion was not recorded")
			return nil, cerr
		}
		logger.Info().Str("external_reference", ref).Msg("Claim completed")
		return out, nil
	case errors.Is(err, ErrTransferDeclined):
		out, ferr := p.fail(bg, claim.ClaimID, err.Error())
		if ferr != nil {
			return nil, ferr
		}
		logger.Warn().Err(err).Msg("Transfer declined; claim failed and earnings released")
		return out, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	default:
		logger.Warn().Err(err).Msg("Transfer outcome unknown; claim left processing for reconciliation")
		return p.GetClaim(bg, claim.ClaimID)
	}
}

// complete marks a processing claim completed. Investor records become claimed; a withdrawal
// settles the beneficiary's oldest farmer records it fully covers.
func (p *Processor) complete(ctx context.Context, claimID uuid.UUID, reference string) (*domain.ClaimRequest, error) {
	var beneficiaryID string
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var claim domain.ClaimRequest
		if err := tx.Where("claim_id = ?", claimID).First(&claim).Error; err != nil {
			return err
		}
		beneficiaryID = claim.BeneficiaryID
		now := p.now()
		res := tx.Model(&domain.ClaimRequest{}).
			Where("claim_id = ? AND status IN ?", claimID, []string{domain.ClaimRequested, domain.ClaimProcessing}).
			Updates(map[string]interface{}{
				"status":             domain.ClaimCompleted,
				"external_reference": reference,
				"completed_at":       now,
				"updated_at":         now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrClaimNotResolvable
		}
		if claim.Kind == domain.ClaimKindClaim {
			return tx.Model(&domain.EarningRecord{}).
				Where("claim_id = ? AND status = ?", claimID, domain.EarningUnclaimed).
				Updates(map[string]interface{}{"status": domain.EarningClaimed, "claimed_at": now}).Error
		}
		return settleWithdrawals(tx, claim.BeneficiaryID, now)
	})
	if err != nil {
		return nil, err
	}
	p.Ledger.Invalidate(ctx, beneficiaryID)
	return p.GetClaim(ctx, claimID)
}

// fail marks a claim failed and releases its reserved records.
func (p *Processor) fail(ctx context.Context, claimID uuid.UUID, reason string) (*domain.ClaimRequest, error) {
	var beneficiaryID string
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var claim domain.ClaimRequest
		if err := tx.Where("claim_id = ?", claimID).First(&claim).Error; err != nil {
			return err
		}
		beneficiaryID = claim.BeneficiaryID
		res := tx.Model(&domain.ClaimRequest{}).
			Where("claim_id = ? AND status IN ?", claimID, []string{domain.ClaimRequested, domain.ClaimProcessing}).
			Updates(map[string]interface{}{
				"status":         domain.ClaimFailed,
				"failure_reason": reason,
				"updated_at":     p.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrClaimNotResolvable
		}
		return tx.Model(&domain.EarningRecord{}).
			Where("claim_id = ? AND status = ?", claimID, domain.EarningUnclaimed).
			Update("claim_id", nil).Error
	})
	if err != nil {
		return nil, err
	}
	p.Ledger.Invalidate(ctx, beneficiaryID)
	return p.GetClaim(ctx, claimID)
}

// settleWithdrawals marks farmer records claimed, oldest first, while completed withdrawals
// not yet matched to records still cover them whole.
func settleWithdrawals(tx *gorm.DB, beneficiaryID string, now time.Time) error {
	var withdrawn, settled int64
	if err := tx.Model(&domain.ClaimRequest{}).
		Where("beneficiary_id = ? AND kind = ? AND status = ?", beneficiaryID, domain.ClaimKindWithdrawal, domain.ClaimCompleted).
		Select("COALESCE(SUM(amount), 0)").Scan(&withdrawn).Error; err != nil {
		return err
	}
	if err := tx.Model(&domain.EarningRecord{}).
		Where("beneficiary_id = ? AND beneficiary_kind = ? AND status = ?", beneficiaryID, domain.BeneficiaryFarmer, domain.EarningClaimed).
		Select("COALESCE(SUM(amount), 0)").Scan(&settled).Error; err != nil {
		return err
	}
	credit := withdrawn - settled

	var open []domain.EarningRecord
	if err := tx.Where("beneficiary_id = ? AND beneficiary_kind = ? AND status = ? AND claim_id IS NULL",
		beneficiaryID, domain.BeneficiaryFarmer, domain.EarningUnclaimed).
		Order("created_at ASC").Order("earning_id ASC").
		Find(&open).Error; err != nil {
		return err
	}
	var ids []uuid.UUID
	for _, r := range open {
		if r.Amount > credit {
			break
		}
		credit -= r.Amount
		ids = append(ids, r.EarningID)
	}
	if len(ids) == 0 {
		return nil
	}
	return tx.Model(&domain.EarningRecord{}).
		Where("earning_id IN ?", ids).
		Updates(map[string]interface{}{"status": domain.EarningClaimed, "claimed_at": now}).Error
}

// Outcomes accepted by ResolveClaim.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Resolution is an operator's verdict on a claim whose transfer outcome was unknown.
type Resolution struct {
	Outcome           string `json:"outcome"`
	ExternalReference string `json:"external_reference"`
	Reason            string `json:"reason"`
}

// ResolveClaim finishes a requested or processing claim after the transfer was checked
// out of band.
func (p *Processor) ResolveClaim(ctx context.Context, claimID uuid.UUID, r Resolution) (*domain.ClaimRequest, error) {
	claim, err := p.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if !claim.Active() {
		return nil, ErrClaimNotResolvable
	}
	switch r.Outcome {
	case OutcomeCompleted:
		if r.ExternalReference == "" {
			return nil, ErrInvalidResolution
		}
		out, err := p.complete(ctx, claimID, r.ExternalReference)
		if err != nil {
			return nil, err
		}
		log.Info().Str("claim_id", claimID.String()).Str("external_reference", r.ExternalReference).Msg("Claim resolved as completed")
		return out, nil
	case OutcomeFailed:
		reason := r.Reason
		if reason == "" {
			reason = "resolved as failed during reconciliation"
		}
		out, err := p.fail(ctx, claimID, reason)
		if err != nil {
			return nil, err
		}
		log.Info().Str("claim_id", claimID.String()).Str("reason", reason).Msg("Claim resolved as failed")
		return out, nil
	default:
		return nil, ErrInvalidResolution
	}
}

// GetClaim loads one claim request.
func (p *Processor) GetClaim(ctx context.Context, claimID uuid.UUID) (*domain.ClaimRequest, error) {
	var c domain.ClaimRequest
	if err := p.DB.WithContext(ctx).Where("claim_id = ?", claimID).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClaimNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListClaims returns a beneficiary's claim journal, newest first.
func (p *Processor) ListClaims(ctx context.Context, beneficiaryID string) ([]domain.ClaimRequest, error) {
	if beneficiaryID == "" {
		return nil, ErrBeneficiaryRequired
	}
	var out []domain.ClaimRequest
	if err := p.DB.WithContext(ctx).
		Where("beneficiary_id = ?", beneficiaryID).
		Order("created_at DESC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	return out, nil
}
