package holdings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"grove-ledger/internal/domain"
	"grove-ledger/internal/pkg/apperror"
	"grove-ledger/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrGroveNotFound      = apperror.New(apperror.KindNotFound, "grove_not_found", "Grove not found")
	ErrInvestorRequired   = apperror.New(apperror.KindValidation, "investor_required", "investor_id is required")
	ErrInvalidInvestorID  = apperror.New(apperror.KindValidation, "invalid_investor_id", "investor_id contains unsupported characters")
	ErrInvalidTokenAmount = apperror.New(apperror.KindValidation, "invalid_token_amount", "token_amount must be positive")
	ErrInvalidGrove       = apperror.New(apperror.KindValidation, "invalid_grove", "Grove requires a name, a farmer and a positive token supply")
)

// Registry is the read view over who holds which grove tokens, plus the one-time
// migration of holders still living in the legacy table.
type Registry interface {
	ListActiveHoldings(ctx context.Context, groveID uuid.UUID) ([]domain.Holding, error)
	MigrateLegacyHoldings(ctx context.Context, groveID uuid.UUID) (int, error)
}

// Service encapsulates holdings operations.
type Service struct {
	DB *gorm.DB
}

var _ Registry = (*Service)(nil)

// ListActiveHoldings returns every active holding of a grove, oldest acquisition first.
func (s *Service) ListActiveHoldings(ctx context.Context, groveID uuid.UUID) ([]domain.Holding, error) {
	var out []domain.Holding
	if err := s.DB.WithContext(ctx).
		Where("grove_id = ? AND is_active = ?", groveID, true).
		Order("acquired_at ASC").
		Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list holdings: %w", err)
	}
	return out, nil
}

// MigrateLegacyHoldings copies legacy TokenHoldings rows of a grove into Holdings. A row is
// copied only if no holding carries its id in legacy_source_id, so reruns insert nothing, and
// only if its wallet has no current holding in the grove: the current table is authoritative.
// Returns the number of holdings created.
func (s *Service) MigrateLegacyHoldings(ctx context.Context, groveID uuid.UUID) (int, error) {
	created := 0
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var legacy []domain.LegacyHolding
		if err := tx.Where("grove_id = ?", groveID).Order("id ASC").Find(&legacy).Error; err != nil {
			return err
		}
		if len(legacy) == 0 {
			return nil
		}

		ids := make([]string, len(legacy))
		for i, l := range legacy {
			ids[i] = l.ID
		}
		var migrated []string
		if err := tx.Model(&domain.Holding{}).
			Where("legacy_source_id IN ?", ids).
			Pluck("legacy_source_id", &migrated).Error; err != nil {
			return err
		}
		done := make(map[string]bool, len(migrated))
		for _, id := range migrated {
			done[id] = true
		}
		var current []string
		if err := tx.Model(&domain.Holding{}).
			Where("grove_id = ? AND legacy_source_id IS NULL", groveID).
			Distinct().
			Pluck("investor_id", &current).Error; err != nil {
			return err
		}
		inCurrent := make(map[string]bool, len(current))
		for _, id := range current {
			inCurrent[id] = true
		}

		for _, l := range legacy {
			if done[l.ID] || inCurrent[l.WalletID] {
				continue
			}
			source := l.ID
			h := domain.Holding{
				GroveID:        l.GroveID,
				InvestorID:     l.WalletID,
				TokenAmount:    l.Tokens,
				AcquiredAt:     l.PurchasedAt,
				IsActive:       l.Active,
				LegacySourceID: &source,
			}
			res := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "legacy_source_id"}},
				DoNothing: true,
			}).Create(&h)
			if res.Error != nil {
				return res.Error
			}
			created += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("migrate legacy holdings: %w", err)
	}
	if created > 0 {
		log.Info().Str("grove_id", groveID.String()).Int("created", created).Msg("Migrated legacy holdings")
	}
	return created, nil
}

// HoldingInput is an acquisition reported by the token sale collaborator.
type HoldingInput struct {
	GroveID     uuid.UUID `json:"grove_id"`
	InvestorID  string    `json:"investor_id"`
	TokenAmount int64     `json:"token_amount"`
	AcquiredAt  time.Time `json:"acquired_at"`
}

// RecordHolding stores one acquisition. Purchases are appended, never merged.
func (s *Service) RecordHolding(ctx context.Context, in HoldingInput) (*domain.Holding, error) {
	if in.InvestorID == "" {
		return nil, ErrInvestorRequired
	}
	if !validation.IsValidBeneficiaryID(in.InvestorID) {
		return nil, ErrInvalidInvestorID
	}
	if in.TokenAmount <= 0 {
		return nil, ErrInvalidTokenAmount
	}
	if err := s.DB.WithContext(ctx).Where("grove_id = ?", in.GroveID).First(&domain.Grove{}).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroveNotFound
		}
		return nil, err
	}
	if in.AcquiredAt.IsZero() {
		in.AcquiredAt = time.Now().UTC()
	}
	h := domain.Holding{
		GroveID:     in.GroveID,
		InvestorID:  in.InvestorID,
		TokenAmount: in.TokenAmount,
		AcquiredAt:  in.AcquiredAt,
		IsActive:    true,
	}
	if err := s.DB.WithContext(ctx).Create(&h).Error; err != nil {
		return nil, err
	}
	return &h, nil
}

// GroveInput registers a grove as the registration collaborator would.
type GroveInput struct {
	Name        string `json:"name"`
	FarmerID    string `json:"farmer_id"`
	TotalTokens int64  `json:"total_tokens"`
}

// RegisterGrove creates a grove.
func (s *Service) RegisterGrove(ctx context.Context, in GroveInput) (*domain.Grove, error) {
	if !validation.IsValidGroveName(in.Name) || !validation.IsValidBeneficiaryID(in.FarmerID) || in.TotalTokens <= 0 {
		return nil, ErrInvalidGrove
	}
	g := domain.Grove{Name: strings.TrimSpace(in.Name), FarmerID: in.FarmerID, TotalTokens: in.TotalTokens}
	if err := s.DB.WithContext(ctx).Create(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// ViewHoldings returns every holding of an investor.
func (s *Service) ViewHoldings(ctx context.Context, investorID string) ([]domain.Holding, error) {
	if investorID == "" {
		return nil, ErrInvestorRequired
	}
	var out []domain.Holding
	if err := s.DB.WithContext(ctx).
		Where("investor_id = ?", investorID).
		Order("acquired_at ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
