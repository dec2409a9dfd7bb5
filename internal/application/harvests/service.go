package harvests

import (
	"context"
	"errors"
	"time"

	"grove-ledger/internal/application/ledger"
	"grove-ledger/internal/domain"
	"grove-ledger/internal/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var (
	ErrGroveRequired    = apperror.New(apperror.KindValidation, "grove_required", "grove_id is required")
	ErrGroveNotFound    = apperror.New(apperror.KindNotFound, "grove_not_found", "Grove not found")
	ErrNegativeRevenue  = apperror.New(apperror.KindValidation, "invalid_revenue", "gross_revenue cannot be negative")
	ErrHarvestedAtLater = apperror.New(apperror.KindValidation, "invalid_harvested_at", "harvested_at cannot be in the future")
)

// Distributor is the part of the ledger harvest reporting triggers.
type Distributor interface {
	DistributeHarvest(ctx context.Context, harvestID uuid.UUID) (*ledger.DistributionResult, error)
}

// Service records reported harvests and, when configured, distributes them right away.
type Service struct {
	DB                 *gorm.DB
	Distributor        Distributor
	DistributeOnReport bool
}

// ReportInput is a harvest as reported by the grove operator.
type ReportInput struct {
	GroveID      uuid.UUID `json:"grove_id"`
	GrossRevenue int64     `json:"gross_revenue"`
	HarvestedAt  time.Time `json:"harvested_at"`
}

// ReportResult holds the stored harvest and, if distribution ran, its outcome.
type ReportResult struct {
	Harvest      *domain.Harvest            `json:"harvest"`
	Distribution *ledger.DistributionResult `json:"distribution,omitempty"`
}

// ReportHarvest stores the harvest as reported. A distribution failure does not undo the
// report: the harvest stays failed and can be distributed again.
func (s *Service) ReportHarvest(ctx context.Context, in ReportInput) (*ReportResult, error) {
	if in.GroveID == uuid.Nil {
		return nil, ErrGroveRequired
	}
	if in.GrossRevenue < 0 {
		return nil, ErrNegativeRevenue
	}
	now := time.Now().UTC()
	if in.HarvestedAt.IsZero() {
		in.HarvestedAt = now
	}
	if in.HarvestedAt.After(now.Add(time.Minute)) {
		return nil, ErrHarvestedAtLater
	}

	db := s.DB.WithContext(ctx)
	if err := db.Where("grove_id = ?", in.GroveID).First(&domain.Grove{}).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrGroveNotFound
		}
		return nil, err
	}

	h := domain.Harvest{
		GroveID:      in.GroveID,
		GrossRevenue: in.GrossRevenue,
		HarvestedAt:  in.HarvestedAt,
		Status:       domain.HarvestReported,
	}
	if err := db.Create(&h).Error; err != nil {
		return nil, err
	}
	log.Info().
		Str("harvest_id", h.HarvestID.String()).
		Str("grove_id", h.GroveID.String()).
		Int64("gross_revenue", h.GrossRevenue).
		Msg("Harvest reported")

	out := &ReportResult{Harvest: &h}
	if !s.DistributeOnReport || s.Distributor == nil {
		return out, nil
	}
	res, err := s.Distributor.DistributeHarvest(ctx, h.HarvestID)
	if err != nil {
		return out, err
	}
	out.Distribution = res
	if err := db.Where("harvest_id = ?", h.HarvestID).First(out.Harvest).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListHarvests returns a grove's harvests, most recent first.
func (s *Service) ListHarvests(ctx context.Context, groveID uuid.UUID) ([]domain.Harvest, error) {
	if groveID == uuid.Nil {
		return nil, ErrGroveRequired
	}
	var out []domain.Harvest
	if err := s.DB.WithContext(ctx).
		Where("grove_id = ?", groveID).
		Order("harvested_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
