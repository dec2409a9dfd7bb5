package harvests

import (
	"context"
	"errors"
	"testing"
	"time"

	"grove-ledger/internal/application/holdings"
	"grove-ledger/internal/application/ledger"
	"grove-ledger/internal/domain"
	"grove-ledger/internal/infrastructure/database"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupHarvestsTest(t *testing.T) (*Service, *gorm.DB, *domain.Grove) {
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	hs := &holdings.Service{DB: db}
	g, err := hs.RegisterGrove(context.Background(), holdings.GroveInput{Name: "Ridge", FarmerID: "farmer-9", TotalTokens: 100})
	require.NoError(t, err)
	_, err = hs.RecordHolding(context.Background(), holdings.HoldingInput{
		GroveID: g.GroveID, InvestorID: "A", TokenAmount: 100, AcquiredAt: time.Now().Add(-48 * time.Hour),
	})
	require.NoError(t, err)

	orch := &ledger.Orchestrator{DB: db, Registry: hs, FarmerShareRatio: decimal.RequireFromString("0.25")}
	return &Service{DB: db, Distributor: orch, DistributeOnReport: true}, db, g
}

func TestReportHarvest_DistributesWhenConfigured(t *testing.T) {
	svc, db, g := setupHarvestsTest(t)

	res, err := svc.ReportHarvest(context.Background(), ReportInput{GroveID: g.GroveID, GrossRevenue: 1000, HarvestedAt: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.NotNil(t, res.Distribution)
	assert.Equal(t, ledger.StatusDistributed, res.Distribution.Status)
	assert.True(t, res.Harvest.Distributed)
	assert.Equal(t, int64(250), res.Harvest.FarmerShare)

	var n int64
	require.NoError(t, db.Model(&domain.EarningRecord{}).Where("harvest_id = ?", res.Harvest.HarvestID).Count(&n).Error)
	assert.Equal(t, int64(2), n)
}

func TestReportHarvest_ReportOnly(t *testing.T) {
	svc, _, g := setupHarvestsTest(t)
	svc.DistributeOnReport = false

	res, err := svc.ReportHarvest(context.Background(), ReportInput{GroveID: g.GroveID, GrossRevenue: 10})
	require.NoError(t, err)
	assert.Nil(t, res.Distribution)
	assert.Equal(t, domain.HarvestReported, res.Harvest.Status)
	assert.False(t, res.Harvest.Distributed)

	list, err := svc.ListHarvests(context.Background(), g.GroveID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestReportHarvest_Validation(t *testing.T) {
	svc, _, g := setupHarvestsTest(t)
	ctx := context.Background()

	_, err := svc.ReportHarvest(ctx, ReportInput{GrossRevenue: 1})
	assert.True(t, errors.Is(err, ErrGroveRequired))
	_, err = svc.ReportHarvest(ctx, ReportInput{GroveID: g.GroveID, GrossRevenue: -1})
	assert.True(t, errors.Is(err, ErrNegativeRevenue))
	_, err = svc.ReportHarvest(ctx, ReportInput{GroveID: g.GroveID, HarvestedAt: time.Now().Add(24 * time.Hour)})
	assert.True(t, errors.Is(err, ErrHarvestedAtLater))
	_, err = svc.ReportHarvest(ctx, ReportInput{GroveID: uuid.New(), GrossRevenue: 1})
	assert.True(t, errors.Is(err, ErrGroveNotFound))
}
