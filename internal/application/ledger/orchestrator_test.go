package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"grove-ledger/internal/application/balances"
	"grove-ledger/internal/application/holdings"
	"grove-ledger/internal/domain"
	"grove-ledger/internal/infrastructure/database"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var harvestDay = time.Date(2024, 9, 15, 0, 0, 0, 0, time.UTC)

type ledgerFixture struct {
	db       *gorm.DB
	orch     *Orchestrator
	holdings *holdings.Service
	balances *balances.Aggregator
	grove    *domain.Grove
}

func setupLedgerTest(t *testing.T) *ledgerFixture {
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	hs := &holdings.Service{DB: db}
	agg := &balances.Aggregator{DB: db}
	g, err := hs.RegisterGrove(context.Background(), holdings.GroveInput{Name: "Terraces", FarmerID: "farmer-1", TotalTokens: 1000})
	require.NoError(t, err)

	return &ledgerFixture{
		db:       db,
		holdings: hs,
		balances: agg,
		grove:    g,
		orch: &Orchestrator{
			DB:               db,
			Registry:         hs,
			Balances:         agg,
			FarmerShareRatio: decimal.RequireFromString("0.30"),
		},
	}
}

func (f *ledgerFixture) hold(t *testing.T, investor string, tokens int64, at time.Time) {
	_, err := f.holdings.RecordHolding(context.Background(), holdings.HoldingInput{
		GroveID: f.grove.GroveID, InvestorID: investor, TokenAmount: tokens, AcquiredAt: at,
	})
	require.NoError(t, err)
}

func (f *ledgerFixture) harvest(t *testing.T, gross int64) *domain.Harvest {
	h := domain.Harvest{GroveID: f.grove.GroveID, GrossRevenue: gross, HarvestedAt: harvestDay}
	require.NoError(t, f.db.Create(&h).Error)
	return &h
}

func (f *ledgerFixture) recordCount(t *testing.T, harvestID uuid.UUID) int64 {
	var n int64
	require.NoError(t, f.db.Model(&domain.EarningRecord{}).Where("harvest_id = ?", harvestID).Count(&n).Error)
	return n
}

func amounts(records []domain.EarningRecord) map[string]int64 {
	out := make(map[string]int64, len(records))
	for _, r := range records {
		out[r.BeneficiaryKind+":"+r.BeneficiaryID] = r.Amount
	}
	return out
}

func TestDistributeHarvest_ThousandTokenScenario(t *testing.T) {
	f := setupLedgerTest(t)
	ctx := context.Background()
	f.hold(t, "A", 100, harvestDay.Add(-72*time.Hour))
	f.hold(t, "B", 250, harvestDay.Add(-48*time.Hour))
	f.hold(t, "C", 650, harvestDay.Add(-24*time.Hour))
	h := f.harvest(t, 10000)

	res, err := f.orch.DistributeHarvest(ctx, h.HarvestID)
	require.NoError(t, err)
	assert.Equal(t, StatusDistributed, res.Status)
	assert.Equal(t, int64(3000), res.FarmerShare)
	assert.Equal(t, int64(7000), res.InvestorShare)
	assert.False(t, res.NeedsReconciliation)

	got := amounts(res.Records)
	assert.Equal(t, map[string]int64{
		"farmer:farmer-1": 3000,
		"investor:A":      700,
		"investor:B":      1750,
		"investor:C":      4550,
	}, got)

	var sum int64
	for _, r := range res.Records {
		sum += r.Amount
	}
	assert.Equal(t, h.GrossRevenue, sum)

	stored, err := f.orch.GetHarvest(ctx, h.HarvestID)
	require.NoError(t, err)
	assert.True(t, stored.Distributed)
	assert.Equal(t, domain.HarvestDistributed, stored.Status)
	assert.NotNil(t, stored.DistributedAt)
	assert.NotEmpty(t, stored.Summary)

	b, err := f.balances.GetBalance(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, int64(4550), b.Available)
}

func TestDistributeHarvest_RemainderGoesToLargestHolder(t *testing.T) {
	f := setupLedgerTest(t)
	f.orch.FarmerShareRatio = decimal.Zero
	f.hold(t, "A", 333, harvestDay.Add(-time.Hour))
	f.hold(t, "B", 333, harvestDay.Add(-time.Hour))
	f.hold(t, "C", 334, harvestDay.Add(-time.Hour))
	h := f.harvest(t, 100)

	res, err := f.orch.DistributeHarvest(context.Background(), h.HarvestID)
	require.NoError(t, err)
	got := amounts(res.Records)
	assert.Equal(t, int64(33), got["investor:A"])
	assert.Equal(t, int64(33), got["investor:B"])
	assert.Equal(t, int64(34), got["investor:C"])
	assert.Equal(t, int64(0), got["farmer:farmer-1"])
}

func TestDistributeHarvest_SequentialIdempotence(t *testing.T) {
	f := setupLedgerTest(t)
	ctx := context.Background()
	f.hold(t, "A", 500, harvestDay.Add(-time.Hour))
	h := f.harvest(t, 1000)

	first, err := f.orch.DistributeHarvest(ctx, h.HarvestID)
	require.NoError(t, err)
	assert.Equal(t, StatusDistributed, first.Status)

	second, err := f.orch.DistributeHarvest(ctx, h.HarvestID)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyDistributed, second.Status)
	assert.Len(t, second.Records, 2)
	assert.Equal(t, first.FarmerShare, second.FarmerShare)
	assert.Equal(t, int64(2), f.recordCount(t, h.HarvestID))

	b, err := f.balances.RefreshBalance(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, int64(700), b.TotalEarned)
}

func TestDistributeHarvest_ConcurrentCallsDistributeOnce(t *testing.T) {
	f := setupLedgerTest(t)
	f.hold(t, "A", 400, harvestDay.Add(-time.Hour))
	f.hold(t, "B", 600, harvestDay.Add(-time.Hour))
	h := f.harvest(t, 5000)

	const callers = 8
	var wg sync.WaitGroup
	statuses := make(chan string, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.orch.DistributeHarvest(context.Background(), h.HarvestID)
			if err != nil {
				errs <- err
				return
			}
			statuses <- res.Status
		}()
	}
	wg.Wait()
	close(statuses)
	close(errs)

	for err := range errs {
		t.Fatalf("unexpected error: %v", err)
	}
	counts := map[string]int{}
	for s := range statuses {
		counts[s]++
	}
	assert.Equal(t, 1, counts[StatusDistributed])
	assert.Equal(t, callers-1, counts[StatusAlreadyDistributed])
	assert.Equal(t, int64(3), f.recordCount(t, h.HarvestID))
}

func TestDistributeHarvest_LateAcquisitionsExcluded(t *testing.T) {
	f := setupLedgerTest(t)
	f.hold(t, "A", 100, harvestDay.Add(-time.Hour))
	f.hold(t, "A", 100, harvestDay.Add(time.Hour))
	f.hold(t, "B", 100, harvestDay.Add(time.Hour))
	h := f.harvest(t, 1000)

	res, err := f.orch.DistributeHarvest(context.Background(), h.HarvestID)
	require.NoError(t, err)
	got := amounts(res.Records)
	assert.Equal(t, int64(700), got["investor:A"])
	_, hasB := got["investor:B"]
	assert.False(t, hasB)

	for _, r := range res.Records {
		if r.BeneficiaryID == "A" {
			require.NotNil(t, r.TokenAmount)
			assert.Equal(t, int64(100), *r.TokenAmount)
		}
	}
}

func TestDistributeHarvest_NoEligibleHoldersFlagsUnallocated(t *testing.T) {
	f := setupLedgerTest(t)
	f.hold(t, "late", 100, harvestDay.Add(time.Hour))
	h := f.harvest(t, 999)

	res, err := f.orch.DistributeHarvest(context.Background(), h.HarvestID)
	require.NoError(t, err)
	assert.Equal(t, StatusDistributed, res.Status)
	assert.True(t, res.NeedsReconciliation)
	assert.Equal(t, int64(700), res.UnallocatedAmount)
	require.Len(t, res.Records, 1)
	assert.Equal(t, domain.BeneficiaryFarmer, res.Records[0].BeneficiaryKind)
	assert.Equal(t, int64(299), res.Records[0].Amount)

	stored, err := f.orch.GetHarvest(context.Background(), h.HarvestID)
	require.NoError(t, err)
	assert.True(t, stored.NeedsReconciliation)
	assert.Equal(t, int64(700), stored.UnallocatedAmount)
}

func TestDistributeHarvest_MigratesLegacyHoldersFirst(t *testing.T) {
	f := setupLedgerTest(t)
	require.NoError(t, f.db.Create(&domain.LegacyHolding{
		ID: "legacy-7", GroveID: f.grove.GroveID, WalletID: "0.0.7", Tokens: 1000,
		PurchasedAt: harvestDay.Add(-24 * time.Hour), Active: true,
	}).Error)
	h := f.harvest(t, 100)

	res, err := f.orch.DistributeHarvest(context.Background(), h.HarvestID)
	require.NoError(t, err)
	assert.Equal(t, int64(70), amounts(res.Records)["investor:0.0.7"])

	var migrated int64
	require.NoError(t, f.db.Model(&domain.Holding{}).Where("legacy_source_id = ?", "legacy-7").Count(&migrated).Error)
	assert.Equal(t, int64(1), migrated)
}

func TestDistributeHarvest_LegacyRowOfCurrentHolderIsIgnored(t *testing.T) {
	f := setupLedgerTest(t)
	f.hold(t, "A", 500, harvestDay.Add(-48*time.Hour))
	f.hold(t, "B", 500, harvestDay.Add(-48*time.Hour))
	require.NoError(t, f.db.Create(&domain.LegacyHolding{
		ID: "legacy-a", GroveID: f.grove.GroveID, WalletID: "A", Tokens: 500,
		PurchasedAt: harvestDay.Add(-72 * time.Hour), Active: true,
	}).Error)
	h := f.harvest(t, 1000)

	res, err := f.orch.DistributeHarvest(context.Background(), h.HarvestID)
	require.NoError(t, err)
	got := amounts(res.Records)
	assert.Equal(t, int64(350), got["investor:A"])
	assert.Equal(t, int64(350), got["investor:B"])
	assert.Equal(t, int64(300), got["farmer:farmer-1"])

	var migrated int64
	require.NoError(t, f.db.Model(&domain.Holding{}).Where("legacy_source_id IS NOT NULL").Count(&migrated).Error)
	assert.Zero(t, migrated)
}

type flakyRegistry struct {
	holdings.Registry
	failures int
}

func (r *flakyRegistry) ListActiveHoldings(ctx context.Context, groveID uuid.UUID) ([]domain.Holding, error) {
	if r.failures > 0 {
		r.failures--
		return nil, errors.New("holdings store unavailable")
	}
	return r.Registry.ListActiveHoldings(ctx, groveID)
}

func TestDistributeHarvest_FailureLeavesHarvestRetryable(t *testing.T) {
	f := setupLedgerTest(t)
	ctx := context.Background()
	f.hold(t, "A", 10, harvestDay.Add(-time.Hour))
	f.orch.Registry = &flakyRegistry{Registry: f.holdings, failures: 1}
	h := f.harvest(t, 100)

	_, err := f.orch.DistributeHarvest(ctx, h.HarvestID)
	require.Error(t, err)

	stored, err := f.orch.GetHarvest(ctx, h.HarvestID)
	require.NoError(t, err)
	assert.False(t, stored.Distributed)
	assert.Equal(t, domain.HarvestFailed, stored.Status)
	require.NotNil(t, stored.LastError)
	assert.Contains(t, *stored.LastError, "unavailable")
	assert.Equal(t, int64(0), f.recordCount(t, h.HarvestID))

	res, err := f.orch.DistributeHarvest(ctx, h.HarvestID)
	require.NoError(t, err)
	assert.Equal(t, StatusDistributed, res.Status)

	stored, err = f.orch.GetHarvest(ctx, h.HarvestID)
	require.NoError(t, err)
	assert.Nil(t, stored.LastError)
}

func TestDistributeHarvest_InsertFailureRollsBackLatch(t *testing.T) {
	f := setupLedgerTest(t)
	ctx := context.Background()
	h := f.harvest(t, 100)

	// a stray record occupying the farmer's unique slot makes the batch insert fail
	require.NoError(t, f.db.Create(&domain.EarningRecord{
		BeneficiaryID: "farmer-1", BeneficiaryKind: domain.BeneficiaryFarmer,
		HarvestID: h.HarvestID, GroveID: f.grove.GroveID, Amount: 1,
	}).Error)

	_, err := f.orch.DistributeHarvest(ctx, h.HarvestID)
	require.Error(t, err)

	stored, err := f.orch.GetHarvest(ctx, h.HarvestID)
	require.NoError(t, err)
	assert.False(t, stored.Distributed, "latch must roll back with the records")
	assert.Equal(t, domain.HarvestFailed, stored.Status)
	assert.Equal(t, int64(0), stored.FarmerShare)
	assert.Equal(t, int64(1), f.recordCount(t, h.HarvestID))
}

func TestDistributeHarvest_NotFound(t *testing.T) {
	f := setupLedgerTest(t)
	_, err := f.orch.DistributeHarvest(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, ErrHarvestNotFound))
}

func TestGetEarningsHistory_NewestFirst(t *testing.T) {
	f := setupLedgerTest(t)
	ctx := context.Background()
	f.hold(t, "A", 10, harvestDay.Add(-time.Hour))

	clock := harvestDay
	f.orch.Now = func() time.Time { return clock }
	first := f.harvest(t, 100)
	_, err := f.orch.DistributeHarvest(ctx, first.HarvestID)
	require.NoError(t, err)
	second := f.harvest(t, 200)
	_, err = f.orch.DistributeHarvest(ctx, second.HarvestID)
	require.NoError(t, err)

	// pin creation times so ordering does not depend on clock resolution
	require.NoError(t, f.db.Model(&domain.EarningRecord{}).Where("harvest_id = ?", first.HarvestID).
		Update("created_at", harvestDay.Add(time.Hour)).Error)
	require.NoError(t, f.db.Model(&domain.EarningRecord{}).Where("harvest_id = ?", second.HarvestID).
		Update("created_at", harvestDay.Add(2*time.Hour)).Error)

	history, err := f.orch.GetEarningsHistory(ctx, "A")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.HarvestID, history[0].HarvestID)
	assert.Equal(t, int64(140), history[0].Amount)

	_, err = f.orch.GetEarningsHistory(ctx, "")
	assert.True(t, errors.Is(err, ErrBeneficiaryEmpty))
}
