package router

import (
	"errors"
	"net/http"
	"time"

	"grove-ledger/internal/application/balances"
	claimsvc "grove-ledger/internal/application/claims"
	harvestsvc "grove-ledger/internal/application/harvests"
	healthsvc "grove-ledger/internal/application/health"
	"grove-ledger/internal/application/holdings"
	"grove-ledger/internal/application/ledger"
	"grove-ledger/internal/config"
	"grove-ledger/internal/infrastructure/database"
	"grove-ledger/internal/infrastructure/redisclient"
	"grove-ledger/internal/infrastructure/transfer"
	adminhandler "grove-ledger/internal/interfaces/handlers/admin"
	benhandler "grove-ledger/internal/interfaces/handlers/beneficiaries"
	claimhandler "grove-ledger/internal/interfaces/handlers/claims"
	harvesthandler "grove-ledger/internal/interfaces/handlers/harvests"
	healthhandler "grove-ledger/internal/interfaces/handlers/health"
	"grove-ledger/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var errNoDatabase = errors.New("router: DATABASE_URL is required")

func CreateApp(cfg *config.Config) (*fiber.App, *gorm.DB, *redis.Client, error) {
	if cfg.DatabaseURL == "" {
		return nil, nil, nil, errNoDatabase
	}
	rdb, err := redisclient.Open(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, nil, nil, err
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.NewErrorHandler(rdb),
		EnableTrustedProxyCheck: true,
	})

	app.Use(middleware.CORS(middleware.CORSConfig{AllowedSuffix: cfg.FrontendURLEndsWith}))
	app.Use(middleware.HealthMarker(rdb))
	app.Use(middleware.Tracing())
	app.Use(middleware.RouteLogger())

	var cache balances.Cache = balances.NopCache{}
	if rdb != nil {
		cache = &balances.RedisCache{Rdb: rdb, TTL: cfg.BalanceCacheTTL}
	}
	agg := &balances.Aggregator{DB: db, Cache: cache, MaturationDelay: cfg.MaturationDelay}
	hs := &holdings.Service{DB: db}
	orch := &ledger.Orchestrator{
		DB:               db,
		Registry:         hs,
		Balances:         agg,
		FarmerShareRatio: cfg.FarmerShareRatio,
	}
	executor := &transfer.HTTPClient{
		BaseURL: cfg.TransferExecutorURL,
		Token:   cfg.TransferExecutorToken,
		Client:  &http.Client{Timeout: cfg.TransferTimeout + 5*time.Second},
	}
	proc := &claimsvc.Processor{
		DB:              db,
		Ledger:          agg,
		Executor:        executor,
		TransferTimeout: cfg.TransferTimeout,
	}
	harvests := &harvestsvc.Service{DB: db, Distributor: orch, DistributeOnReport: cfg.DistributeOnReport}

	sources := healthsvc.Sources{Rdb: rdb, DB: &database.Pinger{DB: db}, Ledger: db}
	if cfg.TransferExecutorURL != "" {
		sources.Executor = executor
	} else {
		log.Warn().Msg("TRANSFER_EXECUTOR_URL not set; every payout will be declined")
	}
	hh := &healthhandler.Handlers{Sources: sources, AdminKey: cfg.AdminKey}
	app.Get("/", hh.Dashboard)
	app.Get("/reset", hh.Reset)
	app.Get("/health/json", hh.JSON)
	app.Get("/health/errors", hh.Errors)

	api := app.Group("/api/v1")

	// Harvests
	harh := &harvesthandler.Handlers{Service: harvests, Ledger: orch}
	api.Post("/harvests", middleware.RequireAdminKey(cfg.AdminKey), harh.Report)
	api.Post("/harvests/:harvest_id/distribute", middleware.RequireAdminKey(cfg.AdminKey), harh.Distribute)
	api.Get("/harvests/:harvest_id", harh.Get)
	api.Get("/groves/:grove_id/harvests", harh.ListByGrove)

	// Beneficiaries
	limiter := middleware.NewKeyedRateLimiter(cfg.ClaimRatePerMinute)
	bh := &benhandler.Handlers{Balances: agg, Ledger: orch, Claims: proc}
	bg := api.Group("/beneficiaries/:beneficiary_id", benhandler.ValidateID)
	bg.Get("/balance", bh.Balance)
	bg.Get("/earnings", bh.Earnings)
	bg.Get("/claims", bh.ListClaims)
	bg.Post("/claims", limiter.Middleware("beneficiary_id"), bh.SubmitClaim)
	bg.Post("/withdrawals", limiter.Middleware("beneficiary_id"), bh.SubmitWithdrawal)

	// Claims
	ch := &claimhandler.Handlers{Service: proc}
	api.Get("/claims/:claim_id", ch.Get)

	// Registry
	ah := &adminhandler.Handlers{Holdings: hs, Balances: agg}
	api.Get("/investors/:investor_id/holdings", ah.ViewHoldings)

	// Admin
	ag := api.Group("/admin", middleware.RequireAdminKey(cfg.AdminKey))
	ag.Post("/groves", ah.RegisterGrove)
	ag.Post("/holdings", ah.RecordHolding)
	ag.Post("/groves/:grove_id/migrate-legacy-holdings", ah.MigrateLegacyHoldings)
	ag.Post("/beneficiaries/:beneficiary_id/unfreeze", ah.Unfreeze)
	ag.Post("/claims/:claim_id/resolve", ch.Resolve)

	return app, db, rdb, nil
}

func Handler(app *fiber.App) http.Handler {
	return adaptor.FiberApp(app)
}
