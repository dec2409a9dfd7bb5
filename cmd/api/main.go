package main

import (
	"context"
	"os"

	"grove-ledger/internal/config"
	"grove-ledger/internal/infrastructure/database"
	"grove-ledger/internal/infrastructure/redisclient"
	"grove-ledger/internal/interfaces/router"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load")
	}
	setupLogging(cfg)

	app, db, rdb, err := router.CreateApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("app create")
	}

	if err := (&database.Pinger{DB: db}).Ping(); err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	log.Info().Msg("Database connected")
	if rdb != nil {
		if err := redisclient.Ping(context.Background(), rdb); err != nil {
			log.Fatal().Err(err).Msg("Redis connection failed")
		}
		log.Info().Msg("Redis connected")
	} else {
		log.Warn().Msg("REDIS_URL not set; balance cache and health counters disabled")
	}

	log.Info().
		Str("port", cfg.Port).
		Str("env", cfg.Env).
		Str("farmer_share_ratio", cfg.FarmerShareRatio.String()).
		Dur("maturation_delay", cfg.MaturationDelay).
		Msg("Server starting")
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("listen")
	}
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}
