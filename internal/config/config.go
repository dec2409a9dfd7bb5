package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds application configuration (env + Viper).
type Config struct {
	Env                   string
	Port                  string
	LogLevel              string
	DatabaseURL           string
	RedisURL              string
	AdminKey              string          // X-Admin-Key for reconciliation routes and /reset
	FarmerShareRatio      decimal.Decimal // share of gross revenue paid to the grove's farmer
	MaturationDelay       time.Duration   // 0 = earnings claimable immediately
	TransferExecutorURL   string
	TransferExecutorToken string
	TransferTimeout       time.Duration
	BalanceCacheTTL       time.Duration
	DistributeOnReport    bool
	ClaimRatePerMinute    int
	FrontendURLEndsWith   string // CORS: allowed browser origin suffix
}

const defaultFarmerShareRatio = "0.30"

// Load loads config from env and optional .env file.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	_ = viper.ReadInConfig()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("FARMER_SHARE_RATIO", defaultFarmerShareRatio)
	viper.SetDefault("MATURATION_DELAY", "0s")
	viper.SetDefault("TRANSFER_TIMEOUT", "15s")
	viper.SetDefault("BALANCE_CACHE_TTL", "5m")
	viper.SetDefault("DISTRIBUTE_ON_REPORT", true)
	viper.SetDefault("CLAIM_RATE_PER_MINUTE", 6)

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	dbURL := viper.GetString("DATABASE_URL_DEV")
	if env == "production" {
		dbURL = viper.GetString("DATABASE_URL_PROD")
	} else if env == "test" {
		dbURL = viper.GetString("DATABASE_URL_TEST")
	}
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}

	ratio, err := ParseShareRatio(viper.GetString("FARMER_SHARE_RATIO"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Env:                   env,
		Port:                  viper.GetString("PORT"),
		LogLevel:              viper.GetString("LOG_LEVEL"),
		DatabaseURL:           dbURL,
		RedisURL:              viper.GetString("REDIS_URL"),
		AdminKey:              viper.GetString("ADMIN_KEY"),
		FarmerShareRatio:      ratio,
		MaturationDelay:       viper.GetDuration("MATURATION_DELAY"),
		TransferExecutorURL:   strings.TrimRight(viper.GetString("TRANSFER_EXECUTOR_URL"), "/"),
		TransferExecutorToken: viper.GetString("TRANSFER_EXECUTOR_TOKEN"),
		TransferTimeout:       viper.GetDuration("TRANSFER_TIMEOUT"),
		BalanceCacheTTL:       viper.GetDuration("BALANCE_CACHE_TTL"),
		DistributeOnReport:    viper.GetBool("DISTRIBUTE_ON_REPORT"),
		ClaimRatePerMinute:    viper.GetInt("CLAIM_RATE_PER_MINUTE"),
		FrontendURLEndsWith:   viper.GetString("FRONTEND_URL_ENDS_WITH"),
	}, nil
}

// ParseShareRatio parses a decimal ratio and requires it to be within [0, 1].
func ParseShareRatio(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		s = defaultFarmerShareRatio
	}
	ratio, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: FARMER_SHARE_RATIO %q: %w", s, err)
	}
	if ratio.IsNegative() || ratio.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("config: FARMER_SHARE_RATIO %q must be between 0 and 1", s)
	}
	return ratio, nil
}
