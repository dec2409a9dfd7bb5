package health

import (
	"context"
	"encoding/json"
	"runtime"
	"strconv"
	"time"

	"grove-ledger/internal/domain"
	"grove-ledger/internal/middleware"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// DBPinger is optional for health check. If nil, database is reported as disconnected.
type DBPinger interface {
	Ping() error
}

// ExecutorPinger reports whether the transfer executor answers.
type ExecutorPinger interface {
	Ping(ctx context.Context) error
}

// Sources are the dependencies CollectHealth probes. Any of them may be nil.
type Sources struct {
	Rdb      *redis.Client
	DB       DBPinger
	Executor ExecutorPinger
	Ledger   *gorm.DB
}

// CollectResult is the payload of /health/json and the dashboard.
type CollectResult struct {
	Status       string               `json:"status"`
	Runtime      RuntimeInfo          `json:"runtime"`
	Traffic      TrafficInfo          `json:"traffic"`
	Dependencies map[string]DepStatus `json:"dependencies"`
	Ledger       *LedgerStats         `json:"ledger,omitempty"`
}

type RuntimeInfo struct {
	UptimeSeconds int64      `json:"uptimeSeconds"`
	Memory        MemoryInfo `json:"memory"`
	Goroutines    int        `json:"goroutines"`
	Platform      string     `json:"platform"`
	GoVersion     string     `json:"goVersion"`
}

type MemoryInfo struct {
	RSS      int `json:"rss"`
	HeapUsed int `json:"heapUsed"`
}

type TrafficInfo struct {
	TotalRequests   int         `json:"totalRequests"`
	SuccessCount    int         `json:"successCount"`
	FailedCount     int         `json:"failedCount"`
	SuccessRate     string      `json:"successRate"`
	AvgResponseTime interface{} `json:"avgResponseTime"`
	LastRequest     interface{} `json:"lastRequest"`
}

type DepStatus struct {
	Status string      `json:"status"`
	PingMs interface{} `json:"pingMs"`
}

// LedgerStats counts the things an operator has to reconcile by hand.
type LedgerStats struct {
	ProcessingClaims      int64 `json:"processingClaims"`
	FailedHarvests        int64 `json:"failedHarvests"`
	UnallocatedHarvests   int64 `json:"unallocatedHarvests"`
	FrozenBeneficiaries   int64 `json:"frozenBeneficiaries"`
	UndistributedHarvests int64 `json:"undistributedHarvests"`
}

// CollectHealth gathers health data from Redis, the database and the transfer executor.
func CollectHealth(ctx context.Context, src Sources) CollectResult {
	result := CollectResult{
		Dependencies: make(map[string]DepStatus),
	}

	dbStatus := "disconnected"
	var dbPingMs *int64
	if src.DB != nil {
		start := time.Now()
		if err := src.DB.Ping(); err == nil {
			ms := time.Since(start).Milliseconds()
			dbPingMs = &ms
			dbStatus = "connected"
		} else {
			dbStatus = "error"
		}
	}
	result.Dependencies["database"] = DepStatus{Status: dbStatus, PingMs: dbPingMs}

	redisStatus := "disconnected"
	var redisPingMs *int64
	stats := TrafficInfo{AvgResponseTime: 0, SuccessRate: "100"}
	startTimeMs := time.Now().UnixMilli()

	if rdb := src.Rdb; rdb != nil {
		start := time.Now()
		if err := rdb.Ping(ctx).Err(); err == nil {
			ms := time.Since(start).Milliseconds()
			redisPingMs = &ms
			redisStatus = "connected"

			totalReq, _ := rdb.Get(ctx, middleware.KeyReqTotal).Result()
			totalErr, _ := rdb.Get(ctx, middleware.KeyReqErrors).Result()
			totalTime, _ := rdb.Get(ctx, middleware.KeyResTime).Result()
			resCount, _ := rdb.Get(ctx, middleware.KeyResCount).Result()
			startTimeStr, _ := rdb.Get(ctx, middleware.KeyStartTime).Result()
			lastReqStr, _ := rdb.Get(ctx, middleware.KeyLastReq).Result()

			if startTimeStr != "" {
				if t, err := strconv.ParseInt(startTimeStr, 10, 64); err == nil {
					startTimeMs = t
				}
			} else {
				rdb.Set(ctx, middleware.KeyStartTime, startTimeMs, 0)
			}

			stats.TotalRequests, _ = strconv.Atoi(totalReq)
			stats.FailedCount, _ = strconv.Atoi(totalErr)
			stats.SuccessCount = stats.TotalRequests - stats.FailedCount
			if stats.TotalRequests > 0 {
				stats.SuccessRate = strconv.FormatFloat(float64(stats.SuccessCount)/float64(stats.TotalRequests)*100, 'f', 1, 64)
			}
			timeSum, _ := strconv.ParseFloat(totalTime, 64)
			countSum, _ := strconv.Atoi(resCount)
			if countSum > 0 {
				stats.AvgResponseTime = strconv.FormatFloat(timeSum/float64(countSum), 'f', 2, 64)
			}
			if lastReqStr != "" {
				var lastReq map[string]interface{}
				_ = json.Unmarshal([]byte(lastReqStr), &lastReq)
				stats.LastRequest = lastReq
			}
		} else {
			redisStatus = "error"
		}
	}
	result.Dependencies["redis"] = DepStatus{Status: redisStatus, PingMs: redisPingMs}
	result.Traffic = stats

	execStatus := "unconfigured"
	var execPingMs *int64
	if src.Executor != nil {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		start := time.Now()
		if err := src.Executor.Ping(pctx); err == nil {
			ms := time.Since(start).Milliseconds()
			execPingMs = &ms
			execStatus = "reachable"
		} else {
			execStatus = "unreachable"
		}
		cancel()
	}
	result.Dependencies["transfer_executor"] = DepStatus{Status: execStatus, PingMs: execPingMs}

	if src.Ledger != nil && dbStatus == "connected" {
		if ls, err := collectLedgerStats(ctx, src.Ledger); err == nil {
			result.Ledger = ls
		}
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	uptimeSec := (time.Now().UnixMilli() - startTimeMs) / 1000
	if uptimeSec < 0 {
		uptimeSec = 0
	}
	result.Runtime = RuntimeInfo{
		UptimeSeconds: uptimeSec,
		Memory:        MemoryInfo{RSS: int(m.Sys / 1024 / 1024), HeapUsed: int(m.HeapInuse / 1024 / 1024)},
		Goroutines:    runtime.NumGoroutine(),
		Platform:      runtime.GOOS + " (" + runtime.GOARCH + ")",
		GoVersion:     runtime.Version(),
	}

	if dbStatus == "connected" && redisStatus == "connected" && execStatus != "unreachable" {
		result.Status = "ok"
	} else {
		result.Status = "issue"
	}
	return result
}

func collectLedgerStats(ctx context.Context, db *gorm.DB) (*LedgerStats, error) {
	db = db.WithContext(ctx)
	var s LedgerStats
	if err := db.Model(&domain.ClaimRequest{}).Where("status = ?", domain.ClaimProcessing).Count(&s.ProcessingClaims).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.Harvest{}).Where("status = ?", domain.HarvestFailed).Count(&s.FailedHarvests).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.Harvest{}).Where("needs_reconciliation = ?", true).Count(&s.UnallocatedHarvests).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.Harvest{}).Where("distributed = ?", false).Count(&s.UndistributedHarvests).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&domain.BeneficiaryAccount{}).Where("frozen = ?", true).Count(&s.FrozenBeneficiaries).Error; err != nil {
		return nil, err
	}
	return &s, nil
}
