package harvests

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	harvestsvc "grove-ledger/internal/application/harvests"
	"grove-ledger/internal/application/holdings"
	"grove-ledger/internal/application/ledger"
	"grove-ledger/internal/domain"
	"grove-ledger/internal/infrastructure/database"
	"grove-ledger/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHarvestTest(t *testing.T, distributeOnReport bool) (*fiber.App, *domain.Grove) {
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	hs := &holdings.Service{DB: db}
	grove, err := hs.RegisterGrove(context.Background(), holdings.GroveInput{Name: "Ridge", FarmerID: "farmer-9", TotalTokens: 100})
	require.NoError(t, err)

	orch := &ledger.Orchestrator{DB: db, Registry: hs, FarmerShareRatio: decimal.RequireFromString("0.30")}
	h := &Handlers{
		Service: &harvestsvc.Service{DB: db, Distributor: orch, DistributeOnReport: distributeOnReport},
		Ledger:  orch,
	}
	app := fiber.New(fiber.Config{ErrorHandler: middleware.NewErrorHandler(nil)})
	app.Post("/harvests", h.Report)
	app.Post("/harvests/:harvest_id/distribute", h.Distribute)
	app.Get("/harvests/:harvest_id", h.Get)
	app.Get("/groves/:grove_id/harvests", h.ListByGrove)
	return app, grove
}

func send(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]interface{}) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &out))
	return resp.StatusCode, out
}

func TestReport_ThenDistribute(t *testing.T) {
	app, grove := setupHarvestTest(t, false)

	status, body := send(t, app, "POST", "/harvests",
		`{"grove_id":"`+grove.GroveID.String()+`","gross_revenue":1000,"harvested_at":"2024-05-01T00:00:00Z"}`)
	require.Equal(t, fiber.StatusCreated, status)
	harvest := body["data"].(map[string]interface{})["harvest"].(map[string]interface{})
	assert.Equal(t, "reported", harvest["status"])
	id := harvest["harvest_id"].(string)

	status, body = send(t, app, "POST", "/harvests/"+id+"/distribute", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Harvest distributed", body["message"])
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(300), data["farmer_share"])
	assert.Equal(t, float64(700), data["unallocated_amount"])
	assert.Equal(t, true, data["needs_reconciliation"])

	status, body = send(t, app, "POST", "/harvests/"+id+"/distribute", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Harvest already distributed", body["message"])

	status, body = send(t, app, "GET", "/harvests/"+id, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "distributed", body["data"].(map[string]interface{})["status"])

	status, body = send(t, app, "GET", "/groves/"+grove.GroveID.String()+"/harvests", "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"], 1)
}

func TestReport_DistributesOnReport(t *testing.T) {
	app, grove := setupHarvestTest(t, true)
	status, body := send(t, app, "POST", "/harvests",
		`{"grove_id":"`+grove.GroveID.String()+`","gross_revenue":500,"harvested_at":"2024-05-01T00:00:00Z"}`)
	require.Equal(t, fiber.StatusCreated, status)
	dist := body["data"].(map[string]interface{})["distribution"].(map[string]interface{})
	assert.Equal(t, "distributed", dist["status"])
}

func TestReport_Errors(t *testing.T) {
	app, _ := setupHarvestTest(t, false)

	status, body := send(t, app, "POST", "/harvests", `{"gross_revenue":10}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "grove_required", body["error"].(map[string]interface{})["code"])

	status, body = send(t, app, "POST", "/harvests", `{"grove_id":"7d444840-9dc0-11d1-b245-5ffdce74fad2","gross_revenue":10}`)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "grove_not_found", body["error"].(map[string]interface{})["code"])

	status, _ = send(t, app, "POST", "/harvests/nope/distribute", "")
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, body = send(t, app, "POST", "/harvests/7d444840-9dc0-11d1-b245-5ffdce74fad2/distribute", "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "harvest_not_found", body["error"].(map[string]interface{})["code"])
}
