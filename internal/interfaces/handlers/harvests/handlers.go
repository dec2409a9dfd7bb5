package harvests

import (
	harvestsvc "grove-ledger/internal/application/harvests"
	"grove-ledger/internal/application/ledger"
	"grove-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handlers serves harvest reporting and distribution.
type Handlers struct {
	Service *harvestsvc.Service
	Ledger  *ledger.Orchestrator
}

// POST /api/v1/harvests
func (h *Handlers) Report(c *fiber.Ctx) error {
	var in harvestsvc.ReportInput
	if err := c.BodyParser(&in); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	out, err := h.Service.ReportHarvest(c.Context(), in)
	if err != nil {
		return err
	}
	return response.SuccessCreated(c, "Harvest reported", out, nil)
}

// POST /api/v1/harvests/:harvest_id/distribute
func (h *Handlers) Distribute(c *fiber.Ctx) error {
	harvestID, err := uuid.Parse(c.Params("harvest_id"))
	if err != nil {
		return response.BadRequest(c, "Invalid harvest_id")
	}
	out, err := h.Ledger.DistributeHarvest(c.Context(), harvestID)
	if err != nil {
		return err
	}
	msg := "Harvest distributed"
	if out.Status == ledger.StatusAlreadyDistributed {
		msg = "Harvest already distributed"
	}
	return response.Success(c, msg, out, nil)
}

// GET /api/v1/harvests/:harvest_id
func (h *Handlers) Get(c *fiber.Ctx) error {
	harvestID, err := uuid.Parse(c.Params("harvest_id"))
	if err != nil {
		return response.BadRequest(c, "Invalid harvest_id")
	}
	out, err := h.Ledger.GetHarvest(c.Context(), harvestID)
	if err != nil {
		return err
	}
	return response.Success(c, "Harvest retrieved", out, nil)
}

// GET /api/v1/groves/:grove_id/harvests
func (h *Handlers) ListByGrove(c *fiber.Ctx) error {
	groveID, err := uuid.Parse(c.Params("grove_id"))
	if err != nil {
		return response.BadRequest(c, "Invalid grove_id")
	}
	out, err := h.Service.ListHarvests(c.Context(), groveID)
	if err != nil {
		return err
	}
	return response.Success(c, "Harvests retrieved", out, fiber.Map{"count": len(out)})
}
