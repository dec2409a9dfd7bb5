package admin

import (
	"grove-ledger/internal/application/balances"
	"grove-ledger/internal/application/holdings"
	"grove-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handlers serves registry maintenance and account recovery. Write routes are mounted
// behind RequireAdminKey.
type Handlers struct {
	Holdings *holdings.Service
	Balances *balances.Aggregator
}

// POST /api/v1/admin/groves
func (h *Handlers) RegisterGrove(c *fiber.Ctx) error {
	var in holdings.GroveInput
	if err := c.BodyParser(&in); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	out, err := h.Holdings.RegisterGrove(c.Context(), in)
	if err != nil {
		return err
	}
	return response.SuccessCreated(c, "Grove registered", out, nil)
}

// POST /api/v1/admin/holdings
func (h *Handlers) RecordHolding(c *fiber.Ctx) error {
	var in holdings.HoldingInput
	if err := c.BodyParser(&in); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	out, err := h.Holdings.RecordHolding(c.Context(), in)
	if err != nil {
		return err
	}
	return response.SuccessCreated(c, "Holding recorded", out, nil)
}

// POST /api/v1/admin/groves/:grove_id/migrate-legacy-holdings
func (h *Handlers) MigrateLegacyHoldings(c *fiber.Ctx) error {
	groveID, err := uuid.Parse(c.Params("grove_id"))
	if err != nil {
		return response.BadRequest(c, "Invalid grove_id")
	}
	n, err := h.Holdings.MigrateLegacyHoldings(c.Context(), groveID)
	if err != nil {
		return err
	}
	return response.Success(c, "Legacy holdings migrated", fiber.Map{"migrated": n}, nil)
}

// POST /api/v1/admin/beneficiaries/:beneficiary_id/unfreeze
func (h *Handlers) Unfreeze(c *fiber.Ctx) error {
	out, err := h.Balances.Unfreeze(c.Context(), c.Params("beneficiary_id"))
	if err != nil {
		return err
	}
	return response.Success(c, "Beneficiary unfrozen", out, nil)
}

// GET /api/v1/investors/:investor_id/holdings
func (h *Handlers) ViewHoldings(c *fiber.Ctx) error {
	out, err := h.Holdings.ViewHoldings(c.Context(), c.Params("investor_id"))
	if err != nil {
		return err
	}
	return response.Success(c, "Holdings retrieved", out, fiber.Map{"count": len(out)})
}
