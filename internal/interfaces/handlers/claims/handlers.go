package claims

import (
	claimsvc "grove-ledger/internal/application/claims"
	"grove-ledger/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handlers serves claim lookups and operator reconciliation.
type Handlers struct {
	Service *claimsvc.Processor
}

func claimID(c *fiber.Ctx) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Params("claim_id"))
	return id, err == nil
}

// GET /api/v1/claims/:claim_id
func (h *Handlers) Get(c *fiber.Ctx) error {
	id, ok := claimID(c)
	if !ok {
		return response.BadRequest(c, "Invalid claim_id")
	}
	out, err := h.Service.GetClaim(c.Context(), id)
	if err != nil {
		return err
	}
	return response.Success(c, "Claim retrieved", out, nil)
}

// POST /api/v1/admin/claims/:claim_id/resolve
func (h *Handlers) Resolve(c *fiber.Ctx) error {
	id, ok := claimID(c)
	if !ok {
		return response.BadRequest(c, "Invalid claim_id")
	}
	var r claimsvc.Resolution
	if err := c.BodyParser(&r); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	out, err := h.Service.ResolveClaim(c.Context(), id, r)
	if err != nil {
		return err
	}
	return response.Success(c, "Claim resolved", out, nil)
}
