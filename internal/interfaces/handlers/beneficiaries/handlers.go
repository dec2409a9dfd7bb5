package beneficiaries

import (
	"errors"

	"grove-ledger/internal/application/balances"
	"grove-ledger/internal/application/claims"
	"grove-ledger/internal/application/ledger"
	"grove-ledger/internal/domain"
	"grove-ledger/internal/pkg/response"
	"grove-ledger/internal/pkg/validation"

	"github.com/gofiber/fiber/v2"
)

// Handlers serves the per-beneficiary ledger views and payouts.
type Handlers struct {
	Balances *balances.Aggregator
	Ledger   *ledger.Orchestrator
	Claims   *claims.Processor
}

// ValidateID rejects malformed :beneficiary_id params before any handler runs.
func ValidateID(c *fiber.Ctx) error {
	if !validation.IsValidBeneficiaryID(c.Params("beneficiary_id")) {
		return response.BadRequest(c, "Invalid beneficiary_id")
	}
	return c.Next()
}

// GET /api/v1/beneficiaries/:beneficiary_id/balance
func (h *Handlers) Balance(c *fiber.Ctx) error {
	out, err := h.Balances.GetBalance(c.Context(), c.Params("beneficiary_id"))
	if err != nil {
		return err
	}
	return response.Success(c, "Balance retrieved", out, nil)
}

// GET /api/v1/beneficiaries/:beneficiary_id/earnings
func (h *Handlers) Earnings(c *fiber.Ctx) error {
	out, err := h.Ledger.GetEarningsHistory(c.Context(), c.Params("beneficiary_id"))
	if err != nil {
		return err
	}
	return response.Success(c, "Earnings retrieved", out, fiber.Map{"count": len(out)})
}

// GET /api/v1/beneficiaries/:beneficiary_id/claims
func (h *Handlers) ListClaims(c *fiber.Ctx) error {
	out, err := h.Claims.ListClaims(c.Context(), c.Params("beneficiary_id"))
	if err != nil {
		return err
	}
	return response.Success(c, "Claims retrieved", out, fiber.Map{"count": len(out)})
}

// POST /api/v1/beneficiaries/:beneficiary_id/claims
func (h *Handlers) SubmitClaim(c *fiber.Ctx) error {
	var in claims.ClaimInput
	if err := c.BodyParser(&in); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	in.BeneficiaryID = c.Params("beneficiary_id")
	claim, err := h.Claims.ProcessClaim(c.Context(), in)
	return respondPayout(c, claim, err)
}

// POST /api/v1/beneficiaries/:beneficiary_id/withdrawals
func (h *Handlers) SubmitWithdrawal(c *fiber.Ctx) error {
	var in claims.WithdrawalInput
	if err := c.BodyParser(&in); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	in.BeneficiaryID = c.Params("beneficiary_id")
	claim, err := h.Claims.ProcessWithdrawal(c.Context(), in)
	return respondPayout(c, claim, err)
}

// respondPayout maps a payout to 200 (completed), 202 (outcome unknown) or 502 (declined,
// with the failed claim in details).
func respondPayout(c *fiber.Ctx, claim *domain.ClaimRequest, err error) error {
	if errors.Is(err, claims.ErrTransferFailed) && claim != nil {
		e := claims.ErrTransferFailed
		return response.Error(c, e.Code, e.Message, fiber.StatusBadGateway, fiber.Map{"claim": claim})
	}
	if err != nil {
		return err
	}
	if claim.Status == domain.ClaimCompleted {
		return response.Success(c, "Payout completed", claim, nil)
	}
	return response.Accepted(c, "Payout submitted; awaiting transfer confirmation", claim)
}
