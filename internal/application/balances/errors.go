package balances

import "grove-ledger/internal/pkg/apperror"

var (
	ErrBeneficiaryRequired = apperror.New(apperror.KindValidation, "beneficiary_required", "beneficiary_id is required")
	ErrInvariantViolation  = apperror.New(apperror.KindInvariant, "invariant_violation", "Ledger invariant violated; beneficiary frozen until reconciled")
	ErrBeneficiaryFrozen   = apperror.New(apperror.KindInvariant, "beneficiary_frozen", "Beneficiary is frozen pending reconciliation")
	ErrAccountNotFound     = apperror.New(apperror.KindNotFound, "account_not_found", "Beneficiary account not found")
)
