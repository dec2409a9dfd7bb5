package distribution

import "grove-ledger/internal/pkg/apperror"

var (
	ErrNegativeRevenue      = apperror.New(apperror.KindValidation, "invalid_revenue", "Harvest revenue cannot be negative")
	ErrInvalidShareRatio    = apperror.New(apperror.KindValidation, "invalid_share_ratio", "Farmer share ratio must be between 0 and 1")
	ErrInvalidTokenAmount   = apperror.New(apperror.KindValidation, "invalid_token_amount", "Holder token amount must be positive")
	ErrTokenOverflow        = apperror.New(apperror.KindValidation, "token_overflow", "Eligible token total exceeds the supported range")
	ErrDuplicateBeneficiary = apperror.New(apperror.KindValidation, "duplicate_beneficiary", "Holder set contains a beneficiary more than once")
)
