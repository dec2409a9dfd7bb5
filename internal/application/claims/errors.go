package claims

import "grove-ledger/internal/pkg/apperror"

var (
	ErrBeneficiaryRequired    = apperror.New(apperror.KindValidation, "beneficiary_required", "beneficiary_id is required")
	ErrRecordsRequired        = apperror.New(apperror.KindValidation, "records_required", "At least one earning record id is required")
	ErrDuplicateRecord        = apperror.New(apperror.KindValidation, "duplicate_record", "Earning record ids must be unique")
	ErrInvalidAmount          = apperror.New(apperror.KindValidation, "invalid_amount", "Amount must be positive")
	ErrAmountMismatch         = apperror.New(apperror.KindValidation, "amount_mismatch", "Amount does not match the referenced earning records")
	ErrRecordNotFound         = apperror.New(apperror.KindNotFound, "record_not_found", "Earning record not found")
	ErrRecordNotOwned         = apperror.New(apperror.KindValidation, "record_not_owned", "Earning record belongs to another beneficiary")
	ErrRecordNotClaimable     = apperror.New(apperror.KindValidation, "record_not_claimable", "Farmer earnings are paid out through withdrawals")
	ErrRecordAlreadyClaimed   = apperror.New(apperror.KindState, "record_already_claimed", "Earning record already claimed")
	ErrClaimInProgress        = apperror.New(apperror.KindState, "claim_in_progress", "A claim over these earnings is already in progress")
	ErrEarningNotMature       = apperror.New(apperror.KindState, "earning_not_mature", "Earning record is not yet available for claiming")
	ErrNoFarmerEarnings       = apperror.New(apperror.KindValidation, "no_farmer_earnings", "Withdrawals pay out farmer earnings; claim investor earnings by record")
	ErrInsufficientBalance    = apperror.New(apperror.KindState, "insufficient_balance", "Insufficient available balance")
	ErrConcurrentModification = apperror.New(apperror.KindState, "concurrent_modification", "Another payout for this beneficiary was submitted concurrently; retry")
	ErrClaimNotFound          = apperror.New(apperror.KindNotFound, "claim_not_found", "Claim not found")
	ErrClaimNotResolvable     = apperror.New(apperror.KindState, "claim_not_resolvable", "Only requested or processing claims can be resolved")
	ErrInvalidResolution      = apperror.New(apperror.KindValidation, "invalid_resolution", "Resolution outcome must be completed (with external reference) or failed")
	ErrTransferFailed         = apperror.New(apperror.KindDependency, "transfer_failed", "Transfer was rejected; earnings remain available")
)
