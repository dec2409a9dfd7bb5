package ledger

import (
	"errors"

	"grove-ledger/internal/pkg/apperror"
)

var (
	ErrHarvestNotFound  = apperror.New(apperror.KindNotFound, "harvest_not_found", "Harvest not found")
	ErrGroveNotFound    = apperror.New(apperror.KindNotFound, "grove_not_found", "Grove of harvest not found")
	ErrBeneficiaryEmpty = apperror.New(apperror.KindValidation, "beneficiary_required", "beneficiary_id is required")
)

// errLatchTaken aborts the distribution transaction when another caller flipped the latch first.
var errLatchTaken = errors.New("harvest already distributed")
