package domain

import "time"

// BeneficiaryAccount serializes money movements of one beneficiary. Version is bumped with a
// conditional update by every claim/withdrawal; Frozen blocks payouts after an invariant violation.
type BeneficiaryAccount struct {
	BeneficiaryID string     `gorm:"column:beneficiary_id;primaryKey" json:"beneficiary_id"`
	Version       int64      `gorm:"column:version;not null;default:0" json:"version"`
	Frozen        bool       `gorm:"column:frozen;not null;default:false" json:"frozen"`
	FrozenReason  *string    `gorm:"column:frozen_reason" json:"frozen_reason,omitempty"`
	FrozenAt      *time.Time `gorm:"column:frozen_at" json:"frozen_at,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

func (BeneficiaryAccount) TableName() string {
	return "BeneficiaryAccounts"
}

// Models lists every table the ledger owns, in migration order.
func Models() []interface{} {
	return []interface{}{
		&Grove{},
		&Harvest{},
		&Holding{},
		&LegacyHolding{},
		&EarningRecord{},
		&ClaimRequest{},
		&BeneficiaryAccount{},
	}
}
