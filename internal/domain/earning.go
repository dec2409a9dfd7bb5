package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	BeneficiaryFarmer   = "farmer"
	BeneficiaryInvestor = "investor"
)

const (
	EarningUnclaimed = "unclaimed"
	EarningClaimed   = "claimed"
)

// EarningRecord is one beneficiary's entitlement from one harvest. Immutable after insert except
// Status (unclaimed -> claimed) and ClaimID, which reserves the record for an in-flight claim.
type EarningRecord struct {
	EarningID       uuid.UUID  `gorm:"column:earning_id;type:uuid;primaryKey" json:"earning_id"`
	BeneficiaryID   string     `gorm:"column:beneficiary_id;not null;index;uniqueIndex:idx_earning_harvest_beneficiary,priority:2" json:"beneficiary_id"`
	BeneficiaryKind string     `gorm:"column:beneficiary_kind;type:varchar(10);not null;uniqueIndex:idx_earning_harvest_beneficiary,priority:3" json:"beneficiary_kind"`
	HarvestID       uuid.UUID  `gorm:"column:harvest_id;type:uuid;not null;uniqueIndex:idx_earning_harvest_beneficiary,priority:1" json:"harvest_id"`
	GroveID         uuid.UUID  `gorm:"column:grove_id;type:uuid;not null" json:"grove_id"`
	TokenAmount     *int64     `gorm:"column:token_amount" json:"token_amount"`
	Amount          int64      `gorm:"column:amount;not null" json:"amount"`
	Status          string     `gorm:"column:status;type:varchar(10);not null;default:'unclaimed'" json:"status"`
	ClaimID         *uuid.UUID `gorm:"column:claim_id;type:uuid;index" json:"claim_id,omitempty"`
	ClaimedAt       *time.Time `gorm:"column:claimed_at" json:"claimed_at,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

func (EarningRecord) TableName() string {
	return "EarningRecords"
}

func (e *EarningRecord) BeforeCreate(tx *gorm.DB) error {
	if e.EarningID == uuid.Nil {
		e.EarningID = uuid.New()
	}
	if e.Status == "" {
		e.Status = EarningUnclaimed
	}
	return nil
}
