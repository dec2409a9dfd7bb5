package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ClaimKindClaim      = "claim"
	ClaimKindWithdrawal = "withdrawal"
)

// Claim lifecycle. completed and failed are terminal; processing may also mean the
// transfer outcome is unknown and waits for reconciliation.
const (
	ClaimRequested  = "requested"
	ClaimProcessing = "processing"
	ClaimCompleted  = "completed"
	ClaimFailed     = "failed"
)

// ClaimRequest is a beneficiary's instruction to pay out earnings: a set of EarningRecords
// (investor claim) or a plain amount (farmer withdrawal).
type ClaimRequest struct {
	ClaimID           uuid.UUID      `gorm:"column:claim_id;type:uuid;primaryKey" json:"claim_id"`
	BeneficiaryID     string         `gorm:"column:beneficiary_id;not null;index" json:"beneficiary_id"`
	Kind              string         `gorm:"column:kind;type:varchar(12);not null" json:"kind"`
	Amount            int64          `gorm:"column:amount;not null" json:"amount"`
	EarningRecordIDs  datatypes.JSON `gorm:"column:earning_record_ids" json:"earning_record_ids"`
	Fingerprint       string         `gorm:"column:fingerprint;not null;index" json:"-"`
	Status            string         `gorm:"column:status;type:varchar(12);not null;default:'requested'" json:"status"`
	ExternalReference *string        `gorm:"column:external_reference" json:"external_reference"`
	FailureReason     *string        `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	CompletedAt       *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
}

func (ClaimRequest) TableName() string {
	return "ClaimRequests"
}

func (c *ClaimRequest) BeforeCreate(tx *gorm.DB) error {
	if c.ClaimID == uuid.Nil {
		c.ClaimID = uuid.New()
	}
	if c.Status == "" {
		c.Status = ClaimRequested
	}
	return nil
}

// RecordIDs decodes EarningRecordIDs. Withdrawals carry none.
func (c *ClaimRequest) RecordIDs() ([]uuid.UUID, error) {
	if len(c.EarningRecordIDs) == 0 {
		return nil, nil
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(c.EarningRecordIDs, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Active reports whether the request still holds funds (not terminal).
func (c *ClaimRequest) Active() bool {
	return c.Status == ClaimRequested || c.Status == ClaimProcessing
}
