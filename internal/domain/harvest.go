package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Harvest lifecycle. distributed is terminal; failed may be retried.
const (
	HarvestReported     = "reported"
	HarvestDistributing = "distributing"
	HarvestDistributed  = "distributed"
	HarvestFailed       = "failed"
)

// Harvest is one reported yield event. GrossRevenue is in minor currency units.
// Distributed is the one-way latch flipped by a conditional update, never by caller discipline.
type Harvest struct {
	HarvestID           uuid.UUID      `gorm:"column:harvest_id;type:uuid;primaryKey" json:"harvest_id"`
	GroveID             uuid.UUID      `gorm:"column:grove_id;type:uuid;not null;index" json:"grove_id"`
	GrossRevenue        int64          `gorm:"column:gross_revenue;not null" json:"gross_revenue"`
	HarvestedAt         time.Time      `gorm:"column:harvested_at;not null" json:"harvested_at"`
	Status              string         `gorm:"column:status;type:varchar(20);not null;default:'reported'" json:"status"`
	Distributed         bool           `gorm:"column:distributed;not null;default:false" json:"distributed"`
	DistributedAt       *time.Time     `gorm:"column:distributed_at" json:"distributed_at"`
	FarmerShare         int64          `gorm:"column:farmer_share;not null;default:0" json:"farmer_share"`
	InvestorShare       int64          `gorm:"column:investor_share;not null;default:0" json:"investor_share"`
	UnallocatedAmount   int64          `gorm:"column:unallocated_amount;not null;default:0" json:"unallocated_amount"`
	NeedsReconciliation bool           `gorm:"column:needs_reconciliation;not null;default:false" json:"needs_reconciliation"`
	Summary             datatypes.JSON `gorm:"column:summary" json:"summary,omitempty"`
	LastError           *string        `gorm:"column:last_error" json:"last_error,omitempty"`
	CreatedAt           time.Time      `json:"createdAt"`
	UpdatedAt           time.Time      `json:"updatedAt"`
}

func (Harvest) TableName() string {
	return "Harvests"
}

func (h *Harvest) BeforeCreate(tx *gorm.DB) error {
	if h.HarvestID == uuid.Nil {
		h.HarvestID = uuid.New()
	}
	if h.Status == "" {
		h.Status = HarvestReported
	}
	return nil
}
