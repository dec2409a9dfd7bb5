package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Holding records that an investor acquired TokenAmount ownership tokens of a grove at AcquiredAt.
// An investor may have several holdings per grove (successive purchases).
type Holding struct {
	HoldingID      uuid.UUID `gorm:"column:holding_id;type:uuid;primaryKey" json:"holding_id"`
	GroveID        uuid.UUID `gorm:"column:grove_id;type:uuid;not null;index" json:"grove_id"`
	InvestorID     string    `gorm:"column:investor_id;not null;index" json:"investor_id"`
	TokenAmount    int64     `gorm:"column:token_amount;not null" json:"token_amount"`
	AcquiredAt     time.Time `gorm:"column:acquired_at;not null" json:"acquired_at"`
	IsActive       bool      `gorm:"column:is_active;not null" json:"is_active"`
	LegacySourceID *string   `gorm:"column:legacy_source_id;uniqueIndex" json:"legacy_source_id,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (Holding) TableName() string {
	return "Holdings"
}

// BeforeCreate: never insert zero UUID for primary key; generate random when not set.
func (h *Holding) BeforeCreate(tx *gorm.DB) error {
	if h.HoldingID == uuid.Nil {
		h.HoldingID = uuid.New()
	}
	return nil
}

// LegacyHolding is the older token holder table. Rows are copied into Holdings once per grove.
type LegacyHolding struct {
	ID          string    `gorm:"column:id;primaryKey" json:"id"`
	GroveID     uuid.UUID `gorm:"column:grove_id;type:uuid;not null;index" json:"grove_id"`
	WalletID    string    `gorm:"column:wallet_id;not null" json:"wallet_id"`
	Tokens      int64     `gorm:"column:tokens;not null" json:"tokens"`
	PurchasedAt time.Time `gorm:"column:purchased_at;not null" json:"purchased_at"`
	Active      bool      `gorm:"column:active;not null" json:"active"`
}

func (LegacyHolding) TableName() string {
	return "TokenHoldings"
}
