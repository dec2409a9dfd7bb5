package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Grove is a registered production unit whose ownership is tokenized.
type Grove struct {
	GroveID     uuid.UUID `gorm:"column:grove_id;type:uuid;primaryKey" json:"grove_id"`
	Name        string    `gorm:"column:name;not null" json:"name"`
	FarmerID    string    `gorm:"column:farmer_id;not null;index" json:"farmer_id"`
	TotalTokens int64     `gorm:"column:total_tokens;not null" json:"total_tokens"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Grove) TableName() string {
	return "Groves"
}

func (g *Grove) BeforeCreate(tx *gorm.DB) error {
	if g.GroveID == uuid.Nil {
		g.GroveID = uuid.New()
	}
	return nil
}
