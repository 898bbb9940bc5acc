package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Bid 代表拍賣的出價紀錄，建立後不可修改
type Bid struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	AuctionID uuid.UUID       `gorm:"type:uuid;not null;index:idx_bid_auction_amount,priority:1;<-:create"`
	BidderID  uuid.UUID       `gorm:"type:uuid;not null;index;<-:create"`
	Amount    decimal.Decimal `gorm:"type:numeric(20,4);not null;index:idx_bid_auction_amount,priority:2;<-:create"`
	CreatedAt time.Time       `gorm:"<-:create"`
}

func (b *Bid) BeforeCreate(tx *gorm.DB) error {
	return newID(&b.ID)
}
