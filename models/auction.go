package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type AuctionStatus string

const (
	AuctionStatusDraft     AuctionStatus = "DRAFT"
	AuctionStatusPublished AuctionStatus = "PUBLISHED"
	AuctionStatusActive    AuctionStatus = "ACTIVE"
	AuctionStatusClosed    AuctionStatus = "CLOSED"
	AuctionStatusCancelled AuctionStatus = "CANCELLED"
)

// Auction 代表拍賣系統中的一場拍賣
// 發布前只有賣家可以修改，發布後狀態與價格只由出價引擎和排程器更新
type Auction struct {
	ID              uuid.UUID       `gorm:"type:uuid;primaryKey"`
	SellerID        uuid.UUID       `gorm:"type:uuid;not null;index;<-:create"`
	Title           string          `gorm:"type:varchar(255);not null"`
	Description     string          `gorm:"type:text;not null"`
	Status          AuctionStatus   `gorm:"type:varchar(16);not null;index:idx_auction_status_starts_at,priority:1;index:idx_auction_status_ends_at,priority:1"`
	StartingPrice   decimal.Decimal `gorm:"type:numeric(20,4);not null;<-:create"`
	CurrentPrice    decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	CurrentBidID    *uuid.UUID      `gorm:"type:uuid"`
	CurrentBidderID *uuid.UUID      `gorm:"type:uuid"`
	StartsAt        time.Time       `gorm:"not null;index:idx_auction_status_starts_at,priority:2"`
	EndsAt          time.Time       `gorm:"not null;index:idx_auction_status_ends_at,priority:2"`
	// Version 用於樂觀鎖，每次出價或狀態變更都會遞增
	Version   int64 `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Auction) BeforeCreate(tx *gorm.DB) error {
	if a.Version == 0 {
		a.Version = 1
	}
	return newID(&a.ID)
}

// HasBids 判斷拍賣是否已有最高出價
func (a *Auction) HasBids() bool {
	return a.CurrentBidID != nil
}
