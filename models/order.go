package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderStatusPendingCapture OrderStatus = "PENDING_CAPTURE"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusCaptureFailed  OrderStatus = "CAPTURE_FAILED"
)

// Order 代表拍賣結標後的成交訂單，每場拍賣最多一筆
type Order struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey"`
	AuctionID   uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex;<-:create"`
	BuyerID     uuid.UUID       `gorm:"type:uuid;not null;index;<-:create"`
	SellerID    uuid.UUID       `gorm:"type:uuid;not null;index;<-:create"`
	TotalAmount decimal.Decimal `gorm:"type:numeric(20,4);not null;<-:create"`
	Status      OrderStatus     `gorm:"type:varchar(16);not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	return newID(&o.ID)
}

type SettlementStatus string

const (
	SettlementStatusPending SettlementStatus = "PENDING"
	SettlementStatusDone    SettlementStatus = "DONE"
	SettlementStatusFailed  SettlementStatus = "FAILED"
)

// SettlementTask 是結標後待處理的結算工作 (outbox)
// 和結標在同一個交易中建立，之後由排程器重試直到扣款及解凍全部完成
type SettlementTask struct {
	ID         uuid.UUID        `gorm:"type:uuid;primaryKey"`
	AuctionID  uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex;<-:create"`
	OrderID    *uuid.UUID       `gorm:"type:uuid;<-:create"`
	Status     SettlementStatus `gorm:"type:varchar(16);not null;index"`
	Attempts   int              `gorm:"not null"`
	LastError  string           `gorm:"type:text;not null"`
	CapturedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (t *SettlementTask) BeforeCreate(tx *gorm.DB) error {
	return newID(&t.ID)
}
