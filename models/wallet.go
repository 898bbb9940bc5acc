package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Wallet 代表使用者的錢包，和使用者一對一
//   - Balance 為可用餘額
//   - HeldFunds 為出價凍結中的金額
type Wallet struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex;<-:create"`
	Balance   decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	HeldFunds decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Currency  string          `gorm:"type:varchar(8);not null;<-:create"`
	IsActive  bool            `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	return newID(&w.ID)
}

type LedgerEntryType string

const (
	LedgerEntryDeposit    LedgerEntryType = "DEPOSIT"
	LedgerEntryWithdrawal LedgerEntryType = "WITHDRAWAL"
	LedgerEntryHold       LedgerEntryType = "HOLD"
	LedgerEntryRelease    LedgerEntryType = "RELEASE"
	LedgerEntryCapture    LedgerEntryType = "CAPTURE"
	LedgerEntryCreditSale LedgerEntryType = "CREDIT_SALE"
	LedgerEntryFee        LedgerEntryType = "FEE"
)

// LedgerEntry 是錢包的帳本紀錄，只能新增不能修改或刪除
// 依建立順序重播同一錢包的所有紀錄必須得到錢包目前的可用餘額
type LedgerEntry struct {
	ID            uuid.UUID       `gorm:"type:uuid;primaryKey;<-:create"`
	WalletID      uuid.UUID       `gorm:"type:uuid;not null;index:idx_ledger_wallet_created,priority:1;<-:create"`
	Type          LedgerEntryType `gorm:"type:varchar(16);not null;<-:create"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,4);not null;<-:create"`
	BalanceBefore decimal.Decimal `gorm:"type:numeric(20,4);not null;<-:create"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(20,4);not null;<-:create"`
	ReferenceID   string          `gorm:"type:varchar(64);not null;index;<-:create"`
	ReferenceType string          `gorm:"type:varchar(16);not null;<-:create"`
	Description   string          `gorm:"type:text;not null;<-:create"`
	CreatedAt     time.Time       `gorm:"index:idx_ledger_wallet_created,priority:2;<-:create"`
}

func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	return newID(&e.ID)
}

type HoldStatus string

const (
	HoldStatusActive   HoldStatus = "ACTIVE"
	HoldStatusReleased HoldStatus = "RELEASED"
	HoldStatusCaptured HoldStatus = "CAPTURED"
)

// Hold 記錄某個錢包針對某個參考物件 (拍賣) 尚未解除的凍結金額
// 每個 (錢包, 參考物件) 只會有一筆，Amount 為目前仍凍結的金額
type Hold struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey"`
	WalletID    uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex:idx_hold_wallet_reference,priority:1;<-:create"`
	UserID      uuid.UUID       `gorm:"type:uuid;not null;<-:create"`
	ReferenceID string          `gorm:"type:varchar(64);not null;uniqueIndex:idx_hold_wallet_reference,priority:2;index:idx_hold_reference_status,priority:1;<-:create"`
	Amount      decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Status      HoldStatus      `gorm:"type:varchar(16);not null;index:idx_hold_reference_status,priority:2"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (h *Hold) BeforeCreate(tx *gorm.DB) error {
	return newID(&h.ID)
}
