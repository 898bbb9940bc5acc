// Package auction 定義拍賣的狀態轉換規則
//
//	DRAFT -> PUBLISHED -> ACTIVE -> CLOSED
//	DRAFT/PUBLISHED -> CANCELLED
//
// 狀態函式只修改記憶體中的 Auction，寫回資料庫由 Save 以版本號完成。
package auction

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"marketplace/adapters/store"
	"marketplace/marketerrors"
	"marketplace/models"
)

// IsBiddable 判斷拍賣目前是否接受出價
// 已發布且開始時間已到的拍賣，即使排程器尚未將其轉為 ACTIVE 也可以出價
func IsBiddable(a *models.Auction, now time.Time) bool {
	if !a.EndsAt.After(now) {
		return false
	}
	switch a.Status {
	case models.AuctionStatusActive:
		return true
	case models.AuctionStatusPublished:
		return !a.StartsAt.After(now)
	default:
		return false
	}
}

// IsPublishable 判斷草稿是否可以發布
func IsPublishable(a *models.Auction, now time.Time) bool {
	return a.Status == models.AuctionStatusDraft &&
		a.StartsAt.Before(a.EndsAt) &&
		a.EndsAt.After(now)
}

func Publish(a *models.Auction, now time.Time) error {
	if !IsPublishable(a, now) {
		return invalidTransition(a, models.AuctionStatusPublished)
	}
	a.Status = models.AuctionStatusPublished
	return nil
}

func Activate(a *models.Auction, now time.Time) error {
	if a.Status != models.AuctionStatusPublished || a.StartsAt.After(now) {
		return invalidTransition(a, models.AuctionStatusActive)
	}
	a.Status = models.AuctionStatusActive
	return nil
}

func Close(a *models.Auction, now time.Time) error {
	if a.Status != models.AuctionStatusActive || a.EndsAt.After(now) {
		return invalidTransition(a, models.AuctionStatusClosed)
	}
	a.Status = models.AuctionStatusClosed
	return nil
}

func Cancel(a *models.Auction) error {
	if a.Status != models.AuctionStatusDraft && a.Status != models.AuctionStatusPublished {
		return invalidTransition(a, models.AuctionStatusCancelled)
	}
	a.Status = models.AuctionStatusCancelled
	return nil
}

// PromoteOnBid 出價成功時將已發布的拍賣轉為 ACTIVE
func PromoteOnBid(a *models.Auction) {
	if a.Status == models.AuctionStatusPublished {
		a.Status = models.AuctionStatusActive
	}
}

// ExtendForSoftClose 在結束前 window 內出價時，將結束時間延後 extension
func ExtendForSoftClose(a *models.Auction, now time.Time, window, extension time.Duration) bool {
	if window <= 0 || extension <= 0 {
		return false
	}
	if a.EndsAt.Sub(now) >= window {
		return false
	}
	a.EndsAt = a.EndsAt.Add(extension)
	return true
}

// DueForActivation 篩選開始時間已到的已發布拍賣
func DueForActivation(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ? AND starts_at <= ?", models.AuctionStatusPublished, now)
	}
}

// DueForClosing 篩選結束時間已到的進行中拍賣
func DueForClosing(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("status = ? AND ends_at <= ?", models.AuctionStatusActive, now)
	}
}

// Save 以樂觀鎖寫回拍賣的可變欄位，版本號不符時返回 ErrConcurrentUpdate
func Save(tx *store.Tx, a *models.Auction, now time.Time) error {
	const op = "auction.Save"
	result := tx.DB().Model(&models.Auction{}).
		Where("id = ? AND version = ?", a.ID, a.Version).
		Updates(map[string]any{
			"title":             a.Title,
			"description":       a.Description,
			"status":            a.Status,
			"current_price":     a.CurrentPrice,
			"current_bid_id":    a.CurrentBidID,
			"current_bidder_id": a.CurrentBidderID,
			"starts_at":         a.StartsAt,
			"ends_at":           a.EndsAt,
			"version":           a.Version + 1,
			"updated_at":        now,
		})
	if result.Error != nil {
		return marketerrors.System(fmt.Errorf("[%s] Fail to update auction, err=%w", op, result.Error))
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: auction %s", marketerrors.ErrConcurrentUpdate, a.ID)
	}
	a.Version++
	a.UpdatedAt = now
	return nil
}

// Lock 以 SELECT ... FOR UPDATE 讀取拍賣
func Lock(tx *store.Tx, id uuid.UUID) (*models.Auction, error) {
	const op = "auction.Lock"
	var a models.Auction
	err := tx.ForUpdate().Where("id = ?", id).First(&a).Error
	if store.IsNotFound(err) {
		return nil, marketerrors.ErrAuctionNotFound
	}
	if err != nil {
		return nil, marketerrors.System(fmt.Errorf("[%s] Fail to load auction, err=%w", op, err))
	}
	return &a, nil
}

func invalidTransition(a *models.Auction, to models.AuctionStatus) error {
	return fmt.Errorf("%w: %s -> %s", marketerrors.ErrInvalidTransition, a.Status, to)
}
