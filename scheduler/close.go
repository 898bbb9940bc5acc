package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"marketplace/adapters/store"
	"marketplace/auction"
	"marketplace/marketerrors"
	"marketplace/models"
	"marketplace/notify"
)

func (s *Scheduler) closeDue(ctx context.Context, now time.Time, report *Report) {
	const op = "scheduler.closeDue"
	var ids []uuid.UUID
	err := s.store.DB(ctx).Model(&models.Auction{}).
		Scopes(auction.DueForClosing(now)).
		Order("ends_at").
		Pluck("id", &ids).Error
	if err != nil {
		s.logger.ErrorContext(ctx, "Fail to list auctions to close", slog.Any("error", err))
		report.Failures[uuid.Nil] = marketerrors.System(fmt.Errorf("[%s] %w", op, err))
		return
	}

	for _, id := range ids {
		var closed *models.Auction
		err := isolate(func() error {
			var err error
			closed, err = s.closeAuction(ctx, id, now)
			return err
		})
		if err != nil {
			s.logger.ErrorContext(ctx, "Fail to close auction",
				slog.String("auctionID", id.String()),
				slog.Any("error", err),
			)
			report.Failures[id] = err
			continue
		}
		if closed == nil {
			continue
		}
		report.Closed = append(report.Closed, id)
		s.notifyClosed(ctx, closed)
	}
}

// closeAuction 在單一交易中結標，有得標者時建立訂單，並建立結算工作
// 拍賣已被結標或延長時返回 nil
func (s *Scheduler) closeAuction(ctx context.Context, id uuid.UUID, now time.Time) (*models.Auction, error) {
	const op = "scheduler.closeAuction"
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, marketerrors.System(err)
	}
	defer tx.Rollback()

	a, err := auction.Lock(tx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != models.AuctionStatusActive || a.EndsAt.After(now) {
		return nil, nil
	}
	if err := auction.Close(a, now); err != nil {
		return nil, err
	}
	if err := auction.Save(tx, a, now); err != nil {
		return nil, err
	}

	var orderID *uuid.UUID
	if a.HasBids() {
		order, err := s.ensureOrder(tx, a)
		if err != nil {
			return nil, err
		}
		orderID = &order.ID
	}

	var holds int64
	err = tx.DB().Model(&models.Hold{}).
		Where("reference_id = ? AND status = ?", id.String(), models.HoldStatusActive).
		Count(&holds).Error
	if err != nil {
		return nil, marketerrors.System(fmt.Errorf("[%s] Fail to count holds, err=%w", op, err))
	}
	if orderID != nil || holds > 0 {
		if err := s.ensureTask(tx, a.ID, orderID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, marketerrors.System(fmt.Errorf("[%s] %w", op, err))
	}
	s.logger.InfoContext(ctx, "auction closed",
		slog.String("auctionID", id.String()),
		slog.Bool("sold", a.HasBids()),
		slog.String("price", a.CurrentPrice.StringFixed(2)),
	)
	return a, nil
}

// ensureOrder 建立訂單，訂單已存在時直接返回
func (s *Scheduler) ensureOrder(tx *store.Tx, a *models.Auction) (*models.Order, error) {
	const op = "scheduler.ensureOrder"
	var order models.Order
	err := tx.DB().Where("auction_id = ?", a.ID).First(&order).Error
	if err == nil {
		return &order, nil
	}
	if !store.IsNotFound(err) {
		return nil, marketerrors.System(fmt.Errorf("[%s] Fail to load order, err=%w", op, err))
	}

	order = models.Order{
		AuctionID:   a.ID,
		BuyerID:     *a.CurrentBidderID,
		SellerID:    a.SellerID,
		TotalAmount: a.CurrentPrice,
		Status:      models.OrderStatusPendingCapture,
	}
	if err := tx.DB().Create(&order).Error; err != nil {
		return nil, marketerrors.System(fmt.Errorf("[%s] Fail to create order, err=%w", op, err))
	}
	return &order, nil
}

func (s *Scheduler) ensureTask(tx *store.Tx, auctionID uuid.UUID, orderID *uuid.UUID) error {
	const op = "scheduler.ensureTask"
	var count int64
	if err := tx.DB().Model(&models.SettlementTask{}).Where("auction_id = ?", auctionID).Count(&count).Error; err != nil {
		return marketerrors.System(fmt.Errorf("[%s] Fail to load settlement task, err=%w", op, err))
	}
	if count > 0 {
		return nil
	}
	task := models.SettlementTask{
		AuctionID: auctionID,
		OrderID:   orderID,
		Status:    models.SettlementStatusPending,
	}
	if err := tx.DB().Create(&task).Error; err != nil {
		return marketerrors.System(fmt.Errorf("[%s] Fail to create settlement task, err=%w", op, err))
	}
	return nil
}

// notifyClosed 通知沒有得標的出價者，沒有出價時通知賣家流標
func (s *Scheduler) notifyClosed(ctx context.Context, a *models.Auction) {
	now := s.clock.Now()
	payload := map[string]string{"auctionID": a.ID.String()}
	if !a.HasBids() {
		notify.Send(ctx, s.options.sink, s.logger, notify.Notification{
			UserID:    a.SellerID,
			Type:      notify.EventAuctionUnsold,
			Title:     "Your auction ended without bids",
			Message:   fmt.Sprintf("%q closed without any bids", a.Title),
			Payload:   payload,
			CreatedAt: now,
		})
		return
	}

	var bidders []uuid.UUID
	err := s.store.DB(ctx).Model(&models.Bid{}).
		Where("auction_id = ?", a.ID).
		Distinct().
		Pluck("bidder_id", &bidders).Error
	if err != nil {
		s.logger.WarnContext(ctx, "Fail to list bidders for notification",
			slog.String("auctionID", a.ID.String()),
			slog.Any("error", err),
		)
		return
	}
	losers := lo.Without(lo.Uniq(bidders), *a.CurrentBidderID)
	for _, userID := range losers {
		notify.Send(ctx, s.options.sink, s.logger, notify.Notification{
			UserID:    userID,
			Type:      notify.EventAuctionLost,
			Title:     "Auction ended",
			Message:   fmt.Sprintf("%q ended with a winning bid of %s", a.Title, a.CurrentPrice.StringFixed(2)),
			Payload:   lo.Assign(payload, map[string]string{"amount": a.CurrentPrice.StringFixed(2)}),
			CreatedAt: now,
		})
	}
}
