package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"marketplace/adapters/store"
	"marketplace/ledger"
	"marketplace/marketerrors"
	"marketplace/models"
	"marketplace/notify"
)

// settlePending 處理所有待結算的工作
func (s *Scheduler) settlePending(ctx context.Context, report *Report) {
	const op = "scheduler.settlePending"
	var tasks []models.SettlementTask
	err := s.store.DB(ctx).
		Where("status = ?", models.SettlementStatusPending).
		Order("created_at, id").
		Find(&tasks).Error
	if err != nil {
		s.logger.ErrorContext(ctx, "Fail to list settlement tasks", slog.Any("error", err))
		report.Failures[uuid.Nil] = marketerrors.System(fmt.Errorf("[%s] %w", op, err))
		return
	}

	for i := range tasks {
		task := &tasks[i]
		done, err := s.settleIsolated(ctx, task)
		if err != nil {
			report.Failures[task.AuctionID] = err
			s.recordFailure(ctx, task, err)
			continue
		}
		if done {
			report.Settled = append(report.Settled, task.AuctionID)
		}
	}
}

func (s *Scheduler) settleIsolated(ctx context.Context, task *models.SettlementTask) (done bool, err error) {
	err = isolate(func() error {
		var err error
		done, err = s.settle(ctx, task)
		return err
	})
	return done, err
}

// settle 先向得標者扣款，再解除其他仍凍結的金額
// 扣款失敗時得標者的凍結保留到下次重試，其他出價者照常解除
func (s *Scheduler) settle(ctx context.Context, task *models.SettlementTask) (bool, error) {
	var order *models.Order
	var captureErr error
	if task.OrderID != nil {
		var err error
		order, err = s.loadOrder(ctx, *task.OrderID)
		if err != nil {
			return false, err
		}
		if task.CapturedAt == nil {
			captureErr = s.capture(ctx, task, order)
		}
	}

	releaseErr := s.releaseRemaining(ctx, task, order)
	if err := errors.Join(captureErr, releaseErr); err != nil {
		return false, err
	}
	if err := s.finishTask(ctx, task); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Scheduler) loadOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	const op = "scheduler.loadOrder"
	var order models.Order
	err := s.store.DB(ctx).Where("id = ?", id).First(&order).Error
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%w: order %s", marketerrors.ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, marketerrors.System(fmt.Errorf("[%s] Fail to load order, err=%w", op, err))
	}
	return &order, nil
}

// capture 在同一個交易中扣款、將訂單標記為已付款並記錄於結算工作
func (s *Scheduler) capture(ctx context.Context, task *models.SettlementTask, order *models.Order) error {
	const op = "scheduler.capture"
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return marketerrors.System(err)
	}
	defer tx.Rollback()

	// 重新讀取工作，避免兩個執行者重複扣款
	var locked models.SettlementTask
	if err := tx.ForUpdate().Where("id = ?", task.ID).First(&locked).Error; err != nil {
		return marketerrors.System(fmt.Errorf("[%s] Fail to lock settlement task, err=%w", op, err))
	}
	if locked.CapturedAt != nil {
		task.CapturedAt = locked.CapturedAt
		return nil
	}

	referenceID := order.AuctionID.String()
	result, err := s.ledger.CaptureHeldFundsTx(tx, order.BuyerID, order.SellerID, order.TotalAmount,
		referenceID, "auction "+referenceID+" won")
	if err != nil {
		return err
	}

	now := s.clock.Now()
	if err := tx.DB().Model(&models.Order{}).Where("id = ?", order.ID).
		Updates(map[string]any{"status": models.OrderStatusPaid, "updated_at": now}).Error; err != nil {
		return marketerrors.System(fmt.Errorf("[%s] Fail to mark order paid, err=%w", op, err))
	}
	if err := tx.DB().Model(&models.SettlementTask{}).Where("id = ?", task.ID).
		Updates(map[string]any{"captured_at": now, "updated_at": now}).Error; err != nil {
		return marketerrors.System(fmt.Errorf("[%s] Fail to update settlement task, err=%w", op, err))
	}
	if err := tx.Commit(); err != nil {
		return marketerrors.System(fmt.Errorf("[%s] %w", op, err))
	}
	task.CapturedAt = &now
	order.Status = models.OrderStatusPaid

	s.notifySold(ctx, order, result)
	return nil
}

// releaseRemaining 解除拍賣上仍凍結的金額，得標者的凍結要等扣款完成後才解除剩餘部分
func (s *Scheduler) releaseRemaining(ctx context.Context, task *models.SettlementTask, order *models.Order) error {
	referenceID := task.AuctionID.String()
	holds, err := s.ledger.ActiveHolds(ctx, referenceID)
	if err != nil {
		return err
	}

	var errs []error
	for _, hold := range holds {
		if order != nil && hold.UserID == order.BuyerID && task.CapturedAt == nil {
			continue
		}
		_, err := s.ledger.ReleaseFunds(ctx, hold.UserID, hold.Amount, referenceID, "auction "+referenceID+" ended")
		if err != nil {
			s.logger.ErrorContext(ctx, "Fail to release hold",
				slog.String("auctionID", referenceID),
				slog.String("userID", hold.UserID.String()),
				slog.String("amount", hold.Amount.StringFixed(2)),
				slog.Any("error", err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) finishTask(ctx context.Context, task *models.SettlementTask) error {
	const op = "scheduler.finishTask"
	err := s.store.DB(ctx).Model(&models.SettlementTask{}).Where("id = ?", task.ID).
		Updates(map[string]any{
			"status":     models.SettlementStatusDone,
			"last_error": "",
			"updated_at": s.clock.Now(),
		}).Error
	if err != nil {
		return marketerrors.System(fmt.Errorf("[%s] Fail to finish settlement task, err=%w", op, err))
	}
	task.Status = models.SettlementStatusDone
	s.logger.InfoContext(ctx, "auction settled", slog.String("auctionID", task.AuctionID.String()))
	return nil
}

// recordFailure 累計失敗次數，超過上限後停止重試並等待人工處理
func (s *Scheduler) recordFailure(ctx context.Context, task *models.SettlementTask, cause error) {
	task.Attempts++
	task.LastError = cause.Error()
	exhausted := task.Attempts >= s.options.maxAttempts
	updates := map[string]any{
		"attempts":   task.Attempts,
		"last_error": task.LastError,
		"updated_at": s.clock.Now(),
	}
	if exhausted {
		task.Status = models.SettlementStatusFailed
		updates["status"] = task.Status
	}

	tx, err := s.store.Begin(ctx)
	if err == nil {
		defer tx.Rollback()
		err = tx.DB().Model(&models.SettlementTask{}).Where("id = ?", task.ID).Updates(updates).Error
		if err == nil && exhausted && task.OrderID != nil && task.CapturedAt == nil {
			err = tx.DB().Model(&models.Order{}).Where("id = ?", *task.OrderID).
				Updates(map[string]any{"status": models.OrderStatusCaptureFailed, "updated_at": s.clock.Now()}).Error
		}
		if err == nil {
			err = tx.Commit()
		}
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Fail to record settlement failure",
			slog.String("auctionID", task.AuctionID.String()),
			slog.Any("error", err),
		)
	}

	attrs := []any{
		slog.String("auctionID", task.AuctionID.String()),
		slog.Int("attempts", task.Attempts),
		slog.Any("error", cause),
	}
	switch {
	case task.OrderID != nil && task.CapturedAt == nil:
		// 訂單已成立但款項仍凍結中
		s.logger.Log(ctx, LevelCritical, "Fail to capture winning bid",
			append(attrs, slog.Bool("alert", true), slog.Bool("exhausted", exhausted))...)
	case exhausted:
		s.logger.Log(ctx, LevelCritical, "Settlement retries exhausted", append(attrs, slog.Bool("alert", true))...)
	default:
		s.logger.ErrorContext(ctx, "Fail to settle auction", attrs...)
	}
}

func (s *Scheduler) notifySold(ctx context.Context, order *models.Order, result *ledger.Capture) {
	now := s.clock.Now()
	amount := order.TotalAmount.StringFixed(2)
	auctionID := order.AuctionID.String()

	notify.Send(ctx, s.options.sink, s.logger, notify.Notification{
		UserID:    order.BuyerID,
		Type:      notify.EventAuctionWon,
		Title:     "You won the auction",
		Message:   fmt.Sprintf("Your winning bid of %s has been paid", amount),
		Payload:   map[string]string{"auctionID": auctionID, "orderID": order.ID.String(), "amount": amount},
		CreatedAt: now,
	})
	notify.Send(ctx, s.options.sink, s.logger, notify.Notification{
		UserID:  order.SellerID,
		Type:    notify.EventAuctionSold,
		Title:   "Your auction has been sold",
		Message: fmt.Sprintf("Sold for %s, %s credited after fees", amount, result.Net.StringFixed(2)),
		Payload: map[string]string{
			"auctionID": auctionID,
			"orderID":   order.ID.String(),
			"amount":    amount,
			"net":       result.Net.StringFixed(2),
		},
		CreatedAt: now,
	})
}
