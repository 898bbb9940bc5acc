// Package bidding 處理出價
//
// 出價分三步：
//  1. 凍結出價者的金額
//  2. 在交易中鎖定拍賣並重新檢查，寫入出價並更新拍賣
//  3. 提交後解除前一位最高出價者的凍結並通知
//
// 第 2 步失敗時會解除第 1 步凍結的金額，第 3 步的失敗只記錄不回滾。
package bidding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketplace/adapters/store"
	"marketplace/auction"
	"marketplace/clock"
	"marketplace/marketerrors"
	"marketplace/models"
	"marketplace/notify"
)

// Wallets 是出價需要的錢包操作
type Wallets interface {
	HoldFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, referenceID, description string) (*models.LedgerEntry, error)
	ReleaseFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, referenceID, description string) (*models.LedgerEntry, error)
}

// Locker 是以拍賣為單位的分散式鎖
type Locker interface {
	Lock(ctx context.Context, auctionID uuid.UUID) (context.Context, func(), error)
}

type options struct {
	minIncrement       decimal.Decimal
	softCloseWindow    time.Duration
	softCloseExtension time.Duration
	clock              clock.Clock
	logger             *slog.Logger
	sink               notify.Sink
	locker             Locker
}

type Option func(*options)

// WithMinIncrement 設置每次出價至少需要高於目前價格的金額
func WithMinIncrement(increment decimal.Decimal) Option {
	return func(o *options) {
		o.minIncrement = increment
	}
}

// WithSoftClose 設置防狙擊延長，結束前 window 內出價會延長 extension
func WithSoftClose(window, extension time.Duration) Option {
	return func(o *options) {
		o.softCloseWindow = window
		o.softCloseExtension = extension
	}
}

func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithSink(sink notify.Sink) Option {
	return func(o *options) {
		o.sink = sink
	}
}

// WithLocker 設置分散式鎖，未設置時只依賴資料庫的資料列鎖
func WithLocker(locker Locker) Option {
	return func(o *options) {
		o.locker = locker
	}
}

type Engine struct {
	store   *store.Store
	wallets Wallets
	clock   clock.Clock
	logger  *slog.Logger
	options options
}

func NewEngine(s *store.Store, wallets Wallets, opts ...Option) *Engine {
	o := options{
		minIncrement:       decimal.NewFromInt(1),
		softCloseWindow:    5 * time.Minute,
		softCloseExtension: 5 * time.Minute,
		clock:              clock.Real{},
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Engine{
		store:   s,
		wallets: wallets,
		clock:   o.clock,
		logger:  o.logger.With(slog.String("caller", "BiddingEngine")),
		options: o,
	}
}

// outbid 是被超越的前一筆最高出價
type outbid struct {
	bidderID uuid.UUID
	amount   decimal.Decimal
}

// PlaceBid 對拍賣出價，成功時返回新的出價紀錄
func (e *Engine) PlaceBid(ctx context.Context, bidderID, auctionID uuid.UUID, amount decimal.Decimal) (*models.Bid, error) {
	const op = "bidding.PlaceBid"
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return nil, fmt.Errorf("%w: bid must be positive with at most two decimal places", marketerrors.ErrInvalidAmount)
	}

	if e.options.locker != nil {
		lockCtx, unlock, err := e.options.locker.Lock(ctx, auctionID)
		if err != nil {
			return nil, marketerrors.System(fmt.Errorf("[%s] Fail to lock auction, err=%w", op, err))
		}
		defer unlock()
		ctx = lockCtx
	}

	snapshot, err := e.loadAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if err := e.validate(snapshot, bidderID, amount, e.clock.Now()); err != nil {
		return nil, err
	}

	referenceID := auctionID.String()
	if _, err := e.wallets.HoldFunds(ctx, bidderID, amount, referenceID, "bid on auction "+referenceID); err != nil {
		return nil, err
	}

	bid, previous, err := e.record(ctx, bidderID, auctionID, amount)
	if err != nil {
		e.compensate(ctx, bidderID, amount, referenceID, err)
		return nil, err
	}

	e.logger.InfoContext(ctx, "bid placed",
		slog.String("auctionID", referenceID),
		slog.String("userID", bidderID.String()),
		slog.String("amount", amount.StringFixed(2)),
	)

	if previous != nil {
		e.settleOutbid(ctx, auctionID, previous, amount)
	}
	return bid, nil
}

// Bids 依金額由高到低列出拍賣的出價
func (e *Engine) Bids(ctx context.Context, auctionID uuid.UUID) ([]models.Bid, error) {
	const op = "bidding.Bids"
	if _, err := e.loadAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	var bids []models.Bid
	err := e.store.DB(ctx).
		Where("auction_id = ?", auctionID).
		Order("amount DESC, created_at DESC, id DESC").
		Find(&bids).Error
	if err != nil {
		return nil, marketerrors.System(fmt.Errorf("[%s] Fail to list bids, err=%w", op, err))
	}
	return bids, nil
}

func (e *Engine) loadAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	const op = "bidding.loadAuction"
	var a models.Auction
	err := e.store.DB(ctx).Where("id = ?", auctionID).First(&a).Error
	if store.IsNotFound(err) {
		return nil, marketerrors.ErrAuctionNotFound
	}
	if err != nil {
		return nil, marketerrors.System(fmt.Errorf("[%s] Fail to load auction, err=%w", op, err))
	}
	return &a, nil
}

func (e *Engine) validate(a *models.Auction, bidderID uuid.UUID, amount decimal.Decimal, now time.Time) error {
	if !auction.IsBiddable(a, now) {
		return fmt.Errorf("%w: auction is %s", marketerrors.ErrAuctionNotActive, a.Status)
	}
	if bidderID == a.SellerID {
		return fmt.Errorf("%w: sellers cannot bid on their own auction", marketerrors.ErrBidOnOwnAuction)
	}
	if a.CurrentBidderID != nil && *a.CurrentBidderID == bidderID {
		return fmt.Errorf("%w: you already hold the highest bid", marketerrors.ErrBidOnOwnAuction)
	}
	minimum := a.CurrentPrice.Add(e.options.minIncrement)
	if amount.LessThan(minimum) {
		return fmt.Errorf("%w: minimum bid is %s", marketerrors.ErrBidTooLow, minimum.StringFixed(2))
	}
	return nil
}

// record 在單一交易中鎖定拍賣、重新檢查並寫入出價
func (e *Engine) record(ctx context.Context, bidderID, auctionID uuid.UUID, amount decimal.Decimal) (*models.Bid, *outbid, error) {
	const op = "bidding.record"
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, nil, marketerrors.System(err)
	}
	defer tx.Rollback()

	a, err := auction.Lock(tx, auctionID)
	if err != nil {
		return nil, nil, err
	}
	now := e.clock.Now()
	// 凍結期間拍賣可能已被其他出價或排程器修改
	if err := e.validate(a, bidderID, amount, now); err != nil {
		return nil, nil, err
	}

	var previous *outbid
	if a.CurrentBidderID != nil {
		previous = &outbid{bidderID: *a.CurrentBidderID, amount: a.CurrentPrice}
	}

	bid := &models.Bid{
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: now,
	}
	if err := tx.DB().Create(bid).Error; err != nil {
		return nil, nil, marketerrors.System(fmt.Errorf("[%s] Fail to insert bid, err=%w", op, err))
	}

	a.CurrentPrice = amount
	a.CurrentBidID = &bid.ID
	a.CurrentBidderID = &bidderID
	auction.PromoteOnBid(a)
	if auction.ExtendForSoftClose(a, now, e.options.softCloseWindow, e.options.softCloseExtension) {
		e.logger.InfoContext(ctx, "auction extended",
			slog.String("auctionID", auctionID.String()),
			slog.Time("endsAt", a.EndsAt),
		)
	}
	if err := auction.Save(tx, a, now); err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, marketerrors.System(fmt.Errorf("[%s] %w", op, err))
	}
	return bid, previous, nil
}

// compensate 解除出價失敗時已凍結的金額
func (e *Engine) compensate(ctx context.Context, bidderID uuid.UUID, amount decimal.Decimal, referenceID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	_, err := e.wallets.ReleaseFunds(ctx, bidderID, amount, referenceID, "bid rejected")
	if err != nil {
		e.logger.ErrorContext(ctx, "Fail to release hold of rejected bid",
			slog.String("auctionID", referenceID),
			slog.String("userID", bidderID.String()),
			slog.String("amount", amount.StringFixed(2)),
			slog.Any("cause", cause),
			slog.Any("error", err),
		)
		return
	}
	level := slog.LevelInfo
	if errors.Is(cause, marketerrors.ErrSystem) {
		level = slog.LevelWarn
	}
	e.logger.Log(ctx, level, "bid rejected after hold, funds released",
		slog.String("auctionID", referenceID),
		slog.String("userID", bidderID.String()),
		slog.Any("cause", cause),
	)
}

// settleOutbid 解除前一位最高出價者的凍結並通知，失敗只記錄
func (e *Engine) settleOutbid(ctx context.Context, auctionID uuid.UUID, previous *outbid, newAmount decimal.Decimal) {
	ctx = context.WithoutCancel(ctx)
	referenceID := auctionID.String()
	_, err := e.wallets.ReleaseFunds(ctx, previous.bidderID, previous.amount, referenceID, "outbid on auction "+referenceID)
	if err != nil {
		e.logger.WarnContext(ctx, "Fail to release outbid hold",
			slog.String("auctionID", referenceID),
			slog.String("userID", previous.bidderID.String()),
			slog.String("amount", previous.amount.StringFixed(2)),
			slog.Any("error", err),
		)
	}

	notify.Send(ctx, e.options.sink, e.logger, notify.Notification{
		UserID:  previous.bidderID,
		Type:    notify.EventOutbid,
		Title:   "You have been outbid",
		Message: fmt.Sprintf("A higher bid of %s was placed", newAmount.StringFixed(2)),
		Payload: map[string]string{
			"auctionID": referenceID,
			"amount":    newAmount.StringFixed(2),
		},
		CreatedAt: e.clock.Now(),
	})
}
