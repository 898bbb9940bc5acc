package auction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"marketplace/adapters/store"
	"marketplace/clock"
	"marketplace/marketerrors"
	"marketplace/models"
)

type serviceOptions struct {
	clock  clock.Clock
	logger *slog.Logger
}

type ServiceOption func(*serviceOptions)

func WithClock(c clock.Clock) ServiceOption {
	return func(o *serviceOptions) {
		o.clock = c
	}
}

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// Service 處理賣家在發布前對拍賣的操作
type Service struct {
	store       *store.Store
	clock       clock.Clock
	logger      *slog.Logger
	htmlChecker *bluemonday.Policy
	textChecker *bluemonday.Policy
}

func NewService(s *store.Store, opts ...ServiceOption) *Service {
	options := serviceOptions{
		clock:  clock.Real{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		store:       s,
		clock:       options.clock,
		logger:      options.logger.With(slog.String("caller", "AuctionService")),
		htmlChecker: bluemonday.UGCPolicy(),
		textChecker: bluemonday.StrictPolicy(),
	}
}

type DraftInput struct {
	SellerID      uuid.UUID
	Title         string
	Description   string
	StartingPrice decimal.Decimal
	StartsAt      time.Time
	EndsAt        time.Time
}

// CreateDraft 建立草稿拍賣，標題只保留純文字，描述允許一般的 HTML
func (s *Service) CreateDraft(ctx context.Context, in DraftInput) (*models.Auction, error) {
	const op = "auction.Service.CreateDraft"
	now := s.clock.Now()

	title := strings.TrimSpace(s.textChecker.Sanitize(in.Title))
	switch {
	case in.SellerID == uuid.Nil:
		return nil, fmt.Errorf("%w: seller is required", marketerrors.ErrInvalidInput)
	case title == "":
		return nil, fmt.Errorf("%w: title is required", marketerrors.ErrInvalidInput)
	case !in.StartingPrice.IsPositive() || !in.StartingPrice.Equal(in.StartingPrice.Round(2)):
		return nil, fmt.Errorf("%w: starting price must be positive with at most two decimal places", marketerrors.ErrInvalidAmount)
	case !in.StartsAt.Before(in.EndsAt) || !in.EndsAt.After(now):
		return nil, fmt.Errorf("%w: invalid auction time", marketerrors.ErrInvalidInput)
	}

	a := &models.Auction{
		SellerID:      in.SellerID,
		Title:         title,
		Description:   s.htmlChecker.Sanitize(in.Description),
		Status:        models.AuctionStatusDraft,
		StartingPrice: in.StartingPrice,
		CurrentPrice:  in.StartingPrice,
		StartsAt:      in.StartsAt.UTC(),
		EndsAt:        in.EndsAt.UTC(),
	}
	if err := s.store.DB(ctx).Create(a).Error; err != nil {
		return nil, marketerrors.System(fmt.Errorf("[%s] Fail to create auction, err=%w", op, err))
	}

	s.logger.InfoContext(ctx, "auction drafted",
		slog.String("auctionID", a.ID.String()),
		slog.String("sellerID", a.SellerID.String()),
	)
	return a, nil
}

// Publish 由賣家發布草稿
func (s *Service) Publish(ctx context.Context, sellerID, auctionID uuid.UUID) (*models.Auction, error) {
	return s.transition(ctx, "auction.Service.Publish", sellerID, auctionID, func(a *models.Auction, now time.Time) error {
		return Publish(a, now)
	})
}

// Cancel 由賣家取消尚未開始的拍賣
func (s *Service) Cancel(ctx context.Context, sellerID, auctionID uuid.UUID) (*models.Auction, error) {
	return s.transition(ctx, "auction.Service.Cancel", sellerID, auctionID, func(a *models.Auction, _ time.Time) error {
		return Cancel(a)
	})
}

func (s *Service) transition(
	ctx context.Context,
	op string,
	sellerID, auctionID uuid.UUID,
	apply func(*models.Auction, time.Time) error,
) (*models.Auction, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, marketerrors.System(err)
	}
	defer tx.Rollback()

	a, err := Lock(tx, auctionID)
	if err != nil {
		return nil, err
	}
	if a.SellerID != sellerID {
		return nil, marketerrors.ErrNotOwner
	}
	now := s.clock.Now()
	from := a.Status
	if err := apply(a, now); err != nil {
		return nil, err
	}
	if err := Save(tx, a, now); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, marketerrors.System(fmt.Errorf("[%s] %w", op, err))
	}

	s.logger.InfoContext(ctx, "auction status changed",
		slog.String("auctionID", a.ID.String()),
		slog.String("from", string(from)),
		slog.String("to", string(a.Status)),
	)
	return a, nil
}

// Get 查詢拍賣
func (s *Service) Get(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	const op = "auction.Service.Get"
	var a models.Auction
	err := s.store.DB(ctx).Where("id = ?", auctionID).First(&a).Error
	if store.IsNotFound(err) {
		return nil, marketerrors.ErrAuctionNotFound
	}
	if err != nil {
		return nil, marketerrors.System(fmt.Errorf("[%s] Fail to load auction, err=%w", op, err))
	}
	return &a, nil
}
