// Package scheduler 定期啟動、結標並結算拍賣
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"marketplace/adapters/store"
	"marketplace/auction"
	"marketplace/clock"
	"marketplace/ledger"
	"marketplace/marketerrors"
	"marketplace/models"
	"marketplace/notify"
)

// LevelCritical 用於需要人工介入的狀況
const LevelCritical = slog.LevelError + 4

// Ledger 是結算需要的錢包操作
type Ledger interface {
	CaptureHeldFundsTx(tx *store.Tx, buyerID, sellerID uuid.UUID, amount decimal.Decimal, referenceID, description string) (*ledger.Capture, error)
	ReleaseFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, referenceID, description string) (*models.LedgerEntry, error)
	ActiveHolds(ctx context.Context, referenceID string) ([]models.Hold, error)
}

type options struct {
	interval    time.Duration
	maxAttempts int
	clock       clock.Clock
	logger      *slog.Logger
	sink        notify.Sink
}

type Option func(*options)

// WithInterval 設置排程間隔
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		o.interval = d
	}
}

// WithMaxAttempts 設置扣款失敗的最大重試次數
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		o.maxAttempts = n
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

// Report 是一次排程執行的結果
type Report struct {
	// Activated 為轉為 ACTIVE 的拍賣數量
	Activated int64
	// Closed 為本次結標的拍賣
	Closed []uuid.UUID
	// Settled 為本次完成結算的拍賣
	Settled []uuid.UUID
	// Failures 依拍賣記錄失敗原因，啟動階段的失敗記在 uuid.Nil
	Failures map[uuid.UUID]error
}

type Scheduler struct {
	store      *store.Store
	ledger     Ledger
	clock      clock.Clock
	logger     *slog.Logger
	options    options
	runMu      sync.Mutex
	mu         sync.Mutex
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
}

func New(s *store.Store, l Ledger, opts ...Option) *Scheduler {
	o := options{
		interval:    time.Minute,
		maxAttempts: 5,
		clock:       clock.Real{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Scheduler{
		store:   s,
		ledger:  l,
		clock:   o.clock,
		logger:  o.logger.With(slog.String("caller", "ClosingScheduler")),
		options: o,
		closed:  true,
	}
}

// Start 啟動背景 goroutine，每隔 interval 執行一次 RunOnce
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	s.closed = false
	s.logger.Info("Start closing scheduler", slog.Duration("interval", s.options.interval))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("Closing scheduler stopped")
		ticker := time.NewTicker(s.options.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()
}

// Close 停止背景 goroutine 並等待執行中的排程結束
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.cancelFunc()
	s.wg.Wait()
}

// RunOnce 依序執行啟動、結標及結算，同時只會有一個執行
func (s *Scheduler) RunOnce(ctx context.Context) Report {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	report := Report{Failures: map[uuid.UUID]error{}}
	now := s.clock.Now()

	activated, err := s.activate(ctx, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "Fail to activate auctions", slog.Any("error", err))
		report.Failures[uuid.Nil] = err
	}
	report.Activated = activated

	s.closeDue(ctx, now, &report)
	s.settlePending(ctx, &report)

	if report.Activated > 0 || len(report.Closed) > 0 || len(report.Settled) > 0 || len(report.Failures) > 0 {
		s.logger.InfoContext(ctx, "Scheduler run finished",
			slog.Int64("activated", report.Activated),
			slog.Int("closed", len(report.Closed)),
			slog.Int("settled", len(report.Settled)),
			slog.Int("failures", len(report.Failures)),
		)
	}
	return report
}

// activate 一次將所有開始時間已到的已發布拍賣轉為 ACTIVE
func (s *Scheduler) activate(ctx context.Context, now time.Time) (int64, error) {
	const op = "scheduler.activate"
	result := s.store.DB(ctx).Model(&models.Auction{}).
		Scopes(auction.DueForActivation(now)).
		Updates(map[string]any{
			"status":     models.AuctionStatusActive,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, marketerrors.System(fmt.Errorf("[%s] Fail to activate auctions, err=%w", op, result.Error))
	}
	return result.RowsAffected, nil
}

// isolate 讓單一拍賣的 panic 不影響其他拍賣
func isolate(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = marketerrors.System(fmt.Errorf("panic: %v", r))
		}
	}()
	return fn()
}
