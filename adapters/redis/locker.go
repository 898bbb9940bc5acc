package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type lockerOptions struct {
	logger        *slog.Logger
	renewInterval time.Duration
	retryDelay    time.Duration
	expiry        time.Duration
}

type LockerOption func(*lockerOptions)

// WithLockerLogger 設置日誌記錄器
func WithLockerLogger(logger *slog.Logger) LockerOption {
	return func(o *lockerOptions) {
		o.logger = logger
	}
}

// WithLockerRenewInterval 設置自動續期間隔
func WithLockerRenewInterval(d time.Duration) LockerOption {
	return func(o *lockerOptions) {
		o.renewInterval = d
	}
}

// WithLockerRetryDelay 設置鎖被佔用時的重試間隔
func WithLockerRetryDelay(d time.Duration) LockerOption {
	return func(o *lockerOptions) {
		o.retryDelay = d
	}
}

// WithLockerExpiry 設置鎖過期時間
func WithLockerExpiry(d time.Duration) LockerOption {
	return func(o *lockerOptions) {
		o.expiry = d
	}
}

// AuctionLocker 以拍賣為單位的分散式鎖，讓多個實例對同一場拍賣的出價依序執行
// 持有期間會自動續期，續期失敗時取消返回的 context
type AuctionLocker struct {
	rs      *redsync.Redsync
	prefix  string
	logger  *slog.Logger
	options lockerOptions
}

func NewAuctionLocker(client redis.UniversalClient, prefix string, opts ...LockerOption) *AuctionLocker {
	options := lockerOptions{
		logger:     slog.Default(),
		expiry:     8 * time.Second,
		retryDelay: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&options)
	}
	// 未設置續期間隔時使用過期時間的 1/3
	if options.renewInterval <= 0 {
		options.renewInterval = options.expiry / 3
	}

	return &AuctionLocker{
		rs:      redsync.New(goredis.NewPool(client)),
		prefix:  prefix,
		logger:  options.logger.With(slog.String("caller", "AuctionLocker")),
		options: options,
	}
}

// Key 返回拍賣鎖的鍵值
func (l *AuctionLocker) Key(auctionID uuid.UUID) string {
	return fmt.Sprintf("%sauction:%s:lock", l.prefix, auctionID)
}

// Lock 取得拍賣鎖，鎖被佔用時持續重試直到 ctx 結束
// 返回的 context 在解鎖或續期失敗時會被取消，unlock 可重複呼叫
func (l *AuctionLocker) Lock(ctx context.Context, auctionID uuid.UUID) (context.Context, func(), error) {
	key := l.Key(auctionID)
	mutex := l.rs.NewMutex(
		key,
		redsync.WithExpiry(l.options.expiry),
		redsync.WithTries(1),
		redsync.WithRetryDelay(l.options.retryDelay),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-timer.C:
		}

		err := mutex.LockContext(ctx)
		if err == nil {
			break
		}
		// 連線錯誤直接返回，鎖被佔用才重試
		var commErr *redsync.RedisError
		if errors.As(err, &commErr) {
			return nil, nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		timer.Reset(l.options.retryDelay)
	}

	lockCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(l.options.renewInterval)
		defer ticker.Stop()

		for {
			select {
			case <-lockCtx.Done():
				return
			case <-ticker.C:
				ok, err := mutex.ExtendContext(lockCtx)
				if err != nil || !ok {
					if lockCtx.Err() != nil {
						return
					}
					l.logger.Warn("lock renewal failed",
						slog.String("key", key), slog.Any("error", err))
					cancel()
					return
				}
			}
		}
	}()

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			cancel()
			wg.Wait()
			if _, err := mutex.UnlockContext(context.Background()); err != nil {
				l.logger.Warn("unlock failed", slog.String("key", key), slog.Any("error", err))
			}
		})
	}
	return lockCtx, unlock, nil
}
