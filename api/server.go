package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	redisAdapter "marketplace/adapters/redis"
	"marketplace/adapters/store"
	"marketplace/auction"
	"marketplace/bidding"
	"marketplace/clock"
	"marketplace/ledger"
	"marketplace/notify"
	"marketplace/scheduler"
)

type ServerImpl struct {
	store       *store.Store
	redisClient redis.UniversalClient
	publisher   *redisAdapter.Publisher[notify.Message]
	ledger      *ledger.Ledger
	auctions    *auction.Service
	engine      *bidding.Engine
	scheduler   *scheduler.Scheduler
	logger      *slog.Logger
	closeOnce   sync.Once

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"

	// 初始化資料庫連線
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
	s, err := store.Open(dsn,
		store.WithSchema(config.DB.Schema),
		store.WithPool(config.DB.MaxOpenConns, config.DB.MaxIdleConns, time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("[%s] Fail to migrate database, err=%w", op, err)
	}

	// 初始化Redis連線，未設定時只使用資料庫的樂觀鎖
	var redisClient redis.UniversalClient
	if config.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			_ = redisClient.Close()
			_ = s.Close()
			return nil, fmt.Errorf("[%s] Fail to connect to redis, err=%w", op, err)
		}
	}

	impl, err := newServer(s, redisClient, config, slog.Default(), clock.Real{})
	if err != nil {
		if redisClient != nil {
			_ = redisClient.Close()
		}
		_ = s.Close()
		return nil, fmt.Errorf("[%s] Fail to create server, err=%w", op, err)
	}
	return impl, nil
}

// newServer 組裝各個元件，redisClient 可以是 nil
func newServer(s *store.Store, redisClient redis.UniversalClient, config ServerConfig, logger *slog.Logger, c clock.Clock) (*ServerImpl, error) {
	sinks := notify.Fanout{notify.NewLogSink(logger)}
	engineOpts := []bidding.Option{
		bidding.WithLogger(logger),
		bidding.WithClock(c),
		bidding.WithMinIncrement(config.Market.MinBidIncrement),
		bidding.WithSoftClose(config.Market.SoftCloseWindow, config.Market.SoftCloseExtension),
	}

	var publisher *redisAdapter.Publisher[notify.Message]
	if redisClient != nil {
		var err error
		publisher, err = redisAdapter.NewPublisher(
			redisClient,
			config.Redis.KeyPrefix+config.Redis.StreamKeys.Notifications,
			redisAdapter.WithPublisherLogger[notify.Message](logger),
			redisAdapter.WithPublisherMaxLen[notify.Message](10000),
		)
		if err != nil {
			return nil, fmt.Errorf("fail to create notification publisher, err=%w", err)
		}
		sinks = append(sinks, notify.NewStreamSink(publisher))

		locker := redisAdapter.NewAuctionLocker(redisClient, config.Redis.KeyPrefix,
			redisAdapter.WithLockerLogger(logger),
		)
		engineOpts = append(engineOpts, bidding.WithLocker(locker))
	}
	engineOpts = append(engineOpts, bidding.WithSink(sinks))

	l := ledger.New(s,
		ledger.WithLogger(logger),
		ledger.WithClock(c),
		ledger.WithFeeRate(config.Market.PlatformFeeRate),
		ledger.WithCurrency(config.Market.Currency),
	)

	return &ServerImpl{
		store:       s,
		redisClient: redisClient,
		publisher:   publisher,
		ledger:      l,
		auctions:    auction.NewService(s, auction.WithLogger(logger), auction.WithClock(c)),
		engine:      bidding.NewEngine(s, l, engineOpts...),
		scheduler: scheduler.New(s, l,
			scheduler.WithLogger(logger),
			scheduler.WithClock(c),
			scheduler.WithSink(sinks),
			scheduler.WithInterval(config.Scheduler.Interval),
			scheduler.WithMaxAttempts(config.Scheduler.MaxAttempts),
		),
		logger: logger.With(slog.String("caller", "Server")),
		config: config,
	}, nil
}

func (impl *ServerImpl) Start() {
	// 先啟動通知，排程器結標時才送得出去
	if impl.publisher != nil {
		impl.publisher.Start()
	}
	impl.scheduler.Start()
}

// Close 依啟動的相反順序關閉各元件
func (impl *ServerImpl) Close() error {
	var errs []error
	impl.closeOnce.Do(func() {
		impl.scheduler.Close()
		if impl.publisher != nil {
			impl.publisher.Close()
		}
		if impl.redisClient != nil {
			if err := impl.redisClient.Close(); err != nil {
				errs = append(errs, fmt.Errorf("fail to close redis client, err=%w", err))
			}
		}
		if err := impl.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("fail to close store, err=%w", err))
		}
	})
	return errors.Join(errs...)
}
