package api

import (
	"time"

	"github.com/shopspring/decimal"
)

type ServerConfig struct {
	DB        DBConfig
	Redis     RedisConfig
	Market    MarketConfig
	Scheduler SchedulerConfig
}

type DBConfig struct {
	User         string
	Password     string
	Host         string
	Port         int
	Database     string
	Schema       string
	MaxOpenConns int
	MaxIdleConns int
}

// RedisConfig 中 Addr 為空時不啟用出價鎖與 stream 通知
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string

	StreamKeys RedisStreamKeys
}

type RedisStreamKeys struct {
	Notifications string
}

type MarketConfig struct {
	MinBidIncrement    decimal.Decimal
	SoftCloseWindow    time.Duration
	SoftCloseExtension time.Duration
	PlatformFeeRate    decimal.Decimal
	Currency           string
}

type SchedulerConfig struct {
	Interval    time.Duration
	MaxAttempts int
}
