package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"marketplace/api"
)

func ParseArgs() (Args, error) {
	// server config
	pflag.String("server-url", "0.0.0.0:8080", "")
	pflag.String("log-level", "info", "debug, info, warn or error")

	// db config
	pflag.String("db-user", "", "")
	pflag.String("db-password", "", "")
	pflag.String("db-host", "", "")
	pflag.Int("db-port", 5432, "")
	pflag.String("db-database", "", "")
	pflag.String("db-schema", "public", "")
	pflag.Int("db-max-open-conns", 50, "")
	pflag.Int("db-max-idle-conns", 10, "")

	// redis config，redis-addr 為空時停用出價鎖與 stream 通知
	pflag.String("redis-addr", "", "")
	pflag.String("redis-password", "", "")
	pflag.Int("redis-db", 15, "")
	pflag.String("redis-key-prefix", "auction:", "")

	// redis stream keys
	pflag.String("redis-stream-key-for-notifications", "notifications", "")

	// market config
	pflag.String("min-bid-increment", "1.00", "")
	pflag.Int("soft-close-window-seconds", 300, "0 disables soft close")
	pflag.Int("soft-close-extension-seconds", 300, "")
	pflag.String("platform-fee-rate", "0.05", "")
	pflag.String("currency", "USD", "")

	// scheduler config
	pflag.Int("scheduler-interval-seconds", 60, "")
	pflag.Int("settlement-max-attempts", 5, "")

	// bind pflag to viper
	pflag.Parse()
	viper.BindPFlags(pflag.CommandLine)
	viper.AutomaticEnv()
	viper.SetEnvPrefix("AUCTION")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	minIncrement, err := decimal.NewFromString(viper.GetString("min-bid-increment"))
	if err != nil {
		return Args{}, fmt.Errorf("invalid min-bid-increment, err=%w", err)
	}
	feeRate, err := decimal.NewFromString(viper.GetString("platform-fee-rate"))
	if err != nil {
		return Args{}, fmt.Errorf("invalid platform-fee-rate, err=%w", err)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		return Args{}, fmt.Errorf("invalid log-level, err=%w", err)
	}

	// initial arguments
	return Args{
		ServerURL: viper.GetString("server-url"),
		LogLevel:  level,
		ServerConfig: api.ServerConfig{
			DB: api.DBConfig{
				User:         viper.GetString("db-user"),
				Password:     viper.GetString("db-password"),
				Host:         viper.GetString("db-host"),
				Port:         viper.GetInt("db-port"),
				Database:     viper.GetString("db-database"),
				Schema:       viper.GetString("db-schema"),
				MaxOpenConns: viper.GetInt("db-max-open-conns"),
				MaxIdleConns: viper.GetInt("db-max-idle-conns"),
			},
			Redis: api.RedisConfig{
				Addr:      viper.GetString("redis-addr"),
				Password:  viper.GetString("redis-password"),
				DB:        viper.GetInt("redis-db"),
				KeyPrefix: viper.GetString("redis-key-prefix"),
				StreamKeys: api.RedisStreamKeys{
					Notifications: viper.GetString("redis-stream-key-for-notifications"),
				},
			},
			Market: api.MarketConfig{
				MinBidIncrement:    minIncrement,
				SoftCloseWindow:    time.Duration(viper.GetInt("soft-close-window-seconds")) * time.Second,
				SoftCloseExtension: time.Duration(viper.GetInt("soft-close-extension-seconds")) * time.Second,
				PlatformFeeRate:    feeRate,
				Currency:           viper.GetString("currency"),
			},
			Scheduler: api.SchedulerConfig{
				Interval:    time.Duration(viper.GetInt("scheduler-interval-seconds")) * time.Second,
				MaxAttempts: viper.GetInt("settlement-max-attempts"),
			},
		},
	}, nil
}

type Args struct {
	ServerURL    string
	LogLevel     slog.Level
	ServerConfig api.ServerConfig
}

func (args Args) Validate() bool {
	db := args.ServerConfig.DB
	market := args.ServerConfig.Market
	scheduler := args.ServerConfig.Scheduler
	return args.ServerURL != "" &&
		db.User != "" && db.Host != "" && db.Database != "" && db.Schema != "" &&
		market.MinBidIncrement.IsPositive() &&
		!market.PlatformFeeRate.IsNegative() && market.PlatformFeeRate.LessThan(decimal.NewFromInt(1)) &&
		market.SoftCloseWindow >= 0 && market.SoftCloseExtension >= 0 &&
		market.Currency != "" &&
		scheduler.Interval > 0 && scheduler.MaxAttempts > 0
}
