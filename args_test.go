package main

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"marketplace/api"
)

func validArgs() Args {
	return Args{
		ServerURL: "0.0.0.0:8080",
		ServerConfig: api.ServerConfig{
			DB: api.DBConfig{User: "auction", Host: "localhost", Port: 5432, Database: "auction", Schema: "public"},
			Market: api.MarketConfig{
				MinBidIncrement:    decimal.NewFromInt(1),
				SoftCloseWindow:    5 * time.Minute,
				SoftCloseExtension: 5 * time.Minute,
				PlatformFeeRate:    decimal.RequireFromString("0.05"),
				Currency:           "USD",
			},
			Scheduler: api.SchedulerConfig{Interval: time.Minute, MaxAttempts: 5},
		},
	}
}

func TestArgsValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Args)
		want   bool
	}{
		{name: "valid", modify: func(*Args) {}, want: true},
		{name: "soft close disabled", modify: func(a *Args) { a.ServerConfig.Market.SoftCloseWindow = 0 }, want: true},
		{name: "zero fee", modify: func(a *Args) { a.ServerConfig.Market.PlatformFeeRate = decimal.Zero }, want: true},
		{name: "missing db host", modify: func(a *Args) { a.ServerConfig.DB.Host = "" }, want: false},
		{name: "zero increment", modify: func(a *Args) { a.ServerConfig.Market.MinBidIncrement = decimal.Zero }, want: false},
		{name: "fee rate of one", modify: func(a *Args) { a.ServerConfig.Market.PlatformFeeRate = decimal.NewFromInt(1) }, want: false},
		{name: "negative fee rate", modify: func(a *Args) { a.ServerConfig.Market.PlatformFeeRate = decimal.RequireFromString("-0.01") }, want: false},
		{name: "zero interval", modify: func(a *Args) { a.ServerConfig.Scheduler.Interval = 0 }, want: false},
		{name: "zero attempts", modify: func(a *Args) { a.ServerConfig.Scheduler.MaxAttempts = 0 }, want: false},
		{name: "missing currency", modify: func(a *Args) { a.ServerConfig.Market.Currency = "" }, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := validArgs()
			tt.modify(&args)
			assert.Equal(t, tt.want, args.Validate())
		})
	}
}
