//go:generate mockgen -package=notify -destination=mock_notify.go -source=notify.go

// Package notify 定義通知的出口，通知失敗只記錄，不影響已完成的交易
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventOutbid        EventType = "OUTBID"
	EventAuctionWon    EventType = "AUCTION_WON"
	EventAuctionSold   EventType = "AUCTION_SOLD"
	EventAuctionLost   EventType = "AUCTION_LOST"
	EventAuctionUnsold EventType = "AUCTION_UNSOLD"
)

type Notification struct {
	UserID    uuid.UUID
	Type      EventType
	Title     string
	Message   string
	Payload   map[string]string
	CreatedAt time.Time
}

// Sink 是通知的傳送端
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// LogSink 將通知寫入日誌，未設定其他傳送端時使用
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With(slog.String("caller", "LogSink"))}
}

func (s *LogSink) Notify(ctx context.Context, n Notification) error {
	s.logger.InfoContext(ctx, "notification",
		slog.String("userID", n.UserID.String()),
		slog.String("type", string(n.Type)),
		slog.String("title", n.Title),
		slog.Any("payload", n.Payload),
	)
	return nil
}

// Fanout 依序送往每個傳送端，單一傳送端失敗不影響其他
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Send 送出通知並吞掉錯誤
func Send(ctx context.Context, sink Sink, logger *slog.Logger, n Notification) {
	if sink == nil {
		return
	}
	if err := sink.Notify(ctx, n); err != nil {
		logger.WarnContext(ctx, "Fail to send notification",
			slog.String("userID", n.UserID.String()),
			slog.String("type", string(n.Type)),
			slog.Any("error", err),
		)
	}
}
