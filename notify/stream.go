package notify

import (
	"context"
	"fmt"
	"time"

	"marketplace/adapters/redis"
)

// Message 是寫入 redis stream 的通知格式
type Message struct {
	UserID    string            `msgpack:"user_id"`
	Type      string            `msgpack:"type"`
	Title     string            `msgpack:"title"`
	Message   string            `msgpack:"message"`
	Payload   map[string]string `msgpack:"payload"`
	CreatedAt time.Time         `msgpack:"created_at"`
}

// StreamSink 將通知交給 redis stream publisher 非同步送出
type StreamSink struct {
	publisher redis.IPublisher[Message]
}

func NewStreamSink(publisher redis.IPublisher[Message]) *StreamSink {
	return &StreamSink{publisher: publisher}
}

func (s *StreamSink) Notify(_ context.Context, n Notification) error {
	const op = "notify.StreamSink.Notify"
	err := s.publisher.Publish(Message{
		UserID:    n.UserID.String(),
		Type:      string(n.Type),
		Title:     n.Title,
		Message:   n.Message,
		Payload:   n.Payload,
		CreatedAt: n.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("[%s] Fail to publish notification, err=%w", op, err)
	}
	return nil
}
