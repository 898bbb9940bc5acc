package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang/mock/gomock"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/adapters/redis"
)

func newNotification() Notification {
	return Notification{
		UserID:    uuid.New(),
		Type:      EventOutbid,
		Title:     "You have been outbid",
		Message:   "A higher bid of 150.00 was placed",
		Payload:   map[string]string{"auctionID": uuid.NewString(), "amount": "150.00"},
		CreatedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFanout(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	n := newNotification()
	failing := NewMockSink(ctrl)
	healthy := NewMockSink(ctrl)
	failing.EXPECT().Notify(gomock.Any(), n).Return(errors.New("boom"))
	healthy.EXPECT().Notify(gomock.Any(), n).Return(nil)

	err := Fanout{failing, healthy}.Notify(context.Background(), n)
	assert.EqualError(t, err, "boom")
}

func TestSend(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	n := newNotification()

	sink := NewMockSink(ctrl)
	sink.EXPECT().Notify(gomock.Any(), n).Return(errors.New("sink down"))

	Send(context.Background(), sink, logger, n)
	assert.Contains(t, buf.String(), "Fail to send notification")
	assert.Contains(t, buf.String(), "sink down")

	// 未設定傳送端時不做任何事
	Send(context.Background(), nil, logger, n)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	n := newNotification()
	require.NoError(t, sink.Notify(context.Background(), n))
	assert.Contains(t, buf.String(), "type=OUTBID")
	assert.Contains(t, buf.String(), n.UserID.String())
}

type stubPublisher struct {
	published []Message
	err       error
}

func (p *stubPublisher) Start() {}
func (p *stubPublisher) Close() {}
func (p *stubPublisher) Publish(m Message) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, m)
	return nil
}

func TestStreamSink(t *testing.T) {
	t.Run("converts notification", func(t *testing.T) {
		publisher := &stubPublisher{}
		n := newNotification()

		require.NoError(t, NewStreamSink(publisher).Notify(context.Background(), n))
		require.Len(t, publisher.published, 1)
		got := publisher.published[0]
		assert.Equal(t, n.UserID.String(), got.UserID)
		assert.Equal(t, "OUTBID", got.Type)
		assert.Equal(t, n.Payload, got.Payload)
	})

	t.Run("publisher closed", func(t *testing.T) {
		publisher := &stubPublisher{err: redis.ErrPublisherClosed}
		err := NewStreamSink(publisher).Notify(context.Background(), newNotification())
		assert.ErrorIs(t, err, redis.ErrPublisherClosed)
	})

	t.Run("delivered to redis stream", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		defer client.Close()

		publisher, err := redis.NewPublisher[Message](client, "notifications")
		require.NoError(t, err)
		publisher.Start()

		n := newNotification()
		require.NoError(t, NewStreamSink(publisher).Notify(context.Background(), n))
		publisher.Close()

		entries, err := client.XRange(context.Background(), "notifications", "-", "+").Result()
		require.NoError(t, err)
		require.Len(t, entries, 1)

		got, err := redis.DecodeMessage[Message](entries[0].Values)
		require.NoError(t, err)
		assert.Equal(t, n.UserID.String(), got.UserID)
		assert.Equal(t, n.Title, got.Title)
		assert.True(t, n.CreatedAt.Equal(got.CreatedAt))
	})
}
