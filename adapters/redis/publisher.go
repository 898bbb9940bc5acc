package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"
)

var (
	ErrPublisherClosed = errors.New("publisher is closed")
)

type publisherOptions[T any] struct {
	logger       *slog.Logger
	bufferSize   int
	maxLen       int64
	drainTimeout time.Duration
	sendTimeout  time.Duration
	encodeFunc   func(T) (map[string]any, error)
}

type PublisherOption[T any] func(*publisherOptions[T])

// WithPublisherLogger 設置日誌記錄器
func WithPublisherLogger[T any](logger *slog.Logger) PublisherOption[T] {
	return func(o *publisherOptions[T]) {
		o.logger = logger
	}
}

// WithPublisherBufferSize 設置緩衝初始大小
func WithPublisherBufferSize[T any](size int) PublisherOption[T] {
	return func(o *publisherOptions[T]) {
		o.bufferSize = size
	}
}

// WithPublisherMaxLen 限制 stream 長度，0 表示不限制
func WithPublisherMaxLen[T any](maxLen int64) PublisherOption[T] {
	return func(o *publisherOptions[T]) {
		o.maxLen = maxLen
	}
}

// WithPublisherDrainTimeout 設置關閉時等待緩衝送出的時間
func WithPublisherDrainTimeout[T any](d time.Duration) PublisherOption[T] {
	return func(o *publisherOptions[T]) {
		o.drainTimeout = d
	}
}

// WithPublisherEncodeFunc 設置訊息序列化函數
func WithPublisherEncodeFunc[T any](fn func(T) (map[string]any, error)) PublisherOption[T] {
	return func(o *publisherOptions[T]) {
		o.encodeFunc = fn
	}
}

// Publisher 非同步地將訊息寫入 redis stream
// Publish 只負責放入無上限緩衝，呼叫端不會因 redis 延遲而阻塞
type Publisher[T any] struct {
	client     redis.Cmdable
	stream     string
	upstream   *chanx.UnboundedChan[map[string]any]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	logger     *slog.Logger
	options    publisherOptions[T]
}

func NewPublisher[T any](client redis.Cmdable, stream string, opts ...PublisherOption[T]) (*Publisher[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	options := publisherOptions[T]{
		logger:       slog.Default(),
		bufferSize:   100,
		drainTimeout: time.Second,
		sendTimeout:  5 * time.Second,
		encodeFunc:   EncodeMessage[T],
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Publisher[T]{
		client:  client,
		stream:  stream,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Publisher"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (p *Publisher[T]) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.upstream = chanx.NewUnboundedChan[map[string]any](ctx, p.options.bufferSize)
	p.cancelFunc = cancel
	p.closed = false
	p.logger.Info("starting stream publisher")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.logger.Info("publisher goroutine stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case message := <-p.upstream.Out:
				p.send(message)
			}
		}
	}()
}

// send 不綁定 Publisher 的生命週期，關閉時進行中的訊息仍會送完
func (p *Publisher[T]) send(message map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), p.options.sendTimeout)
	defer cancel()
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: message,
	}
	if p.options.maxLen > 0 {
		args.MaxLen = p.options.maxLen
		args.Approx = true
	}
	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		p.logger.Error("publish message error", slog.Any("error", err))
		return
	}
	p.logger.Debug("message published", slog.String("messageId", id))
}

// Publish 將訊息放入緩衝，由背景 goroutine 寫入 stream
func (p *Publisher[T]) Publish(data T) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}

	message, err := p.options.encodeFunc(data)
	if err != nil {
		return fmt.Errorf("encode message error: %w", err)
	}

	p.upstream.In <- message
	return nil
}

// Close 停止接受新訊息，等待緩衝送出(最多 drainTimeout)後結束背景 goroutine
func (p *Publisher[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.logger.Info("closing stream publisher")
	deadline := time.Now().Add(p.options.drainTimeout)
	for p.upstream.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if left := p.upstream.Len(); left > 0 {
		p.logger.Warn("dropping buffered messages", slog.Int("count", left))
	}
	p.cancelFunc()
	p.wg.Wait()
	p.logger.Info("stream publisher closed")
}
