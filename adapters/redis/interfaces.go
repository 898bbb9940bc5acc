package redis

import (
	"context"

	"github.com/google/uuid"
)

// IPublisher 定義了 Publisher 的操作介面
type IPublisher[T any] interface {
	Start()
	Publish(data T) error
	Close()
}

// ILocker 定義了 AuctionLocker 的操作介面
type ILocker interface {
	Lock(ctx context.Context, auctionID uuid.UUID) (context.Context, func(), error)
}

var (
	_ IPublisher[struct{}] = (*Publisher[struct{}])(nil)
	_ ILocker              = (*AuctionLocker)(nil)
)
