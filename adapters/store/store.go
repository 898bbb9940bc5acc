package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"

	"marketplace/models"
)

// Store 是交易式儲存的進入點
// 核心操作一律透過 Begin 取得 Tx，明確 Commit 或 Rollback
type Store struct {
	db *gorm.DB
}

type Options struct {
	Schema          string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type Option func(*Options)

// WithSchema 設定資料表所在的 schema
func WithSchema(schema string) Option {
	return func(o *Options) {
		o.Schema = schema
	}
}

// WithPool 設定連線池大小
func WithPool(maxOpen, maxIdle int, lifetime time.Duration) Option {
	return func(o *Options) {
		o.MaxOpenConns = maxOpen
		o.MaxIdleConns = maxIdle
		o.ConnMaxLifetime = lifetime
	}
}

// New 使用既有的 gorm 連線建立 Store
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Open 連線到 PostgreSQL
func Open(dsn string, opts ...Option) (*Store, error) {
	const op = "store.Open"
	options := Options{
		MaxOpenConns:    50,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
	}
	for _, opt := range opts {
		opt(&options)
	}

	config := &gorm.Config{TranslateError: true}
	if options.Schema != "" {
		config.NamingStrategy = schema.NamingStrategy{
			TablePrefix: options.Schema + ".",
		}
	}
	db, err := gorm.Open(postgres.Open(dsn), config)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to get connection pool, err=%w", op, err)
	}
	sqlDB.SetMaxOpenConns(options.MaxOpenConns)
	sqlDB.SetMaxIdleConns(options.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(options.ConnMaxLifetime)
	return New(db), nil
}

// Migrate 建立或更新資料表
func (s *Store) Migrate(ctx context.Context) error {
	const op = "store.Migrate"
	if err := s.db.WithContext(ctx).AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("[%s] Fail to migrate schema, err=%w", op, err)
	}
	return nil
}

// DB 返回交易外的查詢連線
// NOTE: 交易進行中不可使用，否則在單一連線的環境下會互相等待
func (s *Store) DB(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Begin 開始一個新的交易
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	const op = "store.Begin"
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to begin transaction, err=%w", op, tx.Error)
	}
	return &Tx{db: tx}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Tx 是一個進行中的交易
type Tx struct {
	db       *gorm.DB
	finished bool
}

// DB 返回綁定在交易上的連線
func (tx *Tx) DB() *gorm.DB {
	return tx.db
}

// ForUpdate 以 SELECT ... FOR UPDATE 鎖定讀到的資料列
func (tx *Tx) ForUpdate() *gorm.DB {
	return tx.db.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (tx *Tx) Commit() error {
	const op = "store.Tx.Commit"
	if tx.finished {
		return fmt.Errorf("[%s] transaction already finished", op)
	}
	tx.finished = true
	if err := tx.db.Commit().Error; err != nil {
		return fmt.Errorf("[%s] Fail to commit transaction, err=%w", op, err)
	}
	return nil
}

// Rollback 回滾交易，交易已結束時不做任何事，方便搭配 defer 使用
func (tx *Tx) Rollback() error {
	if tx.finished {
		return nil
	}
	tx.finished = true
	return tx.db.Rollback().Error
}

// IsNotFound 判斷是否為查無資料
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// IsDuplicate 判斷是否違反唯一鍵
func IsDuplicate(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
