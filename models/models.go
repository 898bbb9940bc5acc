package models

import (
	"github.com/google/uuid"
)

// ReferenceType 標記帳本紀錄關聯的業務物件
const (
	ReferenceTypeAuction = "AUCTION"
	ReferenceTypePayment = "PAYMENT"
)

// All 返回需要建立資料表的所有模型
func All() []any {
	return []any{
		&Auction{},
		&Bid{},
		&Wallet{},
		&LedgerEntry{},
		&Hold{},
		&Order{},
		&SettlementTask{},
	}
}

// newID 產生時間有序的 UUIDv7 作為主鍵
func newID(id *uuid.UUID) error {
	if *id != uuid.Nil {
		return nil
	}
	generated, err := uuid.NewV7()
	if err != nil {
		return err
	}
	*id = generated
	return nil
}
