package marketerrors

import (
	"errors"
)

// 錯誤分類，所有業務錯誤都會 unwrap 到其中一個分類
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrSystem     = errors.New("system error")
)

// Error 是帶有分類的業務錯誤
type Error struct {
	kind    error
	message string
}

func newError(kind error, message string) *Error {
	return &Error{kind: kind, message: message}
}

func (e *Error) Error() string {
	return e.message
}

func (e *Error) Unwrap() error {
	return e.kind
}

// Kind 返回錯誤所屬的分類
func (e *Error) Kind() error {
	return e.kind
}

// 驗證錯誤
var (
	ErrInvalidAmount = newError(ErrValidation, "invalid amount")
	ErrInvalidInput  = newError(ErrValidation, "invalid input")
)

// 資源不存在
var (
	ErrAuctionNotFound = newError(ErrNotFound, "auction not found")
	ErrWalletNotFound  = newError(ErrNotFound, "wallet not found")
	ErrOrderNotFound   = newError(ErrNotFound, "order not found")
)

// 狀態衝突
var (
	ErrAuctionNotActive  = newError(ErrConflict, "auction is not accepting bids")
	ErrBidTooLow         = newError(ErrConflict, "bid amount too low")
	ErrBidOnOwnAuction   = newError(ErrConflict, "cannot bid on this auction")
	ErrInsufficientFunds = newError(ErrConflict, "insufficient funds")
	ErrWalletInactive    = newError(ErrConflict, "wallet is not active")
	ErrInvalidHoldState  = newError(ErrConflict, "invalid hold state")
	ErrInvalidTransition = newError(ErrConflict, "invalid auction status transition")
	ErrNotOwner          = newError(ErrConflict, "only the seller can modify this auction")
	ErrConcurrentUpdate  = newError(ErrConflict, "auction was modified concurrently")
)

// ErrLedgerMismatch 表示帳本重播結果和錢包餘額不一致，需要人工對帳
var ErrLedgerMismatch = newError(ErrSystem, "ledger replay does not match wallet balance")

type systemError struct {
	err error
}

func (e *systemError) Error() string {
	return "system error: " + e.err.Error()
}

func (e *systemError) Unwrap() []error {
	return []error{ErrSystem, e.err}
}

// System 將儲存層或未預期的錯誤標記為系統錯誤，原始錯誤仍可透過 errors.Is/As 取得
func System(err error) error {
	if err == nil {
		return nil
	}
	var marked *systemError
	if errors.As(err, &marked) {
		return err
	}
	return &systemError{err: err}
}

// KindOf 返回錯誤的分類，無法判斷的錯誤一律視為系統錯誤
func KindOf(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation):
		return ErrValidation
	case errors.Is(err, ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrConflict):
		return ErrConflict
	default:
		return ErrSystem
	}
}
