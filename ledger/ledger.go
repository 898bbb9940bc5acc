// Package ledger 管理使用者錢包的可用餘額及凍結金額
//
// 每個操作都在單一交易中完成，先以 SELECT ... FOR UPDATE 鎖定錢包，
// 再更新餘額並新增一筆不可修改的帳本紀錄。
// 不同錢包的操作可以平行執行，同一錢包的操作由資料庫依序執行。
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm/clause"

	"marketplace/adapters/store"
	"marketplace/clock"
	"marketplace/marketerrors"
	"marketplace/models"
)

type options struct {
	feeRate  decimal.Decimal
	currency string
	clock    clock.Clock
	logger   *slog.Logger
}

type Option func(*options)

// WithFeeRate 設置平台手續費率，例如 0.10 代表 10%
func WithFeeRate(rate decimal.Decimal) Option {
	return func(o *options) {
		o.feeRate = rate
	}
}

// WithCurrency 設置新錢包的幣別
func WithCurrency(currency string) Option {
	return func(o *options) {
		o.currency = currency
	}
}

func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

type Ledger struct {
	store   *store.Store
	clock   clock.Clock
	logger  *slog.Logger
	options options
}

func New(s *store.Store, opts ...Option) *Ledger {
	o := options{
		feeRate:  decimal.Zero,
		currency: "USD",
		clock:    clock.Real{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Ledger{
		store:   s,
		clock:   o.clock,
		logger:  o.logger.With(slog.String("caller", "Ledger")),
		options: o,
	}
}

// Balance 是錢包目前的狀態
type Balance struct {
	Available decimal.Decimal
	Held      decimal.Decimal
	Currency  string
	IsActive  bool
}

// Capture 是一次扣款產生的帳本紀錄
type Capture struct {
	Buyer models.LedgerEntry
	Sale  models.LedgerEntry
	// Fee 在手續費為 0 時為 nil
	Fee *models.LedgerEntry
	// Net 為賣家實際增加的金額
	Net decimal.Decimal
}

// FeeFor 計算成交金額的平台手續費，四捨五入到小數兩位
func (l *Ledger) FeeFor(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(l.options.feeRate).Round(2)
}

// GetWalletBalance 查詢錢包餘額，錢包不存在時返回未啟用的零餘額
func (l *Ledger) GetWalletBalance(ctx context.Context, userID uuid.UUID) (Balance, error) {
	const op = "ledger.GetWalletBalance"
	var wallet models.Wallet
	err := l.store.DB(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if store.IsNotFound(err) {
		return Balance{
			Available: decimal.Zero,
			Held:      decimal.Zero,
			Currency:  l.options.currency,
		}, nil
	}
	if err != nil {
		return Balance{}, marketerrors.System(fmt.Errorf("[%s] Fail to load wallet, err=%w", op, err))
	}
	return Balance{
		Available: wallet.Balance,
		Held:      wallet.HeldFunds,
		Currency:  wallet.Currency,
		IsActive:  wallet.IsActive,
	}, nil
}

// Deposit 入金並啟用錢包
func (l *Ledger) Deposit(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, referenceID string) (*models.LedgerEntry, error) {
	const op = "ledger.Deposit"
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	var entry *models.LedgerEntry
	err := l.inTx(ctx, op, func(tx *store.Tx) error {
		wallet, err := l.lockWallet(tx, userID, true)
		if err != nil {
			return err
		}
		before := wallet.Balance
		wallet.Balance = before.Add(amount)
		wallet.IsActive = true
		if err := l.saveWallet(tx, wallet); err != nil {
			return err
		}
		entry, err = l.appendEntry(tx, wallet, models.LedgerEntryDeposit, amount, before,
			referenceID, models.ReferenceTypePayment, "deposit")
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "deposit",
		slog.String("userID", userID.String()),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("referenceID", referenceID),
	)
	return entry, nil
}

// Withdraw 出金
func (l *Ledger) Withdraw(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, referenceID string) (*models.LedgerEntry, error) {
	const op = "ledger.Withdraw"
	if err := validateAmount(amount); err != nil {
		return nil, err
	}

	var entry *models.LedgerEntry
	err := l.inTx(ctx, op, func(tx *store.Tx) error {
		wallet, err := l.lockWallet(tx, userID, true)
		if err != nil {
			return err
		}
		if wallet.Balance.LessThan(amount) {
			return insufficientFunds(wallet.Balance, amount)
		}
		before := wallet.Balance
		wallet.Balance = before.Sub(amount)
		if err := l.saveWallet(tx, wallet); err != nil {
			return err
		}
		entry, err = l.appendEntry(tx, wallet, models.LedgerEntryWithdrawal, amount, before,
			referenceID, models.ReferenceTypePayment, "withdrawal")
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "withdraw",
		slog.String("userID", userID.String()),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("referenceID", referenceID),
	)
	return entry, nil
}

// HoldFunds 將可用餘額移到凍結金額
func (l *Ledger) HoldFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, referenceID, description string) (*models.LedgerEntry, error) {
	const op = "ledger.HoldFunds"
	var entry *models.LedgerEntry
	err := l.inTx(ctx, op, func(tx *store.Tx) error {
		var err error
		entry, err = l.HoldFundsTx(tx, userID, amount, referenceID, description)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "hold funds",
		slog.String("userID", userID.String()),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("referenceID", referenceID),
	)
	return entry, nil
}

// HoldFundsTx 在呼叫端的交易中凍結金額
func (l *Ledger) HoldFundsTx(tx *store.Tx, userID uuid.UUID, amount decimal.Decimal, referenceID, description string) (*models.LedgerEntry, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	wallet, err := l.lockWallet(tx, userID, true)
	if err != nil {
		return nil, err
	}
	if !wallet.IsActive {
		return nil, marketerrors.ErrWalletInactive
	}
	if wallet.Balance.LessThan(amount) {
		return nil, insufficientFunds(wallet.Balance, amount)
	}
	if err := l.addHold(tx, wallet, referenceID, amount); err != nil {
		return nil, err
	}

	before := wallet.Balance
	wallet.Balance = before.Sub(amount)
	wallet.HeldFunds = wallet.HeldFunds.Add(amount)
	if err := l.saveWallet(tx, wallet); err != nil {
		return nil, err
	}
	return l.appendEntry(tx, wallet, models.LedgerEntryHold, amount, before,
		referenceID, models.ReferenceTypeAuction, description)
}

// ReleaseFunds 將凍結金額退回可用餘額
func (l *Ledger) ReleaseFunds(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, referenceID, description string) (*models.LedgerEntry, error) {
	const op = "ledger.ReleaseFunds"
	var entry *models.LedgerEntry
	err := l.inTx(ctx, op, func(tx *store.Tx) error {
		var err error
		entry, err = l.ReleaseFundsTx(tx, userID, amount, referenceID, description)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.logger.InfoContext(ctx, "release funds",
		slog.String("userID", userID.String()),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("referenceID", referenceID),
	)
	return entry, nil
}

// ReleaseFundsTx 在呼叫端的交易中解除凍結
func (l *Ledger) ReleaseFundsTx(tx *store.Tx, userID uuid.UUID, amount decimal.Decimal, referenceID, description string) (*models.LedgerEntry, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	wallet, err := l.lockWallet(tx, userID, false)
	if err != nil {
		return nil, err
	}
	if err := l.drawDownHold(tx, wallet, referenceID, amount, models.HoldStatusReleased); err != nil {
		return nil, err
	}

	before := wallet.Balance
	wallet.Balance = before.Add(amount)
	wallet.HeldFunds = wallet.HeldFunds.Sub(amount)
	if err := l.saveWallet(tx, wallet); err != nil {
		return nil, err
	}
	return l.appendEntry(tx, wallet, models.LedgerEntryRelease, amount, before,
		referenceID, models.ReferenceTypeAuction, description)
}

// CaptureHeldFunds 將買家的凍結金額轉給賣家，並扣除平台手續費
func (l *Ledger) CaptureHeldFunds(ctx context.Context, buyerID, sellerID uuid.UUID, amount decimal.Decimal, referenceID, description string) (*Capture, error) {
	const op = "ledger.CaptureHeldFunds"
	var capture *Capture
	err := l.inTx(ctx, op, func(tx *store.Tx) error {
		var err error
		capture, err = l.CaptureHeldFundsTx(tx, buyerID, sellerID, amount, referenceID, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return capture, nil
}

// CaptureHeldFundsTx 在呼叫端的交易中扣款，讓扣款和訂單狀態可以一起提交
func (l *Ledger) CaptureHeldFundsTx(tx *store.Tx, buyerID, sellerID uuid.UUID, amount decimal.Decimal, referenceID, description string) (*Capture, error) {
	if err := validateAmount(amount); err != nil {
		return nil, err
	}
	if buyerID == sellerID {
		return nil, fmt.Errorf("%w: buyer and seller must differ", marketerrors.ErrInvalidInput)
	}

	// 固定以 user id 順序鎖定，避免兩筆交易互相等待
	var buyer, seller *models.Wallet
	var err error
	if buyerID.String() < sellerID.String() {
		if buyer, err = l.lockWallet(tx, buyerID, false); err != nil {
			return nil, err
		}
		if seller, err = l.lockWallet(tx, sellerID, true); err != nil {
			return nil, err
		}
	} else {
		if seller, err = l.lockWallet(tx, sellerID, true); err != nil {
			return nil, err
		}
		if buyer, err = l.lockWallet(tx, buyerID, false); err != nil {
			return nil, err
		}
	}

	if err := l.drawDownHold(tx, buyer, referenceID, amount, models.HoldStatusCaptured); err != nil {
		return nil, err
	}
	buyer.HeldFunds = buyer.HeldFunds.Sub(amount)
	if err := l.saveWallet(tx, buyer); err != nil {
		return nil, err
	}
	buyerEntry, err := l.appendEntry(tx, buyer, models.LedgerEntryCapture, amount, buyer.Balance,
		referenceID, models.ReferenceTypeAuction, description)
	if err != nil {
		return nil, err
	}

	fee := l.FeeFor(amount)
	capture := &Capture{Buyer: *buyerEntry, Net: amount.Sub(fee)}

	before := seller.Balance
	seller.Balance = before.Add(amount)
	saleEntry, err := l.appendEntry(tx, seller, models.LedgerEntryCreditSale, amount, before,
		referenceID, models.ReferenceTypeAuction, description)
	if err != nil {
		return nil, err
	}
	capture.Sale = *saleEntry

	if fee.IsPositive() {
		before = seller.Balance
		seller.Balance = before.Sub(fee)
		feeEntry, err := l.appendEntry(tx, seller, models.LedgerEntryFee, fee, before,
			referenceID, models.ReferenceTypeAuction, "platform fee")
		if err != nil {
			return nil, err
		}
		capture.Fee = feeEntry
	}
	if err := l.saveWallet(tx, seller); err != nil {
		return nil, err
	}

	l.logger.Info("capture held funds",
		slog.String("buyerID", buyerID.String()),
		slog.String("sellerID", sellerID.String()),
		slog.String("amount", amount.StringFixed(2)),
		slog.String("fee", fee.StringFixed(2)),
		slog.String("referenceID", referenceID),
	)
	return capture, nil
}

// OutstandingHold 返回使用者針對某參考物件仍凍結中的金額
func (l *Ledger) OutstandingHold(ctx context.Context, userID uuid.UUID, referenceID string) (decimal.Decimal, error) {
	const op = "ledger.OutstandingHold"
	var hold models.Hold
	err := l.store.DB(ctx).
		Where("user_id = ? AND reference_id = ? AND status = ?", userID, referenceID, models.HoldStatusActive).
		First(&hold).Error
	if store.IsNotFound(err) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, marketerrors.System(fmt.Errorf("[%s] Fail to load hold, err=%w", op, err))
	}
	return hold.Amount, nil
}

// ActiveHolds 列出某參考物件所有仍凍結中的金額
func (l *Ledger) ActiveHolds(ctx context.Context, referenceID string) ([]models.Hold, error) {
	const op = "ledger.ActiveHolds"
	var holds []models.Hold
	err := l.store.DB(ctx).
		Where("reference_id = ? AND status = ?", referenceID, models.HoldStatusActive).
		Order("created_at, id").
		Find(&holds).Error
	if err != nil {
		return nil, marketerrors.System(fmt.Errorf("[%s] Fail to list holds, err=%w", op, err))
	}
	return holds, nil
}

func (l *Ledger) inTx(ctx context.Context, op string, fn func(tx *store.Tx) error) error {
	tx, err := l.store.Begin(ctx)
	if err != nil {
		return marketerrors.System(err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return marketerrors.System(fmt.Errorf("[%s] %w", op, err))
	}
	return nil
}

// lockWallet 鎖定錢包，create 為 true 時在第一次使用時建立未啟用的錢包
func (l *Ledger) lockWallet(tx *store.Tx, userID uuid.UUID, create bool) (*models.Wallet, error) {
	const op = "ledger.lockWallet"
	if create {
		wallet := &models.Wallet{
			UserID:    userID,
			Balance:   decimal.Zero,
			HeldFunds: decimal.Zero,
			Currency:  l.options.currency,
		}
		err := tx.DB().
			Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
			Create(wallet).Error
		if err != nil {
			return nil, marketerrors.System(fmt.Errorf("[%s] Fail to create wallet, err=%w", op, err))
		}
	}

	var wallet models.Wallet
	err := tx.ForUpdate().Where("user_id = ?", userID).First(&wallet).Error
	if store.IsNotFound(err) {
		return nil, fmt.Errorf("%w: user %s", marketerrors.ErrWalletNotFound, userID)
	}
	if err != nil {
		return nil, marketerrors.System(fmt.Errorf("[%s] Fail to lock wallet, err=%w", op, err))
	}
	return &wallet, nil
}

func (l *Ledger) saveWallet(tx *store.Tx, wallet *models.Wallet) error {
	const op = "ledger.saveWallet"
	if wallet.Balance.IsNegative() || wallet.HeldFunds.IsNegative() {
		return marketerrors.System(fmt.Errorf("[%s] wallet %s would become negative", op, wallet.ID))
	}
	wallet.UpdatedAt = l.clock.Now()
	if err := tx.DB().Save(wallet).Error; err != nil {
		return marketerrors.System(fmt.Errorf("[%s] Fail to save wallet, err=%w", op, err))
	}
	return nil
}

func (l *Ledger) appendEntry(
	tx *store.Tx,
	wallet *models.Wallet,
	entryType models.LedgerEntryType,
	amount, before decimal.Decimal,
	referenceID, referenceType, description string,
) (*models.LedgerEntry, error) {
	const op = "ledger.appendEntry"
	entry := &models.LedgerEntry{
		WalletID:      wallet.ID,
		Type:          entryType,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  wallet.Balance,
		ReferenceID:   referenceID,
		ReferenceType: referenceType,
		Description:   description,
		CreatedAt:     l.clock.Now(),
	}
	if err := tx.DB().Create(entry).Error; err != nil {
		return nil, marketerrors.System(fmt.Errorf("[%s] Fail to append %s entry, err=%w", op, entryType, err))
	}
	return entry, nil
}

// addHold 增加 (錢包, 參考物件) 的凍結金額
func (l *Ledger) addHold(tx *store.Tx, wallet *models.Wallet, referenceID string, amount decimal.Decimal) error {
	const op = "ledger.addHold"
	var hold models.Hold
	err := tx.ForUpdate().
		Where("wallet_id = ? AND reference_id = ?", wallet.ID, referenceID).
		First(&hold).Error
	switch {
	case store.IsNotFound(err):
		hold = models.Hold{
			WalletID:    wallet.ID,
			UserID:      wallet.UserID,
			ReferenceID: referenceID,
			Amount:      amount,
			Status:      models.HoldStatusActive,
		}
		err = tx.DB().Create(&hold).Error
	case err == nil:
		hold.Amount = hold.Amount.Add(amount)
		hold.Status = models.HoldStatusActive
		err = tx.DB().Save(&hold).Error
	}
	if err != nil {
		return marketerrors.System(fmt.Errorf("[%s] Fail to record hold, err=%w", op, err))
	}
	return nil
}

// drawDownHold 減少凍結金額，金額歸零時將狀態改為 final
func (l *Ledger) drawDownHold(tx *store.Tx, wallet *models.Wallet, referenceID string, amount decimal.Decimal, final models.HoldStatus) error {
	const op = "ledger.drawDownHold"
	if wallet.HeldFunds.LessThan(amount) {
		return fmt.Errorf("%w: held %s, requested %s",
			marketerrors.ErrInvalidHoldState, wallet.HeldFunds.StringFixed(2), amount.StringFixed(2))
	}

	var hold models.Hold
	err := tx.ForUpdate().
		Where("wallet_id = ? AND reference_id = ? AND status = ?", wallet.ID, referenceID, models.HoldStatusActive).
		First(&hold).Error
	if store.IsNotFound(err) {
		return fmt.Errorf("%w: no active hold for %s", marketerrors.ErrInvalidHoldState, referenceID)
	}
	if err != nil {
		return marketerrors.System(fmt.Errorf("[%s] Fail to load hold, err=%w", op, err))
	}
	if hold.Amount.LessThan(amount) {
		return fmt.Errorf("%w: held %s for %s, requested %s",
			marketerrors.ErrInvalidHoldState, hold.Amount.StringFixed(2), referenceID, amount.StringFixed(2))
	}

	hold.Amount = hold.Amount.Sub(amount)
	if hold.Amount.IsZero() {
		hold.Status = final
	}
	if err := tx.DB().Save(&hold).Error; err != nil {
		return marketerrors.System(fmt.Errorf("[%s] Fail to update hold, err=%w", op, err))
	}
	return nil
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", marketerrors.ErrInvalidAmount)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: at most two decimal places", marketerrors.ErrInvalidAmount)
	}
	return nil
}

func insufficientFunds(available, requested decimal.Decimal) error {
	return fmt.Errorf("%w: available %s, requested %s",
		marketerrors.ErrInsufficientFunds, available.StringFixed(2), requested.StringFixed(2))
}
