package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"marketplace/adapters/store"
	"marketplace/marketerrors"
	"marketplace/models"
)

// Entries 依建立順序列出錢包的帳本紀錄，錢包不存在時返回空列表
func (l *Ledger) Entries(ctx context.Context, userID uuid.UUID) ([]models.LedgerEntry, error) {
	const op = "ledger.Entries"
	var wallet models.Wallet
	err := l.store.DB(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if store.IsNotFound(err) {
		return []models.LedgerEntry{}, nil
	}
	if err != nil {
		return nil, marketerrors.System(fmt.Errorf("[%s] Fail to load wallet, err=%w", op, err))
	}
	return l.walletEntries(ctx, wallet.ID)
}

func (l *Ledger) walletEntries(ctx context.Context, walletID uuid.UUID) ([]models.LedgerEntry, error) {
	const op = "ledger.walletEntries"
	var entries []models.LedgerEntry
	err := l.store.DB(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at, id").
		Find(&entries).Error
	if err != nil {
		return nil, marketerrors.System(fmt.Errorf("[%s] Fail to list entries, err=%w", op, err))
	}
	return entries, nil
}

// Verify 重播帳本紀錄並和錢包目前的餘額比對
// 每筆紀錄的 BalanceBefore 必須等於前一筆的 BalanceAfter，
// 且凍結相關紀錄的加總必須等於目前的凍結金額
func (l *Ledger) Verify(ctx context.Context, userID uuid.UUID) error {
	const op = "ledger.Verify"
	var wallet models.Wallet
	err := l.store.DB(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if store.IsNotFound(err) {
		return fmt.Errorf("%w: user %s", marketerrors.ErrWalletNotFound, userID)
	}
	if err != nil {
		return marketerrors.System(fmt.Errorf("[%s] Fail to load wallet, err=%w", op, err))
	}

	entries, err := l.walletEntries(ctx, wallet.ID)
	if err != nil {
		return err
	}

	balance, held := decimal.Zero, decimal.Zero
	for _, e := range entries {
		if !e.BalanceBefore.Equal(balance) {
			return fmt.Errorf("%w: entry %s starts at %s, expected %s",
				marketerrors.ErrLedgerMismatch, e.ID, e.BalanceBefore, balance)
		}
		var want decimal.Decimal
		switch e.Type {
		case models.LedgerEntryDeposit, models.LedgerEntryCreditSale:
			want = balance.Add(e.Amount)
		case models.LedgerEntryWithdrawal, models.LedgerEntryFee:
			want = balance.Sub(e.Amount)
		case models.LedgerEntryHold:
			want = balance.Sub(e.Amount)
			held = held.Add(e.Amount)
		case models.LedgerEntryRelease:
			want = balance.Add(e.Amount)
			held = held.Sub(e.Amount)
		case models.LedgerEntryCapture:
			want = balance
			held = held.Sub(e.Amount)
		default:
			return fmt.Errorf("%w: entry %s has unknown type %s", marketerrors.ErrLedgerMismatch, e.ID, e.Type)
		}
		if !e.BalanceAfter.Equal(want) {
			return fmt.Errorf("%w: entry %s ends at %s, expected %s",
				marketerrors.ErrLedgerMismatch, e.ID, e.BalanceAfter, want)
		}
		balance = want
	}

	if !balance.Equal(wallet.Balance) {
		return fmt.Errorf("%w: replayed balance %s, wallet balance %s",
			marketerrors.ErrLedgerMismatch, balance, wallet.Balance)
	}
	if !held.Equal(wallet.HeldFunds) {
		return fmt.Errorf("%w: replayed held funds %s, wallet held funds %s",
			marketerrors.ErrLedgerMismatch, held, wallet.HeldFunds)
	}
	return nil
}
