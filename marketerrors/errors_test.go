package marketerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "nil", err: nil, want: nil},
		{name: "invalid amount", err: ErrInvalidAmount, want: ErrValidation},
		{name: "wrapped bid too low", err: fmt.Errorf("%w: minimum bid is 101.00", ErrBidTooLow), want: ErrConflict},
		{name: "auction not found", err: fmt.Errorf("[op] load, err=%w", ErrAuctionNotFound), want: ErrNotFound},
		{name: "system wrapped", err: System(errors.New("connection reset")), want: ErrSystem},
		{name: "plain error", err: errors.New("boom"), want: ErrSystem},
		{name: "ledger mismatch", err: ErrLedgerMismatch, want: ErrSystem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestSystem(t *testing.T) {
	cause := errors.New("connection reset")
	err := System(cause)

	assert.ErrorIs(t, err, ErrSystem)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection reset")
	// 重複包裝不會疊加前綴
	assert.Equal(t, err, System(err))
	assert.Nil(t, System(nil))
}

func TestWrappedMessageIsActionable(t *testing.T) {
	err := fmt.Errorf("%w: minimum bid is %s", ErrBidTooLow, "101.00")

	assert.Equal(t, "bid amount too low: minimum bid is 101.00", err.Error())
	assert.ErrorIs(t, err, ErrBidTooLow)
	assert.False(t, errors.Is(err, ErrInsufficientFunds))
}
