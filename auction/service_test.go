package auction

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/adapters/store/storetest"
	"marketplace/clock"
	"marketplace/marketerrors"
	"marketplace/models"
)

func setupService(t *testing.T) (*Service, *clock.Fake) {
	c := clock.NewFake(now)
	return NewService(storetest.New(t), WithClock(c)), c
}

func validDraft(sellerID uuid.UUID) DraftInput {
	return DraftInput{
		SellerID:      sellerID,
		Title:         "Vintage <b>lamp</b>",
		Description:   `<p>Works fine</p><script>alert("x")</script>`,
		StartingPrice: decimal.RequireFromString("100.00"),
		StartsAt:      now.Add(time.Hour),
		EndsAt:        now.Add(48 * time.Hour),
	}
}

func TestService_CreateDraft(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t)
	sellerID := uuid.New()

	a, err := svc.CreateDraft(ctx, validDraft(sellerID))
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusDraft, a.Status)
	assert.Equal(t, "Vintage lamp", a.Title)
	assert.Equal(t, "<p>Works fine</p>", a.Description)
	assert.True(t, a.StartingPrice.Equal(a.CurrentPrice))
	assert.Equal(t, int64(1), a.Version)

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, sellerID, got.SellerID)
}

func TestService_CreateDraft_Invalid(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t)

	tests := []struct {
		name   string
		modify func(*DraftInput)
		want   error
	}{
		{name: "missing seller", modify: func(in *DraftInput) { in.SellerID = uuid.Nil }, want: marketerrors.ErrInvalidInput},
		{name: "blank title", modify: func(in *DraftInput) { in.Title = "<i></i> " }, want: marketerrors.ErrInvalidInput},
		{name: "zero price", modify: func(in *DraftInput) { in.StartingPrice = decimal.Zero }, want: marketerrors.ErrInvalidAmount},
		{name: "sub cent price", modify: func(in *DraftInput) { in.StartingPrice = decimal.RequireFromString("1.001") }, want: marketerrors.ErrInvalidAmount},
		{name: "ends before start", modify: func(in *DraftInput) { in.EndsAt = in.StartsAt.Add(-time.Second) }, want: marketerrors.ErrInvalidInput},
		{name: "already ended", modify: func(in *DraftInput) {
			in.StartsAt = now.Add(-2 * time.Hour)
			in.EndsAt = now.Add(-time.Hour)
		}, want: marketerrors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validDraft(uuid.New())
			tt.modify(&in)
			_, err := svc.CreateDraft(ctx, in)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, marketerrors.ErrValidation)
		})
	}
}

func TestService_PublishAndCancel(t *testing.T) {
	ctx := context.Background()
	svc, _ := setupService(t)
	sellerID := uuid.New()

	a, err := svc.CreateDraft(ctx, validDraft(sellerID))
	require.NoError(t, err)

	_, err = svc.Publish(ctx, uuid.New(), a.ID)
	assert.ErrorIs(t, err, marketerrors.ErrNotOwner)

	published, err := svc.Publish(ctx, sellerID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusPublished, published.Status)
	assert.Equal(t, int64(2), published.Version)

	_, err = svc.Publish(ctx, sellerID, a.ID)
	assert.ErrorIs(t, err, marketerrors.ErrInvalidTransition)

	cancelled, err := svc.Cancel(ctx, sellerID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusCancelled, cancelled.Status)

	_, err = svc.Cancel(ctx, sellerID, a.ID)
	assert.ErrorIs(t, err, marketerrors.ErrInvalidTransition)

	_, err = svc.Publish(ctx, sellerID, uuid.New())
	assert.ErrorIs(t, err, marketerrors.ErrAuctionNotFound)
}

func TestService_Get_NotFound(t *testing.T) {
	svc, _ := setupService(t)
	_, err := svc.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, marketerrors.ErrAuctionNotFound)
}
