package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"marketplace/ledger"
	"marketplace/models"
	"marketplace/scheduler"
)

type CreateAuctionRequest struct {
	Title         string          `json:"title" binding:"required"`
	Description   string          `json:"description"`
	StartingPrice decimal.Decimal `json:"startingPrice"`
	StartsAt      time.Time       `json:"startsAt" binding:"required"`
	EndsAt        time.Time       `json:"endsAt" binding:"required"`
}

type PlaceBidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// TransferRequest 用於儲值與提款，ReferenceID 為外部金流的交易編號
type TransferRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"referenceId" binding:"required,max=64"`
}

type AuctionResponse struct {
	ID              string     `json:"id"`
	SellerID        string     `json:"sellerId"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	Status          string     `json:"status"`
	StartingPrice   string     `json:"startingPrice"`
	CurrentPrice    string     `json:"currentPrice"`
	CurrentBidderID *uuid.UUID `json:"currentBidderId,omitempty"`
	StartsAt        time.Time  `json:"startsAt"`
	EndsAt          time.Time  `json:"endsAt"`
	Version         int64      `json:"version"`
}

func newAuctionResponse(a *models.Auction) AuctionResponse {
	return AuctionResponse{
		ID:              a.ID.String(),
		SellerID:        a.SellerID.String(),
		Title:           a.Title,
		Description:     a.Description,
		Status:          string(a.Status),
		StartingPrice:   a.StartingPrice.StringFixed(2),
		CurrentPrice:    a.CurrentPrice.StringFixed(2),
		CurrentBidderID: a.CurrentBidderID,
		StartsAt:        a.StartsAt,
		EndsAt:          a.EndsAt,
		Version:         a.Version,
	}
}

type BidResponse struct {
	ID        string    `json:"id"`
	AuctionID string    `json:"auctionId"`
	BidderID  string    `json:"bidderId"`
	Amount    string    `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

func newBidResponse(b models.Bid) BidResponse {
	return BidResponse{
		ID:        b.ID.String(),
		AuctionID: b.AuctionID.String(),
		BidderID:  b.BidderID.String(),
		Amount:    b.Amount.StringFixed(2),
		CreatedAt: b.CreatedAt,
	}
}

func newBidResponses(bids []models.Bid) []BidResponse {
	return lo.Map(bids, func(b models.Bid, _ int) BidResponse {
		return newBidResponse(b)
	})
}

type BalanceResponse struct {
	UserID    string `json:"userId"`
	Available string `json:"available"`
	Held      string `json:"held"`
	Currency  string `json:"currency"`
	IsActive  bool   `json:"isActive"`
}

func newBalanceResponse(userID uuid.UUID, b ledger.Balance) BalanceResponse {
	return BalanceResponse{
		UserID:    userID.String(),
		Available: b.Available.StringFixed(2),
		Held:      b.Held.StringFixed(2),
		Currency:  b.Currency,
		IsActive:  b.IsActive,
	}
}

type LedgerEntryResponse struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Amount        string    `json:"amount"`
	BalanceBefore string    `json:"balanceBefore"`
	BalanceAfter  string    `json:"balanceAfter"`
	ReferenceID   string    `json:"referenceId"`
	ReferenceType string    `json:"referenceType"`
	CreatedAt     time.Time `json:"createdAt"`
}

func newLedgerEntryResponse(e *models.LedgerEntry) LedgerEntryResponse {
	return LedgerEntryResponse{
		ID:            e.ID.String(),
		Type:          string(e.Type),
		Amount:        e.Amount.StringFixed(2),
		BalanceBefore: e.BalanceBefore.StringFixed(2),
		BalanceAfter:  e.BalanceAfter.StringFixed(2),
		ReferenceID:   e.ReferenceID,
		ReferenceType: e.ReferenceType,
		CreatedAt:     e.CreatedAt,
	}
}

type ReportResponse struct {
	Activated int64             `json:"activated"`
	Closed    []string          `json:"closed"`
	Settled   []string          `json:"settled"`
	Failures  map[string]string `json:"failures"`
}

func newReportResponse(r scheduler.Report) ReportResponse {
	toStrings := func(id uuid.UUID, _ int) string { return id.String() }
	return ReportResponse{
		Activated: r.Activated,
		Closed:    lo.Map(r.Closed, toStrings),
		Settled:   lo.Map(r.Settled, toStrings),
		Failures: lo.MapEntries(r.Failures, func(id uuid.UUID, err error) (string, string) {
			return id.String(), err.Error()
		}),
	}
}
