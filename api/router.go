package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"marketplace/auction"
	"marketplace/marketerrors"
)

const (
	// UserHeader 帶有呼叫者的使用者 ID，驗證由前端的閘道負責
	UserHeader = "X-User-ID"

	userKey = "userID"
)

// Router 建立 HTTP 路由
func (impl *ServerImpl) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(impl.logger))

	auctions := router.Group("/auctions")
	auctions.GET("/:id", impl.GetAuction)
	auctions.GET("/:id/bids", impl.ListBids)
	auctions.POST("", requireUser, impl.CreateAuction)
	auctions.POST("/:id/publish", requireUser, impl.PublishAuction)
	auctions.POST("/:id/cancel", requireUser, impl.CancelAuction)
	auctions.POST("/:id/bids", requireUser, impl.PlaceBid)

	wallets := router.Group("/wallets/:userID", requireUser, requireWalletOwner)
	wallets.GET("", impl.GetWallet)
	wallets.GET("/entries", impl.ListEntries)
	wallets.POST("/deposits", impl.Deposit)
	wallets.POST("/withdrawals", impl.Withdraw)

	router.POST("/admin/scheduler/run", impl.RunScheduler)
	return router
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("HTTP Request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("latency", time.Since(start)),
		)
	}
}

func requireUser(c *gin.Context) {
	userID, err := uuid.Parse(c.GetHeader(UserHeader))
	if err != nil || userID == uuid.Nil {
		jsonError(c, http.StatusUnauthorized, fmt.Sprintf("missing or invalid %s header", UserHeader))
		return
	}
	c.Set(userKey, userID)
	c.Next()
}

// requireWalletOwner 只允許使用者操作自己的錢包
func requireWalletOwner(c *gin.Context) {
	userID, ok := pathID(c, "userID")
	if !ok {
		return
	}
	if userID != actingUser(c) {
		jsonError(c, http.StatusForbidden, "cannot access another user's wallet")
		return
	}
	c.Next()
}

func actingUser(c *gin.Context) uuid.UUID {
	return c.MustGet(userKey).(uuid.UUID)
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		jsonError(c, http.StatusBadRequest, fmt.Sprintf("%s: malformed %s", marketerrors.ErrInvalidInput, name))
		return uuid.Nil, false
	}
	return id, true
}

// CreateAuction handles POST /auctions
func (impl *ServerImpl) CreateAuction(c *gin.Context) {
	var req CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindError(c, err)
		return
	}
	a, err := impl.auctions.CreateDraft(c.Request.Context(), auction.DraftInput{
		SellerID:      actingUser(c),
		Title:         req.Title,
		Description:   req.Description,
		StartingPrice: req.StartingPrice,
		StartsAt:      req.StartsAt,
		EndsAt:        req.EndsAt,
	})
	if err != nil {
		handleError(c, impl.logger, "CreateAuction", err)
		return
	}
	jsonResponse(c, http.StatusCreated, newAuctionResponse(a), "auction drafted")
}

// PublishAuction handles POST /auctions/:id/publish
func (impl *ServerImpl) PublishAuction(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := impl.auctions.Publish(c.Request.Context(), actingUser(c), id)
	if err != nil {
		handleError(c, impl.logger, "PublishAuction", err)
		return
	}
	jsonResponse(c, http.StatusOK, newAuctionResponse(a), "auction published")
}

// CancelAuction handles POST /auctions/:id/cancel
func (impl *ServerImpl) CancelAuction(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := impl.auctions.Cancel(c.Request.Context(), actingUser(c), id)
	if err != nil {
		handleError(c, impl.logger, "CancelAuction", err)
		return
	}
	jsonResponse(c, http.StatusOK, newAuctionResponse(a), "auction cancelled")
}

// GetAuction handles GET /auctions/:id
func (impl *ServerImpl) GetAuction(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	a, err := impl.auctions.Get(c.Request.Context(), id)
	if err != nil {
		handleError(c, impl.logger, "GetAuction", err)
		return
	}
	jsonResponse(c, http.StatusOK, newAuctionResponse(a), "ok")
}

// ListBids handles GET /auctions/:id/bids
func (impl *ServerImpl) ListBids(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	bids, err := impl.engine.Bids(c.Request.Context(), id)
	if err != nil {
		handleError(c, impl.logger, "ListBids", err)
		return
	}
	jsonResponse(c, http.StatusOK, newBidResponses(bids), "ok")
}

// PlaceBid handles POST /auctions/:id/bids
func (impl *ServerImpl) PlaceBid(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindError(c, err)
		return
	}
	bid, err := impl.engine.PlaceBid(c.Request.Context(), actingUser(c), id, req.Amount)
	if err != nil {
		handleError(c, impl.logger, "PlaceBid", err)
		return
	}
	jsonResponse(c, http.StatusCreated, newBidResponse(*bid), "bid placed")
}

// GetWallet handles GET /wallets/:userID
func (impl *ServerImpl) GetWallet(c *gin.Context) {
	userID := actingUser(c)
	balance, err := impl.ledger.GetWalletBalance(c.Request.Context(), userID)
	if err != nil {
		handleError(c, impl.logger, "GetWallet", err)
		return
	}
	jsonResponse(c, http.StatusOK, newBalanceResponse(userID, balance), "ok")
}

// ListEntries handles GET /wallets/:userID/entries
func (impl *ServerImpl) ListEntries(c *gin.Context) {
	entries, err := impl.ledger.Entries(c.Request.Context(), actingUser(c))
	if err != nil {
		handleError(c, impl.logger, "ListEntries", err)
		return
	}
	resp := make([]LedgerEntryResponse, 0, len(entries))
	for i := range entries {
		resp = append(resp, newLedgerEntryResponse(&entries[i]))
	}
	jsonResponse(c, http.StatusOK, resp, "ok")
}

// Deposit handles POST /wallets/:userID/deposits
func (impl *ServerImpl) Deposit(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindError(c, err)
		return
	}
	entry, err := impl.ledger.Deposit(c.Request.Context(), actingUser(c), req.Amount, req.ReferenceID)
	if err != nil {
		handleError(c, impl.logger, "Deposit", err)
		return
	}
	jsonResponse(c, http.StatusCreated, newLedgerEntryResponse(entry), "deposit recorded")
}

// Withdraw handles POST /wallets/:userID/withdrawals
func (impl *ServerImpl) Withdraw(c *gin.Context) {
	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindError(c, err)
		return
	}
	entry, err := impl.ledger.Withdraw(c.Request.Context(), actingUser(c), req.Amount, req.ReferenceID)
	if err != nil {
		handleError(c, impl.logger, "Withdraw", err)
		return
	}
	jsonResponse(c, http.StatusCreated, newLedgerEntryResponse(entry), "withdrawal recorded")
}

// RunScheduler handles POST /admin/scheduler/run
func (impl *ServerImpl) RunScheduler(c *gin.Context) {
	report := impl.scheduler.RunOnce(c.Request.Context())
	jsonResponse(c, http.StatusOK, newReportResponse(report), "scheduler run completed")
}
