package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketplace/adapters/store/storetest"
	"marketplace/clock"
	"marketplace/marketerrors"
)

type envelope struct {
	Status  int             `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	impl   *ServerImpl
	router *gin.Engine
	clock  *clock.Fake
}

func testConfig() ServerConfig {
	return ServerConfig{
		Redis: RedisConfig{
			KeyPrefix:  "test:",
			StreamKeys: RedisStreamKeys{Notifications: "notifications"},
		},
		Market: MarketConfig{
			MinBidIncrement:    decimal.NewFromInt(1),
			SoftCloseWindow:    5 * time.Minute,
			SoftCloseExtension: 5 * time.Minute,
			PlatformFeeRate:    decimal.RequireFromString("0.10"),
			Currency:           "USD",
		},
		Scheduler: SchedulerConfig{
			Interval:    time.Minute,
			MaxAttempts: 3,
		},
	}
}

func newTestServer(t *testing.T, redisClient redis.UniversalClient) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c := clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	impl, err := newServer(storetest.New(t), redisClient, testConfig(), logger, c)
	require.NoError(t, err)
	return &testServer{impl: impl, router: impl.Router(), clock: c}
}

func (ts *testServer) do(t *testing.T, method, path string, user uuid.UUID, body any) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != uuid.Nil {
		req.Header.Set(UserHeader, user.String())
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var resp envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func (ts *testServer) deposit(t *testing.T, user uuid.UUID, amount string) {
	t.Helper()
	status, resp := ts.do(t, http.MethodPost, fmt.Sprintf("/wallets/%s/deposits", user), user,
		gin.H{"amount": amount, "referenceId": uuid.NewString()})
	require.Equal(t, http.StatusCreated, status, resp.Message)
}

func (ts *testServer) balance(t *testing.T, user uuid.UUID) BalanceResponse {
	t.Helper()
	status, resp := ts.do(t, http.MethodGet, fmt.Sprintf("/wallets/%s", user), user, nil)
	require.Equal(t, http.StatusOK, status, resp.Message)
	var b BalanceResponse
	require.NoError(t, json.Unmarshal(resp.Data, &b))
	return b
}

func (ts *testServer) publishedAuction(t *testing.T, seller uuid.UUID) AuctionResponse {
	t.Helper()
	now := ts.clock.Now()
	status, resp := ts.do(t, http.MethodPost, "/auctions", seller, gin.H{
		"title":         "Vintage camera",
		"description":   "<p>Works</p><script>alert(1)</script>",
		"startingPrice": "100.00",
		"startsAt":      now.Add(-time.Minute),
		"endsAt":        now.Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, status, resp.Message)
	var a AuctionResponse
	require.NoError(t, json.Unmarshal(resp.Data, &a))
	assert.Equal(t, "DRAFT", a.Status)
	assert.NotContains(t, a.Description, "script")

	status, resp = ts.do(t, http.MethodPost, fmt.Sprintf("/auctions/%s/publish", a.ID), seller, nil)
	require.Equal(t, http.StatusOK, status, resp.Message)
	require.NoError(t, json.Unmarshal(resp.Data, &a))
	assert.Equal(t, "PUBLISHED", a.Status)
	return a
}

func TestServer_AuctionLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)
	seller, b1, b2 := uuid.New(), uuid.New(), uuid.New()
	ts.deposit(t, b1, "1000.00")
	ts.deposit(t, b2, "1000.00")
	a := ts.publishedAuction(t, seller)

	status, resp := ts.do(t, http.MethodPost, fmt.Sprintf("/auctions/%s/bids", a.ID), b1, gin.H{"amount": "150.00"})
	require.Equal(t, http.StatusCreated, status, resp.Message)
	status, resp = ts.do(t, http.MethodPost, fmt.Sprintf("/auctions/%s/bids", a.ID), b2, gin.H{"amount": "200.00"})
	require.Equal(t, http.StatusCreated, status, resp.Message)

	// 被超越的出價者資金已釋放
	assert.Equal(t, "1000.00", ts.balance(t, b1).Available)
	assert.Equal(t, "0.00", ts.balance(t, b1).Held)
	assert.Equal(t, "800.00", ts.balance(t, b2).Available)
	assert.Equal(t, "200.00", ts.balance(t, b2).Held)

	status, resp = ts.do(t, http.MethodGet, fmt.Sprintf("/auctions/%s/bids", a.ID), uuid.Nil, nil)
	require.Equal(t, http.StatusOK, status)
	var bids []BidResponse
	require.NoError(t, json.Unmarshal(resp.Data, &bids))
	require.Len(t, bids, 2)
	assert.Equal(t, "200.00", bids[0].Amount)
	assert.Equal(t, b2.String(), bids[0].BidderID)

	status, resp = ts.do(t, http.MethodGet, fmt.Sprintf("/auctions/%s", a.ID), uuid.Nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(resp.Data, &a))
	assert.Equal(t, "ACTIVE", a.Status)
	assert.Equal(t, "200.00", a.CurrentPrice)

	ts.clock.Advance(2 * time.Hour)
	status, resp = ts.do(t, http.MethodPost, "/admin/scheduler/run", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, status)
	var report ReportResponse
	require.NoError(t, json.Unmarshal(resp.Data, &report))
	assert.Equal(t, []string{a.ID}, report.Closed)
	assert.Equal(t, []string{a.ID}, report.Settled)
	assert.Empty(t, report.Failures)

	assert.Equal(t, "800.00", ts.balance(t, b2).Available)
	assert.Equal(t, "0.00", ts.balance(t, b2).Held)
	assert.Equal(t, "180.00", ts.balance(t, seller).Available)

	status, resp = ts.do(t, http.MethodGet, fmt.Sprintf("/wallets/%s/entries", seller), seller, nil)
	require.Equal(t, http.StatusOK, status)
	var entries []LedgerEntryResponse
	require.NoError(t, json.Unmarshal(resp.Data, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "CREDIT_SALE", entries[0].Type)
	assert.Equal(t, "FEE", entries[1].Type)
	assert.Equal(t, "20.00", entries[1].Amount)
}

func TestServer_Rejections(t *testing.T) {
	ts := newTestServer(t, nil)
	seller, bidder, poor := uuid.New(), uuid.New(), uuid.New()
	ts.deposit(t, bidder, "500.00")
	ts.deposit(t, poor, "50.00")
	a := ts.publishedAuction(t, seller)
	bidPath := fmt.Sprintf("/auctions/%s/bids", a.ID)

	tests := []struct {
		name        string
		method      string
		path        string
		user        uuid.UUID
		body        any
		wantStatus  int
		wantMessage string
	}{
		{
			name:       "missing user header",
			method:     http.MethodPost,
			path:       bidPath,
			body:       gin.H{"amount": "150.00"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:        "malformed auction id",
			method:      http.MethodGet,
			path:        "/auctions/not-a-uuid",
			wantStatus:  http.StatusBadRequest,
			wantMessage: "invalid input: malformed id",
		},
		{
			name:        "unknown auction",
			method:      http.MethodGet,
			path:        "/auctions/" + uuid.NewString(),
			wantStatus:  http.StatusNotFound,
			wantMessage: "auction not found",
		},
		{
			name:        "bid below minimum",
			method:      http.MethodPost,
			path:        bidPath,
			user:        bidder,
			body:        gin.H{"amount": "100.50"},
			wantStatus:  http.StatusConflict,
			wantMessage: "bid amount too low: minimum bid is 101.00",
		},
		{
			name:       "seller bids on own auction",
			method:     http.MethodPost,
			path:       bidPath,
			user:       seller,
			body:       gin.H{"amount": "150.00"},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "insufficient funds",
			method:     http.MethodPost,
			path:       bidPath,
			user:       poor,
			body:       gin.H{"amount": "150.00"},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "invalid bid amount",
			method:     http.MethodPost,
			path:       bidPath,
			user:       bidder,
			body:       gin.H{"amount": "150.001"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			method:     http.MethodPost,
			path:       bidPath,
			user:       bidder,
			body:       "not an object",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:        "other user's wallet",
			method:      http.MethodGet,
			path:        fmt.Sprintf("/wallets/%s", bidder),
			user:        poor,
			wantStatus:  http.StatusForbidden,
			wantMessage: "cannot access another user's wallet",
		},
		{
			name:       "withdraw more than available",
			method:     http.MethodPost,
			path:       fmt.Sprintf("/wallets/%s/withdrawals", poor),
			user:       poor,
			body:       gin.H{"amount": "60.00", "referenceId": "wd-1"},
			wantStatus: http.StatusConflict,
		},
		{
			name:       "cancel by non owner",
			method:     http.MethodPost,
			path:       fmt.Sprintf("/auctions/%s/cancel", a.ID),
			user:       bidder,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "deposit without reference",
			method:     http.MethodPost,
			path:       fmt.Sprintf("/wallets/%s/deposits", poor),
			user:       poor,
			body:       gin.H{"amount": "10.00"},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := ts.do(t, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.wantStatus, status, resp.Message)
			if tt.wantMessage != "" {
				assert.Equal(t, tt.wantMessage, resp.Message)
			}
		})
	}

	// 被拒絕的請求不影響餘額
	assert.Equal(t, "500.00", ts.balance(t, bidder).Available)
	assert.Equal(t, "50.00", ts.balance(t, poor).Available)
}

func TestServer_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ts := newTestServer(t, client)
	ts.impl.Start()

	seller, b1, b2 := uuid.New(), uuid.New(), uuid.New()
	ts.deposit(t, b1, "1000.00")
	ts.deposit(t, b2, "1000.00")
	a := ts.publishedAuction(t, seller)

	status, resp := ts.do(t, http.MethodPost, fmt.Sprintf("/auctions/%s/bids", a.ID), b1, gin.H{"amount": "150.00"})
	require.Equal(t, http.StatusCreated, status, resp.Message)
	status, resp = ts.do(t, http.MethodPost, fmt.Sprintf("/auctions/%s/bids", a.ID), b2, gin.H{"amount": "160.00"})
	require.Equal(t, http.StatusCreated, status, resp.Message)

	// 出價鎖已釋放
	assert.False(t, mr.Exists("test:auction:"+a.ID+":lock"))

	// OUTBID 通知經由 stream 送出
	assert.Eventually(t, func() bool {
		return mr.Exists("test:notifications")
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ts.impl.Close())
	require.NoError(t, ts.impl.Close())
}

func TestMapErrorToHTTP(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{
			name:        "validation",
			err:         fmt.Errorf("%w: title is required", marketerrors.ErrInvalidInput),
			wantStatus:  http.StatusBadRequest,
			wantMessage: "invalid input: title is required",
		},
		{
			name:        "not found",
			err:         marketerrors.ErrWalletNotFound,
			wantStatus:  http.StatusNotFound,
			wantMessage: "wallet not found",
		},
		{
			name:        "conflict",
			err:         fmt.Errorf("%w: available 10.00, requested 20.00", marketerrors.ErrInsufficientFunds),
			wantStatus:  http.StatusConflict,
			wantMessage: "insufficient funds: available 10.00, requested 20.00",
		},
		{
			name:        "system hides details",
			err:         marketerrors.System(fmt.Errorf("dial tcp 10.0.0.1:5432: refused")),
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, message := MapErrorToHTTP(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantMessage, message)
		})
	}
}
