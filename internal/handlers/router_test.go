package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/nkiryanov/kglow/internal/apperrors"
	"github.com/nkiryanov/kglow/internal/logger"
	"github.com/nkiryanov/kglow/internal/metrics"
	"github.com/nkiryanov/kglow/internal/models"
	"github.com/nkiryanov/kglow/internal/pricing"
	"github.com/nkiryanov/kglow/internal/service/ledger"
	"github.com/nkiryanov/kglow/internal/service/quote"
)

var (
	testUser  = models.Principal{UserID: uuid.New(), Role: models.RoleUser}
	testAdmin = models.Principal{UserID: uuid.New(), Role: models.RoleAdmin}
)

// Token is the role name: "user" or "admin"
type fakeTokens struct{}

func (fakeTokens) ParseAccess(access string) (models.Principal, error) {
	switch access {
	case models.RoleUser:
		return testUser, nil
	case models.RoleAdmin:
		return testAdmin, nil
	default:
		return models.Principal{}, apperrors.ErrTokenInvalid
	}
}

type fakeQuotes struct {
	err    error
	saved  []models.Quote
	lastRq quote.Request
}

func (f *fakeQuotes) Calculate(_ context.Context, req quote.Request) (pricing.Result, error) {
	f.lastRq = req
	if f.err != nil {
		return pricing.Result{}, f.err
	}
	return pricing.Calculate(req.Items, req.Shipping, req.Certification, decimal.RequireFromString("0.0675")), nil
}

func (f *fakeQuotes) CalculateAndSave(ctx context.Context, userID uuid.UUID, req quote.Request) (models.Quote, error) {
	res, err := f.Calculate(ctx, req)
	if err != nil {
		return models.Quote{}, err
	}
	q := models.Quote{
		ID:            uuid.New(),
		UserID:        userID,
		CreatedAt:     time.Now(),
		Items:         req.Items,
		Shipping:      req.Shipping,
		Certification: req.Certification,
		Result:        res,
	}
	f.saved = append(f.saved, q)
	return q, nil
}

func (f *fakeQuotes) GetQuote(_ context.Context, userID uuid.UUID, quoteID uuid.UUID) (models.Quote, error) {
	for _, q := range f.saved {
		if q.ID == quoteID && q.UserID == userID {
			return q, nil
		}
	}
	return models.Quote{}, apperrors.ErrQuoteNotFound
}

func (f *fakeQuotes) ListQuotes(_ context.Context, userID uuid.UUID, _ int) ([]models.Quote, error) {
	var res []models.Quote
	for _, q := range f.saved {
		if q.UserID == userID {
			res = append(res, q)
		}
	}
	return res, nil
}

func (f *fakeQuotes) RenderPDF(ctx context.Context, userID uuid.UUID, quoteID uuid.UUID) ([]byte, models.Quote, error) {
	q, err := f.GetQuote(ctx, userID, quoteID)
	if err != nil {
		return nil, q, err
	}
	return []byte("%PDF-1.3 fake"), q, nil
}

type fakeCredits struct {
	balance   decimal.Decimal
	useErr    error
	verifyErr error
	operator  string
}

func (f *fakeCredits) Balance(_ context.Context, userID uuid.UUID) (models.Account, error) {
	return models.Account{UserID: userID, Balance: f.balance}, nil
}

func (f *fakeCredits) Entries(_ context.Context, userID uuid.UUID, _ int) ([]models.LedgerEntry, error) {
	return []models.LedgerEntry{{
		ID:           uuid.New(),
		UserID:       userID,
		Amount:       decimal.RequireFromString("-1.5"),
		Kind:         models.EntryKindUsage,
		BalanceAfter: f.balance,
		Description:  "AI tool usage: review-summary",
		Reference:    "review-summary",
		CreatedAt:    time.Now(),
	}}, nil
}

func (f *fakeCredits) Use(_ context.Context, _ uuid.UUID, tool string) (decimal.Decimal, error) {
	if f.useErr != nil {
		return decimal.Zero, f.useErr
	}
	price, ok := ledger.DefaultToolPrices()[tool]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: '%s'", apperrors.ErrUnknownTool, tool)
	}
	f.balance = f.balance.Sub(price)
	return f.balance, nil
}

func (f *fakeCredits) ToolPrices() map[string]decimal.Decimal {
	return ledger.DefaultToolPrices()
}

func (f *fakeCredits) SetAutoRecharge(_ context.Context, userID uuid.UUID, settings models.AutoRecharge) (models.Account, error) {
	if settings.Enabled && settings.PaymentMethod == "" {
		return models.Account{}, apperrors.ErrNoPaymentMethod
	}
	return models.Account{UserID: userID, Balance: f.balance, AutoRecharge: settings}, nil
}

func (f *fakeCredits) ForceAdjust(_ context.Context, _ uuid.UUID, amount decimal.Decimal, _ string, operator string) (decimal.Decimal, error) {
	f.operator = operator
	f.balance = f.balance.Add(amount)
	return f.balance, nil
}

func (f *fakeCredits) Refund(_ context.Context, _ uuid.UUID, amount decimal.Decimal, _ string) (decimal.Decimal, error) {
	f.balance = f.balance.Add(amount)
	return f.balance, nil
}

func (f *fakeCredits) Verify(_ context.Context, userID uuid.UUID) (ledger.Verification, error) {
	return ledger.Verification{UserID: userID, Balance: f.balance, Sum: decimal.NewFromInt(7), Entries: 2}, f.verifyErr
}

type fakeBilling struct {
	err error
}

func (f *fakeBilling) TopUp(_ context.Context, userID uuid.UUID, amount decimal.Decimal) (models.Payment, error) {
	p := models.Payment{ID: uuid.New(), UserID: userID, Kind: models.EntryKindCharge, Amount: amount, Currency: "RUB", Status: models.PaymentStatusCompleted}
	switch {
	case errors.Is(f.err, apperrors.ErrPaymentPending):
		p.Status = models.PaymentStatusPending
		return p, f.err
	case f.err != nil:
		p.Status = models.PaymentStatusFailed
		return p, f.err
	}
	return p, nil
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	url     string
	quotes  *fakeQuotes
	credits *fakeCredits
	billing *fakeBilling
}

func startServer(t *testing.T, mutate func(cfg *RouterConfig)) *testServer {
	t.Helper()

	ts := &testServer{
		quotes:  &fakeQuotes{},
		credits: &fakeCredits{balance: decimal.NewFromInt(50)},
		billing: &fakeBilling{},
	}
	cfg := RouterConfig{
		Tokens:   fakeTokens{},
		Quotes:   ts.quotes,
		Credits:  ts.credits,
		Billing:  ts.billing,
		Gatherer: prometheus.NewRegistry(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	srv := httptest.NewServer(NewRouter(cfg, logger.NewNoOpLogger()))
	t.Cleanup(srv.Close)
	ts.url = srv.URL

	return ts
}

// do sends request with token as bearer and returns status and body
func (ts *testServer) do(t *testing.T, method string, path string, token string, body string) (*http.Response, string) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.url+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	return resp, string(data)
}

const workedExample = `{
	"items": [{"name": "toner", "quantity": 1, "priceKRW": 50000, "weight": 5, "volume": 0.1}],
	"shippingInfo": {"method": "air", "origin": "Seoul", "destination": "Moscow", "totalWeight": 5, "totalVolume": 0.1},
	"certificationInfo": {"type": "NONE", "productCount": 0}
}`

func TestRouter_Auth(t *testing.T) {
	ts := startServer(t, nil)

	t.Run("no token", func(t *testing.T) {
		resp, _ := ts.do(t, http.MethodGet, "/api/credits/balance", "", "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("invalid token", func(t *testing.T) {
		resp, _ := ts.do(t, http.MethodGet, "/api/quotes", "garbage", "")
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("admin route with user token", func(t *testing.T) {
		resp, body := ts.do(t, http.MethodPost, "/api/admin/credits/refund", models.RoleUser, `{}`)
		require.Equalf(t, http.StatusForbidden, resp.StatusCode, "body: %s", body)
	})

	t.Run("open routes", func(t *testing.T) {
		resp, body := ts.do(t, http.MethodGet, "/healthz", "", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.JSONEq(t, `{"status": "ok"}`, body)

		resp, _ = ts.do(t, http.MethodGet, "/metrics", "", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestRouter_Quotes(t *testing.T) {
	t.Run("calculate worked example", func(t *testing.T) {
		ts := startServer(t, nil)

		resp, body := ts.do(t, http.MethodPost, "/api/quotes/calculate", models.RoleUser, workedExample)

		require.Equalf(t, http.StatusOK, resp.StatusCode, "body: %s", body)
		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(body), &got))
		require.EqualValues(t, 166140, got["totalKRW"])
		require.EqualValues(t, 11214, got["totalRUB"])
		require.EqualValues(t, 0.0675, got["exchangeRate"], "exchange rate is a JSON number")
		require.NotContains(t, got, "id", "not saved quote has no id")
		require.Contains(t, got, "breakdown")

		require.Equal(t, "Seoul", ts.quotes.lastRq.Shipping.Origin)
		require.Equal(t, pricing.ShippingAir, ts.quotes.lastRq.Shipping.Method)
	})

	t.Run("calculate and save then read back", func(t *testing.T) {
		ts := startServer(t, nil)
		body := strings.Replace(workedExample, `"certificationInfo"`, `"save": true, "certificationInfo"`, 1)

		resp, created := ts.do(t, http.MethodPost, "/api/quotes/calculate", models.RoleUser, body)
		require.Equalf(t, http.StatusCreated, resp.StatusCode, "body: %s", created)
		require.Len(t, ts.quotes.saved, 1)
		id := ts.quotes.saved[0].ID

		resp, got := ts.do(t, http.MethodGet, "/api/quotes/"+id.String(), models.RoleUser, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.JSONEq(t, created, got, "saved quote has to be returned as it was created")

		resp, list := ts.do(t, http.MethodGet, "/api/quotes?limit=10", models.RoleUser, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.JSONEq(t, "["+created+"]", list)

		resp, pdf := ts.do(t, http.MethodGet, "/api/quotes/"+id.String()+"/pdf", models.RoleUser, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
		require.Contains(t, resp.Header.Get("Content-Disposition"), id.String())
		require.True(t, strings.HasPrefix(pdf, "%PDF"))
	})

	t.Run("quote of other user is not found", func(t *testing.T) {
		ts := startServer(t, nil)
		ts.quotes.saved = append(ts.quotes.saved, models.Quote{ID: uuid.New(), UserID: uuid.New()})

		resp, _ := ts.do(t, http.MethodGet, "/api/quotes/"+ts.quotes.saved[0].ID.String(), models.RoleUser, "")

		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("bad requests", func(t *testing.T) {
		ts := startServer(t, nil)

		resp, _ := ts.do(t, http.MethodGet, "/api/quotes/not-uuid", models.RoleUser, "")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, _ = ts.do(t, http.MethodGet, "/api/quotes?limit=-1", models.RoleUser, "")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		resp, body := ts.do(t, http.MethodPost, "/api/quotes/calculate", models.RoleUser, `{"items": [{"quantity": 0}], "shippingInfo": {"method": "air"}, "certificationInfo": {"type": "NONE"}}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Contains(t, body, "validation_failed")

		resp, _ = ts.do(t, http.MethodPost, "/api/quotes/calculate", models.RoleUser, `not json`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("service errors", func(t *testing.T) {
		tests := []struct {
			err  error
			code int
		}{
			{fmt.Errorf("%w: unknown shipping method", apperrors.ErrInvalidInput), http.StatusUnprocessableEntity},
			{apperrors.ErrRateUnavailable, http.StatusServiceUnavailable},
			{fmt.Errorf("db is down"), http.StatusInternalServerError},
		}
		for _, tc := range tests {
			t.Run(tc.err.Error(), func(t *testing.T) {
				ts := startServer(t, nil)
				ts.quotes.err = tc.err

				resp, body := ts.do(t, http.MethodPost, "/api/quotes/calculate", models.RoleUser, workedExample)

				require.Equalf(t, tc.code, resp.StatusCode, "body: %s", body)
				require.Contains(t, body, "service_error")
			})
		}
	})

	t.Run("rate limited per user", func(t *testing.T) {
		rate, err := limiter.NewRateFromFormatted("2-M")
		require.NoError(t, err)
		ts := startServer(t, func(cfg *RouterConfig) {
			cfg.QuoteLimiter = limiter.New(memory.NewStore(), rate)
		})

		for range 2 {
			resp, _ := ts.do(t, http.MethodPost, "/api/quotes/calculate", models.RoleUser, workedExample)
			require.Equal(t, http.StatusOK, resp.StatusCode)
		}

		resp, body := ts.do(t, http.MethodPost, "/api/quotes/calculate", models.RoleUser, workedExample)
		require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		require.Contains(t, body, "Too many requests")

		resp, _ = ts.do(t, http.MethodPost, "/api/quotes/calculate", models.RoleAdmin, workedExample)
		require.Equal(t, http.StatusOK, resp.StatusCode, "other user has own limit")

		resp, _ = ts.do(t, http.MethodGet, "/api/quotes", models.RoleUser, "")
		require.Equal(t, http.StatusOK, resp.StatusCode, "only calculation is limited")
	})
}

func TestRouter_Credits(t *testing.T) {
	t.Run("balance", func(t *testing.T) {
		ts := startServer(t, nil)

		resp, body := ts.do(t, http.MethodGet, "/api/credits/balance", models.RoleUser, "")

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(body), &got))
		require.Equal(t, testUser.UserID.String(), got["userId"])
		require.EqualValues(t, 50, got["balance"])
	})

	t.Run("ledger", func(t *testing.T) {
		ts := startServer(t, nil)

		resp, body := ts.do(t, http.MethodGet, "/api/credits/ledger", models.RoleUser, "")

		require.Equal(t, http.StatusOK, resp.StatusCode)
		var got []map[string]any
		require.NoError(t, json.Unmarshal([]byte(body), &got))
		require.Len(t, got, 1)
		require.EqualValues(t, -1.5, got[0]["amount"])
		require.Equal(t, "usage", got[0]["kind"])
	})

	t.Run("usage", func(t *testing.T) {
		ts := startServer(t, nil)

		resp, body := ts.do(t, http.MethodPost, "/api/credits/usage", models.RoleUser, `{"tool": "market-research"}`)

		require.Equalf(t, http.StatusOK, resp.StatusCode, "body: %s", body)
		require.JSONEq(t, `{"tool": "market-research", "price": 25.00, "balance": 25.00}`, body)
	})

	t.Run("usage errors", func(t *testing.T) {
		ts := startServer(t, nil)

		resp, _ := ts.do(t, http.MethodPost, "/api/credits/usage", models.RoleUser, `{"tool": "time-machine"}`)
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		ts.credits.useErr = apperrors.ErrBalanceInsufficient
		resp, body := ts.do(t, http.MethodPost, "/api/credits/usage", models.RoleUser, `{"tool": "translation"}`)
		require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
		require.JSONEq(t, `{"error": "service_error", "message": "Insufficient balance"}`, body)
	})

	t.Run("topup", func(t *testing.T) {
		ts := startServer(t, nil)

		resp, body := ts.do(t, http.MethodPost, "/api/credits/topup", models.RoleUser, `{"amount": "100"}`)
		require.Equalf(t, http.StatusOK, resp.StatusCode, "body: %s", body)
		require.Contains(t, body, `"status":"COMPLETED"`)

		resp, _ = ts.do(t, http.MethodPost, "/api/credits/topup", models.RoleUser, `{"amount": 0}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		ts.billing.err = fmt.Errorf("%w: card declined", apperrors.ErrPaymentFailed)
		resp, body = ts.do(t, http.MethodPost, "/api/credits/topup", models.RoleUser, `{"amount": 100}`)
		require.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
		require.Contains(t, body, "card declined")

		ts.billing.err = fmt.Errorf("%w: processor unavailable", apperrors.ErrPaymentPending)
		resp, body = ts.do(t, http.MethodPost, "/api/credits/topup", models.RoleUser, `{"amount": 100}`)
		require.Equalf(t, http.StatusAccepted, resp.StatusCode, "body: %s", body)
		require.Contains(t, body, `"status":"PENDING"`)
	})

	t.Run("auto-recharge", func(t *testing.T) {
		ts := startServer(t, nil)

		resp, body := ts.do(t, http.MethodPut, "/api/credits/auto-recharge", models.RoleUser,
			`{"enabled": true, "threshold": 10, "amount": 100, "paymentMethod": "pm_card"}`)
		require.Equalf(t, http.StatusOK, resp.StatusCode, "body: %s", body)
		require.Contains(t, body, `"paymentMethodSaved":true`)
		require.NotContains(t, body, "pm_card", "payment method token is never rendered")

		resp, _ = ts.do(t, http.MethodPut, "/api/credits/auto-recharge", models.RoleUser, `{"enabled": true, "threshold": 10, "amount": 100}`)
		require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

		resp, _ = ts.do(t, http.MethodPut, "/api/credits/auto-recharge", models.RoleUser, `{"enabled": false, "threshold": -1, "amount": 100}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestRouter_Admin(t *testing.T) {
	target := uuid.New()

	t.Run("adjust", func(t *testing.T) {
		ts := startServer(t, nil)

		resp, body := ts.do(t, http.MethodPost, "/api/admin/credits/adjust", models.RoleAdmin,
			fmt.Sprintf(`{"userId": "%s", "amount": -80, "description": "chargeback"}`, target))

		require.Equalf(t, http.StatusOK, resp.StatusCode, "body: %s", body)
		require.JSONEq(t, fmt.Sprintf(`{"userId": "%s", "balance": -30.00}`, target), body)
		require.Equal(t, testAdmin.UserID.String(), ts.credits.operator)
	})

	t.Run("adjust requires non zero amount and user", func(t *testing.T) {
		ts := startServer(t, nil)

		resp, _ := ts.do(t, http.MethodPost, "/api/admin/credits/adjust", models.RoleAdmin, `{"amount": 0, "description": "x"}`)

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("refund", func(t *testing.T) {
		ts := startServer(t, nil)

		resp, body := ts.do(t, http.MethodPost, "/api/admin/credits/refund", models.RoleAdmin,
			fmt.Sprintf(`{"userId": "%s", "amount": "12.5", "reference": "ticket-42"}`, target))

		require.Equalf(t, http.StatusOK, resp.StatusCode, "body: %s", body)
		require.JSONEq(t, fmt.Sprintf(`{"userId": "%s", "balance": 62.50}`, target), body)
	})

	t.Run("verify", func(t *testing.T) {
		ts := startServer(t, nil)
		ts.credits.balance = decimal.NewFromInt(7)

		resp, body := ts.do(t, http.MethodGet, "/api/admin/credits/"+target.String()+"/verify", models.RoleAdmin, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Contains(t, body, `"consistent":true`)

		ts.credits.balance = decimal.NewFromInt(8)
		ts.credits.verifyErr = apperrors.ErrLedgerMismatch
		resp, body = ts.do(t, http.MethodGet, "/api/admin/credits/"+target.String()+"/verify", models.RoleAdmin, "")
		require.Equal(t, http.StatusConflict, resp.StatusCode)
		require.Contains(t, body, `"consistent":false`)
	})
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	down := false
	ts := startServer(t, func(cfg *RouterConfig) {
		cfg.Metrics = metrics.New(reg)
		cfg.Gatherer = reg
		cfg.DB = pingFunc(func(context.Context) error {
			if down {
				return fmt.Errorf("connection refused")
			}
			return nil
		})
	})

	resp, _ := ts.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	down = true
	resp, body := ts.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.JSONEq(t, `{"status": "unavailable"}`, body)

	resp, body = ts.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "kglow_http_requests_total")
}
