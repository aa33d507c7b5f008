package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"

	"github.com/nkiryanov/kglow/internal/handlers/middleware"
	"github.com/nkiryanov/kglow/internal/handlers/render"
	"github.com/nkiryanov/kglow/internal/handlers/userctx"
	"github.com/nkiryanov/kglow/internal/logger"
	"github.com/nkiryanov/kglow/internal/metrics"
	"github.com/nkiryanov/kglow/internal/models"
	"github.com/nkiryanov/kglow/internal/pricing"
	"github.com/nkiryanov/kglow/internal/service/ledger"
	"github.com/nkiryanov/kglow/internal/service/quote"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

type RouterConfig struct {
	Tokens  tokenParser
	Quotes  quoteService
	Credits creditService
	Billing billingService

	// Optional. Checked by /healthz
	DB pinger

	// Optional. Limits quote calculations per user
	QuoteLimiter *limiter.Limiter

	// Optional. Nil gatherer means prometheus.DefaultGatherer
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

func NewRouter(cfg RouterConfig, logger logger.Logger) http.Handler {
	withAuth := middleware.AuthMiddleware(cfg.Tokens)
	withAdmin := func(h http.Handler) http.Handler {
		return chain(h, withAuth, middleware.RequireRole(models.RoleAdmin))
	}
	withQuoteLimit := func(h http.Handler) http.Handler { return h }
	if cfg.QuoteLimiter != nil {
		withQuoteLimit = stdlib.NewMiddleware(
			cfg.QuoteLimiter,
			stdlib.WithKeyGetter(limitKey),
			stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, _ *http.Request) {
				render.ServiceError(w, "Too many requests", http.StatusTooManyRequests)
			}),
		).Handler
	}

	api := http.NewServeMux()

	api.Handle("POST /quotes/calculate", chain(handleCalculateQuote(cfg.Quotes, logger), withAuth, withQuoteLimit))
	api.Handle("GET /quotes", withAuth(handleListQuotes(cfg.Quotes, logger)))
	api.Handle("GET /quotes/{id}", withAuth(handleGetQuote(cfg.Quotes, logger)))
	api.Handle("GET /quotes/{id}/pdf", withAuth(handleQuotePDF(cfg.Quotes, logger)))

	api.Handle("GET /credits/balance", withAuth(handleBalance(cfg.Credits, logger)))
	api.Handle("GET /credits/ledger", withAuth(handleLedger(cfg.Credits, logger)))
	api.Handle("POST /credits/usage", withAuth(handleUsage(cfg.Credits, logger)))
	api.Handle("POST /credits/topup", withAuth(handleTopUp(cfg.Billing, logger)))
	api.Handle("PUT /credits/auto-recharge", withAuth(handleSetAutoRecharge(cfg.Credits, logger)))

	api.Handle("POST /admin/credits/adjust", withAdmin(handleAdjust(cfg.Credits, logger)))
	api.Handle("POST /admin/credits/refund", withAdmin(handleRefund(cfg.Credits, logger)))
	api.Handle("GET /admin/credits/{userID}/verify", withAdmin(handleVerify(cfg.Credits, logger)))

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	root := http.NewServeMux()
	root.Handle("/api/", http.StripPrefix("/api", api))
	root.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	root.Handle("GET /healthz", handleHealth(cfg.DB, logger))

	handler := chain(root,
		middleware.LoggerMiddleware(logger, cfg.Metrics),
	)

	return handler
}

// Authenticated requests are limited per user, the rest per client address
func limitKey(r *http.Request) string {
	if p, ok := userctx.FromContext(r.Context()); ok {
		return "user:" + p.UserID.String()
	}
	return "ip:" + r.RemoteAddr
}

func handleHealth(db pinger, l logger.Logger) http.Handler {
	type response struct {
		Status string `json:"status"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			if err := db.Ping(r.Context()); err != nil {
				l.Error("Health check failed", "error", err)
				render.JSONWithStatus(w, response{Status: "unavailable"}, http.StatusServiceUnavailable)
				return
			}
		}
		render.JSON(w, response{Status: "ok"})
	})
}

type tokenParser interface {
	// Has to return apperrors.ErrTokenInvalid for expired, malformed or foreign tokens
	ParseAccess(access string) (models.Principal, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

type quoteService interface {
	Calculate(ctx context.Context, req quote.Request) (pricing.Result, error)
	CalculateAndSave(ctx context.Context, userID uuid.UUID, req quote.Request) (models.Quote, error)
	GetQuote(ctx context.Context, userID uuid.UUID, quoteID uuid.UUID) (models.Quote, error)
	ListQuotes(ctx context.Context, userID uuid.UUID, limit int) ([]models.Quote, error)
	RenderPDF(ctx context.Context, userID uuid.UUID, quoteID uuid.UUID) ([]byte, models.Quote, error)
}

type creditService interface {
	Balance(ctx context.Context, userID uuid.UUID) (models.Account, error)
	Entries(ctx context.Context, userID uuid.UUID, limit int) ([]models.LedgerEntry, error)
	Use(ctx context.Context, userID uuid.UUID, tool string) (decimal.Decimal, error)
	ToolPrices() map[string]decimal.Decimal
	SetAutoRecharge(ctx context.Context, userID uuid.UUID, settings models.AutoRecharge) (models.Account, error)

	ForceAdjust(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, description string, operator string) (decimal.Decimal, error)
	Refund(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, reference string) (decimal.Decimal, error)
	Verify(ctx context.Context, userID uuid.UUID) (ledger.Verification, error)
}

type billingService interface {
	// Has to return apperrors.ErrPaymentFailed when the processor declined the charge
	TopUp(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (models.Payment, error)
}
