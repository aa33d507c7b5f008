package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/kglow/internal/logger"
)

// Source fetches the current rate from somewhere outside
type Source interface {
	Fetch(ctx context.Context, pair Pair) (decimal.Decimal, error)
}

type latestResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// HTTPSource talks to an exchangerate-host like API:
// GET {addr}/latest?base=KRW&symbols=RUB -> {"base":"KRW","rates":{"RUB":0.0675}}
type HTTPSource struct {
	RatesAddr string

	client *http.Client
	logger logger.Logger
}

func NewHTTPSource(addr string, timeout time.Duration, l logger.Logger) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &HTTPSource{
		RatesAddr: strings.TrimRight(addr, "/"),
		client:    &http.Client{Timeout: timeout},
		logger:    l,
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, pair Pair) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("base", pair.Base)
	q.Set("symbols", pair.Target)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.RatesAddr+"/latest?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("Rates api returned error", "status_code", resp.StatusCode, "pair", pair.String())
		return decimal.Zero, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	var body latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode response: %w", err)
	}

	rate, ok := body.Rates[pair.Target]
	if !ok || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("no positive rate for %s in response", pair)
	}

	return rate, nil
}
