package rates

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/kglow/internal/apperrors"
	"github.com/nkiryanov/kglow/internal/logger"
	"github.com/nkiryanov/kglow/internal/metrics"
)

// Rates are stored with 8 fractional digits
const ratePrecision = 8

type Service struct {
	source   Source
	cache    Cache
	fallback decimal.Decimal
	logger   logger.Logger
	metrics  *metrics.Metrics
}

// fallback <= 0 disables the fallback rate
func NewService(source Source, cache Cache, fallback decimal.Decimal, l logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		source:   source,
		cache:    cache,
		fallback: fallback,
		logger:   l,
		metrics:  m,
	}
}

// Rate returns how many target units one base unit costs
// Cache is consulted first. If the source fails the configured fallback is used
// If there is no fallback apperrors.ErrRateUnavailable is returned
func (s *Service) Rate(ctx context.Context, base string, target string) (decimal.Decimal, error) {
	pair := Pair{Base: base, Target: target}

	cached, ok, err := s.cache.Get(ctx, pair)
	if err != nil {
		s.logger.Warn("Rate cache read failed", "pair", pair.String(), "error", err)
	}
	if ok {
		s.metrics.RateLookup("cache")
		return cached.Value, nil
	}

	value, err := s.source.Fetch(ctx, pair)
	if err == nil && !value.Round(ratePrecision).IsPositive() {
		err = fmt.Errorf("rate %s is not positive at %d fractional digits", value, ratePrecision)
	}
	if err == nil {
		value = value.Round(ratePrecision)
		if err := s.cache.Set(ctx, pair, Rate{Value: value, FetchedAt: time.Now()}); err != nil {
			s.logger.Warn("Rate cache write failed", "pair", pair.String(), "error", err)
		}
		s.metrics.RateLookup("remote")
		return value, nil
	}

	if s.fallback.IsPositive() {
		s.logger.Warn("Rate source failed, using fallback", "pair", pair.String(), "fallback", s.fallback.String(), "error", err)
		s.metrics.RateLookup("fallback")
		return s.fallback.Round(ratePrecision), nil
	}

	s.metrics.RateLookup("unavailable")
	return decimal.Zero, fmt.Errorf("%w: %s: %v", apperrors.ErrRateUnavailable, pair, err)
}
