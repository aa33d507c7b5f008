package quote

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/kglow/internal/apperrors"
)

// Limits keep every intermediate value far from int64 overflow
var (
	maxSubtotal     = decimal.New(1, 15) // KRW
	maxTotalWeight  = decimal.New(1, 6)  // kg
	maxTotalVolume  = decimal.New(1, 5)  // m3
	maxProductCount = int64(1_000_000)
	maxItems        = 1000
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperrors.ErrInvalidInput, fmt.Sprintf(format, args...))
}

func (s *Service) validate(req Request) error {
	if len(req.Items) == 0 {
		return invalid("items must not be empty")
	}
	if len(req.Items) > maxItems {
		return invalid("too many items, max %d", maxItems)
	}

	subtotal := decimal.Zero
	for i, it := range req.Items {
		switch {
		case it.Quantity < 1:
			return invalid("items[%d]: quantity must be at least 1", i)
		case it.UnitPriceKRW < 0:
			return invalid("items[%d]: price must not be negative", i)
		case it.Weight.IsNegative():
			return invalid("items[%d]: weight must not be negative", i)
		case it.Volume.IsNegative():
			return invalid("items[%d]: volume must not be negative", i)
		}

		subtotal = subtotal.Add(decimal.NewFromInt(it.UnitPriceKRW).Mul(decimal.NewFromInt(it.Quantity)))
		if subtotal.GreaterThan(maxSubtotal) {
			return invalid("subtotal is too large")
		}
	}

	sh := req.Shipping
	switch {
	case !s.table.SupportsMethod(sh.Method):
		return invalid("unknown shipping method '%s'", sh.Method)
	case sh.TotalWeight.IsNegative(), sh.TotalWeight.GreaterThan(maxTotalWeight):
		return invalid("total weight must be between 0 and %s", maxTotalWeight)
	case sh.TotalVolume.IsNegative(), sh.TotalVolume.GreaterThan(maxTotalVolume):
		return invalid("total volume must be between 0 and %s", maxTotalVolume)
	}

	c := req.Certification
	switch {
	case !s.table.SupportsCertification(c.Type):
		return invalid("unknown certification type '%s'", c.Type)
	case c.ProductCount < 0, c.ProductCount > maxProductCount:
		return invalid("product count must be between 0 and %d", maxProductCount)
	}

	return nil
}
