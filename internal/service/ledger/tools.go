package ledger

import (
	"github.com/shopspring/decimal"
)

// Credits charged per AI tool invocation
func DefaultToolPrices() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"brand-analysis":     decimal.NewFromInt(10),
		"market-research":    decimal.NewFromInt(25),
		"translation":        decimal.NewFromInt(3),
		"content-generation": decimal.NewFromInt(5),
		"review-summary":     decimal.RequireFromString("1.50"),
	}
}
