package pricing

import (
	"github.com/shopspring/decimal"
)

type ShippingMethod string

const (
	ShippingAir ShippingMethod = "air"
	ShippingSea ShippingMethod = "sea"
)

type CertificationType string

const (
	CertificationEAC  CertificationType = "EAC"
	CertificationGOST CertificationType = "GOST"
	CertificationBoth CertificationType = "BOTH"
	CertificationNone CertificationType = "NONE"
)

// Freight cost is max(weight * PerKg, volume * PerCbm) + Base, all in KRW
type FreightRate struct {
	PerKg  int64
	PerCbm int64
	Base   int64
}

// RateTable holds every constant the calculator depends on
type RateTable struct {
	Freight       map[ShippingMethod]FreightRate
	DutyRate      decimal.Decimal
	VATRate       decimal.Decimal
	Certification map[CertificationType]int64
}

// DefaultRates returns a fresh copy of the production rate table
// BOTH is a bundle price and is intentionally cheaper than EAC + GOST
func DefaultRates() RateTable {
	return RateTable{
		Freight: map[ShippingMethod]FreightRate{
			ShippingAir: {PerKg: 6000, PerCbm: 180000, Base: 50000},
			ShippingSea: {PerKg: 1500, PerCbm: 45000, Base: 100000},
		},
		DutyRate: decimal.RequireFromString("0.065"),
		VATRate:  decimal.RequireFromString("0.20"),
		Certification: map[CertificationType]int64{
			CertificationEAC:  500000,
			CertificationGOST: 300000,
			CertificationBoth: 700000,
			CertificationNone: 0,
		},
	}
}

func (t RateTable) SupportsMethod(m ShippingMethod) bool {
	_, ok := t.Freight[m]
	return ok
}

func (t RateTable) SupportsCertification(c CertificationType) bool {
	_, ok := t.Certification[c]
	return ok
}
