package pricing

import (
	"github.com/shopspring/decimal"
)

const (
	BasisWeight = "weight"
	BasisVolume = "volume"
)

type Item struct {
	Name         string          `json:"name"`
	Quantity     int64           `json:"quantity"`
	UnitPriceKRW int64           `json:"priceKRW"`
	Weight       decimal.Decimal `json:"weight"` // kg per unit
	Volume       decimal.Decimal `json:"volume"` // m3 per unit
}

type ShippingInfo struct {
	Method      ShippingMethod  `json:"method"`
	Origin      string          `json:"origin,omitempty"`
	Destination string          `json:"destination,omitempty"`
	TotalWeight decimal.Decimal `json:"totalWeight"`
	TotalVolume decimal.Decimal `json:"totalVolume"`
}

type CertificationInfo struct {
	Type         CertificationType `json:"type"`
	ProductCount int64             `json:"productCount"`
}

// Result of one calculation. Money is whole KRW (or RUB for TotalRUB)
type Result struct {
	Subtotal          int64           `json:"subtotal"`
	ShippingCost      int64           `json:"shippingCost"`
	CustomsDuty       int64           `json:"customsDuty"`
	VAT               int64           `json:"vat"`
	CertificationCost int64           `json:"certificationCost"`
	TotalKRW          int64           `json:"totalKRW"`
	TotalRUB          int64           `json:"totalRUB"`
	ExchangeRate      decimal.Decimal `json:"exchangeRate"`
	Breakdown         Breakdown       `json:"breakdown"`
}

type Breakdown struct {
	Lines         []LineBreakdown        `json:"lines"`
	Shipping      ShippingBreakdown      `json:"shipping"`
	Customs       TaxBreakdown           `json:"customs"`
	VAT           TaxBreakdown           `json:"vat"`
	Certification CertificationBreakdown `json:"certification"`
}

type LineBreakdown struct {
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	LineTotal int64  `json:"lineTotal"`
}

type ShippingBreakdown struct {
	Method     ShippingMethod  `json:"method"`
	Weight     decimal.Decimal `json:"weight"`
	Volume     decimal.Decimal `json:"volume"`
	WeightCost decimal.Decimal `json:"weightCost"`
	VolumeCost decimal.Decimal `json:"volumeCost"`
	Basis      string          `json:"basis"`
	BaseRate   int64           `json:"baseRate"`
}

type TaxBreakdown struct {
	Rate       decimal.Decimal `json:"rate"`
	TaxableKRW int64           `json:"taxableKRW"`
}

type CertificationBreakdown struct {
	Type         CertificationType `json:"type"`
	ProductCount int64             `json:"productCount"`
	UnitCost     int64             `json:"unitCost"`
}

// Calculate prices the quote with the default rate table
func Calculate(items []Item, shipping ShippingInfo, cert CertificationInfo, exchangeRate decimal.Decimal) Result {
	return DefaultRates().Calculate(items, shipping, cert, exchangeRate)
}

// Calculate is a pure function of its arguments and the table.
// Input must be validated by the caller: the function never fails.
// Duty and VAT are rounded right away because VAT is levied on the rounded duty.
func (t RateTable) Calculate(items []Item, shipping ShippingInfo, cert CertificationInfo, exchangeRate decimal.Decimal) Result {
	var b Breakdown

	var subtotal int64
	b.Lines = make([]LineBreakdown, 0, len(items))
	for _, it := range items {
		line := it.UnitPriceKRW * it.Quantity
		subtotal += line
		b.Lines = append(b.Lines, LineBreakdown{
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPriceKRW,
			LineTotal: line,
		})
	}

	shippingCost, shippingBreakdown := t.shipping(shipping)
	b.Shipping = shippingBreakdown

	dutiable := subtotal + shippingCost
	duty := round(decimal.NewFromInt(dutiable).Mul(t.DutyRate))
	b.Customs = TaxBreakdown{Rate: t.DutyRate, TaxableKRW: dutiable}

	taxable := dutiable + duty
	vat := round(decimal.NewFromInt(taxable).Mul(t.VATRate))
	b.VAT = TaxBreakdown{Rate: t.VATRate, TaxableKRW: taxable}

	unitCost := t.Certification[cert.Type]
	certCost := unitCost * cert.ProductCount
	b.Certification = CertificationBreakdown{Type: cert.Type, ProductCount: cert.ProductCount, UnitCost: unitCost}

	total := subtotal + shippingCost + duty + vat + certCost

	return Result{
		Subtotal:          subtotal,
		ShippingCost:      shippingCost,
		CustomsDuty:       duty,
		VAT:               vat,
		CertificationCost: certCost,
		TotalKRW:          total,
		TotalRUB:          round(decimal.NewFromInt(total).Mul(exchangeRate)),
		ExchangeRate:      exchangeRate,
		Breakdown:         b,
	}
}

// Freight is charged on whichever of weight or volume dominates
func (t RateTable) shipping(s ShippingInfo) (int64, ShippingBreakdown) {
	rate := t.Freight[s.Method]

	weightCost := s.TotalWeight.Mul(decimal.NewFromInt(rate.PerKg))
	volumeCost := s.TotalVolume.Mul(decimal.NewFromInt(rate.PerCbm))

	chargeable, basis := weightCost, BasisWeight
	if volumeCost.GreaterThan(weightCost) {
		chargeable, basis = volumeCost, BasisVolume
	}

	return round(chargeable.Add(decimal.NewFromInt(rate.Base))), ShippingBreakdown{
		Method:     s.Method,
		Weight:     s.TotalWeight,
		Volume:     s.TotalVolume,
		WeightCost: weightCost,
		VolumeCost: volumeCost,
		Basis:      basis,
		BaseRate:   rate.Base,
	}
}

// Half away from zero, same as the amounts shown on invoices
func round(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}
