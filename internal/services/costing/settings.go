package costing

import "github.com/shopspring/decimal"

type Settings struct {
	MarginPercent      decimal.Decimal
	VATPercent         decimal.Decimal
	DeliveryFeeTTC     decimal.Decimal
	DeliveryTaxPercent decimal.Decimal
	Scale              int32

	// StrictInvoiceable rejects a batch that needs more units than a product
	// has invoiceable. Otherwise invoiceableQuantity is floored at zero.
	StrictInvoiceable bool

	DeliveryFeeLabel string
}

func DefaultSettings() Settings {
	return Settings{
		MarginPercent:      decimal.NewFromInt(7),
		VATPercent:         decimal.NewFromInt(19),
		DeliveryFeeTTC:     decimal.NewFromInt(7),
		DeliveryTaxPercent: decimal.NewFromInt(19),
		Scale:              3,
		DeliveryFeeLabel:   "Delivery fee",
	}
}

// withDefaults fills only the fields that cannot be meaningfully zero.
// A zero margin, VAT or fee is a valid setting.
func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.Scale <= 0 {
		s.Scale = def.Scale
	}
	if s.DeliveryFeeLabel == "" {
		s.DeliveryFeeLabel = def.DeliveryFeeLabel
	}
	return s
}

var hundred = decimal.NewFromInt(100)

func (s Settings) marginFactor() decimal.Decimal {
	return decimal.NewFromInt(1).Add(s.MarginPercent.Div(hundred))
}

func (s Settings) vatRate() decimal.Decimal {
	return s.VATPercent.Div(hundred)
}

func (s Settings) feeRate() decimal.Decimal {
	return s.DeliveryTaxPercent.Div(hundred)
}

// SalePrice applies the margin and rounds to the currency scale.
func (s Settings) SalePrice(cost decimal.Decimal) decimal.Decimal {
	return cost.Mul(s.marginFactor()).Round(s.Scale)
}
