package taxrules

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcs-invoice-reconciler/internal/domain/report"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
	"github.com/vcs-invoice-reconciler/internal/domain/tax"
)

func shipment(from, to string, vat bool, marketplace string) tax.Input {
	return tax.Input{ShipFrom: from, ShipTo: to, HasBuyerVAT: vat, Type: shared.TransactionTypeShipment, MarketplaceID: marketplace}
}

func TestEngine_DecisionTable(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name  string
		input tax.Input
		want  tax.Decision
	}{
		{
			name:  "domestic",
			input: shipment("DE", "DE", false, MarketplaceDE),
			want: tax.Decision{
				Regime:         tax.RegimeDomestic,
				TaxCode:        "DE*VAT 19%",
				Rate:           decimal.RequireFromString("19"),
				FiscalRegime:   "DE*VAT | Régime National",
				TargetJournal:  "VDE",
				PartnerClass:   tax.PartnerClassGenericB2CByCountry,
				PartnerCountry: "DE",
				AmountSign:     1,
			},
		},
		{
			name:  "domestic fractional rate",
			input: shipment("FI", "FI", false, ""),
			want: tax.Decision{
				Regime:         tax.RegimeDomestic,
				TaxCode:        "FI*VAT 25.5%",
				Rate:           decimal.RequireFromString("25.5"),
				FiscalRegime:   "FI*VAT | Régime National",
				TargetJournal:  "VFI",
				PartnerClass:   tax.PartnerClassGenericB2CByCountry,
				PartnerCountry: "FI",
				AmountSign:     1,
			},
		},
		{
			name:  "domestic reverse charge",
			input: shipment("FR", "FR", true, MarketplaceFR),
			want: tax.Decision{
				Regime:         tax.RegimeDomesticReverseCharge,
				TaxCode:        "FR*VAT 0% Autoliquidation",
				Rate:           decimal.Zero,
				FiscalRegime:   "FR*VAT | Régime Autoliquidation",
				TargetJournal:  "VFR",
				PartnerClass:   tax.PartnerClassB2BByVAT,
				PartnerCountry: "FR",
				AmountSign:     1,
			},
		},
		{
			name:  "one-stop-shop uses destination rate",
			input: shipment("DE", "IT", false, MarketplaceDE),
			want: tax.Decision{
				Regime:         tax.RegimeOSS,
				TaxCode:        "IT*VAT 22%",
				Rate:           decimal.RequireFromString("22"),
				FiscalRegime:   "IT*VAT | Régime OSS",
				TargetJournal:  "VOS",
				PartnerClass:   tax.PartnerClassGenericB2CByCountry,
				PartnerCountry: "IT",
				AmountSign:     1,
			},
		},
		{
			name:  "intra-union business supply",
			input: shipment("PL", "NL", true, MarketplaceNL),
			want: tax.Decision{
				Regime:         tax.RegimeIntraUnionB2B,
				TaxCode:        "PL*VAT 0% EU B2B",
				Rate:           decimal.Zero,
				FiscalRegime:   "PL*VAT | Régime Intracommunautaire",
				TargetJournal:  "VPL",
				PartnerClass:   tax.PartnerClassB2BByVAT,
				PartnerCountry: "NL",
				AmountSign:     1,
			},
		},
		{
			name:  "export outside the union",
			input: shipment("DE", "CH", false, MarketplaceDE),
			want: tax.Decision{
				Regime:         tax.RegimeExport,
				TaxCode:        "EX*VAT 0% Export",
				Rate:           decimal.Zero,
				FiscalRegime:   "EX*VAT | Régime Export",
				TargetJournal:  "VDE",
				PartnerClass:   tax.PartnerClassGenericB2CByCountry,
				PartnerCountry: "CH",
				AmountSign:     1,
			},
		},
		{
			name:  "export to a business",
			input: shipment("CZ", "NO", true, ""),
			want: tax.Decision{
				Regime:         tax.RegimeExport,
				TaxCode:        "EX*VAT 0% Export",
				Rate:           decimal.Zero,
				FiscalRegime:   "EX*VAT | Régime Export",
				TargetJournal:  "VCZ",
				PartnerClass:   tax.PartnerClassB2BByVAT,
				PartnerCountry: "NO",
				AmountSign:     1,
			},
		},
		{
			name:  "deemed reseller on the UK marketplace",
			input: shipment("DE", "GB", false, MarketplaceUK),
			want: tax.Decision{
				Regime:         tax.RegimeDeemedReseller,
				TaxCode:        "GB*VAT 0% Deemed Reseller",
				Rate:           decimal.Zero,
				FiscalRegime:   "GB*VAT | Régime Deemed Reseller",
				TargetJournal:  "VGB",
				PartnerClass:   tax.PartnerClassGenericB2CByCountry,
				PartnerCountry: "GB",
				AmountSign:     1,
			},
		},
		{
			name:  "deemed reseller import into the union",
			input: shipment("GB", "FR", false, MarketplaceFR),
			want: tax.Decision{
				Regime:         tax.RegimeDeemedReseller,
				TaxCode:        "FR*VAT 0% Deemed Reseller",
				Rate:           decimal.Zero,
				FiscalRegime:   "FR*VAT | Régime Deemed Reseller",
				TargetJournal:  "VFR",
				PartnerClass:   tax.PartnerClassGenericB2CByCountry,
				PartnerCountry: "FR",
				AmountSign:     1,
			},
		},
		{
			name:  "domestic outside the union",
			input: shipment("GB", "GB", false, MarketplaceUK),
			want: tax.Decision{
				Regime:         tax.RegimeDomestic,
				TaxCode:        "GB*VAT 20%",
				Rate:           decimal.RequireFromString("20"),
				FiscalRegime:   "GB*VAT | Régime National",
				TargetJournal:  "VGB",
				PartnerClass:   tax.PartnerClassGenericB2CByCountry,
				PartnerCountry: "GB",
				AmountSign:     1,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Decide(tt.input)
			require.NoError(t, err)
			assert.True(t, tt.want.Rate.Equal(got.Rate), "rate %s", got.Rate)
			got.Rate = tt.want.Rate
			assert.Equal(t, tt.want, got)

			again, err := engine.Decide(tt.input)
			require.NoError(t, err)
			assert.Equal(t, got.TaxCode, again.TaxCode, "decisions are stable")
		})
	}
}

func TestEngine_RefundMirrorsShipment(t *testing.T) {
	engine := NewEngine()

	for _, in := range []tax.Input{
		shipment("DE", "DE", false, MarketplaceDE),
		shipment("DE", "IT", false, MarketplaceDE),
		shipment("PL", "NL", true, MarketplaceNL),
		shipment("DE", "GB", false, MarketplaceUK),
	} {
		ship, err := engine.Decide(in)
		require.NoError(t, err)

		refundInput := in
		refundInput.Type = shared.TransactionTypeRefund
		refund, err := engine.Decide(refundInput)
		require.NoError(t, err)

		assert.Equal(t, 1, ship.AmountSign)
		assert.Equal(t, -1, refund.AmountSign)
		refund.AmountSign = 1
		assert.Equal(t, ship, refund)
	}
}

func TestEngine_Unresolvable(t *testing.T) {
	engine := NewEngine()

	tests := []struct {
		name  string
		input tax.Input
	}{
		{name: "domestic outside the table", input: shipment("US", "US", false, "")},
		{name: "import with buyer registration", input: shipment("GB", "DE", true, MarketplaceDE)},
		{name: "import not facilitated", input: shipment("CN", "DE", false, "")},
		{name: "between third countries", input: shipment("GB", "CH", false, MarketplaceUK)},
		{name: "missing destination", input: shipment("DE", "", false, MarketplaceDE)},
		{name: "lower case country", input: shipment("de", "de", false, MarketplaceDE)},
		{name: "unknown type", input: tax.Input{ShipFrom: "DE", ShipTo: "DE", Type: "ADJUSTMENT"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Decide(tt.input)
			require.Error(t, err)
			assert.ErrorIs(t, err, tax.ErrUnresolvable{})
		})
	}
}

func TestEngine_DecideAggregate(t *testing.T) {
	agg := &report.OrderAggregate{
		OrderID:         "ORD-1",
		Type:            shared.TransactionTypeShipment,
		ShipFromCountry: "de",
		ShipToCountry:   " de",
		MarketplaceID:   MarketplaceDE,
	}

	d, err := NewEngine().DecideAggregate(agg)
	require.NoError(t, err)
	assert.Equal(t, tax.RegimeDomestic, d.Regime)
	assert.Equal(t, "VDE", d.TargetJournal)
}

func TestEngine_CustomTable(t *testing.T) {
	engine := NewEngineWithRules(DefaultRules[1:2])

	_, err := engine.Decide(shipment("DE", "IT", false, ""))
	assert.ErrorIs(t, err, tax.ErrUnresolvable{})
	assert.Len(t, engine.Rules(), 1)
}

func TestStandardRates(t *testing.T) {
	for country := range unionMembers {
		_, ok := StandardRate(country)
		assert.True(t, ok, country)
	}
	_, ok := StandardRate("US")
	assert.False(t, ok)
}
