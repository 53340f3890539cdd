package taxrules

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vcs-invoice-reconciler/internal/domain/tax"
)

// Journal and fiscal naming used by the ledger configuration
const (
	journalOSS     = "VOS"
	exportTaxCode  = "EX*VAT 0% Export"
	exportFiscal   = "EX*VAT | Régime Export"
	journalPattern = "V%s"
)

// Rule is one row of the decision table. Rules are evaluated in order and the first
// whose Applies returns true decides.
type Rule struct {
	Name    string
	Regime  tax.RegimeKind
	Applies func(in tax.Input) bool
	Decide  func(in tax.Input) tax.Decision
}

// DefaultRules is the decision table for the marketplace schemes the engine books
var DefaultRules = []Rule{
	{
		Name:   "deemed reseller import",
		Regime: tax.RegimeDeemedReseller,
		Applies: func(in tax.Input) bool {
			return in.ShipFrom != in.ShipTo && !in.HasBuyerVAT &&
				facilitates(in.MarketplaceID, in.ShipTo) &&
				!facilitates(in.MarketplaceID, in.ShipFrom) &&
				known(in.ShipTo)
		},
		Decide: func(in tax.Input) tax.Decision {
			return tax.Decision{
				TaxCode:        fmt.Sprintf("%s*VAT 0%% Deemed Reseller", in.ShipTo),
				Rate:           decimal.Zero,
				FiscalRegime:   fmt.Sprintf("%s*VAT | Régime Deemed Reseller", in.ShipTo),
				TargetJournal:  journal(in.ShipTo),
				PartnerClass:   tax.PartnerClassGenericB2CByCountry,
				PartnerCountry: in.ShipTo,
			}
		},
	},
	{
		Name:   "domestic",
		Regime: tax.RegimeDomestic,
		Applies: func(in tax.Input) bool {
			return in.ShipFrom == in.ShipTo && !in.HasBuyerVAT && known(in.ShipFrom)
		},
		Decide: func(in tax.Input) tax.Decision {
			rate, _ := StandardRate(in.ShipFrom)
			return tax.Decision{
				TaxCode:        rateCode(in.ShipFrom, rate),
				Rate:           rate,
				FiscalRegime:   fmt.Sprintf("%s*VAT | Régime National", in.ShipFrom),
				TargetJournal:  journal(in.ShipFrom),
				PartnerClass:   tax.PartnerClassGenericB2CByCountry,
				PartnerCountry: in.ShipFrom,
			}
		},
	},
	{
		Name:   "domestic reverse charge",
		Regime: tax.RegimeDomesticReverseCharge,
		Applies: func(in tax.Input) bool {
			return in.ShipFrom == in.ShipTo && in.HasBuyerVAT && known(in.ShipFrom)
		},
		Decide: func(in tax.Input) tax.Decision {
			return tax.Decision{
				TaxCode:        fmt.Sprintf("%s*VAT 0%% Autoliquidation", in.ShipFrom),
				Rate:           decimal.Zero,
				FiscalRegime:   fmt.Sprintf("%s*VAT | Régime Autoliquidation", in.ShipFrom),
				TargetJournal:  journal(in.ShipFrom),
				PartnerClass:   tax.PartnerClassB2BByVAT,
				PartnerCountry: in.ShipTo,
			}
		},
	},
	{
		Name:   "one-stop-shop distance sale",
		Regime: tax.RegimeOSS,
		Applies: func(in tax.Input) bool {
			return in.ShipFrom != in.ShipTo && !in.HasBuyerVAT && InUnion(in.ShipFrom) && InUnion(in.ShipTo)
		},
		Decide: func(in tax.Input) tax.Decision {
			rate, _ := StandardRate(in.ShipTo)
			return tax.Decision{
				TaxCode:        rateCode(in.ShipTo, rate),
				Rate:           rate,
				FiscalRegime:   fmt.Sprintf("%s*VAT | Régime OSS", in.ShipTo),
				TargetJournal:  journalOSS,
				PartnerClass:   tax.PartnerClassGenericB2CByCountry,
				PartnerCountry: in.ShipTo,
			}
		},
	},
	{
		Name:   "intra-union business supply",
		Regime: tax.RegimeIntraUnionB2B,
		Applies: func(in tax.Input) bool {
			return in.ShipFrom != in.ShipTo && in.HasBuyerVAT && InUnion(in.ShipFrom) && InUnion(in.ShipTo)
		},
		Decide: func(in tax.Input) tax.Decision {
			return tax.Decision{
				TaxCode:        fmt.Sprintf("%s*VAT 0%% EU B2B", in.ShipFrom),
				Rate:           decimal.Zero,
				FiscalRegime:   fmt.Sprintf("%s*VAT | Régime Intracommunautaire", in.ShipFrom),
				TargetJournal:  journal(in.ShipFrom),
				PartnerClass:   tax.PartnerClassB2BByVAT,
				PartnerCountry: in.ShipTo,
			}
		},
	},
	{
		Name:   "export",
		Regime: tax.RegimeExport,
		Applies: func(in tax.Input) bool {
			return InUnion(in.ShipFrom) && isCountryCode(in.ShipTo) && !InUnion(in.ShipTo)
		},
		Decide: func(in tax.Input) tax.Decision {
			class := tax.PartnerClassGenericB2CByCountry
			if in.HasBuyerVAT {
				class = tax.PartnerClassB2BByVAT
			}
			return tax.Decision{
				TaxCode:        exportTaxCode,
				Rate:           decimal.Zero,
				FiscalRegime:   exportFiscal,
				TargetJournal:  journal(in.ShipFrom),
				PartnerClass:   class,
				PartnerCountry: in.ShipTo,
			}
		},
	},
}

func known(country string) bool {
	_, ok := standardRates[country]
	return ok
}

func journal(country string) string {
	return fmt.Sprintf(journalPattern, country)
}

func rateCode(country string, rate decimal.Decimal) string {
	return fmt.Sprintf("%s*VAT %s%%", country, rate.String())
}
