package tax

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vcs-invoice-reconciler/internal/domain/report"
	"github.com/vcs-invoice-reconciler/internal/domain/shared"
)

// PartnerClass selects how the invoice partner is resolved
type PartnerClass string

const (
	PartnerClassB2BByVAT            PartnerClass = "b2b-by-vat"
	PartnerClassGenericB2CByCountry PartnerClass = "generic-b2c-by-country"
)

// RegimeKind names the tax scheme a decision belongs to
type RegimeKind string

const (
	RegimeDomestic              RegimeKind = "domestic"
	RegimeDomesticReverseCharge RegimeKind = "domestic-reverse-charge"
	RegimeOSS                   RegimeKind = "oss"
	RegimeIntraUnionB2B         RegimeKind = "intra-union-b2b"
	RegimeExport                RegimeKind = "export"
	RegimeDeemedReseller        RegimeKind = "deemed-reseller"
)

// Input is the fact set a tax decision is derived from
type Input struct {
	ShipFrom      string                 `json:"ship_from"`
	ShipTo        string                 `json:"ship_to"`
	HasBuyerVAT   bool                   `json:"has_buyer_vat"`
	Type          shared.TransactionType `json:"transaction_type"`
	MarketplaceID string                 `json:"marketplace_id"`
}

// InputFromAggregate extracts the decision inputs of an order aggregate
func InputFromAggregate(agg *report.OrderAggregate) Input {
	return Input{
		ShipFrom:      strings.ToUpper(strings.TrimSpace(agg.ShipFromCountry)),
		ShipTo:        strings.ToUpper(strings.TrimSpace(agg.ShipToCountry)),
		HasBuyerVAT:   agg.HasBuyerVAT(),
		Type:          agg.Type,
		MarketplaceID: strings.TrimSpace(agg.MarketplaceID),
	}
}

func (in Input) String() string {
	return fmt.Sprintf("from=%s to=%s vat=%t type=%s marketplace=%s",
		in.ShipFrom, in.ShipTo, in.HasBuyerVAT, in.Type, in.MarketplaceID)
}

// Decision is the tax treatment of one order. It is computed on demand and never stored.
type Decision struct {
	Regime         RegimeKind      `json:"regime"`
	TaxCode        string          `json:"tax_code"`
	Rate           decimal.Decimal `json:"rate"`
	FiscalRegime   string          `json:"fiscal_regime"`
	TargetJournal  string          `json:"target_journal"`
	PartnerClass   PartnerClass    `json:"partner_class"`
	PartnerCountry string          `json:"partner_country"`
	AmountSign     int             `json:"amount_sign"`
}

// IsZeroRated reports whether the decision charges no tax
func (d Decision) IsZeroRated() bool {
	return d.Rate.IsZero()
}

// ErrUnresolvable indicates no decision table entry covers the input
type ErrUnresolvable struct {
	Input  Input
	Reason string
}

func (e ErrUnresolvable) Error() string {
	return "no tax rule for " + e.Input.String() + ": " + e.Reason
}

// Is implements the errors.Is interface for ErrUnresolvable
func (e ErrUnresolvable) Is(target error) bool {
	_, ok := target.(ErrUnresolvable)
	return ok
}
