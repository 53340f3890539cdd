package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/vcs-invoice-reconciler/internal/domain/ledger"
	"github.com/vcs-invoice-reconciler/internal/domain/report"
	"github.com/vcs-invoice-reconciler/internal/domain/tax"
	"github.com/vcs-invoice-reconciler/internal/platform/resilience"
)

const partnerPrefix = "Amazon | "

// GenericPartnerName is the deterministic name of the B2C partner of a destination country
func GenericPartnerName(country string) string {
	return partnerPrefix + "AMZ_B2C_" + strings.ToUpper(country)
}

// BusinessPartnerName is the name given to a B2B partner created from a VAT number
func BusinessPartnerName(vat string) string {
	return partnerPrefix + "AMZ_B2B_" + ledger.NormalizeVAT(vat)
}

// resolvePartner finds or creates the invoice partner. Every create attempt is
// preceded by a lookup so a create whose reply was lost is adopted, not repeated.
func (e *Executor) resolvePartner(ctx context.Context, decision *tax.Decision, agg *report.OrderAggregate) (int64, bool, error) {
	if decision.PartnerClass == tax.PartnerClassB2BByVAT {
		return e.resolveBusinessPartner(ctx, agg)
	}

	country := decision.PartnerCountry
	if country == "" {
		country = strings.ToUpper(agg.ShipToCountry)
	}
	name := GenericPartnerName(country)

	created := false
	id, err := resilience.RetryWithResult(ctx, e.retry, func() (int64, error) {
		existing, err := e.gateway.FindPartnerByName(ctx, name)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			return existing.ID, nil
		}
		if e.dryRun {
			return 0, nil
		}
		id, err := e.gateway.CreatePartner(ctx, ledger.Partner{Name: name, CountryCode: country})
		if err == nil {
			created = true
		}
		return id, err
	})
	if err != nil {
		return 0, false, fmt.Errorf("resolve partner %q: %w", name, err)
	}
	return id, created, nil
}

func (e *Executor) resolveBusinessPartner(ctx context.Context, agg *report.OrderAggregate) (int64, bool, error) {
	vat := ledger.NormalizeVAT(agg.BuyerTaxRegistration)
	name := BusinessPartnerName(vat)

	created := false
	id, err := resilience.RetryWithResult(ctx, e.retry, func() (int64, error) {
		existing, err := e.gateway.FindPartnerByVAT(ctx, vat)
		if err != nil {
			return 0, err
		}
		if existing != nil {
			return existing.ID, nil
		}

		// a partner created under our name without a VAT number gets it written back
		named, err := e.gateway.FindPartnerByName(ctx, name)
		if err != nil {
			return 0, err
		}
		if named != nil {
			if !e.dryRun {
				if err := e.gateway.UpdatePartnerVAT(ctx, named.ID, vat); err != nil {
					return 0, err
				}
			}
			return named.ID, nil
		}
		if e.dryRun {
			return 0, nil
		}

		id, err := e.gateway.CreatePartner(ctx, ledger.Partner{
			Name:        name,
			VAT:         vat,
			CountryCode: strings.ToUpper(agg.ShipToCountry),
			IsCompany:   true,
		})
		if err == nil {
			created = true
		}
		return id, err
	})
	if err != nil {
		return 0, false, fmt.Errorf("resolve partner for vat %s: %w", vat, err)
	}
	return id, created, nil
}
