package ledgergw

import (
	"context"

	"github.com/vcs-invoice-reconciler/internal/domain/ledger"
)

const modelPartner = "res.partner"

var partnerFields = []string{"id", "name", "vat", "country_code", "is_company"}

// FindPartnerByVAT returns the first partner whose normalized VAT equals vat, or nil
func (g *Gateway) FindPartnerByVAT(ctx context.Context, vat string) (*ledger.Partner, error) {
	want := ledger.NormalizeVAT(vat)
	if want == "" {
		return nil, nil
	}
	// the ledger stores VAT numbers as typed; match the numeric tail loosely, then compare exactly
	probe := want
	if len(probe) > 2 {
		probe = probe[2:]
	}
	rows, err := g.searchRead(ctx, modelPartner,
		ledger.Domain{{"vat", "ilike", probe}},
		partnerFields, ledger.SearchOptions{Order: "id asc"})
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		if ledger.NormalizeVAT(rowString(row, "vat")) == want {
			p := toPartner(row)
			return &p, nil
		}
	}
	return nil, nil
}

// FindPartnerByName returns the oldest partner with exactly this name, or nil
func (g *Gateway) FindPartnerByName(ctx context.Context, name string) (*ledger.Partner, error) {
	rows, err := g.searchRead(ctx, modelPartner,
		ledger.Domain{{"name", "=", name}},
		partnerFields, ledger.SearchOptions{Limit: 1, Order: "id asc"})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	p := toPartner(rows[0])
	return &p, nil
}

// CreatePartner makes a single create attempt, see CreateInvoice
func (g *Gateway) CreatePartner(ctx context.Context, partner ledger.Partner) (int64, error) {
	values := ledger.Values{
		"name":       partner.Name,
		"is_company": partner.IsCompany,
	}
	if partner.VAT != "" {
		values["vat"] = partner.VAT
	}
	if partner.CountryCode != "" {
		countryID, err := g.resolveReference(ctx, modelCountry, "code", partner.CountryCode)
		if err != nil {
			return 0, err
		}
		values["country_id"] = countryID
	}

	var id int64
	err := g.call(ctx, opName(modelPartner, "create"), func(ctx context.Context) error {
		var err error
		id, err = g.svc.Create(ctx, modelPartner, values)
		return err
	})
	if err != nil {
		return 0, err
	}

	g.logger.Info("Partner created", "partner_id", id, "name", partner.Name)
	return id, nil
}

func (g *Gateway) UpdatePartnerVAT(ctx context.Context, id int64, vat string) error {
	return g.retried(ctx, opName(modelPartner, "write"), func(ctx context.Context) error {
		return g.svc.Write(ctx, modelPartner, []int64{id}, ledger.Values{"vat": vat})
	})
}

func toPartner(row ledger.Row) ledger.Partner {
	return ledger.Partner{
		ID:          rowInt(row, "id"),
		Name:        rowString(row, "name"),
		VAT:         rowString(row, "vat"),
		CountryCode: rowString(row, "country_code"),
		IsCompany:   rowBool(row, "is_company"),
	}
}
