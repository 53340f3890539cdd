package taxrules

import "github.com/shopspring/decimal"

// standardRates are the standard VAT rates in percent
var standardRates = map[string]string{
	// union member states
	"AT": "20", "BE": "21", "BG": "20", "HR": "25", "CY": "19", "CZ": "21",
	"DK": "25", "EE": "24", "FI": "25.5", "FR": "20", "DE": "19", "GR": "24",
	"HU": "27", "IE": "23", "IT": "22", "LV": "21", "LT": "21", "LU": "17",
	"MT": "18", "NL": "21", "PL": "23", "PT": "23", "RO": "21", "SK": "23",
	"SI": "22", "ES": "21", "SE": "25",
	// outside the union
	"GB": "20", "CH": "8.1", "NO": "25",
}

var unionMembers = map[string]bool{
	"AT": true, "BE": true, "BG": true, "HR": true, "CY": true, "CZ": true,
	"DK": true, "EE": true, "FI": true, "FR": true, "DE": true, "GR": true,
	"HU": true, "IE": true, "IT": true, "LV": true, "LT": true, "LU": true,
	"MT": true, "NL": true, "PL": true, "PT": true, "RO": true, "SK": true,
	"SI": true, "ES": true, "SE": true,
}

// Marketplace identifiers and the territory they facilitate as deemed reseller
const (
	MarketplaceDE = "A1PA6795UKMFR9"
	MarketplaceFR = "A13V1IB3VIYZZH"
	MarketplaceIT = "APJ6JRA9NG5V4"
	MarketplaceES = "A1RKKUPIHCS9HS"
	MarketplaceNL = "A1805IZSGTT6HS"
	MarketplacePL = "A1C3SOZRARQ6R3"
	MarketplaceSE = "A2NODRKZP88ZB9"
	MarketplaceBE = "AMEN7PMS3EDWL"
	MarketplaceUK = "A1F83G8C2ARO7P"
)

type territory string

const (
	territoryUnion territory = "EU"
	territoryGB    territory = "GB"
)

var facilitatedTerritory = map[string]territory{
	MarketplaceDE: territoryUnion,
	MarketplaceFR: territoryUnion,
	MarketplaceIT: territoryUnion,
	MarketplaceES: territoryUnion,
	MarketplaceNL: territoryUnion,
	MarketplacePL: territoryUnion,
	MarketplaceSE: territoryUnion,
	MarketplaceBE: territoryUnion,
	MarketplaceUK: territoryGB,
}

// InUnion reports whether country is a union member state
func InUnion(country string) bool {
	return unionMembers[country]
}

// StandardRate returns the standard VAT rate of a country
func StandardRate(country string) (decimal.Decimal, bool) {
	raw, ok := standardRates[country]
	if !ok {
		return decimal.Zero, false
	}
	return decimal.RequireFromString(raw), true
}

// facilitates reports whether marketplace is the deemed reseller for goods arriving in country
func facilitates(marketplaceID, country string) bool {
	t, ok := facilitatedTerritory[marketplaceID]
	if !ok {
		return false
	}
	switch t {
	case territoryUnion:
		return InUnion(country)
	case territoryGB:
		return country == "GB"
	}
	return false
}

func isCountryCode(s string) bool {
	if len(s) != 2 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
