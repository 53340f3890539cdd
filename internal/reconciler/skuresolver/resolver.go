package skuresolver

import (
	"regexp"
	"strings"

	"github.com/vcs-invoice-reconciler/internal/domain/report"
)

// Rule names reported in a Resolution
const (
	RuleExact       = "exact"
	RuleReturnLabel = "return-label"
	RuleSuffix      = "suffix"
	RuleHyphenStrip = "hyphen-strip"
	RuleUnresolved  = "unresolved"
)

// returnLabelPattern matches relabelled returns: a marketplace marker, the base SKU
// and a random suffix of at least 8 characters
var returnLabelPattern = regexp.MustCompile(`(?i)^amzn\.(?:gr|rt)\.(.+)-[A-Za-z0-9_]{8,}$`)

// SuffixRules are stripped in order, case-insensitively. Channel markers come before
// condition markers, so "X-stickerless-FBM" and "X-FBM" both reach "X".
var SuffixRules = []string{
	"-FBM",
	"_FBM",
	"-FBA",
	"_FBA",
	"-STICKERLESS",
	"_STICKERLESS",
	"-NEW",
	"-USED",
	"-REFURB",
}

// Resolution is the outcome of resolving one raw SKU
type Resolution struct {
	Raw       string
	SKU       string
	ProductID int64
	Resolved  bool
	Rule      string
}

// Resolver maps marketplace SKUs onto catalog SKUs
type Resolver struct {
	catalog *Catalog
}

func NewResolver(catalog *Catalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve applies return-label extraction, then the suffix rules, then trailing
// hyphen-segment stripping, stopping at the first catalog hit. An exact catalog SKU
// is never transformed.
func (r *Resolver) Resolve(raw string) Resolution {
	raw = strings.TrimSpace(raw)
	res := Resolution{Raw: raw, SKU: raw, Rule: RuleUnresolved}

	if r.hit(&res, raw, RuleExact) {
		return res
	}

	candidate := raw
	if m := returnLabelPattern.FindStringSubmatch(candidate); m != nil {
		candidate = m[1]
		if r.hit(&res, candidate, RuleReturnLabel) {
			return res
		}
	}

	for _, suffix := range SuffixRules {
		stripped, ok := trimSuffixFold(candidate, suffix)
		if !ok {
			continue
		}
		candidate = stripped
		if r.hit(&res, candidate, RuleSuffix) {
			return res
		}
	}

	for {
		idx := strings.LastIndex(candidate, "-")
		if idx <= 0 {
			break
		}
		candidate = candidate[:idx]
		if r.hit(&res, candidate, RuleHyphenStrip) {
			return res
		}
	}

	return res
}

// ResolveAggregate rewrites the aggregate lines onto catalog SKUs, merging lines that
// resolve to the same SKU. Unresolved lines keep their raw SKU and are flagged.
func (r *Resolver) ResolveAggregate(agg *report.OrderAggregate) *report.OrderAggregate {
	out := agg.WithoutLines()
	for _, line := range agg.Lines {
		res := r.Resolve(line.SKU)
		resolved := line
		resolved.RawSKUs = rawSKUs(line)
		if res.Resolved {
			resolved.SKU = res.SKU
			resolved.ProductID = res.ProductID
			resolved.Unresolved = false
		} else {
			resolved.SKU = res.Raw
			resolved.ProductID = 0
			resolved.Unresolved = true
		}
		out.AddLine(resolved)
	}
	out.SortLines()
	return out
}

func (r *Resolver) hit(res *Resolution, candidate, rule string) bool {
	p, ok := r.catalog.Lookup(candidate)
	if !ok {
		return false
	}
	res.SKU = p.SKU
	res.ProductID = p.ID
	res.Resolved = true
	res.Rule = rule
	return true
}

func rawSKUs(line report.ItemLine) []string {
	if len(line.RawSKUs) == 0 {
		return []string{line.SKU}
	}
	return line.RawSKUs
}

func trimSuffixFold(s, suffix string) (string, bool) {
	if len(s) <= len(suffix) || !strings.EqualFold(s[len(s)-len(suffix):], suffix) {
		return s, false
	}
	return s[:len(s)-len(suffix)], true
}
