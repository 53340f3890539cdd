package matcher

import "strings"

// channelPrefixes are fulfilment-channel markers the ledger prepends to order names
var channelPrefixes = []string{"FBA", "FBM"}

// NormalizeOrderName reduces a marketplace or ledger order name to its core
// identifier: channel prefixes and a trailing _SUFFIX marker are removed, so
// "FBA404-0306410-8965972_BAD3" and "404-0306410-8965972" compare equal.
func NormalizeOrderName(name string) string {
	core := strings.ToUpper(strings.TrimSpace(name))
	if i := strings.IndexByte(core, '_'); i > 0 {
		core = core[:i]
	}
	for _, prefix := range channelPrefixes {
		if rest, ok := strings.CutPrefix(core, prefix); ok {
			core = strings.TrimLeft(rest, "-_ ")
			break
		}
	}
	return core
}
