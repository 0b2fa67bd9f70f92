package lookup

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
)

// Provider names accepted by Select.
const (
	ProviderPrimary  = "primary"
	ProviderFallback = "fallback"
)

// Select returns the gateway registered under name.
func Select(name string, gateways map[string]Gateway) (Gateway, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = ProviderPrimary
	}
	g, ok := gateways[name]
	if !ok || g == nil {
		known := make([]string, 0, len(gateways))
		for k := range gateways {
			known = append(known, k)
		}
		sort.Strings(known)
		return nil, eris.Errorf("lookup: unknown provider %q (known: %s)", name, strings.Join(known, ", "))
	}
	return g, nil
}
