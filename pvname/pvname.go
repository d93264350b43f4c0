// Package pvname canonicalises process-variable name strings the way
// ChimeraTK::RegisterPath does: collapsing repeated separators and
// normalising to exactly one leading slash, so that two differently-written
// inputs referring to the same variable resolve to one identity (spec §3,
// "PV identity").
package pvname

import "strings"

// Canonical collapses repeated '/' separators in name and ensures exactly
// one leading '/', the same rule both a directly-registered stream name
// (streamingprovider.Register) and a parsed record-link address
// (recordaddr.Parse) are put through before being used as a lookup key.
func Canonical(name string) string {
	parts := strings.Split(name, "/")
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return "/" + strings.Join(kept, "/")
}
