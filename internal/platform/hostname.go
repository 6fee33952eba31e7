package platform

import "strings"

// ShortHostname returns the first label of an FQDN.
// Example: raftis-0-lvs.dev.example.com -> raftis-0-lvs
func ShortHostname(fqdn string) string {
	fqdn = strings.TrimSuffix(fqdn, ".")
	if i := strings.IndexByte(fqdn, '.'); i >= 0 {
		return fqdn[:i]
	}
	return fqdn
}
