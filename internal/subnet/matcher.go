package subnet

import (
	"net"
	"strings"
)

type network struct {
	cidr   string
	prefix int
	net    *net.IPNet
}

// Matcher resolves an IP address to the most specific configured network.
type Matcher struct {
	networks []network
}

func New() *Matcher {
	return &Matcher{}
}

// WithCIDRs returns a matcher over the given networks. Entries that do not
// parse as CIDR notation are skipped.
func (m *Matcher) WithCIDRs(cidrs []string) *Matcher {
	nets := make([]network, 0, len(cidrs))
	for _, raw := range cidrs {
		cidr := strings.TrimSpace(raw)
		if cidr == "" {
			continue
		}
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		prefix, _ := ipNet.Mask.Size()
		nets = append(nets, network{cidr: cidr, prefix: prefix, net: ipNet})
	}
	return &Matcher{networks: nets}
}

// Empty reports whether the matcher has no networks.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.networks) == 0
}

// Match returns the longest-prefix network containing ipStr, or "".
func (m *Matcher) Match(ipStr string) string {
	if m == nil {
		return ""
	}
	ip := net.ParseIP(strings.TrimSpace(ipStr))
	if ip == nil {
		return ""
	}
	bestPrefix := -1
	best := ""
	for _, network := range m.networks {
		if network.net.Contains(ip) && network.prefix > bestPrefix {
			bestPrefix = network.prefix
			best = network.cidr
		}
	}
	return best
}
