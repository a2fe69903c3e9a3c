package netwatch

import (
	"net"
	"strings"

	"github.com/slok/satdl/internal/model"
)

// hostRule is an egress rule ready to be matched, only one of the
// fields is set.
type hostRule struct {
	suffix  string // Wildcard rules, ".sat.gob.mx".
	name    string
	network *net.IPNet
	allow   bool
}

func (r hostRule) matches(name string, ip net.IP) bool {
	switch {
	case r.network != nil:
		return ip != nil && r.network.Contains(ip)
	case ip != nil:
		return false
	case r.suffix != "":
		return strings.HasSuffix(name, r.suffix)
	default:
		return r.name == name
	}
}

// hostPolicy tells if the hosts the browser reaches are expected. Rules are
// evaluated in order and the first match wins.
type hostPolicy struct {
	rules        []hostRule
	allowDefault bool
}

// newHostPolicy compiles a validated egress policy.
func newHostPolicy(p model.EgressPolicy) hostPolicy {
	hp := hostPolicy{allowDefault: p.Default == model.EgressActionAllow}
	for _, r := range p.Rules {
		hr := hostRule{allow: r.Action == model.EgressActionAllow}
		domain := strings.ToLower(strings.TrimSpace(r.Domain))
		switch {
		case r.CIDR != "":
			_, hr.network, _ = net.ParseCIDR(r.CIDR)
		case strings.HasPrefix(domain, "*."):
			// Subdomains only, never the base domain.
			hr.suffix = domain[1:]
		default:
			hr.name = domain
		}
		hp.rules = append(hp.rules, hr)
	}
	return hp
}

// allows checks a URL host, a domain or an IP literal.
func (p hostPolicy) allows(host string) bool {
	name := strings.ToLower(strings.TrimSuffix(host, "."))
	ip := net.ParseIP(strings.Trim(name, "[]"))

	for _, r := range p.rules {
		if r.matches(name, ip) {
			return r.allow
		}
	}
	return p.allowDefault
}
