package netwatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/satdl/internal/model"
)

func TestHostPolicyAllows(t *testing.T) {
	satPolicy := model.EgressPolicy{
		Default: model.EgressActionDeny,
		Rules: []model.EgressRule{
			{Domain: "tracker.sat.gob.mx", Action: model.EgressActionDeny},
			{Domain: "*.sat.gob.mx", Action: model.EgressActionAllow},
			{Domain: "SAT.gob.mx", Action: model.EgressActionAllow},
			{CIDR: "10.0.0.0/8", Action: model.EgressActionAllow},
			{CIDR: "10.66.0.0/16", Action: model.EgressActionDeny},
		},
	}

	tests := map[string]struct {
		policy model.EgressPolicy
		host   string
		expOk  bool
	}{
		"Default deny without rules denies.": {
			policy: model.EgressPolicy{Default: model.EgressActionDeny},
			host:   "portalcfdi.facturaelectronica.sat.gob.mx",
			expOk:  false,
		},
		"Default allow without rules allows.": {
			policy: model.EgressPolicy{Default: model.EgressActionAllow},
			host:   "cdn.example.com",
			expOk:  true,
		},
		"Wildcard matches deep subdomains.": {
			policy: satPolicy,
			host:   "portalcfdi.facturaelectronica.sat.gob.mx",
			expOk:  true,
		},
		"Exact rule is case insensitive.": {
			policy: satPolicy,
			host:   "sat.gob.mx",
			expOk:  true,
		},
		"Trailing dot is normalized.": {
			policy: satPolicy,
			host:   "www.sat.gob.mx.",
			expOk:  true,
		},
		"First matching rule wins.": {
			policy: satPolicy,
			host:   "tracker.sat.gob.mx",
			expOk:  false,
		},
		"Unknown domains fall to the default.": {
			policy: satPolicy,
			host:   "www.google-analytics.com",
			expOk:  false,
		},
		"IP literals are matched by CIDR rules.": {
			policy: satPolicy,
			host:   "10.1.2.3",
			expOk:  true,
		},
		"First matching CIDR rule wins.": {
			policy: satPolicy,
			host:   "10.66.1.1",
			expOk:  true,
		},
		"IP literals outside CIDR rules fall to the default.": {
			policy: satPolicy,
			host:   "192.168.1.10",
			expOk:  false,
		},
		"Bracketed IPv6 literals are matched as IPs.": {
			policy: model.EgressPolicy{
				Default: model.EgressActionDeny,
				Rules:   []model.EgressRule{{CIDR: "fd00::/8", Action: model.EgressActionAllow}},
			},
			host:  "[fd00::1]",
			expOk: true,
		},
		"Domain rules don't match IPs.": {
			policy: model.EgressPolicy{
				Default: model.EgressActionDeny,
				Rules:   []model.EgressRule{{Domain: "*.sat.gob.mx", Action: model.EgressActionAllow}},
			},
			host:  "200.57.3.1",
			expOk: false,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			p := newHostPolicy(test.policy)
			assert.Equal(t, test.expOk, p.allows(test.host))
		})
	}
}
