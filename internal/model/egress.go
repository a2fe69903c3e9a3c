package model

import (
	"fmt"
	"net"
	"strings"
)

// EgressAction is the action applied to browser traffic matching a rule.
type EgressAction string

const (
	EgressActionAllow EgressAction = "allow"
	EgressActionDeny  EgressAction = "deny"
)

// EgressRule matches browser traffic by domain or by IP network. Domain
// supports exact names and wildcard prefixes ("*.sat.gob.mx").
type EgressRule struct {
	Domain string
	CIDR   string
	Action EgressAction
}

// EgressPolicy describes which hosts the browser is expected to reach.
type EgressPolicy struct {
	Default EgressAction
	Rules   []EgressRule
}

// Validate validates the egress policy.
func (p EgressPolicy) Validate() error {
	if p.Default != EgressActionAllow && p.Default != EgressActionDeny {
		return fmt.Errorf("default action must be allow or deny: %w", ErrNotValid)
	}
	for i, r := range p.Rules {
		hasDomain := strings.TrimSpace(r.Domain) != ""
		if hasDomain == (r.CIDR != "") {
			return fmt.Errorf("rule %d: exactly one of domain or cidr is required: %w", i, ErrNotValid)
		}
		if r.CIDR != "" {
			if _, _, err := net.ParseCIDR(r.CIDR); err != nil {
				return fmt.Errorf("rule %d: invalid cidr %q: %w", i, r.CIDR, ErrNotValid)
			}
		}
		if r.Action != EgressActionAllow && r.Action != EgressActionDeny {
			return fmt.Errorf("rule %d: action must be allow or deny: %w", i, ErrNotValid)
		}
	}
	return nil
}
