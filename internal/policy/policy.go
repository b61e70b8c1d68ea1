// Package policy decides which claimed senders the relay will act for.
package policy

import "strings"

// Policy validates sender addresses against an optional domain restriction.
// It is read-only after construction and safe for concurrent use.
type Policy struct {
	domain string
}

// New creates a Policy restricted to the given domain. An empty domain
// disables the restriction.
func New(domain string) *Policy {
	return &Policy{domain: domain}
}

// Restricted returns true if a domain restriction is configured.
func (p *Policy) Restricted() bool {
	return p.domain != ""
}

// Allow reports whether the sender address may be relayed. With no
// restriction configured every sender is allowed; otherwise the address
// domain (after the last "@") must match the configured domain,
// case-insensitively. Addresses without "@" are always rejected.
func (p *Policy) Allow(sender string) bool {
	if p.domain == "" {
		return true
	}

	at := strings.LastIndex(sender, "@")
	if at < 0 {
		return false
	}

	return strings.EqualFold(sender[at+1:], p.domain)
}
