// Package transport implements the resilient HTTP client: a tiered retry
// policy that only reacts to transport-class failures.
package transport

import (
	"crypto/tls"
	"time"
)

// Tier is one attempt of the retry ladder.
type Tier struct {
	Name    string
	Timeout time.Duration
	// MinTLS/MaxTLS bound the negotiated version; zero leaves the crypto/tls default.
	MinTLS uint16
	MaxTLS uint16
	// ForceClose disables connection reuse for this attempt regardless of tunnel state.
	ForceClose bool
	// FreshTransport builds a new connection pool for the attempt and drops it afterwards.
	FreshTransport  bool
	MaxConnsPerHost int
	NoCache         bool
}

// Policy is the ordered list of tiers consumed by Client.Execute.
type Policy struct {
	Tiers []Tier
}

// DefaultPolicy is the three-tier ladder:
//   - primary: 30s, whatever TLS range crypto/tls allows by default
//   - narrowed: 15s, TLS pinned to 1.2 to get past middleboxes that break 1.3
//   - conservative: 60s on a fresh single-connection transport, no cache, connection close
func DefaultPolicy() Policy {
	return Policy{Tiers: []Tier{
		{
			Name:    "primary",
			Timeout: 30 * time.Second,
		},
		{
			Name:    "narrowed",
			Timeout: 15 * time.Second,
			MinTLS:  tls.VersionTLS12,
			MaxTLS:  tls.VersionTLS12,
		},
		{
			Name:            "conservative",
			Timeout:         60 * time.Second,
			MinTLS:          tls.VersionTLS12,
			MaxTLS:          tls.VersionTLS13,
			ForceClose:      true,
			FreshTransport:  true,
			MaxConnsPerHost: 1,
			NoCache:         true,
		},
	}}
}

// WithTimeouts returns a copy of p with per-tier timeouts replaced where non-zero.
func (p Policy) WithTimeouts(timeouts ...time.Duration) Policy {
	out := Policy{Tiers: append([]Tier(nil), p.Tiers...)}
	for i, d := range timeouts {
		if i < len(out.Tiers) && d > 0 {
			out.Tiers[i].Timeout = d
		}
	}
	return out
}
