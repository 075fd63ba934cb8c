package ratelimit

import (
	"path"
	"sort"
	"strings"
)

// DefaultBucket names the fallback limit when no endpoint entry matches.
const DefaultBucket = "default"

type prefixLimit struct {
	prefix string
	limit  int
}

// Policy maps endpoints to per-window request limits. It is built once from
// configuration and never mutated, so it may be shared freely.
type Policy struct {
	defaultLimit int
	exact        map[string]int
	prefixes     []prefixLimit
}

// NewPolicy builds a Policy. An entry keyed "default" in endpointLimits
// overrides defaultLimit and is not treated as a path prefix. Every other key
// is normalized like a request path; when two keys normalize to the same path
// the lower limit is kept.
func NewPolicy(defaultLimit int, endpointLimits map[string]int) *Policy {
	p := &Policy{
		defaultLimit: defaultLimit,
		exact:        make(map[string]int, len(endpointLimits)),
		prefixes:     make([]prefixLimit, 0, len(endpointLimits)),
	}

	for key, limit := range endpointLimits {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		if key == DefaultBucket {
			p.defaultLimit = limit
			continue
		}
		key = NormalizeEndpoint(key)
		if existing, ok := p.exact[key]; ok && existing <= limit {
			continue
		}
		p.exact[key] = limit
	}
	for key, limit := range p.exact {
		p.prefixes = append(p.prefixes, prefixLimit{prefix: key, limit: limit})
	}

	// Longest prefix first; ties broken lexicographically so the outcome
	// never depends on map iteration order.
	sort.Slice(p.prefixes, func(i, j int) bool {
		a, b := p.prefixes[i], p.prefixes[j]
		if len(a.prefix) != len(b.prefix) {
			return len(a.prefix) > len(b.prefix)
		}
		return a.prefix < b.prefix
	})

	return p
}

// DefaultLimit returns the limit applied when nothing matches.
func (p *Policy) DefaultLimit() int { return p.defaultLimit }

// Resolve returns the limit for endpoint together with the policy key that
// produced it. Exact matches win, then the longest prefix, then the default.
// Matching is case-insensitive.
func (p *Policy) Resolve(endpoint string) (int, string) {
	endpoint = NormalizeEndpoint(endpoint)
	if limit, ok := p.exact[endpoint]; ok {
		return limit, endpoint
	}

	for _, pl := range p.prefixes {
		if strings.HasPrefix(endpoint, pl.prefix) {
			return pl.limit, pl.prefix
		}
	}

	return p.defaultLimit, DefaultBucket
}

// Key builds the store key for an identity and a normalized endpoint.
func Key(identity, endpoint string) string {
	return "ratelimit:" + identity + ":" + endpoint
}

// NormalizeEndpoint cleans and lower-cases a request path so that
// "/api/x/", "/API//x" and "/api/x" share one counter. The upstream routes
// paths case-insensitively. Query strings are never part of the input.
func NormalizeEndpoint(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.ToLower(path.Clean(p))
}
