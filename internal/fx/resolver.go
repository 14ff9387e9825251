// Package fx resolves exchange rates through a four-tier fallback so a
// valuation can always complete: identity, cache, live provider, static
// table, identity-as-last-resort. Every resolved rate carries a provenance
// tag.
package fx

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/currency"
)

// Rate provenance tags.
const (
	SourceIdentity = "identity"
	SourceCache    = "cache"
	SourceLive     = "live"
	SourceStatic   = "static"
	SourceDefault  = "default"
)

// Rate is one resolved exchange rate.
type Rate struct {
	From   string    `json:"from"`
	To     string    `json:"to"`
	Date   time.Time `json:"date"` // truncated to day
	Value  float64   `json:"value"`
	Source string    `json:"source"`
}

// Resolver resolves rates for the valuation calculator. Cache and client
// are both optional; with neither configured the resolver degrades to
// static-table and identity tiers.
type Resolver struct {
	cache       Cache
	client      LiveClient
	liveTimeout time.Duration
}

// NewResolver creates a resolver. A non-positive liveTimeout selects 5s.
func NewResolver(cache Cache, client LiveClient, liveTimeout time.Duration) *Resolver {
	if liveTimeout <= 0 {
		liveTimeout = 5 * time.Second
	}
	return &Resolver{cache: cache, client: client, liveTimeout: liveTimeout}
}

// Resolve returns the rate for converting from -> to on the given date.
// It never fails: every tier has a deterministic fallback, ending at
// identity with the "default" tag.
func (r *Resolver) Resolve(ctx context.Context, from, to string, date time.Time) Rate {
	day := date.UTC().Truncate(24 * time.Hour)
	from = normalizeCurrency(from)
	to = normalizeCurrency(to)

	rate := Rate{From: from, To: to, Date: day}

	// Tier 0: same currency.
	if from == to {
		rate.Value, rate.Source = 1.0, SourceIdentity
		return rate
	}

	// Tier 1: cached rate for the pair and day.
	if r.cache != nil {
		if v, ok, err := r.cache.Get(ctx, from, to, day); err != nil {
			zap.L().Warn("fx: cache lookup failed", zap.String("from", from), zap.String("to", to), zap.Error(err))
		} else if ok {
			rate.Value, rate.Source = v, SourceCache
			return rate
		}
	}

	// Tier 2: live lookup, cached back for future reuse.
	if r.client != nil {
		liveCtx, cancel := context.WithTimeout(ctx, r.liveTimeout)
		v, err := r.client.Fetch(liveCtx, from, to, day)
		cancel()
		if err == nil && v > 0 {
			if r.cache != nil {
				if perr := r.cache.Put(ctx, from, to, day, v); perr != nil {
					zap.L().Warn("fx: cache write-back failed", zap.Error(perr))
				}
			}
			rate.Value, rate.Source = v, SourceLive
			return rate
		}
		if err != nil {
			zap.L().Warn("fx: live lookup failed, falling back",
				zap.String("from", from),
				zap.String("to", to),
				zap.Error(err),
			)
		}
	}

	// Tier 3: static table of common pairs.
	if v, ok := staticRate(from, to); ok {
		rate.Value, rate.Source = v, SourceStatic
		return rate
	}

	// Tier 4: identity as last resort.
	rate.Value, rate.Source = 1.0, SourceDefault
	return rate
}

// normalizeCurrency upper-cases and validates an ISO 4217 code. Unknown
// codes pass through upper-cased; validation failure is not fatal because
// the identity tier still applies.
func normalizeCurrency(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "USD"
	}
	if unit, err := currency.ParseISO(code); err == nil {
		return unit.String()
	}
	return code
}
