package promo

import (
	"context"
	"errors"
	"strings"

	"github.com/noah-isme/dental-quote/internal/obs"
	"github.com/noah-isme/dental-quote/internal/pricing"
)

var (
	// ErrInvalidCode is returned when a code does not resolve to any rule.
	ErrInvalidCode = errors.New("promo code not valid")
	// ErrResolverUnavailable is returned when code resolution failed for transport reasons.
	ErrResolverUnavailable = errors.New("promo resolver unavailable")
)

// Resolver turns a promo code into a validated rule.
type Resolver interface {
	Resolve(ctx context.Context, code string, treatmentIDs []string) (pricing.Rule, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, code string, treatmentIDs []string) (pricing.Rule, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, code string, treatmentIDs []string) (pricing.Rule, error) {
	return f(ctx, code, treatmentIDs)
}

// NormalizeCode is the single canonical form used for both stored and submitted codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Chain consults resolvers in order. A resolver answering ErrInvalidCode defers to
// the next one; any other outcome is final.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(ctx context.Context, code string, treatmentIDs []string) (pricing.Rule, error) {
	err := error(ErrInvalidCode)
	for _, r := range c {
		if r == nil {
			continue
		}
		var rule pricing.Rule
		rule, err = r.Resolve(ctx, code, treatmentIDs)
		if err == nil {
			return rule, nil
		}
		if !errors.Is(err, ErrInvalidCode) {
			return pricing.Rule{}, err
		}
	}
	return pricing.Rule{}, err
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidCode):
		return "invalid"
	case errors.Is(err, ErrResolverUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func observe(source string, err error) {
	obs.IncPromoResolution(source, resultLabel(err))
}
