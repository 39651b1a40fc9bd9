package pricing

import (
	"errors"
	"fmt"
	"strings"
)

// Money represents a monetary value stored in minor units.
type Money = int64

const (
	// MaxUnitPrice bounds catalog and package prices so line arithmetic stays in int64.
	MaxUnitPrice Money = 100_000_000
	// MaxQuantity bounds a single line quantity.
	MaxQuantity = 10_000
	// fullPercentBps is 100% expressed in basis points.
	fullPercentBps = 10000
)

// Kind identifies the variant carried by a Rule.
type Kind string

const (
	KindNone        Kind = "none"
	KindPercentage  Kind = "percentage"
	KindFixedAmount Kind = "fixed_amount"
	KindPackage     Kind = "package"
)

// ErrInvalidRule is returned when a rule's parameters do not match its kind.
var ErrInvalidRule = errors.New("invalid promo rule")

// Line is a selected treatment with its price snapshot.
type Line struct {
	TreatmentID string `json:"treatmentId" yaml:"treatmentId"`
	Name        string `json:"name" yaml:"name"`
	Category    string `json:"category,omitempty" yaml:"category"`
	Quantity    int    `json:"quantity" yaml:"quantity"`
	UnitPrice   Money  `json:"unitPrice" yaml:"unitPrice"`
}

// Subtotal is derived from unit price and quantity.
func (l Line) Subtotal() Money {
	if l.Quantity <= 0 {
		return 0
	}
	return Money(l.Quantity) * l.UnitPrice
}

// Package is a fixed-price bundle. Its lines and prices are authoritative.
type Package struct {
	Name          string `json:"name"`
	Lines         []Line `json:"lines"`
	PackagePrice  Money  `json:"packagePrice"`
	OriginalPrice Money  `json:"originalPrice"`
}

// Rule is the active promo applied to a quote. Only the fields of its Kind are set.
type Rule struct {
	Kind       Kind     `json:"kind"`
	Code       string   `json:"code,omitempty"`
	PercentBps int32    `json:"percentBps,omitempty"`
	Amount     Money    `json:"amount,omitempty"`
	Package    *Package `json:"package,omitempty"`
}

// NoRule returns the empty rule.
func NoRule() Rule { return Rule{Kind: KindNone} }

// Percentage builds a percentage discount rule from basis points.
func Percentage(code string, bps int32) Rule {
	return Rule{Kind: KindPercentage, Code: code, PercentBps: bps}
}

// FixedAmount builds a fixed amount discount rule.
func FixedAmount(code string, amount Money) Rule {
	return Rule{Kind: KindFixedAmount, Code: code, Amount: amount}
}

// FixedPrice builds a package rule.
func FixedPrice(code string, pkg Package) Rule {
	return Rule{Kind: KindPackage, Code: code, Package: &pkg}
}

// IsNone reports whether no rule is active.
func (r Rule) IsNone() bool { return r.Kind == "" || r.Kind == KindNone }

// IsPackage reports whether the rule replaces line pricing.
func (r Rule) IsPackage() bool { return r.Kind == KindPackage && r.Package != nil }

// Validate checks the invariants of the rule's variant.
func (r Rule) Validate() error {
	switch r.Kind {
	case "", KindNone:
		if r.PercentBps != 0 || r.Amount != 0 || r.Package != nil {
			return fmt.Errorf("none rule carries parameters: %w", ErrInvalidRule)
		}
	case KindPercentage:
		if r.PercentBps <= 0 || r.PercentBps > fullPercentBps {
			return fmt.Errorf("percent %d bps out of range: %w", r.PercentBps, ErrInvalidRule)
		}
		if r.Amount != 0 || r.Package != nil {
			return fmt.Errorf("percentage rule carries foreign parameters: %w", ErrInvalidRule)
		}
	case KindFixedAmount:
		if r.Amount < 0 {
			return fmt.Errorf("negative amount: %w", ErrInvalidRule)
		}
		if r.PercentBps != 0 || r.Package != nil {
			return fmt.Errorf("fixed amount rule carries foreign parameters: %w", ErrInvalidRule)
		}
	case KindPackage:
		if r.Package == nil {
			return fmt.Errorf("package rule without package: %w", ErrInvalidRule)
		}
		if r.PercentBps != 0 || r.Amount != 0 {
			return fmt.Errorf("package rule carries foreign parameters: %w", ErrInvalidRule)
		}
		return r.Package.Validate()
	default:
		return fmt.Errorf("unknown kind %q: %w", r.Kind, ErrInvalidRule)
	}
	return nil
}

// Validate checks package prices and its fixed lines.
func (p Package) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("package name required: %w", ErrInvalidRule)
	}
	if p.PackagePrice < 0 || p.OriginalPrice > MaxUnitPrice*MaxQuantity {
		return fmt.Errorf("package price out of range: %w", ErrInvalidRule)
	}
	if p.PackagePrice > p.OriginalPrice {
		return fmt.Errorf("package price exceeds original price: %w", ErrInvalidRule)
	}
	if len(p.Lines) == 0 {
		return fmt.Errorf("package has no lines: %w", ErrInvalidRule)
	}
	seen := make(map[string]struct{}, len(p.Lines))
	for _, l := range p.Lines {
		if l.TreatmentID == "" || l.Quantity < 1 || l.UnitPrice < 0 {
			return fmt.Errorf("package line %q invalid: %w", l.TreatmentID, ErrInvalidRule)
		}
		if _, ok := seen[l.TreatmentID]; ok {
			return fmt.Errorf("package line %q duplicated: %w", l.TreatmentID, ErrInvalidRule)
		}
		seen[l.TreatmentID] = struct{}{}
	}
	return nil
}

// Totals aggregates computed pricing components.
type Totals struct {
	Subtotal Money `json:"subtotal"`
	Discount Money `json:"discount"`
	Total    Money `json:"total"`
}

// Compute derives totals from lines and the active rule. It is pure and idempotent.
func Compute(lines []Line, rule Rule) Totals {
	if rule.IsPackage() {
		pkg := rule.Package
		return Totals{
			Subtotal: pkg.OriginalPrice,
			Discount: pkg.OriginalPrice - pkg.PackagePrice,
			Total:    pkg.PackagePrice,
		}
	}
	var subtotal Money
	for _, l := range lines {
		subtotal += l.Subtotal()
	}
	discount := Discount(rule, subtotal)
	total := subtotal - discount
	if total < 0 {
		total = 0
	}
	return Totals{Subtotal: subtotal, Discount: discount, Total: total}
}

// Discount computes the non-package discount for subtotal, clamped to [0, subtotal].
func Discount(rule Rule, subtotal Money) Money {
	if subtotal <= 0 {
		return 0
	}
	var discount Money
	switch rule.Kind {
	case KindPercentage:
		if rule.PercentBps <= 0 {
			return 0
		}
		// round half up to the minor unit
		discount = (subtotal*Money(rule.PercentBps) + fullPercentBps/2) / fullPercentBps
	case KindFixedAmount:
		discount = rule.Amount
	default:
		return 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	if discount < 0 {
		return 0
	}
	return discount
}

// CloneLines copies a line slice so callers cannot alias aggregate state.
func CloneLines(lines []Line) []Line {
	if lines == nil {
		return nil
	}
	out := make([]Line, len(lines))
	copy(out, lines)
	return out
}

// Clone deep copies the rule including its package lines.
func (r Rule) Clone() Rule {
	if r.Package == nil {
		return r
	}
	pkg := *r.Package
	pkg.Lines = CloneLines(r.Package.Lines)
	r.Package = &pkg
	return r
}
