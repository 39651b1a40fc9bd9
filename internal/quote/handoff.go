package quote

import (
	"fmt"

	"github.com/noah-isme/dental-quote/internal/pricing"
)

// Handoff is the final quote passed to checkout and payment.
type Handoff struct {
	Lines    []pricing.Line `json:"lines"`
	Code     string         `json:"code,omitempty"`
	Rule     pricing.Rule   `json:"rule"`
	Subtotal pricing.Money  `json:"subtotal"`
	Discount pricing.Money  `json:"discount"`
	Total    pricing.Money  `json:"total"`
}

// Handoff builds the checkout hand-off for the view.
func (v View) Handoff() Handoff {
	h := Handoff{
		Lines:    pricing.CloneLines(v.Lines),
		Rule:     v.Rule.Clone(),
		Subtotal: v.Totals.Subtotal,
		Discount: v.Totals.Discount,
		Total:    v.Totals.Total,
	}
	if !v.Rule.IsNone() {
		h.Code = v.Rule.Code
	}
	return h
}

// Validate re-derives the totals from lines and rule and rejects any disagreement.
func (h Handoff) Validate() error {
	if len(h.Lines) == 0 {
		return ErrEmptyQuote
	}
	snap := Snapshot{Version: SnapshotVersion, Lines: h.Lines, Rule: h.Rule}
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInconsistentHandoff)
	}
	if !h.Rule.IsNone() && h.Code != h.Rule.Code {
		return fmt.Errorf("code %q does not match rule %q: %w", h.Code, h.Rule.Code, ErrInconsistentHandoff)
	}
	want := pricing.Compute(h.Lines, h.Rule)
	got := pricing.Totals{Subtotal: h.Subtotal, Discount: h.Discount, Total: h.Total}
	if want != got {
		return fmt.Errorf("totals %+v, expected %+v: %w", got, want, ErrInconsistentHandoff)
	}
	if h.Discount < 0 || h.Discount > h.Subtotal || h.Total < 0 {
		return fmt.Errorf("discount out of range: %w", ErrInconsistentHandoff)
	}
	return nil
}
