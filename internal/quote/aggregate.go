package quote

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/noah-isme/dental-quote/internal/catalog"
	"github.com/noah-isme/dental-quote/internal/obs"
	"github.com/noah-isme/dental-quote/internal/pricing"
	"github.com/noah-isme/dental-quote/internal/promo"
)

// Catalog resolves treatment ids to their current definition.
type Catalog interface {
	Lookup(id string) (catalog.Treatment, error)
}

// View is an immutable copy of the aggregate's observable state.
type View struct {
	Lines   []pricing.Line `json:"lines"`
	Rule    pricing.Rule   `json:"rule"`
	Totals  pricing.Totals `json:"totals"`
	Version uint64         `json:"version"`
}

// Aggregate owns the lines, active rule and derived totals of one quote.
// All methods are safe for concurrent use.
type Aggregate struct {
	catalog  Catalog
	resolver promo.Resolver

	mu      sync.Mutex
	lines   []pricing.Line
	rule    pricing.Rule
	totals  pricing.Totals
	version uint64
	// token increases on ApplyCode, ClearRule and Reset; a pending ApplyCode
	// only commits if the token it took is still current.
	token     uint64
	listeners map[uint64]func(View)
	nextID    uint64

	// notifyMu serialises delivery so listeners never observe versions out of order.
	notifyMu  sync.Mutex
	published uint64
}

// New returns an empty aggregate.
func New(cat Catalog, resolver promo.Resolver) *Aggregate {
	return &Aggregate{
		catalog:   cat,
		resolver:  resolver,
		rule:      pricing.NoRule(),
		listeners: make(map[uint64]func(View)),
	}
}

// View returns the current state.
func (a *Aggregate) View() View {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.viewLocked()
}

// Subscribe registers fn to receive the new view after every successful mutation.
// Listeners run on the mutating goroutine and must not mutate the aggregate.
func (a *Aggregate) Subscribe(fn func(View)) (unsubscribe func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	id := a.nextID
	a.listeners[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

// AddLine appends treatmentID with qty, snapshotting the catalog price.
func (a *Aggregate) AddLine(treatmentID string, qty int) (View, error) {
	return a.mutate("add_line", func() error {
		if a.rule.IsPackage() {
			return ErrPackageLocked
		}
		if err := checkQuantity(qty); err != nil {
			return err
		}
		id := strings.TrimSpace(treatmentID)
		if a.indexLocked(id) >= 0 {
			return fmt.Errorf("%q: %w", id, ErrDuplicateLine)
		}
		if a.catalog == nil {
			return fmt.Errorf("%q: %w", id, catalog.ErrNotFound)
		}
		t, err := a.catalog.Lookup(id)
		if err != nil {
			return err
		}
		a.lines = append(a.lines, t.Line(qty))
		return nil
	})
}

// RemoveLine drops treatmentID from the quote. An attached non-package rule stays.
func (a *Aggregate) RemoveLine(treatmentID string) (View, error) {
	return a.mutate("remove_line", func() error {
		if a.rule.IsPackage() {
			return ErrPackageLocked
		}
		idx := a.indexLocked(strings.TrimSpace(treatmentID))
		if idx < 0 {
			return fmt.Errorf("%q: %w", treatmentID, ErrLineNotFound)
		}
		next := make([]pricing.Line, 0, len(a.lines)-1)
		next = append(next, a.lines[:idx]...)
		a.lines = append(next, a.lines[idx+1:]...)
		return nil
	})
}

// SetQuantity changes the quantity of an existing line.
func (a *Aggregate) SetQuantity(treatmentID string, qty int) (View, error) {
	return a.mutate("set_quantity", func() error {
		if a.rule.IsPackage() {
			return ErrPackageLocked
		}
		if err := checkQuantity(qty); err != nil {
			return err
		}
		idx := a.indexLocked(strings.TrimSpace(treatmentID))
		if idx < 0 {
			return fmt.Errorf("%q: %w", treatmentID, ErrLineNotFound)
		}
		next := pricing.CloneLines(a.lines)
		next[idx].Quantity = qty
		a.lines = next
		return nil
	})
}

// ApplyCode resolves code and replaces the active rule with the result. The lock
// is released while the resolver runs; line changes made meanwhile are priced
// with the resolved rule, while a newer ApplyCode, ClearRule or Reset makes this
// call return ErrSuperseded. Failures leave the aggregate untouched.
func (a *Aggregate) ApplyCode(ctx context.Context, code string) (View, error) {
	normalized := promo.NormalizeCode(code)
	if normalized == "" {
		return a.fail("apply_code", promo.ErrInvalidCode)
	}

	a.mu.Lock()
	a.token++
	token := a.token
	ids := make([]string, 0, len(a.lines))
	for _, l := range a.lines {
		ids = append(ids, l.TreatmentID)
	}
	resolver := a.resolver
	a.mu.Unlock()

	if resolver == nil {
		return a.fail("apply_code", fmt.Errorf("no resolver configured: %w", promo.ErrResolverUnavailable))
	}
	start := time.Now()
	rule, err := resolver.Resolve(ctx, normalized, ids)
	obs.ObserveApplyCode(obs.DurationMillis(time.Since(start)))
	if err != nil {
		return a.fail("apply_code", err)
	}
	if rule.IsNone() {
		return a.fail("apply_code", fmt.Errorf("%q resolved to no rule: %w", normalized, promo.ErrInvalidCode))
	}
	if err := rule.Validate(); err != nil {
		return a.fail("apply_code", fmt.Errorf("%v: %w", err, promo.ErrResolverUnavailable))
	}
	rule = rule.Clone()
	if rule.Code == "" {
		rule.Code = normalized
	}

	return a.mutate("apply_code", func() error {
		if token != a.token {
			return ErrSuperseded
		}
		prev := a.rule
		a.rule = rule
		switch {
		case rule.IsPackage():
			a.lines = pricing.CloneLines(rule.Package.Lines)
		case prev.IsPackage():
			a.lines = nil
		}
		return nil
	})
}

// ClearRule removes the active rule. Package lines go with their package.
func (a *Aggregate) ClearRule() (View, error) {
	return a.mutate("clear_rule", func() error {
		a.token++
		if a.rule.IsPackage() {
			a.lines = nil
		}
		a.rule = pricing.NoRule()
		return nil
	})
}

// Reset returns the aggregate to its empty state.
func (a *Aggregate) Reset() (View, error) {
	return a.mutate("reset", func() error {
		a.token++
		a.lines = nil
		a.rule = pricing.NoRule()
		return nil
	})
}

// mutate runs fn under the lock. On success totals are recomputed before the
// new state becomes visible; on failure fn must not have touched any state.
func (a *Aggregate) mutate(op string, fn func() error) (View, error) {
	a.mu.Lock()
	if err := fn(); err != nil {
		view := a.viewLocked()
		a.mu.Unlock()
		obs.IncQuoteMutation(op, resultLabel(err))
		return view, err
	}
	a.totals = pricing.Compute(a.lines, a.rule)
	a.version++
	view := a.viewLocked()
	listeners := make([]func(View), 0, len(a.listeners))
	for _, l := range a.listeners {
		listeners = append(listeners, l)
	}
	a.mu.Unlock()

	obs.IncQuoteMutation(op, "ok")
	a.publish(view, listeners)
	return view, nil
}

func (a *Aggregate) fail(op string, err error) (View, error) {
	obs.IncQuoteMutation(op, resultLabel(err))
	return a.View(), err
}

func (a *Aggregate) publish(view View, listeners []func(View)) {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()
	if view.Version <= a.published {
		return
	}
	a.published = view.Version
	for _, fn := range listeners {
		fn(cloneView(view))
	}
}

func (a *Aggregate) viewLocked() View {
	lines := make([]pricing.Line, len(a.lines))
	copy(lines, a.lines)
	return View{
		Lines:   lines,
		Rule:    a.rule.Clone(),
		Totals:  a.totals,
		Version: a.version,
	}
}

func (a *Aggregate) indexLocked(treatmentID string) int {
	for i, l := range a.lines {
		if l.TreatmentID == treatmentID {
			return i
		}
	}
	return -1
}

func checkQuantity(qty int) error {
	if qty < 1 || qty > pricing.MaxQuantity {
		return fmt.Errorf("quantity %d: %w", qty, ErrInvalidQuantity)
	}
	return nil
}

func cloneView(v View) View {
	v.Lines = append(make([]pricing.Line, 0, len(v.Lines)), v.Lines...)
	v.Rule = v.Rule.Clone()
	return v
}
