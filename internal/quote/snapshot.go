package quote

import (
	"fmt"
	"time"

	"github.com/noah-isme/dental-quote/internal/pricing"
	"github.com/noah-isme/dental-quote/internal/promo"
)

// SnapshotVersion is the current snapshot schema version.
const SnapshotVersion = 1

// Snapshot is the persisted form of an aggregate. Totals are not stored; they
// are recomputed on restore.
type Snapshot struct {
	Version int            `json:"version"`
	Lines   []pricing.Line `json:"lines"`
	Rule    pricing.Rule   `json:"rule"`
	SavedAt time.Time      `json:"savedAt"`
}

// Snapshot captures the aggregate's lines and rule.
func (a *Aggregate) Snapshot() Snapshot {
	return a.View().Snapshot()
}

// Snapshot converts a view into its persisted form.
func (v View) Snapshot() Snapshot {
	return Snapshot{
		Version: SnapshotVersion,
		Lines:   pricing.CloneLines(v.Lines),
		Rule:    v.Rule.Clone(),
		SavedAt: time.Now().UTC(),
	}
}

// Validate checks that the snapshot describes a reachable aggregate state.
func (s Snapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return fmt.Errorf("version %d: %w", s.Version, ErrSnapshotCorrupt)
	}
	if err := s.Rule.Validate(); err != nil {
		return fmt.Errorf("rule: %v: %w", err, ErrSnapshotCorrupt)
	}
	seen := make(map[string]struct{}, len(s.Lines))
	for _, l := range s.Lines {
		if l.TreatmentID == "" {
			return fmt.Errorf("line without treatment: %w", ErrSnapshotCorrupt)
		}
		if _, dup := seen[l.TreatmentID]; dup {
			return fmt.Errorf("duplicate line %q: %w", l.TreatmentID, ErrSnapshotCorrupt)
		}
		seen[l.TreatmentID] = struct{}{}
		if checkQuantity(l.Quantity) != nil || l.UnitPrice < 0 || l.UnitPrice > pricing.MaxUnitPrice {
			return fmt.Errorf("line %q out of range: %w", l.TreatmentID, ErrSnapshotCorrupt)
		}
	}
	return nil
}

// Restore rebuilds an aggregate from a snapshot. Line prices are taken from the
// snapshot, not re-read from the catalog. Under a package rule the package's own
// lines are authoritative.
func Restore(cat Catalog, resolver promo.Resolver, snap Snapshot) (*Aggregate, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	a := New(cat, resolver)
	a.rule = snap.Rule.Clone()
	if a.rule.Kind == "" {
		a.rule = pricing.NoRule()
	}
	if a.rule.IsPackage() {
		a.lines = pricing.CloneLines(a.rule.Package.Lines)
	} else {
		a.lines = pricing.CloneLines(snap.Lines)
	}
	a.totals = pricing.Compute(a.lines, a.rule)
	return a, nil
}
