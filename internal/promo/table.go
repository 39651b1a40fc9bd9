package promo

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/dental-quote/internal/pricing"
)

//go:embed data/codes.yaml
var defaultCodes []byte

// Entry is a single code definition as stored in the code table file.
type Entry struct {
	Code      string       `yaml:"code"`
	Type      string       `yaml:"type"`
	Percent   float64      `yaml:"percent"`
	Amount    int64        `yaml:"amount"`
	Package   *packageYAML `yaml:"package"`
	ValidFrom *time.Time   `yaml:"validFrom"`
	ValidTo   *time.Time   `yaml:"validTo"`
}

type packageYAML struct {
	Name          string         `yaml:"name"`
	PackagePrice  int64          `yaml:"packagePrice"`
	OriginalPrice int64          `yaml:"originalPrice"`
	Lines         []pricing.Line `yaml:"lines"`
}

type tableEntry struct {
	rule      pricing.Rule
	validFrom *time.Time
	validTo   *time.Time
}

// Table resolves codes against a static in-memory table.
type Table struct {
	entries map[string]tableEntry
	order   []string
	Now     func() time.Time
}

// DefaultTable returns the code table shipped with the binary.
func DefaultTable() (*Table, error) {
	return LoadTable(bytes.NewReader(defaultCodes))
}

// LoadTableFile reads the code table at path or the embedded one when path is empty.
func LoadTableFile(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTable()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open promo table: %w", err)
	}
	defer func() { _ = f.Close() }()
	return LoadTable(f)
}

// LoadTable decodes a YAML code table.
func LoadTable(r io.Reader) (*Table, error) {
	var doc struct {
		Codes []Entry `yaml:"codes"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode promo table: %w", err)
	}
	return NewTable(doc.Codes)
}

// NewTable validates entries and indexes them by normalized code.
func NewTable(entries []Entry) (*Table, error) {
	t := &Table{entries: make(map[string]tableEntry, len(entries))}
	for _, e := range entries {
		code := NormalizeCode(e.Code)
		if code == "" {
			return nil, fmt.Errorf("promo table: empty code")
		}
		if _, dup := t.entries[code]; dup {
			return nil, fmt.Errorf("promo table: duplicate code %q", code)
		}
		rule, err := e.rule(code)
		if err != nil {
			return nil, fmt.Errorf("promo table: code %q: %w", code, err)
		}
		t.entries[code] = tableEntry{rule: rule, validFrom: e.ValidFrom, validTo: e.ValidTo}
		t.order = append(t.order, code)
	}
	return t, nil
}

func (e Entry) rule(code string) (pricing.Rule, error) {
	var rule pricing.Rule
	switch strings.ToLower(strings.TrimSpace(e.Type)) {
	case string(pricing.KindPercentage), "percent":
		rule = pricing.Percentage(code, PercentToBps(e.Percent))
	case string(pricing.KindFixedAmount), "fixed":
		rule = pricing.FixedAmount(code, e.Amount)
	case string(pricing.KindPackage):
		if e.Package == nil {
			return pricing.Rule{}, fmt.Errorf("package definition missing: %w", pricing.ErrInvalidRule)
		}
		rule = pricing.FixedPrice(code, pricing.Package{
			Name:          e.Package.Name,
			Lines:         pricing.CloneLines(e.Package.Lines),
			PackagePrice:  e.Package.PackagePrice,
			OriginalPrice: e.Package.OriginalPrice,
		})
	default:
		return pricing.Rule{}, fmt.Errorf("unknown type %q: %w", e.Type, pricing.ErrInvalidRule)
	}
	if err := rule.Validate(); err != nil {
		return pricing.Rule{}, err
	}
	return rule, nil
}

// PercentToBps converts a percentage such as 12.5 to basis points.
func PercentToBps(percent float64) int32 {
	return int32(math.Round(percent * 100))
}

// Resolve implements Resolver. The table ignores the selected treatments.
func (t *Table) Resolve(_ context.Context, code string, _ []string) (pricing.Rule, error) {
	rule, err := t.lookup(code)
	observe("table", err)
	return rule, err
}

func (t *Table) lookup(code string) (pricing.Rule, error) {
	normalized := NormalizeCode(code)
	if t == nil || normalized == "" {
		return pricing.Rule{}, ErrInvalidCode
	}
	entry, ok := t.entries[normalized]
	if !ok {
		return pricing.Rule{}, fmt.Errorf("unknown code %q: %w", normalized, ErrInvalidCode)
	}
	now := t.now()
	if entry.validFrom != nil && now.Before(*entry.validFrom) {
		return pricing.Rule{}, fmt.Errorf("code %q not active yet: %w", normalized, ErrInvalidCode)
	}
	if entry.validTo != nil && now.After(*entry.validTo) {
		return pricing.Rule{}, fmt.Errorf("code %q expired: %w", normalized, ErrInvalidCode)
	}
	return entry.rule.Clone(), nil
}

// Packages lists the package offers currently redeemable, sorted by price.
func (t *Table) Packages() []pricing.Rule {
	if t == nil {
		return nil
	}
	out := make([]pricing.Rule, 0)
	for _, code := range t.order {
		rule, err := t.lookup(code)
		if err != nil || !rule.IsPackage() {
			continue
		}
		out = append(out, rule)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Package.PackagePrice < out[j].Package.PackagePrice
	})
	return out
}

func (t *Table) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}
