package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/dental-quote/internal/pricing"
)

//go:embed data/treatments.yaml
var defaultTreatments []byte

// ErrNotFound indicates the requested treatment is not in the catalog.
var ErrNotFound = errors.New("treatment not found")

// Treatment is immutable reference data for a bookable treatment.
type Treatment struct {
	ID        string        `json:"id" yaml:"id"`
	Name      string        `json:"name" yaml:"name"`
	Category  string        `json:"category" yaml:"category"`
	UnitPrice pricing.Money `json:"unitPrice" yaml:"unitPrice"`
	Guarantee string        `json:"guarantee,omitempty" yaml:"guarantee"`
}

type document struct {
	Currency   string      `yaml:"currency"`
	Treatments []Treatment `yaml:"treatments"`
}

// Catalog is a read-only treatment lookup. Safe for concurrent use.
type Catalog struct {
	currency string
	items    []Treatment
	byID     map[string]int
}

// Default returns the catalog shipped with the binary.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultTreatments))
}

// LoadFile reads a catalog from path, falling back to the embedded catalog when path is empty.
func LoadFile(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Load(f)
}

// Load decodes and validates a YAML catalog document.
func Load(r io.Reader) (*Catalog, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(doc.Currency, doc.Treatments)
}

// New builds a catalog from the provided treatments, preserving their order.
func New(currency string, treatments []Treatment) (*Catalog, error) {
	c := &Catalog{
		currency: strings.ToUpper(strings.TrimSpace(currency)),
		items:    make([]Treatment, 0, len(treatments)),
		byID:     make(map[string]int, len(treatments)),
	}
	for _, t := range treatments {
		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" {
			return nil, errors.New("catalog: treatment id is required")
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate treatment id %q", t.ID)
		}
		if t.UnitPrice <= 0 || t.UnitPrice > pricing.MaxUnitPrice {
			return nil, fmt.Errorf("catalog: treatment %q price %d out of range", t.ID, t.UnitPrice)
		}
		c.byID[t.ID] = len(c.items)
		c.items = append(c.items, t)
	}
	return c, nil
}

// Lookup returns the treatment with the given id.
func (c *Catalog) Lookup(id string) (Treatment, error) {
	if c == nil {
		return Treatment{}, ErrNotFound
	}
	idx, ok := c.byID[strings.TrimSpace(id)]
	if !ok {
		return Treatment{}, fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	return c.items[idx], nil
}

// List returns all treatments in catalog order.
func (c *Catalog) List() []Treatment {
	if c == nil {
		return nil
	}
	out := make([]Treatment, len(c.items))
	copy(out, c.items)
	return out
}

// Currency returns the ISO currency code prices are expressed in.
func (c *Catalog) Currency() string {
	if c == nil || c.currency == "" {
		return "GBP"
	}
	return c.currency
}

// Line snapshots the treatment's current price into a quote line.
func (t Treatment) Line(qty int) pricing.Line {
	return pricing.Line{
		TreatmentID: t.ID,
		Name:        t.Name,
		Category:    t.Category,
		Quantity:    qty,
		UnitPrice:   t.UnitPrice,
	}
}
