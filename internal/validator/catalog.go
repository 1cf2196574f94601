package validator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

const day = 24 * time.Hour

// Catalog holds the schemas datasets can be validated against, by name.
type Catalog struct {
	mu      sync.RWMutex
	schemas map[string]Schema
}

// NewCatalog returns a catalog with the built-in schemas plus extra.
// An extra schema replaces a built-in one with the same name.
func NewCatalog(extra ...Schema) (*Catalog, error) {
	c := &Catalog{schemas: make(map[string]Schema)}
	for _, s := range append(BuiltinSchemas(), extra...) {
		if err := c.Register(s); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register adds or replaces a schema after checking it.
func (c *Catalog) Register(s Schema) error {
	if err := s.Check(); err != nil {
		return fmt.Errorf("register schema: %w", err)
	}
	c.mu.Lock()
	c.schemas[s.Name] = s
	c.mu.Unlock()
	return nil
}

// Get returns the named schema.
func (c *Catalog) Get(name string) (Schema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemas[name]
	return s, ok
}

// Names lists registered schema names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	names := lo.Keys(c.schemas)
	c.mu.RUnlock()
	sort.Strings(names)
	return names
}

// BuiltinSchemas returns the telecom datasets the console knows out of the box.
func BuiltinSchemas() []Schema {
	return []Schema{
		{
			Name: "subscriber",
			Columns: []Column{
				{Name: "msisdn", Required: true, Rules: []Rule{{Kind: RuleDigits, MinLength: 10, MaxLength: 15}}},
				{Name: "imsi", Required: true, Rules: []Rule{{Kind: RuleDigits, Length: 15}}},
				{Name: "first_name", Required: true, Rules: []Rule{{Kind: RuleMaxLength, MaxLength: 100}}},
				{Name: "last_name", Rules: []Rule{{Kind: RuleMaxLength, MaxLength: 100}}},
				{Name: "id_number", Required: true, Rules: []Rule{{Kind: RuleMaxLength, MaxLength: 32}}},
				{Name: "status", Rules: []Rule{{Kind: RuleEnum, Values: []string{"active", "suspended", "terminated"}}}},
			},
			Key:          []string{"msisdn"},
			StrictUnique: true,
		},
		{
			Name: "sim_inventory",
			Columns: []Column{
				{Name: "iccid", Required: true, Rules: []Rule{{Kind: RuleDigits, MinLength: 19, MaxLength: 20}}},
				{Name: "imsi", Rules: []Rule{{Kind: RuleDigits, Length: 15}}},
				{Name: "batch", Rules: []Rule{{Kind: RuleMaxLength, MaxLength: 64}}},
				{Name: "status", Rules: []Rule{{Kind: RuleEnum, Values: []string{"available", "allocated", "activated", "retired"}}}},
				{Name: "expiry_date", Rules: []Rule{{Kind: RuleDate, Layout: "2006-01-02", WarnWithin: 30 * day}}},
			},
			Key:          []string{"iccid"},
			StrictUnique: true,
		},
		{
			Name: "vendor",
			Columns: []Column{
				{Name: "vendor_code", Required: true, Rules: []Rule{{Kind: RulePattern, Pattern: `[A-Z0-9]{3,12}`}}},
				{Name: "name", Required: true, Rules: []Rule{{Kind: RuleMaxLength, MaxLength: 200}}},
				{Name: "country", Required: true, Rules: []Rule{{Kind: RulePattern, Pattern: `[A-Z]{2}`}}},
				{Name: "contract_end", Rules: []Rule{{Kind: RuleDate, Layout: "2006-01-02", WarnWithin: 60 * day}}},
			},
			Key: []string{"vendor_code"},
		},
		{
			Name: "billing",
			Columns: []Column{
				{Name: "account_id", Required: true, Rules: []Rule{{Kind: RuleMaxLength, MaxLength: 64}}},
				{Name: "invoice_number", Required: true, Rules: []Rule{{Kind: RuleMaxLength, MaxLength: 64}}},
				{Name: "amount", Required: true, Rules: []Rule{{Kind: RulePattern, Pattern: `-?\d+(\.\d{1,2})?`}}},
				{Name: "currency", Required: true, Rules: []Rule{{Kind: RuleEnum, Values: []string{"ZAR", "USD", "EUR", "GBP", "KES", "NGN"}}}},
				{Name: "billing_date", Required: true, Rules: []Rule{{Kind: RuleDate, Layout: "2006-01-02"}}},
			},
			Key:          []string{"account_id", "invoice_number"},
			StrictUnique: true,
		},
	}
}
