package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinSchemasAreWellFormed(t *testing.T) {
	for _, s := range BuiltinSchemas() {
		t.Run(s.Name, func(t *testing.T) {
			assert.NoError(t, s.Check())
		})
	}
}

func TestCatalogRegisterAndOverride(t *testing.T) {
	custom := Schema{
		Name:    "sim_inventory",
		Columns: []Column{{Name: "serial", Required: true}},
		Key:     []string{"serial"},
	}
	c, err := NewCatalog(custom)
	require.NoError(t, err)

	got, ok := c.Get("sim_inventory")
	require.True(t, ok)
	assert.Equal(t, []string{"serial"}, got.Key)
	assert.Equal(t, []string{"billing", "sim_inventory", "subscriber", "vendor"}, c.Names())
}

func TestSchemaCheckRejectsBadDefinitions(t *testing.T) {
	tests := []struct {
		name   string
		schema Schema
	}{
		{"no name", Schema{Columns: []Column{{Name: "a"}}, Key: []string{"a"}}},
		{"no columns", Schema{Name: "x", Key: []string{"a"}}},
		{"duplicate column", Schema{Name: "x", Columns: []Column{{Name: "a"}, {Name: "a"}}, Key: []string{"a"}}},
		{"undeclared key", Schema{Name: "x", Columns: []Column{{Name: "a"}}, Key: []string{"b"}}},
		{"bad pattern", Schema{Name: "x", Columns: []Column{{Name: "a", Rules: []Rule{{Kind: RulePattern, Pattern: "("}}}}, Key: []string{"a"}}},
		{"unknown rule", Schema{Name: "x", Columns: []Column{{Name: "a", Rules: []Rule{{Kind: "luhn"}}}}, Key: []string{"a"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, tc.schema.Check())
		})
	}
}

func TestBillingCompositeKey(t *testing.T) {
	c, err := NewCatalog()
	require.NoError(t, err)
	billing, _ := c.Get("billing")

	ds := mustParse(t, "account_id,invoice_number,amount,currency,billing_date\n"+
		"A1,100,10.50,ZAR,2026-01-31\n"+
		"A1,101,3,USD,2026-01-31\n"+
		"A1,100,1.999,ZAR,2026-02-30\n")

	res := Validate(ds, billing, Options{})

	assert.Equal(t, 1, res.DuplicateCount)
	require.Len(t, res.Errors, 3)
	assert.Equal(t, "amount", res.Errors[0].Column)
	assert.Equal(t, "billing_date", res.Errors[1].Column)
	assert.Equal(t, "account_id+invoice_number", res.Errors[2].Column)
}
