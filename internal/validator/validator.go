// Package validator checks a dataset's header and rows against a schema.
//
// Validation is a pure function of its inputs: the dataset, the schema, the
// clock value in Options and the answers of Options.Exists. Row numbers are
// 1-based, count the header as row 1 and number records rather than
// physical lines.
package validator

import (
	"time"

	"github.com/samber/lo"
	"github.com/timmy/batchmigrate/internal/domain"
)

// ExistsFunc reports whether a natural key is already committed downstream.
type ExistsFunc func(key string) bool

// Options carries the caller-supplied inputs of a validation run.
type Options struct {
	// Now anchors expiry checks. Zero means date rules never warn.
	Now time.Time
	// Exists checks keys against committed data. Nil means nothing exists.
	Exists ExistsFunc
}

type compiledColumn struct {
	Column
	checks []checker
}

// Validate checks ds against schema. Blocking problems land in Errors,
// non-blocking ones in Warnings; neither aborts the run.
func Validate(ds Dataset, schema Schema, opts Options) domain.ValidationResult {
	res := domain.ValidationResult{
		SchemaName:  schema.Name,
		RecordCount: len(ds.Rows),
		Errors:      domain.Issues{},
		Warnings:    domain.Issues{},
	}

	known := lo.Map(schema.Columns, func(c Column, _ int) string { return c.Name })
	for _, col := range schema.RequiredColumns() {
		if !ds.HasColumn(col) {
			res.Errors = append(res.Errors, domain.Issue{Row: domain.HeaderRow, Column: col, Message: MsgMissingColumn})
		}
	}
	for _, h := range ds.Header {
		if !lo.Contains(known, h) {
			res.Warnings = append(res.Warnings, domain.Issue{Row: domain.HeaderRow, Column: h, Message: MsgUnexpectedColumn})
		}
	}
	if len(ds.Rows) == 0 {
		res.Warnings = append(res.Warnings, domain.Issue{Row: domain.HeaderRow, Message: MsgEmptyDataset})
	}

	columns, ok := compileColumns(schema, &res)
	if len(res.Errors) > 0 || !ok {
		res.IsValid = false
		return res
	}

	seen := make(map[string]int, len(ds.Rows))
	keyLabel := schema.KeyLabel()
	for i, row := range ds.Rows {
		rowNum := RowNumber(i)
		if ds.Overflow[i] > 0 {
			res.Warnings = append(res.Warnings, domain.Issue{Row: rowNum, Message: MsgExtraFields})
		}
		for _, col := range columns {
			if !ds.HasColumn(col.Name) {
				continue
			}
			value := row[col.Name]
			if value == "" {
				if col.Required {
					res.Errors = append(res.Errors, domain.Issue{Row: rowNum, Column: col.Name, Message: MsgRequired})
				}
				continue
			}
			for _, check := range col.checks {
				msg, warning := check(value, opts.Now)
				if msg == "" {
					continue
				}
				issue := domain.Issue{Row: rowNum, Column: col.Name, Message: msg}
				if warning {
					res.Warnings = append(res.Warnings, issue)
				} else {
					res.Errors = append(res.Errors, issue)
				}
			}
		}

		key := NaturalKey(row, schema.Key)
		if key == "" {
			continue
		}
		msg := ""
		if _, dup := seen[key]; dup {
			msg = MsgDuplicateKey
		} else {
			seen[key] = rowNum
			if opts.Exists != nil && opts.Exists(key) {
				msg = MsgKeyExists
			}
		}
		if msg == "" {
			continue
		}
		res.DuplicateCount++
		issue := domain.Issue{Row: rowNum, Column: keyLabel, Message: msg}
		if schema.StrictUnique {
			res.Errors = append(res.Errors, issue)
		} else {
			res.Warnings = append(res.Warnings, issue)
		}
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

// Keys returns the natural keys of ds in row order, skipping blank keys.
func Keys(ds Dataset, schema Schema) []string {
	keys := make([]string, 0, len(ds.Rows))
	for _, row := range ds.Rows {
		if k := NaturalKey(row, schema.Key); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

func compileColumns(schema Schema, res *domain.ValidationResult) ([]compiledColumn, bool) {
	ok := true
	columns := make([]compiledColumn, 0, len(schema.Columns))
	for _, c := range schema.Columns {
		cc := compiledColumn{Column: c}
		for _, r := range c.Rules {
			check, err := compileRule(r)
			if err != nil {
				res.Errors = append(res.Errors, domain.Issue{Row: domain.HeaderRow, Column: c.Name, Message: MsgBadRule})
				ok = false
				continue
			}
			cc.checks = append(cc.checks, check)
		}
		columns = append(columns, cc)
	}
	return columns, ok
}
