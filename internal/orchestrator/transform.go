package orchestrator

import (
	"fmt"
	"strings"

	"github.com/timmy/batchmigrate/internal/domain"
)

// Transformer rewrites one record before it is committed. An error is a
// terminal failure for that record.
type Transformer interface {
	Transform(rec domain.Record) (domain.Record, error)
}

// TransformFunc adapts a function to Transformer.
type TransformFunc func(rec domain.Record) (domain.Record, error)

// Transform calls f.
func (f TransformFunc) Transform(rec domain.Record) (domain.Record, error) {
	return f(rec)
}

// Chain applies ts in order and stops at the first error.
func Chain(ts ...Transformer) Transformer {
	return TransformFunc(func(rec domain.Record) (domain.Record, error) {
		var err error
		for _, t := range ts {
			if rec, err = t.Transform(rec); err != nil {
				return rec, err
			}
		}
		return rec, nil
	})
}

// TrimSpace strips surrounding whitespace from every field.
var TrimSpace Transformer = TransformFunc(func(rec domain.Record) (domain.Record, error) {
	out := make(domain.StringMap, len(rec.Fields))
	for k, v := range rec.Fields {
		out[k] = strings.TrimSpace(v)
	}
	rec.Fields = out
	return rec, nil
})

// Uppercase upper-cases the named columns.
func Uppercase(columns ...string) Transformer {
	return TransformFunc(func(rec domain.Record) (domain.Record, error) {
		out := make(domain.StringMap, len(rec.Fields))
		for k, v := range rec.Fields {
			out[k] = v
		}
		for _, c := range columns {
			if v, ok := out[c]; ok {
				out[c] = strings.ToUpper(v)
			}
		}
		rec.Fields = out
		return rec, nil
	})
}

// RequireFields fails records missing a non-blank value in any named column.
func RequireFields(columns ...string) Transformer {
	return TransformFunc(func(rec domain.Record) (domain.Record, error) {
		for _, c := range columns {
			if strings.TrimSpace(rec.Fields[c]) == "" {
				return rec, fmt.Errorf("column %s is empty", c)
			}
		}
		return rec, nil
	})
}
