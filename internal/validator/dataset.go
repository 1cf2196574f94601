package validator

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/timmy/batchmigrate/internal/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Row maps a column name to its raw string value.
type Row map[string]string

// Dataset is an ordered sequence of rows under a header.
type Dataset struct {
	Header []string
	Rows   []Row
	// Overflow maps a row index to how many fields it had beyond the header.
	// Those fields are not part of the row.
	Overflow map[int]int
}

// RowNumber converts a zero-based data row index to its 1-based row number.
// Rows are numbered by record with the header as row 1, so blank lines and
// line breaks inside quoted fields do not advance the count.
func RowNumber(index int) int {
	return index + domain.HeaderRow + 1
}

// HasColumn reports whether the header names col exactly.
func (d Dataset) HasColumn(col string) bool {
	for _, h := range d.Header {
		if h == col {
			return true
		}
	}
	return false
}

// ParseCSV reads delimited text with a header row. Blank lines are skipped,
// short rows are padded with empty values and fields past the header are
// counted in Overflow. Invalid UTF-8 and malformed quoting fail the whole
// dataset with an AdmissionError.
func ParseCSV(data []byte) (Dataset, error) {
	return ParseDelimited(data, ',')
}

// ParseDelimited is ParseCSV with a custom field separator.
func ParseDelimited(data []byte, comma rune) (Dataset, error) {
	if !utf8.Valid(data) {
		return Dataset{}, &domain.AdmissionError{
			Reason: domain.AdmissionUnreadableEncoding,
			Detail: "dataset is not valid UTF-8",
		}
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = comma
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return Dataset{}, nil
	}
	if err != nil {
		return Dataset{}, malformed(err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	ds := Dataset{Header: header}
	for {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Dataset{}, malformed(err)
		}
		if extra := len(fields) - len(header); extra > 0 {
			if ds.Overflow == nil {
				ds.Overflow = make(map[int]int)
			}
			ds.Overflow[len(ds.Rows)] = extra
		}
		row := make(Row, len(header))
		for i, col := range header {
			if i < len(fields) {
				row[col] = fields[i]
			} else {
				row[col] = ""
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

func malformed(err error) error {
	return &domain.AdmissionError{
		Reason: domain.AdmissionMalformedDataset,
		Detail: fmt.Sprintf("unreadable delimited text: %v", err),
	}
}
