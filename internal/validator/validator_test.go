package validator

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/batchmigrate/internal/domain"
)

func iccid(suffix string) string {
	return "8927" + strings.Repeat("0", 16-len(suffix)) + suffix
}

func simSchema(strict bool) Schema {
	return Schema{
		Name: "sims",
		Columns: []Column{
			{Name: "id", Required: true},
			{Name: "iccid", Required: true, Rules: []Rule{{Kind: RuleDigits, MinLength: 19, MaxLength: 20}}},
		},
		Key:          []string{"id"},
		StrictUnique: strict,
	}
}

func mustParse(t *testing.T, text string) Dataset {
	t.Helper()
	ds, err := ParseCSV([]byte(text))
	require.NoError(t, err)
	return ds
}

func TestValidateBadIdentifierRowNumber(t *testing.T) {
	ds := mustParse(t, "id,iccid\n1,"+iccid("1")+"\n2,8927\n3,"+iccid("3")+"\n")

	res := Validate(ds, simSchema(false), Options{})

	assert.False(t, res.IsValid)
	assert.Equal(t, 3, res.RecordCount)
	assert.Equal(t, domain.Issues{{Row: 3, Column: "iccid", Message: "invalid format"}}, res.Errors)
	assert.Empty(t, res.Warnings)
}

func TestValidateStrictDuplicate(t *testing.T) {
	ds := mustParse(t, "id,iccid\n7,"+iccid("1")+"\n7,"+iccid("2")+"\n")

	res := Validate(ds, simSchema(true), Options{})

	assert.False(t, res.IsValid)
	assert.Equal(t, 1, res.DuplicateCount)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, domain.Issue{Row: 3, Column: "id", Message: MsgDuplicateKey}, res.Errors[0])
}

func TestValidateLenientDuplicateIsWarning(t *testing.T) {
	ds := mustParse(t, "id,iccid\n7,"+iccid("1")+"\n7,"+iccid("1")+"\n7,"+iccid("1")+"\n")

	res := Validate(ds, simSchema(false), Options{})

	assert.True(t, res.IsValid)
	assert.Equal(t, 2, res.DuplicateCount)
	assert.Equal(t, []int{3, 4}, []int{res.Warnings[0].Row, res.Warnings[1].Row})
}

func TestValidateExistingKeys(t *testing.T) {
	ds := mustParse(t, "id,iccid\n1,"+iccid("1")+"\n2,"+iccid("2")+"\n")
	exists := func(key string) bool { return key == "2" }

	res := Validate(ds, simSchema(true), Options{Exists: exists})

	assert.Equal(t, 1, res.DuplicateCount)
	assert.Equal(t, domain.Issues{{Row: 3, Column: "id", Message: MsgKeyExists}}, res.Errors)
}

func TestValidateMissingColumnShortCircuits(t *testing.T) {
	ds := mustParse(t, "id,msisdn\n,bad\n,bad\n")

	res := Validate(ds, simSchema(true), Options{})

	assert.False(t, res.IsValid)
	assert.Equal(t, domain.Issues{{Row: 1, Column: "iccid", Message: MsgMissingColumn}}, res.Errors,
		"row errors are not reported without the required columns")
	assert.Equal(t, domain.Issues{{Row: 1, Column: "msisdn", Message: MsgUnexpectedColumn}}, res.Warnings)
	assert.Equal(t, 2, res.RecordCount)
}

func TestValidateEmptyDataset(t *testing.T) {
	res := Validate(mustParse(t, "id,iccid\n"), simSchema(true), Options{})

	assert.True(t, res.IsValid)
	assert.Equal(t, 0, res.RecordCount)
	assert.Equal(t, domain.Issues{{Row: 1, Message: MsgEmptyDataset}}, res.Warnings)
}

func TestValidateAccumulatesAcrossRows(t *testing.T) {
	ds := mustParse(t, "id,iccid\n,abc\n2,\n3,"+iccid("3")+"\n4,12\n")

	res := Validate(ds, simSchema(true), Options{})

	assert.Equal(t, domain.Issues{
		{Row: 2, Column: "id", Message: MsgRequired},
		{Row: 2, Column: "iccid", Message: MsgInvalidFormat},
		{Row: 3, Column: "iccid", Message: MsgRequired},
		{Row: 5, Column: "iccid", Message: MsgInvalidFormat},
	}, res.Errors)
}

func TestValidateIsDeterministic(t *testing.T) {
	ds := mustParse(t, "id,iccid,extra\n1,x\n1,"+iccid("1")+"\n\n2,"+iccid("2")+"\n")
	opts := Options{Now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	first := Validate(ds, simSchema(true), opts)
	second := Validate(ds, simSchema(true), opts)

	assert.Equal(t, first, second)
}

func TestValidateDateRules(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	schema := Schema{
		Name: "cards",
		Columns: []Column{
			{Name: "id", Required: true},
			{Name: "expires", Rules: []Rule{{Kind: RuleDate, WarnWithin: 30 * day}}},
		},
		Key: []string{"id"},
	}
	ds := mustParse(t, "id,expires\n1,2027-01-01\n2,2026-03-10\n3,2025-12-31\n4,31/12/2026\n")

	res := Validate(ds, schema, Options{Now: now})

	assert.Equal(t, domain.Issues{{Row: 5, Column: "expires", Message: MsgInvalidDate}}, res.Errors)
	assert.Equal(t, domain.Issues{
		{Row: 3, Column: "expires", Message: MsgExpiresSoon},
		{Row: 4, Column: "expires", Message: MsgExpired},
	}, res.Warnings)
}

func TestValidateEnumAndPattern(t *testing.T) {
	schema := Schema{
		Name: "vendors",
		Columns: []Column{
			{Name: "code", Required: true, Rules: []Rule{{Kind: RulePattern, Pattern: `[A-Z]{3}`}}},
			{Name: "tier", Rules: []Rule{{Kind: RuleEnum, Values: []string{"gold", "silver"}}}},
		},
		Key: []string{"code"},
	}
	ds := mustParse(t, "code,tier\nABC,gold\nABCD,bronze\n")

	res := Validate(ds, schema, Options{})

	assert.Equal(t, domain.Issues{
		{Row: 3, Column: "code", Message: MsgInvalidFormat},
		{Row: 3, Column: "tier", Message: MsgNotAllowed},
	}, res.Errors)
}

func TestParseCSVRejectsInvalidUTF8(t *testing.T) {
	_, err := ParseCSV([]byte("id,iccid\n1,\xff\xfe\n"))

	var admission *domain.AdmissionError
	require.True(t, errors.As(err, &admission))
	assert.Equal(t, domain.AdmissionUnreadableEncoding, admission.Reason)
}

func TestParseCSVRaggedRowsAndBOM(t *testing.T) {
	ds, err := ParseCSV([]byte("\xEF\xBB\xBFid, iccid\n1\n2,x,y\n"))
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "iccid"}, ds.Header)
	require.Len(t, ds.Rows, 2)
	assert.Equal(t, "", ds.Rows[0]["iccid"])
	assert.Equal(t, "x", ds.Rows[1]["iccid"])
	assert.Equal(t, map[int]int{1: 1}, ds.Overflow)
}

func TestValidateWarnsOnExtraFields(t *testing.T) {
	ds := mustParse(t, "id,iccid\n1,"+iccid("1")+"\n2,"+iccid("2")+",EXTRA,MORE\n")

	res := Validate(ds, simSchema(false), Options{})
	assert.True(t, res.IsValid)
	assert.Equal(t, domain.Issues{{Row: 3, Message: MsgExtraFields}}, res.Warnings)
	assert.Equal(t, Row{"id": "2", "iccid": iccid("2")}, ds.Rows[1])
}

func TestRowNumbersCountRecordsNotLines(t *testing.T) {
	ds := mustParse(t, "id,iccid\n1,"+iccid("1")+"\n\n2,bad\n")
	require.Len(t, ds.Rows, 2)

	res := Validate(ds, simSchema(false), Options{})
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.Errors[0].Row)
	assert.Equal(t, "iccid", res.Errors[0].Column)
}

func TestParseCSVMalformedQuotes(t *testing.T) {
	_, err := ParseCSV([]byte("id,name\n1,\"unterminated\n"))

	var admission *domain.AdmissionError
	require.True(t, errors.As(err, &admission))
	assert.Equal(t, domain.AdmissionMalformedDataset, admission.Reason)
}

func TestNaturalKey(t *testing.T) {
	row := Row{"account_id": "A1", "invoice_number": " 77 "}
	assert.Equal(t, "A1|77", NaturalKey(row, []string{"account_id", "invoice_number"}))
	assert.Equal(t, "", NaturalKey(row, []string{"account_id", "missing"}))
}
