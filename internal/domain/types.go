package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
)

// StringMap is a string map stored as a JSON column.
type StringMap map[string]string

// Value implements the driver.Valuer interface for database serialization.
func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (m *StringMap) Scan(value interface{}) error {
	if value == nil {
		*m = StringMap{}
		return nil
	}
	raw, err := columnBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, m)
}

// Issues is a list of validation issues stored as a JSON column.
type Issues []Issue

// Value implements the driver.Valuer interface for database serialization.
func (is Issues) Value() (driver.Value, error) {
	if is == nil {
		return "[]", nil
	}
	b, err := json.Marshal(is)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (is *Issues) Scan(value interface{}) error {
	if value == nil {
		*is = Issues{}
		return nil
	}
	raw, err := columnBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, is)
}

func columnBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, errors.New("unsupported column type for JSON value")
	}
}
