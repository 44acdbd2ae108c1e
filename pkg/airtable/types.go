package airtable

import (
	"github.com/ajitpratap0/airbridge/pkg/errors"
)

// Record is one row as returned by the list endpoint. Fields is sparse: a
// field the API omits is null, not present-as-null.
type Record struct {
	ID          string
	CreatedTime string
	Fields      map[string]interface{}
	// Extra holds any other top-level keys of the record object.
	Extra map[string]interface{}
}

// Chunk is one page of records (at most 100 on read).
type Chunk []Record

// Field is a column declared in the base schema.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// FieldInfo lists the declared fields of a table in schema order.
type FieldInfo []Field

// Names returns the field names in schema order.
func (fi FieldInfo) Names() []string {
	names := make([]string, len(fi))
	for i, f := range fi {
		names[i] = f.Name
	}
	return names
}

// TypeOf returns the declared type of name, or "" if the field is unknown.
func (fi FieldInfo) TypeOf(name string) string {
	for _, f := range fi {
		if f.Name == name {
			return f.Type
		}
	}
	return ""
}

// Metadata is a snapshot of every table's FieldInfo in a base. It is a plain
// value: take a fresh snapshot with Client.FetchMetadata to refresh it.
type Metadata map[string]FieldInfo

// Table returns the FieldInfo for the named table.
func (m Metadata) Table(name string) (FieldInfo, error) {
	fi, ok := m[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "table %q not found in base metadata", name)
	}
	return fi, nil
}

// WriteMode selects between creating and patching records.
type WriteMode int

const (
	// ModeAppend creates new records; the server assigns identifiers
	ModeAppend WriteMode = iota
	// ModeUpdate patches existing records addressed by their id
	ModeUpdate
)

func (m WriteMode) String() string {
	if m == ModeUpdate {
		return "update"
	}
	return "append"
}

// recordFromMap splits a decoded record object into its parts.
func recordFromMap(m map[string]interface{}) Record {
	rec := Record{}
	for key, value := range m {
		switch key {
		case "id":
			rec.ID, _ = value.(string)
		case "createdTime":
			rec.CreatedTime, _ = value.(string)
		case "fields":
			if fields, ok := value.(map[string]interface{}); ok {
				rec.Fields = fields
			}
		default:
			if rec.Extra == nil {
				rec.Extra = make(map[string]interface{})
			}
			rec.Extra[key] = value
		}
	}
	if rec.Fields == nil {
		rec.Fields = map[string]interface{}{}
	}
	return rec
}
