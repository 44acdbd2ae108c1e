// Package shaper converts between API records and warehouse rows.
//
// In the load direction a chunk of records becomes a Frame whose columns are
// always id, every declared field in schema order, then createdTime, even when
// no record populates a column. In the send direction a warehouse row becomes
// an API record through a FieldMappings table.
package shaper

import (
	"go.uber.org/zap"

	"github.com/ajitpratap0/airbridge/pkg/airtable"
	"github.com/ajitpratap0/airbridge/pkg/errors"
	jsonpool "github.com/ajitpratap0/airbridge/pkg/json"
)

const (
	idKey          = "id"
	createdTimeKey = "createdTime"
)

// structuredTypes are field types whose values are stored as JSON text.
var structuredTypes = map[string]bool{
	"multipleSelects": true,
	"multilineText":   true,
	"formula":         true,
}

// Frame is the tabular form of a chunk. Rows are aligned with Columns.
type Frame struct {
	Columns []string
	Rows    [][]interface{}
}

// Len returns the number of rows.
func (f Frame) Len() int {
	return len(f.Rows)
}

// Shaper turns API records into frames.
type Shaper struct {
	logger *zap.Logger
}

// New creates a Shaper. A nil logger discards overlap warnings.
func New(logger *zap.Logger) *Shaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shaper{logger: logger.With(zap.String("component", "shaper"))}
}

// sourceNames lists the raw column keys for fieldInfo, without duplicates.
func sourceNames(fieldInfo airtable.FieldInfo) []string {
	names := make([]string, 0, len(fieldInfo)+2)
	seen := make(map[string]bool, len(fieldInfo)+2)
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	add(idKey)
	for _, f := range fieldInfo {
		add(f.Name)
	}
	add(createdTimeKey)
	return names
}

// EmptyFrame returns the columns for fieldInfo and no rows.
func EmptyFrame(fieldInfo airtable.FieldInfo) Frame {
	return Frame{Columns: canonicalColumns(sourceNames(fieldInfo)), Rows: [][]interface{}{}}
}

// ShapeChunk produces one row per record. Top-level record keys are merged
// with the fields; when both carry a key the field value is used and a
// warning is logged. Fields missing from fieldInfo are dropped.
func (s *Shaper) ShapeChunk(records []airtable.Record, fieldInfo airtable.FieldInfo) (Frame, error) {
	names := sourceNames(fieldInfo)
	frame := Frame{
		Columns: canonicalColumns(names),
		Rows:    make([][]interface{}, 0, len(records)),
	}

	for _, rec := range records {
		merged := s.merge(rec)
		row := make([]interface{}, len(names))
		for i, name := range names {
			value, err := columnValue(merged[name], fieldInfo.TypeOf(name))
			if err != nil {
				return Frame{}, errors.Wrap(err, errors.ErrorTypeData, "failed to encode field "+name+" of record "+rec.ID)
			}
			row[i] = value
		}
		frame.Rows = append(frame.Rows, row)
	}
	return frame, nil
}

func (s *Shaper) merge(rec airtable.Record) map[string]interface{} {
	merged := make(map[string]interface{}, len(rec.Fields)+len(rec.Extra)+2)
	for k, v := range rec.Extra {
		merged[k] = v
	}
	if rec.ID != "" {
		merged[idKey] = rec.ID
	}
	if rec.CreatedTime != "" {
		merged[createdTimeKey] = rec.CreatedTime
	}

	var overlap []string
	for k, v := range rec.Fields {
		if _, ok := merged[k]; ok {
			overlap = append(overlap, k)
		}
		merged[k] = v
	}
	if len(overlap) > 0 {
		s.logger.Warn("names overlap between record and fields",
			zap.String("record_id", rec.ID),
			zap.Strings("overlap", overlap))
	}
	return merged
}

// columnValue makes value insertable: structured types and any remaining
// object or array become JSON text. Nil stays nil.
func columnValue(value interface{}, fieldType string) (interface{}, error) {
	if value == nil {
		return nil, nil
	}
	switch value.(type) {
	case map[string]interface{}, []interface{}:
		return jsonpool.MarshalString(value)
	}
	if structuredTypes[fieldType] {
		return jsonpool.MarshalString(value)
	}
	return value, nil
}
