package loader

import (
	"github.com/ajitpratap0/airbridge/pkg/airtable"
	"github.com/ajitpratap0/airbridge/pkg/shaper"
	"github.com/ajitpratap0/airbridge/pkg/warehouse"
)

// InferColumns derives column kinds from the values in frame. A column
// holding only booleans is boolean; only integers, integer; numbers with at
// least one float, float. Anything else, including an all-null column, is
// text. Integer columns backed by a decimal field type in fieldInfo are
// widened to float, so later chunks with fractions are not rounded.
func InferColumns(frame shaper.Frame, fieldInfo airtable.FieldInfo) []warehouse.Column {
	declared := make(map[string]string, len(fieldInfo))
	for _, f := range fieldInfo {
		declared[shaper.CanonicalColumn(f.Name)] = f.Type
	}

	columns := make([]warehouse.Column, len(frame.Columns))
	for i, name := range frame.Columns {
		kind := inferKind(frame.Rows, i)
		if kind == warehouse.KindInteger && decimalFieldTypes[declared[name]] {
			kind = warehouse.KindFloat
		}
		columns[i] = warehouse.Column{Name: name, Kind: kind}
	}
	return columns
}

var decimalFieldTypes = map[string]bool{
	"number":   true,
	"currency": true,
	"percent":  true,
}

func inferKind(rows [][]interface{}, col int) warehouse.ColumnKind {
	var sawBool, sawInt, sawFloat, sawOther bool
	for _, row := range rows {
		switch row[col].(type) {
		case nil:
		case bool:
			sawBool = true
		case int, int32, int64:
			sawInt = true
		case float32, float64:
			sawFloat = true
		default:
			sawOther = true
		}
	}

	switch {
	case sawOther:
		return warehouse.KindText
	case sawBool && (sawInt || sawFloat):
		return warehouse.KindText
	case sawBool:
		return warehouse.KindBoolean
	case sawFloat:
		return warehouse.KindFloat
	case sawInt:
		return warehouse.KindInteger
	default:
		return warehouse.KindText
	}
}
