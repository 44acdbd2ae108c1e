package shaper

import (
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	dateTimeLayout = "01/02/2006 15:04:05"
	dateLayout     = "01/02/2006"
	listSuffix     = "_list"
)

// decimalText matches driver-rendered DECIMAL/NUMERIC values.
var decimalText = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// FieldMappings maps each API field to the warehouse columns that may
// supply it, in priority order.
type FieldMappings map[string][]string

// DefaultFieldMappings maps id to the id column and every other field to its
// lower-cased name with spaces replaced by underscores.
func DefaultFieldMappings(fieldNames []string) FieldMappings {
	m := make(FieldMappings, len(fieldNames)+1)
	m[idKey] = []string{idKey}
	for _, name := range fieldNames {
		m[name] = append(m[name], strings.ReplaceAll(strings.ToLower(name), " ", "_"))
	}
	return m
}

// Override replaces the candidate columns of field. With no candidates the
// field is never sent.
func (m FieldMappings) Override(field string, candidates ...string) {
	m[field] = append([]string(nil), candidates...)
}

// RowToRecord builds the API record for one warehouse row. For each field the
// first candidate column holding a non-nil value wins; column names match
// case-insensitively. Fields with no value are omitted.
func RowToRecord(row map[string]interface{}, mappings FieldMappings) map[string]interface{} {
	lowered := make(map[string]interface{}, len(row))
	for k, v := range row {
		lowered[strings.ToLower(k)] = v
	}

	record := make(map[string]interface{}, len(mappings))
	for field, candidates := range mappings {
		for _, column := range candidates {
			value, ok := row[column]
			if !ok {
				value = lowered[strings.ToLower(column)]
			}
			if value == nil {
				continue
			}
			record[field] = sendValue(value, column)
			break
		}
	}
	return record
}

func sendValue(value interface{}, column string) interface{} {
	switch v := value.(type) {
	case *big.Rat:
		f, _ := v.Float64()
		return f
	case *big.Float:
		f, _ := v.Float64()
		return f
	case float32:
		return float64(v)
	case time.Time:
		if isDateOnly(v) {
			return v.Format(dateLayout)
		}
		return v.Format(dateTimeLayout)
	case []byte:
		if decimalText.Match(v) {
			if f, err := strconv.ParseFloat(string(v), 64); err == nil {
				return f
			}
		}
		return sendValue(string(v), column)
	case string:
		if strings.TrimSpace(v) != "" && strings.HasSuffix(strings.ToLower(column), listSuffix) {
			parts := strings.Split(v, "|")
			items := make([]interface{}, len(parts))
			for i, p := range parts {
				items[i] = strings.TrimSpace(p)
			}
			return items
		}
		return v
	default:
		return v
	}
}

// isDateOnly reports whether t carries no clock component, which is how
// drivers return DATE columns.
func isDateOnly(t time.Time) bool {
	h, m, s := t.Clock()
	return h == 0 && m == 0 && s == 0 && t.Nanosecond() == 0
}
