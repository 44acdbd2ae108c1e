package warehouse

import (
	"strings"

	"github.com/ajitpratap0/airbridge/pkg/errors"
)

// TempSuffix is appended to a destination table name to form the staging
// table a load is built in.
const TempSuffix = "__loader_tmp"

// TableName addresses a table. Database is optional.
type TableName struct {
	Database string
	Schema   string
	Table    string
}

// ParseTableName parses a load destination, "database.schema.table" or
// "schema.table".
func ParseTableName(name string) (TableName, error) {
	parts, err := splitName(name)
	if err != nil {
		return TableName{}, err
	}
	switch len(parts) {
	case 3:
		return TableName{Database: parts[0], Schema: parts[1], Table: parts[2]}, nil
	case 2:
		return TableName{Schema: parts[0], Table: parts[1]}, nil
	default:
		return TableName{}, errors.Newf(errors.ErrorTypeValidation, "invalid table name: %s", name)
	}
}

// ParseSourceName parses a query source, which may also be a bare table
// name resolved against the connection's default schema.
func ParseSourceName(name string) (TableName, error) {
	parts, err := splitName(name)
	if err != nil {
		return TableName{}, err
	}
	if len(parts) == 1 {
		return TableName{Table: parts[0]}, nil
	}
	return ParseTableName(name)
}

func splitName(name string) ([]string, error) {
	parts := strings.Split(strings.TrimSpace(name), ".")
	for _, p := range parts {
		if p == "" {
			return nil, errors.Newf(errors.ErrorTypeValidation, "invalid table name: %s", name)
		}
	}
	return parts, nil
}

// Temp returns the staging table for t, in the same schema.
func (t TableName) Temp() TableName {
	return t.WithTable(t.Table + TempSuffix)
}

// WithTable returns t with the table part replaced.
func (t TableName) WithTable(table string) TableName {
	t.Table = table
	return t
}

func (t TableName) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{t.Database, t.Schema, t.Table} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}
