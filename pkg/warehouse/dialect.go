package warehouse

import (
	"strconv"
	"strings"
)

// Driver names a supported warehouse.
type Driver string

const (
	DriverSnowflake Driver = "snowflake"
	DriverPostgres  Driver = "postgres"
	DriverMySQL     Driver = "mysql"
	DriverSQLite    Driver = "sqlite"
)

// ColumnKind is the inferred storage class of a loaded column.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindBoolean
	KindInteger
	KindFloat
)

func (k ColumnKind) String() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	default:
		return "text"
	}
}

// Column is a column definition for CreateTable.
type Column struct {
	Name string
	Kind ColumnKind
}

// swapStyle is how a dialect exchanges two tables atomically.
type swapStyle int

const (
	// single ALTER TABLE a SWAP WITH b
	swapStatement swapStyle = iota
	// one RENAME TABLE statement with three renames
	swapRenameChain
	// three renames inside one transaction
	swapTransaction
)

type dialect struct {
	driver     Driver
	sqlDriver  string
	maxParams  int
	swap       swapStyle
	upperIdent bool
	lowerIdent bool
	quoteChar  string
	// schemas are not addressable; every table lives in the main database
	flat        bool
	dollarBinds bool
	types       map[ColumnKind]string
}

var dialects = map[Driver]*dialect{
	DriverSnowflake: {
		driver:     DriverSnowflake,
		sqlDriver:  "snowflake",
		maxParams:  65535,
		swap:       swapStatement,
		upperIdent: true,
		quoteChar:  `"`,
		types: map[ColumnKind]string{
			KindText:    "VARCHAR",
			KindBoolean: "BOOLEAN",
			KindInteger: "NUMBER(38,0)",
			KindFloat:   "NUMBER(38,6)",
		},
	},
	DriverPostgres: {
		driver:      DriverPostgres,
		sqlDriver:   "pgx",
		maxParams:   65535,
		swap:        swapTransaction,
		lowerIdent:  true,
		quoteChar:   `"`,
		dollarBinds: true,
		types: map[ColumnKind]string{
			KindText:    "TEXT",
			KindBoolean: "BOOLEAN",
			KindInteger: "BIGINT",
			KindFloat:   "NUMERIC(38,6)",
		},
	},
	DriverMySQL: {
		driver:    DriverMySQL,
		sqlDriver: "mysql",
		maxParams: 65535,
		swap:      swapRenameChain,
		quoteChar: "`",
		types: map[ColumnKind]string{
			KindText:    "LONGTEXT",
			KindBoolean: "BOOLEAN",
			KindInteger: "BIGINT",
			KindFloat:   "DECIMAL(38,6)",
		},
	},
	DriverSQLite: {
		driver:    DriverSQLite,
		sqlDriver: "sqlite",
		maxParams: 32766,
		swap:      swapTransaction,
		quoteChar: `"`,
		flat:      true,
		types: map[ColumnKind]string{
			KindText:    "TEXT",
			KindBoolean: "BOOLEAN",
			KindInteger: "INTEGER",
			KindFloat:   "REAL",
		},
	},
}

func (d *dialect) fold(ident string) string {
	switch {
	case d.upperIdent:
		return strings.ToUpper(ident)
	case d.lowerIdent:
		return strings.ToLower(ident)
	default:
		return ident
	}
}

func (d *dialect) quote(ident string) string {
	ident = d.fold(ident)
	return d.quoteChar + strings.ReplaceAll(ident, d.quoteChar, d.quoteChar+d.quoteChar) + d.quoteChar
}

// qualify renders t as a fully qualified identifier.
func (d *dialect) qualify(t TableName) string {
	if d.flat {
		return d.quote(t.Table)
	}
	var parts []string
	// only Snowflake addresses a database above the schema
	if t.Database != "" && d.driver == DriverSnowflake {
		parts = append(parts, d.quote(t.Database))
	}
	if t.Schema != "" {
		parts = append(parts, d.quote(t.Schema))
	}
	parts = append(parts, d.quote(t.Table))
	return strings.Join(parts, ".")
}

// schemaName renders the schema part of t, or "" when there is none.
func (d *dialect) schemaName(t TableName) string {
	if d.flat || t.Schema == "" {
		return ""
	}
	if t.Database != "" && d.driver == DriverSnowflake {
		return d.quote(t.Database) + "." + d.quote(t.Schema)
	}
	return d.quote(t.Schema)
}

func (d *dialect) createSchemaSQL(t TableName) string {
	name := d.schemaName(t)
	if name == "" {
		return ""
	}
	if d.driver == DriverMySQL {
		return "CREATE DATABASE IF NOT EXISTS " + name
	}
	return "CREATE SCHEMA IF NOT EXISTS " + name
}

func (d *dialect) bind(n int) string {
	if d.dollarBinds {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// existsSQL returns a query counting tables named t.
func (d *dialect) existsSQL(t TableName) (string, []interface{}) {
	switch d.driver {
	case DriverSQLite:
		return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", []interface{}{t.Table}
	case DriverSnowflake:
		infoSchema := "INFORMATION_SCHEMA.TABLES"
		if t.Database != "" {
			infoSchema = d.quote(t.Database) + "." + infoSchema
		}
		if t.Schema == "" {
			return "SELECT COUNT(*) FROM " + infoSchema + " WHERE TABLE_SCHEMA = CURRENT_SCHEMA() AND TABLE_NAME = ?",
				[]interface{}{d.fold(t.Table)}
		}
		return "SELECT COUNT(*) FROM " + infoSchema + " WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?",
			[]interface{}{d.fold(t.Schema), d.fold(t.Table)}
	case DriverMySQL:
		if t.Schema == "" {
			return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?",
				[]interface{}{t.Table}
		}
		return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?",
			[]interface{}{t.Schema, t.Table}
	default:
		if t.Schema == "" {
			return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1",
				[]interface{}{d.fold(t.Table)}
		}
		return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2",
			[]interface{}{d.fold(t.Schema), d.fold(t.Table)}
	}
}

// renameSQL renames from to the table part of to, within from's schema.
func (d *dialect) renameSQL(from, to TableName) string {
	switch d.driver {
	case DriverSnowflake:
		return "ALTER TABLE " + d.qualify(from) + " RENAME TO " + d.qualify(to)
	case DriverMySQL:
		return "RENAME TABLE " + d.qualify(from) + " TO " + d.qualify(to)
	default:
		// target must be unqualified
		return "ALTER TABLE " + d.qualify(from) + " RENAME TO " + d.quote(to.Table)
	}
}

// numericTypes are driver type names whose values arrive as decimal text.
var numericTypes = map[string]bool{
	"FIXED":   true,
	"NUMBER":  true,
	"NUMERIC": true,
	"DECIMAL": true,
	"REAL":    true,
	"DOUBLE":  true,
	"FLOAT":   true,
}
