// Package warehouse runs the DDL and DML a table load needs against a SQL
// warehouse: existence checks, schema and table creation, batched inserts,
// swap and rename cutovers, and whole-table reads.
//
// Supported drivers are Snowflake (the production target), Postgres, MySQL
// and an embedded SQLite used for local runs and tests. Every failure is a
// *errors.Error of type ErrorTypeWarehouse carrying the statement kind and
// table.
package warehouse

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	// database/sql drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/snowflakedb/gosnowflake"
	_ "modernc.org/sqlite"

	"github.com/ajitpratap0/airbridge/pkg/errors"
)

// DefaultInsertBatchSize is the number of rows per INSERT statement.
const DefaultInsertBatchSize = 4096

// Config configures a Warehouse connection
type Config struct {
	Driver Driver `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`

	// Pool settings
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`

	InsertBatchSize int `yaml:"insert_batch_size" json:"insert_batch_size"`
}

// Warehouse is a dialect-aware handle over a *sql.DB. It is safe for
// concurrent use.
type Warehouse struct {
	db        *sql.DB
	dialect   *dialect
	batchSize int
	logger    *zap.Logger
}

// Open connects to the warehouse described by cfg and verifies the
// connection.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Warehouse, error) {
	d, ok := dialects[cfg.Driver]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported warehouse driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "warehouse dsn is required")
	}

	db, err := sql.Open(d.sqlDriver, cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection pool")
	}

	poolSize := cfg.MaxOpenConns
	if poolSize <= 0 {
		poolSize = 8
	}
	if d.driver == DriverSQLite {
		// one writer at a time avoids SQLITE_BUSY
		poolSize = 1
	}
	db.SetMaxOpenConns(poolSize)
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns((poolSize + 1) / 2)
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 30 * time.Minute
	}
	db.SetConnMaxLifetime(lifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping warehouse")
	}

	w, err := New(db, cfg.Driver, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if cfg.InsertBatchSize > 0 {
		w.batchSize = cfg.InsertBatchSize
	}
	return w, nil
}

// New wraps an existing pool opened with the driver's database/sql name.
func New(db *sql.DB, driver Driver, logger *zap.Logger) (*Warehouse, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported warehouse driver %q", driver)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warehouse{
		db:        db,
		dialect:   d,
		batchSize: DefaultInsertBatchSize,
		logger:    logger.With(zap.String("component", "warehouse"), zap.String("driver", string(driver))),
	}, nil
}

// Close closes the pool.
func (w *Warehouse) Close() error {
	return w.db.Close()
}

// DB returns the underlying pool.
func (w *Warehouse) DB() *sql.DB {
	return w.db
}

// Driver returns the warehouse flavor.
func (w *Warehouse) Driver() Driver {
	return w.dialect.driver
}

// Qualify renders t as a quoted identifier for this dialect.
func (w *Warehouse) Qualify(t TableName) string {
	return w.dialect.qualify(t)
}

// TableExists reports whether t exists.
func (w *Warehouse) TableExists(ctx context.Context, t TableName) (bool, error) {
	query, args := w.dialect.existsSQL(t)
	var n int
	if err := w.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, warehouseError(err, "describe", t)
	}
	return n > 0, nil
}

// CreateSchema creates the schema of t if it does not exist.
func (w *Warehouse) CreateSchema(ctx context.Context, t TableName) error {
	stmt := w.dialect.createSchemaSQL(t)
	if stmt == "" {
		return nil
	}
	return w.exec(ctx, "create schema", t, stmt)
}

// DropTable drops t if it exists.
func (w *Warehouse) DropTable(ctx context.Context, t TableName) error {
	return w.exec(ctx, "drop table", t, "DROP TABLE IF EXISTS "+w.Qualify(t))
}

// CreateTable creates t with columns.
func (w *Warehouse) CreateTable(ctx context.Context, t TableName, columns []Column) error {
	if len(columns) == 0 {
		return errors.Newf(errors.ErrorTypeValidation, "table %s needs at least one column", t)
	}
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = w.dialect.quote(c.Name) + " " + w.dialect.types[c.Kind]
	}
	stmt := "CREATE TABLE " + w.Qualify(t) + " (" + strings.Join(defs, ", ") + ")"
	return w.exec(ctx, "create table", t, stmt)
}

// Insert appends rows to t in multi-row INSERT statements of at most the
// configured batch size, further bounded by the driver's bind parameter
// limit. Rows must be aligned with columns.
func (w *Warehouse) Insert(ctx context.Context, t TableName, columns []string, rows [][]interface{}) error {
	if len(rows) == 0 {
		return nil
	}
	if len(columns) == 0 {
		return errors.Newf(errors.ErrorTypeValidation, "insert into %s without columns", t)
	}

	perStatement := w.batchSize
	if limit := w.dialect.maxParams / len(columns); limit < perStatement {
		perStatement = limit
	}
	if perStatement < 1 {
		perStatement = 1
	}

	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = w.dialect.quote(c)
	}
	prefix := "INSERT INTO " + w.Qualify(t) + " (" + strings.Join(quoted, ", ") + ") VALUES "

	for start := 0; start < len(rows); start += perStatement {
		end := start + perStatement
		if end > len(rows) {
			end = len(rows)
		}
		stmt, args, err := w.buildInsert(prefix, len(columns), rows[start:end])
		if err != nil {
			return warehouseError(err, "insert", t)
		}
		if _, err := w.db.ExecContext(ctx, stmt, args...); err != nil {
			return warehouseError(err, "insert", t)
		}
	}
	return nil
}

func (w *Warehouse) buildInsert(prefix string, width int, rows [][]interface{}) (string, []interface{}, error) {
	var sb strings.Builder
	sb.Grow(len(prefix) + len(rows)*width*4)
	sb.WriteString(prefix)

	args := make([]interface{}, 0, len(rows)*width)
	n := 1
	for i, row := range rows {
		if len(row) != width {
			return "", nil, errors.Newf(errors.ErrorTypeData, "row has %d values, expected %d", len(row), width)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j, v := range row {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(w.dialect.bind(n))
			n++
			args = append(args, v)
		}
		sb.WriteByte(')')
	}
	return sb.String(), args, nil
}

// DeleteAll removes every row of t.
func (w *Warehouse) DeleteAll(ctx context.Context, t TableName) error {
	return w.exec(ctx, "delete", t, "DELETE FROM "+w.Qualify(t))
}

// Swap exchanges the contents and names of a and b in one atomic step.
// Both must be in the same schema.
func (w *Warehouse) Swap(ctx context.Context, a, b TableName) error {
	d := w.dialect
	switch d.swap {
	case swapStatement:
		return w.exec(ctx, "swap", b, "ALTER TABLE "+d.qualify(a)+" SWAP WITH "+d.qualify(b))
	case swapRenameChain:
		parking := b.WithTable(b.Table + "__loader_old")
		stmt := "RENAME TABLE " +
			d.qualify(b) + " TO " + d.qualify(parking) + ", " +
			d.qualify(a) + " TO " + d.qualify(b) + ", " +
			d.qualify(parking) + " TO " + d.qualify(a)
		return w.exec(ctx, "swap", b, stmt)
	default:
		parking := b.WithTable(b.Table + "__loader_old")
		tx, err := w.db.BeginTx(ctx, nil)
		if err != nil {
			return warehouseError(err, "swap", b)
		}
		for _, stmt := range []string{
			d.renameSQL(b, parking),
			d.renameSQL(a, b),
			d.renameSQL(parking, a),
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return warehouseError(err, "swap", b)
			}
		}
		if err := tx.Commit(); err != nil {
			return warehouseError(err, "swap", b)
		}
		return nil
	}
}

// Rename gives from the table name of to. Both must be in the same schema.
func (w *Warehouse) Rename(ctx context.Context, from, to TableName) error {
	return w.exec(ctx, "rename", to, w.dialect.renameSQL(from, to))
}

// Query returns every row of t as a column name to value map. Decimal
// columns are returned as int64 or float64 and byte strings as string.
func (w *Warehouse) Query(ctx context.Context, t TableName) ([]map[string]interface{}, error) {
	rows, err := w.db.QueryContext(ctx, "SELECT * FROM "+w.Qualify(t))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "query failed").
			WithDetail("table", t.String())
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read column types").
			WithDetail("table", t.String())
	}

	var result []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columnTypes))
		ptrs := make([]interface{}, len(columnTypes))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to scan row").
				WithDetail("table", t.String())
		}
		row := make(map[string]interface{}, len(columnTypes))
		for i, ct := range columnTypes {
			row[ct.Name()] = normalizeValue(values[i], ct.DatabaseTypeName())
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "failed to read rows").
			WithDetail("table", t.String())
	}
	return result, nil
}

func (w *Warehouse) exec(ctx context.Context, kind string, t TableName, stmt string) error {
	w.logger.Debug("executing statement", zap.String("kind", kind), zap.String("table", t.String()))
	if _, err := w.db.ExecContext(ctx, stmt); err != nil {
		return warehouseError(err, kind, t)
	}
	return nil
}

func warehouseError(err error, kind string, t TableName) error {
	return errors.Wrapf(err, errors.ErrorTypeWarehouse, "%s failed for %s", kind, t).
		WithDetail("statement", kind).
		WithDetail("table", t.String())
}

func normalizeValue(v interface{}, dbType string) interface{} {
	var s string
	switch val := v.(type) {
	case []byte:
		s = string(val)
	case string:
		s = val
	default:
		return v
	}
	if !numericTypes[strings.ToUpper(dbType)] {
		return s
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
