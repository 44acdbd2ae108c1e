// Package dispatch runs warehouse queries concurrently and pushes their rows
// to the API serially.
//
// Queries run on a bounded worker pool. Their results flow over a channel to
// a single consumer that converts rows to records and writes them, so at
// most one write is in flight at any time. A failed query is logged and
// reported at the end without stopping the others; a failed write stops the
// run.
package dispatch

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/airbridge/pkg/airtable"
	"github.com/ajitpratap0/airbridge/pkg/errors"
	"github.com/ajitpratap0/airbridge/pkg/logger"
	"github.com/ajitpratap0/airbridge/pkg/metrics"
	"github.com/ajitpratap0/airbridge/pkg/observability"
	"github.com/ajitpratap0/airbridge/pkg/shaper"
	"github.com/ajitpratap0/airbridge/pkg/warehouse"
)

// TableSpec is one source table to send.
type TableSpec struct {
	Table  string `yaml:"table" json:"table"`
	Update bool   `yaml:"update" json:"update"`
}

// Mode returns the write mode for the table.
func (s TableSpec) Mode() airtable.WriteMode {
	if s.Update {
		return airtable.ModeUpdate
	}
	return airtable.ModeAppend
}

// Querier reads a whole table.
type Querier interface {
	Query(ctx context.Context, t warehouse.TableName) ([]map[string]interface{}, error)
}

// Writer sends records to an API table.
type Writer interface {
	Write(ctx context.Context, records []map[string]interface{}, table string, mode airtable.WriteMode) error
}

// AggregateQueryError names every source table whose query failed.
type AggregateQueryError struct {
	Tables []string
	Errs   []error
}

func (e *AggregateQueryError) Error() string {
	return "errors running table(s): " + strings.Join(e.Tables, ", ")
}

// ErrorType reports the aggregate as a query failure.
func (e *AggregateQueryError) ErrorType() errors.ErrorType {
	return errors.ErrorTypeQuery
}

// Unwrap exposes the individual query errors.
func (e *AggregateQueryError) Unwrap() []error {
	return e.Errs
}

// Config configures a Dispatcher
type Config struct {
	// Destination is the API table every source is written to
	Destination string
	// MaxWorkers bounds concurrent queries; 0 runs one per table
	MaxWorkers int
	Mappings   shaper.FieldMappings
}

// Dispatcher sends source tables to one API table.
type Dispatcher struct {
	querier Querier
	writer  Writer
	config  Config
	logger  *zap.Logger
}

// New creates a Dispatcher
func New(querier Querier, writer Writer, config Config, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		querier: querier,
		writer:  writer,
		config:  config,
		logger:  log.With(zap.String("component", "dispatcher")),
	}
}

type queryResult struct {
	index int
	spec  TableSpec
	rows  []map[string]interface{}
	err   error
}

// Run queries every table and writes the results. It returns the first write
// error, or an *AggregateQueryError when any query failed.
func (d *Dispatcher) Run(ctx context.Context, tables []TableSpec) (err error) {
	ctx, span := observability.NewSpan(ctx, "dispatch.run")
	span.SetAttribute("destination", d.config.Destination)
	span.SetAttribute("tables", len(tables))
	defer func() {
		span.Finish(err)
		span.End()
	}()

	queryCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := d.config.MaxWorkers
	if workers <= 0 || workers > len(tables) {
		workers = len(tables)
	}

	results := make(chan queryResult)
	go func() {
		var g errgroup.Group
		if workers > 0 {
			g.SetLimit(workers)
		}
		for i, spec := range tables {
			if queryCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				rows, err := d.query(queryCtx, spec)
				results <- queryResult{index: i, spec: spec, rows: rows, err: err}
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	var (
		writeErr error
		failed   []queryResult
	)
	for res := range results {
		if res.err != nil {
			if writeErr == nil {
				logger.FromContext(ctx, d.logger).Error("error querying table",
					zap.String("table", res.spec.Table),
					zap.Error(res.err))
				metrics.QueryFailures.WithLabelValues(res.spec.Table).Inc()
				failed = append(failed, res)
			}
			continue
		}
		if writeErr != nil {
			continue
		}
		if err := d.send(ctx, res.spec, res.rows); err != nil {
			writeErr = err
			cancel()
		}
	}

	if writeErr != nil {
		return writeErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(failed) > 0 {
		sort.Slice(failed, func(i, j int) bool { return failed[i].index < failed[j].index })
		aggErr := &AggregateQueryError{}
		for _, f := range failed {
			aggErr.Tables = append(aggErr.Tables, f.spec.Table)
			aggErr.Errs = append(aggErr.Errs, f.err)
		}
		return aggErr
	}
	return nil
}

func (d *Dispatcher) query(ctx context.Context, spec TableSpec) ([]map[string]interface{}, error) {
	source, err := warehouse.ParseSourceName(spec.Table)
	if err != nil {
		return nil, err
	}
	return d.querier.Query(ctx, source)
}

func (d *Dispatcher) send(ctx context.Context, spec TableSpec, rows []map[string]interface{}) error {
	log := logger.FromContext(ctx, d.logger).With(
		zap.String("source", spec.Table),
		zap.String("destination", d.config.Destination))

	return observability.Trace(ctx, "dispatch.send", func(ctx context.Context) error {
		log.Info("sending records", zap.Int("count", len(rows)))

		records := make([]map[string]interface{}, 0, len(rows))
		for _, row := range rows {
			records = append(records, shaper.RowToRecord(row, d.config.Mappings))
		}
		if len(records) > 0 {
			if err := d.writer.Write(ctx, records, d.config.Destination, spec.Mode()); err != nil {
				return err
			}
		}

		action := "inserted"
		if spec.Update {
			action = "updated"
		}
		log.Info(action+" records", zap.Int("count", len(rows)))
		return nil
	})
}
