// Package loader materializes an API table into a warehouse table with a
// zero-downtime cutover.
//
// Records are streamed into a staging table named <table>__loader_tmp. Once
// every chunk is in, the staging table is swapped with the destination (or
// renamed into place when the destination does not exist yet), so readers
// never observe a partially loaded table. A failed load leaves the staging
// table behind; the next run drops it before starting.
package loader

import (
	"context"
	"io"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/airbridge/pkg/airtable"
	"github.com/ajitpratap0/airbridge/pkg/errors"
	"github.com/ajitpratap0/airbridge/pkg/metrics"
	"github.com/ajitpratap0/airbridge/pkg/observability"
	"github.com/ajitpratap0/airbridge/pkg/shaper"
	"github.com/ajitpratap0/airbridge/pkg/warehouse"
)

// Config configures a Loader
type Config struct {
	// ChunkSize is the number of records buffered per insert pass
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
	// MaxRestarts bounds full reloads after iterator invalidation
	MaxRestarts int `yaml:"max_restarts" json:"max_restarts"`
}

// DefaultConfig returns the default loader settings.
func DefaultConfig() Config {
	return Config{
		ChunkSize:   5000,
		MaxRestarts: 3,
	}
}

// Loader loads API tables into one warehouse. A destination must have a
// single loader at a time.
type Loader struct {
	wh     *warehouse.Warehouse
	shaper *shaper.Shaper
	config Config
	logger *zap.Logger
}

// New creates a Loader writing to wh.
func New(wh *warehouse.Warehouse, config Config, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultConfig().ChunkSize
	}
	if config.MaxRestarts < 0 {
		config.MaxRestarts = 0
	}
	logger = logger.With(zap.String("component", "loader"))
	return &Loader{
		wh:     wh,
		shaper: shaper.New(logger),
		config: config,
		logger: logger,
	}
}

// LoadTable reads table from reader and loads it into dest. When the API
// invalidates the scan, the whole load starts over with a fresh scan, up to
// MaxRestarts times.
func (l *Loader) LoadTable(ctx context.Context, reader ChunkReader, table string, fieldInfo airtable.FieldInfo, dest warehouse.TableName) (int, error) {
	restarts := 0
	for {
		chunks := Rechunk(reader.IterChunks(table), l.config.ChunkSize)
		count, err := l.Load(ctx, chunks, fieldInfo, dest)
		if err == nil {
			return count, nil
		}
		if !errors.Is(err, airtable.ErrIteratorInvalidated) || restarts >= l.config.MaxRestarts {
			return 0, err
		}
		restarts++
		metrics.IteratorRestarts.WithLabelValues(table).Inc()
		l.logger.Warn("list records iterator not available, restarting",
			zap.String("table", table),
			zap.Int("restart", restarts))
	}
}

// Load builds dest from chunks in a staging table and cuts over. It returns
// the number of rows loaded.
func (l *Loader) Load(ctx context.Context, chunks ChunkSource, fieldInfo airtable.FieldInfo, dest warehouse.TableName) (count int, err error) {
	ctx, span := observability.NewSpan(ctx, "loader.load")
	span.SetAttribute("destination", dest.String())
	defer func() {
		span.SetAttribute("rows", count)
		span.Finish(err)
		span.End()
	}()

	start := time.Now()
	temp := dest.Temp()

	if err := l.wh.CreateSchema(ctx, dest); err != nil {
		return 0, err
	}
	if err := l.wh.DropTable(ctx, temp); err != nil {
		return 0, err
	}

	created := false
	for {
		chunk, err := chunks.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}

		frame, err := l.shaper.ShapeChunk(chunk, fieldInfo)
		if err != nil {
			return 0, err
		}
		if frame.Len() == 0 {
			continue
		}
		if !created {
			if err := l.wh.CreateTable(ctx, temp, InferColumns(frame, fieldInfo)); err != nil {
				return 0, err
			}
			created = true
		}
		if err := l.wh.Insert(ctx, temp, frame.Columns, frame.Rows); err != nil {
			return 0, err
		}
		count += frame.Len()
		l.logger.Debug("chunk loaded", zap.String("destination", dest.String()), zap.Int("rows", count))
	}

	if count == 0 {
		if err := l.createEmpty(ctx, temp, fieldInfo); err != nil {
			return 0, err
		}
	}

	if err := l.cutover(ctx, temp, dest); err != nil {
		return 0, err
	}

	metrics.RowsLoaded.WithLabelValues(dest.String()).Add(float64(count))
	l.logger.Info("table loaded",
		zap.String("destination", dest.String()),
		zap.Int("rows", count),
		zap.Duration("duration", time.Since(start)))
	return count, nil
}

// createEmpty materializes the staging table with every column typed as
// text. A later non-empty load fixes the types.
func (l *Loader) createEmpty(ctx context.Context, temp warehouse.TableName, fieldInfo airtable.FieldInfo) error {
	frame := shaper.EmptyFrame(fieldInfo)
	columns := make([]warehouse.Column, len(frame.Columns))
	for i, name := range frame.Columns {
		columns[i] = warehouse.Column{Name: name, Kind: warehouse.KindText}
	}
	if err := l.wh.CreateTable(ctx, temp, columns); err != nil {
		return err
	}
	if err := l.wh.Insert(ctx, temp, frame.Columns, [][]interface{}{make([]interface{}, len(frame.Columns))}); err != nil {
		return err
	}
	return l.wh.DeleteAll(ctx, temp)
}

func (l *Loader) cutover(ctx context.Context, temp, dest warehouse.TableName) (err error) {
	ctx, span := observability.NewSpan(ctx, "loader.cutover")
	defer func() {
		span.Finish(err)
		span.End()
	}()

	exists, err := l.wh.TableExists(ctx, dest)
	if err != nil {
		return err
	}
	if !exists {
		span.AddEvent("cutover.rename", attribute.String("destination", dest.String()))
		if err := l.wh.Rename(ctx, temp, dest); err != nil {
			return err
		}
		metrics.Cutovers.WithLabelValues("rename").Inc()
		return nil
	}

	span.AddEvent("cutover.swap", attribute.String("destination", dest.String()))
	if err := l.wh.Swap(ctx, temp, dest); err != nil {
		return err
	}
	if err := l.wh.DropTable(ctx, temp); err != nil {
		return err
	}
	metrics.Cutovers.WithLabelValues("swap").Inc()
	return nil
}
