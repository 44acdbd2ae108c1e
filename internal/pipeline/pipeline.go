// Package pipeline wires the API client, warehouse, loader and dispatcher
// into the two runs airbridge performs:
//
//   - load: copy one API table into a warehouse table with an atomic cutover
//   - send: query warehouse tables and write their rows to one API table
//
// Every run gets its own run id, carried on the context and attached to each
// log line.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/airbridge/pkg/airtable"
	"github.com/ajitpratap0/airbridge/pkg/config"
	"github.com/ajitpratap0/airbridge/pkg/dispatch"
	"github.com/ajitpratap0/airbridge/pkg/loader"
	"github.com/ajitpratap0/airbridge/pkg/logger"
	"github.com/ajitpratap0/airbridge/pkg/warehouse"
)

// Env holds the connections a run uses.
type Env struct {
	Client    *airtable.Client
	Warehouse *warehouse.Warehouse
}

// Connect opens the API client for baseID and the warehouse described by
// creds.
func Connect(ctx context.Context, creds *config.Credentials, baseID string, log *zap.Logger) (*Env, error) {
	client, err := airtable.NewClient(airtable.DefaultConfig(baseID, creds.AirtableAPIKey), airtable.WithLogger(log))
	if err != nil {
		return nil, err
	}
	wh, err := warehouse.Open(ctx, creds.Warehouse, log)
	if err != nil {
		return nil, err
	}
	return &Env{Client: client, Warehouse: wh}, nil
}

// Close releases the warehouse connection.
func (e *Env) Close() error {
	return e.Warehouse.Close()
}

// LoadOptions configures a load run
type LoadOptions struct {
	TableName   string
	Destination string
	Loader      loader.Config
}

// RunLoad copies opts.TableName into opts.Destination and returns the number
// of rows loaded.
func RunLoad(ctx context.Context, env *Env, opts LoadOptions, log *zap.Logger) (int, error) {
	dest, err := warehouse.ParseTableName(opts.Destination)
	if err != nil {
		return 0, err
	}

	if log == nil {
		log = zap.NewNop()
	}
	baseID := env.Client.Config().BaseID
	ctx = logger.WithRun(ctx, uuid.NewString())
	ctx = logger.WithTable(ctx, baseID, opts.TableName)
	log = logger.FromContext(ctx, log)

	start := time.Now()
	log.Info("loading table", zap.String("destination", dest.String()))

	metadata, err := env.Client.FetchMetadata(ctx)
	if err != nil {
		return 0, err
	}
	fieldInfo, err := metadata.Table(opts.TableName)
	if err != nil {
		return 0, err
	}

	l := loader.New(env.Warehouse, opts.Loader, log)
	count, err := l.LoadTable(ctx, env.Client, opts.TableName, fieldInfo, dest)
	if err != nil {
		return 0, err
	}

	log.Info("load complete",
		zap.String("destination", dest.String()),
		zap.Int("count", count),
		zap.Duration("duration", time.Since(start)))
	return count, nil
}

// RunSend queries every table in cfg and writes the rows to the configured
// API table. maxWorkers overrides cfg.MaxWorkers when positive.
func RunSend(ctx context.Context, env *Env, cfg *config.SendConfig, maxWorkers int, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	ctx = logger.WithRun(ctx, uuid.NewString())
	ctx = logger.WithTable(ctx, cfg.AirtableBaseID, cfg.AirtableTableName)
	log = logger.FromContext(ctx, log)

	metadata, err := env.Client.FetchMetadata(ctx)
	if err != nil {
		return err
	}
	fieldInfo, err := metadata.Table(cfg.AirtableTableName)
	if err != nil {
		return err
	}

	workers := cfg.MaxWorkers
	if maxWorkers > 0 {
		workers = maxWorkers
	}

	log.Info("sending tables", zap.Int("tables", len(cfg.Tables)), zap.Int("max_workers", workers))
	d := dispatch.New(env.Warehouse, env.Client, dispatch.Config{
		Destination: cfg.AirtableTableName,
		MaxWorkers:  workers,
		Mappings:    cfg.Mappings(fieldInfo.Names()),
	}, log)
	return d.Run(ctx, cfg.Tables)
}
