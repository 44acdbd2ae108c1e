package airtable

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ajitpratap0/airbridge/pkg/errors"
	"github.com/ajitpratap0/airbridge/pkg/metrics"
)

type writeRecord struct {
	ID     string                 `json:"id,omitempty"`
	Fields map[string]interface{} `json:"fields"`
}

type writePayload struct {
	Records  []writeRecord `json:"records"`
	Typecast bool          `json:"typecast"`
}

// Write sends records in chunks of WriteChunkSize, one request per chunk, in
// order. In ModeUpdate every record must carry a non-empty string "id",
// which is moved from the fields into the record envelope; this is checked
// before anything is sent. The first failing chunk aborts the rest. The
// caller's maps are not modified.
func (c *Client) Write(ctx context.Context, records []map[string]interface{}, table string, mode WriteMode) error {
	payloads, err := buildPayloads(records, mode, c.config.WriteChunkSize)
	if err != nil {
		return err
	}

	method := http.MethodPost
	if mode == ModeUpdate {
		method = http.MethodPatch
	}
	u := c.TableURL(table)

	for i, payload := range payloads {
		if _, err := c.Request(ctx, method, u, payload, nil); err != nil {
			c.logger.Error("write chunk failed",
				zap.String("table", table),
				zap.Stringer("mode", mode),
				zap.Int("chunk", i),
				zap.Error(err))
			return err
		}
		metrics.RecordsWritten.WithLabelValues(table, mode.String()).Add(float64(len(payload.Records)))
	}
	return nil
}

// Append creates records in table.
func (c *Client) Append(ctx context.Context, records []map[string]interface{}, table string) error {
	return c.Write(ctx, records, table, ModeAppend)
}

// Update patches the records in table addressed by their "id" key.
func (c *Client) Update(ctx context.Context, records []map[string]interface{}, table string) error {
	return c.Write(ctx, records, table, ModeUpdate)
}

func buildPayloads(records []map[string]interface{}, mode WriteMode, chunkSize int) ([]writePayload, error) {
	items := make([]writeRecord, 0, len(records))
	for i, rec := range records {
		if mode != ModeUpdate {
			items = append(items, writeRecord{Fields: rec})
			continue
		}
		id, ok := rec["id"].(string)
		if !ok || id == "" {
			return nil, errors.Newf(errors.ErrorTypeValidation, "record %d has no id, required for update", i)
		}
		fields := make(map[string]interface{}, len(rec)-1)
		for k, v := range rec {
			if k != "id" {
				fields[k] = v
			}
		}
		items = append(items, writeRecord{ID: id, Fields: fields})
	}

	payloads := make([]writePayload, 0, (len(items)+chunkSize-1)/chunkSize)
	for start := 0; start < len(items); start += chunkSize {
		end := start + chunkSize
		if end > len(items) {
			end = len(items)
		}
		payloads = append(payloads, writePayload{Records: items[start:end], Typecast: true})
	}
	return payloads, nil
}
