package airtable

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/ajitpratap0/airbridge/pkg/errors"
	jsonpool "github.com/ajitpratap0/airbridge/pkg/json"
	"github.com/ajitpratap0/airbridge/pkg/metrics"
)

type listResponse struct {
	Records []map[string]interface{} `json:"records"`
	Offset  string                   `json:"offset"`
}

// ChunkIterator walks the pages of one table. It is not safe for concurrent
// use. After an *IteratorInvalidatedError every chunk already returned must
// be discarded and the scan restarted with Restart.
type ChunkIterator struct {
	client *Client
	table  string
	url    string
	offset string
	done   bool
}

// IterChunks returns an iterator positioned at the start of table.
func (c *Client) IterChunks(table string) *ChunkIterator {
	return &ChunkIterator{
		client: c,
		table:  table,
		url:    c.TableURL(table),
	}
}

// Table returns the table being read.
func (it *ChunkIterator) Table() string {
	return it.table
}

// Next returns the next page. It returns io.EOF once the last page has been
// returned. An empty table yields one empty chunk before io.EOF.
func (it *ChunkIterator) Next(ctx context.Context) (Chunk, error) {
	if it.done {
		return nil, io.EOF
	}

	u := it.url
	if it.offset != "" {
		u += "?offset=" + url.QueryEscape(it.offset)
	}

	resp, err := it.client.Request(ctx, http.MethodGet, u, nil, nil)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && isIteratorError(httpErr) {
			it.done = true
			return nil, &IteratorInvalidatedError{Table: it.table, Cause: httpErr}
		}
		return nil, err
	}

	var page listResponse
	if err := resp.Decode(&page); err != nil {
		return nil, err
	}

	chunk := make(Chunk, 0, len(page.Records))
	for _, raw := range page.Records {
		jsonpool.NormalizeNumbers(raw)
		chunk = append(chunk, recordFromMap(raw))
	}

	it.offset = page.Offset
	if page.Offset == "" {
		it.done = true
	}
	return chunk, nil
}

// Restart rewinds to the first page. A stale offset is never reused.
func (it *ChunkIterator) Restart() {
	it.offset = ""
	it.done = false
}

// ReadAll returns every record of table. When the server invalidates the
// iterator the partial result is discarded and the scan starts over, at most
// MaxIteratorRestarts times per call.
func (c *Client) ReadAll(ctx context.Context, table string) ([]Record, error) {
	it := c.IterChunks(table)
	restarts := 0
	for {
		records, err := drain(ctx, it)
		if err == nil {
			return records, nil
		}
		if !errors.Is(err, ErrIteratorInvalidated) || restarts >= c.config.MaxIteratorRestarts {
			return nil, err
		}
		restarts++
		metrics.IteratorRestarts.WithLabelValues(table).Inc()
		c.logger.Warn("list records iterator not available, restarting",
			zap.String("table", table),
			zap.Int("restart", restarts))
		it.Restart()
	}
}

func drain(ctx context.Context, it *ChunkIterator) ([]Record, error) {
	var records []Record
	for {
		chunk, err := it.Next(ctx)
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, err
		}
		records = append(records, chunk...)
	}
}
