package loader

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/airbridge/pkg/airtable"
	"github.com/ajitpratap0/airbridge/pkg/errors"
	"github.com/ajitpratap0/airbridge/pkg/shaper"
	"github.com/ajitpratap0/airbridge/pkg/testutil"
	"github.com/ajitpratap0/airbridge/pkg/warehouse"
)

var fields = airtable.FieldInfo{
	{Name: "Name", Type: "singleLineText"},
	{Name: "Score", Type: "number"},
	{Name: "Tags", Type: "multipleSelects"},
}

var dest = warehouse.TableName{Schema: "raw", Table: "projects"}

type sliceSource struct {
	chunks []airtable.Chunk
	i      int
}

func (s *sliceSource) Next(ctx context.Context) (airtable.Chunk, error) {
	if s.i >= len(s.chunks) {
		return nil, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func record(id, name string, score interface{}) airtable.Record {
	f := map[string]interface{}{"Name": name}
	if score != nil {
		f["Score"] = score
	}
	return airtable.Record{ID: id, CreatedTime: "2024-01-01T00:00:00.000Z", Fields: f}
}

func newTestLoader(t *testing.T) (*Loader, *warehouse.Warehouse) {
	t.Helper()
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	wh, err := warehouse.Open(ctx, warehouse.Config{Driver: warehouse.DriverSQLite, DSN: testutil.SQLiteDSN(t)}, testutil.TestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { wh.Close() })
	return New(wh, DefaultConfig(), testutil.TestLogger(t)), wh
}

func tableColumns(t *testing.T, wh *warehouse.Warehouse, table string) map[string]string {
	t.Helper()
	rows, err := wh.DB().Query("SELECT name, type FROM pragma_table_info(?)", table)
	require.NoError(t, err)
	defer rows.Close()

	cols := map[string]string{}
	for rows.Next() {
		var name, typ string
		require.NoError(t, rows.Scan(&name, &typ))
		cols[name] = typ
	}
	require.NoError(t, rows.Err())
	return cols
}

func TestLoadIntoMissingDestination(t *testing.T) {
	l, wh := newTestLoader(t)
	ctx := context.Background()

	src := &sliceSource{chunks: []airtable.Chunk{
		{record("rec1", "alpha", int64(3)), record("rec2", "beta", nil)},
		{},
		{record("rec3", "gamma", 2.5)},
	}}

	count, err := l.Load(ctx, src, fields, dest)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	rows, err := wh.Query(ctx, dest)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "rec1", rows[0]["id"])
	assert.Equal(t, "alpha", rows[0]["name"])
	assert.Equal(t, float64(3), rows[0]["score"])
	assert.Equal(t, 2.5, rows[2]["score"])
	assert.Nil(t, rows[1]["score"])
	assert.Nil(t, rows[0]["tags"])
	assert.Equal(t, "2024-01-01T00:00:00.000Z", rows[0]["createdtime"])

	// types come from the first non-empty chunk; a whole-number "number"
	// field is still stored as a float
	assert.Equal(t, map[string]string{
		"id":          "TEXT",
		"name":        "TEXT",
		"score":       "REAL",
		"tags":        "TEXT",
		"createdtime": "TEXT",
	}, tableColumns(t, wh, "projects"))

	exists, err := wh.TableExists(ctx, dest.Temp())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLoadSwapsExistingDestination(t *testing.T) {
	l, wh := newTestLoader(t)
	ctx := context.Background()

	_, err := l.Load(ctx, &sliceSource{chunks: []airtable.Chunk{{record("old1", "stale", 1.5)}}}, fields, dest)
	require.NoError(t, err)

	count, err := l.Load(ctx, &sliceSource{chunks: []airtable.Chunk{
		{record("new1", "fresh", 1.25), record("new2", "fresher", 2.75)},
	}}, fields, dest)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	rows, err := wh.Query(ctx, dest)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "new1", rows[0]["id"])
	assert.Equal(t, 2.75, rows[1]["score"])
	assert.Equal(t, "REAL", tableColumns(t, wh, "projects")["score"])

	exists, err := wh.TableExists(ctx, dest.Temp())
	require.NoError(t, err)
	assert.False(t, exists, "staging table is dropped after a swap")
}

func TestLoadDropsStaleStagingTable(t *testing.T) {
	l, wh := newTestLoader(t)
	ctx := context.Background()

	require.NoError(t, wh.CreateTable(ctx, dest.Temp(), []warehouse.Column{{Name: "junk"}}))
	require.NoError(t, wh.Insert(ctx, dest.Temp(), []string{"junk"}, [][]interface{}{{"left over"}}))

	count, err := l.Load(ctx, &sliceSource{chunks: []airtable.Chunk{{record("rec1", "a", nil)}}}, fields, dest)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.NotContains(t, tableColumns(t, wh, "projects"), "junk")
}

func TestLoadEmptyTable(t *testing.T) {
	l, wh := newTestLoader(t)
	ctx := context.Background()

	count, err := l.Load(ctx, &sliceSource{chunks: []airtable.Chunk{{}}}, fields, dest)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	rows, err := wh.Query(ctx, dest)
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.Equal(t, map[string]string{
		"id":          "TEXT",
		"name":        "TEXT",
		"score":       "TEXT",
		"tags":        "TEXT",
		"createdtime": "TEXT",
	}, tableColumns(t, wh, "projects"))

	// an empty reload of an existing table also cuts over
	count, err = l.Load(ctx, &sliceSource{}, fields, dest)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	rows, err = wh.Query(ctx, dest)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

type failingSource struct{ err error }

func (f failingSource) Next(context.Context) (airtable.Chunk, error) { return nil, f.err }

func TestLoadFailureLeavesDestinationUntouched(t *testing.T) {
	l, wh := newTestLoader(t)
	ctx := context.Background()

	_, err := l.Load(ctx, &sliceSource{chunks: []airtable.Chunk{{record("keep", "me", nil)}}}, fields, dest)
	require.NoError(t, err)

	_, err = l.Load(ctx, failingSource{err: errors.New(errors.ErrorTypeConnection, "reset")}, fields, dest)
	require.Error(t, err)

	rows, err := wh.Query(ctx, dest)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "keep", rows[0]["id"])
}

// invalidatingAPI serves two pages; the first n requests for the second
// page report an expired iterator.
func invalidatingAPI(t *testing.T, n int) *testutil.FakeAPI {
	var mu sync.Mutex
	first := testutil.JSONResponse(t, http.StatusOK, map[string]interface{}{
		"records": []map[string]interface{}{
			{"id": "rec1", "createdTime": "2024-01-01T00:00:00.000Z", "fields": map[string]interface{}{"Name": "a"}},
			{"id": "rec2", "createdTime": "2024-01-01T00:00:00.000Z", "fields": map[string]interface{}{"Name": "b"}},
		},
		"offset": "next",
	})
	second := testutil.JSONResponse(t, http.StatusOK, map[string]interface{}{
		"records": []map[string]interface{}{
			{"id": "rec3", "createdTime": "2024-01-01T00:00:00.000Z", "fields": map[string]interface{}{"Name": "c"}},
		},
	})
	return testutil.NewFakeAPI(t, func(req testutil.RecordedRequest) testutil.FakeResponse {
		if req.RawQuery == "" {
			return first
		}
		mu.Lock()
		defer mu.Unlock()
		if n > 0 {
			n--
			return testutil.FakeResponse{
				Status: http.StatusUnprocessableEntity,
				Body:   `{"error":{"type":"LIST_RECORDS_ITERATOR_NOT_AVAILABLE"}}`,
			}
		}
		return second
	})
}

func newAPIClient(t *testing.T, api *testutil.FakeAPI) *airtable.Client {
	t.Helper()
	cfg := airtable.DefaultConfig("appLoad", "key")
	cfg.BaseURL = api.URL()
	client, err := airtable.NewClient(cfg,
		airtable.WithHTTPClient(api.Client()),
		airtable.WithSleeper((&testutil.SleepRecorder{}).Sleep),
		airtable.WithLimiter(rate.NewLimiter(rate.Inf, 1)),
	)
	require.NoError(t, err)
	return client
}

func TestLoadTableRestartsOnInvalidation(t *testing.T) {
	l, wh := newTestLoader(t)
	ctx := context.Background()

	count, err := l.LoadTable(ctx, newAPIClient(t, invalidatingAPI(t, 2)), "Projects", fields, dest)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	rows, err := wh.Query(ctx, dest)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestLoadTableGivesUpAfterMaxRestarts(t *testing.T) {
	l, wh := newTestLoader(t)
	ctx := context.Background()

	_, err := l.LoadTable(ctx, newAPIClient(t, invalidatingAPI(t, 4)), "Projects", fields, dest)
	require.Error(t, err)
	assert.True(t, errors.Is(err, airtable.ErrIteratorInvalidated))

	exists, err := wh.TableExists(ctx, dest)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRechunk(t *testing.T) {
	page := func(n int) airtable.Chunk { return make(airtable.Chunk, n) }
	src := &sliceSource{chunks: []airtable.Chunk{page(100), page(100), page(100), page(50)}}

	r := Rechunk(src, 250)
	ctx := context.Background()

	c, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, c, 300)

	c, err = r.Next(ctx)
	require.NoError(t, err)
	assert.Len(t, c, 50)

	_, err = r.Next(ctx)
	assert.Equal(t, io.EOF, err)
}

func TestRechunkEmpty(t *testing.T) {
	r := Rechunk(&sliceSource{chunks: []airtable.Chunk{{}}}, 10)
	_, err := r.Next(context.Background())
	assert.Equal(t, io.EOF, err)
}

func TestInferColumns(t *testing.T) {
	frame := shaper.Frame{
		Columns: []string{"b", "i", "f", "mixed", "s", "null", "boolnum"},
		Rows: [][]interface{}{
			{true, int64(1), 1.5, int64(1), "x", nil, true},
			{nil, int64(2), nil, 2.5, "y", nil, int64(1)},
		},
	}

	kinds := map[string]warehouse.ColumnKind{}
	for _, c := range InferColumns(frame, nil) {
		kinds[c.Name] = c.Kind
	}
	assert.Equal(t, map[string]warehouse.ColumnKind{
		"b":       warehouse.KindBoolean,
		"i":       warehouse.KindInteger,
		"f":       warehouse.KindFloat,
		"mixed":   warehouse.KindFloat,
		"s":       warehouse.KindText,
		"null":    warehouse.KindText,
		"boolnum": warehouse.KindText,
	}, kinds)
}

func TestInferColumnsWidensDecimalFields(t *testing.T) {
	frame := shaper.Frame{
		Columns: []string{"price", "rate", "score", "count", "label"},
		Rows:    [][]interface{}{{int64(12), int64(1), int64(3), int64(7), "x"}},
	}
	info := airtable.FieldInfo{
		{Name: "Price", Type: "currency"},
		{Name: "Rate", Type: "percent"},
		{Name: "Score", Type: "number"},
		{Name: "Count", Type: "count"},
		{Name: "Label", Type: "number"},
	}

	kinds := map[string]warehouse.ColumnKind{}
	for _, c := range InferColumns(frame, info) {
		kinds[c.Name] = c.Kind
	}
	assert.Equal(t, map[string]warehouse.ColumnKind{
		"price": warehouse.KindFloat,
		"rate":  warehouse.KindFloat,
		"score": warehouse.KindFloat,
		"count": warehouse.KindInteger,
		"label": warehouse.KindText,
	}, kinds)
}

func TestCutoverRecordsDecision(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	l, _ := newTestLoader(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := l.Load(ctx, &sliceSource{chunks: []airtable.Chunk{{record("rec1", "a", nil)}}}, fields, dest)
		require.NoError(t, err)
	}

	var decisions []string
	for _, span := range recorder.Ended() {
		if span.Name() != "loader.cutover" {
			continue
		}
		for _, ev := range span.Events() {
			decisions = append(decisions, ev.Name)
		}
	}
	assert.Equal(t, []string{"cutover.rename", "cutover.swap"}, decisions)
}
