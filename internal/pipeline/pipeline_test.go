package pipeline

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/airbridge/pkg/airtable"
	"github.com/ajitpratap0/airbridge/pkg/config"
	"github.com/ajitpratap0/airbridge/pkg/dispatch"
	"github.com/ajitpratap0/airbridge/pkg/errors"
	"github.com/ajitpratap0/airbridge/pkg/loader"
	"github.com/ajitpratap0/airbridge/pkg/testutil"
	"github.com/ajitpratap0/airbridge/pkg/warehouse"
)

const baseID = "appPipeline"

func baseAPI(t *testing.T) *testutil.FakeAPI {
	metadata := testutil.JSONResponse(t, http.StatusOK, map[string]interface{}{
		"tables": []map[string]interface{}{{
			"id":   "tbl1",
			"name": "Projects",
			"fields": []map[string]interface{}{
				{"id": "fld1", "name": "Name", "type": "singleLineText"},
				{"id": "fld2", "name": "Due Date", "type": "date"},
				{"id": "fld3", "name": "Tags", "type": "multipleSelects"},
			},
		}},
	})
	records := testutil.JSONResponse(t, http.StatusOK, map[string]interface{}{
		"records": []map[string]interface{}{
			{"id": "rec1", "createdTime": "2024-01-01T00:00:00.000Z", "fields": map[string]interface{}{
				"Name": "alpha", "Tags": []string{"x", "y"},
			}},
			{"id": "rec2", "createdTime": "2024-01-02T00:00:00.000Z", "fields": map[string]interface{}{
				"Name": "beta", "Due Date": "2024-03-01",
			}},
		},
	})

	return testutil.NewFakeAPI(t, func(req testutil.RecordedRequest) testutil.FakeResponse {
		switch {
		case req.Path == "/v0/meta/bases/"+baseID+"/tables":
			return metadata
		case req.Method == http.MethodGet:
			return records
		default:
			return testutil.FakeResponse{Status: http.StatusOK, Body: `{"records":[]}`}
		}
	})
}

func newEnv(t *testing.T, api *testutil.FakeAPI) *Env {
	t.Helper()
	ctx, cancel := testutil.TestContext(t)
	defer cancel()

	cfg := airtable.DefaultConfig(baseID, "key")
	cfg.BaseURL = api.URL()
	client, err := airtable.NewClient(cfg,
		airtable.WithHTTPClient(api.Client()),
		airtable.WithSleeper((&testutil.SleepRecorder{}).Sleep),
		airtable.WithLimiter(rate.NewLimiter(rate.Inf, 1)),
	)
	require.NoError(t, err)

	wh, err := warehouse.Open(ctx, warehouse.Config{Driver: warehouse.DriverSQLite, DSN: testutil.SQLiteDSN(t)}, testutil.TestLogger(t))
	require.NoError(t, err)

	env := &Env{Client: client, Warehouse: wh}
	t.Cleanup(func() { env.Close() })
	return env
}

func TestRunLoad(t *testing.T) {
	env := newEnv(t, baseAPI(t))
	ctx := context.Background()

	count, err := RunLoad(ctx, env, LoadOptions{
		TableName:   "Projects",
		Destination: "raw.projects",
		Loader:      loader.DefaultConfig(),
	}, testutil.TestLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	rows, err := env.Warehouse.Query(ctx, warehouse.TableName{Schema: "raw", Table: "projects"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "rec1", rows[0]["id"])
	assert.Equal(t, `["x","y"]`, rows[0]["tags"])
	assert.Nil(t, rows[0]["due_date"])
	assert.Equal(t, "2024-03-01", rows[1]["due_date"])
}

func TestRunLoadRejectsBadDestination(t *testing.T) {
	env := newEnv(t, baseAPI(t))

	_, err := RunLoad(context.Background(), env, LoadOptions{TableName: "Projects", Destination: "projects"}, testutil.TestLogger(t))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestRunLoadUnknownTable(t *testing.T) {
	env := newEnv(t, baseAPI(t))

	_, err := RunLoad(context.Background(), env, LoadOptions{TableName: "Missing", Destination: "raw.missing"}, testutil.TestLogger(t))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestRunSend(t *testing.T) {
	api := baseAPI(t)
	env := newEnv(t, api)
	ctx := context.Background()

	src := warehouse.TableName{Table: "projects_new"}
	require.NoError(t, env.Warehouse.CreateTable(ctx, src, []warehouse.Column{
		{Name: "name", Kind: warehouse.KindText},
		{Name: "due_date", Kind: warehouse.KindText},
		{Name: "labels_list", Kind: warehouse.KindText},
	}))
	require.NoError(t, env.Warehouse.Insert(ctx, src, []string{"name", "due_date", "labels_list"}, [][]interface{}{
		{"gamma", "03/01/2024", "a | b"},
	}))

	cfg := &config.SendConfig{
		AirtableBaseID:    baseID,
		AirtableTableName: "Projects",
		Tables:            config.TableList{{Table: "projects_new"}, {Table: "no_such_table"}},
		FieldMappings:     map[string][]string{"Tags": {"labels_list"}},
	}

	err := RunSend(ctx, env, cfg, 2, testutil.TestLogger(t))
	require.Error(t, err)
	var agg *dispatch.AggregateQueryError
	require.True(t, errors.As(err, &agg))
	assert.Equal(t, []string{"no_such_table"}, agg.Tables)

	var writes []testutil.RecordedRequest
	for _, req := range api.Requests() {
		if req.Method == http.MethodPost {
			writes = append(writes, req)
		}
	}
	require.Len(t, writes, 1)
	assert.Equal(t, "/v0/"+baseID+"/Projects", writes[0].Path)

	var payload struct {
		Records []struct {
			Fields map[string]interface{} `json:"fields"`
		} `json:"records"`
		Typecast bool `json:"typecast"`
	}
	writes[0].DecodeBody(t, &payload)
	assert.True(t, payload.Typecast)
	require.Len(t, payload.Records, 1)
	assert.Equal(t, map[string]interface{}{
		"Name":     "gamma",
		"Due Date": "03/01/2024",
		"Tags":     []interface{}{"a", "b"},
	}, payload.Records[0].Fields)
}
