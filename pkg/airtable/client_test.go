package airtable

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/airbridge/pkg/errors"
	"github.com/ajitpratap0/airbridge/pkg/testutil"
)

const testBaseID = "appTestBase"

func newTestClient(t *testing.T, api *testutil.FakeAPI, sleeper *testutil.SleepRecorder, mutate ...func(*Config)) *Client {
	t.Helper()

	cfg := DefaultConfig(testBaseID, "key-123")
	cfg.BaseURL = api.URL()
	for _, m := range mutate {
		m(&cfg)
	}

	client, err := NewClient(cfg,
		WithHTTPClient(api.Client()),
		WithSleeper(sleeper.Sleep),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
		WithLogger(testutil.TestLogger(t)),
	)
	require.NoError(t, err)
	return client
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Config{APIKey: "key"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = NewClient(Config{BaseID: testBaseID})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
}

func TestRequestBacksOffOnRateLimit(t *testing.T) {
	api := testutil.NewFakeAPI(t, testutil.Sequence(
		testutil.FakeResponse{Status: http.StatusTooManyRequests},
		testutil.FakeResponse{Status: http.StatusTooManyRequests},
		testutil.FakeResponse{Status: http.StatusTooManyRequests},
		testutil.FakeResponse{Status: http.StatusOK, Body: `{"ok":true}`},
	))
	sleeper := &testutil.SleepRecorder{}
	client := newTestClient(t, api, sleeper)

	resp, err := client.Request(context.Background(), http.MethodGet, api.URL()+"/v0/x", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Len(t, api.Requests(), 4)
	assert.Equal(t, []time.Duration{
		30 * time.Second,
		45 * time.Second,
		68 * time.Second,
		200 * time.Millisecond,
	}, sleeper.Durations())
}

func TestRequestRateLimitExhausted(t *testing.T) {
	api := testutil.NewFakeAPI(t, testutil.Sequence(
		testutil.FakeResponse{Status: http.StatusTooManyRequests, Body: `{"error":"RATE_LIMIT_REACHED"}`},
	))
	sleeper := &testutil.SleepRecorder{}
	client := newTestClient(t, api, sleeper)

	_, err := client.Request(context.Background(), http.MethodGet, api.URL()+"/v0/x", nil, nil)
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.True(t, httpErr.RateLimited())
	assert.True(t, errors.IsType(err, errors.ErrorTypeRateLimit))

	assert.Len(t, api.Requests(), 4)
	assert.Equal(t, []time.Duration{
		30 * time.Second,
		45 * time.Second,
		68 * time.Second,
		200 * time.Millisecond,
	}, sleeper.Durations())
}

func TestRequestHTTPErrorIsNotRetried(t *testing.T) {
	api := testutil.NewFakeAPI(t, testutil.Sequence(
		testutil.FakeResponse{Status: http.StatusNotFound, Body: `{"error":"NOT_FOUND"}`},
	))
	sleeper := &testutil.SleepRecorder{}
	client := newTestClient(t, api, sleeper)

	_, err := client.Request(context.Background(), http.MethodGet, api.URL()+"/v0/x", nil, nil)
	require.Error(t, err)

	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, http.MethodGet, httpErr.Method)
	assert.Contains(t, httpErr.Error(), "NOT_FOUND")
	assert.Len(t, api.Requests(), 1)
	assert.Empty(t, sleeper.Durations(), "no throttle pause before an error")
	assert.Equal(t, errors.ErrorTypeHTTP, errors.TypeOf(err))
	assert.False(t, errors.IsRetryable(err))
}

func TestRequestServerErrorType(t *testing.T) {
	api := testutil.NewFakeAPI(t, testutil.Sequence(
		testutil.FakeResponse{Status: http.StatusInternalServerError, Body: `{"error":"SERVER_ERROR"}`},
	))
	client := newTestClient(t, api, &testutil.SleepRecorder{})

	_, err := client.Request(context.Background(), http.MethodGet, api.URL()+"/v0/x", nil, nil)
	require.Error(t, err)
	assert.Equal(t, errors.ErrorTypeHTTP, errors.TypeOf(err))

	var field zap.Field
	for _, f := range errors.Fields(err) {
		if f.Key == "error_type" {
			field = f
		}
	}
	assert.Equal(t, "http", field.String)
}

func TestRequestHeaders(t *testing.T) {
	api := testutil.NewFakeAPI(t, testutil.Sequence(testutil.FakeResponse{Status: http.StatusOK, Body: "{}"}))
	client := newTestClient(t, api, &testutil.SleepRecorder{})
	ctx := context.Background()

	_, err := client.Request(ctx, http.MethodPost, api.URL()+"/v0/x", map[string]string{"a": "b"}, nil)
	require.NoError(t, err)
	_, err = client.Request(ctx, http.MethodPatch, api.URL()+"/v0/x", nil, map[string]string{"Content-Type": "text/plain"})
	require.NoError(t, err)
	_, err = client.Request(ctx, http.MethodGet, api.URL()+"/v0/x", nil, nil)
	require.NoError(t, err)

	reqs := api.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "application/json", reqs[0].Header.Get("Content-Type"))
	assert.JSONEq(t, `{"a":"b"}`, string(reqs[0].Body))
	assert.Equal(t, "text/plain", reqs[1].Header.Get("Content-Type"))
	assert.Empty(t, reqs[2].Header.Get("Content-Type"))
}

func TestRequestSendsBearerToken(t *testing.T) {
	api := testutil.NewFakeAPI(t, testutil.Sequence(testutil.FakeResponse{Status: http.StatusOK, Body: "{}"}))

	cfg := DefaultConfig(testBaseID, "pat-secret")
	cfg.BaseURL = api.URL()
	client, err := NewClient(cfg, WithSleeper((&testutil.SleepRecorder{}).Sleep))
	require.NoError(t, err)

	_, err = client.Request(context.Background(), http.MethodGet, api.URL()+"/v0/x", nil, nil)
	require.NoError(t, err)

	reqs := api.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Bearer pat-secret", reqs[0].Header.Get("Authorization"))
}

func TestRequestHonorsCancelledContext(t *testing.T) {
	api := testutil.NewFakeAPI(t, testutil.Sequence(testutil.FakeResponse{Status: http.StatusOK, Body: "{}"}))
	cfg := DefaultConfig(testBaseID, "key")
	cfg.BaseURL = api.URL()
	client, err := NewClient(cfg, WithHTTPClient(api.Client()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = client.Request(ctx, http.MethodGet, api.URL()+"/v0/x", nil, nil)
	require.Error(t, err)
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		wait time.Duration
		want time.Duration
	}{
		{30 * time.Second, 45 * time.Second},
		{45 * time.Second, 68 * time.Second},
		{68 * time.Second, 102 * time.Second},
		{time.Second, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.wait.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, nextBackoff(tt.wait, 1.5))
		})
	}
}

func TestTableURLEscapesName(t *testing.T) {
	api := testutil.NewFakeAPI(t, testutil.Sequence())
	client := newTestClient(t, api, &testutil.SleepRecorder{})

	assert.Equal(t, api.URL()+"/v0/"+testBaseID+"/My%20Table", client.TableURL("My Table"))
}
