package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	jsonpool "github.com/ajitpratap0/airbridge/pkg/json"
)

// RecordedRequest is one request received by a FakeAPI.
type RecordedRequest struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// DecodeBody decodes the recorded JSON body into v.
func (r RecordedRequest) DecodeBody(t *testing.T, v interface{}) {
	t.Helper()
	require.NoError(t, jsonpool.Unmarshal(r.Body, v))
}

// FakeResponse is a canned reply.
type FakeResponse struct {
	Status int
	Body   string
}

// JSONResponse encodes v as the body of a canned reply.
func JSONResponse(t *testing.T, status int, v interface{}) FakeResponse {
	t.Helper()
	s, err := jsonpool.MarshalString(v)
	require.NoError(t, err)
	return FakeResponse{Status: status, Body: s}
}

// Responder produces the reply for a request.
type Responder func(req RecordedRequest) FakeResponse

// Sequence replies with responses in order and repeats the last one once
// the list is used up.
func Sequence(responses ...FakeResponse) Responder {
	var mu sync.Mutex
	i := 0
	return func(RecordedRequest) FakeResponse {
		mu.Lock()
		defer mu.Unlock()
		if len(responses) == 0 {
			return FakeResponse{Status: http.StatusOK, Body: "{}"}
		}
		resp := responses[i]
		if i < len(responses)-1 {
			i++
		}
		return resp
	}
}

// FakeAPI is an httptest server that records requests and answers them
// through a Responder.
type FakeAPI struct {
	server    *httptest.Server
	responder Responder

	mu       sync.Mutex
	requests []RecordedRequest
}

// NewFakeAPI starts a server that is closed when the test completes.
func NewFakeAPI(t *testing.T, responder Responder) *FakeAPI {
	t.Helper()

	f := &FakeAPI{responder: responder}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *FakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	req := RecordedRequest{
		Method:   r.Method,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Header:   r.Header.Clone(),
		Body:     body,
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	resp := f.responder(req)
	if resp.Status == 0 {
		resp.Status = http.StatusOK
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Status)
	_, _ = io.WriteString(w, resp.Body)
}

// URL returns the base URL of the server.
func (f *FakeAPI) URL() string {
	return f.server.URL
}

// Client returns an HTTP client for the server.
func (f *FakeAPI) Client() *http.Client {
	return f.server.Client()
}

// Requests returns the requests received so far.
func (f *FakeAPI) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RecordedRequest, len(f.requests))
	copy(out, f.requests)
	return out
}
