package airtable

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ajitpratap0/airbridge/pkg/errors"
	jsonpool "github.com/ajitpratap0/airbridge/pkg/json"
)

// iteratorNotAvailable is the error code sent with HTTP 422 when an offset
// cursor has expired and the scan must start over.
const iteratorNotAvailable = "LIST_RECORDS_ITERATOR_NOT_AVAILABLE"

// ErrIteratorInvalidated matches any *IteratorInvalidatedError via errors.Is.
var ErrIteratorInvalidated = stderrors.New("airtable: list records iterator not available")

// HTTPError is returned for every non-2xx response other than a 429 that was
// successfully retried.
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	msg := strings.TrimSpace(string(e.Body))
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	if msg == "" {
		return fmt.Sprintf("airtable: %s %s: %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("airtable: %s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode), msg)
}

// ErrorType is rate_limit for a 429 and http otherwise.
func (e *HTTPError) ErrorType() errors.ErrorType {
	if e.RateLimited() {
		return errors.ErrorTypeRateLimit
	}
	return errors.ErrorTypeHTTP
}

// RateLimited reports whether the request ran out of 429 retries.
func (e *HTTPError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IteratorInvalidatedError means every chunk yielded so far by the current
// scan is unusable; the caller must discard them and restart from the start.
type IteratorInvalidatedError struct {
	Table string
	Cause *HTTPError
}

func (e *IteratorInvalidatedError) Error() string {
	return fmt.Sprintf("airtable: list records iterator not available for table %q", e.Table)
}

// ErrorType is always iterator; the scan can be retried from the start.
func (e *IteratorInvalidatedError) ErrorType() errors.ErrorType {
	return errors.ErrorTypeIterator
}

// Is lets errors.Is(err, ErrIteratorInvalidated) match.
func (e *IteratorInvalidatedError) Is(target error) bool {
	return target == ErrIteratorInvalidated
}

func (e *IteratorInvalidatedError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// isIteratorError reports whether err signals an expired list iterator. The
// error member may be a bare code string or an object with type/message.
func isIteratorError(err *HTTPError) bool {
	if err.StatusCode != http.StatusUnprocessableEntity {
		return false
	}
	var payload struct {
		Error interface{} `json:"error"`
	}
	if jsonpool.GetDecoder(bytes.NewReader(err.Body)).Decode(&payload) != nil {
		return false
	}
	switch e := payload.Error.(type) {
	case string:
		return strings.Contains(e, iteratorNotAvailable)
	case map[string]interface{}:
		for _, key := range []string{"type", "message"} {
			if s, ok := e[key].(string); ok && strings.Contains(s, iteratorNotAvailable) {
				return true
			}
		}
	}
	return false
}
