package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}

// RequireEnv skips the test unless every variable in keys is set, and
// returns their values in order.
func RequireEnv(t *testing.T, keys ...string) []string {
	t.Helper()

	values := make([]string, len(keys))
	for i, key := range keys {
		v := os.Getenv(key)
		if v == "" {
			t.Skipf("Skipping test: %s not set", key)
		}
		values[i] = v
	}
	return values
}

// SQLiteDSN returns a DSN for a fresh database file inside the test's temp
// directory. The file is removed when the test completes.
func SQLiteDSN(t *testing.T) string {
	t.Helper()
	return "file:" + filepath.Join(t.TempDir(), "warehouse.db") + "?_pragma=busy_timeout(5000)"
}
