package testutil

import (
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/glebarez/sqlite"

	"bunkrgrab/internal/config"
	"bunkrgrab/internal/state"
)

// MockHTTPServer serves canned responses keyed by request path.
type MockHTTPServer struct {
	*httptest.Server
	Responses map[string]MockResponse
	Hits      map[string]int
}

// MockResponse represents a canned HTTP response
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// NewMockHTTPServer creates a new mock HTTP server
func NewMockHTTPServer() *MockHTTPServer {
	ms := &MockHTTPServer{
		Responses: make(map[string]MockResponse),
		Hits:      make(map[string]int),
	}

	ms.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if r.URL.RawQuery != "" {
			key += "?" + r.URL.RawQuery
		}

		resp, ok := ms.Responses[key]
		if !ok {
			resp, ok = ms.Responses[r.URL.Path]
		}
		ms.Hits[r.URL.Path]++

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = fmt.Fprintf(w, "No mock response configured for %s", key)
			return
		}

		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = fmt.Fprint(w, resp.Body)
	}))

	return ms
}

// AddResponse adds a canned response for a specific path
func (ms *MockHTTPServer) AddResponse(path string, response MockResponse) {
	ms.Responses[path] = response
}

// AddHTMLResponse adds a 200 text/html response for a specific path
func (ms *MockHTTPServer) AddHTMLResponse(path, body string) {
	ms.Responses[path] = MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "text/html; charset=utf-8",
		},
	}
}

// TestDB creates an in-memory history database for testing
func TestDB(t *testing.T) *state.DB {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	db := &state.DB{SQL: sqlDB}
	if err := db.InitSchema(); err != nil {
		t.Fatalf("failed to initialize test schema: %v", err)
	}
	t.Cleanup(func() {
		if err := sqlDB.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})
	return db
}

// TestConfig returns defaults tuned for fast tests: one retry, millisecond
// backoff, temp directories.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.General.DownloadRoot = t.TempDir()
	cfg.General.DataRoot = t.TempDir()
	cfg.Concurrency.MaxRetries = 2
	cfg.Concurrency.Backoff.MinMS = 1
	cfg.Concurrency.Backoff.MaxMS = 5
	cfg.Concurrency.HostRPS = 1000
	cfg.Network.TimeoutSeconds = 5
	return cfg
}
