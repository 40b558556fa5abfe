package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/CTAG07/Logogen/pkg/store"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// newTestServer builds a full server on a temporary config file and database.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	cm, err := NewConfigManager(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatalf("NewConfigManager() failed: %v", err)
	}
	cm.SetLogger(discardLogger)

	db, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	if err = store.SetupSchema(db); err != nil {
		t.Fatalf("store.SetupSchema() failed: %v", err)
	}
	if err = setupAuthSchema(db); err != nil {
		t.Fatalf("setupAuthSchema() failed: %v", err)
	}
	if err = setupStatsSchema(db); err != nil {
		t.Fatalf("setupStatsSchema() failed: %v", err)
	}

	s, err := NewServer(cm, discardLogger, db, make(chan string, 1))
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		_ = db.Close()
	})
	return s
}

// doRequest sends a request to handler and returns the recorded response.
// body may be nil, a string or any value to be encoded as JSON.
func doRequest(t *testing.T, handler http.Handler, method, target string, body any, key string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	if key != "" {
		req.Header.Set(authHeader, key)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d (body: %s)", want, rec.Code, rec.Body.String())
	}
}
