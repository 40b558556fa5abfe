package main

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/CTAG07/Logogen/pkg/markov"
	"github.com/CTAG07/Logogen/pkg/store"
)

var frenchWords = []string{"chat", "chien", "cheval"}

func createFrenchModel(t *testing.T, s *Server, key string) store.ModelInfo {
	t.Helper()
	rec := doRequest(t, s.apiMux, http.MethodPost, "/api/models",
		CreateModelRequest{Name: "fr", TopK: 6, Words: frenchWords}, key)
	expectStatus(t, rec, http.StatusCreated)
	var info store.ModelInfo
	decodeBody(t, rec, &info)
	return info
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.apiMux, http.MethodGet, "/api/health", nil, "")
	expectStatus(t, rec, http.StatusOK)
}

func TestCreateAndGetModel(t *testing.T) {
	s := newTestServer(t)
	info := createFrenchModel(t, s, "")

	if info.Name != "fr" || info.WordCount != 3 || info.TopK != 6 || info.BuildID == "" {
		t.Fatalf("unexpected model info: %+v", info)
	}

	rec := doRequest(t, s.apiMux, http.MethodGet, "/api/models/fr", nil, "")
	expectStatus(t, rec, http.StatusOK)
	var got store.ModelInfo
	decodeBody(t, rec, &got)
	if got.BuildID != info.BuildID {
		t.Errorf("expected build id %s, got %s", info.BuildID, got.BuildID)
	}

	rec = doRequest(t, s.apiMux, http.MethodGet, "/api/models", nil, "")
	expectStatus(t, rec, http.StatusOK)
	var list []store.ModelInfo
	decodeBody(t, rec, &list)
	if len(list) != 1 || list[0].Name != "fr" {
		t.Fatalf("expected one model named fr, got %+v", list)
	}

	rec = doRequest(t, s.apiMux, http.MethodGet, "/api/models/fr/stats", nil, "")
	expectStatus(t, rec, http.StatusOK)
	var stats markov.ModelStats
	decodeBody(t, rec, &stats)
	if stats.StartSymbols != 1 {
		t.Errorf("expected 1 start symbol, got %d", stats.StartSymbols)
	}
}

func TestCreateModelRejectsBadNames(t *testing.T) {
	s := newTestServer(t)
	for _, name := range []string{"", "import", "has space", "semi;colon"} {
		rec := doRequest(t, s.apiMux, http.MethodPost, "/api/models",
			CreateModelRequest{Name: name, Words: frenchWords}, "")
		expectStatus(t, rec, http.StatusBadRequest)
	}
}

func TestTrainFromTextBody(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.apiMux, http.MethodPost, "/api/models/en/train?top_k=3",
		"Hello\nworld\n\n  help  \nx\n", "")
	expectStatus(t, rec, http.StatusCreated)

	var info store.ModelInfo
	decodeBody(t, rec, &info)
	if info.WordCount != 3 {
		t.Errorf("expected 3 training words, got %d", info.WordCount)
	}
	if info.TopK != 3 {
		t.Errorf("expected top_k 3, got %d", info.TopK)
	}

	rec = doRequest(t, s.apiMux, http.MethodPost, "/api/models/en/train?top_k=abc", "hello", "")
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestAdminGenerateIsDeterministicWithSeed(t *testing.T) {
	s := newTestServer(t)
	info := createFrenchModel(t, s, "")

	generate := func() GenerateResponse {
		rec := doRequest(t, s.apiMux, http.MethodGet, "/api/models/fr/generate?length=5&count=4&seed=42", nil, "")
		expectStatus(t, rec, http.StatusOK)
		var resp GenerateResponse
		decodeBody(t, rec, &resp)
		return resp
	}

	first, second := generate(), generate()
	if !reflect.DeepEqual(first.Words, second.Words) {
		t.Fatalf("seeded generation differs: %v vs %v", first.Words, second.Words)
	}
	if first.BuildID != info.BuildID {
		t.Errorf("expected build id %s, got %s", info.BuildID, first.BuildID)
	}
	for _, w := range first.Words {
		if len(w) != 5 || !strings.HasPrefix(w, "ch") {
			t.Errorf("unexpected word %q", w)
		}
	}

	tests := []struct {
		name  string
		query string
	}{
		{"too short", "length=1"},
		{"too long", "length=25"},
		{"bad count", "count=0"},
		{"bad seed", "seed=-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s.apiMux, http.MethodGet, "/api/models/fr/generate?"+tt.query, nil, "")
			expectStatus(t, rec, http.StatusBadRequest)
		})
	}
}

func TestPublicGenerate(t *testing.T) {
	s := newTestServer(t)
	createFrenchModel(t, s, "")

	rec := doRequest(t, s.publicMux, http.MethodGet, "/generate?model=fr&length=6&count=2", nil, "")
	expectStatus(t, rec, http.StatusOK)
	var resp PublicGenerateResponse
	decodeBody(t, rec, &resp)
	if len(resp.Words) != 2 {
		t.Fatalf("expected 2 words, got %v", resp.Words)
	}
	for _, w := range resp.Words {
		if len(w) != 6 || !strings.HasPrefix(w, "ch") {
			t.Errorf("unexpected word %q", w)
		}
	}

	// The default model does not exist yet.
	rec = doRequest(t, s.publicMux, http.MethodGet, "/generate", nil, "")
	expectStatus(t, rec, http.StatusNotFound)

	rec = doRequest(t, s.publicMux, http.MethodGet, "/generate?model=fr&length=1", nil, "")
	expectStatus(t, rec, http.StatusBadRequest)

	rec = doRequest(t, s.publicMux, http.MethodPost, "/generate?model=fr", nil, "")
	expectStatus(t, rec, http.StatusMethodNotAllowed)

	rec = doRequest(t, s.publicMux, http.MethodGet, "/favicon.ico", nil, "")
	expectStatus(t, rec, http.StatusNoContent)
}

func TestPublicGenerateRecordsStats(t *testing.T) {
	s := newTestServer(t)
	createFrenchModel(t, s, "")

	for i := 0; i < 2; i++ {
		rec := doRequest(t, s.publicMux, http.MethodGet, "/generate?model=fr&count=3", nil, "")
		expectStatus(t, rec, http.StatusOK)
	}

	rec := doRequest(t, s.apiMux, http.MethodGet, "/api/stats", nil, "")
	expectStatus(t, rec, http.StatusOK)
	var summary GlobalStatsSummary
	decodeBody(t, rec, &summary)
	if summary.TotalRequests != 2 || summary.WordsGenerated != 6 || summary.UniqueClients != 1 {
		t.Errorf("unexpected usage counters: %+v", summary)
	}
	if summary.DBStats == nil || summary.ModelCount != 1 || summary.TotalWords != 3 {
		t.Errorf("unexpected model stats: %+v", summary.DBStats)
	}

	rec = doRequest(t, s.apiMux, http.MethodGet, "/api/stats/top_clients?limit=5", nil, "")
	expectStatus(t, rec, http.StatusOK)
	var clients []ClientMetrics
	decodeBody(t, rec, &clients)
	if len(clients) != 1 || clients[0].TotalRequests != 2 || clients[0].TotalWords != 6 {
		t.Errorf("unexpected top clients: %+v", clients)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	s := newTestServer(t)
	createFrenchModel(t, s, "")

	rec := doRequest(t, s.apiMux, http.MethodGet, "/api/models/fr/export", nil, "")
	expectStatus(t, rec, http.StatusOK)
	exported := rec.Body.Bytes()

	rec = doRequest(t, s.apiMux, http.MethodPost, "/api/models/import?name=copy", exported, "")
	expectStatus(t, rec, http.StatusCreated)

	original, _, err := s.cache.Get(t.Context(), "fr")
	if err != nil {
		t.Fatalf("cache.Get(fr) failed: %v", err)
	}
	s.cache.Invalidate("copy")
	imported, _, err := s.cache.Get(t.Context(), "copy")
	if err != nil {
		t.Fatalf("cache.Get(copy) failed: %v", err)
	}
	if !reflect.DeepEqual(original, imported) {
		t.Error("imported model differs from the exported one")
	}

	rec = doRequest(t, s.apiMux, http.MethodPost, "/api/models/import?name=broken",
		`{"alphabet":"abcdefghijklmnopqrstuvwxyz","top_k":6}`, "")
	expectStatus(t, rec, http.StatusBadRequest)

	rec = doRequest(t, s.apiMux, http.MethodPost, "/api/models/import", exported, "")
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestDeleteModel(t *testing.T) {
	s := newTestServer(t)
	createFrenchModel(t, s, "")

	// Warm the cache so the delete has to invalidate it.
	rec := doRequest(t, s.publicMux, http.MethodGet, "/generate?model=fr", nil, "")
	expectStatus(t, rec, http.StatusOK)

	rec = doRequest(t, s.apiMux, http.MethodDelete, "/api/models/fr", nil, "")
	expectStatus(t, rec, http.StatusNoContent)

	rec = doRequest(t, s.apiMux, http.MethodGet, "/api/models/fr", nil, "")
	expectStatus(t, rec, http.StatusNotFound)

	rec = doRequest(t, s.publicMux, http.MethodGet, "/generate?model=fr", nil, "")
	expectStatus(t, rec, http.StatusNotFound)

	rec = doRequest(t, s.apiMux, http.MethodDelete, "/api/models/fr", nil, "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	// While no key exists the API is open and the first key becomes master.
	rec := doRequest(t, s.apiMux, http.MethodPost, "/api/auth/keys",
		CreateKeyRequest{Scopes: []string{scopeModelRead}, Description: "admin"}, "")
	expectStatus(t, rec, http.StatusCreated)
	var master CreateKeyResponse
	decodeBody(t, rec, &master)
	if !reflect.DeepEqual(master.Scopes, []string{"*"}) {
		t.Fatalf("expected the first key to be master, got %v", master.Scopes)
	}
	if !strings.HasPrefix(master.RawKey, "lgg_") {
		t.Errorf("unexpected key format %q", master.RawKey)
	}

	rec = doRequest(t, s.apiMux, http.MethodGet, "/api/models", nil, "")
	expectStatus(t, rec, http.StatusUnauthorized)
	rec = doRequest(t, s.apiMux, http.MethodGet, "/api/models", nil, "lgg_wrong")
	expectStatus(t, rec, http.StatusUnauthorized)

	// Health stays open.
	rec = doRequest(t, s.apiMux, http.MethodGet, "/api/health", nil, "")
	expectStatus(t, rec, http.StatusOK)

	createFrenchModel(t, s, master.RawKey)

	rec = doRequest(t, s.apiMux, http.MethodPost, "/api/auth/keys",
		CreateKeyRequest{Scopes: []string{"bogus:scope"}}, master.RawKey)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = doRequest(t, s.apiMux, http.MethodPost, "/api/auth/keys",
		CreateKeyRequest{Scopes: []string{scopeModelRead}, Description: "reader"}, master.RawKey)
	expectStatus(t, rec, http.StatusCreated)
	var reader CreateKeyResponse
	decodeBody(t, rec, &reader)

	rec = doRequest(t, s.apiMux, http.MethodGet, "/api/models/fr/generate?seed=1", nil, reader.RawKey)
	expectStatus(t, rec, http.StatusOK)
	rec = doRequest(t, s.apiMux, http.MethodDelete, "/api/models/fr", nil, reader.RawKey)
	expectStatus(t, rec, http.StatusForbidden)
	rec = doRequest(t, s.apiMux, http.MethodGet, "/api/auth/keys", nil, reader.RawKey)
	expectStatus(t, rec, http.StatusForbidden)

	rec = doRequest(t, s.apiMux, http.MethodGet, "/api/auth/keys", nil, master.RawKey)
	expectStatus(t, rec, http.StatusOK)
	var keys []APIKeyInfo
	decodeBody(t, rec, &keys)
	if len(keys) != 2 {
		t.Errorf("expected 2 keys, got %d", len(keys))
	}
}

func TestServerConfigEndpoint(t *testing.T) {
	s := newTestServer(t)
	createFrenchModel(t, s, "")

	cfg := s.cm.Get()
	cfg.Model.MaxCount = 0
	rec := doRequest(t, s.apiMux, http.MethodPut, "/api/server/config", cfg, "")
	expectStatus(t, rec, http.StatusBadRequest)

	cfg.Model.MaxCount = 5
	rec = doRequest(t, s.apiMux, http.MethodPut, "/api/server/config", cfg, "")
	expectStatus(t, rec, http.StatusOK)

	rec = doRequest(t, s.publicMux, http.MethodGet, "/generate?model=fr&count=6", nil, "")
	expectStatus(t, rec, http.StatusBadRequest)
	rec = doRequest(t, s.publicMux, http.MethodGet, "/generate?model=fr&count=5", nil, "")
	expectStatus(t, rec, http.StatusOK)

	rec = doRequest(t, s.apiMux, http.MethodGet, "/api/server/version", nil, "")
	expectStatus(t, rec, http.StatusOK)
	var version VersionInfo
	decodeBody(t, rec, &version)
	if version.Version != Version {
		t.Errorf("expected version %s, got %s", Version, version.Version)
	}
}

func TestServerActions(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s.apiMux, http.MethodGet, "/api/server/restart", nil, "")
	expectStatus(t, rec, http.StatusMethodNotAllowed)

	rec = doRequest(t, s.apiMux, http.MethodPost, "/api/server/restart", nil, "")
	expectStatus(t, rec, http.StatusAccepted)
	if action := <-s.serverAPI.actionChan; action != actionRestart {
		t.Errorf("expected %q, got %q", actionRestart, action)
	}
}

func TestGetClientIP(t *testing.T) {
	s := newTestServer(t)
	cfg := s.cm.Get()
	cfg.Server.TrustedProxies = []string{"10.0.0.0/8"}
	if err := s.cm.Update(cfg); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		want       string
	}{
		{"direct", "203.0.113.7:1234", nil, "203.0.113.7"},
		{"untrusted forwarder", "203.0.113.7:1234", map[string]string{"X-Forwarded-For": "198.51.100.1"}, "203.0.113.7"},
		{"trusted real ip", "10.1.2.3:80", map[string]string{"X-Real-Ip": "198.51.100.2"}, "198.51.100.2"},
		{"trusted forwarded for", "10.1.2.3:80", map[string]string{"X-Forwarded-For": "198.51.100.3, 10.1.2.3"}, "198.51.100.3"},
		{"trusted without headers", "10.1.2.3:80", nil, "10.1.2.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/generate", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := s.getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
