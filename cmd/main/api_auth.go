package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
)

const authSchema = `
CREATE TABLE IF NOT EXISTS api_keys (
    id            INTEGER   PRIMARY KEY,
    key_hash      TEXT      NOT NULL UNIQUE,
    scopes        TEXT      NOT NULL,
    description   TEXT      NOT NULL
);
`

// API key scopes.
const (
	scopeAll           = "*"
	scopeModelRead     = "model:read"
	scopeModelWrite    = "model:write"
	scopeStatsRead     = "stats:read"
	scopeServerConfig  = "server:config"
	scopeServerControl = "server:control"
	scopeAuthManage    = "auth:manage"
)

// ScopeInfo describes a scope a key can be granted.
type ScopeInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// scopeCatalogue lists every grantable scope, in display order.
var scopeCatalogue = []ScopeInfo{
	{scopeAll, "Every permission, including key management"},
	{scopeModelRead, "List, inspect, export and sample word models"},
	{scopeModelWrite, "Create, train, import and delete word models"},
	{scopeStatsRead, "Read usage statistics and version information"},
	{scopeServerConfig, "Read and update the server configuration"},
	{scopeServerControl, "Shut down or restart the server"},
	{scopeAuthManage, "Create, list and revoke API keys"},
}

func isKnownScope(scope string) bool {
	return slices.ContainsFunc(scopeCatalogue, func(s ScopeInfo) bool { return s.Name == scope })
}

type contextKey string

const (
	contextKeyPermissions = contextKey("permissions")
	authHeader            = "logogen-auth"
	apiKeyPrefix          = "lgg_"
	// The first key ever created; it can never be revoked.
	primaryKeyID = 1
)

// Permissions holds the authentication info for a request.
type Permissions struct {
	ScopeSet map[string]struct{}
}

// Allows reports whether the permissions include scope, directly or through the master scope.
func (p *Permissions) Allows(scope string) bool {
	if _, ok := p.ScopeSet[scopeAll]; ok {
		return true
	}
	_, ok := p.ScopeSet[scope]
	return ok
}

// Scopes returns the granted scopes in catalogue order.
func (p *Permissions) Scopes() []string {
	scopes := make([]string, 0, len(p.ScopeSet))
	for _, s := range scopeCatalogue {
		if _, ok := p.ScopeSet[s.Name]; ok {
			scopes = append(scopes, s.Name)
		}
	}
	return scopes
}

func permissionsFromString(scopes string) *Permissions {
	set := make(map[string]struct{})
	for _, s := range strings.Fields(scopes) {
		set[s] = struct{}{}
	}
	return &Permissions{ScopeSet: set}
}

func setupAuthSchema(db *sql.DB) error {
	_, err := db.Exec(authSchema)
	return err
}

// apiKeyStore holds the prepared statements for the api_keys table.
type apiKeyStore struct {
	stmtCount  *sql.Stmt
	stmtLookup *sql.Stmt
	stmtList   *sql.Stmt
	stmtInsert *sql.Stmt
	stmtDelete *sql.Stmt
}

func newAPIKeyStore(db *sql.DB) (*apiKeyStore, error) {
	ks := &apiKeyStore{}
	stmts := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&ks.stmtCount, "SELECT COUNT(*) FROM api_keys"},
		{&ks.stmtLookup, "SELECT scopes FROM api_keys WHERE key_hash = ?"},
		{&ks.stmtList, "SELECT id, description, scopes FROM api_keys ORDER BY id"},
		{&ks.stmtInsert, "INSERT INTO api_keys (key_hash, description, scopes) VALUES (?, ?, ?) RETURNING id"},
		{&ks.stmtDelete, "DELETE FROM api_keys WHERE id = ?"},
	}
	for _, s := range stmts {
		stmt, err := db.Prepare(s.query)
		if err != nil {
			ks.Close()
			return nil, fmt.Errorf("could not prepare %q: %w", s.query, err)
		}
		*s.dst = stmt
	}
	return ks, nil
}

// Close releases every prepared statement.
func (ks *apiKeyStore) Close() {
	for _, stmt := range []*sql.Stmt{ks.stmtCount, ks.stmtLookup, ks.stmtList, ks.stmtInsert, ks.stmtDelete} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

func (ks *apiKeyStore) count(ctx context.Context) (int, error) {
	var n int
	err := ks.stmtCount.QueryRowContext(ctx).Scan(&n)
	return n, err
}

// permissionsFor returns the permissions of the key with the given hash, or
// sql.ErrNoRows when no such key exists.
func (ks *apiKeyStore) permissionsFor(ctx context.Context, keyHash string) (*Permissions, error) {
	var scopes string
	if err := ks.stmtLookup.QueryRowContext(ctx, keyHash).Scan(&scopes); err != nil {
		return nil, err
	}
	return permissionsFromString(scopes), nil
}

func (ks *apiKeyStore) list(ctx context.Context) ([]APIKeyInfo, error) {
	rows, err := ks.stmtList.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	keys := make([]APIKeyInfo, 0)
	for rows.Next() {
		var key APIKeyInfo
		var scopes string
		if err = rows.Scan(&key.ID, &key.Description, &scopes); err != nil {
			return nil, err
		}
		key.Scopes = permissionsFromString(scopes).Scopes()
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (ks *apiKeyStore) insert(ctx context.Context, keyHash, description string, scopes []string) (int, error) {
	var id int
	err := ks.stmtInsert.QueryRowContext(ctx, keyHash, description, strings.Join(scopes, " ")).Scan(&id)
	return id, err
}

// remove deletes a key and reports whether it existed.
func (ks *apiKeyStore) remove(ctx context.Context, id int) (bool, error) {
	res, err := ks.stmtDelete.ExecContext(ctx, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// AuthAPI serves key management and guards the rest of the admin API.
type AuthAPI struct {
	keys   *apiKeyStore
	logger *slog.Logger
}

func NewAuthAPI(db *sql.DB, logger *slog.Logger) (*AuthAPI, error) {
	keys, err := newAPIKeyStore(db)
	if err != nil {
		return nil, err
	}
	return &AuthAPI{keys: keys, logger: logger}, nil
}

// Close releases the key store's statements.
func (a *AuthAPI) Close() {
	a.keys.Close()
}

// RegisterRoutes sets up the routing for all /api/auth endpoints.
func (a *AuthAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/auth/me", a.handleWhoAmI)
	mux.HandleFunc("/api/auth/scopes", a.handleScopes)
	mux.HandleFunc("/api/auth/keys", a.handleKeys)
	mux.HandleFunc("/api/auth/keys/", a.handleRevokeKey)
}

// APIKeyInfo is the structure returned when listing keys.
type APIKeyInfo struct {
	ID          int      `json:"id"`
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
}

// CreateKeyRequest is the expected JSON body for creating a new key.
type CreateKeyRequest struct {
	Scopes      []string `json:"scopes"`
	Description string   `json:"description"`
}

// CreateKeyResponse is the JSON response after creating a key. RawKey is
// only ever shown here.
type CreateKeyResponse struct {
	ID     int      `json:"id"`
	RawKey string   `json:"raw_key"`
	Scopes []string `json:"scopes"`
}

// Authenticate resolves the key in the logogen-auth header into request
// permissions. While no key exists the API is open, so the first key can be created.
func (a *AuthAPI) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, err := a.keys.count(r.Context())
		if err != nil {
			a.logger.Error("Failed to count API keys", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
			return
		}

		var perms *Permissions
		if n == 0 {
			perms = permissionsFromString(scopeAll)
		} else {
			key := r.Header.Get(authHeader)
			if !strings.HasPrefix(key, apiKeyPrefix) {
				respondWithError(w, http.StatusUnauthorized, "Missing or invalid API key")
				return
			}
			perms, err = a.keys.permissionsFor(r.Context(), digestKey(key))
			if errors.Is(err, sql.ErrNoRows) {
				respondWithError(w, http.StatusUnauthorized, "Missing or invalid API key")
				return
			}
			if err != nil {
				a.logger.Error("Failed to look up API key", "error", err)
				respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
				return
			}
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyPermissions, perms)))
	})
}

func (a *AuthAPI) handleKeys(w http.ResponseWriter, r *http.Request) {
	if !requireScope(w, r, scopeAuthManage) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		keys, err := a.keys.list(r.Context())
		if err != nil {
			a.logger.Error("Failed to list API keys", "error", err)
			respondWithError(w, http.StatusInternalServerError, "Database query failed")
			return
		}
		respondWithJSON(w, http.StatusOK, keys)
	case http.MethodPost:
		a.issueKey(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// issueKey creates a key with the requested scopes. The very first key is
// always master, so the operator cannot lock themselves out.
func (a *AuthAPI) issueKey(w http.ResponseWriter, r *http.Request) {
	var req CreateKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	for _, s := range req.Scopes {
		if !isKnownScope(s) {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scope %q", s))
			return
		}
	}

	n, err := a.keys.count(r.Context())
	if err != nil {
		a.logger.Error("Failed to count API keys", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	scopes := permissionsFromString(strings.Join(req.Scopes, " ")).Scopes()
	if n == 0 {
		scopes = []string{scopeAll}
	}
	if len(scopes) == 0 {
		respondWithError(w, http.StatusBadRequest, "At least one scope is required")
		return
	}

	rawKey, err := newRawKey()
	if err != nil {
		a.logger.Error("Failed to generate API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Key generation failed")
		return
	}
	id, err := a.keys.insert(r.Context(), digestKey(rawKey), req.Description, scopes)
	if err != nil {
		a.logger.Error("Failed to store API key", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to save new key")
		return
	}

	a.logger.Info("API key created", "id", id, "scopes", scopes)
	respondWithJSON(w, http.StatusCreated, CreateKeyResponse{ID: id, RawKey: rawKey, Scopes: scopes})
}

func (a *AuthAPI) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", "DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeAuthManage) {
		return
	}
	id, err := strconv.Atoi(strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/auth/keys/"), "/"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid key ID format in URL")
		return
	}
	if id == primaryKeyID {
		respondWithError(w, http.StatusBadRequest, "The primary master key cannot be revoked")
		return
	}

	found, err := a.keys.remove(r.Context(), id)
	if err != nil {
		a.logger.Error("Failed to revoke API key", "id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to delete key")
		return
	}
	if !found {
		respondWithError(w, http.StatusNotFound, "Key not found")
		return
	}
	a.logger.Info("API key revoked", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *AuthAPI) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	perms, ok := r.Context().Value(contextKeyPermissions).(*Permissions)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Missing or invalid API key")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"scopes": perms.Scopes()})
}

// handleScopes lists the scopes keys can be granted. Any authenticated key may read it.
func (a *AuthAPI) handleScopes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	respondWithJSON(w, http.StatusOK, scopeCatalogue)
}

// requireScope writes a 403 response and returns false when the request lacks scope.
func requireScope(w http.ResponseWriter, r *http.Request, scope string) bool {
	perms, ok := r.Context().Value(contextKeyPermissions).(*Permissions)
	if ok && perms.Allows(scope) {
		return true
	}
	respondWithError(w, http.StatusForbidden, fmt.Sprintf("Forbidden: requires '%s' scope", scope))
	return false
}

func newRawKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	return apiKeyPrefix + hex.EncodeToString(b), nil
}

// digestKey is the form a key is stored and looked up in.
func digestKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			slog.Error("Failed to encode JSON response", "error", err)
		}
	}
}
