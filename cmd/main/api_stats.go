package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/CTAG07/Logogen/pkg/store"
)

const statsSchema = `
CREATE TABLE IF NOT EXISTS stats_client (
    ip_address      TEXT    PRIMARY KEY,
    total_requests  INTEGER NOT NULL DEFAULT 1,
    total_words     INTEGER NOT NULL DEFAULT 0,
    first_seen      INTEGER NOT NULL,
    last_seen       INTEGER NOT NULL
);
`

// ClientMetrics is the usage recorded for a single client address.
type ClientMetrics struct {
	IPAddress     string    `json:"ip_address"`
	TotalRequests int       `json:"total_requests"`
	TotalWords    int       `json:"total_words"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
}

// GlobalStatsSummary combines the stored models with public usage counters.
type GlobalStatsSummary struct {
	*store.DBStats
	TotalRequests  int64 `json:"total_requests"`
	WordsGenerated int64 `json:"words_generated"`
	UniqueClients  int64 `json:"unique_clients"`
	CachedModels   int   `json:"cached_models"`
}

// StatsAPI holds the dependencies for the statistics handlers.
type StatsAPI struct {
	db     *sql.DB
	store  *store.Store
	cache  *ModelCache
	logger *slog.Logger
}

func setupStatsSchema(db *sql.DB) error {
	_, err := db.Exec(statsSchema)
	return err
}

func NewStatsAPI(db *sql.DB, st *store.Store, cache *ModelCache, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		db:     db,
		store:  st,
		cache:  cache,
		logger: logger,
	}
}

func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/stats", s.handleSummary)
	mux.HandleFunc("/api/stats/top_clients", s.handleTopClients)
}

// RecordGeneration is called by the public generate handler after a successful
// response. It bumps the client's counters and returns its updated metrics.
func (s *StatsAPI) RecordGeneration(ctx context.Context, ip string, words int) (*ClientMetrics, error) {
	now := time.Now().Unix()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	_, err = tx.ExecContext(ctx, `
        INSERT INTO stats_client (ip_address, total_words, first_seen, last_seen) VALUES (?, ?, ?, ?)
        ON CONFLICT(ip_address) DO UPDATE SET
            total_requests = total_requests + 1,
            total_words = total_words + excluded.total_words,
            last_seen = excluded.last_seen
    `, ip, words, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert stats_client: %w", err)
	}

	metrics := &ClientMetrics{IPAddress: ip}
	var first, last int64
	err = tx.QueryRowContext(ctx,
		"SELECT total_requests, total_words, first_seen, last_seen FROM stats_client WHERE ip_address = ?", ip,
	).Scan(&metrics.TotalRequests, &metrics.TotalWords, &first, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve updated stats_client: %w", err)
	}
	metrics.FirstSeen = time.Unix(first, 0).UTC()
	metrics.LastSeen = time.Unix(last, 0).UTC()

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit stats transaction: %w", err)
	}
	return metrics, nil
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeStatsRead) {
		return
	}

	dbStats, err := s.store.GetStats(r.Context())
	if err != nil {
		s.logger.Error("Failed to get model stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}

	summary := GlobalStatsSummary{DBStats: dbStats, CachedModels: s.cache.Len()}
	err = s.db.QueryRowContext(r.Context(),
		"SELECT COALESCE(SUM(total_requests), 0), COALESCE(SUM(total_words), 0), COUNT(*) FROM stats_client",
	).Scan(&summary.TotalRequests, &summary.WordsGenerated, &summary.UniqueClients)
	if err != nil {
		s.logger.Error("Failed to get client stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (s *StatsAPI) handleTopClients(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeStatsRead) {
		return
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			respondWithError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	rows, err := s.db.QueryContext(r.Context(),
		"SELECT ip_address, total_requests, total_words, first_seen, last_seen FROM stats_client ORDER BY total_requests DESC, ip_address LIMIT ?",
		limit)
	if err != nil {
		s.logger.Error("Failed to query top clients", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	results := []ClientMetrics{}
	for rows.Next() {
		var c ClientMetrics
		var first, last int64
		if err = rows.Scan(&c.IPAddress, &c.TotalRequests, &c.TotalWords, &first, &last); err != nil {
			s.logger.Error("Failed to scan top clients", "error", err)
			continue
		}
		c.FirstSeen = time.Unix(first, 0).UTC()
		c.LastSeen = time.Unix(last, 0).UTC()
		results = append(results, c)
	}
	if err = rows.Err(); err != nil {
		s.logger.Error("Failed to iterate top clients", "error", err)
	}
	respondWithJSON(w, http.StatusOK, results)
}
