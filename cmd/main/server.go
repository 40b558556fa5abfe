package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/CTAG07/Logogen/pkg/markov"
	"github.com/CTAG07/Logogen/pkg/store"
)

// Server wires the store, the model cache and every API onto two muxes: the
// public word generator and the authenticated admin API.
type Server struct {
	cm        *ConfigManager
	db        *sql.DB
	logger    *slog.Logger
	store     *store.Store
	cache     *ModelCache
	authAPI   *AuthAPI
	modelAPI  *ModelAPI
	statsAPI  *StatsAPI
	serverAPI *ServerAPI
	publicMux *http.ServeMux
	apiMux    *http.ServeMux
}

// PublicGenerateResponse is the body served by the public /generate endpoint.
type PublicGenerateResponse struct {
	Words []string `json:"words"`
}

func NewServer(cm *ConfigManager, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {

	st, err := store.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("error creating model store: %w", err)
	}
	st.SetLogger(logger)
	cache := NewModelCache(st)

	// api initialization
	authAPI, err := NewAuthAPI(db, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("error creating auth api: %w", err)
	}
	modelAPI := NewModelAPI(st, cache, cm, logger)
	statsAPI := NewStatsAPI(db, st, cache, logger)
	serverAPI := NewServerAPI(cm, actionChan, logger)

	server := &Server{
		cm:        cm,
		db:        db,
		logger:    logger,
		store:     st,
		cache:     cache,
		authAPI:   authAPI,
		modelAPI:  modelAPI,
		statsAPI:  statsAPI,
		serverAPI: serverAPI,
		publicMux: http.NewServeMux(),
		apiMux:    http.NewServeMux(),
	}

	apiMux := http.NewServeMux()

	server.authAPI.RegisterRoutes(apiMux)
	server.modelAPI.RegisterRoutes(apiMux)
	server.statsAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Make sure api functions must pass through authentication first
	authedAPI := server.authAPI.Authenticate(apiMux)
	// ... except for the health check, which is unauthed so something like docker can use it
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.apiMux.Handle("/api/", authedAPI)

	server.publicMux.HandleFunc("/favicon.ico", handleFavicon)
	server.publicMux.HandleFunc("/generate", server.handleGenerate)

	return server, nil
}

// Close releases the prepared statements held by the store and the key store.
func (s *Server) Close() {
	s.authAPI.Close()
	s.store.Close()
}

// handleGenerate serves words from a stored model to anonymous clients. Unlike
// the admin endpoint it never accepts a seed.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	cfg := s.cm.Get().Model
	q := r.URL.Query()

	modelName := q.Get("model")
	if modelName == "" {
		modelName = cfg.DefaultModel
	}
	if !validModelName(modelName) {
		respondWithError(w, http.StatusBadRequest, "Invalid model name")
		return
	}

	length, err := intParam(q.Get("length"), cfg.DefaultLength)
	if err != nil || length < markov.MinWordLength || length > cfg.MaxLength {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("length must be between %d and %d", markov.MinWordLength, cfg.MaxLength))
		return
	}
	count, err := intParam(q.Get("count"), 1)
	if err != nil || count < 1 || count > cfg.MaxCount {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", cfg.MaxCount))
		return
	}

	model, _, err := s.cache.Get(r.Context(), modelName)
	if err != nil {
		if errors.Is(err, store.ErrModelNotFound) {
			respondWithError(w, http.StatusNotFound, "Model not found")
			return
		}
		s.logger.Error("Failed to load model for public generation", "model_name", modelName, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	words, err := model.GenerateN(markov.FreshRand(), count, length)
	if err != nil {
		s.logger.Error("Failed to generate words", "model_name", modelName, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	ipAddr := s.getClientIP(r)
	if _, err = s.statsAPI.RecordGeneration(r.Context(), ipAddr, len(words)); err != nil {
		s.logger.Warn("Failed to record generation stats", "remote_addr", ipAddr, "error", err)
	}
	s.logger.Info("Serving generated words",
		"model_name", modelName,
		"remote_addr", ipAddr,
		"length", length,
		"count", count)

	w.Header().Set("Cache-Control", "no-store")
	respondWithJSON(w, http.StatusOK, PublicGenerateResponse{Words: words})
}

// getClientIP returns the client address, honouring forwarding headers only
// when the direct peer is a trusted proxy.
func (s *Server) getClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// If splitting fails (e.g., no port), use the address as is.
		ip = r.RemoteAddr
	}
	if !s.cm.IsTrusted(ip) {
		return ip
	}

	// The X-Real-Ip header contains the forwarded IP in some cases (like from nginx)
	if realIP := r.Header.Get("X-Real-Ip"); realIP != "" {
		return realIP
	}

	// The first IP in X-Forwarded-For is the original client.
	if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
		ips := strings.Split(forwardedFor, ",")
		return strings.TrimSpace(ips[0])
	}
	return ip
}

// handleFavicon returns no content so browsers hitting the public port do not
// show up as errors in the logs.
func handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
