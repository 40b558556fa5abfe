package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

const (
	actionShutdown = "shutdown"
	actionRestart  = "restart"
)

// ServerAPI holds the dependencies for the main application API handlers.
type ServerAPI struct {
	cm         *ConfigManager
	actionChan chan string
	logger     *slog.Logger
}

// VersionInfo defines the structure for build/version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// NewServerAPI creates a new instance of the ServerAPI.
func NewServerAPI(cm *ConfigManager, actionChan chan string, logger *slog.Logger) *ServerAPI {
	return &ServerAPI{
		cm:         cm,
		actionChan: actionChan,
		logger:     logger,
	}
}

// RegisterRoutes sets up the routing for all /api/server endpoints.
func (a *ServerAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/server/config", a.handleConfig)
	mux.HandleFunc("/api/server/version", a.handleVersion)
	mux.HandleFunc("/api/server/shutdown", a.handleShutdown)
	mux.HandleFunc("/api/server/restart", a.handleRestart)
}

// handleConfig gets or updates the main server configuration.
func (a *ServerAPI) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeServerConfig) {
			return
		}
		respondWithJSON(w, http.StatusOK, a.cm.Get())
	case http.MethodPut:
		if !requireScope(w, r, scopeServerConfig) {
			return
		}
		var newConfig Config
		if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}

		if err := a.cm.Update(newConfig); err != nil {
			a.logger.Error("Failed to update config", "error", err)
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Failed to update configuration: %v", err))
			return
		}

		a.logger.Info("Application configuration updated and saved via API. Listener and database changes require a restart.")
		respondWithJSON(w, http.StatusOK, a.cm.Get())
	default:
		w.Header().Set("Allow", "GET, PUT")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleVersion returns the application's build information.
func (a *ServerAPI) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeStatsRead) {
		return
	}

	info := VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}
	respondWithJSON(w, http.StatusOK, info)
}

// handleHealthCheck is unauthenticated so container runtimes can probe it.
func (a *ServerAPI) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleShutdown initiates a graceful shutdown of the server.
func (a *ServerAPI) handleShutdown(w http.ResponseWriter, r *http.Request) {
	a.handleAction(w, r, actionShutdown, "Server is shutting down...")
}

// handleRestart initiates a graceful restart of the server.
func (a *ServerAPI) handleRestart(w http.ResponseWriter, r *http.Request) {
	a.handleAction(w, r, actionRestart, "Server is restarting...")
}

func (a *ServerAPI) handleAction(w http.ResponseWriter, r *http.Request, action, message string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeServerControl) {
		return
	}

	a.logger.Warn("Server action initiated via API", "action", action)
	respondWithJSON(w, http.StatusAccepted, map[string]string{"message": message})

	go func() {
		a.actionChan <- action
	}()
}
