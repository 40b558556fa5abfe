package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/CTAG07/Logogen/pkg/markov"
	"github.com/CTAG07/Logogen/pkg/store"
)

// modelNamePattern restricts model names to something safe in URLs and file names.
var modelNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ModelAPI holds the dependencies for the model API handlers.
type ModelAPI struct {
	store  *store.Store
	cache  *ModelCache
	cm     *ConfigManager
	logger *slog.Logger
}

// NewModelAPI creates a new instance of the ModelAPI.
func NewModelAPI(st *store.Store, cache *ModelCache, cm *ConfigManager, logger *slog.Logger) *ModelAPI {
	return &ModelAPI{
		store:  st,
		cache:  cache,
		cm:     cm,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/models endpoints.
func (m *ModelAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/models", m.handleListAndCreateModels)
	mux.HandleFunc("/api/models/import", m.handleImport)
	mux.HandleFunc("/api/models/", m.handleModelByName)
}

// CreateModelRequest is the JSON body for building a model from a word list.
type CreateModelRequest struct {
	Name  string   `json:"name"`
	TopK  int      `json:"top_k"`
	Words []string `json:"words"`
}

// GenerateResponse is the JSON response of the generation endpoints.
type GenerateResponse struct {
	Model   string   `json:"model"`
	BuildID string   `json:"build_id"`
	Length  int      `json:"length"`
	Words   []string `json:"words"`
}

// handleListAndCreateModels handles GET for listing and POST for creating models.
func (m *ModelAPI) handleListAndCreateModels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeModelRead) {
			return
		}
		models, err := m.store.GetModelInfos(r.Context())
		if err != nil {
			m.logger.Error("Failed to get model infos", "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve models: %v", err))
			return
		}
		respondWithJSON(w, http.StatusOK, models)

	case http.MethodPost:
		if !requireScope(w, r, scopeModelWrite) {
			return
		}
		var req CreateModelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
			return
		}
		if !validModelName(req.Name) {
			respondWithError(w, http.StatusBadRequest, "A model name of letters, digits, '-' or '_' is required")
			return
		}
		topK := req.TopK
		if topK == 0 {
			topK = m.cm.Get().Model.TopK
		}

		words := markov.NormalizeLines(req.Words)
		model := markov.BuildDistributions(markov.CountWords(words), topK)
		m.saveAndRespond(w, r, req.Name, model, len(words))

	default:
		w.Header().Set("Allow", "GET, POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleModelByName routes actions for a specific model, e.g., train, generate, export, delete.
func (m *ModelAPI) handleModelByName(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/models/")
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	modelName := parts[0]

	if !validModelName(modelName) {
		respondWithError(w, http.StatusBadRequest, "Model name not specified or invalid")
		return
	}

	if len(parts) == 1 { // Path is just /api/models/{name}
		switch r.Method {
		case http.MethodGet:
			if !requireScope(w, r, scopeModelRead) {
				return
			}
			info, err := m.store.GetModelInfo(r.Context(), modelName)
			if err != nil {
				m.respondWithStoreError(w, modelName, err)
				return
			}
			respondWithJSON(w, http.StatusOK, info)
		case http.MethodDelete:
			if !requireScope(w, r, scopeModelWrite) {
				return
			}
			info, err := m.store.GetModelInfo(r.Context(), modelName)
			if err != nil {
				m.respondWithStoreError(w, modelName, err)
				return
			}
			if err = m.store.RemoveModel(r.Context(), info); err != nil {
				m.logger.Error("Failed to remove model", "name", modelName, "error", err)
				respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to remove model: %v", err))
				return
			}
			m.cache.Invalidate(modelName)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Allow", "GET, DELETE")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
		return
	}

	action := parts[1]
	switch action {
	case "train":
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if !requireScope(w, r, scopeModelWrite) {
			return
		}
		topK := m.cm.Get().Model.TopK
		if v := r.URL.Query().Get("top_k"); v != "" {
			k, err := strconv.Atoi(v)
			if err != nil {
				respondWithError(w, http.StatusBadRequest, "top_k must be an integer")
				return
			}
			topK = k
		}

		model, words, err := markov.Train(r.Context(), r.Body, markov.WithTopK(topK), markov.WithLogger(m.logger))
		if err != nil {
			m.logger.Error("Failed to train model", "name", modelName, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Training failed: %v", err))
			return
		}
		m.saveAndRespond(w, r, modelName, model, words)

	case "generate":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if !requireScope(w, r, scopeModelRead) {
			return
		}
		m.handleGenerate(w, r, modelName, true)

	case "export":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if !requireScope(w, r, scopeModelRead) {
			return
		}
		model, _, err := m.cache.Get(r.Context(), modelName)
		if err != nil {
			m.respondWithStoreError(w, modelName, err)
			return
		}
		var buf bytes.Buffer
		if err = model.ExportJSON(&buf); err != nil {
			m.logger.Error("Failed to export model", "name", modelName, "error", err)
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Export failed: %v", err))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.json\"", modelName))
		_, _ = buf.WriteTo(w)

	case "stats":
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", "GET")
			respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		if !requireScope(w, r, scopeModelRead) {
			return
		}
		model, _, err := m.cache.Get(r.Context(), modelName)
		if err != nil {
			m.respondWithStoreError(w, modelName, err)
			return
		}
		respondWithJSON(w, http.StatusOK, model.Stats())

	default:
		respondWithError(w, http.StatusNotFound, "Action not found")
	}
}

// handleImport stores a model uploaded in the JSON export format under ?name=.
func (m *ModelAPI) handleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !requireScope(w, r, scopeModelWrite) {
		return
	}
	name := r.URL.Query().Get("name")
	if !validModelName(name) {
		respondWithError(w, http.StatusBadRequest, "A valid ?name= is required")
		return
	}

	model, err := markov.ImportJSON(r.Body)
	if err != nil {
		m.logger.Warn("Rejected model import", "name", name, "error", err)
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Import failed: %v", err))
		return
	}
	m.saveAndRespond(w, r, name, model, 0)
}

// handleGenerate generates words from a cached model. Seeds are only honoured
// when allowSeed is set, which the public endpoint does not do.
func (m *ModelAPI) handleGenerate(w http.ResponseWriter, r *http.Request, modelName string, allowSeed bool) {
	cfg := m.cm.Get().Model
	q := r.URL.Query()

	length, err := intParam(q.Get("length"), cfg.DefaultLength)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "length must be an integer")
		return
	}
	if length > cfg.MaxLength {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("length must not exceed %d", cfg.MaxLength))
		return
	}
	count, err := intParam(q.Get("count"), 1)
	if err != nil || count < 1 || count > cfg.MaxCount {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("count must be between 1 and %d", cfg.MaxCount))
		return
	}

	rng := markov.FreshRand()
	if seed := q.Get("seed"); seed != "" && allowSeed {
		s, err := strconv.ParseUint(seed, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "seed must be an unsigned integer")
			return
		}
		rng = markov.NewRand(s)
	}

	model, info, err := m.cache.Get(r.Context(), modelName)
	if err != nil {
		m.respondWithStoreError(w, modelName, err)
		return
	}

	words, err := model.GenerateN(rng, count, length)
	if err != nil {
		if errors.Is(err, markov.ErrInvalidLength) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		m.logger.Error("Failed to generate words", "name", modelName, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Generation failed: %v", err))
		return
	}

	m.logger.Debug("Words generated",
		slog.String("model_name", modelName),
		slog.Int("length", length),
		slog.Int("count", count),
	)
	respondWithJSON(w, http.StatusOK, GenerateResponse{
		Model:   modelName,
		BuildID: info.BuildID,
		Length:  length,
		Words:   words,
	})
}

// saveAndRespond persists a freshly built model, refreshes the cache and
// writes the stored metadata as the response.
func (m *ModelAPI) saveAndRespond(w http.ResponseWriter, r *http.Request, name string, model *markov.Model, words int) {
	info, err := m.store.SaveModel(r.Context(), name, model, words)
	if err != nil {
		m.logger.Error("Failed to save model", "name", name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save model: %v", err))
		return
	}
	m.cache.Put(name, model, info)
	respondWithJSON(w, http.StatusCreated, info)
}

// respondWithStoreError maps store and artifact errors to HTTP responses.
func (m *ModelAPI) respondWithStoreError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, store.ErrModelNotFound):
		respondWithError(w, http.StatusNotFound, "Model not found")
	case errors.Is(err, markov.ErrMissingArtifact), errors.Is(err, markov.ErrBadShape), errors.Is(err, markov.ErrBadDistribution):
		m.logger.Error("Stored model is unusable", "name", name, "error", err)
		respondWithError(w, http.StatusConflict, fmt.Sprintf("Stored model is unusable: %v", err))
	default:
		m.logger.Error("Failed to load model", "name", name, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
	}
}

func validModelName(name string) bool {
	return modelNamePattern.MatchString(name) && name != "import"
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
