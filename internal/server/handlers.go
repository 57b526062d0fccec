package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/ruiji/internal/library"
	"github.com/hyperjump/ruiji/internal/models"
	"github.com/hyperjump/ruiji/internal/network"
	"github.com/hyperjump/ruiji/internal/scoring"
	"github.com/hyperjump/ruiji/internal/search"
)

type addSpectrumRequest struct {
	models.Spectrum
	Overwrite bool `json:"overwrite"`
}

func (s *Server) handleAddSpectrum(w http.ResponseWriter, r *http.Request) {
	var req addSpectrumRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("add spectrum request", zap.Int("peaks", len(req.Peaks)))
	entry, err := s.engine.AddSpectrum(r.Context(), &req.Spectrum, req.Overwrite)
	if err != nil {
		if errors.Is(err, library.ErrDuplicateIdentifier) {
			s.respondError(w, http.StatusConflict, err.Error())
			return
		}
		s.logger.Error("add spectrum failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"identifier": entry.Identifier, "status": "stored"})
}

func (s *Server) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	entry, err := s.engine.GetEntry(r.Context(), identifier)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "entry not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, entry)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")
	s.logger.Debug("delete entry request", zap.String("identifier", identifier))
	removed, err := s.engine.RemoveEntry(r.Context(), identifier)
	if err != nil {
		s.logger.Error("deletion failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !removed {
		s.respondError(w, http.StatusNotFound, "entry not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type searchRequest struct {
	Spectrum models.Spectrum `json:"spectrum"`
	TopN     int             `json:"top_n"`
	MinScore float64         `json:"min_score"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Spectrum.Peaks) == 0 {
		s.respondError(w, http.StatusBadRequest, "spectrum has no peaks")
		return
	}
	s.logger.Debug("search request", zap.Int("peaks", len(req.Spectrum.Peaks)), zap.Int("top_n", req.TopN))
	hits, err := s.engine.Search(r.Context(), &req.Spectrum, req.TopN, req.MinScore)
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"hits": hits})
}

func (s *Server) handleKeywordSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	results, err := s.engine.KeywordSearch(r.Context(), query, limit)
	if err != nil {
		s.logger.Error("keyword search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"hits": results})
}

type networkRequest struct {
	Metric     string             `json:"metric"`
	Threshold  *float64           `json:"threshold,omitempty"`
	KNN        *int               `json:"knn,omitempty"`
	Undirected *bool              `json:"undirected,omitempty"`
	Spectra    []*models.Spectrum `json:"spectra,omitempty"`
}

func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	var req networkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	metric, err := search.ParseMetric(req.Metric)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	undirected := true
	if req.Undirected != nil {
		undirected = *req.Undirected
	}
	policy := network.Policy{Threshold: req.Threshold, KNN: req.KNN, Undirected: undirected}

	var (
		nodes []*network.Node
		edges []network.Edge
	)
	if len(req.Spectra) > 0 {
		nodes, edges, err = s.engine.BuildNetworkFromSpectra(r.Context(), req.Spectra, metric, policy)
	} else {
		nodes, edges, err = s.engine.BuildNetwork(r.Context(), metric, policy)
	}
	if err != nil {
		if errors.Is(err, network.ErrInvalidPolicy) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		if errors.Is(err, scoring.ErrMissingPrecursor) {
			s.respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Error("network build failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"nodes": nodes, "edges": edges})
}

type curateRequest struct {
	Apply bool `json:"apply"`
}

func (s *Server) handleCurate(w http.ResponseWriter, r *http.Request) {
	var req curateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	s.logger.Debug("curate request", zap.Bool("apply", req.Apply))
	report, err := s.engine.Curate(r.Context(), req.Apply)
	if err != nil {
		s.logger.Error("curation failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.engine.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, st)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
