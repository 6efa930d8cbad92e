package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/lampions/lampions-go/internal/routes"
	"github.com/lampions/lampions-go/internal/store"
)

// handleHealth is the liveness probe.
//
//	GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "domain": s.domain})
}

// handleReady reports whether the document store is reachable. A missing
// routes document is fine; a relay with no routes yet is still ready.
//
//	GET /readyz
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	_, err := s.blob.Get(r.Context(), routes.Key)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logrus.WithError(err).Warn("Readiness probe failed")
		respondError(w, http.StatusServiceUnavailable, "document store unreachable")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleListRoutes lists routes, optionally filtered by the active query
// parameter.
//
//	GET /api/routes?active=true|false
func (s *Server) handleListRoutes(w http.ResponseWriter, r *http.Request) {
	rts, err := s.routes.Load(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrCorruptDocument) {
			respondError(w, http.StatusInternalServerError, "routes document is corrupt")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load routes")
		return
	}

	if filter := r.URL.Query().Get("active"); filter != "" {
		wantActive := filter == "true"
		filtered := make([]routes.Route, 0, len(rts))
		for _, route := range rts {
			if route.Active == wantActive {
				filtered = append(filtered, route)
			}
		}
		rts = filtered
	}

	if rts == nil {
		rts = []routes.Route{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"routes": rts})
}

// handleGetRoute returns a single route by alias.
//
//	GET /api/routes/{alias}
func (s *Server) handleGetRoute(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")

	rts, err := s.routes.Load(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load routes")
		return
	}

	for _, route := range rts {
		if route.Alias == alias {
			respondJSON(w, http.StatusOK, route)
			return
		}
	}

	respondError(w, http.StatusNotFound, "no route for alias "+alias)
}

type addRouteRequest struct {
	Alias   string `json:"alias"`
	Forward string `json:"forward"`
	Active  *bool  `json:"active"`
	Meta    string `json:"meta"`
}

// handleAddRoute creates a route. Routes are active by default.
//
//	POST /api/routes
func (s *Server) handleAddRoute(w http.ResponseWriter, r *http.Request) {
	var req addRouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := routes.ValidateAlias(req.Alias, s.domain); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := routes.ValidateAddress(req.Forward); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	route, err := s.routes.Add(r.Context(), req.Alias, req.Forward, active, req.Meta)
	if err != nil {
		if errors.Is(err, routes.ErrDuplicateAlias) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		logrus.WithError(err).Error("Failed to add route")
		respondError(w, http.StatusInternalServerError, "failed to add route")
		return
	}

	respondJSON(w, http.StatusCreated, route)
}

type updateRouteRequest struct {
	Forward string `json:"forward"`
	Active  *bool  `json:"active"`
	Meta    string `json:"meta"`
}

// handleUpdateRoute mutates the named fields of a route.
//
//	PUT /api/routes/{alias}
func (s *Server) handleUpdateRoute(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")

	var req updateRouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Forward != "" {
		if err := routes.ValidateAddress(req.Forward); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	route, err := s.routes.Update(r.Context(), alias, routes.Update{
		Forward: req.Forward,
		Active:  req.Active,
		Meta:    req.Meta,
	})
	if err != nil {
		if errors.Is(err, routes.ErrRouteNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		logrus.WithError(err).Error("Failed to update route")
		respondError(w, http.StatusInternalServerError, "failed to update route")
		return
	}

	respondJSON(w, http.StatusOK, route)
}

// handleRemoveRoute deletes a route.
//
//	DELETE /api/routes/{alias}
func (s *Server) handleRemoveRoute(w http.ResponseWriter, r *http.Request) {
	alias := chi.URLParam(r, "alias")

	if err := s.routes.Remove(r.Context(), alias); err != nil {
		if errors.Is(err, routes.ErrRouteNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		logrus.WithError(err).Error("Failed to remove route")
		respondError(w, http.StatusInternalServerError, "failed to remove route")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListRecipients returns the recipient map, optionally scoped to one
// alias.
//
//	GET /api/recipients?alias=jobs
func (s *Server) handleListRecipients(w http.ResponseWriter, r *http.Request) {
	rels, err := s.recipients.All(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrCorruptDocument) {
			respondError(w, http.StatusInternalServerError, "recipients document is corrupt")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load recipients")
		return
	}

	if alias := r.URL.Query().Get("alias"); alias != "" {
		forAlias, ok := rels[alias]
		if !ok {
			forAlias = map[string]string{}
		}
		rels = map[string]map[string]string{alias: forAlias}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"recipients": rels})
}
