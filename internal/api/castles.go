package api

import (
	"net/http"

	"castlebook/internal/models"
)

func (s *HTTPServer) handleListCastles(w http.ResponseWriter, r *http.Request) {
	castles, err := s.deps.Castles.ListCastles(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"castles": castles})
}

func (s *HTTPServer) handleGetCastle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	castle, err := s.deps.Castles.GetCastle(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, castle)
}

func (s *HTTPServer) handleCreateCastle(w http.ResponseWriter, r *http.Request) {
	var castle models.Castle
	if err := decodeJSON(w, r, &castle); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.deps.Castles.CreateCastle(r.Context(), &castle); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, castle)
}

func (s *HTTPServer) handleUpdateCastle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var castle models.Castle
	if err := decodeJSON(w, r, &castle); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	castle.ID = id
	if err := s.deps.Castles.UpdateCastle(r.Context(), &castle); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, castle)
}

func (s *HTTPServer) handleDeleteCastle(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if err := s.deps.Castles.DeleteCastle(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var update models.MaintenanceUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	castle, err := s.deps.Castles.SetMaintenance(r.Context(), id, update)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, castle)
}
