package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/marketadmin/internal/config"
	"github.com/roach88/marketadmin/internal/ordering"
)

type apiError struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, apiError{Error: errorBody{Code: code, Message: message}})
}

func (s *Server) writeData(w http.ResponseWriter, statusCode int, data any) {
	if s.envelope {
		writeJSON(w, statusCode, map[string]any{"data": data})
		return
	}
	writeJSON(w, statusCode, data)
}

func (s *Server) writeRepoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, errCapReached):
		writeError(w, http.StatusConflict, "ACTIVE_CAP_REACHED", err.Error())
	case errors.Is(err, errUnknownInBatch):
		writeError(w, http.StatusUnprocessableEntity, "UNKNOWN_ID", err.Error())
	default:
		s.log.Error("sandbox storage failure", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func (s *Server) handleList(sc scopeRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.repo.list(r.Context(), sc.Name)
		if err != nil {
			s.writeRepoError(w, err)
			return
		}
		s.writeData(w, http.StatusOK, list)
	}
}

type createRequest struct {
	Name     string `json:"name"`
	IsActive *bool  `json:"isActive"`
	Order    *int   `json:"order"`
}

func (s *Server) handleCreate(sc scopeRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required")
			return
		}

		e, err := s.repo.create(r.Context(), sc, newID(), s.seq.Add(1), createParams{
			Name:     req.Name,
			IsActive: req.IsActive,
			Order:    req.Order,
		})
		if err != nil {
			s.writeRepoError(w, err)
			return
		}
		s.writeData(w, http.StatusCreated, e)
	}
}

type patchRequest struct {
	Name     *string `json:"name"`
	IsActive *bool   `json:"isActive"`
	Order    *int    `json:"order"`
}

func (s *Server) handleUpdate(sc scopeRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req patchRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
			return
		}
		if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name must not be empty")
			return
		}

		e, err := s.repo.patch(r.Context(), sc, chi.URLParam(r, "id"), patchParams{
			Name:     req.Name,
			IsActive: req.IsActive,
			Order:    req.Order,
		})
		if err != nil {
			s.writeRepoError(w, err)
			return
		}
		s.writeData(w, http.StatusOK, e)
	}
}

func (s *Server) handleDelete(sc scopeRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.repo.delete(r.Context(), sc.Name, chi.URLParam(r, "id")); err != nil {
			s.writeRepoError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type reorderItemsRequest struct {
	Items []ordering.Placement `json:"items"`
}

type reorderIDsRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) handleReorder(sc scopeRoute) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var placements []ordering.Placement
		switch sc.Reorder.Format {
		case config.FormatIDs:
			var req reorderIDsRequest
			if err := decodeBody(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
				return
			}
			for i, id := range req.IDs {
				placements = append(placements, ordering.Placement{ID: id, Order: sc.Base + i})
			}
		default:
			var req reorderItemsRequest
			if err := decodeBody(r, &req); err != nil {
				writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
				return
			}
			placements = req.Items
		}

		if len(placements) == 0 {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "empty reorder batch")
			return
		}
		seen := make(map[string]bool, len(placements))
		for _, p := range placements {
			if p.ID == "" || seen[p.ID] {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "duplicate or empty id in batch")
				return
			}
			seen[p.ID] = true
		}

		if err := s.repo.reorder(r.Context(), sc.Name, placements); err != nil {
			s.writeRepoError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
