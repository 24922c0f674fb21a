package masterdata

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openwelfare/caseflow/internal/shared/errors"
	"github.com/openwelfare/caseflow/internal/shared/types"
)

// Handler provides HTTP handlers for master data
type Handler struct {
	repo *Repository
}

// NewHandler creates a new master data handler
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// Routes registers the master data routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/jamiats", func(r chi.Router) {
		r.Get("/", h.ListJamiats)
		r.Post("/", h.CreateJamiat)
		r.Get("/{jamiatID}", h.GetJamiat)
		r.Put("/{jamiatID}", h.UpdateJamiat)
	})

	r.Route("/jamaats", func(r chi.Router) {
		r.Get("/", h.ListJamaats)
		r.Post("/", h.CreateJamaat)
		r.Get("/{jamaatID}", h.GetJamaat)
		r.Put("/{jamaatID}", h.UpdateJamaat)
	})

	r.Route("/case-types", func(r chi.Router) {
		r.Get("/", h.ListCaseTypes)
		r.Post("/", h.CreateCaseType)
		r.Get("/{caseTypeID}", h.GetCaseType)
		r.Put("/{caseTypeID}", h.UpdateCaseType)
	})

	r.Route("/occupations", func(r chi.Router) {
		r.Get("/", h.listLookups("occupations"))
		r.Post("/", h.createLookup("occupations"))
		r.Delete("/{lookupID}", h.deactivateLookup("occupations"))
	})

	r.Route("/relations", func(r chi.Router) {
		r.Get("/", h.listLookups("relations"))
		r.Post("/", h.createLookup("relations"))
		r.Delete("/{lookupID}", h.deactivateLookup("relations"))
	})

	return r
}

// --- Jamiats ---

func (h *Handler) ListJamiats(w http.ResponseWriter, r *http.Request) {
	jamiats, err := h.repo.ListJamiats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": jamiats, "total": len(jamiats)})
}

func (h *Handler) GetJamiat(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "jamiatID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid jamiat ID"))
		return
	}

	jamiat, err := h.repo.GetJamiat(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jamiat)
}

func (h *Handler) CreateJamiat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	jamiat, err := NewJamiat(req.Code, req.Name)
	if err != nil {
		writeError(w, errors.Validation(err.Error(), nil))
		return
	}

	if err := h.repo.CreateJamiat(r.Context(), jamiat); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, jamiat)
}

func (h *Handler) UpdateJamiat(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "jamiatID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid jamiat ID"))
		return
	}

	jamiat, err := h.repo.GetJamiat(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Code     *string `json:"code,omitempty"`
		Name     *string `json:"name,omitempty"`
		IsActive *bool   `json:"is_active,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Code != nil {
		jamiat.Code = *req.Code
	}
	if req.Name != nil {
		jamiat.Name = *req.Name
	}
	if req.IsActive != nil {
		jamiat.IsActive = *req.IsActive
	}

	if err := h.repo.UpdateJamiat(r.Context(), jamiat); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jamiat)
}

// --- Jamaats ---

func (h *Handler) ListJamaats(w http.ResponseWriter, r *http.Request) {
	var jamiatID *types.ID
	if raw := r.URL.Query().Get("jamiat_id"); raw != "" {
		id, err := types.ParseID(raw)
		if err != nil {
			writeError(w, errors.BadRequest("invalid jamiat_id"))
			return
		}
		jamiatID = &id
	}

	jamaats, err := h.repo.ListJamaats(r.Context(), jamiatID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": jamaats, "total": len(jamaats)})
}

func (h *Handler) GetJamaat(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "jamaatID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid jamaat ID"))
		return
	}

	jamaat, err := h.repo.GetJamaat(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jamaat)
}

func (h *Handler) CreateJamaat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JamiatID types.ID `json:"jamiat_id"`
		Code     string   `json:"code"`
		Name     string   `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	jamaat, err := NewJamaat(req.JamiatID, req.Code, req.Name)
	if err != nil {
		writeError(w, errors.Validation(err.Error(), nil))
		return
	}

	if err := h.repo.CreateJamaat(r.Context(), jamaat); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, jamaat)
}

func (h *Handler) UpdateJamaat(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "jamaatID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid jamaat ID"))
		return
	}

	jamaat, err := h.repo.GetJamaat(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		JamiatID *types.ID `json:"jamiat_id,omitempty"`
		Code     *string   `json:"code,omitempty"`
		Name     *string   `json:"name,omitempty"`
		IsActive *bool     `json:"is_active,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.JamiatID != nil {
		jamaat.JamiatID = *req.JamiatID
	}
	if req.Code != nil {
		jamaat.Code = *req.Code
	}
	if req.Name != nil {
		jamaat.Name = *req.Name
	}
	if req.IsActive != nil {
		jamaat.IsActive = *req.IsActive
	}

	if err := h.repo.UpdateJamaat(r.Context(), jamaat); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jamaat)
}

// --- Case types ---

func (h *Handler) ListCaseTypes(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	caseTypes, err := h.repo.ListCaseTypes(r.Context(), includeInactive)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": caseTypes, "total": len(caseTypes)})
}

func (h *Handler) GetCaseType(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "caseTypeID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid case type ID"))
		return
	}

	caseType, err := h.repo.GetCaseType(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, caseType)
}

func (h *Handler) CreateCaseType(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code        string `json:"code"`
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	caseType, err := NewCaseType(req.Code, req.Name, req.Description)
	if err != nil {
		writeError(w, errors.Validation(err.Error(), nil))
		return
	}

	if err := h.repo.CreateCaseType(r.Context(), caseType); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, caseType)
}

func (h *Handler) UpdateCaseType(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "caseTypeID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid case type ID"))
		return
	}

	caseType, err := h.repo.GetCaseType(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req struct {
		Code        *string `json:"code,omitempty"`
		Name        *string `json:"name,omitempty"`
		Description *string `json:"description,omitempty"`
		IsActive    *bool   `json:"is_active,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Code != nil {
		caseType.Code = *req.Code
	}
	if req.Name != nil {
		caseType.Name = *req.Name
	}
	if req.Description != nil {
		caseType.Description = *req.Description
	}
	if req.IsActive != nil {
		caseType.IsActive = *req.IsActive
	}

	if err := h.repo.UpdateCaseType(r.Context(), caseType); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, caseType)
}

// --- Lookups ---

func (h *Handler) listLookups(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lookups, err := h.repo.ListLookups(r.Context(), kind)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": lookups, "total": len(lookups)})
	}
}

func (h *Handler) createLookup(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.BadRequest("invalid request body"))
			return
		}

		lookup, err := NewLookup(req.Name)
		if err != nil {
			writeError(w, errors.Validation(err.Error(), nil))
			return
		}

		if err := h.repo.CreateLookup(r.Context(), kind, lookup); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, lookup)
	}
}

func (h *Handler) deactivateLookup(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := types.ParseID(chi.URLParam(r, "lookupID"))
		if err != nil {
			writeError(w, errors.BadRequest("invalid ID"))
			return
		}

		if err := h.repo.DeactivateLookup(r.Context(), kind, id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
