package catalog

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/dental-quote/internal/common"
)

// Handler serves the read-only treatment list.
type Handler struct {
	catalog *Catalog
}

type HandlerConfig struct {
	Catalog *Catalog
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{catalog: cfg.Catalog}
}

// Treatments handles GET /api/v1/treatments. An optional ?category= narrows
// the list; unknown categories yield an empty list, not an error.
func (h *Handler) Treatments(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	items := h.catalog.List()
	if category := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("category"))); category != "" {
		filtered := items[:0]
		for _, t := range items {
			if strings.EqualFold(t.Category, category) {
				filtered = append(filtered, t)
			}
		}
		items = filtered
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data":     items,
		"currency": h.catalog.Currency(),
		"count":    len(items),
	})
}

// TreatmentDetail handles GET /api/v1/treatments/{id}.
func (h *Handler) TreatmentDetail(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	t, err := h.catalog.Lookup(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "treatment not found", nil)
	case err != nil:
		common.WriteError(w, err)
	default:
		common.JSON(w, http.StatusOK, map[string]any{"data": t})
	}
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h.catalog == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog not configured", nil)
		return false
	}
	return true
}
