package promo

import (
	"errors"
	"net/http"

	"github.com/noah-isme/dental-quote/internal/common"
)

// Handler serves the promo validation contract through the configured resolver,
// usually the Chain of local table and remote service. Packages always come
// from the local table.
type Handler struct {
	resolver Resolver
	table    *Table
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Resolver Resolver
	Table    *Table
}

// NewHandler constructs a Handler. When Resolver is nil the table answers directly.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{resolver: cfg.Resolver, table: cfg.Table}
	if h.resolver == nil && cfg.Table != nil {
		h.resolver = cfg.Table
	}
	return h
}

// Validate handles POST /api/v1/promo/validate.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	if h.resolver == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "promo resolver not configured", nil)
		return
	}
	var req ValidateRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	rule, err := h.resolver.Resolve(r.Context(), req.Code, req.TreatmentIDs)
	switch {
	case err == nil:
		common.JSON(w, http.StatusOK, ResponseFromRule(rule))
	case errors.Is(err, ErrInvalidCode):
		common.JSON(w, http.StatusUnprocessableEntity, ValidateResponse{
			Valid:   false,
			Code:    NormalizeCode(req.Code),
			Message: Message(err),
		})
	case errors.Is(err, ErrResolverUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, "RESOLVER_UNAVAILABLE", Message(err), map[string]any{"retryable": true})
	default:
		common.WriteError(w, err)
	}
}

// Packages handles GET /api/v1/promo/packages.
func (h *Handler) Packages(w http.ResponseWriter, r *http.Request) {
	packages := make([]ValidateResponse, 0)
	for _, rule := range h.table.Packages() {
		packages = append(packages, ResponseFromRule(rule))
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": packages})
}

// Message renders a user facing message for resolver errors.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCode):
		return "This promo code is not valid."
	case errors.Is(err, ErrResolverUnavailable):
		return "We could not check your promo code right now. Please try again in a moment."
	default:
		return "Something went wrong while checking your promo code."
	}
}
