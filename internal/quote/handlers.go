package quote

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/dental-quote/internal/catalog"
	"github.com/noah-isme/dental-quote/internal/common"
	"github.com/noah-isme/dental-quote/internal/promo"
)

// Handler wires quote sessions to HTTP.
type Handler struct {
	Sessions *Sessions
	Currency string
}

type addLineRequest struct {
	TreatmentID string `json:"treatmentId" validate:"required,max=100"`
	Quantity    *int   `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type applyCodeRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

// Create handles POST /api/v1/quotes.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if h.Sessions == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "quote sessions not configured", nil)
		return
	}
	id, agg := h.Sessions.Create(r.Context())
	common.JSON(w, http.StatusCreated, map[string]any{"data": h.render(id, agg.View())})
}

// Get handles GET /api/v1/quotes/{sessionID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	h.with(w, r, func(_ context.Context, agg *Aggregate) (View, error) {
		return agg.View(), nil
	})
}

// AddLine handles POST /api/v1/quotes/{sessionID}/lines.
func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	var req addLineRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	h.with(w, r, func(_ context.Context, agg *Aggregate) (View, error) {
		return agg.AddLine(req.TreatmentID, qty)
	})
}

// SetQuantity handles PATCH /api/v1/quotes/{sessionID}/lines/{treatmentID}.
func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	var req setQuantityRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	treatmentID := chi.URLParam(r, "treatmentID")
	h.with(w, r, func(_ context.Context, agg *Aggregate) (View, error) {
		return agg.SetQuantity(treatmentID, req.Quantity)
	})
}

// RemoveLine handles DELETE /api/v1/quotes/{sessionID}/lines/{treatmentID}.
func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	treatmentID := chi.URLParam(r, "treatmentID")
	h.with(w, r, func(_ context.Context, agg *Aggregate) (View, error) {
		return agg.RemoveLine(treatmentID)
	})
}

// ApplyCode handles POST /api/v1/quotes/{sessionID}/code.
func (h *Handler) ApplyCode(w http.ResponseWriter, r *http.Request) {
	var req applyCodeRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	h.with(w, r, func(ctx context.Context, agg *Aggregate) (View, error) {
		return agg.ApplyCode(ctx, req.Code)
	})
}

// ClearCode handles DELETE /api/v1/quotes/{sessionID}/code.
func (h *Handler) ClearCode(w http.ResponseWriter, r *http.Request) {
	h.with(w, r, func(_ context.Context, agg *Aggregate) (View, error) {
		return agg.ClearRule()
	})
}

// Reset handles DELETE /api/v1/quotes/{sessionID}.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.with(w, r, func(_ context.Context, agg *Aggregate) (View, error) {
		return agg.Reset()
	})
}

func (h *Handler) with(w http.ResponseWriter, r *http.Request, fn func(context.Context, *Aggregate) (View, error)) {
	if h.Sessions == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "quote sessions not configured", nil)
		return
	}
	id, err := CanonicalID(chi.URLParam(r, "sessionID"))
	if err != nil {
		WriteError(w, err)
		return
	}
	ctx := common.WithSessionID(r.Context(), id)
	agg, err := h.Sessions.Get(ctx, id)
	if err != nil {
		WriteError(w, err)
		return
	}
	view, err := fn(ctx, agg)
	if err != nil {
		WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": h.render(id, view)})
}

func (h *Handler) render(id string, v View) map[string]any {
	lines := make([]map[string]any, 0, len(v.Lines))
	for _, l := range v.Lines {
		lines = append(lines, map[string]any{
			"treatmentId": l.TreatmentID,
			"name":        l.Name,
			"category":    l.Category,
			"quantity":    l.Quantity,
			"unitPrice":   l.UnitPrice,
			"subtotal":    l.Subtotal(),
		})
	}
	out := map[string]any{
		"id":       id,
		"currency": h.Currency,
		"lines":    lines,
		"pricing": map[string]any{
			"subtotal": v.Totals.Subtotal,
			"discount": v.Totals.Discount,
			"total":    v.Totals.Total,
		},
		"version": v.Version,
	}
	if !v.Rule.IsNone() {
		applied := promo.ResponseFromRule(v.Rule)
		out["promo"] = applied
		out["code"] = v.Rule.Code
	}
	return out
}

// AppError maps quote and promo errors onto the HTTP error taxonomy.
func AppError(err error) *common.AppError {
	msg := Message(err)
	switch {
	case errors.Is(err, promo.ErrInvalidCode):
		return common.NewAppError("INVALID_CODE", msg, http.StatusUnprocessableEntity, err)
	case errors.Is(err, promo.ErrResolverUnavailable):
		return common.NewAppError("RESOLVER_UNAVAILABLE", msg, http.StatusServiceUnavailable, err).
			WithDetails(map[string]any{"retryable": true})
	case errors.Is(err, ErrDuplicateLine):
		return common.NewAppError("DUPLICATE_LINE", msg, http.StatusConflict, err)
	case errors.Is(err, ErrLineNotFound):
		return common.NewAppError("LINE_NOT_FOUND", msg, http.StatusNotFound, err)
	case errors.Is(err, ErrInvalidQuantity):
		return common.NewAppError("INVALID_QUANTITY", msg, http.StatusBadRequest, err)
	case errors.Is(err, ErrPackageLocked):
		return common.NewAppError("PACKAGE_LOCKED", msg, http.StatusConflict, err)
	case errors.Is(err, ErrSnapshotUnavailable):
		return common.NewAppError("SNAPSHOT_UNAVAILABLE", msg, http.StatusServiceUnavailable, err).
			WithDetails(map[string]any{"retryable": true})
	case errors.Is(err, ErrSuperseded):
		return common.NewAppError("SUPERSEDED", msg, http.StatusConflict, err)
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, ErrSessionNotFound):
		return common.NewAppError("NOT_FOUND", msg, http.StatusNotFound, err)
	case errors.Is(err, ErrEmptyQuote):
		return common.NewAppError("EMPTY_QUOTE", msg, http.StatusUnprocessableEntity, err)
	case errors.Is(err, ErrInconsistentHandoff):
		return common.NewAppError("INCONSISTENT_QUOTE", msg, http.StatusConflict, err)
	default:
		return nil
	}
}

// WriteError renders err using AppError, falling back to the common mapping.
func WriteError(w http.ResponseWriter, err error) {
	if appErr := AppError(err); appErr != nil {
		common.WriteError(w, appErr)
		return
	}
	common.WriteError(w, err)
}
