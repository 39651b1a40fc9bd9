package checkout

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/dental-quote/internal/common"
	"github.com/noah-isme/dental-quote/internal/quote"
)

// Handler exposes quote submission over HTTP.
type Handler struct {
	Svc *Service
}

type submitRequest struct {
	PatientName  string `json:"patientName" validate:"required,max=120"`
	PatientEmail string `json:"patientEmail" validate:"required,email,max=254"`
	Notes        string `json:"notes" validate:"max=2000"`
}

// Submit handles POST /api/v1/quotes/{sessionID}/submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	var req submitRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	sessionID := chi.URLParam(r, "sessionID")
	ctx := common.WithSessionID(r.Context(), sessionID)
	receipt, err := h.Svc.Submit(ctx, SubmitInput{
		SessionID:    sessionID,
		PatientName:  req.PatientName,
		PatientEmail: req.PatientEmail,
		Notes:        req.Notes,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	out := render(receipt.Submission)
	out["payment"] = receipt.Payment
	common.JSON(w, http.StatusCreated, map[string]any{"data": out})
}

// Get handles GET /api/v1/submissions/{submissionID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "checkout service not configured", nil)
		return
	}
	sub, err := h.Svc.Get(r.Context(), chi.URLParam(r, "submissionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": render(sub)})
}

func render(sub Submission) map[string]any {
	h := sub.Handoff
	lines := make([]map[string]any, 0, len(h.Lines))
	for _, l := range h.Lines {
		lines = append(lines, map[string]any{
			"treatmentId": l.TreatmentID,
			"name":        l.Name,
			"quantity":    l.Quantity,
			"unitPrice":   l.UnitPrice,
			"subtotal":    l.Subtotal(),
		})
	}
	out := map[string]any{
		"submissionId":  sub.ID.String(),
		"sessionId":     sub.SessionID,
		"currency":      sub.Currency,
		"lines":         lines,
		"pricing":       map[string]any{"subtotal": h.Subtotal, "discount": h.Discount, "total": h.Total},
		"paymentStatus": sub.PaymentStatus,
		"createdAt":     sub.CreatedAt,
	}
	if h.Code != "" {
		out["code"] = h.Code
	}
	return out
}

func writeError(w http.ResponseWriter, err error) {
	if appErr := quote.AppError(err); appErr != nil {
		common.WriteError(w, appErr)
		return
	}
	switch {
	case errors.Is(err, ErrSubmissionInProgress):
		common.JSONError(w, http.StatusConflict, "SUBMISSION_IN_PROGRESS", "This quote is already being submitted.", nil)
	case errors.Is(err, ErrPaymentUnavailable):
		common.JSONError(w, http.StatusBadGateway, "PAYMENT_UNAVAILABLE", "We could not start the payment. Please try again.",
			map[string]any{"retryable": true})
	case errors.Is(err, ErrSubmissionNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "We could not find this submission.", nil)
	default:
		common.WriteError(w, err)
	}
}
