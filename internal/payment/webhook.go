package payment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/noah-isme/dental-quote/internal/common"
	"github.com/noah-isme/dental-quote/internal/events"
	"github.com/noah-isme/dental-quote/internal/obs"
)

const maxWebhookBody = 1 << 20

// Webhook handles payment provider callbacks, including signature verification and settlement.
type Webhook struct {
	Providers map[string]Provider
	Payments  Payments
	Replay    ReplayGuard
	ReplayTTL time.Duration
	Events    *events.Bus
	Logger    zerolog.Logger
}

// Handle processes POST /api/v1/webhooks/payment/{provider}.
func (h Webhook) Handle(w http.ResponseWriter, r *http.Request) {
	if h.Payments == nil || h.Providers == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "webhook unavailable", nil)
		return
	}
	providerKey := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	provider, ok := h.Providers[providerKey]
	if !ok {
		common.JSONError(w, http.StatusNotFound, "PROVIDER_NOT_SUPPORTED", "unknown provider", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	result, err := provider.VerifyWebhook(r, body)
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "WEBHOOK_INVALID", err.Error(), nil)
		return
	}
	if !result.Valid {
		h.Logger.Warn().Err(result.Err).Str("provider", providerKey).Msg("payment_webhook_rejected")
		obs.IncPaymentIntent(providerKey, "webhook_invalid")
		common.JSONError(w, http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed", nil)
		return
	}

	ctx := r.Context()
	replayKey := ""
	if h.Replay != nil && h.ReplayTTL > 0 {
		replayKey = fmt.Sprintf("wh:%s:%s", providerKey, common.Sha256Hex(string(body)))
		claimed, err := h.Replay.Acquire(ctx, replayKey, h.ReplayTTL)
		if err != nil {
			common.JSONError(w, http.StatusInternalServerError, "REPLAY_STORE_ERROR", err.Error(), nil)
			return
		}
		if !claimed {
			common.JSONError(w, http.StatusConflict, "REPLAY", "duplicate webhook", nil)
			return
		}
	}

	status, err := h.settle(ctx, providerKey, result)
	if err != nil {
		if replayKey != "" {
			_ = h.Replay.Release(context.WithoutCancel(ctx), replayKey)
		}
		switch {
		case errors.Is(err, ErrPaymentNotFound):
			common.JSONError(w, http.StatusNotFound, "PAYMENT_NOT_FOUND", "payment not found", nil)
		case errors.Is(err, errAmountMismatch):
			common.JSONError(w, http.StatusBadRequest, "AMOUNT_MISMATCH", "provider amount mismatch", nil)
		default:
			h.Logger.Error().Err(err).Str("intent_id", result.IntentID).Msg("payment_webhook_failed")
			common.JSONError(w, http.StatusInternalServerError, "PAYMENT_UPDATE_ERROR", "unable to record payment status", nil)
		}
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"intentId": result.IntentID,
		"status":   status,
	}})
}

var errAmountMismatch = errors.New("amount mismatch")

// transitions lists the payment status moves a webhook may make. Everything
// else, including unknown event types, leaves the record as it is.
var transitions = map[string][]string{
	StatusPending: {StatusPaid, StatusFailed, StatusExpired},
	StatusPaid:    {StatusRefunded},
}

func canTransition(from, to string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func (h Webhook) settle(ctx context.Context, providerKey string, result WebhookVerifyResult) (string, error) {
	record, err := h.Payments.PaymentByIntent(ctx, result.IntentID)
	if err != nil {
		return "", err
	}
	if result.Amount > 0 && record.Amount != result.Amount {
		return "", fmt.Errorf("intent %s: got %d want %d: %w", result.IntentID, result.Amount, record.Amount, errAmountMismatch)
	}
	newStatus := result.Status
	if newStatus == record.Status {
		return newStatus, nil
	}
	if !canTransition(record.Status, newStatus) {
		h.Logger.Info().
			Str("intent_id", result.IntentID).
			Str("from_status", record.Status).
			Str("to_status", newStatus).
			Msg("payment_webhook_transition_ignored")
		return record.Status, nil
	}
	if err := h.Payments.UpdatePaymentStatus(ctx, result.IntentID, newStatus, result.ProviderPayload); err != nil {
		return "", err
	}
	obs.IncPaymentIntent(providerKey, "webhook_"+strings.ToLower(newStatus))
	h.emit(ctx, record, newStatus)
	return newStatus, nil
}

func (h Webhook) emit(ctx context.Context, record Record, status string) {
	if h.Events == nil {
		return
	}
	var topic string
	switch status {
	case StatusPaid:
		topic = events.TopicPaymentSucceeded
	case StatusFailed:
		topic = events.TopicPaymentFailed
	case StatusExpired:
		topic = events.TopicPaymentExpired
	case StatusRefunded:
		topic = events.TopicPaymentRefunded
	default:
		return
	}
	payload := map[string]any{
		"submissionId": record.SubmissionID.String(),
		"intentId":     record.IntentID,
		"amount":       record.Amount,
		"currency":     record.Currency,
		"status":       status,
	}
	if record.Email != "" {
		payload["email"] = record.Email
	}
	if _, err := h.Events.Emit(ctx, topic, record.SubmissionID, payload); err != nil {
		h.Logger.Error().Err(err).Str("topic", topic).Str("intent_id", record.IntentID).Msg("payment_event_emit_failed")
	}
}
