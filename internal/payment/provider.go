package payment

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Normalised payment statuses shared by every provider.
const (
	StatusPending  = "PENDING"
	StatusPaid     = "PAID"
	StatusFailed   = "FAILED"
	StatusExpired  = "EXPIRED"
	StatusRefunded = "REFUNDED"
)

// ErrPaymentNotFound is returned when no payment matches a provider intent id.
var ErrPaymentNotFound = errors.New("payment not found")

// IntentRequest captures the information required to open a payment intent with a provider.
type IntentRequest struct {
	SubmissionID uuid.UUID
	Amount       int64
	Currency     string
	Email        string
	Description  string
	ExpiresIn    time.Duration
}

// IntentResponse represents the minimal information returned by a provider when creating an intent.
type IntentResponse struct {
	Provider     string    `json:"provider"`
	IntentID     string    `json:"intentId"`
	ClientSecret string    `json:"clientSecret"`
	Status       string    `json:"status"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// WebhookVerifyResult contains the normalised data extracted from a webhook notification after signature verification.
type WebhookVerifyResult struct {
	Valid           bool
	IntentID        string
	Amount          int64
	Status          string // empty for events that do not change payment status
	ProviderPayload []byte
	Err             error
}

// Provider abstracts the operations required from an upstream payment provider.
type Provider interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (IntentResponse, error)
	VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error)
}

// Record is the locally stored view of a payment intent.
type Record struct {
	SubmissionID uuid.UUID
	IntentID     string
	Provider     string
	Amount       int64
	Currency     string
	Status       string
	Email        string
}

// Payments persists payment state keyed by provider intent id.
type Payments interface {
	PaymentByIntent(ctx context.Context, intentID string) (Record, error)
	UpdatePaymentStatus(ctx context.Context, intentID, status string, payload []byte) error
}
