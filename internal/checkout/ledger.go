package checkout

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/dental-quote/internal/events"
	"github.com/noah-isme/dental-quote/internal/payment"
	"github.com/noah-isme/dental-quote/internal/quote"
)

// ErrSubmissionNotFound is returned when no submission matches an id.
var ErrSubmissionNotFound = errors.New("submission not found")

// Submission is one checked-out quote as recorded in the ledger.
type Submission struct {
	ID              uuid.UUID     `json:"id"`
	SessionID       string        `json:"sessionId"`
	PatientName     string        `json:"patientName"`
	PatientEmail    string        `json:"patientEmail"`
	Notes           string        `json:"notes,omitempty"`
	Currency        string        `json:"currency"`
	Handoff         quote.Handoff `json:"handoff"`
	PaymentProvider string        `json:"paymentProvider,omitempty"`
	PaymentIntentID string        `json:"paymentIntentId,omitempty"`
	PaymentStatus   string        `json:"paymentStatus"`
	CreatedAt       time.Time     `json:"createdAt"`
}

// Ledger stores submissions, their payment state and the domain events they raise.
type Ledger interface {
	Record(ctx context.Context, sub Submission) error
	AttachPayment(ctx context.Context, id uuid.UUID, intent payment.IntentResponse) error
	Get(ctx context.Context, id uuid.UUID) (Submission, error)
	payment.Payments
	events.EventStore
}

func paymentRecord(sub Submission) payment.Record {
	return payment.Record{
		SubmissionID: sub.ID,
		IntentID:     sub.PaymentIntentID,
		Provider:     sub.PaymentProvider,
		Amount:       sub.Handoff.Total,
		Currency:     sub.Currency,
		Status:       sub.PaymentStatus,
		Email:        sub.PatientEmail,
	}
}
