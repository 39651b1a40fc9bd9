package checkout

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/noah-isme/dental-quote/internal/events"
	"github.com/noah-isme/dental-quote/internal/payment"
	"github.com/noah-isme/dental-quote/internal/pricing"
)

// MemoryLedger is an in-process Ledger used when no database is configured.
type MemoryLedger struct {
	events.MemoryStore

	mu       sync.Mutex
	byID     map[uuid.UUID]Submission
	byIntent map[string]uuid.UUID
}

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byID:     make(map[uuid.UUID]Submission),
		byIntent: make(map[string]uuid.UUID),
	}
}

// Record implements Ledger.
func (m *MemoryLedger) Record(_ context.Context, sub Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[sub.ID]; ok {
		return fmt.Errorf("submission %s already recorded", sub.ID)
	}
	sub.Handoff.Lines = pricing.CloneLines(sub.Handoff.Lines)
	m.byID[sub.ID] = sub
	return nil
}

// AttachPayment implements Ledger.
func (m *MemoryLedger) AttachPayment(_ context.Context, id uuid.UUID, intent payment.IntentResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.byID[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrSubmissionNotFound)
	}
	sub.PaymentProvider = intent.Provider
	sub.PaymentIntentID = intent.IntentID
	sub.PaymentStatus = intent.Status
	m.byID[id] = sub
	m.byIntent[intent.IntentID] = id
	return nil
}

// Get implements Ledger.
func (m *MemoryLedger) Get(_ context.Context, id uuid.UUID) (Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.byID[id]
	if !ok {
		return Submission{}, fmt.Errorf("%s: %w", id, ErrSubmissionNotFound)
	}
	sub.Handoff.Lines = pricing.CloneLines(sub.Handoff.Lines)
	return sub, nil
}

// PaymentByIntent implements payment.Payments.
func (m *MemoryLedger) PaymentByIntent(_ context.Context, intentID string) (payment.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byIntent[intentID]
	if !ok {
		return payment.Record{}, fmt.Errorf("%s: %w", intentID, payment.ErrPaymentNotFound)
	}
	return paymentRecord(m.byID[id]), nil
}

// UpdatePaymentStatus implements payment.Payments.
func (m *MemoryLedger) UpdatePaymentStatus(_ context.Context, intentID, status string, _ []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byIntent[intentID]
	if !ok {
		return fmt.Errorf("%s: %w", intentID, payment.ErrPaymentNotFound)
	}
	sub := m.byID[id]
	sub.PaymentStatus = status
	m.byID[id] = sub
	return nil
}
