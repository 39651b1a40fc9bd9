package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/dental-quote/internal/events"
	"github.com/noah-isme/dental-quote/internal/lock"
	"github.com/noah-isme/dental-quote/internal/obs"
	"github.com/noah-isme/dental-quote/internal/payment"
	"github.com/noah-isme/dental-quote/internal/quote"
)

var (
	// ErrSubmissionInProgress is returned while another submission holds the session lock.
	ErrSubmissionInProgress = errors.New("submission already in progress")
	// ErrPaymentUnavailable is returned when the payment provider could not open an intent.
	ErrPaymentUnavailable = errors.New("payment provider unavailable")
)

// Locker serialises submissions of one session across instances.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// Service turns a quote session into a recorded submission with a payment intent.
type Service struct {
	Sessions  *quote.Sessions
	Ledger    Ledger
	Provider  payment.Provider
	Events    *events.Bus
	Locker    Locker
	LockTTL   time.Duration
	IntentTTL time.Duration
	Currency  string
	Logger    zerolog.Logger
	Now       func() time.Time
}

// SubmitInput carries the patient details collected at checkout.
type SubmitInput struct {
	SessionID    string
	PatientName  string
	PatientEmail string
	Notes        string
}

// Receipt is the result of a successful submission.
type Receipt struct {
	Submission Submission
	Payment    payment.IntentResponse
}

// Submit validates the session's hand-off, records it, opens a payment intent
// and clears the session. The submitted hand-off is the state observed under
// the checkout lock.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Receipt, error) {
	receipt, err := s.submit(ctx, in)
	obs.IncCheckoutSubmit(submitResult(err))
	return receipt, err
}

func (s *Service) submit(ctx context.Context, in SubmitInput) (Receipt, error) {
	if s.Sessions == nil || s.Ledger == nil || s.Provider == nil {
		return Receipt{}, errors.New("checkout: service not configured")
	}
	sessionID, err := quote.CanonicalID(in.SessionID)
	if err != nil {
		return Receipt{}, err
	}
	agg, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return Receipt{}, err
	}

	var receipt Receipt
	run := func(ctx context.Context) error {
		var err error
		receipt, err = s.submitLocked(ctx, sessionID, agg, in)
		return err
	}
	if s.Locker == nil {
		err = run(ctx)
	} else {
		err = s.Locker.WithLock(ctx, "lock:checkout:"+sessionID, s.lockTTL(), run)
	}
	if errors.Is(err, lock.ErrNotAcquired) {
		return Receipt{}, fmt.Errorf("session %s: %w", sessionID, ErrSubmissionInProgress)
	}
	return receipt, err
}

func (s *Service) submitLocked(ctx context.Context, sessionID string, agg *quote.Aggregate, in SubmitInput) (Receipt, error) {
	handoff := agg.View().Handoff()
	if err := handoff.Validate(); err != nil {
		return Receipt{}, err
	}

	sub := Submission{
		ID:            uuid.New(),
		SessionID:     sessionID,
		PatientName:   strings.TrimSpace(in.PatientName),
		PatientEmail:  strings.TrimSpace(in.PatientEmail),
		Notes:         strings.TrimSpace(in.Notes),
		Currency:      s.Currency,
		Handoff:       handoff,
		PaymentStatus: payment.StatusPending,
		CreatedAt:     s.now().UTC(),
	}
	if err := s.Ledger.Record(ctx, sub); err != nil {
		return Receipt{}, fmt.Errorf("record submission: %w", err)
	}

	providerName := s.Provider.Name()
	intent, err := s.Provider.CreateIntent(ctx, payment.IntentRequest{
		SubmissionID: sub.ID,
		Amount:       handoff.Total,
		Currency:     s.Currency,
		Email:        sub.PatientEmail,
		Description:  "Dental treatment plan " + sub.ID.String(),
		ExpiresIn:    s.IntentTTL,
	})
	if err != nil {
		obs.IncPaymentIntent(providerName, "error")
		s.Logger.Error().Err(err).Str("submission_id", sub.ID.String()).Msg("payment_intent_failed")
		return Receipt{}, fmt.Errorf("%v: %w", err, ErrPaymentUnavailable)
	}
	obs.IncPaymentIntent(providerName, "ok")
	if err := s.Ledger.AttachPayment(ctx, sub.ID, intent); err != nil {
		return Receipt{}, fmt.Errorf("attach payment: %w", err)
	}
	sub.PaymentProvider = intent.Provider
	sub.PaymentIntentID = intent.IntentID
	sub.PaymentStatus = intent.Status

	if s.Events != nil {
		if _, err := s.Events.Emit(ctx, events.TopicQuoteSubmitted, sub.ID, submittedPayload(sub)); err != nil {
			s.Logger.Warn().Err(err).Str("submission_id", sub.ID.String()).Msg("quote_submitted_emit_failed")
		}
	}
	if _, err := agg.Reset(); err != nil {
		s.Logger.Warn().Err(err).Str("session_id", sessionID).Msg("quote_reset_failed")
	}
	s.Logger.Info().
		Str("submission_id", sub.ID.String()).
		Str("session_id", sessionID).
		Int64("total", handoff.Total).
		Str("code", handoff.Code).
		Msg("quote_submitted")
	return Receipt{Submission: sub, Payment: intent}, nil
}

// Get returns a recorded submission.
func (s *Service) Get(ctx context.Context, id string) (Submission, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return Submission{}, fmt.Errorf("%q: %w", id, ErrSubmissionNotFound)
	}
	return s.Ledger.Get(ctx, parsed)
}

func submittedPayload(sub Submission) events.QuoteSubmitted {
	h := sub.Handoff
	lines := make([]events.SubmittedLine, 0, len(h.Lines))
	for _, l := range h.Lines {
		lines = append(lines, events.SubmittedLine{
			TreatmentID: l.TreatmentID,
			Name:        l.Name,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			Subtotal:    l.Subtotal(),
		})
	}
	out := events.QuoteSubmitted{
		SubmissionID: sub.ID.String(),
		SessionID:    sub.SessionID,
		Name:         sub.PatientName,
		Email:        sub.PatientEmail,
		Currency:     sub.Currency,
		Code:         h.Code,
		Lines:        lines,
		Subtotal:     h.Subtotal,
		Discount:     h.Discount,
		Total:        h.Total,
		IntentID:     sub.PaymentIntentID,
	}
	if h.Rule.IsPackage() {
		out.PackageName = h.Rule.Package.Name
	}
	return out
}

func submitResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, quote.ErrEmptyQuote):
		return "empty"
	case errors.Is(err, quote.ErrInconsistentHandoff):
		return "inconsistent"
	case errors.Is(err, quote.ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, ErrSubmissionInProgress):
		return "in_progress"
	case errors.Is(err, ErrPaymentUnavailable):
		return "payment_unavailable"
	default:
		return "error"
	}
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return 15 * time.Second
	}
	return s.LockTTL
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
