package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/dental-quote/internal/events"
	"github.com/noah-isme/dental-quote/internal/obs"
	"github.com/noah-isme/dental-quote/internal/payment"
)

// DB is the subset of pgxpool.Pool used by PGLedger.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OpenPool connects to databaseURL with query tracing enabled.
func OpenPool(ctx context.Context, databaseURL, appName string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = appName
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// PGLedger stores submissions and domain events in Postgres.
type PGLedger struct {
	DB DB
}

const insertSubmissionSQL = `INSERT INTO quote_submissions
    (id, session_id, patient_name, patient_email, notes, currency, promo_code, handoff,
     subtotal, discount, total, payment_status, created_at, updated_at)
VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`

// Record implements Ledger.
func (l PGLedger) Record(ctx context.Context, sub Submission) error {
	handoff, err := json.Marshal(sub.Handoff)
	if err != nil {
		return fmt.Errorf("encode handoff: %w", err)
	}
	_, err = l.DB.Exec(ctx, insertSubmissionSQL,
		sub.ID.String(), sub.SessionID, sub.PatientName, sub.PatientEmail, sub.Notes, sub.Currency,
		sub.Handoff.Code, handoff, sub.Handoff.Subtotal, sub.Handoff.Discount, sub.Handoff.Total,
		sub.PaymentStatus, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

const attachPaymentSQL = `UPDATE quote_submissions
SET payment_provider = $2, payment_intent_id = $3, payment_status = $4, updated_at = now()
WHERE id = $1::uuid`

// AttachPayment implements Ledger.
func (l PGLedger) AttachPayment(ctx context.Context, id uuid.UUID, intent payment.IntentResponse) error {
	tag, err := l.DB.Exec(ctx, attachPaymentSQL, id.String(), intent.Provider, intent.IntentID, intent.Status)
	if err != nil {
		return fmt.Errorf("attach payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", id, ErrSubmissionNotFound)
	}
	return nil
}

const selectSubmissionSQL = `SELECT id::text, session_id::text, patient_name, patient_email, notes, currency,
    handoff, payment_provider, COALESCE(payment_intent_id, ''), payment_status, created_at
FROM quote_submissions`

// Get implements Ledger.
func (l PGLedger) Get(ctx context.Context, id uuid.UUID) (Submission, error) {
	sub, err := l.scanSubmission(l.DB.QueryRow(ctx, selectSubmissionSQL+` WHERE id = $1::uuid`, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return Submission{}, fmt.Errorf("%s: %w", id, ErrSubmissionNotFound)
	}
	return sub, err
}

// PaymentByIntent implements payment.Payments.
func (l PGLedger) PaymentByIntent(ctx context.Context, intentID string) (payment.Record, error) {
	sub, err := l.scanSubmission(l.DB.QueryRow(ctx, selectSubmissionSQL+` WHERE payment_intent_id = $1`, intentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return payment.Record{}, fmt.Errorf("%s: %w", intentID, payment.ErrPaymentNotFound)
	}
	if err != nil {
		return payment.Record{}, err
	}
	return paymentRecord(sub), nil
}

const updatePaymentStatusSQL = `UPDATE quote_submissions
SET payment_status = $2, payment_payload = $3, updated_at = now()
WHERE payment_intent_id = $1`

// UpdatePaymentStatus implements payment.Payments.
func (l PGLedger) UpdatePaymentStatus(ctx context.Context, intentID, status string, payload []byte) error {
	var raw any
	if len(payload) > 0 && json.Valid(payload) {
		raw = payload
	}
	tag, err := l.DB.Exec(ctx, updatePaymentStatusSQL, intentID, status, raw)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", intentID, payment.ErrPaymentNotFound)
	}
	return nil
}

const insertEventSQL = `INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
VALUES ($1::uuid, $2, $3::uuid, $4, $5)`

// InsertEvent implements events.EventStore.
func (l PGLedger) InsertEvent(ctx context.Context, event events.Event) error {
	_, err := l.DB.Exec(ctx, insertEventSQL,
		event.ID.String(), event.Topic, event.AggregateID.String(), []byte(event.Payload), event.OccurredAt)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (l PGLedger) scanSubmission(row pgx.Row) (Submission, error) {
	var (
		sub       Submission
		id        string
		handoff   []byte
		createdAt time.Time
	)
	if err := row.Scan(&id, &sub.SessionID, &sub.PatientName, &sub.PatientEmail, &sub.Notes, &sub.Currency,
		&handoff, &sub.PaymentProvider, &sub.PaymentIntentID, &sub.PaymentStatus, &createdAt); err != nil {
		return Submission{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Submission{}, fmt.Errorf("submission id %q: %w", id, err)
	}
	sub.ID = parsed
	if err := json.Unmarshal(handoff, &sub.Handoff); err != nil {
		return Submission{}, fmt.Errorf("decode handoff: %w", err)
	}
	sub.CreatedAt = createdAt.UTC()
	return sub, nil
}
