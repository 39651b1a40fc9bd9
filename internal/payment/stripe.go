package payment

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SignatureHeader carries the webhook signature in the form "t=<unix>,v1=<hex>".
const SignatureHeader = "Stripe-Signature"

// Stripe implements Provider for Stripe style payment intents. Intents are
// synthesised locally so the rest of the flow can run without network access;
// webhooks are verified with the shared signing secret.
type Stripe struct {
	WebhookSecret string
	Tolerance     time.Duration
	Now           func() time.Time
}

// Name implements Provider.
func (s Stripe) Name() string { return "stripe" }

// CreateIntent issues an intent id and client secret for the submission.
func (s Stripe) CreateIntent(_ context.Context, req IntentRequest) (IntentResponse, error) {
	if req.SubmissionID == uuid.Nil {
		return IntentResponse{}, errors.New("submission id is required")
	}
	if req.Amount < 0 {
		return IntentResponse{}, fmt.Errorf("amount %d must not be negative", req.Amount)
	}
	secret, err := randomHex(12)
	if err != nil {
		return IntentResponse{}, fmt.Errorf("generate client secret: %w", err)
	}
	intentID := "pi_" + strings.ReplaceAll(req.SubmissionID.String(), "-", "")
	ttl := req.ExpiresIn
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	status := StatusPending
	if req.Amount == 0 {
		status = StatusPaid
	}
	return IntentResponse{
		Provider:     s.Name(),
		IntentID:     intentID,
		ClientSecret: intentID + "_secret_" + secret,
		Status:       status,
		ExpiresAt:    s.now().Add(ttl).UTC(),
	}, nil
}

// VerifyWebhook validates the signature header and normalises the event body.
func (s Stripe) VerifyWebhook(r *http.Request, body []byte) (WebhookVerifyResult, error) {
	header := ""
	if r != nil {
		header = r.Header.Get(SignatureHeader)
	}
	ts, provided, err := parseSignatureHeader(header)
	if err != nil {
		return WebhookVerifyResult{Valid: false, Err: err}, nil
	}
	tolerance := s.Tolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	if age := s.now().Sub(time.Unix(ts, 0)); age > tolerance || age < -tolerance {
		return WebhookVerifyResult{Valid: false, Err: errors.New("signature timestamp outside tolerance")}, nil
	}
	expected := SignPayload(s.WebhookSecret, ts, body)
	if expected == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
		return WebhookVerifyResult{Valid: false, Err: errors.New("invalid signature")}, nil
	}

	var payload struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID     string `json:"id"`
				Amount int64  `json:"amount"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return WebhookVerifyResult{Valid: false, Err: err}, nil
	}
	if payload.Data.Object.ID == "" {
		return WebhookVerifyResult{Valid: false, Err: errors.New("missing intent id")}, nil
	}
	return WebhookVerifyResult{
		Valid:           true,
		IntentID:        payload.Data.Object.ID,
		Amount:          payload.Data.Object.Amount,
		Status:          normaliseStripeEvent(payload.Type),
		ProviderPayload: body,
	}, nil
}

// SignPayload computes the v1 signature for body at unix time ts.
func SignPayload(secret string, ts int64, body []byte) string {
	key := strings.TrimSpace(secret)
	if key == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseSignatureHeader(header string) (int64, string, error) {
	var (
		ts     int64
		sig    string
		tsSeen bool
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			parsed, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return 0, "", fmt.Errorf("invalid signature timestamp: %w", err)
			}
			ts, tsSeen = parsed, true
		case "v1":
			if sig == "" {
				sig = value
			}
		}
	}
	if !tsSeen || sig == "" {
		return 0, "", errors.New("missing signature")
	}
	return ts, sig, nil
}

func normaliseStripeEvent(eventType string) string {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "payment_intent.succeeded":
		return StatusPaid
	case "payment_intent.payment_failed":
		return StatusFailed
	case "payment_intent.canceled":
		return StatusExpired
	case "charge.refunded":
		return StatusRefunded
	case "payment_intent.created", "payment_intent.processing", "payment_intent.requires_action":
		return StatusPending
	default:
		// not a status change we track
		return ""
	}
}

func (s Stripe) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
