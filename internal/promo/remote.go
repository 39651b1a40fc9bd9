package promo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/dental-quote/internal/common"
	"github.com/noah-isme/dental-quote/internal/pricing"
	"github.com/noah-isme/dental-quote/internal/resilience"
)

const maxResponseBytes = 1 << 20

// Doer executes outbound HTTP requests. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// RemoteResolver delegates code validation to the promo validation service.
type RemoteResolver struct {
	URL    string
	HTTP   Doer
	Logger zerolog.Logger
}

// NewHTTPClient returns an instrumented client for promo validation calls.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Resolve implements Resolver. Transport failures, open circuits, server errors and
// undecodable answers map to ErrResolverUnavailable; only an explicit valid=false
// answer maps to ErrInvalidCode.
func (r RemoteResolver) Resolve(ctx context.Context, code string, treatmentIDs []string) (pricing.Rule, error) {
	rule, err := r.resolve(ctx, code, treatmentIDs)
	observe("remote", err)
	if err != nil && errors.Is(err, ErrResolverUnavailable) {
		evt := r.Logger.Warn().Err(err).Str("code", NormalizeCode(code))
		if sessionID, ok := common.SessionID(ctx); ok {
			evt = evt.Str("session_id", sessionID)
		}
		evt.Msg("promo_remote_unavailable")
	}
	return rule, err
}

func (r RemoteResolver) resolve(ctx context.Context, code string, treatmentIDs []string) (pricing.Rule, error) {
	normalized := NormalizeCode(code)
	if normalized == "" {
		return pricing.Rule{}, ErrInvalidCode
	}
	if r.HTTP == nil || strings.TrimSpace(r.URL) == "" {
		return pricing.Rule{}, fmt.Errorf("remote resolver not configured: %w", ErrResolverUnavailable)
	}
	if treatmentIDs == nil {
		treatmentIDs = []string{}
	}
	body, err := json.Marshal(ValidateRequest{Code: normalized, TreatmentIDs: treatmentIDs})
	if err != nil {
		return pricing.Rule{}, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, bytes.NewReader(body))
	if err != nil {
		return pricing.Rule{}, fmt.Errorf("build request: %v: %w", err, ErrResolverUnavailable)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.HTTP.Do(ctx, req)
	if err != nil {
		return pricing.Rule{}, fmt.Errorf("validate code: %v: %w", err, ErrResolverUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusUnprocessableEntity {
		return pricing.Rule{}, fmt.Errorf("validate code: status %d: %w", resp.StatusCode, ErrResolverUnavailable)
	}
	var out ValidateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return pricing.Rule{}, fmt.Errorf("decode response: %v: %w", err, ErrResolverUnavailable)
	}
	if !out.Valid {
		return pricing.Rule{}, fmt.Errorf("remote rejected %q: %w", normalized, ErrInvalidCode)
	}
	rule, err := out.Rule(normalized)
	if err != nil {
		return pricing.Rule{}, fmt.Errorf("malformed rule from remote: %v: %w", err, ErrResolverUnavailable)
	}
	return rule, nil
}

var _ Doer = (*resilience.HTTPClient)(nil)
