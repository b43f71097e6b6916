// Package callback posts run outcomes to the caller-supplied evaluation URL.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/pagesmith/internal/errors"
	"github.com/p-blackswan/pagesmith/internal/metrics"
	"github.com/p-blackswan/pagesmith/internal/retry"
)

const userAgent = "pagesmith-callback/1.0"

// Reporter delivers a JSON payload with bounded exponential backoff.
type Reporter struct {
	client  *http.Client
	policy  retry.Policy
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewReporter creates a reporter. A nil client gets a 30s timeout.
func NewReporter(client *http.Client, policy retry.Policy, m *metrics.Metrics, logger zerolog.Logger) *Reporter {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Reporter{
		client:  client,
		policy:  policy,
		metrics: m,
		logger:  logger.With().Str("component", "callbacks").Logger(),
	}
}

// Report POSTs payload to url until one attempt returns exactly 200 or the
// policy is exhausted. Returns nil if url is empty.
func (r *Reporter) Report(ctx context.Context, url string, payload any) error {
	if url == "" {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling callback payload: %w", err)
	}

	log := r.logger.With().Str("url", url).Logger()
	policy := r.policy
	policy.OnFailure = func(attempt int, err error) {
		r.metrics.RecordCallbackAttempt("failure")
		log.Warn().Err(err).Int("attempt", attempt).Int("status", perrors.StatusCode(err)).Msg("callback delivery failed")
	}

	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		return r.post(ctx, url, body)
	})
	if err != nil {
		log.Error().Err(err).Msg("giving up on callback")
		return err
	}
	r.metrics.RecordCallbackAttempt("success")
	log.Info().Msg("callback delivered")
	return nil
}

func (r *Reporter) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback http: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	if resp.StatusCode != http.StatusOK {
		return perrors.NewAPIError("callback", resp.StatusCode, string(bytes.TrimSpace(snippet)))
	}
	return nil
}
