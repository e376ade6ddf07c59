package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/steelhorse-mc/presence-engine/internal/errors"
)

// WebhookSink delivers notifications as JSON POSTs to the club's message
// relay. A 4xx response means the request itself is bad and is reported as
// permanent; everything else is transient and left to the retry policy.
type WebhookSink struct {
	url    string
	client *http.Client
}

func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		url: url,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (s *WebhookSink) Deliver(ctx context.Context, channel, templateID string, payload map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"channel":     channel,
		"template_id": templateID,
		"payload":     payload,
	})
	if err != nil {
		return apperrors.NotifierPermanent(fmt.Sprintf("marshal payload: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return apperrors.NotifierPermanent(fmt.Sprintf("create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		log.Debug().
			Str("channel", channel).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("webhook delivered")
		return nil
	}

	log.Error().
		Str("channel", channel).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("webhook delivery failed")

	// 429 is transient; the rest of 4xx will never succeed on retry
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return apperrors.NotifierPermanent(fmt.Sprintf("webhook rejected with status %d", resp.StatusCode))
	}
	return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
}
