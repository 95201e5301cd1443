package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sawdustofmind/livescore-fanout/internal/log"
	"github.com/sawdustofmind/livescore-fanout/internal/models"
)

const heartbeatInterval = 60 * time.Second

// Sender pushes updates straight into a consumer's admin API.
type Sender struct {
	httpClient  *http.Client
	consumerURL string
}

func NewSender(consumerURL string) *Sender {
	return &Sender{
		consumerURL: consumerURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *Sender) SendHeartbeat(ctx context.Context) error {
	url := fmt.Sprintf("%s/heartbeat", s.consumerURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create heartbeat request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send heartbeat: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Error("Failed to close heartbeat response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("heartbeat returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *Sender) SendUpdate(ctx context.Context, u models.RawUpdate) error {
	return s.post(ctx, "/process-msg", restamp(u))
}

// SendResync posts a full fixture set to the consumer's refresh endpoint.
func (s *Sender) SendResync(ctx context.Context, updates []models.RawUpdate) error {
	return s.post(ctx, "/refresh", updates)
}

func (s *Sender) post(ctx context.Context, path string, body interface{}) error {
	url := s.consumerURL + path

	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Error("Failed to close response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("%s returned status %d and failed to read body", path, resp.StatusCode)
		}
		return fmt.Errorf("%s returned status %d: %s", path, resp.StatusCode, string(body))
	}
	return nil
}

// Replay posts updates one by one, at most one per pace, with a heartbeat
// every minute. Failed sends are logged and skipped.
func (s *Sender) Replay(ctx context.Context, updates []ParsedUpdate, pace time.Duration) error {
	if err := s.SendHeartbeat(ctx); err != nil {
		return err
	}

	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()

	for i, p := range updates {
		if i > 0 && !sleepContext(ctx, pace) {
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeatTicker.C:
			if err := s.SendHeartbeat(ctx); err != nil {
				log.Error("Heartbeat failed", zap.Error(err))
			}
		default:
		}

		if err := s.SendUpdate(ctx, p.Update); err != nil {
			log.Error("Failed to send update",
				zap.Int("line_number", p.LineNumber),
				zap.String("message_guid", p.Update.Header.MessageGuid),
				zap.Error(err),
			)
			continue
		}
		log.Info("Sent update",
			zap.Int("line_number", p.LineNumber),
			zap.Int("progress", i+1),
			zap.Int("total_updates", len(updates)),
			zap.Int("fixture_id", p.Update.FixtureID),
			zap.String("status", p.Update.Fixture.Status),
			zap.Time("original_timestamp", p.OriginalTimestamp),
		)
	}
	return nil
}
