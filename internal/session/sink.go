package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/sawdustofmind/livescore-fanout/internal/log"
)

// LogSink only logs session lifecycle events.
type LogSink struct{}

func (LogSink) Start(_ context.Context, h Handle) error {
	log.Named("session").Info("Start", zap.Int("fixture_id", h.FixtureID), zap.Any("state", h.State))
	return nil
}

func (LogSink) Update(_ context.Context, h Handle) error {
	log.Named("session").Debug("Update", zap.Int("fixture_id", h.FixtureID), zap.Any("state", h.State))
	return nil
}

func (LogSink) End(_ context.Context, h Handle) error {
	log.Named("session").Info("End", zap.Int("fixture_id", h.FixtureID), zap.Any("state", h.State))
	return nil
}

const (
	SessionsChannel  = "sessions"
	sessionKeyPrefix = "session"
)

// Envelope is what RedisSink publishes on SessionsChannel.
type Envelope struct {
	Action string `json:"action"`
	Handle Handle `json:"session"`
}

// RedisSink stores each active session in a hash and publishes every
// lifecycle change so out-of-process displays can follow along.
type RedisSink struct {
	client *redis.Client
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

func SessionKey(fixtureID int) string {
	return fmt.Sprintf("%s:%d", sessionKeyPrefix, fixtureID)
}

func (s *RedisSink) Start(ctx context.Context, h Handle) error {
	return s.store(ctx, "start", h)
}

func (s *RedisSink) Update(ctx context.Context, h Handle) error {
	return s.store(ctx, "update", h)
}

func (s *RedisSink) End(ctx context.Context, h Handle) error {
	payload, err := json.Marshal(Envelope{Action: "end", Handle: h})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, SessionKey(h.FixtureID))
	pipe.Publish(ctx, SessionsChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

func (s *RedisSink) store(ctx context.Context, action string, h Handle) error {
	state, err := json.Marshal(h.State)
	if err != nil {
		return fmt.Errorf("marshal session state: %w", err)
	}
	payload, err := json.Marshal(Envelope{Action: action, Handle: h})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	data := map[string]interface{}{
		"session_id": h.ID.String(),
		"home_team":  h.Attributes.HomeTeam,
		"away_team":  h.Attributes.AwayTeam,
		"kickoff":    h.Attributes.Kickoff.Format(time.RFC3339),
		"state":      string(state),
		"updated_at": h.UpdatedAt.Format(time.RFC3339),
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, SessionKey(h.FixtureID), data)
	pipe.Publish(ctx, SessionsChannel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

// Multi fans a session lifecycle out to several sinks. Every sink is called
// and their errors are joined.
type Multi []Sink

func (m Multi) Start(ctx context.Context, h Handle) error {
	return m.each(func(s Sink) error { return s.Start(ctx, h) })
}

func (m Multi) Update(ctx context.Context, h Handle) error {
	return m.each(func(s Sink) error { return s.Update(ctx, h) })
}

func (m Multi) End(ctx context.Context, h Handle) error {
	return m.each(func(s Sink) error { return s.End(ctx, h) })
}

func (m Multi) each(fn func(Sink) error) error {
	var errs []error
	for _, s := range m {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
