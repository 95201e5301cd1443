package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/sawdustofmind/livescore-fanout/internal/log"
	"github.com/sawdustofmind/livescore-fanout/internal/models"
)

const fixturesSet = "fixtures"

func FixtureKey(id int) string {
	return fmt.Sprintf("fixture:%d", id)
}

// Redis stores each fixture as a hash under fixture:<id>. The flat fields
// are for humans poking at redis-cli; the snapshot field is authoritative.
type Redis struct {
	client *redis.Client
}

func NewRedis(addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Connected to Redis fixture cache", zap.String("address", addr))
	return &Redis{client: client}, nil
}

func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Upsert(ctx context.Context, f models.FixtureSnapshot) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal fixture %d: %w", f.FixtureID, err)
	}
	fields := map[string]interface{}{
		"home_team":      f.Home.Name,
		"away_team":      f.Away.Name,
		"home_goals":     f.HomeGoals,
		"away_goals":     f.AwayGoals,
		"fixture_status": f.Status(),
		"elapsed":        f.Elapsed,
		"start_time":     f.Kickoff.Format(time.RFC3339),
		"timestamp":      f.LastUpdated.Format(time.RFC3339Nano),
		"snapshot":       string(payload),
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, FixtureKey(f.FixtureID), fields)
	pipe.SAdd(ctx, fixturesSet, f.FixtureID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store fixture %d: %w", f.FixtureID, err)
	}
	return nil
}

func (r *Redis) All(ctx context.Context) ([]models.FixtureSnapshot, error) {
	members, err := r.client.SMembers(ctx, fixturesSet).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list fixtures: %w", err)
	}

	out := []models.FixtureSnapshot{}
	for _, m := range members {
		id, err := strconv.Atoi(m)
		if err != nil {
			log.Warn("Skipping malformed fixture id in cache", zap.String("member", m))
			continue
		}
		payload, err := r.client.HGet(ctx, FixtureKey(id), "snapshot").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read fixture %d: %w", id, err)
		}
		var f models.FixtureSnapshot
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			log.Warn("Skipping undecodable cached fixture", zap.Int("fixture_id", id), zap.Error(err))
			continue
		}
		out = append(out, f)
	}
	sortByID(out)
	return out, nil
}

func (r *Redis) Retain(ctx context.Context, keep map[int]struct{}) error {
	members, err := r.client.SMembers(ctx, fixturesSet).Result()
	if err != nil {
		return fmt.Errorf("failed to list fixtures: %w", err)
	}
	for _, m := range members {
		id, err := strconv.Atoi(m)
		if err == nil {
			if _, ok := keep[id]; ok {
				continue
			}
		}
		pipe := r.client.TxPipeline()
		if err == nil {
			pipe.Del(ctx, FixtureKey(id))
		}
		pipe.SRem(ctx, fixturesSet, m)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop fixture %s: %w", m, err)
		}
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
