package producer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sawdustofmind/livescore-fanout/internal/log"
	"github.com/sawdustofmind/livescore-fanout/internal/models"
)

// Replayer is an in-process subscription over recorded updates. Each
// Subscribe call replays from the first update and ends normally after the
// last one.
type Replayer struct {
	updates []ParsedUpdate
	pace    time.Duration
	wait    func(ctx context.Context, d time.Duration) bool
}

func NewReplayer(updates []ParsedUpdate, pace time.Duration) *Replayer {
	return &Replayer{updates: updates, pace: pace, wait: sleepContext}
}

func (r *Replayer) Subscribe(ctx context.Context, deliver func(models.RawUpdate)) error {
	log.Info("Replaying recorded updates", zap.Int("update_count", len(r.updates)), zap.Duration("pace", r.pace))
	for i, p := range r.updates {
		if i > 0 && !r.wait(ctx, r.pace) {
			return ctx.Err()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		deliver(restamp(p.Update))
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
