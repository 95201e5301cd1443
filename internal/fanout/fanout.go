// Package fanout pushes every reconciled fixture state to the local cache,
// the Snapshot Store and the live-session registry.
package fanout

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sawdustofmind/livescore-fanout/internal/ledger"
	"github.com/sawdustofmind/livescore-fanout/internal/log"
	"github.com/sawdustofmind/livescore-fanout/internal/metrics"
	"github.com/sawdustofmind/livescore-fanout/internal/models"
	"github.com/sawdustofmind/livescore-fanout/internal/reconcile"
	"github.com/sawdustofmind/livescore-fanout/internal/session"
	"github.com/sawdustofmind/livescore-fanout/internal/snapshot"
)

const (
	DefaultGoalLines = 3
	sessionGoalLines = 2
)

// FixtureCache is the host application's persistent fixture storage.
type FixtureCache interface {
	Upsert(ctx context.Context, f models.FixtureSnapshot) error
	All(ctx context.Context) ([]models.FixtureSnapshot, error)
}

type retainer interface {
	Retain(ctx context.Context, keep map[int]struct{}) error
}

type Options struct {
	// GoalLines is how many goal lines per side go into a Snapshot Store entry.
	GoalLines int
	// Interested decides whether a fixture gets a live session. Nil means
	// every fixture does.
	Interested func(f models.FixtureSnapshot) bool
	// OnGoal is called on the caller's goroutine for every newly seen goal.
	OnGoal func(f models.FixtureSnapshot, e models.MatchEvent)
}

type Fanout struct {
	cache    FixtureCache
	store    *snapshot.Store
	registry *session.Registry
	ledger   *ledger.Ledger
	queue    *Queue
	metrics  *metrics.Metrics
	opts     Options
}

func New(cache FixtureCache, store *snapshot.Store, registry *session.Registry, l *ledger.Ledger, q *Queue, m *metrics.Metrics, opts Options) *Fanout {
	if opts.GoalLines <= 0 {
		opts.GoalLines = DefaultGoalLines
	}
	if opts.Interested == nil {
		opts.Interested = func(models.FixtureSnapshot) bool { return true }
	}
	return &Fanout{
		cache:    cache,
		store:    store,
		registry: registry,
		ledger:   l,
		queue:    q,
		metrics:  m,
		opts:     opts,
	}
}

// FavoriteTeams returns an interest predicate matching fixtures where either
// side is in teams. An empty list matches every fixture.
func FavoriteTeams(teams []int) func(models.FixtureSnapshot) bool {
	if len(teams) == 0 {
		return func(models.FixtureSnapshot) bool { return true }
	}
	set := make(map[int]struct{}, len(teams))
	for _, id := range teams {
		set[id] = struct{}{}
	}
	return func(f models.FixtureSnapshot) bool {
		_, home := set[f.Home.ID]
		_, away := set[f.Away.ID]
		return home || away
	}
}

// Apply distributes one reconciled state. Persistence is queued and not
// awaited; session actions happen before Apply returns.
func (f *Fanout) Apply(ctx context.Context, tr reconcile.Transition, snap models.FixtureSnapshot, newEvents []models.MatchEvent) {
	if tr == reconcile.Stale {
		return
	}

	homeLines := f.ledger.GoalLines(snap.FixtureID, snap.Home.ID)
	awayLines := f.ledger.GoalLines(snap.FixtureID, snap.Away.ID)
	pres := snapshot.Build(snap, homeLines, awayLines, f.opts.GoalLines)

	f.queue.Submit(snap.FixtureID, func(ctx context.Context) {
		f.persist(ctx, snap, pres)
	})

	for _, e := range newEvents {
		if !e.IsGoal() {
			continue
		}
		log.Info("Goal",
			zap.Int("fixture_id", snap.FixtureID),
			zap.String("minute", e.Minute()),
			zap.String("team", e.TeamName),
			zap.String("player", e.Player),
			zap.String("score", fmt.Sprintf("%d-%d", snap.HomeGoals, snap.AwayGoals)),
		)
		if f.opts.OnGoal != nil {
			f.opts.OnGoal(snap, e)
		}
	}

	f.applySession(ctx, tr, snap, homeLines, awayLines)
}

func (f *Fanout) applySession(ctx context.Context, tr reconcile.Transition, snap models.FixtureSnapshot, homeLines, awayLines []string) {
	id := snap.FixtureID
	state := contentState(snap, homeLines, awayLines)
	active := f.registry.IsActive(id)

	switch snap.Phase.Bucket() {
	case models.BucketFinished:
		if active {
			f.registry.Update(ctx, id, state)
			f.registry.End(ctx, id, &state)
		}
	case models.BucketLive:
		switch {
		case active:
			f.registry.Update(ctx, id, state)
		case tr == reconcile.ToLive && f.opts.Interested(snap):
			if !f.registry.Start(ctx, id, attributes(snap), state) {
				log.Debug("Live session not started", zap.Int("fixture_id", id))
			}
		}
	default:
		// Forced back to upcoming: no session may outlive its live phase.
		if active {
			f.registry.End(ctx, id, &state)
		}
	}
}

func (f *Fanout) persist(ctx context.Context, snap models.FixtureSnapshot, pres snapshot.Presentation) {
	err := f.cache.Upsert(ctx, snap)
	f.metrics.ObserveWrite("cache", err)
	if err != nil {
		log.Error("Failed to write fixture to cache", zap.Int("fixture_id", snap.FixtureID), zap.Error(err))
	}

	err = f.store.Save(pres)
	f.metrics.ObserveWrite("snapshot_store", err)
	if err != nil {
		log.Error("Failed to write snapshot store", zap.Int("fixture_id", snap.FixtureID), zap.Error(err))
	}
}

// Prune drops every fixture not in keep from the Snapshot Store and the
// cache, and ends their sessions. Queued writes are flushed first so they
// cannot resurrect a dropped fixture.
func (f *Fanout) Prune(ctx context.Context, keep map[int]struct{}) error {
	if err := f.queue.Drain(ctx); err != nil {
		return fmt.Errorf("failed to drain fan-out queue: %w", err)
	}
	for _, h := range f.registry.Active() {
		if _, ok := keep[h.FixtureID]; !ok {
			f.registry.End(ctx, h.FixtureID, nil)
		}
	}
	if err := f.store.Prune(keep); err != nil {
		return fmt.Errorf("failed to prune snapshot store: %w", err)
	}
	if r, ok := f.cache.(retainer); ok {
		if err := r.Retain(ctx, keep); err != nil {
			return fmt.Errorf("failed to prune cache: %w", err)
		}
	}
	return nil
}

// Flush waits for queued persistence writes.
func (f *Fanout) Flush(ctx context.Context) error {
	return f.queue.Drain(ctx)
}

func (f *Fanout) Close(ctx context.Context) error {
	return f.queue.Close(ctx)
}

func attributes(snap models.FixtureSnapshot) session.Attributes {
	return session.Attributes{
		HomeTeam:    snap.Home.Name,
		AwayTeam:    snap.Away.Name,
		HomeTeamID:  snap.Home.ID,
		AwayTeamID:  snap.Away.ID,
		Competition: snap.Competition,
		Kickoff:     snap.Kickoff,
	}
}

func contentState(snap models.FixtureSnapshot, homeLines, awayLines []string) session.ContentState {
	return session.ContentState{
		HomeGoals:   snap.HomeGoals,
		AwayGoals:   snap.AwayGoals,
		Status:      snap.Status(),
		Phase:       snap.Phase,
		Elapsed:     snap.Elapsed,
		HomeScorers: snapshot.Tail(homeLines, sessionGoalLines),
		AwayScorers: snapshot.Tail(awayLines, sessionGoalLines),
	}
}
