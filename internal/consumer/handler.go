package consumer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sawdustofmind/livescore-fanout/internal/cache"
	"github.com/sawdustofmind/livescore-fanout/internal/fanout"
	"github.com/sawdustofmind/livescore-fanout/internal/ledger"
	"github.com/sawdustofmind/livescore-fanout/internal/log"
	"github.com/sawdustofmind/livescore-fanout/internal/metrics"
	"github.com/sawdustofmind/livescore-fanout/internal/models"
	"github.com/sawdustofmind/livescore-fanout/internal/reconcile"
)

const (
	DefaultKickoffLead  = 10 * time.Minute
	DefaultKickoffGrace = 3 * time.Hour
)

// Applier distributes reconciled state.
type Applier interface {
	Apply(ctx context.Context, tr reconcile.Transition, snap models.FixtureSnapshot, newEvents []models.MatchEvent)
	Prune(ctx context.Context, keep map[int]struct{}) error
}

type Options struct {
	KickoffLead  time.Duration
	KickoffGrace time.Duration
}

// Handler owns the canonical fixture map. It is not safe for concurrent use:
// every method must run on the consumer Loop.
type Handler struct {
	fixtures map[int]*models.FixtureSnapshot
	ledger   *ledger.Ledger
	fanout   Applier
	metrics  *metrics.Metrics
	now      func() time.Time
	lead     time.Duration
	grace    time.Duration
}

func NewHandler(l *ledger.Ledger, f Applier, m *metrics.Metrics, opts Options) *Handler {
	if opts.KickoffLead <= 0 {
		opts.KickoffLead = DefaultKickoffLead
	}
	if opts.KickoffGrace <= 0 {
		opts.KickoffGrace = DefaultKickoffGrace
	}
	return &Handler{
		fixtures: make(map[int]*models.FixtureSnapshot),
		ledger:   l,
		fanout:   f,
		metrics:  m,
		now:      time.Now,
		lead:     opts.KickoffLead,
		grace:    opts.KickoffGrace,
	}
}

// ProcessUpdate reconciles one update against canonical state, records its
// events and hands the result to fan-out.
func (h *Handler) ProcessUpdate(ctx context.Context, u models.RawUpdate) (reconcile.Transition, error) {
	current := h.fixtures[u.FixtureID]
	next, tr, err := reconcile.Reconcile(current, u)
	if err != nil {
		h.metrics.IncUpdateErrors()
		log.Warn("Dropping update",
			zap.Int("fixture_id", u.FixtureID),
			zap.String("message_guid", u.Header.MessageGuid),
			zap.Error(err),
		)
		return reconcile.Unchanged, err
	}
	h.metrics.ObserveUpdate(tr.String())

	if tr == reconcile.Stale {
		h.metrics.IncStale()
		log.Debug("Rejected stale update",
			zap.Int("fixture_id", u.FixtureID),
			zap.String("current", current.Phase.String()),
			zap.String("incoming", u.Fixture.Status),
		)
		return tr, nil
	}

	var fresh []models.MatchEvent
	if u.ForceResync {
		h.ledger.Replace(u.FixtureID, u.MatchEvents())
	} else {
		fresh = h.ledger.Record(u.FixtureID, u.MatchEvents())
	}
	h.fixtures[u.FixtureID] = &next

	if tr != reconcile.Unchanged {
		log.Info("Fixture transition",
			zap.Int("fixture_id", next.FixtureID),
			zap.String("transition", tr.String()),
			zap.String("status", next.Status()),
			zap.Int("home_goals", next.HomeGoals),
			zap.Int("away_goals", next.AwayGoals),
		)
	}
	h.fanout.Apply(ctx, tr, next, fresh)
	return tr, nil
}

// Resync force-applies a full fixture set and drops every tracked fixture
// that is not part of it. A fixture whose entry is rejected keeps its
// current state.
func (h *Handler) Resync(ctx context.Context, updates []models.RawUpdate) error {
	keep := make(map[int]struct{}, len(updates))
	rejected := 0
	for _, u := range updates {
		u.ForceResync = true
		keep[u.FixtureID] = struct{}{}
		if _, err := h.ProcessUpdate(ctx, u); err != nil {
			rejected++
		}
	}

	for id := range h.fixtures {
		if _, ok := keep[id]; !ok {
			delete(h.fixtures, id)
		}
	}
	h.ledger.Retain(keep)
	if err := h.fanout.Prune(ctx, keep); err != nil {
		return fmt.Errorf("failed to prune after resync: %w", err)
	}

	log.Info("Resync complete", zap.Int("fixtures", len(keep)), zap.Int("rejected", rejected))
	if rejected > 0 {
		return fmt.Errorf("resync rejected %d of %d updates", rejected, len(updates))
	}
	return nil
}

// Warm seeds canonical state from the persistent cache. Fixtures already
// tracked are left alone.
func (h *Handler) Warm(ctx context.Context, c fanout.FixtureCache) (int, error) {
	fixtures, err := c.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load cached fixtures: %w", err)
	}
	n := 0
	for i := range fixtures {
		f := fixtures[i]
		if _, ok := h.fixtures[f.FixtureID]; ok {
			continue
		}
		h.fixtures[f.FixtureID] = &f
		n++
	}
	log.Info("Warmed fixture state from cache", zap.Int("fixtures", n))
	return n, nil
}

// Fixtures returns copies of canonical state ordered by fixture id.
func (h *Handler) Fixtures() []models.FixtureSnapshot {
	out := make([]models.FixtureSnapshot, 0, len(h.fixtures))
	for _, f := range h.fixtures {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FixtureID < out[j].FixtureID })
	return out
}

func (h *Handler) Fixture(id int) (models.FixtureSnapshot, bool) {
	f, ok := h.fixtures[id]
	if !ok {
		return models.FixtureSnapshot{}, false
	}
	return *f, true
}

// HasLive is the liveness predicate over canonical state. It holds while
// no fixture is known yet so the stream stays wanted until the first
// fixture set arrives.
func (h *Handler) HasLive(context.Context) (bool, error) {
	if len(h.fixtures) == 0 {
		return true, nil
	}
	return cache.AnyLive(h.Fixtures(), h.now(), h.lead, h.grace), nil
}
