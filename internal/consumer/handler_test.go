package consumer

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawdustofmind/livescore-fanout/internal/cache"
	"github.com/sawdustofmind/livescore-fanout/internal/fanout"
	"github.com/sawdustofmind/livescore-fanout/internal/ledger"
	"github.com/sawdustofmind/livescore-fanout/internal/models"
	"github.com/sawdustofmind/livescore-fanout/internal/reconcile"
	"github.com/sawdustofmind/livescore-fanout/internal/session"
	"github.com/sawdustofmind/livescore-fanout/internal/snapshot"
)

type sinkCall struct {
	action string
	state  session.ContentState
}

type recordingSink struct {
	mu    sync.Mutex
	calls []sinkCall
}

func (r *recordingSink) add(action string, h session.Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, sinkCall{action: action, state: h.State})
	return nil
}

func (r *recordingSink) Start(_ context.Context, h session.Handle) error  { return r.add("start", h) }
func (r *recordingSink) Update(_ context.Context, h session.Handle) error { return r.add("update", h) }
func (r *recordingSink) End(_ context.Context, h session.Handle) error    { return r.add("end", h) }

func (r *recordingSink) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []string{}
	for _, c := range r.calls {
		out = append(out, c.action)
	}
	return out
}

type env struct {
	handler  *Handler
	fan      *fanout.Fanout
	cache    *cache.SQLite
	store    *snapshot.Store
	registry *session.Registry
	sink     *recordingSink
}

func newEnv(t *testing.T, favorites []int) *env {
	t.Helper()
	dir := t.TempDir()
	c, err := cache.OpenSQLite(filepath.Join(dir, "fixtures.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	e := &env{
		cache: c,
		store: snapshot.NewStore(filepath.Join(dir, "snapshots.json"), snapshot.DefaultLimit),
		sink:  &recordingSink{},
	}
	e.registry = session.NewRegistry(e.sink)
	l := ledger.New()
	e.fan = fanout.New(c, e.store, e.registry, l, fanout.NewQueue(2, nil), nil, fanout.Options{
		Interested: fanout.FavoriteTeams(favorites),
	})
	t.Cleanup(func() { _ = e.fan.Close(context.Background()) })
	e.handler = NewHandler(l, e.fan, nil, Options{})
	return e
}

func (e *env) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, e.fan.Flush(ctx))
}

var base = time.Date(2024, 7, 14, 19, 0, 0, 0, time.UTC)

func update(id int, status string, elapsed, home, away int, at time.Time, events ...models.EventRecord) models.RawUpdate {
	return models.RawUpdate{
		Header:    models.Header{MessageGuid: status, TimeStampUtc: at},
		FixtureID: id,
		Type:      "fixture",
		Fixture: models.Fixture{
			Competitors: []models.Competitor{
				{ID: 1, Name: "Spain", HomeAway: models.Home},
				{ID: 2, Name: "England", HomeAway: models.Away},
			},
			Status:       status,
			Elapsed:      elapsed,
			StartTimeUtc: base.Add(10 * time.Minute),
			Competition:  "Euro 2024",
			Score:        models.Score{Home: home, Away: away},
		},
		Events: events,
	}
}

func TestEndToEndFixture9001(t *testing.T) {
	e := newEnv(t, []int{1})
	ctx := context.Background()

	tr, err := e.handler.ProcessUpdate(ctx, update(9001, "NS", 0, 0, 0, base))
	require.NoError(t, err)
	assert.Equal(t, reconcile.ToUpcoming, tr)
	e.flush(t)
	assert.False(t, e.registry.IsActive(9001))
	entries := e.store.Snapshots()
	require.Len(t, entries, 1)
	assert.Equal(t, "NS", entries[0].Status)

	goalA := models.EventRecord{Elapsed: 3, TeamID: 1, TeamName: "Spain", Player: "A", Type: "Goal", Detail: "Normal Goal"}
	tr, err = e.handler.ProcessUpdate(ctx, update(9001, "1H", 5, 1, 0, base.Add(15*time.Minute), goalA))
	require.NoError(t, err)
	assert.Equal(t, reconcile.ToLive, tr)
	e.flush(t)
	require.Len(t, e.registry.Active(), 1)
	require.Equal(t, []string{"start"}, e.sink.actions())
	assert.Equal(t, 1, e.sink.calls[0].state.HomeGoals)
	assert.Equal(t, 0, e.sink.calls[0].state.AwayGoals)
	entries = e.store.Snapshots()
	require.Len(t, entries, 1)
	assert.Equal(t, "1H", entries[0].Status)
	assert.Equal(t, 300, entries[0].ElapsedSeconds)
	assert.Equal(t, []string{"3' A"}, entries[0].HomeScorers)

	goalB := models.EventRecord{Elapsed: 70, TeamID: 2, TeamName: "England", Player: "B", Type: "Goal"}
	goalC := models.EventRecord{Elapsed: 86, TeamID: 1, TeamName: "Spain", Player: "C", Assist: "D", Type: "Goal"}
	tr, err = e.handler.ProcessUpdate(ctx, update(9001, "FT", 90, 2, 1, base.Add(2*time.Hour), goalA, goalB, goalC))
	require.NoError(t, err)
	assert.Equal(t, reconcile.ToFinished, tr)
	e.flush(t)
	assert.Equal(t, []string{"start", "update", "end"}, e.sink.actions())
	assert.Equal(t, "FT", e.sink.calls[1].state.Status)
	assert.Equal(t, 2, e.sink.calls[1].state.HomeGoals)
	assert.Empty(t, e.registry.Active())

	entries = e.store.Snapshots()
	require.Len(t, entries, 1)
	assert.Equal(t, "FT", entries[0].Status)
	assert.Equal(t, []string{"3' A", "86' C (Ast. D)"}, entries[0].HomeScorers)
	assert.Equal(t, []string{"70' B"}, entries[0].AwayScorers)

	cached, err := e.cache.All(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, models.PhaseFinished, cached[0].Phase)
}

func TestFixtureNotOfInterestGetsNoSession(t *testing.T) {
	e := newEnv(t, []int{42})
	_, err := e.handler.ProcessUpdate(context.Background(), update(1, "1H", 5, 0, 0, base))
	require.NoError(t, err)
	assert.Empty(t, e.registry.Active())
}

func TestStaleUpdateAfterFinish(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	_, err := e.handler.ProcessUpdate(ctx, update(5, "FT", 90, 1, 0, base))
	require.NoError(t, err)

	tr, err := e.handler.ProcessUpdate(ctx, update(5, "1H", 30, 0, 0, base.Add(time.Minute)))
	require.NoError(t, err)
	assert.Equal(t, reconcile.Stale, tr)

	f, ok := e.handler.Fixture(5)
	require.True(t, ok)
	assert.Equal(t, models.PhaseFinished, f.Phase)
	assert.Equal(t, 1, f.HomeGoals)
	assert.Empty(t, e.registry.Active())
}

func TestDuplicateEventsNotifyOnce(t *testing.T) {
	e := newEnv(t, nil)
	var goals []string
	e.fan = fanout.New(e.cache, e.store, e.registry, e.handler.ledger, fanout.NewQueue(1, nil), nil, fanout.Options{
		OnGoal: func(_ models.FixtureSnapshot, ev models.MatchEvent) { goals = append(goals, ev.Player) },
	})
	e.handler.fanout = e.fan
	ctx := context.Background()

	g := models.EventRecord{Elapsed: 12, TeamID: 1, Player: "Morata", Type: "Goal"}
	_, err := e.handler.ProcessUpdate(ctx, update(3, "1H", 12, 1, 0, base, g))
	require.NoError(t, err)
	_, err = e.handler.ProcessUpdate(ctx, update(3, "1H", 14, 1, 0, base.Add(2*time.Minute), g))
	require.NoError(t, err)

	assert.Equal(t, []string{"Morata"}, goals)
	assert.Len(t, e.handler.ledger.Events(3), 1)
}

func TestInvalidUpdateIsDropped(t *testing.T) {
	e := newEnv(t, nil)
	u := update(8, "1H", 5, 0, 0, base)
	u.Fixture.Competitors = u.Fixture.Competitors[:1]

	_, err := e.handler.ProcessUpdate(context.Background(), u)
	require.ErrorIs(t, err, models.ErrMissingCompetitor)
	_, ok := e.handler.Fixture(8)
	assert.False(t, ok)
}

func TestResync(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	_, err := e.handler.ProcessUpdate(ctx, update(1, "2H", 60, 1, 0, base))
	require.NoError(t, err)
	_, err = e.handler.ProcessUpdate(ctx, update(2, "FT", 90, 3, 3, base))
	require.NoError(t, err)
	require.True(t, e.registry.IsActive(1))

	// Administrative reload: fixture 2 is reset to upcoming, fixture 1 is gone.
	require.NoError(t, e.handler.Resync(ctx, []models.RawUpdate{update(2, "NS", 0, 0, 0, base.Add(time.Hour))}))
	e.flush(t)

	fixtures := e.handler.Fixtures()
	require.Len(t, fixtures, 1)
	assert.Equal(t, 2, fixtures[0].FixtureID)
	assert.Equal(t, models.PhaseUpcoming, fixtures[0].Phase)
	assert.False(t, e.registry.IsActive(1))

	entries := e.store.Snapshots()
	require.Len(t, entries, 1)
	assert.Equal(t, "NS", entries[0].Status)
	cached, err := e.cache.All(ctx)
	require.NoError(t, err)
	require.Len(t, cached, 1)
	assert.Equal(t, 2, cached[0].FixtureID)
}

func TestResyncKeepsFixtureWithRejectedEntry(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	_, err := e.handler.ProcessUpdate(ctx, update(7, "2H", 60, 1, 0, base))
	require.NoError(t, err)
	e.flush(t)
	require.True(t, e.registry.IsActive(7))

	bad := update(7, "2H", 65, 1, 0, base.Add(5*time.Minute))
	bad.Fixture.Competitors = nil
	require.Error(t, e.handler.Resync(ctx, []models.RawUpdate{bad}))
	e.flush(t)

	f, ok := e.handler.Fixture(7)
	require.True(t, ok)
	assert.Equal(t, 60, f.Elapsed)
	assert.True(t, e.registry.IsActive(7))
	assert.Len(t, e.store.Snapshots(), 1)
	cached, err := e.cache.All(ctx)
	require.NoError(t, err)
	assert.Len(t, cached, 1)
}

func TestHasLiveFalseWhenOnlyFinished(t *testing.T) {
	e := newEnv(t, nil)
	_, err := e.handler.ProcessUpdate(context.Background(), update(6, "FT", 90, 0, 0, base))
	require.NoError(t, err)

	live, err := e.handler.HasLive(context.Background())
	require.NoError(t, err)
	assert.False(t, live)
}

func TestWarmAndHasLive(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	require.NoError(t, e.cache.Upsert(ctx, models.FixtureSnapshot{FixtureID: 4, Phase: models.PhaseHalfTime}))
	require.NoError(t, e.cache.Upsert(ctx, models.FixtureSnapshot{FixtureID: 6, Phase: models.PhaseFinished}))

	live, err := e.handler.HasLive(ctx)
	require.NoError(t, err)
	assert.True(t, live, "nothing known yet keeps the stream wanted")

	n, err := e.handler.Warm(ctx, e.cache)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	live, err = e.handler.HasLive(ctx)
	require.NoError(t, err)
	assert.True(t, live)
}

func TestHasLiveKickoffWindow(t *testing.T) {
	e := newEnv(t, nil)
	e.handler.now = func() time.Time { return base }
	_, err := e.handler.ProcessUpdate(context.Background(), update(9001, "NS", 0, 0, 0, base))
	require.NoError(t, err)

	live, err := e.handler.HasLive(context.Background())
	require.NoError(t, err)
	assert.True(t, live, "kickoff in 10 minutes is within the default lead")
}
