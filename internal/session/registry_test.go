package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawdustofmind/livescore-fanout/internal/models"
)

type call struct {
	action  string
	fixture int
	state   ContentState
}

type recordingSink struct {
	mu        sync.Mutex
	calls     []call
	failStart bool
}

func (r *recordingSink) record(action string, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{action: action, fixture: h.FixtureID, state: h.State})
}

func (r *recordingSink) Start(_ context.Context, h Handle) error {
	if r.failStart {
		return errors.New("platform refused")
	}
	r.record("start", h)
	return nil
}

func (r *recordingSink) Update(_ context.Context, h Handle) error {
	r.record("update", h)
	return nil
}

func (r *recordingSink) End(_ context.Context, h Handle) error {
	r.record("end", h)
	return nil
}

func (r *recordingSink) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.action)
	}
	return out
}

func TestStartIsIdempotent(t *testing.T) {
	sink := &recordingSink{}
	r := NewRegistry(sink)
	ctx := context.Background()

	assert.True(t, r.Start(ctx, 1, Attributes{HomeTeam: "A"}, ContentState{HomeGoals: 1}))
	assert.False(t, r.Start(ctx, 1, Attributes{HomeTeam: "B"}, ContentState{}))

	h, ok := r.Get(1)
	require.True(t, ok)
	assert.Equal(t, "A", h.Attributes.HomeTeam)
	assert.Equal(t, []string{"start"}, sink.actions())
}

func TestUpdateAndEndUnknownFixture(t *testing.T) {
	sink := &recordingSink{}
	r := NewRegistry(sink)
	ctx := context.Background()

	assert.False(t, r.Update(ctx, 5, ContentState{}))
	assert.False(t, r.End(ctx, 5, nil))
	assert.Empty(t, sink.actions())
}

func TestLifecycle(t *testing.T) {
	sink := &recordingSink{}
	r := NewRegistry(sink)
	ctx := context.Background()

	var counts []int
	r.OnChange(func(n int) { counts = append(counts, n) })

	require.True(t, r.Start(ctx, 9, Attributes{}, ContentState{Phase: models.PhaseFirstHalf}))
	require.True(t, r.Update(ctx, 9, ContentState{HomeGoals: 1, Phase: models.PhaseSecondHalf}))
	final := ContentState{HomeGoals: 2, AwayGoals: 1, Phase: models.PhaseFinished, Status: "FT"}
	require.True(t, r.End(ctx, 9, &final))
	assert.False(t, r.End(ctx, 9, &final), "a session ends exactly once")

	assert.Equal(t, []string{"start", "update", "end"}, sink.actions())
	assert.Equal(t, "FT", sink.calls[2].state.Status)
	assert.False(t, r.IsActive(9))
	assert.Equal(t, []int{1, 0}, counts)
}

func TestStartFailureDoesNotRegister(t *testing.T) {
	r := NewRegistry(&recordingSink{failStart: true})
	assert.False(t, r.Start(context.Background(), 3, Attributes{}, ContentState{}))
	assert.False(t, r.IsActive(3))
}

func TestEndAll(t *testing.T) {
	sink := &recordingSink{}
	r := NewRegistry(sink)
	ctx := context.Background()
	for id := 1; id <= 3; id++ {
		require.True(t, r.Start(ctx, id, Attributes{}, ContentState{}))
	}
	assert.Len(t, r.Active(), 3)
	assert.Equal(t, 3, r.EndAll(ctx))
	assert.Empty(t, r.Active())
	assert.Equal(t, 0, r.EndAll(ctx))
}

func TestActiveIsSortedCopy(t *testing.T) {
	r := NewRegistry(nil)
	ctx := context.Background()
	r.Start(ctx, 30, Attributes{}, ContentState{})
	r.Start(ctx, 10, Attributes{}, ContentState{})
	active := r.Active()
	require.Len(t, active, 2)
	assert.Equal(t, 10, active[0].FixtureID)
	active[0].State.HomeGoals = 99
	h, _ := r.Get(10)
	assert.Equal(t, 0, h.State.HomeGoals)
}

// blockingSink holds every Update until release is closed or ctx expires.
type blockingSink struct {
	recordingSink
	release chan struct{}
}

func (b *blockingSink) Update(ctx context.Context, h Handle) error {
	select {
	case <-b.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	b.record("update", h)
	return nil
}

func TestSlowSinkDoesNotHoldRegistryLock(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	r := NewRegistry(sink)
	ctx := context.Background()
	require.True(t, r.Start(ctx, 1, Attributes{}, ContentState{}))

	done := make(chan bool, 1)
	go func() { done <- r.Update(ctx, 1, ContentState{HomeGoals: 1}) }()

	require.Eventually(t, func() bool {
		h, _ := r.Get(1)
		return h.State.HomeGoals == 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, r.Start(ctx, 2, Attributes{}, ContentState{}))
	assert.Len(t, r.Active(), 2)

	close(sink.release)
	assert.True(t, <-done)
	assert.Equal(t, []string{"start", "start", "update"}, sink.actions())
}

func TestSinkCallsAreBounded(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	r := NewRegistry(sink)
	r.sinkTimeout = 20 * time.Millisecond
	ctx := context.Background()
	require.True(t, r.Start(ctx, 1, Attributes{}, ContentState{}))

	began := time.Now()
	assert.True(t, r.Update(ctx, 1, ContentState{HomeGoals: 1}))
	assert.Less(t, time.Since(began), time.Second)
	assert.True(t, r.IsActive(1))
}
