// Package session tracks live "this match is live" displays, one per fixture.
package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sawdustofmind/livescore-fanout/internal/log"
	"github.com/sawdustofmind/livescore-fanout/internal/models"
)

// DefaultSinkTimeout bounds each call into the Sink.
const DefaultSinkTimeout = 2 * time.Second

// Attributes are fixed when a session starts.
type Attributes struct {
	HomeTeam    string    `json:"homeTeam"`
	AwayTeam    string    `json:"awayTeam"`
	HomeTeamID  int       `json:"homeTeamId"`
	AwayTeamID  int       `json:"awayTeamId"`
	Competition string    `json:"competition,omitempty"`
	Kickoff     time.Time `json:"kickoff"`
}

// ContentState is the mutable part of a session.
type ContentState struct {
	HomeGoals   int          `json:"homeGoals"`
	AwayGoals   int          `json:"awayGoals"`
	Status      string       `json:"status"`
	Phase       models.Phase `json:"phase"`
	Elapsed     int          `json:"elapsed"`
	HomeScorers []string     `json:"homeScorers"`
	AwayScorers []string     `json:"awayScorers"`
}

type Handle struct {
	ID         uuid.UUID    `json:"id"`
	FixtureID  int          `json:"fixtureId"`
	Attributes Attributes   `json:"attributes"`
	State      ContentState `json:"state"`
	StartedAt  time.Time    `json:"startedAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// Sink is the presentation facility that displays sessions.
type Sink interface {
	Start(ctx context.Context, h Handle) error
	Update(ctx context.Context, h Handle) error
	End(ctx context.Context, h Handle) error
}

// Registry maps fixture ids to active sessions. Duplicate starts and
// updates/ends of unknown fixtures report false rather than failing.
type Registry struct {
	sink        Sink
	sinkTimeout time.Duration
	now         func() time.Time

	mu     sync.Mutex
	active map[int]*Handle

	onChange func(active int)
}

func NewRegistry(sink Sink) *Registry {
	return &Registry{
		sink:        sink,
		sinkTimeout: DefaultSinkTimeout,
		now:         time.Now,
		active:      make(map[int]*Handle),
	}
}

// OnChange registers a callback invoked with the active count after every
// start or end.
func (r *Registry) OnChange(fn func(active int)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

func (r *Registry) Start(ctx context.Context, fixtureID int, attrs Attributes, initial ContentState) bool {
	r.mu.Lock()
	if _, ok := r.active[fixtureID]; ok {
		r.mu.Unlock()
		return false
	}
	now := r.now()
	h := &Handle{
		ID:         uuid.New(),
		FixtureID:  fixtureID,
		Attributes: attrs,
		State:      initial,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	r.active[fixtureID] = h
	started := *h
	r.mu.Unlock()

	if err := r.push(ctx, started, Sink.Start); err != nil {
		log.Error("Failed to start live session", zap.Int("fixture_id", fixtureID), zap.Error(err))
		r.mu.Lock()
		if cur, ok := r.active[fixtureID]; ok && cur.ID == started.ID {
			delete(r.active, fixtureID)
		}
		r.mu.Unlock()
		return false
	}

	r.mu.Lock()
	r.notifyLocked()
	r.mu.Unlock()
	log.Info("Live session started", zap.Int("fixture_id", fixtureID), zap.String("session_id", started.ID.String()))
	return true
}

func (r *Registry) Update(ctx context.Context, fixtureID int, state ContentState) bool {
	r.mu.Lock()
	h, ok := r.active[fixtureID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	h.State = state
	h.UpdatedAt = r.now()
	updated := *h
	r.mu.Unlock()

	if err := r.push(ctx, updated, Sink.Update); err != nil {
		log.Warn("Failed to update live session", zap.Int("fixture_id", fixtureID), zap.Error(err))
	}
	return true
}

// End removes the session, pushing final first when given.
func (r *Registry) End(ctx context.Context, fixtureID int, final *ContentState) bool {
	r.mu.Lock()
	h, ok := r.removeLocked(fixtureID, final)
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.pushEnd(ctx, h)
	return true
}

// EndAll ends every active session and returns how many were ended.
func (r *Registry) EndAll(ctx context.Context) int {
	r.mu.Lock()
	ended := make([]Handle, 0, len(r.active))
	for id := range r.active {
		if h, ok := r.removeLocked(id, nil); ok {
			ended = append(ended, h)
		}
	}
	r.mu.Unlock()

	for _, h := range ended {
		r.pushEnd(ctx, h)
	}
	return len(ended)
}

func (r *Registry) removeLocked(fixtureID int, final *ContentState) (Handle, bool) {
	h, ok := r.active[fixtureID]
	if !ok {
		return Handle{}, false
	}
	delete(r.active, fixtureID)
	if final != nil {
		h.State = *final
	}
	h.UpdatedAt = r.now()
	r.notifyLocked()
	return *h, true
}

func (r *Registry) pushEnd(ctx context.Context, h Handle) {
	if err := r.push(ctx, h, Sink.End); err != nil {
		log.Warn("Failed to end live session", zap.Int("fixture_id", h.FixtureID), zap.Error(err))
	}
	log.Info("Live session ended", zap.Int("fixture_id", h.FixtureID), zap.String("session_id", h.ID.String()))
}

// push calls the sink outside the registry lock, bounded by the sink
// timeout.
func (r *Registry) push(ctx context.Context, h Handle, call func(Sink, context.Context, Handle) error) error {
	if r.sink == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.sinkTimeout)
	defer cancel()
	return call(r.sink, ctx, h)
}

func (r *Registry) notifyLocked() {
	if r.onChange != nil {
		r.onChange(len(r.active))
	}
}

func (r *Registry) IsActive(fixtureID int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[fixtureID]
	return ok
}

func (r *Registry) Get(fixtureID int) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.active[fixtureID]
	if !ok {
		return Handle{}, false
	}
	return *h, true
}

// Active returns copies of all active sessions ordered by fixture id.
func (r *Registry) Active() []Handle {
	r.mu.Lock()
	out := make([]Handle, 0, len(r.active))
	for _, h := range r.active {
		out = append(out, *h)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].FixtureID < out[j].FixtureID })
	return out
}
