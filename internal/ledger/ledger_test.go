package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawdustofmind/livescore-fanout/internal/models"
)

func goal(minute, extra, team int, player, assist, detail string) models.MatchEvent {
	return models.MatchEvent{Elapsed: minute, Extra: extra, TeamID: team, Player: player, Assist: assist, Type: models.EventGoal, Detail: detail}
}

func TestRecordIsIdempotent(t *testing.T) {
	l := New()
	events := []models.MatchEvent{
		goal(3, 0, 1, "A", "", "Normal Goal"),
		{Elapsed: 20, TeamID: 2, Player: "B", Type: models.EventCard, Detail: "Yellow Card"},
		goal(40, 0, 2, "C", "D", "Normal Goal"),
	}

	first := l.Record(9001, events)
	require.Len(t, first, 3)
	once := l.Events(9001)

	second := l.Record(9001, events)
	assert.Empty(t, second)
	assert.Equal(t, once, l.Events(9001))
}

func TestRecordReturnsOnlyNewEvents(t *testing.T) {
	l := New()
	l.Record(1, []models.MatchEvent{goal(3, 0, 1, "A", "", "Normal Goal")})

	added := l.Record(1, []models.MatchEvent{
		goal(3, 0, 1, "A", "", "Normal Goal"),
		goal(55, 0, 1, "E", "", "Normal Goal"),
	})
	require.Len(t, added, 1)
	assert.Equal(t, "E", added[0].Player)
	assert.Equal(t, 1, added[0].FixtureID)
}

func TestRecordCollapsesDuplicatesWithinBatch(t *testing.T) {
	l := New()
	added := l.Record(1, []models.MatchEvent{
		goal(3, 0, 1, "A", "", "Normal Goal"),
		goal(3, 0, 1, "A", "X", "Normal Goal"),
	})
	assert.Len(t, added, 1)
	assert.Len(t, l.Events(1), 1)
}

func TestDedupKeyDistinguishesType(t *testing.T) {
	l := New()
	added := l.Record(1, []models.MatchEvent{
		goal(60, 0, 1, "A", "", "Normal Goal"),
		{Elapsed: 60, TeamID: 1, Player: "A", Type: models.EventCard, Detail: "Yellow Card"},
	})
	assert.Len(t, added, 2)
}

func TestGoalLinesOrderingAndFormat(t *testing.T) {
	l := New()
	l.Record(1, []models.MatchEvent{
		goal(90, 2, 1, "Late", "", "Normal Goal"),
		goal(12, 0, 1, "First", "Helper", "Normal Goal"),
		goal(45, 0, 1, "Pen", "Ignored", models.DetailPenalty),
		goal(45, 0, 1, "Tie", "", "Normal Goal"),
		goal(30, 0, 2, "Other", "", "Normal Goal"),
		goal(70, 0, 1, "Miss", "", models.DetailMissedPenalty),
		{Elapsed: 80, TeamID: 1, Player: "Booked", Type: models.EventCard},
	})

	assert.Equal(t, []string{
		"12' First (Ast. Helper)",
		"45' Pen",
		"45' Tie",
		"90+2' Late",
	}, l.GoalLines(1, 1))
	assert.Equal(t, []string{"30' Other"}, l.GoalLines(1, 2))
	assert.Empty(t, l.GoalLines(2, 1))
}

func TestReplaceSupersedesLedger(t *testing.T) {
	l := New()
	l.Record(1, []models.MatchEvent{goal(3, 0, 1, "A", "", "Normal Goal")})
	l.Replace(1, []models.MatchEvent{goal(8, 0, 1, "B", "", "Normal Goal")})
	assert.Equal(t, []string{"8' B"}, l.GoalLines(1, 1))
}

func TestRetain(t *testing.T) {
	l := New()
	l.Record(1, []models.MatchEvent{goal(3, 0, 1, "A", "", "")})
	l.Record(2, []models.MatchEvent{goal(3, 0, 1, "A", "", "")})
	l.Retain(map[int]struct{}{2: {}})
	assert.Empty(t, l.Events(1))
	assert.Len(t, l.Events(2), 1)
}

func TestConcurrentRecord(t *testing.T) {
	l := New()
	events := []models.MatchEvent{goal(3, 0, 1, "A", "", ""), goal(9, 0, 2, "B", "", "")}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(1, events)
		}()
	}
	wg.Wait()
	assert.Len(t, l.Events(1), 2)
}
