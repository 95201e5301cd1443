// Package ledger keeps the de-duplicated list of notable events per fixture.
package ledger

import (
	"sort"
	"sync"

	"github.com/sawdustofmind/livescore-fanout/internal/models"
)

type fixtureEvents struct {
	seen   map[models.EventKey]struct{}
	events []models.MatchEvent
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	fixtures map[int]*fixtureEvents
}

func New() *Ledger {
	return &Ledger{fixtures: make(map[int]*fixtureEvents)}
}

// Record ingests a resend of the recent-events window and returns only the
// events not seen before, in input order.
func (l *Ledger) Record(fixtureID int, events []models.MatchEvent) []models.MatchEvent {
	if len(events) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	fe := l.fixtures[fixtureID]
	if fe == nil {
		fe = &fixtureEvents{seen: make(map[models.EventKey]struct{})}
		l.fixtures[fixtureID] = fe
	}

	var added []models.MatchEvent
	for _, ev := range events {
		ev.FixtureID = fixtureID
		key := ev.Key()
		if _, ok := fe.seen[key]; ok {
			continue
		}
		fe.seen[key] = struct{}{}
		fe.events = append(fe.events, ev)
		added = append(added, ev)
	}
	return added
}

// Replace discards the fixture's ledger and records events from scratch.
func (l *Ledger) Replace(fixtureID int, events []models.MatchEvent) []models.MatchEvent {
	l.Forget(fixtureID)
	return l.Record(fixtureID, events)
}

func (l *Ledger) Forget(fixtureID int) {
	l.mu.Lock()
	delete(l.fixtures, fixtureID)
	l.mu.Unlock()
}

// Retain drops every fixture not in keep.
func (l *Ledger) Retain(keep map[int]struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id := range l.fixtures {
		if _, ok := keep[id]; !ok {
			delete(l.fixtures, id)
		}
	}
}

// Events returns a copy of the fixture's events in insertion order.
func (l *Ledger) Events(fixtureID int) []models.MatchEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fe := l.fixtures[fixtureID]
	if fe == nil {
		return nil
	}
	return append([]models.MatchEvent(nil), fe.events...)
}

// GoalLines returns formatted scorer lines for one team, chronological by
// minute with ties in insertion order.
func (l *Ledger) GoalLines(fixtureID, teamID int) []string {
	l.mu.RLock()
	var goals []models.MatchEvent
	if fe := l.fixtures[fixtureID]; fe != nil {
		for _, ev := range fe.events {
			if ev.IsGoal() && ev.TeamID == teamID {
				goals = append(goals, ev)
			}
		}
	}
	l.mu.RUnlock()

	sort.SliceStable(goals, func(i, j int) bool {
		if goals[i].Elapsed != goals[j].Elapsed {
			return goals[i].Elapsed < goals[j].Elapsed
		}
		return goals[i].Extra < goals[j].Extra
	})

	lines := make([]string, 0, len(goals))
	for _, ev := range goals {
		lines = append(lines, ev.GoalLine())
	}
	return lines
}
