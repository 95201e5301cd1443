package models

import (
	"fmt"
	"strings"
)

type EventType int

const (
	EventUnknown EventType = iota
	EventGoal
	EventCard
	EventSubstitution
	EventVAR
)

func ParseEventType(raw string) EventType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "goal":
		return EventGoal
	case "card":
		return EventCard
	case "subst", "substitution":
		return EventSubstitution
	case "var":
		return EventVAR
	default:
		return EventUnknown
	}
}

func (t EventType) String() string {
	switch t {
	case EventGoal:
		return "Goal"
	case EventCard:
		return "Card"
	case EventSubstitution:
		return "subst"
	case EventVAR:
		return "Var"
	default:
		return "unknown"
	}
}

const (
	DetailPenalty       = "Penalty"
	DetailOwnGoal       = "Own Goal"
	DetailMissedPenalty = "Missed Penalty"
)

// MatchEvent is one notable occurrence in a fixture. Events are never mutated.
type MatchEvent struct {
	FixtureID int       `json:"fixtureId"`
	Elapsed   int       `json:"elapsed"`
	Extra     int       `json:"extra"`
	TeamID    int       `json:"teamId"`
	TeamName  string    `json:"teamName"`
	Player    string    `json:"player"`
	Assist    string    `json:"assist,omitempty"`
	Type      EventType `json:"type"`
	Detail    string    `json:"detail"`
}

// EventKey identifies an event; two events with equal keys are the same event.
type EventKey struct {
	FixtureID int
	Elapsed   int
	Player    string
	Type      EventType
}

func (e MatchEvent) Key() EventKey {
	return EventKey{FixtureID: e.FixtureID, Elapsed: e.Elapsed, Player: e.Player, Type: e.Type}
}

// IsGoal reports whether the event changed the score.
func (e MatchEvent) IsGoal() bool {
	return e.Type == EventGoal && !strings.EqualFold(e.Detail, DetailMissedPenalty)
}

// Minute formats the match minute, e.g. "45" or "90+3".
func (e MatchEvent) Minute() string {
	if e.Extra > 0 {
		return fmt.Sprintf("%d+%d", e.Elapsed, e.Extra)
	}
	return fmt.Sprintf("%d", e.Elapsed)
}

// GoalLine formats a scorer line: "<minute>' <scorer> (Ast. <assister>)".
// Penalties and own goals never show an assist.
func (e MatchEvent) GoalLine() string {
	if e.Assist != "" && !strings.EqualFold(e.Detail, DetailPenalty) && !strings.EqualFold(e.Detail, DetailOwnGoal) {
		return fmt.Sprintf("%s' %s (Ast. %s)", e.Minute(), e.Player, e.Assist)
	}
	return fmt.Sprintf("%s' %s", e.Minute(), e.Player)
}
