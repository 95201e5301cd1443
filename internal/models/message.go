package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// RawUpdate is one record delivered by the remote match feed. Every update
// carries the full current fixture state and a resend of the recent-events
// window, not a diff.
type RawUpdate struct {
	Header      Header        `json:"Header"`
	FixtureID   int           `json:"FixtureId"`
	Type        string        `json:"Type"`
	Fixture     Fixture       `json:"Fixture"`
	Events      []EventRecord `json:"Events,omitempty"`
	ForceResync bool          `json:"ForceResync,omitempty"`
}

type Header struct {
	Retry        int       `json:"Retry"`
	MessageGuid  string    `json:"MessageGuid"`
	TimeStampUtc time.Time `json:"TimeStampUtc"`
}

type Fixture struct {
	Competitors  []Competitor `json:"Competitors"`
	Status       string       `json:"Status"`
	Elapsed      int          `json:"Elapsed"`
	Extra        int          `json:"Extra"`
	StartTimeUtc time.Time    `json:"StartTimeUtc"`
	Venue        string       `json:"Venue,omitempty"`
	Competition  string       `json:"Competition,omitempty"`
	Score        Score        `json:"Score"`
}

type Score struct {
	Home        int  `json:"Home"`
	Away        int  `json:"Away"`
	PenaltyHome *int `json:"PenaltyHome,omitempty"`
	PenaltyAway *int `json:"PenaltyAway,omitempty"`
}

type Competitor struct {
	ID       int    `json:"Id"`
	Name     string `json:"Name"`
	HomeAway string `json:"HomeAway"`
	Logo     string `json:"Logo,omitempty"`
}

type EventRecord struct {
	Elapsed  int    `json:"Elapsed"`
	Extra    int    `json:"Extra"`
	TeamID   int    `json:"TeamId"`
	TeamName string `json:"TeamName"`
	Player   string `json:"Player"`
	Assist   string `json:"Assist,omitempty"`
	Type     string `json:"Type"`
	Detail   string `json:"Detail"`
}

const (
	Home = "Home"
	Away = "Away"
)

var ErrMissingCompetitor = errors.New("missing home or away competitor")

// Snapshot converts the wire record into a canonical fixture snapshot.
func (u RawUpdate) Snapshot() (FixtureSnapshot, error) {
	var home, away *Competitor
	for i := range u.Fixture.Competitors {
		comp := &u.Fixture.Competitors[i]
		if strings.EqualFold(comp.HomeAway, Home) {
			home = comp
		} else if strings.EqualFold(comp.HomeAway, Away) {
			away = comp
		}
	}
	if home == nil || away == nil {
		return FixtureSnapshot{}, fmt.Errorf("fixture %d: %w", u.FixtureID, ErrMissingCompetitor)
	}

	status := strings.ToUpper(strings.TrimSpace(u.Fixture.Status))
	lastUpdated := u.Header.TimeStampUtc
	if lastUpdated.IsZero() {
		lastUpdated = time.Now().UTC()
	}

	return FixtureSnapshot{
		FixtureID:     u.FixtureID,
		Home:          Team{ID: home.ID, Name: home.Name, Crest: home.Logo},
		Away:          Team{ID: away.ID, Name: away.Name, Crest: away.Logo},
		HomeGoals:     u.Fixture.Score.Home,
		AwayGoals:     u.Fixture.Score.Away,
		HomePenalties: copyInt(u.Fixture.Score.PenaltyHome),
		AwayPenalties: copyInt(u.Fixture.Score.PenaltyAway),
		Phase:         DerivePhase(status, u.Fixture.Elapsed, u.Fixture.Extra),
		StatusCode:    status,
		Elapsed:       u.Fixture.Elapsed,
		Extra:         u.Fixture.Extra,
		Kickoff:       u.Fixture.StartTimeUtc,
		LastUpdated:   lastUpdated,
		Venue:         u.Fixture.Venue,
		Competition:   u.Fixture.Competition,
	}, nil
}

// MatchEvents converts the recent-events window into ledger events.
func (u RawUpdate) MatchEvents() []MatchEvent {
	if len(u.Events) == 0 {
		return nil
	}
	out := make([]MatchEvent, 0, len(u.Events))
	for _, ev := range u.Events {
		out = append(out, MatchEvent{
			FixtureID: u.FixtureID,
			Elapsed:   ev.Elapsed,
			Extra:     ev.Extra,
			TeamID:    ev.TeamID,
			TeamName:  ev.TeamName,
			Player:    strings.TrimSpace(ev.Player),
			Assist:    strings.TrimSpace(ev.Assist),
			Type:      ParseEventType(ev.Type),
			Detail:    strings.TrimSpace(ev.Detail),
		})
	}
	return out
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
