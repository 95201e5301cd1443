package models

import "time"

type Team struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Crest string `json:"crest,omitempty"`
}

// FixtureSnapshot is the canonical state of one fixture.
type FixtureSnapshot struct {
	FixtureID     int       `json:"fixtureId"`
	Home          Team      `json:"home"`
	Away          Team      `json:"away"`
	HomeGoals     int       `json:"homeGoals"`
	AwayGoals     int       `json:"awayGoals"`
	HomePenalties *int      `json:"homePenalties,omitempty"`
	AwayPenalties *int      `json:"awayPenalties,omitempty"`
	Phase         Phase     `json:"phase"`
	StatusCode    string    `json:"statusCode"`
	Elapsed       int       `json:"elapsed"`
	Extra         int       `json:"extra"`
	Kickoff       time.Time `json:"kickoff"`
	LastUpdated   time.Time `json:"lastUpdated"`
	Venue         string    `json:"venue,omitempty"`
	Competition   string    `json:"competition,omitempty"`
}

// Status is the display status code; unclassified live phases keep the raw code.
func (f FixtureSnapshot) Status() string {
	if f.Phase == PhaseOther && f.StatusCode != "" {
		return f.StatusCode
	}
	return f.Phase.Code()
}

// ElapsedSeconds is the match clock in seconds, stoppage time included.
func (f FixtureSnapshot) ElapsedSeconds() int {
	return (f.Elapsed + f.Extra) * 60
}

// Involves reports whether the team plays in this fixture.
func (f FixtureSnapshot) Involves(teamID int) bool {
	return f.Home.ID == teamID || f.Away.ID == teamID
}
