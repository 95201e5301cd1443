package snapshot

import (
	"time"

	"github.com/sawdustofmind/livescore-fanout/internal/models"
)

// Presentation is the serialization-stable projection of a fixture read by
// display surfaces that have no network access.
type Presentation struct {
	FixtureID      int       `json:"fixtureId"`
	HomeTeam       string    `json:"homeTeam"`
	AwayTeam       string    `json:"awayTeam"`
	HomeTeamID     int       `json:"homeTeamId"`
	AwayTeamID     int       `json:"awayTeamId"`
	HomeCrest      string    `json:"homeCrest,omitempty"`
	AwayCrest      string    `json:"awayCrest,omitempty"`
	HomeGoals      int       `json:"homeGoals"`
	AwayGoals      int       `json:"awayGoals"`
	HomePenalties  *int      `json:"homePenalties,omitempty"`
	AwayPenalties  *int      `json:"awayPenalties,omitempty"`
	Status         string    `json:"status"`
	Elapsed        int       `json:"elapsed"`
	Extra          int       `json:"extra"`
	ElapsedSeconds int       `json:"elapsedSeconds"`
	Kickoff        time.Time `json:"kickoff"`
	Venue          string    `json:"venue,omitempty"`
	Competition    string    `json:"competition,omitempty"`
	HomeScorers    []string  `json:"homeScorers"`
	AwayScorers    []string  `json:"awayScorers"`
	LastUpdated    time.Time `json:"lastUpdated"`
}

// Build projects a fixture and its goal lines. Only the last keep lines per
// side are retained.
func Build(f models.FixtureSnapshot, homeLines, awayLines []string, keep int) Presentation {
	return Presentation{
		FixtureID:      f.FixtureID,
		HomeTeam:       f.Home.Name,
		AwayTeam:       f.Away.Name,
		HomeTeamID:     f.Home.ID,
		AwayTeamID:     f.Away.ID,
		HomeCrest:      f.Home.Crest,
		AwayCrest:      f.Away.Crest,
		HomeGoals:      f.HomeGoals,
		AwayGoals:      f.AwayGoals,
		HomePenalties:  f.HomePenalties,
		AwayPenalties:  f.AwayPenalties,
		Status:         f.Status(),
		Elapsed:        f.Elapsed,
		Extra:          f.Extra,
		ElapsedSeconds: f.ElapsedSeconds(),
		Kickoff:        f.Kickoff,
		Venue:          f.Venue,
		Competition:    f.Competition,
		HomeScorers:    Tail(homeLines, keep),
		AwayScorers:    Tail(awayLines, keep),
		LastUpdated:    f.LastUpdated,
	}
}

// Tail returns a copy of the last n entries of lines.
func Tail(lines []string, n int) []string {
	if n <= 0 || len(lines) == 0 {
		return []string{}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return append([]string(nil), lines...)
}
