// Package cache is the local persistent fixture cache. Two backends are
// provided: SQLite for single-host deployments and Redis.
package cache

import (
	"context"
	"sort"
	"time"

	"github.com/sawdustofmind/livescore-fanout/internal/models"
)

type Cache interface {
	Upsert(ctx context.Context, f models.FixtureSnapshot) error
	All(ctx context.Context) ([]models.FixtureSnapshot, error)
	// Retain drops every fixture whose id is not in keep.
	Retain(ctx context.Context, keep map[int]struct{}) error
	Close() error
}

// AnyLive reports whether any fixture is in play, or is upcoming with a
// kickoff between now-grace and now+lead. The kickoff window lets the stream
// start before the first in-play update arrives.
func AnyLive(fixtures []models.FixtureSnapshot, now time.Time, lead, grace time.Duration) bool {
	for _, f := range fixtures {
		switch f.Phase.Bucket() {
		case models.BucketLive:
			return true
		case models.BucketUpcoming:
			if f.Kickoff.IsZero() {
				continue
			}
			if !f.Kickoff.After(now.Add(lead)) && !f.Kickoff.Before(now.Add(-grace)) {
				return true
			}
		}
	}
	return false
}

func sortByID(fixtures []models.FixtureSnapshot) {
	sort.Slice(fixtures, func(i, j int) bool { return fixtures[i].FixtureID < fixtures[j].FixtureID })
}
