// Package reconcile merges incoming feed updates into canonical fixture state.
package reconcile

import (
	"github.com/sawdustofmind/livescore-fanout/internal/models"
)

// Transition classifies what a reconciled update did to a fixture.
type Transition int

const (
	Unchanged Transition = iota
	ToUpcoming
	ToLive
	ToFinished
	// Stale marks an update rejected by the phase-rank guard; the current
	// snapshot is returned untouched.
	Stale
)

func (t Transition) String() string {
	switch t {
	case Unchanged:
		return "unchanged"
	case ToUpcoming:
		return "to_upcoming"
	case ToLive:
		return "to_live"
	case ToFinished:
		return "to_finished"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Reconcile merges incoming into current. Fields are last-write-wins in
// delivery order, except that a fixture never moves to a lower phase rank
// (upcoming < live < finished) unless the update forces a resync.
//
// The first sighting of a fixture is classified by its phase bucket: ToLive,
// ToFinished for a fixture already over, and ToUpcoming otherwise. Fan-out
// never starts a session for ToFinished, so it acts like ToUpcoming there.
func Reconcile(current *models.FixtureSnapshot, incoming models.RawUpdate) (models.FixtureSnapshot, Transition, error) {
	next, err := incoming.Snapshot()
	if err != nil {
		if current != nil {
			return *current, Unchanged, err
		}
		return models.FixtureSnapshot{}, Unchanged, err
	}

	if current == nil {
		switch next.Phase.Bucket() {
		case models.BucketLive:
			return next, ToLive, nil
		case models.BucketFinished:
			return next, ToFinished, nil
		default:
			return next, ToUpcoming, nil
		}
	}

	if next.Phase.Rank() < current.Phase.Rank() && !incoming.ForceResync {
		return *current, Stale, nil
	}

	merged := merge(*current, next)
	return merged, classify(current.Phase, merged.Phase), nil
}

func merge(current, next models.FixtureSnapshot) models.FixtureSnapshot {
	next.FixtureID = current.FixtureID
	if next.Home.Crest == "" {
		next.Home.Crest = current.Home.Crest
	}
	if next.Away.Crest == "" {
		next.Away.Crest = current.Away.Crest
	}
	return next
}

func classify(old, next models.Phase) Transition {
	ob, nb := old.Bucket(), next.Bucket()
	switch nb {
	case models.BucketFinished:
		if ob == models.BucketFinished {
			return Unchanged
		}
		return ToFinished
	case models.BucketLive:
		if ob != models.BucketLive || old != next {
			return ToLive
		}
		return Unchanged
	default:
		if ob == models.BucketUpcoming {
			return Unchanged
		}
		return ToUpcoming
	}
}
