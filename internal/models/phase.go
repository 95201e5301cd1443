package models

import "strings"

// Phase is the current stage of a match.
type Phase int

const (
	PhaseUpcoming Phase = iota
	PhaseFirstHalf
	PhaseHalfTime
	PhaseSecondHalf
	PhaseExtraTime
	PhasePenalties
	PhaseFinished
	PhaseOther
)

// Bucket groups phases into upcoming < live < finished.
type Bucket int

const (
	BucketUpcoming Bucket = iota
	BucketLive
	BucketFinished
)

// ParsePhase maps a raw feed status code to a Phase. It is the only place
// status strings are compared.
func ParsePhase(raw string) Phase {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "TBD", "NS", "PST":
		return PhaseUpcoming
	case "1H":
		return PhaseFirstHalf
	case "HT":
		return PhaseHalfTime
	case "2H":
		return PhaseSecondHalf
	case "ET", "BT":
		return PhaseExtraTime
	case "P":
		return PhasePenalties
	case "FT", "AET", "PEN", "CANC", "ABD", "AWD", "WO":
		return PhaseFinished
	default:
		return PhaseOther
	}
}

// DerivePhase refines an unclassified in-play status using the elapsed clock.
func DerivePhase(raw string, elapsed, extra int) Phase {
	p := ParsePhase(raw)
	if p != PhaseOther {
		return p
	}
	switch {
	case elapsed <= 0:
		return PhaseOther
	case elapsed <= 45:
		return PhaseFirstHalf
	case elapsed <= 90:
		return PhaseSecondHalf
	default:
		return PhaseExtraTime
	}
}

func (p Phase) Bucket() Bucket {
	switch p {
	case PhaseUpcoming:
		return BucketUpcoming
	case PhaseFinished:
		return BucketFinished
	default:
		return BucketLive
	}
}

// Rank orders phases for the monotonic merge guard.
func (p Phase) Rank() int { return int(p.Bucket()) }

func (p Phase) IsLive() bool { return p.Bucket() == BucketLive }

// Code is the canonical short status code.
func (p Phase) Code() string {
	switch p {
	case PhaseUpcoming:
		return "NS"
	case PhaseFirstHalf:
		return "1H"
	case PhaseHalfTime:
		return "HT"
	case PhaseSecondHalf:
		return "2H"
	case PhaseExtraTime:
		return "ET"
	case PhasePenalties:
		return "P"
	case PhaseFinished:
		return "FT"
	default:
		return "LIVE"
	}
}

func (p Phase) String() string {
	switch p {
	case PhaseUpcoming:
		return "upcoming"
	case PhaseFirstHalf:
		return "first-half"
	case PhaseHalfTime:
		return "half-time"
	case PhaseSecondHalf:
		return "second-half"
	case PhaseExtraTime:
		return "extra-time"
	case PhasePenalties:
		return "penalties"
	case PhaseFinished:
		return "finished"
	default:
		return "other"
	}
}

func (b Bucket) String() string {
	switch b {
	case BucketUpcoming:
		return "upcoming"
	case BucketLive:
		return "live"
	default:
		return "finished"
	}
}
