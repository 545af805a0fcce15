package knowledge

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/Strob0t/swarmcore/internal/domain"
)

// Policy selects how concurrent (non-dominating) writes are reconciled.
type Policy string

const (
	PolicyLastWriterWins Policy = "last_writer_wins"
	PolicyFieldMerge     Policy = "merge"
	PolicyManual         Policy = "manual"
)

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	switch p {
	case PolicyLastWriterWins, PolicyFieldMerge, PolicyManual:
		return true
	}
	return false
}

// Outcome describes what a write did to the stored value.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"    // incoming dominated or no prior value
	OutcomeMerged     Outcome = "merged"     // concurrent writes reconciled by policy
	OutcomeSuperseded Outcome = "superseded" // stored value already dominates incoming
)

// ConflictError surfaces a concurrent write under the manual policy.
// Retrying the write with BaseClock set to Merged resolves it.
type ConflictError struct {
	Current  *Entry
	Incoming *Entry
	Merged   VectorClock
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("memory conflict on %s: stored %s vs incoming %s",
		e.Current.Ref(), e.Current.Clock, e.Incoming.Clock)
}

func (e *ConflictError) Unwrap() error { return domain.ErrMemoryConflict }

// Reconcile decides what to store when incoming is written over current.
// incoming.Clock must already carry the writer's tick. The returned entry's
// clock descends from every clock it was derived from.
func Reconcile(policy Policy, current, incoming *Entry) (*Entry, Outcome, error) {
	if current == nil {
		return incoming, OutcomeApplied, nil
	}

	switch incoming.Clock.Compare(current.Clock) {
	case After:
		incoming.Version = current.Version + 1
		return incoming, OutcomeApplied, nil
	case Before, Equal:
		return current, OutcomeSuperseded, nil
	}

	merged := current.Clock.Merge(incoming.Clock).Tick(incoming.Owner)

	switch policy {
	case PolicyManual:
		return current, "", &ConflictError{Current: current, Incoming: incoming, Merged: merged}
	case PolicyFieldMerge:
		out := mergeFields(current, incoming)
		out.Clock = merged
		out.Version = current.Version + 1
		return out, OutcomeMerged, nil
	default:
		out := later(current, incoming).Clone()
		out.Clock = merged
		out.Version = current.Version + 1
		out.UpdatedAt = maxTime(current, incoming)
		return out, OutcomeMerged, nil
	}
}

// later picks the wall-clock winner; ties break on owner id so every
// replica picks the same winner.
func later(a, b *Entry) *Entry {
	switch {
	case b.UpdatedAt.After(a.UpdatedAt):
		return b
	case a.UpdatedAt.After(b.UpdatedAt):
		return a
	case b.Owner > a.Owner:
		return b
	default:
		return a
	}
}

func maxTime(a, b *Entry) (t time.Time) {
	if a.UpdatedAt.After(b.UpdatedAt) {
		return a.UpdatedAt
	}
	return b.UpdatedAt
}

// mergeFields merges map values field by field, taking the later writer's
// value for fields present on both sides. Non-map values fall back to
// last-writer-wins.
func mergeFields(current, incoming *Entry) *Entry {
	winner := later(current, incoming)
	loser := current
	if winner == current {
		loser = incoming
	}

	out := winner.Clone()
	out.UpdatedAt = maxTime(current, incoming)
	out.Tags = unionTags(current.Tags, incoming.Tags)

	wm, wok := winner.Value.(map[string]any)
	lm, lok := loser.Value.(map[string]any)
	if !wok || !lok {
		return out
	}
	fields := make(map[string]any, len(wm)+len(lm))
	maps.Copy(fields, lm)
	maps.Copy(fields, wm)
	out.Value = fields
	return out
}

func unionTags(a, b []string) []string {
	out := slices.Clone(a)
	for _, t := range b {
		if !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}
