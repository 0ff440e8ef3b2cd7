// internal/game/round.go
package game

import (
	"time"

	"github.com/google/uuid"
)

// Round holds the authoritative in-memory state of a single wish cycle. All
// mutation goes through the owning Session's mutex; once Finished is set the
// round is immutable and every mutator fails with ErrRoundClosed.
type Round struct {
	ID       uuid.UUID
	Number   int
	WisherID uuid.UUID

	// Wish is empty until the wisher submits it.
	Wish string

	// Submissions maps author -> consequence text. One entry per player;
	// resubmitting overwrites.
	Submissions map[uuid.UUID]string

	// Votes maps voter -> submission author. One vote per voter, last write wins.
	Votes map[uuid.UUID]uuid.UUID

	Finished  bool
	CreatedAt time.Time
}

func newRound(number int, wisher uuid.UUID) *Round {
	id, _ := uuid.NewRandom()
	return &Round{
		ID:          id,
		Number:      number,
		WisherID:    wisher,
		Submissions: make(map[uuid.UUID]string),
		Votes:       make(map[uuid.UUID]uuid.UUID),
		CreatedAt:   time.Now(),
	}
}

// SetWish records the wisher's prompt. Fails once the round is finished or
// the wish was already set.
func (r *Round) SetWish(text string) error {
	if r.Finished {
		return ErrRoundClosed
	}
	if r.Wish != "" {
		return ErrWishAlreadySet
	}
	r.Wish = text
	return nil
}

// UpsertSubmission records (or overwrites) a player's consequence text.
func (r *Round) UpsertSubmission(player uuid.UUID, text string) error {
	if r.Finished {
		return ErrRoundClosed
	}
	r.Submissions[player] = text
	return nil
}

// UpsertVote records (or overwrites) a voter's choice. The target must have
// submitted in this round, so a vote can never point at a non-existent entry.
func (r *Round) UpsertVote(voter, target uuid.UUID) error {
	if r.Finished {
		return ErrRoundClosed
	}
	if _, ok := r.Submissions[target]; !ok {
		return ErrUnknownTarget
	}
	r.Votes[voter] = target
	return nil
}

// finish marks the round immutable. Callers must hold the session lock and
// check Finished first; tally logic relies on this being a one-way latch.
func (r *Round) finish() {
	r.Finished = true
}

// RoundSnapshot is an immutable copy of a round, safe to hand to persistence
// and broadcast code outside the session lock. Maps are keyed by the string
// form of the player UUIDs, matching both the wire format and the jsonb
// columns.
type RoundSnapshot struct {
	ID          uuid.UUID         `json:"id"`
	Number      int               `json:"number"`
	WisherID    uuid.UUID         `json:"wisher_uuid"`
	Wish        string            `json:"wish_text"`
	Submissions map[string]string `json:"submissions"`
	Votes       map[string]string `json:"votes"`
	Finished    bool              `json:"finished"`
}

// roundFromSnapshot rebuilds a live Round from its persisted form, used when
// a session is rehydrated after a restart. Entries with unparseable keys are
// dropped rather than poisoning the round.
func roundFromSnapshot(snap RoundSnapshot) *Round {
	r := &Round{
		ID:          snap.ID,
		Number:      snap.Number,
		WisherID:    snap.WisherID,
		Wish:        snap.Wish,
		Submissions: make(map[uuid.UUID]string, len(snap.Submissions)),
		Votes:       make(map[uuid.UUID]uuid.UUID, len(snap.Votes)),
		Finished:    snap.Finished,
		CreatedAt:   time.Now(),
	}
	for author, text := range snap.Submissions {
		if id, err := uuid.Parse(author); err == nil {
			r.Submissions[id] = text
		}
	}
	for voter, target := range snap.Votes {
		voterID, err := uuid.Parse(voter)
		if err != nil {
			continue
		}
		targetID, err := uuid.Parse(target)
		if err != nil {
			continue
		}
		r.Votes[voterID] = targetID
	}
	return r
}

// Snapshot copies the round. Assumes the session lock is held.
func (r *Round) Snapshot() RoundSnapshot {
	snap := RoundSnapshot{
		ID:          r.ID,
		Number:      r.Number,
		WisherID:    r.WisherID,
		Wish:        r.Wish,
		Submissions: make(map[string]string, len(r.Submissions)),
		Votes:       make(map[string]string, len(r.Votes)),
		Finished:    r.Finished,
	}
	for author, text := range r.Submissions {
		snap.Submissions[author.String()] = text
	}
	for voter, target := range r.Votes {
		snap.Votes[voter.String()] = target.String()
	}
	return snap
}
