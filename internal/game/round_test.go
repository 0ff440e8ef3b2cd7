// internal/game/round_test.go
package game

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinishedRoundRejectsMutation(t *testing.T) {
	wisher := uuid.New()
	author := uuid.New()
	r := newRound(1, wisher)

	require.NoError(t, r.SetWish("w"))
	require.NoError(t, r.UpsertSubmission(author, "text"))
	require.NoError(t, r.UpsertVote(author, author))

	r.finish()

	assert.ErrorIs(t, r.SetWish("again"), ErrRoundClosed)
	assert.ErrorIs(t, r.UpsertSubmission(author, "late"), ErrRoundClosed)
	assert.ErrorIs(t, r.UpsertVote(author, author), ErrRoundClosed)

	// The frozen state survives untouched.
	assert.Equal(t, "w", r.Wish)
	assert.Equal(t, "text", r.Submissions[author])
}

func TestVoteRequiresExistingSubmission(t *testing.T) {
	r := newRound(1, uuid.New())
	require.NoError(t, r.SetWish("w"))

	voter := uuid.New()
	assert.ErrorIs(t, r.UpsertVote(voter, uuid.New()), ErrUnknownTarget)
	assert.Empty(t, r.Votes)
}

func TestSnapshotIsDetached(t *testing.T) {
	author := uuid.New()
	r := newRound(3, uuid.New())
	require.NoError(t, r.SetWish("w"))
	require.NoError(t, r.UpsertSubmission(author, "before"))

	snap := r.Snapshot()
	require.NoError(t, r.UpsertSubmission(author, "after"))

	assert.Equal(t, "before", snap.Submissions[author.String()], "snapshot must not alias live maps")
	assert.Equal(t, 3, snap.Number)
}
