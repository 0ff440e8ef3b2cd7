// internal/game/session_test.go
package game

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wisher-game/wisher/internal/models"
)

// testPlayer pairs a durable player identity with its live fake connection.
type testPlayer struct {
	player *models.Player
	conn   *PlayerConn
}

// setupTestSession builds a session with numPlayers players (1-indexed
// spectator positions marked via spectators), registers a connection for each,
// and drains the setup broadcasts. The liveness loop is left inert so tests
// drive ticks explicitly.
func setupTestSession(t *testing.T, numPlayers int, spectators ...int) (*Session, []*testPlayer) {
	t.Helper()
	return setupTestSessionWith(t, NopRecorder{}, numPlayers, spectators...)
}

func setupTestSessionWith(t *testing.T, rec Recorder, numPlayers int, spectators ...int) (*Session, []*testPlayer) {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	isSpectator := make(map[int]bool)
	for _, idx := range spectators {
		isSpectator[idx] = true
	}

	players := make([]*models.Player, numPlayers)
	for i := 0; i < numPlayers; i++ {
		players[i] = &models.Player{
			ID:        uuid.New(),
			Username:  fmt.Sprintf("p%d", i+1),
			Spectator: isSpectator[i+1],
		}
	}

	lobby := models.Lobby{
		ID:       uuid.New(),
		Name:     "test-lobby",
		Settings: models.Settings{TimerSeconds: 60, ScoreGoal: 0},
	}
	sess := NewSession(lobby, players, rec, logger)
	sess.TickInterval = time.Hour // keep the loop out of engine tests

	tps := make([]*testPlayer, numPlayers)
	for i, p := range players {
		conn := &PlayerConn{PlayerID: p.ID, OutChan: make(chan map[string]any, 256)}
		require.NoError(t, sess.Register(p.ID, conn))
		tps[i] = &testPlayer{player: p, conn: conn}
	}
	drainAll(tps)
	return sess, tps
}

func drain(conn *PlayerConn) []map[string]any {
	var out []map[string]any
	for {
		select {
		case m, ok := <-conn.OutChan:
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func drainAll(tps []*testPlayer) {
	for _, tp := range tps {
		drain(tp.conn)
	}
}

func lastOfType(msgs []map[string]any, typ string) map[string]any {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i]["type"] == typ {
			return msgs[i]
		}
	}
	return nil
}

func TestStartGameSelectsFirstEligibleWisher(t *testing.T) {
	// First player in join order is a spectator and must be skipped.
	sess, tps := setupTestSession(t, 3, 1)

	require.NoError(t, sess.StartGame(tps[0].player.ID))

	snap, ok := sess.ActiveRound()
	require.True(t, ok, "a round should be active after start_game")
	assert.Equal(t, 1, snap.Number)
	assert.Equal(t, tps[1].player.ID, snap.WisherID, "first non-spectator should be wisher")

	msg := lastOfType(drain(tps[2].conn), "game_started")
	require.NotNil(t, msg, "game_started should be broadcast to everyone")
}

func TestStartGameNoEligiblePlayers(t *testing.T) {
	sess, tps := setupTestSession(t, 2, 1, 2)

	err := sess.StartGame(tps[0].player.ID)
	assert.ErrorIs(t, err, ErrNoEligiblePlayers)

	_, ok := sess.ActiveRound()
	assert.False(t, ok, "no round should exist after a rejected start")
}

func TestStartGameWhileInProgress(t *testing.T) {
	sess, tps := setupTestSession(t, 2)

	require.NoError(t, sess.StartGame(tps[0].player.ID))
	assert.ErrorIs(t, sess.StartGame(tps[0].player.ID), ErrGameInProgress)
}

func TestSubmitWishValidation(t *testing.T) {
	sess, tps := setupTestSession(t, 3)

	assert.ErrorIs(t, sess.SubmitWish(tps[0].player.ID, "w"), ErrNoActiveRound)

	require.NoError(t, sess.StartGame(tps[0].player.ID))

	assert.ErrorIs(t, sess.SubmitWish(tps[1].player.ID, "w"), ErrNotWisher)
	require.NoError(t, sess.SubmitWish(tps[0].player.ID, "a wish"))
	assert.ErrorIs(t, sess.SubmitWish(tps[0].player.ID, "again"), ErrWishAlreadySet)

	msg := lastOfType(drain(tps[1].conn), "wish_set")
	require.NotNil(t, msg)
	assert.Equal(t, "a wish", msg["wish"])
}

func TestLastWriteWinsSubmissionsAndVotes(t *testing.T) {
	sess, tps := setupTestSession(t, 4)
	require.NoError(t, sess.StartGame(tps[0].player.ID))
	require.NoError(t, sess.SubmitWish(tps[0].player.ID, "wish"))

	// P2 submits twice; only the latest text survives.
	require.NoError(t, sess.SubmitConsequence(tps[1].player.ID, "first"))
	require.NoError(t, sess.SubmitConsequence(tps[1].player.ID, "second"))
	require.NoError(t, sess.SubmitConsequence(tps[2].player.ID, "other"))

	snap, _ := sess.ActiveRound()
	assert.Equal(t, "second", snap.Submissions[tps[1].player.ID.String()])
	assert.Len(t, snap.Submissions, 2)

	// P2 re-votes; only the latest target survives. 3 expected voters, so
	// two votes from one player never complete the round.
	require.NoError(t, sess.Vote(tps[1].player.ID, tps[2].player.ID))
	require.NoError(t, sess.Vote(tps[1].player.ID, tps[1].player.ID))

	snap, _ = sess.ActiveRound()
	require.False(t, snap.Finished)
	assert.Len(t, snap.Votes, 1)
	assert.Equal(t, tps[1].player.ID.String(), snap.Votes[tps[1].player.ID.String()])
}

func TestWisherAndSpectatorRestrictions(t *testing.T) {
	sess, tps := setupTestSession(t, 4, 4)
	require.NoError(t, sess.StartGame(tps[0].player.ID))

	// Answers and votes require the wish to be set first.
	assert.ErrorIs(t, sess.SubmitConsequence(tps[1].player.ID, "x"), ErrWishNotSet)
	require.NoError(t, sess.SubmitWish(tps[0].player.ID, "wish"))

	assert.ErrorIs(t, sess.SubmitConsequence(tps[0].player.ID, "mine"), ErrWisherCannotAnswer)
	assert.ErrorIs(t, sess.SubmitConsequence(tps[3].player.ID, "spec"), ErrSpectator)

	require.NoError(t, sess.SubmitConsequence(tps[1].player.ID, "a1"))
	assert.ErrorIs(t, sess.Vote(tps[3].player.ID, tps[1].player.ID), ErrSpectator)
}

func TestVoteForUnknownTargetRejected(t *testing.T) {
	sess, tps := setupTestSession(t, 3)
	require.NoError(t, sess.StartGame(tps[0].player.ID))
	require.NoError(t, sess.SubmitWish(tps[0].player.ID, "wish"))
	require.NoError(t, sess.SubmitConsequence(tps[1].player.ID, "a1"))

	// P3 never submitted; votes may only target actual submissions.
	err := sess.Vote(tps[1].player.ID, tps[2].player.ID)
	assert.ErrorIs(t, err, ErrUnknownTarget)

	snap, _ := sess.ActiveRound()
	assert.Empty(t, snap.Votes)
}

// TestRoundCompletionScenario is the canonical three-player round: P1 wishes,
// P2 and P3 answer, both vote for P3's answer. P3 wins the point and P2
// becomes the next wisher.
func TestRoundCompletionScenario(t *testing.T) {
	sess, tps := setupTestSession(t, 3)
	p1, p2, p3 := tps[0], tps[1], tps[2]

	require.NoError(t, sess.StartGame(p1.player.ID))
	require.NoError(t, sess.SubmitWish(p1.player.ID, "X"))
	require.NoError(t, sess.SubmitConsequence(p2.player.ID, "a1"))
	require.NoError(t, sess.SubmitConsequence(p3.player.ID, "a2"))
	drainAll(tps)

	require.NoError(t, sess.Vote(p2.player.ID, p3.player.ID))
	require.NoError(t, sess.Vote(p3.player.ID, p3.player.ID))

	// Tally ran synchronously inside the completing vote.
	assert.Equal(t, 1, p3.player.Score)
	assert.Equal(t, 0, p2.player.Score)

	snap, ok := sess.ActiveRound()
	require.True(t, ok, "a successor round should exist")
	assert.Equal(t, 2, snap.Number)
	assert.Equal(t, p2.player.ID, snap.WisherID, "wisher should rotate to P2")

	msgs := drain(p1.conn)
	end := lastOfType(msgs, "round_end")
	require.NotNil(t, end)
	assert.Equal(t, p3.player.ID.String(), end["winner_uuid"])
	assert.Equal(t, false, end["game_over"])
	tally, ok := end["tally"].(map[string]int)
	require.True(t, ok)
	assert.Equal(t, 2, tally[p3.player.ID.String()])
}

func TestTieBreakFavorsWisherVote(t *testing.T) {
	sess, tps := setupTestSession(t, 5)
	p1, p2, p3, p4 := tps[0], tps[1], tps[2], tps[3]

	require.NoError(t, sess.StartGame(p1.player.ID))
	require.NoError(t, sess.SubmitWish(p1.player.ID, "wish"))
	require.NoError(t, sess.SubmitConsequence(p2.player.ID, "a"))
	require.NoError(t, sess.SubmitConsequence(p3.player.ID, "b"))

	// Wisher's vote counts toward the tally and doubles as the tie-break.
	// Final tally: P2=2, P3=2, wisher voted P3.
	require.NoError(t, sess.Vote(p1.player.ID, p3.player.ID))
	require.NoError(t, sess.Vote(p2.player.ID, p3.player.ID))
	require.NoError(t, sess.Vote(p3.player.ID, p2.player.ID))
	require.NoError(t, sess.Vote(p4.player.ID, p2.player.ID))

	assert.Equal(t, 1, p3.player.Score, "wisher's vote should break the tie for P3")
	assert.Equal(t, 0, p2.player.Score)
}

func TestTieBreakDeterministicWithoutWisherVote(t *testing.T) {
	sess, tps := setupTestSession(t, 5)
	p1, p2, p3, p4, p5 := tps[0], tps[1], tps[2], tps[3], tps[4]

	require.NoError(t, sess.StartGame(p1.player.ID))
	require.NoError(t, sess.SubmitWish(p1.player.ID, "wish"))
	require.NoError(t, sess.SubmitConsequence(p2.player.ID, "a"))
	require.NoError(t, sess.SubmitConsequence(p3.player.ID, "b"))

	// 2-2 tie, wisher abstains: lowest UUID among the tied candidates wins.
	require.NoError(t, sess.Vote(p2.player.ID, p3.player.ID))
	require.NoError(t, sess.Vote(p3.player.ID, p2.player.ID))
	require.NoError(t, sess.Vote(p4.player.ID, p3.player.ID))
	require.NoError(t, sess.Vote(p5.player.ID, p2.player.ID))

	expected := p2.player
	if p3.player.ID.String() < p2.player.ID.String() {
		expected = p3.player
	}
	assert.Equal(t, 1, expected.Score)
}

func TestTallyIdempotentAcrossLivenessRace(t *testing.T) {
	sess, tps := setupTestSession(t, 3)
	p1, p2, p3 := tps[0], tps[1], tps[2]

	require.NoError(t, sess.StartGame(p1.player.ID))
	require.NoError(t, sess.SubmitWish(p1.player.ID, "wish"))
	require.NoError(t, sess.SubmitConsequence(p2.player.ID, "a1"))
	require.NoError(t, sess.SubmitConsequence(p3.player.ID, "a2"))
	require.NoError(t, sess.Vote(p2.player.ID, p3.player.ID))
	require.NoError(t, sess.Vote(p3.player.ID, p3.player.ID))

	require.Equal(t, 1, p3.player.Score)
	snap, _ := sess.ActiveRound()
	require.Equal(t, 2, snap.Number)

	// The liveness loop firing right after the client-triggered completion
	// must not double-award or double-spawn.
	for i := 0; i < 3; i++ {
		sess.tick()
	}
	assert.Equal(t, 1, p3.player.Score, "point must be awarded exactly once")
	snap, _ = sess.ActiveRound()
	assert.Equal(t, 2, snap.Number, "exactly one successor round must exist")
}

func TestLivenessDeadlineForcesCompletion(t *testing.T) {
	sess, tps := setupTestSession(t, 3)
	p1, p2 := tps[0], tps[1]

	require.NoError(t, sess.StartGame(p1.player.ID))
	require.NoError(t, sess.SubmitWish(p1.player.ID, "wish"))
	require.NoError(t, sess.SubmitConsequence(p2.player.ID, "a1"))
	require.NoError(t, sess.Vote(p2.player.ID, p2.player.ID))

	// Only one of two expected votes arrived; backdate the round past the
	// configured timer and let the loop force completion.
	sess.mu.Lock()
	sess.round.CreatedAt = time.Now().Add(-2 * time.Minute)
	sess.mu.Unlock()
	sess.tick()

	assert.Equal(t, 1, p2.player.Score, "partial votes should still elect a winner")
	snap, ok := sess.ActiveRound()
	require.True(t, ok)
	assert.Equal(t, 2, snap.Number)
	assert.Equal(t, p2.player.ID, snap.WisherID)
}

func TestLivenessSkipsStalledPromptRound(t *testing.T) {
	sess, tps := setupTestSession(t, 3)

	require.NoError(t, sess.StartGame(tps[0].player.ID))

	// Wisher never submits a prompt. Past the deadline the round is skipped:
	// nobody scores, the wisher rotates.
	sess.mu.Lock()
	sess.round.CreatedAt = time.Now().Add(-2 * time.Minute)
	sess.mu.Unlock()
	sess.tick()

	for _, tp := range tps {
		assert.Equal(t, 0, tp.player.Score)
	}
	snap, ok := sess.ActiveRound()
	require.True(t, ok)
	assert.Equal(t, 2, snap.Number)
	assert.Equal(t, tps[1].player.ID, snap.WisherID)
}

func TestWisherRotationCycles(t *testing.T) {
	sess, tps := setupTestSession(t, 4, 3) // p3 is a spectator
	eligible := []*testPlayer{tps[0], tps[1], tps[3]}

	require.NoError(t, sess.StartGame(tps[0].player.ID))

	// Two full cycles: the wisher role visits every eligible player exactly
	// once per cycle and never the spectator.
	var seen []uuid.UUID
	for i := 0; i < 6; i++ {
		snap, ok := sess.ActiveRound()
		require.True(t, ok)
		seen = append(seen, snap.WisherID)
		playRound(t, sess, tps, snap.WisherID)
	}
	for i, id := range seen {
		assert.Equal(t, eligible[i%3].player.ID, id, "round %d wisher", i+1)
		assert.NotEqual(t, tps[2].player.ID, id, "spectator must never be wisher")
	}
}

// playRound drives one round to completion: the wisher wishes, every other
// eligible player answers, then everyone votes for the first answer.
func playRound(t *testing.T, sess *Session, tps []*testPlayer, wisher uuid.UUID) {
	t.Helper()
	require.NoError(t, sess.SubmitWish(wisher, "wish"))

	var target uuid.UUID
	for _, tp := range tps {
		if tp.player.ID == wisher || tp.player.Spectator {
			continue
		}
		require.NoError(t, sess.SubmitConsequence(tp.player.ID, "answer"))
		if target == uuid.Nil {
			target = tp.player.ID
		}
	}
	for _, tp := range tps {
		if tp.player.ID == wisher || tp.player.Spectator {
			continue
		}
		require.NoError(t, sess.Vote(tp.player.ID, target))
	}
	drainAll(tps)
}

func TestGameEndsAtScoreGoal(t *testing.T) {
	sess, tps := setupTestSession(t, 3)
	require.NoError(t, sess.SetSettings(tps[0].player.ID, map[string]any{"score_goal": float64(1)}))
	drainAll(tps)

	require.NoError(t, sess.StartGame(tps[0].player.ID))
	snap, _ := sess.ActiveRound()
	playRound(t, sess, tps, snap.WisherID)

	_, ok := sess.ActiveRound()
	assert.False(t, ok, "reaching the score goal should end the game")

	// Back to idle: a fresh game may start, with sequence numbers still
	// strictly increasing.
	require.NoError(t, sess.StartGame(tps[0].player.ID))
	snap, _ = sess.ActiveRound()
	assert.Equal(t, 2, snap.Number)
}

func TestActionFromUnregisteredPlayerRejected(t *testing.T) {
	sess, tps := setupTestSession(t, 3)
	require.NoError(t, sess.StartGame(tps[0].player.ID))
	require.NoError(t, sess.SubmitWish(tps[0].player.ID, "wish"))
	require.NoError(t, sess.SubmitConsequence(tps[1].player.ID, "a1"))
	drainAll(tps)

	sess.Unregister(tps[2].player.ID, tps[2].conn)
	drainAll(tps)

	err := sess.Vote(tps[2].player.ID, tps[1].player.ID)
	assert.ErrorIs(t, err, ErrNotConnected)

	snap, _ := sess.ActiveRound()
	assert.Empty(t, snap.Votes, "rejected action must not mutate state")
	assert.Nil(t, lastOfType(drain(tps[0].conn), "votes_update"), "rejected action must not broadcast")
}

func TestReconnectReplacesConnection(t *testing.T) {
	sess, tps := setupTestSession(t, 2)
	p1 := tps[0]

	replacement := &PlayerConn{PlayerID: p1.player.ID, OutChan: make(chan map[string]any, 256)}
	require.NoError(t, sess.Register(p1.player.ID, replacement))

	// The player list still holds the player exactly once.
	state := sess.StatePayload(p1.player.ID)
	players, ok := state["players"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, players, 2)

	// The replaced connection's channel is closed by the session.
	require.Eventually(t, func() bool {
		for {
			select {
			case _, open := <-p1.conn.OutChan:
				if !open {
					return true
				}
			default:
				return false
			}
		}
	}, time.Second, 10*time.Millisecond, "old connection channel should be closed")

	// Broadcasts reach the replacement connection.
	require.NoError(t, sess.SetSettings(p1.player.ID, map[string]any{"timer_seconds": float64(30)}))
	assert.NotNil(t, lastOfType(drain(replacement), "settings_update"))
}

func TestSetSettingsMergesAndBroadcasts(t *testing.T) {
	sess, tps := setupTestSession(t, 2)

	require.NoError(t, sess.SetSettings(tps[0].player.ID, map[string]any{
		"timer_seconds": float64(30),
		"house_color":   "purple", // unrecognized keys are stored verbatim
	}))

	settings := sess.Settings()
	assert.Equal(t, 30, settings.TimerSeconds)
	assert.Equal(t, 0, settings.ScoreGoal, "untouched keys keep their values")
	assert.Equal(t, "purple", settings.Extra["house_color"])

	msg := lastOfType(drain(tps[1].conn), "settings_update")
	require.NotNil(t, msg)
	payload, ok := msg["settings"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "purple", payload["house_color"])
}

// slowSaveRecorder stalls every unfinished-round save, the worst legal
// timing for the store: if saves ran unordered, the finishing snapshot would
// land before a stale in-flight one and the row would read unfinished.
type slowSaveRecorder struct {
	NopRecorder
	mu     sync.Mutex
	saves  []RoundSnapshot
	scores int
}

func (r *slowSaveRecorder) RoundSaved(_ context.Context, snap RoundSnapshot) error {
	if !snap.Finished {
		time.Sleep(20 * time.Millisecond)
	}
	r.mu.Lock()
	r.saves = append(r.saves, snap)
	r.mu.Unlock()
	return nil
}

func (r *slowSaveRecorder) ScoreAwarded(context.Context, uuid.UUID, int) error {
	r.mu.Lock()
	r.scores++
	r.mu.Unlock()
	return nil
}

func (r *slowSaveRecorder) lastSaveOf(id uuid.UUID) (RoundSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.saves) - 1; i >= 0; i-- {
		if r.saves[i].ID == id {
			return r.saves[i], true
		}
	}
	return RoundSnapshot{}, false
}

// A completing vote saves the pre-tally snapshot and then the finished one.
// The store must observe them in that order even when the earlier write is
// slow; otherwise a restart would resume the round as unfinished and
// re-award the point.
func TestFinishedSnapshotPersistsLast(t *testing.T) {
	rec := &slowSaveRecorder{}
	sess, tps := setupTestSessionWith(t, rec, 3)
	p1, p2, p3 := tps[0], tps[1], tps[2]

	require.NoError(t, sess.StartGame(p1.player.ID))
	require.NoError(t, sess.SubmitWish(p1.player.ID, "wish"))
	require.NoError(t, sess.SubmitConsequence(p2.player.ID, "a1"))
	require.NoError(t, sess.SubmitConsequence(p3.player.ID, "a2"))

	roundID := func() uuid.UUID {
		snap, ok := sess.ActiveRound()
		require.True(t, ok)
		return snap.ID
	}()

	require.NoError(t, sess.Vote(p2.player.ID, p3.player.ID))
	require.NoError(t, sess.Vote(p3.player.ID, p3.player.ID))
	require.Equal(t, 1, p3.player.Score)

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		scores := rec.scores
		rec.mu.Unlock()
		last, ok := rec.lastSaveOf(roundID)
		return ok && last.Finished && scores == 1
	}, 2*time.Second, 10*time.Millisecond, "last persisted snapshot of the round must be the finished one")

	// Every earlier snapshot of the round reached the store before it.
	last, _ := rec.lastSaveOf(roundID)
	assert.Len(t, last.Votes, 2)
}

func TestResumeRestoresUnfinishedRound(t *testing.T) {
	sess, tps := setupTestSession(t, 3)
	p2, p3 := tps[1], tps[2]

	snap := RoundSnapshot{
		ID:       uuid.New(),
		Number:   4,
		WisherID: tps[0].player.ID,
		Wish:     "persisted",
		Submissions: map[string]string{
			p2.player.ID.String(): "a1",
		},
		Votes: map[string]string{},
	}
	sess.Resume(snap)

	got, ok := sess.ActiveRound()
	require.True(t, ok)
	assert.Equal(t, 4, got.Number)
	assert.Equal(t, "persisted", got.Wish)
	assert.Equal(t, "a1", got.Submissions[p2.player.ID.String()])

	// Play continues from the restored state.
	require.NoError(t, sess.SubmitConsequence(p3.player.ID, "a2"))
	require.NoError(t, sess.Vote(p2.player.ID, p2.player.ID))
	require.NoError(t, sess.Vote(p3.player.ID, p2.player.ID))
	assert.Equal(t, 1, p2.player.Score)

	got, ok = sess.ActiveRound()
	require.True(t, ok)
	assert.Equal(t, 5, got.Number, "sequence numbers continue past the restored round")

	// Resume never clobbers a live round.
	sess.Resume(RoundSnapshot{ID: uuid.New(), Number: 99})
	got, _ = sess.ActiveRound()
	assert.Equal(t, 5, got.Number)
}

func TestHandleActionDispatch(t *testing.T) {
	sess, tps := setupTestSession(t, 2)

	err := sess.HandleAction(tps[0].player.ID, map[string]any{"type": "launch_rockets"})
	assert.ErrorIs(t, err, ErrUnknownAction)

	err = sess.HandleAction(tps[0].player.ID, map[string]any{"type": "vote", "target_uuid": "not-a-uuid"})
	assert.ErrorIs(t, err, ErrUnknownTarget)

	require.NoError(t, sess.HandleAction(tps[0].player.ID, map[string]any{"type": "start_game"}))
	require.NoError(t, sess.HandleAction(tps[0].player.ID, map[string]any{
		"type": "submit_wish",
		"wish": "dispatched",
	}))
	snap, _ := sess.ActiveRound()
	assert.Equal(t, "dispatched", snap.Wish)
}
