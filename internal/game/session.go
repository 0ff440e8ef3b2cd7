// internal/game/session.go
package game

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/wisher-game/wisher/internal/models"
)

// Session is the single serialized execution context for one lobby: the round
// engine, the connection registry, and the broadcast fanout. Every state
// transition for the lobby runs under mu; methods suffixed Unsafe assume the
// caller holds it. Broadcasts happen after the mutation commits, outside the
// critical section, so a slow client cannot stall the game; persistence is
// enqueued in mutation order onto a per-session worker, so a round's
// finished snapshot always reaches the store after its earlier snapshots.
type Session struct {
	LobbyID uuid.UUID
	Name    string

	// TickInterval and GraceTimeout tune the liveness loop; tests shorten them.
	TickInterval time.Duration
	GraceTimeout time.Duration

	// OnEmpty is called once the session has no active round and no connected
	// clients for the grace period. Typically wired by the SessionStore:
	//   sess.OnEmpty = func(name string) { store.Delete(name) }
	OnEmpty func(name string)

	mu       sync.Mutex
	settings models.Settings
	players  map[uuid.UUID]*models.Player
	order    []uuid.UUID // join order; the stable wisher rotation order
	conns    map[uuid.UUID]*PlayerConn
	round    *Round
	seq      int // last assigned round number, strictly increasing per lobby

	idleSince  time.Time // set when the last connection drops; zero while occupied
	loopCancel context.CancelFunc

	recorder Recorder
	recCh    chan recordFn
	log      *logrus.Entry
}

// recordFn is one queued write-through persistence call.
type recordFn func(ctx context.Context, r Recorder) error

// NewSession builds the in-memory session for a lobby, seeded with the
// players already known to the directory.
func NewSession(lobby models.Lobby, players []*models.Player, recorder Recorder, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	s := &Session{
		LobbyID:      lobby.ID,
		Name:         lobby.Name,
		TickInterval: time.Second,
		GraceTimeout: 30 * time.Second,
		settings:     lobby.Settings,
		players:      make(map[uuid.UUID]*models.Player),
		conns:        make(map[uuid.UUID]*PlayerConn),
		recorder:     recorder,
		recCh:        make(chan recordFn, 64),
		log:          logger.WithField("lobby", lobby.Name),
	}
	for _, p := range players {
		s.addPlayerUnsafe(p)
	}
	return s
}

// addPlayerUnsafe registers a durable player identity. Assumes lock is held
// (or exclusive access during construction).
func (s *Session) addPlayerUnsafe(p *models.Player) {
	if _, exists := s.players[p.ID]; exists {
		return
	}
	s.players[p.ID] = p
	s.order = append(s.order, p.ID)
}

// AddPlayer makes a newly joined player known to a live session.
func (s *Session) AddPlayer(p *models.Player) {
	s.mu.Lock()
	s.addPlayerUnsafe(p)
	s.mu.Unlock()
}

// Register binds a live connection to a player, replacing any previous one.
// Reconnects never duplicate the player; the stale connection's channel is
// closed and its pumps cancelled. Starts the liveness loop lazily on the
// first connection.
func (s *Session) Register(playerID uuid.UUID, conn *PlayerConn) error {
	s.mu.Lock()
	p, known := s.players[playerID]
	if !known {
		s.mu.Unlock()
		return ErrUnknownPlayer
	}
	if old, ok := s.conns[playerID]; ok && old != conn {
		s.log.WithField("player", playerID).Info("replacing existing connection")
		go closeConn(old)
	}
	s.conns[playerID] = conn
	p.Connected = true
	p.LastSeen = time.Now()
	s.idleSince = time.Time{}
	s.startLivenessUnsafe()
	s.record(func(ctx context.Context, r Recorder) error {
		return r.PlayerConnected(ctx, playerID)
	})
	payload := s.playersPayloadUnsafe()
	s.mu.Unlock()

	s.broadcast(payload)
	return nil
}

// Unregister drops the connection binding on transport close. The player's
// identity and score persist for reconnection. A stale conn (already replaced
// by a reconnect) is ignored.
func (s *Session) Unregister(playerID uuid.UUID, conn *PlayerConn) {
	s.mu.Lock()
	current, ok := s.conns[playerID]
	if !ok || current != conn {
		s.mu.Unlock()
		return
	}
	delete(s.conns, playerID)
	if p := s.players[playerID]; p != nil {
		p.Connected = false
		p.LastSeen = time.Now()
	}
	if len(s.conns) == 0 {
		s.idleSince = time.Now()
	}
	s.record(func(ctx context.Context, r Recorder) error {
		return r.PlayerDisconnected(ctx, playerID)
	})
	payload := s.playersPayloadUnsafe()
	s.mu.Unlock()

	go closeConn(conn)
	s.broadcast(payload)
}

func closeConn(conn *PlayerConn) {
	defer func() {
		recover() // OutChan may already be closed by a racing teardown
	}()
	close(conn.OutChan)
	if conn.Cancel != nil {
		conn.Cancel()
	}
}

// HandleAction routes one inbound client message through the round engine.
// Validation failures are returned to the caller for a private error reply;
// the lobby state is left untouched by a rejected action.
func (s *Session) HandleAction(playerID uuid.UUID, packet map[string]any) error {
	action, _ := packet["type"].(string)
	switch action {
	case "set_settings":
		patch, _ := packet["settings"].(map[string]any)
		return s.SetSettings(playerID, patch)
	case "start_game":
		return s.StartGame(playerID)
	case "submit_wish":
		wish, _ := packet["wish"].(string)
		return s.SubmitWish(playerID, wish)
	case "submit_consequence":
		text, _ := packet["text"].(string)
		return s.SubmitConsequence(playerID, text)
	case "vote":
		targetStr, _ := packet["target_uuid"].(string)
		target, err := uuid.Parse(targetStr)
		if err != nil {
			return ErrUnknownTarget
		}
		return s.Vote(playerID, target)
	default:
		return ErrUnknownAction
	}
}

// SetSettings merges a partial configuration update and notifies the lobby.
// Valid in any state.
func (s *Session) SetSettings(actor uuid.UUID, patch map[string]any) error {
	s.mu.Lock()
	if err := s.requireConnectedUnsafe(actor); err != nil {
		s.mu.Unlock()
		return err
	}
	s.settings.Merge(patch)
	settings := s.settings
	lobbyID := s.LobbyID
	s.record(func(ctx context.Context, r Recorder) error {
		return r.SettingsUpdated(ctx, lobbyID, settings)
	})
	s.mu.Unlock()

	s.broadcast(map[string]any{
		"type":     "settings_update",
		"settings": settings.Map(),
	})
	return nil
}

// StartGame begins play: only valid while idle. The first wisher is the
// first non-spectator player in join order.
func (s *Session) StartGame(actor uuid.UUID) error {
	s.mu.Lock()
	if err := s.requireConnectedUnsafe(actor); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.round != nil {
		s.mu.Unlock()
		return ErrGameInProgress
	}
	eligible := s.eligibleUnsafe()
	if len(eligible) == 0 {
		s.mu.Unlock()
		return ErrNoEligiblePlayers
	}
	s.seq++
	s.round = newRound(s.seq, eligible[0])
	snap := s.round.Snapshot()
	lobbyID := s.LobbyID
	s.record(func(ctx context.Context, r Recorder) error {
		return r.RoundCreated(ctx, lobbyID, snap)
	})
	s.mu.Unlock()

	s.log.WithField("round", snap.Number).Info("game started")
	s.broadcast(map[string]any{
		"type":  "game_started",
		"round": snap,
	})
	return nil
}

// SubmitWish records the round's prompt. Only the current wisher may set it,
// and only before it is set.
func (s *Session) SubmitWish(actor uuid.UUID, wish string) error {
	s.mu.Lock()
	if err := s.requireConnectedUnsafe(actor); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.round == nil {
		s.mu.Unlock()
		return ErrNoActiveRound
	}
	if s.round.WisherID != actor {
		s.mu.Unlock()
		return ErrNotWisher
	}
	if err := s.round.SetWish(wish); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.round.Snapshot()
	s.record(func(ctx context.Context, r Recorder) error {
		return r.RoundSaved(ctx, snap)
	})
	s.mu.Unlock()

	s.broadcast(map[string]any{
		"type": "wish_set",
		"wish": wish,
	})
	return nil
}

// SubmitConsequence records (or overwrites) a player's answer to the wish.
// The wisher may not answer their own prompt; spectators may not answer.
func (s *Session) SubmitConsequence(actor uuid.UUID, text string) error {
	s.mu.Lock()
	if err := s.requireConnectedUnsafe(actor); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.round == nil {
		s.mu.Unlock()
		return ErrNoActiveRound
	}
	if s.round.Wish == "" {
		s.mu.Unlock()
		return ErrWishNotSet
	}
	if p := s.players[actor]; p != nil && p.Spectator {
		s.mu.Unlock()
		return ErrSpectator
	}
	if s.round.WisherID == actor {
		s.mu.Unlock()
		return ErrWisherCannotAnswer
	}
	if err := s.round.UpsertSubmission(actor, text); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.round.Snapshot()
	s.record(func(ctx context.Context, r Recorder) error {
		return r.RoundSaved(ctx, snap)
	})
	s.mu.Unlock()

	s.broadcast(map[string]any{
		"type":        "submissions_update",
		"submissions": snap.Submissions,
	})
	return nil
}

// Vote records (or overwrites) a player's vote for a submission, then runs
// the completion check synchronously within the same serialized action: once
// every eligible non-wisher player has voted, the round tallies and the next
// one spawns before any further action for this lobby is accepted.
//
// The wisher's vote is accepted and counted; it additionally acts as the
// tie-break signal during tally. The expected-voter count excludes the
// wisher, so completion never waits on them.
func (s *Session) Vote(actor, target uuid.UUID) error {
	s.mu.Lock()
	if err := s.requireConnectedUnsafe(actor); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.round == nil {
		s.mu.Unlock()
		return ErrNoActiveRound
	}
	if s.round.Wish == "" {
		s.mu.Unlock()
		return ErrWishNotSet
	}
	if p := s.players[actor]; p != nil && p.Spectator {
		s.mu.Unlock()
		return ErrSpectator
	}
	if err := s.round.UpsertVote(actor, target); err != nil {
		s.mu.Unlock()
		return err
	}
	snap := s.round.Snapshot()
	s.record(func(ctx context.Context, r Recorder) error {
		return r.RoundSaved(ctx, snap)
	})

	var outcome *roundOutcome
	expected := s.expectedVotersUnsafe()
	if expected > 0 && len(s.round.Votes) >= expected {
		outcome = s.tallyAndAdvanceUnsafe()
	}
	s.mu.Unlock()

	s.broadcast(map[string]any{
		"type":  "votes_update",
		"votes": snap.Votes,
	})
	s.applyOutcome(outcome)
	return nil
}

// requireConnectedUnsafe rejects actions from players without a registered
// live connection in this lobby. Assumes lock is held.
func (s *Session) requireConnectedUnsafe(actor uuid.UUID) error {
	if _, ok := s.conns[actor]; !ok {
		return ErrNotConnected
	}
	return nil
}

// eligibleUnsafe returns the non-spectator players in join order. This is the
// stable enumeration used for first-wisher selection and rotation.
func (s *Session) eligibleUnsafe() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s.order))
	for _, id := range s.order {
		if p := s.players[id]; p != nil && !p.Spectator {
			out = append(out, id)
		}
	}
	return out
}

// expectedVotersUnsafe computes how many votes complete the round: eligible
// players minus the wisher. Assumes lock is held and an active round exists.
func (s *Session) expectedVotersUnsafe() int {
	n := 0
	for _, id := range s.eligibleUnsafe() {
		if id != s.round.WisherID {
			n++
		}
	}
	return n
}

// roundOutcome carries everything a finished tally produced out of the
// critical section: the broadcast payload plus the persistence side effects.
type roundOutcome struct {
	payload  map[string]any
	finished RoundSnapshot
	next     *RoundSnapshot
	winner   uuid.UUID
	score    int
	tally    map[string]int
	gameOver bool
}

// tallyAndAdvanceUnsafe is the single idempotent completion path, invoked by
// the vote handler and by the liveness loop. Tallying an already-finished
// round is a no-op (nil return); the point is awarded exactly once and
// exactly one successor round is created. Assumes lock is held.
func (s *Session) tallyAndAdvanceUnsafe() *roundOutcome {
	r := s.round
	if r == nil || r.Finished {
		return nil
	}

	tally := make(map[string]int)
	counts := make(map[uuid.UUID]int)
	for _, target := range r.Votes {
		counts[target]++
		tally[target.String()]++
	}

	// Candidate winners: all targets holding the maximum vote count.
	maxVotes := 0
	for _, c := range counts {
		if c > maxVotes {
			maxVotes = c
		}
	}
	var winners []uuid.UUID
	for target, c := range counts {
		if c == maxVotes {
			winners = append(winners, target)
		}
	}
	sort.Slice(winners, func(i, j int) bool {
		return winners[i].String() < winners[j].String()
	})

	winner := uuid.Nil
	switch {
	case len(winners) == 1:
		winner = winners[0]
	case len(winners) > 1:
		// The wisher breaks ties; failing that, lowest UUID wins so the
		// result is deterministic under any arrival order.
		winner = winners[0]
		if wisherVote, ok := r.Votes[r.WisherID]; ok {
			for _, w := range winners {
				if w == wisherVote {
					winner = w
					break
				}
			}
		}
	}

	score := 0
	if winner != uuid.Nil {
		if p := s.players[winner]; p != nil {
			p.Score++
			score = p.Score
		}
	}

	r.finish()
	out := &roundOutcome{
		finished: r.Snapshot(),
		winner:   winner,
		score:    score,
		tally:    tally,
	}

	goal := s.settings.ScoreGoal
	if winner != uuid.Nil && goal > 0 && score >= goal {
		out.gameOver = true
		s.round = nil
	} else {
		s.round = s.nextRoundUnsafe(r.WisherID)
		if s.round != nil {
			snap := s.round.Snapshot()
			out.next = &snap
		}
	}

	out.payload = map[string]any{
		"type":      "round_end",
		"tally":     tally,
		"round":     out.finished,
		"players":   s.playerListUnsafe(),
		"game_over": out.gameOver,
	}
	if winner != uuid.Nil {
		out.payload["winner_uuid"] = winner.String()
	}
	if out.next != nil {
		out.payload["next_round"] = *out.next
	}

	// Enqueued under the lock so the finished snapshot lands after every
	// earlier write for this round, and the score write after any prior one.
	finished := out.finished
	s.record(func(ctx context.Context, r Recorder) error {
		return r.RoundSaved(ctx, finished)
	})
	if winner != uuid.Nil {
		newScore := score
		s.record(func(ctx context.Context, r Recorder) error {
			return r.ScoreAwarded(ctx, winner, newScore)
		})
	}
	if out.next != nil {
		next := *out.next
		s.record(func(ctx context.Context, r Recorder) error {
			return r.RoundCreated(ctx, s.LobbyID, next)
		})
	}
	return out
}

// nextRoundUnsafe rotates the wisher to the next eligible player after the
// given one, wrapping around; if that player left the eligible set the first
// eligible player takes over. Returns nil (back to idle) when nobody is
// eligible. Assumes lock is held.
func (s *Session) nextRoundUnsafe(current uuid.UUID) *Round {
	eligible := s.eligibleUnsafe()
	if len(eligible) == 0 {
		return nil
	}
	next := eligible[0]
	for i, id := range eligible {
		if id == current {
			next = eligible[(i+1)%len(eligible)]
			break
		}
	}
	s.seq++
	return newRound(s.seq, next)
}

// applyOutcome runs a tally's lock-free side effects: round-history
// publication and the round_end broadcast. Persistence was already enqueued
// by tallyAndAdvanceUnsafe under the lock.
func (s *Session) applyOutcome(out *roundOutcome) {
	if out == nil {
		return
	}
	s.publishRoundHistory(out)
	s.broadcast(out.payload)
	if out.gameOver {
		s.log.WithFields(logrus.Fields{
			"round":  out.finished.Number,
			"winner": out.winner,
		}).Info("score goal reached, game over")
	}
}

// broadcast delivers a lobby-wide message to every registered connection.
// Writes are non-blocking; a dead connection is pruned when its transport
// pumps observe the failure and call Unregister.
func (s *Session) broadcast(msg map[string]any) {
	if msg == nil {
		return
	}
	s.mu.Lock()
	conns := make([]*PlayerConn, 0, len(s.conns))
	for _, conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()

	for _, conn := range conns {
		conn.Write(msg)
	}
}

// playersPayloadUnsafe builds the players_update message. Assumes lock is held.
func (s *Session) playersPayloadUnsafe() map[string]any {
	return map[string]any{
		"type":    "players_update",
		"players": s.playerListUnsafe(),
	}
}

// playerListUnsafe summarizes every player in join order. Assumes lock is held.
func (s *Session) playerListUnsafe() []map[string]any {
	list := make([]map[string]any, 0, len(s.order))
	for _, id := range s.order {
		p := s.players[id]
		if p == nil {
			continue
		}
		list = append(list, map[string]any{
			"player_uuid": p.ID.String(),
			"username":    p.Username,
			"score":       p.Score,
			"connected":   p.Connected,
			"spectator":   p.Spectator,
		})
	}
	return list
}

// StatePayload builds the private "connected" message sent to a player right
// after registration: their identity plus the full current lobby view, so a
// reconnecting client can resync without extra requests.
func (s *Session) StatePayload(playerID uuid.UUID) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := map[string]any{
		"type":        "connected",
		"player_uuid": playerID.String(),
		"lobby":       s.Name,
		"settings":    s.settings.Map(),
		"players":     s.playerListUnsafe(),
	}
	if s.round != nil {
		msg["round"] = s.round.Snapshot()
	}
	return msg
}

// Resume installs a persisted unfinished round into an idle session, so a
// lobby picks up mid-round after a service restart. No-op if a round is
// already live or the snapshot is finished. The round's deadline restarts
// from now; the liveness loop takes it from there.
func (s *Session) Resume(snap RoundSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.round != nil || snap.Finished {
		return
	}
	s.round = roundFromSnapshot(snap)
	if snap.Number > s.seq {
		s.seq = snap.Number
	}
}

// Idle reports whether the session has no live connections and no active
// round. The SessionStore re-checks this before removing a session, since a
// connection may register between the liveness loop's teardown decision and
// the store's delete.
func (s *Session) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns) == 0 && s.round == nil
}

// Settings returns a copy of the current lobby configuration.
func (s *Session) Settings() models.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// ActiveRound returns a snapshot of the current round, if any.
func (s *Session) ActiveRound() (RoundSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.round == nil {
		return RoundSnapshot{}, false
	}
	return s.round.Snapshot(), true
}

// record enqueues one write-through persistence call onto the session's
// ordered worker. Call sites enqueue while holding mu, so writes reach the
// store in mutation order. Non-blocking: a full queue drops the write rather
// than stalling the engine; the in-memory state stays authoritative.
func (s *Session) record(fn recordFn) {
	select {
	case s.recCh <- fn:
	default:
		s.log.Warn("persistence queue full, dropping write")
	}
}

// runRecorder drains the persistence queue one call at a time, preserving
// enqueue order. On shutdown it finishes whatever is already queued.
func (s *Session) runRecorder(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case fn := <-s.recCh:
					s.persist(fn)
				default:
					return
				}
			}
		case fn := <-s.recCh:
			s.persist(fn)
		}
	}
}

func (s *Session) persist(fn recordFn) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := fn(ctx, s.recorder); err != nil {
		s.log.WithError(err).Warn("write-through persistence failed")
	}
}
