// internal/game/liveness.go
package game

import (
	"context"
	"time"
)

// startLivenessUnsafe launches the per-lobby liveness loop and the ordered
// persistence worker if they are not already running. Started lazily on the
// first connection; assumes lock is held.
func (s *Session) startLivenessUnsafe() {
	if s.loopCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.loopCancel = cancel
	go s.runLiveness(ctx)
	go s.runRecorder(ctx)
}

// runLiveness is the safety net beside the client-triggered completion path.
// Each tick it re-checks the active round: if every expected vote already
// arrived (e.g. the deciding voter disconnected right after voting), or the
// round outlived the configured timer, it invokes the same idempotent
// tally-and-advance used by the vote handler. One failed iteration never
// terminates the loop.
func (s *Session) runLiveness(ctx context.Context) {
	s.log.Debug("liveness loop started")
	ticker := time.NewTicker(s.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("liveness loop stopped")
			return
		case <-ticker.C:
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.WithField("panic", r).Error("liveness tick panicked, continuing")
				}
			}()
			s.tick()
		}()
	}
}

// tick runs one liveness inspection.
func (s *Session) tick() {
	s.mu.Lock()
	if s.round == nil {
		// Idle. Tear the session down once it has been empty long enough.
		if len(s.conns) == 0 && !s.idleSince.IsZero() && time.Since(s.idleSince) >= s.GraceTimeout {
			cancel := s.loopCancel
			s.loopCancel = nil
			onEmpty := s.OnEmpty
			name := s.Name
			s.mu.Unlock()
			if cancel != nil {
				cancel()
			}
			s.log.Info("session idle past grace period, tearing down")
			if onEmpty != nil {
				onEmpty(name)
			}
			return
		}
		s.mu.Unlock()
		return
	}

	expected := s.expectedVotersUnsafe()
	allVoted := expected > 0 && len(s.round.Votes) >= expected

	timeout := time.Duration(s.settings.TimerSeconds) * time.Second
	overdue := timeout > 0 && time.Since(s.round.CreatedAt) >= timeout

	if !allVoted && !overdue {
		s.mu.Unlock()
		return
	}

	// Same completion path as a client-triggered tally; a round already
	// finished by a racing vote yields a nil outcome and nothing happens.
	outcome := s.tallyAndAdvanceUnsafe()
	s.mu.Unlock()

	if outcome != nil && overdue && !allVoted {
		s.log.WithField("round", outcome.finished.Number).Info("round deadline elapsed, forcing completion")
	}
	s.applyOutcome(outcome)
}
