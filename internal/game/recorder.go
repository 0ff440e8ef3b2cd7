// internal/game/recorder.go
package game

import (
	"context"

	"github.com/google/uuid"
	"github.com/wisher-game/wisher/internal/models"
)

// Recorder is the write-through persistence boundary for a session. The
// in-memory session state is authoritative; recorder calls are best effort
// and must never block or fail game progress. The production implementation
// lives in internal/database.
type Recorder interface {
	PlayerConnected(ctx context.Context, playerID uuid.UUID) error
	PlayerDisconnected(ctx context.Context, playerID uuid.UUID) error
	SettingsUpdated(ctx context.Context, lobbyID uuid.UUID, settings models.Settings) error
	RoundCreated(ctx context.Context, lobbyID uuid.UUID, snap RoundSnapshot) error
	RoundSaved(ctx context.Context, snap RoundSnapshot) error
	ScoreAwarded(ctx context.Context, playerID uuid.UUID, newScore int) error
}

// NopRecorder discards everything. Used by tests and by lobbies running
// without a database.
type NopRecorder struct{}

func (NopRecorder) PlayerConnected(context.Context, uuid.UUID) error    { return nil }
func (NopRecorder) PlayerDisconnected(context.Context, uuid.UUID) error { return nil }
func (NopRecorder) SettingsUpdated(context.Context, uuid.UUID, models.Settings) error {
	return nil
}
func (NopRecorder) RoundCreated(context.Context, uuid.UUID, RoundSnapshot) error { return nil }
func (NopRecorder) RoundSaved(context.Context, RoundSnapshot) error              { return nil }
func (NopRecorder) ScoreAwarded(context.Context, uuid.UUID, int) error           { return nil }
