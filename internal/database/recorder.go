package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/wisher-game/wisher/internal/game"
	"github.com/wisher-game/wisher/internal/models"
)

// Recorder is the Postgres-backed implementation of game.Recorder, the
// write-through persistence boundary of a lobby session.
type Recorder struct{}

var _ game.Recorder = Recorder{}

func (Recorder) PlayerConnected(ctx context.Context, playerID uuid.UUID) error {
	return SetPlayerConnected(ctx, playerID, true)
}

func (Recorder) PlayerDisconnected(ctx context.Context, playerID uuid.UUID) error {
	return SetPlayerConnected(ctx, playerID, false)
}

func (Recorder) SettingsUpdated(ctx context.Context, lobbyID uuid.UUID, settings models.Settings) error {
	return UpdateLobbySettings(ctx, lobbyID, settings)
}

func (Recorder) RoundCreated(ctx context.Context, lobbyID uuid.UUID, snap game.RoundSnapshot) error {
	return InsertRound(ctx, lobbyID, snap)
}

func (Recorder) RoundSaved(ctx context.Context, snap game.RoundSnapshot) error {
	return SaveRound(ctx, snap)
}

func (Recorder) ScoreAwarded(ctx context.Context, playerID uuid.UUID, newScore int) error {
	return SetPlayerScore(ctx, playerID, newScore)
}
