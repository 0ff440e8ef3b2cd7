package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/wisher-game/wisher/internal/models"
)

// ErrLobbyNotFound is returned by lookups missing their lobby row.
var ErrLobbyNotFound = pgx.ErrNoRows

// InsertLobby creates a new lobby row. A unique violation on the name is
// surfaced unchanged for the handler to map to a conflict response.
func InsertLobby(ctx context.Context, lobby *models.Lobby) error {
	settings, err := json.Marshal(lobby.Settings.Map())
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	q := `
	INSERT INTO lobbies (id, name, password_hash, is_public, settings, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			lobby.ID,
			lobby.Name,
			lobby.PasswordHash,
			lobby.Public,
			settings,
			lobby.CreatedAt,
		)
		return err
	})
}

// GetLobbyByName fetches a lobby row by its unique name.
func GetLobbyByName(ctx context.Context, name string) (*models.Lobby, error) {
	var l models.Lobby
	var settings map[string]any
	q := `
	SELECT id, name, password_hash, is_public, settings, created_at
	FROM lobbies
	WHERE name = $1
	`
	err := DB.QueryRow(ctx, q, name).Scan(
		&l.ID,
		&l.Name,
		&l.PasswordHash,
		&l.Public,
		&settings,
		&l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Settings = models.SettingsFromMap(settings)
	return &l, nil
}

// ListPublicLobbies returns every lobby flagged public, newest first.
func ListPublicLobbies(ctx context.Context) ([]models.Lobby, error) {
	q := `
	SELECT id, name, is_public, settings, created_at
	FROM lobbies
	WHERE is_public = true
	ORDER BY created_at DESC
	`
	rows, err := DB.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lobbies []models.Lobby
	for rows.Next() {
		var l models.Lobby
		var settings map[string]any
		if err := rows.Scan(&l.ID, &l.Name, &l.Public, &settings, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Settings = models.SettingsFromMap(settings)
		lobbies = append(lobbies, l)
	}
	return lobbies, rows.Err()
}

// UpdateLobbySettings overwrites the stored settings for a lobby.
func UpdateLobbySettings(ctx context.Context, lobbyID uuid.UUID, settings models.Settings) error {
	data, err := json.Marshal(settings.Map())
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = DB.Exec(ctx, `UPDATE lobbies SET settings = $2 WHERE id = $1`, lobbyID, data)
	return err
}
