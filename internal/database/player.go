package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/wisher-game/wisher/internal/models"
)

// InsertPlayer creates a player row inside a lobby.
func InsertPlayer(ctx context.Context, p *models.Player) error {
	q := `
	INSERT INTO players (id, lobby_id, username, score, is_connected, is_spectator, last_seen)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			p.ID, p.LobbyID, p.Username, p.Score, p.Connected, p.Spectator, p.LastSeen,
		)
		return err
	})
}

// GetPlayer fetches a player row by its durable id.
func GetPlayer(ctx context.Context, id uuid.UUID) (*models.Player, error) {
	var p models.Player
	var lastSeen *time.Time
	q := `
	SELECT id, lobby_id, username, score, is_connected, is_spectator, last_seen
	FROM players
	WHERE id = $1
	`
	err := DB.QueryRow(ctx, q, id).Scan(
		&p.ID, &p.LobbyID, &p.Username, &p.Score, &p.Connected, &p.Spectator, &lastSeen,
	)
	if err != nil {
		return nil, err
	}
	if lastSeen != nil {
		p.LastSeen = *lastSeen
	}
	return &p, nil
}

// ListPlayers returns every player in a lobby, in join order. Players are
// never deleted while the lobby exists, so this enumeration stays stable for
// wisher rotation.
func ListPlayers(ctx context.Context, lobbyID uuid.UUID) ([]*models.Player, error) {
	q := `
	SELECT id, lobby_id, username, score, is_connected, is_spectator, last_seen
	FROM players
	WHERE lobby_id = $1
	ORDER BY joined_at, id
	`
	rows, err := DB.Query(ctx, q, lobbyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []*models.Player
	for rows.Next() {
		var p models.Player
		var lastSeen *time.Time
		if err := rows.Scan(&p.ID, &p.LobbyID, &p.Username, &p.Score, &p.Connected, &p.Spectator, &lastSeen); err != nil {
			return nil, err
		}
		if lastSeen != nil {
			p.LastSeen = *lastSeen
		}
		players = append(players, &p)
	}
	return players, rows.Err()
}

// SetPlayerConnected flips the connectivity flag and bumps last_seen.
func SetPlayerConnected(ctx context.Context, id uuid.UUID, connected bool) error {
	q := `UPDATE players SET is_connected = $2, last_seen = now() WHERE id = $1`
	_, err := DB.Exec(ctx, q, id, connected)
	return err
}

// SetPlayerScore records a player's new cumulative score.
func SetPlayerScore(ctx context.Context, id uuid.UUID, score int) error {
	_, err := DB.Exec(ctx, `UPDATE players SET score = $2 WHERE id = $1`, id, score)
	return err
}
