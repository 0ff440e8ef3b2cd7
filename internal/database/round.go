package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/wisher-game/wisher/internal/game"
)

// InsertRound persists a freshly created round.
func InsertRound(ctx context.Context, lobbyID uuid.UUID, snap game.RoundSnapshot) error {
	submissions, votes, err := marshalRoundMaps(snap)
	if err != nil {
		return err
	}
	q := `
	INSERT INTO rounds (id, lobby_id, number, wisher_id, wish_text, submissions, votes, finished)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	return pgx.BeginTxFunc(ctx, DB, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			snap.ID, lobbyID, snap.Number, snap.WisherID, snap.Wish, submissions, votes, snap.Finished,
		)
		return err
	})
}

// SaveRound writes the current round state over the stored row. The
// in-memory session owns the truth; this is a write-through snapshot.
func SaveRound(ctx context.Context, snap game.RoundSnapshot) error {
	submissions, votes, err := marshalRoundMaps(snap)
	if err != nil {
		return err
	}
	q := `
	UPDATE rounds
	SET wish_text = $2, submissions = $3, votes = $4, finished = $5
	WHERE id = $1
	`
	_, err = DB.Exec(ctx, q, snap.ID, snap.Wish, submissions, votes, snap.Finished)
	return err
}

// GetActiveRound fetches the newest unfinished round for a lobby, if any.
// Used to rehydrate a session after a restart.
func GetActiveRound(ctx context.Context, lobbyID uuid.UUID) (*game.RoundSnapshot, error) {
	var snap game.RoundSnapshot
	var submissions, votes []byte
	q := `
	SELECT id, number, wisher_id, COALESCE(wish_text, ''), submissions, votes, finished
	FROM rounds
	WHERE lobby_id = $1 AND finished = false
	ORDER BY number DESC
	LIMIT 1
	`
	err := DB.QueryRow(ctx, q, lobbyID).Scan(
		&snap.ID, &snap.Number, &snap.WisherID, &snap.Wish, &submissions, &votes, &snap.Finished,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(submissions, &snap.Submissions); err != nil {
		return nil, fmt.Errorf("decode submissions: %w", err)
	}
	if err := json.Unmarshal(votes, &snap.Votes); err != nil {
		return nil, fmt.Errorf("decode votes: %w", err)
	}
	return &snap, nil
}

func marshalRoundMaps(snap game.RoundSnapshot) ([]byte, []byte, error) {
	submissions, err := json.Marshal(snap.Submissions)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal submissions: %w", err)
	}
	votes, err := json.Marshal(snap.Votes)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal votes: %w", err)
	}
	return submissions, votes, nil
}
