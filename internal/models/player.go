package models

import (
	"time"

	"github.com/google/uuid"
)

// Player represents a row in the players table: a durable identity inside a
// single lobby. A player survives disconnects; only the connection binding is
// ephemeral.
type Player struct {
	ID        uuid.UUID `json:"player_uuid"`
	LobbyID   uuid.UUID `json:"-"`
	Username  string    `json:"username"`
	Score     int       `json:"score"`
	Connected bool      `json:"connected"`
	Spectator bool      `json:"spectator"`
	LastSeen  time.Time `json:"-"`
}
