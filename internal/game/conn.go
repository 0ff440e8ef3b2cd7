// internal/game/conn.go
package game

import (
	"log"

	"github.com/google/uuid"
)

// PlayerConn is a single player's live presence in a lobby session. The
// websocket handler owns the actual socket; the session only ever touches the
// outbound channel, so a slow client can never block game-state progress.
type PlayerConn struct {
	PlayerID uuid.UUID
	Cancel   func()
	OutChan  chan map[string]any
}

// NewPlayerConn builds a connection binding with a buffered outbound queue.
func NewPlayerConn(playerID uuid.UUID, cancel func()) *PlayerConn {
	return &PlayerConn{
		PlayerID: playerID,
		Cancel:   cancel,
		OutChan:  make(chan map[string]any, 16),
	}
}

// Write pushes a message onto the player's OutChan non-blockingly. Logs if blocked/dropped.
func (conn *PlayerConn) Write(msg map[string]any) {
	defer func() {
		// OutChan may be closed by a racing reconnect teardown.
		recover()
	}()
	select {
	case conn.OutChan <- msg:
	default:
		msgType, _ := msg["type"].(string)
		log.Printf("PlayerConn Write WARNING: OutChan for player %s closed or full. Dropped message type '%s'.", conn.PlayerID, msgType)
	}
}

// WriteError is a convenience to send an error object with a detail code.
func (conn *PlayerConn) WriteError(detail string) {
	conn.Write(map[string]any{
		"type":   "error",
		"detail": detail,
	})
}
