// internal/handlers/ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/jackc/pgx/v5"
	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
	"github.com/wisher-game/wisher/internal/auth"
	"github.com/wisher-game/wisher/internal/database"
	"github.com/wisher-game/wisher/internal/game"
	"github.com/wisher-game/wisher/internal/middleware"
)

// LobbyWSHandler upgrades /ws/:name to the lobby's duplex message stream.
// Authentication failures send a single error message and close the socket;
// every later validation failure is a private, non-fatal error reply.
func (s *Server) LobbyWSHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	lobbyName := ps.ByName("name")
	remoteAddr := r.RemoteAddr

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{"wisher"},
		OriginPatterns: []string{"*"}, // Adjust in production
	})
	if err != nil {
		s.Logger.Warnf("websocket accept error: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "handler finished")
	middleware.LogWebSocketConnect(s.Logger, remoteAddr, r.URL.Path)

	if c.Subprotocol() != "wisher" {
		c.Close(BadSubprotocolError, "client must speak the wisher subprotocol")
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		sendWSError(r.Context(), c, "auth_required")
		c.Close(InvalidAuthTokenError, "missing join token")
		return
	}
	claims, err := auth.ParseJoinToken(token)
	if err != nil {
		sendWSError(r.Context(), c, "invalid_token")
		c.Close(InvalidAuthTokenError, "invalid join token")
		return
	}
	if claims.LobbyName != lobbyName {
		sendWSError(r.Context(), c, "lobby_mismatch")
		c.Close(LobbyMismatchError, "token issued for a different lobby")
		return
	}

	sess, ok := s.Sessions.Get(lobbyName)
	if !ok {
		// First connection for this lobby: rebuild the session from the
		// directory.
		lobby, err := database.GetLobbyByName(r.Context(), lobbyName)
		if err != nil {
			sendWSError(r.Context(), c, "lobby_mismatch")
			c.Close(LobbyMismatchError, "lobby does not exist")
			return
		}
		players, err := database.ListPlayers(r.Context(), lobby.ID)
		if err != nil {
			s.Logger.WithError(err).Error("failed to load lobby players")
			sendWSError(r.Context(), c, "internal_transient")
			c.Close(websocket.StatusInternalError, "directory unavailable")
			return
		}
		sess = s.Sessions.GetOrCreate(*lobby, players)

		// Pick up an unfinished round persisted before a restart.
		if snap, err := database.GetActiveRound(r.Context(), lobby.ID); err == nil && snap != nil {
			sess.Resume(*snap)
		} else if err != nil {
			s.Logger.WithError(err).Warn("failed to load active round, starting idle")
		}
	}
	if sess.LobbyID != claims.LobbyID {
		sendWSError(r.Context(), c, "lobby_mismatch")
		c.Close(LobbyMismatchError, "token issued for a different lobby")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	conn := game.NewPlayerConn(claims.PlayerID, cancel)

	if err := sess.Register(claims.PlayerID, conn); err != nil {
		// The session predates this player; check the directory before
		// giving up (the player may have joined after session creation).
		player, dbErr := database.GetPlayer(r.Context(), claims.PlayerID)
		if dbErr != nil || player.LobbyID != claims.LobbyID {
			if dbErr != nil && !errors.Is(dbErr, pgx.ErrNoRows) {
				s.Logger.WithError(dbErr).Error("failed to load player")
			}
			sendWSError(r.Context(), c, "player_not_found")
			c.Close(PlayerNotFoundError, "unknown player")
			cancel()
			return
		}
		sess.AddPlayer(player)
		if err := sess.Register(claims.PlayerID, conn); err != nil {
			sendWSError(r.Context(), c, "player_not_found")
			c.Close(PlayerNotFoundError, "unknown player")
			cancel()
			return
		}
	}

	s.Logger.Infof("Player %v (%s) connected to lobby %s", claims.PlayerID, remoteAddr, lobbyName)

	// Private resync state first, so a reconnecting client catches up before
	// any broadcast lands.
	conn.Write(sess.StatePayload(claims.PlayerID))

	go writePump(ctx, c, conn, s.Logger)
	readPump(ctx, c, sess, conn, s.Logger)

	s.Logger.Infof("Player %v readPump exited for lobby %s. Initiating cleanup.", claims.PlayerID, lobbyName)
	sess.Unregister(claims.PlayerID, conn)
	middleware.LogWebSocketDisconnect(s.Logger, remoteAddr, r.URL.Path, nil)
}

// sendWSError writes one error message straight to the socket, used before
// the write pump exists.
func sendWSError(ctx context.Context, c *websocket.Conn, detail string) {
	data, _ := json.Marshal(map[string]any{"type": "error", "detail": detail})
	writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = c.Write(writeCtx, websocket.MessageText, data)
}

// readPump handles incoming messages until the connection closes. Each
// packet is routed through the session's serialized action path; a rejected
// action turns into a private error reply and nothing else.
func readPump(ctx context.Context, c *websocket.Conn, sess *game.Session, conn *game.PlayerConn, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus == websocket.StatusNormalClosure || closeStatus == websocket.StatusGoingAway {
				logger.Infof("Lobby %s: WebSocket closed normally for player %v.", sess.Name, conn.PlayerID)
			} else if !strings.Contains(err.Error(), "context canceled") {
				logger.Warnf("Lobby %s: Read error for player %v: %v (CloseStatus: %d)", sess.Name, conn.PlayerID, err, closeStatus)
			}
			return
		}
		if typ != websocket.MessageText {
			logger.Warnf("Lobby %s: Received non-text message type %d from player %v. Ignoring.", sess.Name, typ, conn.PlayerID)
			continue
		}

		var packet map[string]any
		if err := json.Unmarshal(msg, &packet); err != nil {
			logger.Warnf("Lobby %s: Invalid json from player %v: %v", sess.Name, conn.PlayerID, err)
			conn.WriteError("invalid_json")
			continue
		}

		if err := sess.HandleAction(conn.PlayerID, packet); err != nil {
			conn.WriteError(game.Detail(err))
		}
	}
}

// writePump drains the player's outbound queue onto the socket and keeps the
// connection alive with periodic pings. Exits on any write failure; readPump
// observes the closure and triggers cleanup.
func writePump(ctx context.Context, c *websocket.Conn, conn *game.PlayerConn, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	defer func() {
		_ = c.Close(websocket.StatusGoingAway, "write pump stopping")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.OutChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("Failed to marshal outgoing msg for player %v: %v", conn.PlayerID, err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Warnf("Failed to write to websocket for player %v: %v", conn.PlayerID, err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("Failed to ping player %v: %v. Assuming disconnect.", conn.PlayerID, err)
				return
			}
		}
	}
}
