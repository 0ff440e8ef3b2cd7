// internal/handlers/lobby.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"github.com/wisher-game/wisher/internal/auth"
	"github.com/wisher-game/wisher/internal/database"
	"github.com/wisher-game/wisher/internal/models"
)

const qrSize = 256

type createLobbyRequest struct {
	LobbyName string `json:"lobby_name"`
	Password  string `json:"password"`
	IsPublic  *bool  `json:"is_public"`
}

// CreateLobbyHandler creates a lobby row with an argon2id-hashed password.
func (s *Server) CreateLobbyHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.LobbyName == "" || req.Password == "" {
		http.Error(w, "lobby_name and password are required", http.StatusBadRequest)
		return
	}

	hash, err := auth.CreateHash(req.Password, auth.Params)
	if err != nil {
		s.Logger.WithError(err).Error("failed to hash lobby password")
		http.Error(w, "error creating lobby", http.StatusInternalServerError)
		return
	}

	lobby := models.Lobby{
		ID:           uuid.New(),
		Name:         req.LobbyName,
		PasswordHash: hash,
		Public:       req.IsPublic == nil || *req.IsPublic,
		Settings:     models.DefaultSettings(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := database.InsertLobby(r.Context(), &lobby); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			http.Error(w, "lobby exists", http.StatusConflict)
			return
		}
		s.Logger.WithError(err).Error("failed to insert lobby")
		http.Error(w, "error creating lobby", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"ok": true,
		"lobby": map[string]any{
			"id":   lobby.ID,
			"name": lobby.Name,
		},
	})
}

type joinLobbyRequest struct {
	LobbyName string `json:"lobby_name"`
	Password  string `json:"password"`
	Username  string `json:"username"`
	Spectator bool   `json:"spectator"`
}

// JoinLobbyHandler verifies the lobby password, creates a durable player
// identity, and returns the JWT the websocket handshake expects. A wrong
// password and a missing lobby are deliberately indistinguishable.
func (s *Server) JoinLobbyHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req joinLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.LobbyName == "" || req.Username == "" {
		http.Error(w, "lobby_name and username are required", http.StatusBadRequest)
		return
	}

	lobby, err := database.GetLobbyByName(r.Context(), req.LobbyName)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			s.Logger.WithError(err).Error("failed to look up lobby")
		}
		http.Error(w, "lobby not found or wrong password", http.StatusForbidden)
		return
	}
	match, err := auth.ComparePasswordAndHash(req.Password, lobby.PasswordHash)
	if err != nil || !match {
		http.Error(w, "lobby not found or wrong password", http.StatusForbidden)
		return
	}

	player := models.Player{
		ID:        uuid.New(),
		LobbyID:   lobby.ID,
		Username:  req.Username,
		Spectator: req.Spectator,
		LastSeen:  time.Now().UTC(),
	}
	if err := database.InsertPlayer(r.Context(), &player); err != nil {
		s.Logger.WithError(err).Error("failed to insert player")
		http.Error(w, "error joining lobby", http.StatusInternalServerError)
		return
	}

	// A live session must learn about the new player immediately so a
	// mid-game join shows up in players_update and wisher rotation.
	if sess, ok := s.Sessions.Get(lobby.Name); ok {
		sess.AddPlayer(&player)
	}

	token, err := auth.CreateJoinToken(auth.JoinClaims{
		PlayerID:  player.ID,
		LobbyID:   lobby.ID,
		LobbyName: lobby.Name,
		Username:  player.Username,
	})
	if err != nil {
		s.Logger.WithError(err).Error("failed to sign join token")
		http.Error(w, "error joining lobby", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":    true,
		"token": token,
		"player": map[string]any{
			"player_uuid": player.ID,
			"username":    player.Username,
			"spectator":   player.Spectator,
		},
	})
}

// ListLobbiesHandler returns the public lobby directory.
func (s *Server) ListLobbiesHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	lobbies, err := database.ListPublicLobbies(r.Context())
	if err != nil {
		s.Logger.WithError(err).Error("failed to list lobbies")
		http.Error(w, "error listing lobbies", http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(lobbies))
	for _, l := range lobbies {
		out = append(out, map[string]any{
			"id":         l.ID,
			"name":       l.Name,
			"created_at": l.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"lobbies": out})
}

// LobbyQRHandler generates a PNG QR code for a lobby's join URL, for
// passing the lobby around a room full of phones.
func (s *Server) LobbyQRHandler(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("name")
	if name == "" {
		http.Error(w, "missing lobby name", http.StatusBadRequest)
		return
	}
	url := s.BaseURL + "/?lobby=" + name
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		s.Logger.WithError(err).Error("failed to encode QR code")
		http.Error(w, "error generating QR code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// HealthHandler is a trivial liveness probe.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
