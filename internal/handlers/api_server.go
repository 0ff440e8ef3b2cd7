// internal/handlers/api_server.go
package handlers

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/sirupsen/logrus"
	"github.com/wisher-game/wisher/internal/game"
	"github.com/wisher-game/wisher/internal/middleware"
)

// Server is the HTTP/WS surface of the service. It owns the in-memory
// session store; lobby and player rows live in Postgres behind
// internal/database.
type Server struct {
	Sessions *game.SessionStore
	Logger   *logrus.Logger

	// BaseURL is the externally reachable address used in QR join links.
	BaseURL string
}

// NewServer wires a Server with its session store.
func NewServer(logger *logrus.Logger, recorder game.Recorder, baseURL string) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		Sessions: game.NewSessionStore(recorder, logger),
		Logger:   logger,
		BaseURL:  baseURL,
	}
}

// Routes registers every endpoint and returns the logging-wrapped handler.
// Route names match the original HTTP API the frontends speak.
func (s *Server) Routes() http.Handler {
	router := httprouter.New()

	router.POST("/create_lobby", s.CreateLobbyHandler)
	router.POST("/join_lobby", s.JoinLobbyHandler)
	router.GET("/lobbies", s.ListLobbiesHandler)
	router.GET("/qr/:name", s.LobbyQRHandler)
	router.GET("/health", s.HealthHandler)
	router.GET("/ws/:name", s.LobbyWSHandler)

	return middleware.LogMiddleware(s.Logger)(router)
}
