// internal/game/session_store.go
package game

import (
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/wisher-game/wisher/internal/models"
)

// SessionStore manages the active lobby sessions in memory, keyed by lobby
// name. Sessions for different lobbies proceed fully in parallel; the store
// mutex only guards the map itself.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session

	recorder Recorder
	logger   *logrus.Logger
}

// NewSessionStore initializes an empty store. All sessions it creates share
// the given recorder and logger.
func NewSessionStore(recorder Recorder, logger *logrus.Logger) *SessionStore {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		recorder: recorder,
		logger:   logger,
	}
}

// Get returns the live session for a lobby name, if one exists.
func (st *SessionStore) Get(name string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[name]
	return s, ok
}

// GetOrCreate returns the live session for the lobby, building one from the
// directory records on first connection. The session's OnEmpty callback is
// wired to remove it from the store.
func (st *SessionStore) GetOrCreate(lobby models.Lobby, players []*models.Player) *Session {
	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[lobby.Name]; ok {
		return s
	}
	s := NewSession(lobby, players, st.recorder, st.logger)
	s.OnEmpty = st.Delete
	st.sessions[lobby.Name] = s
	return s
}

// Delete removes a session from the store. Typically invoked via OnEmpty
// once the session's liveness loop decides the lobby is abandoned. The
// session's state is re-checked under the store lock: a connection that
// registered after the teardown decision keeps the session alive.
func (st *SessionStore) Delete(name string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[name]
	if !ok {
		return
	}
	if !s.Idle() {
		st.logger.WithField("lobby", name).Info("session no longer idle, keeping")
		return
	}
	delete(st.sessions, name)
	st.logger.WithField("lobby", name).Info("session removed from store")
}
