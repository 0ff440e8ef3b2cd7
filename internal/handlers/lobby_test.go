// internal/handlers/lobby_test.go
package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServer() *Server {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return NewServer(logger, nil, "http://localhost:8080")
}

func TestHealthHandler(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"ok": true}`, rec.Body.String())
}

func TestLobbyQRHandler(t *testing.T) {
	s := testServer()
	req := httptest.NewRequest(http.MethodGet, "/qr/friday-night", nil)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	// PNG magic bytes.
	body := rec.Body.Bytes()
	require.Greater(t, len(body), 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, body[:4])
}

func TestCreateLobbyValidation(t *testing.T) {
	s := testServer()

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", "{nope"},
		{"missing name", `{"password": "pw"}`},
		{"missing password", `{"lobby_name": "party"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/create_lobby", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			s.Routes().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestJoinLobbyValidation(t *testing.T) {
	s := testServer()

	cases := []struct {
		name string
		body string
	}{
		{"malformed json", "<xml?>"},
		{"missing username", `{"lobby_name": "party", "password": "pw"}`},
		{"missing lobby", `{"username": "ana", "password": "pw"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/join_lobby", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			s.Routes().ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
