// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the lobby websocket handler.
// These provide more specific reasons for closure than standard codes.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Join token was missing, invalid, or expired.
	LobbyMismatchError    = 3002 // Token was issued for a different lobby than the URL names.
	PlayerNotFoundError   = 3003 // Token references a player the directory no longer knows.
)
