// internal/auth/session.go
package auth

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// privateKey and publicKey are used for signing and verifying join tokens.
var (
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey

	// TOKEN_EXPIRE_TIME_SEC indicates how many seconds until JWT expiration (0 => never).
	TOKEN_EXPIRE_TIME_SEC int
)

// JoinClaims is what a lobby join token carries: enough to rebind a
// reconnecting websocket to its durable player identity without re-proving
// the lobby password.
type JoinClaims struct {
	PlayerID  uuid.UUID
	LobbyID   uuid.UUID
	LobbyName string
	Username  string
}

// parseTokenExpireTime reads the TOKEN_EXPIRE_TIME env var and sets TOKEN_EXPIRE_TIME_SEC accordingly.
func parseTokenExpireTime() {
	duration := os.Getenv("TOKEN_EXPIRE_TIME")
	if duration == "never" || duration == "0" || duration == "" {
		TOKEN_EXPIRE_TIME_SEC = 0
	} else {
		d, err := time.ParseDuration(duration)
		if err != nil {
			fmt.Printf("failed to parse token expire time: %v\n", err)
			os.Exit(1)
		}
		TOKEN_EXPIRE_TIME_SEC = int(d.Seconds())
	}
}

// Init generates a fresh ed25519 key pair at runtime and sets the token expiration.
// Tokens do not survive a restart; clients rejoin over HTTP in that case.
func Init() {
	var err error
	publicKey, privateKey, err = ed25519.GenerateKey(nil)
	if err != nil {
		fmt.Printf("failed to generate ed25519 key pair: %v\n", err)
		os.Exit(1)
	}
	parseTokenExpireTime()
}

// InitFromPath reads ed25519 private/public keys from file and sets the token expiration.
func InitFromPath(privatePath, publicPath string) error {
	privateKeyData, err := os.ReadFile(privatePath)
	if err != nil {
		return fmt.Errorf("failed to read private key file: %w", err)
	}
	publicKeyData, err := os.ReadFile(publicPath)
	if err != nil {
		return fmt.Errorf("failed to read public key file: %w", err)
	}

	privateKey = ed25519.PrivateKey(privateKeyData)
	publicKey = ed25519.PublicKey(publicKeyData)
	parseTokenExpireTime()
	return nil
}

// CreateJoinToken signs a JWT binding a player identity to a lobby.
func CreateJoinToken(c JoinClaims) (string, error) {
	claims := jwt.MapClaims{
		"sub":        c.PlayerID.String(),
		"lobby_id":   c.LobbyID.String(),
		"lobby_name": c.LobbyName,
		"username":   c.Username,
	}

	if TOKEN_EXPIRE_TIME_SEC > 0 {
		claims["exp"] = time.Now().Add(time.Duration(TOKEN_EXPIRE_TIME_SEC) * time.Second).Unix()
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(privateKey)
}

// ParseJoinToken verifies a join token string and returns its claims.
func ParseJoinToken(tokenString string) (*JoinClaims, error) {
	t, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt parse error: %w", err)
	}
	if !t.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := t.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid jwt claims")
	}

	out := &JoinClaims{}
	sub, ok := claims["sub"].(string)
	if !ok {
		return nil, fmt.Errorf("missing sub in jwt")
	}
	if out.PlayerID, err = uuid.Parse(sub); err != nil {
		return nil, fmt.Errorf("invalid player id in jwt: %w", err)
	}
	lobbyID, ok := claims["lobby_id"].(string)
	if !ok {
		return nil, fmt.Errorf("missing lobby_id in jwt")
	}
	if out.LobbyID, err = uuid.Parse(lobbyID); err != nil {
		return nil, fmt.Errorf("invalid lobby id in jwt: %w", err)
	}
	out.LobbyName, _ = claims["lobby_name"].(string)
	out.Username, _ = claims["username"].(string)
	return out, nil
}
