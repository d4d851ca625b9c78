package authutil

import (
	"errors"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	secretOnce sync.Once // Ensure that the key is only read and initialized once.
	secretKey  []byte
)

// getSecret retrieves the signing key from the environment, with a
// development fallback.
func getSecret() []byte {
	secretOnce.Do(func() {
		key := os.Getenv("LANCHAT_API_SECRET")
		if key == "" {
			key = "dev-secret-change-me" // using a default for development
		}
		secretKey = []byte(key)
	})
	return secretKey
}

// IssueToken returns a signed token authorizing control-API calls for the
// named local client.
func IssueToken(client string) (string, error) {
	claims := jwt.MapClaims{
		"client": client,
		"exp":    time.Now().Add(24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(getSecret())
}

// ValidateToken parses a token string and validates its signature, returning
// the client name it was issued to.
func ValidateToken(tokenStr string) (string, error) {
	if tokenStr == "" {
		return "", errors.New("empty token")
	}
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return getSecret(), nil
	})
	if err != nil {
		return "", err
	}
	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		if client, ok := claims["client"].(string); ok {
			return client, nil
		}
	}
	return "", errors.New("invalid token claims")
}
