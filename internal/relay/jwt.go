package relay

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const jwtSecretKey = "jwt_secret"

// PeerClaims are the JWT claims for a peer connection token. The subject
// binds the token to the API key it was exchanged for.
type PeerClaims struct {
	jwt.RegisteredClaims
	APIKey string `json:"key"`
}

// GenerateOrLoadSecret returns the JWT signing secret.
// Priority: env secret (JWT_SECRET) > relay_config DB > auto-generate.
func GenerateOrLoadSecret(store *Store, envSecret string) ([]byte, error) {
	if envSecret != "" {
		return base64.StdEncoding.DecodeString(envSecret)
	}

	val, err := store.GetRelayConfig(jwtSecretKey)
	if err != nil {
		return nil, err
	}
	if val != "" {
		return base64.StdEncoding.DecodeString(val)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}

	encoded := base64.StdEncoding.EncodeToString(secret)
	if err := store.SetRelayConfig(jwtSecretKey, encoded); err != nil {
		return nil, err
	}
	return secret, nil
}

// IssuePeerJWT creates a signed token a peer can present as the WS
// handshake token instead of the raw API key.
func IssuePeerJWT(secret []byte, apiKey string) (string, time.Time, error) {
	exp := time.Now().Add(30 * 24 * time.Hour)
	claims := PeerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   apiKey,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		APIKey: apiKey,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign jwt: %w", err)
	}
	return signed, exp, nil
}

// ValidatePeerJWT verifies a token and returns the claims.
func ValidatePeerJWT(secret []byte, tokenString string) (*PeerClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &PeerClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse jwt: %w", err)
	}

	claims, ok := token.Claims.(*PeerClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid jwt claims")
	}
	return claims, nil
}
