package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"

	"github.com/tjfontaine/cloud-emulator-gateway/internal/config"
)

// AccountClaim is the JWT claim holding the caller's account id.
const AccountClaim = "account"

// Authenticator validates credentials and resolves the account they belong to.
type Authenticator struct {
	accounts  map[string]string // keyhash -> account
	jwtSecret []byte
}

// NewAuthenticator creates an authenticator from the auth configuration.
func NewAuthenticator(cfg config.AuthConfig) *Authenticator {
	a := &Authenticator{
		accounts: make(map[string]string),
	}
	for _, key := range cfg.APIKeys {
		a.accounts[strings.ToLower(key.KeyHash)] = key.Account
	}
	if cfg.JWTSecret != "" {
		a.jwtSecret = []byte(cfg.JWTSecret)
	}
	return a
}

// Authenticate validates a bearer credential and returns its account.
// Tokens shaped like a JWT are verified when a secret is configured;
// everything else is treated as an API key.
func (a *Authenticator) Authenticate(credential string) (string, error) {
	if a.jwtSecret != nil && strings.Count(credential, ".") == 2 {
		return a.ValidateToken(credential)
	}
	return a.ValidateAPIKey(credential)
}

// ValidateAPIKey validates an API key and returns the associated account.
func (a *Authenticator) ValidateAPIKey(apiKey string) (string, error) {
	keyHash := HashAPIKey(apiKey)

	// Constant-time comparison to prevent timing attacks
	for hash, account := range a.accounts {
		if subtle.ConstantTimeCompare([]byte(keyHash), []byte(hash)) == 1 {
			return account, nil
		}
	}

	return "", fmt.Errorf("invalid API key")
}

// ValidateToken verifies an HMAC-signed JWT and returns its account claim.
func (a *Authenticator) ValidateToken(tokenString string) (string, error) {
	if a.jwtSecret == nil {
		return "", fmt.Errorf("token authentication is not configured")
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}

	account, _ := claims[AccountClaim].(string)
	if account == "" {
		account, _ = claims["sub"].(string)
	}
	if account == "" {
		return "", fmt.Errorf("token has no %s claim", AccountClaim)
	}
	return account, nil
}

// SignToken issues an HS256 token for account. It is used by tooling and
// tests; the gateway itself only verifies tokens.
func SignToken(secret, account string, claims jwt.MapClaims) (string, error) {
	if claims == nil {
		claims = jwt.MapClaims{}
	}
	claims[AccountClaim] = account
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ExtractAPIKey extracts the credential from the Authorization header
func ExtractAPIKey(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	// Support "Bearer <key>" format
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	if strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme")
	}

	return parts[1], nil
}

// HashAPIKey creates a SHA-256 hash of an API key for storage
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
