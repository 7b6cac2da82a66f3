package api

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Authentication errors
var (
	ErrAuthRequired      = errors.New("authentication required")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrAuthTokenInvalid  = errors.New("invalid auth token format")
	ErrAuthTokenMismatch = errors.New("auth token mismatch")
)

// Environment variables read by NewAuthenticatorFromEnv.
const (
	EnvAuthEnabled = "OTTERBRIX_AUTH_ENABLED"
	EnvAuthToken   = "OTTERBRIX_AUTH_TOKEN"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// Enabled determines if authentication is required
	Enabled bool
	// Token is the secret clients must present, in plain text or as a
	// bcrypt hash.
	Token string
}

// Authenticator handles connection authentication.
type Authenticator struct {
	config AuthConfig
	hashed bool
	mu     sync.RWMutex
}

// NewAuthenticator creates a new Authenticator with the given config.
func NewAuthenticator(config AuthConfig) *Authenticator {
	return &Authenticator{
		config: config,
		hashed: isBcryptHash(config.Token),
	}
}

// NewAuthenticatorFromEnv creates an Authenticator from OTTERBRIX_AUTH_ENABLED
// and OTTERBRIX_AUTH_TOKEN. If auth is enabled without a token, a random one
// is generated; GetToken returns it.
func NewAuthenticatorFromEnv() (*Authenticator, error) {
	enabled := os.Getenv(EnvAuthEnabled) == "true" || os.Getenv(EnvAuthEnabled) == "1"
	token := os.Getenv(EnvAuthToken)

	if enabled && token == "" {
		var err error
		if token, err = GenerateToken(); err != nil {
			return nil, err
		}
	}

	return NewAuthenticator(AuthConfig{
		Enabled: enabled,
		Token:   token,
	}), nil
}

func isBcryptHash(s string) bool {
	if len(s) != 60 {
		return false
	}
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// IsEnabled returns true if authentication is enabled.
func (a *Authenticator) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Enabled
}

// GetToken returns the configured token, which may be a bcrypt hash.
func (a *Authenticator) GetToken() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.config.Token
}

// ValidateToken checks the provided token against the configured one. Plain
// tokens are compared in constant time.
func (a *Authenticator) ValidateToken(providedToken string) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.config.Enabled {
		return nil
	}

	if providedToken == "" {
		return ErrAuthRequired
	}

	if a.hashed {
		if err := bcrypt.CompareHashAndPassword([]byte(a.config.Token), []byte(providedToken)); err != nil {
			return ErrAuthTokenMismatch
		}
		return nil
	}

	if subtle.ConstantTimeCompare([]byte(a.config.Token), []byte(providedToken)) != 1 {
		return ErrAuthTokenMismatch
	}

	return nil
}

// GenerateToken generates a cryptographically secure random token.
func GenerateToken() (string, error) {
	bytes := make([]byte, 32) // 256 bits
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// HashToken returns the bcrypt hash of token, suitable for AuthConfig.Token.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", ErrAuthTokenInvalid
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(hash), nil
}

// AuthMessage represents an authentication handshake message.
// This is the first message a client must send when auth is enabled.
type AuthMessage struct {
	Type  string `json:"type"`  // Must be "auth"
	Token string `json:"token"` // The authentication token
}

// AuthResponse is sent back to the client after auth attempt.
type AuthResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
