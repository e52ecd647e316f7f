package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/korvane/vidsub-api/internal/api/shared"
	"github.com/korvane/vidsub-api/internal/redact"
)

// Authentication errors.
var (
	// ErrInvalidToken indicates the token is malformed or the signature
	// does not match.
	ErrInvalidToken = errors.New("invalid authentication token")

	// ErrExpiredToken indicates the token has expired.
	ErrExpiredToken = errors.New("authentication token has expired")

	// ErrMissingToken indicates a token was expected but not provided.
	ErrMissingToken = errors.New("authentication token is missing")
)

// minSecretLength guards against trivially brute-forceable HMAC keys.
const minSecretLength = 32

// Caller is the identity the auth layer resolves for each request.
type Caller struct {
	ID    uuid.UUID
	Guest bool
}

type authClaims struct {
	CallerID uuid.UUID `json:"uid"`
	Guest    bool      `json:"guest"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 bearer tokens and places the resolved
// caller identity into the request context.
type Authenticator struct {
	signingKey    []byte
	tokenLifetime time.Duration
	clockSkew     time.Duration
	timeFunc      func() time.Time
	logger        *slog.Logger
}

// NewAuthenticator builds an Authenticator from the shared secret.
func NewAuthenticator(secret string, tokenLifetime time.Duration, logger *slog.Logger) (*Authenticator, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("auth secret must be at least %d characters", minSecretLength)
	}
	if tokenLifetime <= 0 {
		tokenLifetime = 24 * time.Hour
	}
	return &Authenticator{
		signingKey:    []byte(secret),
		tokenLifetime: tokenLifetime,
		clockSkew:     2 * time.Minute,
		timeFunc:      time.Now,
		logger:        logger.With("component", "auth"),
	}, nil
}

// GenerateToken mints a signed token for the caller. Guest tokens carry the
// guest flag so the service routes them through the guest gate.
func (a *Authenticator) GenerateToken(callerID uuid.UUID, guest bool) (string, error) {
	now := a.timeFunc()
	claims := authClaims{
		CallerID: callerID,
		Guest:    guest,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   callerID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenLifetime)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and verifies a bearer token, returning the caller it
// identifies.
func (a *Authenticator) ValidateToken(tokenString string) (Caller, error) {
	if tokenString == "" {
		return Caller{}, ErrMissingToken
	}

	now := a.timeFunc()
	token, err := jwt.ParseWithClaims(
		tokenString,
		&authClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return a.signingKey, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(a.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Caller{}, ErrExpiredToken
		}
		a.logger.Debug("token validation failed", "error", redact.Error(err))
		return Caller{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*authClaims)
	if !ok || !token.Valid || claims.CallerID == uuid.Nil {
		return Caller{}, ErrInvalidToken
	}

	return Caller{ID: claims.CallerID, Guest: claims.Guest}, nil
}

// Authenticate is the middleware form: it requires a valid bearer token and
// stores the resolved caller in the request context.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		caller, err := a.ValidateToken(parts[1])
		if err != nil {
			switch {
			case errors.Is(err, ErrExpiredToken):
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Token expired")
			default:
				shared.RespondWithError(w, r, http.StatusUnauthorized, "Invalid token")
			}
			return
		}

		ctx := context.WithValue(r.Context(), shared.CallerContextKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetCaller extracts the authenticated caller from the request context.
func GetCaller(r *http.Request) (Caller, bool) {
	caller, ok := r.Context().Value(shared.CallerContextKey).(Caller)
	if !ok || caller.ID == uuid.Nil {
		return Caller{}, false
	}
	return caller, true
}
