package api

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// tokenIssuer is the iss claim of login tokens.
	tokenIssuer = "lorabridge"

	// tokenSecretBytes is the size of the HMAC signing key.
	tokenSecretBytes = 32

	defaultTokenTTL = time.Hour
)

// errTokenInvalid is returned for tokens that fail verification.
var errTokenInvalid = errors.New("invalid token")

// newTokenSecret returns a fresh signing key. Keys live in memory only, so a
// restart or a credential change invalidates every issued token.
func newTokenSecret() ([]byte, error) {
	b := make([]byte, tokenSecretBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating token secret: %w", err)
	}
	return b, nil
}

// issueToken signs an access token for user.
func (s *Server) issueToken(user string, now time.Time) (string, error) {
	s.mu.RLock()
	secret := s.tokenSecret
	s.mu.RUnlock()

	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   user,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// parseToken verifies raw and returns its subject.
func (s *Server) parseToken(raw string) (string, error) {
	s.mu.RLock()
	secret := s.tokenSecret
	s.mu.RUnlock()

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errTokenInvalid, err)
	}
	if !token.Valid || claims.Subject == "" {
		return "", errTokenInvalid
	}
	return claims.Subject, nil
}

// loginRequest is the body of POST /auth/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse carries an access token for the Authorization header.
type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// handleLogin exchanges the UI credential for a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.authSettings().Enabled {
		writeConflict(w, "authentication is disabled")
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !s.checkCredentials(req.Username, req.Password) {
		s.logger.Warn("login failed", "request_id", r.Context().Value(ctxKeyRequestID))
		writeUnauthorized(w, "invalid credentials")
		return
	}

	token, err := s.issueToken(req.Username, time.Now())
	if err != nil {
		s.logger.Error("issuing token failed", "error", err)
		writeInternalError(w, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.tokenTTL.Seconds()),
	})
}
