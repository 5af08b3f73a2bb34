package memory

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/airheartdev/realtime"
)

var ErrAuthDisabled = errors.New("authentication not configured")

// Authenticate verifies an HS256 token against the store secret.
func (s *Store) Authenticate(token string, cb func(realtime.AuthResult, error)) {
	res, err := s.verify(token)

	s.mu.Lock()
	if err == nil {
		s.auth = &res
	}
	s.mu.Unlock()

	if err != nil {
		log.Err(err).Msgf("memory store: authentication rejected")
	}

	s.atServer(func() {
		cb(res, err)
	})
	s.drain()
}

func (s *Store) verify(token string) (realtime.AuthResult, error) {
	if len(s.options.secret) == 0 {
		return realtime.AuthResult{}, ErrAuthDisabled
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return s.options.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return realtime.AuthResult{}, err
	}

	res := realtime.AuthResult{Claims: map[string]any(claims)}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		res.Expires = exp.Time
	}
	return res, nil
}

// Unauthenticate forgets the current token. When access requires auth every
// live registration is canceled with ErrPermissionDenied.
func (s *Store) Unauthenticate() {
	s.mu.Lock()
	s.auth = nil
	if s.options.requireAuth {
		s.cancelAll(ErrPermissionDenied)
	}
	s.mu.Unlock()
	s.drain()
}

// Token signs claims with the store secret. Meant for tests and tooling.
func (s *Store) Token(claims jwt.MapClaims, ttl time.Duration) (string, error) {
	if len(s.options.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if ttl > 0 {
		claims["exp"] = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.options.secret)
}
