// Package auth resolves bearer tokens to users. Tokens are HS256 JWTs
// carrying the user id and username.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// User is the authenticated principal attached to a request.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Service issues and validates access tokens.
type Service struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func NewService(secret string, expiry time.Duration) (*Service, error) {
	if secret == "" {
		return nil, errors.New("token secret is required")
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Service{
		secret: []byte(secret),
		expiry: expiry,
		now:    time.Now,
	}, nil
}

type claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// IssueToken signs a token for the user.
func (s *Service) IssueToken(user User) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// CurrentUser validates the token and returns its user.
func (s *Service) CurrentUser(token string) (User, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return User{}, ErrInvalidToken
	}
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return User{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return User{ID: id, Username: c.Username}, nil
}
