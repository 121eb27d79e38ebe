package relay

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrBadCredentials = errors.New("invalid username or password")
	ErrUnauthorized   = errors.New("admin token required")
)

// AdminClaims are carried by admin tokens.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Auth checks the admin credential and issues tokens for the admin seat.
type Auth struct {
	secret   []byte
	username string
	password string
	ttl      time.Duration
}

func NewAuth(secret, username, password string, ttl time.Duration) *Auth {
	return &Auth{secret: []byte(secret), username: username, password: password, ttl: ttl}
}

// Login returns a signed admin token for the configured credential.
func (a *Auth) Login(username, password string) (string, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	if !userOK || !passOK {
		return "", ErrBadCredentials
	}

	now := time.Now()
	claims := AdminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Verify accepts only unexpired HS256 admin tokens signed with our secret.
func (a *Auth) Verify(token string) error {
	if token == "" {
		return ErrUnauthorized
	}
	parsed, err := jwt.ParseWithClaims(token, &AdminClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if claims, ok := parsed.Claims.(*AdminClaims); !ok || !parsed.Valid || claims.Role != "admin" {
		return ErrUnauthorized
	}
	return nil
}
