package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the token payload issued at login.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates session tokens with a shared HS256
// secret.
type TokenIssuer struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// Issue creates a signed token for a user.
func (ti *TokenIssuer) Issue(u *User) (string, error) {
	if len(ti.Secret) == 0 {
		return "", errors.New("missing token secret")
	}

	now := time.Now()
	claims := &Claims{
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   u.Username,
			Issuer:    ti.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.Secret)
}

// Validate parses and checks a token string.
func (ti *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	if len(ti.Secret) == 0 {
		return nil, errors.New("missing token secret")
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return ti.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, errors.New("invalid token")
	}
	if ti.Issuer != "" && claims.Issuer != ti.Issuer {
		return nil, errors.New("invalid issuer")
	}
	return claims, nil
}
