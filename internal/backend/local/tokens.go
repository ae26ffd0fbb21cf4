package local

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/saravenpi/supachat/internal/clock"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

const (
	issuer          = "supachat-local"
	accessValidity  = time.Hour
	refreshValidity = 30 * 24 * time.Hour

	kindAccess  = "access"
	kindRefresh = "refresh"
)

type Claims struct {
	Email string `json:"email"`
	Kind  string `json:"kind"`
	jwt.RegisteredClaims
}

// tokenIssuer signs and validates HS256 session tokens.
type tokenIssuer struct {
	secretKey []byte
	clock     clock.Clock
}

func (ti *tokenIssuer) issue(userID, email, kind string, validity time.Duration) (string, time.Time, error) {
	now := ti.clock.Now()
	expires := now.Add(validity)
	claims := Claims{
		Email: email,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secretKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func (ti *tokenIssuer) validate(tokenString, kind string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return ti.secretKey, nil
	}, jwt.WithTimeFunc(ti.clock.Now), jwt.WithIssuer(issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Kind != kind {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
