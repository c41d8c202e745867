package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

const (
	TypeSession = "session"
	TypeSocket  = "socket"
)

type Claims struct {
	UserID string `json:"uid"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies the HS256 tokens used by the REST API (session)
// and by the websocket handshake (socket).
type Issuer struct {
	secret     []byte
	socketTTL  time.Duration
	sessionTTL time.Duration
	now        func() time.Time
}

func NewIssuer(secret string, socketTTL, sessionTTL time.Duration) *Issuer {
	return &Issuer{
		secret:     []byte(secret),
		socketTTL:  socketTTL,
		sessionTTL: sessionTTL,
		now:        time.Now,
	}
}

func (i *Issuer) IssueSocket(userID string) (string, time.Time, error) {
	return i.issue(userID, TypeSocket, i.socketTTL)
}

func (i *Issuer) IssueSession(userID string) (string, time.Time, error) {
	return i.issue(userID, TypeSession, i.sessionTTL)
}

func (i *Issuer) issue(userID, typ string, ttl time.Duration) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		Type:   typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify returns the user id carried by a token of the wanted type.
func (i *Issuer) Verify(tokenString, wantType string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", ErrInvalidToken
	}
	if !token.Valid || claims.Type != wantType || claims.UserID == "" {
		return "", ErrInvalidToken
	}
	return claims.UserID, nil
}
