package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalid  = errors.New("invalid token")
	ErrNoSecret = errors.New("token secret is empty")
)

// Claims identify an operator of the status API.
type Claims struct {
	Relay string `json:"relay"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 tokens for one relay.
type Signer struct {
	relay  string
	secret []byte
	now    func() time.Time
}

func NewSigner(relay, secret string) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	return &Signer{relay: relay, secret: []byte(secret), now: time.Now}, nil
}

// Generate issues a token for subject valid for ttl.
func (s *Signer) Generate(subject string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		Relay: s.relay,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.relay,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

func (s *Signer) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(_ *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.relay),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalid
	}
	if claims, ok := token.Claims.(*Claims); ok {
		return claims, nil
	}
	return nil, ErrInvalid
}
