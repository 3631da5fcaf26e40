package authn

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
)

var ErrInvalidJWT = errors.New("invalid jwt token")
var ErrInvalidClaims = errors.New("invalid claims")

// Claims are carried by the session cookie. StandardClaims.Id holds the
// session id that keys the in-memory selection store.
type Claims struct {
	jwt.StandardClaims
	Operator string `json:"operator,omitempty"`
	Admin    bool   `json:"admin,omitempty"`
	// Authenticated is false for the anonymous sessions handed out when
	// login is disabled or has not happened yet.
	Authenticated bool `json:"auth,omitempty"`
}

// SessionID returns the id of the session the claims belong to.
func (c Claims) SessionID() string {
	return c.Id
}

// Signer issues and verifies HS256 session tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner returns a signer for secret. With an empty secret a random one
// is generated, so sessions do not survive a restart.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate session secret: %w", err)
		}
	}
	return &Signer{secret: key, ttl: ttl, now: time.Now}, nil
}

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return uuid.NewString()
}

// Issue signs claims for sessionID. An empty sessionID starts a new session.
func (s *Signer) Issue(sessionID, operator string, admin, authenticated bool) (string, Claims, error) {
	if sessionID == "" {
		sessionID = NewSessionID()
	}
	now := s.now()
	claims := Claims{
		StandardClaims: jwt.StandardClaims{
			Id:        sessionID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(s.ttl).Unix(),
			Issuer:    "zk-tools",
		},
		Operator:      operator,
		Admin:         admin,
		Authenticated: authenticated,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", Claims{}, err
	}
	return token, claims, nil
}

// Parse verifies the signature and expiry of token.
func (s *Signer) Parse(token string) (Claims, error) {
	claims := Claims{}
	t, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidJWT
		}
		return s.secret, nil
	})
	if err != nil {
		return Claims{}, ErrInvalidJWT
	}
	if !t.Valid || claims.Id == "" {
		return Claims{}, ErrInvalidClaims
	}
	return claims, nil
}

// TokenMatches compares a submitted access token with the configured one in
// constant time. An empty configured token never matches.
func TokenMatches(expected, given string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(given)) == 1
}
