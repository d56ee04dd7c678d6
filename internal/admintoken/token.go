package admintoken

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	ActionComplete = "complete"
	ActionReject   = "reject"
)

var ErrInvalidToken = errors.New("invalid admin action token")

type Claims struct {
	OrderCode string `json:"order_code"`
	Action    string `json:"action"`
	jwt.RegisteredClaims
}

// JTI is the single-use identifier of the token.
func (c *Claims) JTI() string { return c.ID }

// Signer issues and verifies signed admin action links.
type Signer struct {
	secret  []byte
	ttl     time.Duration
	baseURL string
	now     func() time.Time
}

func NewSigner(secret string, ttl time.Duration, publicBaseURL string) *Signer {
	return &Signer{
		secret:  []byte(secret),
		ttl:     ttl,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		now:     time.Now,
	}
}

func validAction(action string) bool {
	return action == ActionComplete || action == ActionReject
}

// Issue signs a token for one action on one order.
func (s *Signer) Issue(orderCode, action string) (string, error) {
	if !validAction(action) {
		return "", fmt.Errorf("unknown admin action %q", action)
	}
	if len(s.secret) == 0 {
		return "", errors.New("admin action secret is not configured")
	}
	now := s.now()
	claims := Claims{
		OrderCode: orderCode,
		Action:    action,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks signature, expiry and that the token names orderCode and action.
func (s *Signer) Verify(token, orderCode, action string) (*Claims, error) {
	if token == "" || len(s.secret) == 0 {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired(), jwt.WithTimeFunc(s.now))
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ID == "" || claims.OrderCode != orderCode || claims.Action != action {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Links returns signed complete and reject URLs for an order.
func (s *Signer) Links(orderCode string) (map[string]string, error) {
	links := make(map[string]string, 2)
	for _, action := range []string{ActionComplete, ActionReject} {
		tok, err := s.Issue(orderCode, action)
		if err != nil {
			return nil, err
		}
		links[action] = fmt.Sprintf("%s/admin/orders/%s/%s?token=%s", s.baseURL, url.PathEscape(orderCode), action, url.QueryEscape(tok))
	}
	return links, nil
}
