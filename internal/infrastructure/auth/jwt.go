package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/ports"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// refreshMargin is how long before expiry the provider mints a fresh token.
const refreshMargin = 30 * time.Second

type Claims struct {
	Participant domain.ParticipantID `json:"participant_id"`
	jwt.RegisteredClaims
}

// Service signs and validates the signaling tokens attached to every
// published message. Both sides of a call share the HMAC secret.
type Service struct {
	secret   []byte
	tokenTTL time.Duration
}

func NewService(secret string, tokenTTL time.Duration) *Service {
	return &Service{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
	}
}

func (s *Service) IssueToken(participant domain.ParticipantID) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(s.tokenTTL)

	claims := &Claims{
		Participant: participant,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// ValidateToken returns domain.ErrAuthExpired for expired tokens so callers
// can escalate to session failure, and ErrInvalidToken for everything else.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrAuthExpired
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}

// Provider supplies the local identity, minting a token on first use and
// re-minting shortly before expiry.
type Provider struct {
	service     *Service
	participant domain.ParticipantID

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewProvider(service *Service, participant domain.ParticipantID) *Provider {
	return &Provider{
		service:     service,
		participant: participant,
	}
}

var _ ports.IdentityProvider = (*Provider)(nil)

func (p *Provider) Identity(ctx context.Context) (ports.Identity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token == "" || time.Until(p.expires) < refreshMargin {
		token, expires, err := p.service.IssueToken(p.participant)
		if err != nil {
			return ports.Identity{}, err
		}
		p.token = token
		p.expires = expires
	}

	return ports.Identity{
		Participant: p.participant,
		Token:       p.token,
	}, nil
}
