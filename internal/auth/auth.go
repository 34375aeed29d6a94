// Package auth identifies API clients by id and secret or by a short-lived
// bearer token issued in exchange for them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/punchamoorthee/payops/internal/domain"
	"github.com/punchamoorthee/payops/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid client credentials")
	ErrInactiveClient     = errors.New("api client is inactive")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

const issuer = "payops"

// Principal is the authenticated caller of an API request.
type Principal struct {
	ClientID    string
	MerchantID  string
	Environment domain.Environment
}

type ClientStore interface {
	GetAPIClient(ctx context.Context, clientID string) (*domain.APIClient, error)
}

// HashSecret returns the bcrypt hash stored for a client secret.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

type Authenticator struct {
	clients ClientStore
	tokens  *TokenIssuer
}

func NewAuthenticator(clients ClientStore, tokens *TokenIssuer) *Authenticator {
	return &Authenticator{clients: clients, tokens: tokens}
}

// Authenticate checks a client id and secret.
func (a *Authenticator) Authenticate(ctx context.Context, clientID, secret string) (*Principal, error) {
	if clientID == "" || secret == "" {
		return nil, ErrInvalidCredentials
	}
	client, err := a.clients.GetAPIClient(ctx, clientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(secret)) != nil {
		return nil, ErrInvalidCredentials
	}
	if !client.Active {
		return nil, ErrInactiveClient
	}
	return &Principal{ClientID: client.ID, MerchantID: client.MerchantID, Environment: client.Environment}, nil
}

// AuthenticateToken validates a bearer token and re-checks that its client
// is still active.
func (a *Authenticator) AuthenticateToken(ctx context.Context, token string) (*Principal, error) {
	p, err := a.tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	client, err := a.clients.GetAPIClient(ctx, p.ClientID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if !client.Active {
		return nil, ErrInactiveClient
	}
	return p, nil
}

func (a *Authenticator) Issue(p *Principal) (string, time.Time, error) {
	return a.tokens.Issue(p)
}

type Claims struct {
	MerchantID  string             `json:"merchant_id"`
	Environment domain.Environment `json:"env"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and parses HS256 client tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (t *TokenIssuer) Issue(p *Principal) (string, time.Time, error) {
	now := t.now()
	expires := now.Add(t.ttl)
	claims := Claims{
		MerchantID:  p.MerchantID,
		Environment: p.Environment,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ClientID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

func (t *TokenIssuer) Parse(token string) (*Principal, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &Principal{ClientID: claims.Subject, MerchantID: claims.MerchantID, Environment: claims.Environment}, nil
}
