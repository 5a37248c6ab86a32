// Package auth supplies the verified caller identity and decides whether the
// caller may act on a resource pair. The broker itself trusts its callers.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"contact.broker/internal/models"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

type Role string

const (
	RoleRequester Role = "requester"
	RoleDiscloser Role = "discloser"
)

type Action string

const (
	ActionRequest  Action = "request"
	ActionView     Action = "view"
	ActionDisclose Action = "disclose"
	ActionDecline  Action = "decline"
	ActionConsume  Action = "consume"
)

type Identity struct {
	Subject   string
	Role      Role
	Resources []string
}

type Claims struct {
	Role      Role     `json:"role"`
	Resources []string `json:"resources,omitempty"`
	jwt.RegisteredClaims
}

// Service issues and verifies HS256 bearer tokens.
type Service struct {
	secret []byte
}

func NewService(secret string) *Service {
	return &Service{secret: []byte(secret)}
}

func (s *Service) GenerateToken(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role:      id.Role,
		Resources: id.Resources,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Service) VerifyToken(tokenString string) (*Identity, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrUnauthenticated
	}
	return &Identity{
		Subject:   claims.Subject,
		Role:      claims.Role,
		Resources: claims.Resources,
	}, nil
}

type Authorizer interface {
	Authorize(ctx context.Context, id *Identity, action Action, key models.ResourceKey) error
}

// ClaimsAuthorizer grants actions from the role and resource list carried in
// the token. A "*" resource matches every pair.
type ClaimsAuthorizer struct{}

func (ClaimsAuthorizer) Authorize(_ context.Context, id *Identity, action Action, key models.ResourceKey) error {
	if id == nil {
		return ErrUnauthenticated
	}

	switch action {
	case ActionRequest, ActionConsume:
		if id.Role != RoleRequester {
			return fmt.Errorf("%w: %s requires the requester role", ErrForbidden, action)
		}
	case ActionDisclose, ActionDecline:
		if id.Role != RoleDiscloser {
			return fmt.Errorf("%w: %s requires the discloser role", ErrForbidden, action)
		}
	case ActionView:
	default:
		return fmt.Errorf("%w: unknown action %s", ErrForbidden, action)
	}

	// The one-time token is the capability for consume.
	if action == ActionConsume {
		return nil
	}
	if slices.Contains(id.Resources, "*") || slices.Contains(id.Resources, string(key)) {
		return nil
	}
	return fmt.Errorf("%w: no access to %s", ErrForbidden, key)
}

// AllowAll is used when authentication is disabled.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, *Identity, Action, models.ResourceKey) error { return nil }

type ctxKey struct{}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(ctxKey{}).(*Identity)
	return id
}
