package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
	"github.com/chemforge-inc/chemforge-engine/pkg/identity"
)

// SessionProvider issues identity provider sessions. *identity.Client satisfies it.
type SessionProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (*identity.Session, error)
}

// SessionService defines the interface for user sign-in.
type SessionService interface {
	SignIn(ctx context.Context, email, password string) (*identity.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*identity.Session, error)
}

type sessionService struct {
	provider SessionProvider
	logger   *zap.Logger
}

var _ SessionService = (*sessionService)(nil)

// NewSessionService creates a new session service.
func NewSessionService(provider SessionProvider, logger *zap.Logger) SessionService {
	return &sessionService{provider: provider, logger: logger.Named("session")}
}

func (s *sessionService) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, fmt.Errorf("%w: email and password are required", apperrors.ErrInvalidRequest)
	}
	session, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("User signed in", zap.String("user_id", session.User.ID))
	return session, nil
}

func (s *sessionService) Refresh(ctx context.Context, refreshToken string) (*identity.Session, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: refresh token is required", apperrors.ErrInvalidRequest)
	}
	return s.provider.RefreshSession(ctx, refreshToken)
}
