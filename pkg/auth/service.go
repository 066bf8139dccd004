package auth

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// AccessTokenCookie is the cookie browser clients send the access token in.
const AccessTokenCookie = "chemforge_jwt"

// Common authentication errors.
var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidAuthFormat    = errors.New("invalid authorization header format")
	ErrMissingTenantID      = errors.New("missing tenant ID in token")
	ErrNotPlatformAdmin     = errors.New("platform admin role required")
)

// AuthService defines the interface for authentication operations.
type AuthService interface {
	// ValidateRequest extracts and validates a JWT from the request.
	// It checks for the token in:
	//   1. Cookie named "chemforge_jwt" (browser clients)
	//   2. Authorization header with "Bearer" scheme (API clients)
	// Returns the validated claims, the raw token string, or an error.
	ValidateRequest(r *http.Request) (*Claims, string, error)

	// RequireTenantID validates that the claims are bound to a tenant.
	RequireTenantID(claims *Claims) error

	// RequirePlatformAdmin validates that the claims carry the platform admin role.
	RequirePlatformAdmin(claims *Claims) error
}

type authService struct {
	jwksClient        JWKSClientInterface
	platformAdminRole string
	logger            *zap.Logger
}

// NewAuthService creates a new AuthService with the given JWKS client and logger.
func NewAuthService(jwksClient JWKSClientInterface, platformAdminRole string, logger *zap.Logger) AuthService {
	return &authService{
		jwksClient:        jwksClient,
		platformAdminRole: platformAdminRole,
		logger:            logger,
	}
}

// ValidateRequest extracts and validates a JWT from the request.
func (s *authService) ValidateRequest(r *http.Request) (*Claims, string, error) {
	var tokenString string
	var tokenSource string

	if cookie, err := r.Cookie(AccessTokenCookie); err == nil && cookie.Value != "" {
		tokenString = cookie.Value
		tokenSource = "cookie"
	} else {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.logger.Debug("No JWT found in request",
				zap.String("path", r.URL.Path),
				zap.String("method", r.Method))
			return nil, "", ErrMissingAuthorization
		}

		scheme, token, found := strings.Cut(authHeader, " ")
		if !found || scheme != "Bearer" || token == "" {
			s.logger.Debug("Invalid Authorization header format",
				zap.String("path", r.URL.Path))
			return nil, "", ErrInvalidAuthFormat
		}
		tokenString = token
		tokenSource = "header"
	}

	claims, err := s.jwksClient.ValidateToken(tokenString)
	if err != nil {
		s.logger.Debug("JWT validation failed",
			zap.Error(err),
			zap.String("path", r.URL.Path),
			zap.String("token_source", tokenSource))
		return nil, "", err
	}

	return claims, tokenString, nil
}

// RequireTenantID validates that the claims are bound to a tenant.
func (s *authService) RequireTenantID(claims *Claims) error {
	if claims.TenantID() == "" {
		return ErrMissingTenantID
	}
	return nil
}

// RequirePlatformAdmin validates that the claims carry the platform admin role.
func (s *authService) RequirePlatformAdmin(claims *Claims) error {
	if !claims.HasRole(s.platformAdminRole) {
		return ErrNotPlatformAdmin
	}
	return nil
}

var _ AuthService = (*authService)(nil)
