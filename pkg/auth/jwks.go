package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSClientInterface defines the interface for JWT token validation.
type JWKSClientInterface interface {
	// ValidateToken validates a JWT token string and returns the claims.
	// Returns an error if the token is invalid, expired, or has an unauthorized issuer.
	ValidateToken(tokenString string) (*Claims, error)
	// Close releases any resources held by the client.
	Close()
}

// JWKSConfig contains configuration for the JWKS client.
type JWKSConfig struct {
	// EnableVerification controls whether JWT signatures are verified.
	// Set to false for development mode (parses tokens without verification).
	EnableVerification bool
	// JWKSEndpoints maps issuer URLs to their JWKS endpoint URLs.
	// Only tokens from issuers in this map are accepted.
	JWKSEndpoints map[string]string
}

// SupabaseAudience is the aud claim of access tokens issued to signed-in users.
const SupabaseAudience = "authenticated"

// clockSkew tolerates small clock drift against the identity provider.
const clockSkew = 30 * time.Second

// JWKSClient validates Supabase access tokens using JWKS (JSON Web Key Set) endpoints.
type JWKSClient struct {
	endpoints map[string]keyfunc.Keyfunc
	config    *JWKSConfig
	parser    *jwt.Parser
	cancel    context.CancelFunc
}

// NewJWKSClient creates a new JWKS client with the given configuration.
// If EnableVerification is true, it fetches JWKS from all configured endpoints
// and keeps refreshing them until Close or until ctx is done.
func NewJWKSClient(ctx context.Context, config *JWKSConfig) (*JWKSClient, error) {
	if !config.EnableVerification {
		return newJWKSClient(config, nil, func() {}), nil
	}

	if len(config.JWKSEndpoints) == 0 {
		return nil, errors.New("JWT verification enabled but no JWKS endpoints configured")
	}

	refreshCtx, cancel := context.WithCancel(ctx)
	endpoints := make(map[string]keyfunc.Keyfunc, len(config.JWKSEndpoints))
	for issuer, jwksURL := range config.JWKSEndpoints {
		jwks, err := keyfunc.NewDefaultCtx(refreshCtx, []string{jwksURL})
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to create JWKS client for %s: %w", issuer, err)
		}
		endpoints[issuer] = jwks
	}

	return newJWKSClient(config, endpoints, cancel), nil
}

// newJWKSClientWithKeyfuncs builds a verifying client from ready key functions.
func newJWKSClientWithKeyfuncs(endpoints map[string]keyfunc.Keyfunc) *JWKSClient {
	return newJWKSClient(&JWKSConfig{EnableVerification: true}, endpoints, func() {})
}

func newJWKSClient(config *JWKSConfig, endpoints map[string]keyfunc.Keyfunc, cancel context.CancelFunc) *JWKSClient {
	return &JWKSClient{
		endpoints: endpoints,
		config:    config,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "ES256"}),
			jwt.WithAudience(SupabaseAudience),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(clockSkew),
		),
		cancel: cancel,
	}
}

// ValidateToken validates a JWT token and returns the claims.
// If verification is disabled, it parses the token without signature validation.
// Otherwise the token must be RS256 or ES256, signed by a key of its issuer's
// JWKS, carry an expiry and be addressed to SupabaseAudience.
func (c *JWKSClient) ValidateToken(tokenString string) (*Claims, error) {
	if !c.config.EnableVerification {
		return c.parseUnverifiedToken(tokenString)
	}

	token, err := c.parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		claims, ok := token.Claims.(*Claims)
		if !ok {
			return nil, errors.New("invalid claims type")
		}

		jwks, exists := c.endpoints[claims.Issuer]
		if !exists {
			return nil, fmt.Errorf("unauthorized issuer: %s", claims.Issuer)
		}

		return jwks.Keyfunc(token)
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	return claims, nil
}

// parseUnverifiedToken parses a JWT without verifying the signature.
// Used in development mode when EnableVerification is false.
func (c *JWKSClient) parseUnverifiedToken(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, _, err := parser.ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	return claims, nil
}

// Close stops the background JWKS refresh.
func (c *JWKSClient) Close() {
	c.cancel()
}

// Ensure JWKSClient implements JWKSClientInterface at compile time.
var _ JWKSClientInterface = (*JWKSClient)(nil)
