// Package identity provides a client for the Supabase GoTrue auth API.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/chemforge-inc/chemforge-engine/pkg/apperrors"
	"github.com/chemforge-inc/chemforge-engine/pkg/config"
)

// DefaultTimeout is the maximum time to wait for identity provider responses.
const DefaultTimeout = 30 * time.Second

// ErrInvalidCredentials is returned by SignInWithPassword on a bad email or password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// User is the identity provider's view of a user.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// CreateUserRequest describes a user created through the admin API.
type CreateUserRequest struct {
	Email    string
	Password string
	FullName string
	TenantID string
	Role     string
}

// Session is the token pair returned by a successful sign-in.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	User         User   `json:"user"`
}

// APIError is a non-2xx response from the identity provider.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity provider returned status %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("identity provider returned status %d: %s", e.StatusCode, e.Message)
}

// IsRetryable reports whether repeating the call may succeed.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Unwrap maps the response onto the error taxonomy.
func (e *APIError) Unwrap() error {
	switch {
	case e.IsRetryable():
		return apperrors.ErrUpstreamUnavailable
	case e.StatusCode == http.StatusNotFound || e.Code == "user_not_found":
		return apperrors.ErrNotFound
	case e.Code == "email_exists" || e.Code == "user_already_exists" || e.StatusCode == http.StatusConflict:
		return apperrors.ErrConflict
	case e.Code == "invalid_grant" || e.Code == "invalid_credentials":
		return ErrInvalidCredentials
	default:
		return nil
	}
}

// errorBody covers the error shapes GoTrue returns.
type errorBody struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorName        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (b *errorBody) toAPIError(status int) *APIError {
	e := &APIError{StatusCode: status, Code: b.ErrorCode}
	if e.Code == "" {
		e.Code = b.ErrorName
	}
	for _, m := range []string{b.Msg, b.Message, b.ErrorDescription} {
		if m != "" {
			e.Message = m
			break
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

// Client calls the GoTrue admin and token endpoints.
type Client struct {
	http           *resty.Client
	anonKey        string
	serviceRoleKey string
	logger         *zap.Logger
}

// NewClient creates an identity provider client.
func NewClient(cfg *config.IdentityConfig, logger *zap.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")+"/auth/v1").
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		http:           httpClient,
		anonKey:        cfg.AnonKey,
		serviceRoleKey: cfg.ServiceRoleKey,
		logger:         logger.Named("identity"),
	}
}

func (c *Client) adminRequest(ctx context.Context) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetHeader("apikey", c.serviceRoleKey).
		SetAuthToken(c.serviceRoleKey).
		SetError(&errorBody{})
}

// CreateUser creates a confirmed user carrying the tenant id and role in its
// app metadata, which end up in the user's JWT claims.
func (c *Client) CreateUser(ctx context.Context, req CreateUserRequest) (*User, error) {
	body := map[string]any{
		"email":         req.Email,
		"password":      req.Password,
		"email_confirm": true,
		"user_metadata": map[string]any{"full_name": req.FullName},
		"app_metadata":  map[string]any{"tenant_id": req.TenantID, "role": req.Role},
	}

	var user User
	resp, err := c.adminRequest(ctx).
		SetBody(body).
		SetResult(&user).
		Post("/admin/users")
	if err := c.check(resp, err, "create user"); err != nil {
		return nil, err
	}

	c.logger.Info("Created identity user",
		zap.String("user_id", user.ID),
		zap.String("tenant_id", req.TenantID))
	return &user, nil
}

// DeleteUser removes a user. Deleting a missing user returns apperrors.ErrNotFound.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	resp, err := c.adminRequest(ctx).
		SetPathParam("id", userID).
		Delete("/admin/users/{id}")
	if err := c.check(resp, err, "delete user"); err != nil {
		return err
	}

	c.logger.Info("Deleted identity user", zap.String("user_id", userID))
	return nil
}

// SignInWithPassword exchanges an email and password for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var session Session
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("apikey", c.anonKey).
		SetQueryParam("grant_type", "password").
		SetBody(map[string]string{"email": email, "password": password}).
		SetResult(&session).
		SetError(&errorBody{}).
		Post("/token")
	if err := c.check(resp, err, "sign in"); err != nil {
		return nil, err
	}
	return &session, nil
}

// RefreshSession exchanges a refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*Session, error) {
	var session Session
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("apikey", c.anonKey).
		SetQueryParam("grant_type", "refresh_token").
		SetBody(map[string]string{"refresh_token": refreshToken}).
		SetResult(&session).
		SetError(&errorBody{}).
		Post("/token")
	if err := c.check(resp, err, "refresh session"); err != nil {
		return nil, err
	}
	return &session, nil
}

// check turns transport failures and error responses into typed errors.
func (c *Client) check(resp *resty.Response, err error, op string) error {
	if err != nil {
		c.logger.Error("Identity provider call failed",
			zap.String("op", op),
			zap.Error(err))
		return fmt.Errorf("%s: %w: %w", op, apperrors.ErrUpstreamUnavailable, err)
	}
	if !resp.IsError() {
		return nil
	}

	body, _ := resp.Error().(*errorBody)
	if body == nil {
		body = &errorBody{}
	}
	apiErr := body.toAPIError(resp.StatusCode())

	c.logger.Warn("Identity provider returned error",
		zap.String("op", op),
		zap.Int("status", apiErr.StatusCode),
		zap.String("code", apiErr.Code))
	return fmt.Errorf("%s: %w", op, apiErr)
}
