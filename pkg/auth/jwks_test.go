package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// createTestToken creates a JWT token for testing (unsigned, for dev mode).
func createTestToken(claims *Claims) string {
	headerJSON, _ := json.Marshal(map[string]string{"alg": "none", "typ": "JWT"})
	claimsJSON, _ := json.Marshal(claims)
	return base64.RawURLEncoding.EncodeToString(headerJSON) + "." +
		base64.RawURLEncoding.EncodeToString(claimsJSON) + "."
}

const testIssuer = "https://abc.supabase.co/auth/v1"

// newSigningKeyfunc returns an RSA key and a keyfunc serving its public half as a JWK set.
func newSigningKeyfunc(t *testing.T, kid string) (*rsa.PrivateKey, keyfunc.Keyfunc) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	jwks := fmt.Sprintf(`{"keys":[{"kty":"RSA","use":"sig","alg":"RS256","kid":%q,"n":%q,"e":%q}]}`,
		kid,
		base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
		base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
	)

	kf, err := keyfunc.NewJWKSetJSON(json.RawMessage(jwks))
	if err != nil {
		t.Fatalf("failed to build keyfunc: %v", err)
	}
	return key, kf
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims(issuer string) *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-123",
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{SupabaseAudience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email:       "admin@acme.example",
		Role:        "authenticated",
		AppMetadata: AppMetadata{TenantID: "550e8400-e29b-41d4-a716-446655440000", Role: "admin"},
	}
}

func TestNewJWKSClient_DevMode(t *testing.T) {
	client, err := NewJWKSClient(context.Background(), &JWKSConfig{EnableVerification: false})
	if err != nil {
		t.Fatalf("NewJWKSClient failed: %v", err)
	}
	defer client.Close()
}

func TestNewJWKSClient_VerificationWithoutEndpoints(t *testing.T) {
	_, err := NewJWKSClient(context.Background(), &JWKSConfig{EnableVerification: true})
	if err == nil {
		t.Error("expected error when verification is enabled without endpoints")
	}
}

func TestJWKSClient_ValidateToken_DevMode(t *testing.T) {
	client, err := NewJWKSClient(context.Background(), &JWKSConfig{EnableVerification: false})
	if err != nil {
		t.Fatalf("NewJWKSClient failed: %v", err)
	}

	claims, err := client.ValidateToken(createTestToken(validClaims(testIssuer)))
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}

	if claims.Subject != "user-123" {
		t.Errorf("expected Subject 'user-123', got %q", claims.Subject)
	}
	if claims.TenantID() != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("unexpected tenant ID %q", claims.TenantID())
	}
	if claims.Email != "admin@acme.example" {
		t.Errorf("expected Email 'admin@acme.example', got %q", claims.Email)
	}
}

func TestJWKSClient_ValidateToken_InvalidFormat(t *testing.T) {
	client, _ := NewJWKSClient(context.Background(), &JWKSConfig{EnableVerification: false})

	if _, err := client.ValidateToken("not-a-valid-token"); err == nil {
		t.Error("expected error for invalid token format")
	}
	if _, err := client.ValidateToken(""); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestJWKSClient_ValidateToken_Verified(t *testing.T) {
	key, kf := newSigningKeyfunc(t, "key-1")
	client := newJWKSClientWithKeyfuncs(map[string]keyfunc.Keyfunc{testIssuer: kf})

	claims, err := client.ValidateToken(signToken(t, key, "key-1", validClaims(testIssuer)))
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.AppMetadata.Role != "admin" {
		t.Errorf("expected app_metadata role 'admin', got %q", claims.AppMetadata.Role)
	}
}

func TestJWKSClient_ValidateToken_UnknownIssuer(t *testing.T) {
	key, kf := newSigningKeyfunc(t, "key-1")
	client := newJWKSClientWithKeyfuncs(map[string]keyfunc.Keyfunc{testIssuer: kf})

	_, err := client.ValidateToken(signToken(t, key, "key-1", validClaims("https://evil.example/auth/v1")))
	if err == nil {
		t.Error("expected error for unauthorized issuer")
	}
}

func TestJWKSClient_ValidateToken_WrongKey(t *testing.T) {
	_, kf := newSigningKeyfunc(t, "key-1")
	otherKey, _ := newSigningKeyfunc(t, "key-1")
	client := newJWKSClientWithKeyfuncs(map[string]keyfunc.Keyfunc{testIssuer: kf})

	if _, err := client.ValidateToken(signToken(t, otherKey, "key-1", validClaims(testIssuer))); err == nil {
		t.Error("expected signature verification to fail")
	}
}

func TestJWKSClient_ValidateToken_Expired(t *testing.T) {
	key, kf := newSigningKeyfunc(t, "key-1")
	client := newJWKSClientWithKeyfuncs(map[string]keyfunc.Keyfunc{testIssuer: kf})

	claims := validClaims(testIssuer)
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	if _, err := client.ValidateToken(signToken(t, key, "key-1", claims)); err == nil {
		t.Error("expected error for expired token")
	}
}

func TestJWKSClient_ValidateToken_ClaimChecks(t *testing.T) {
	key, kf := newSigningKeyfunc(t, "key-1")
	client := newJWKSClientWithKeyfuncs(map[string]keyfunc.Keyfunc{testIssuer: kf})

	tests := []struct {
		name    string
		mutate  func(c *Claims)
		wantErr bool
	}{
		{"expired within clock skew", func(c *Claims) {
			c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-10 * time.Second))
		}, false},
		{"service role audience", func(c *Claims) { c.Audience = jwt.ClaimStrings{"service_role"} }, true},
		{"no audience", func(c *Claims) { c.Audience = nil }, true},
		{"no expiry", func(c *Claims) { c.ExpiresAt = nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := validClaims(testIssuer)
			tt.mutate(claims)
			_, err := client.ValidateToken(signToken(t, key, "key-1", claims))
			if tt.wantErr && err == nil {
				t.Error("expected validation error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestJWKSClient_ValidateToken_RejectsHMAC(t *testing.T) {
	_, kf := newSigningKeyfunc(t, "key-1")
	client := newJWKSClientWithKeyfuncs(map[string]keyfunc.Keyfunc{testIssuer: kf})

	// Legacy Supabase projects sign with the shared JWT secret; those tokens are not accepted.
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims(testIssuer))
	signed, err := token.SignedString([]byte("super-secret-jwt-token"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	if _, err := client.ValidateToken(signed); err == nil {
		t.Error("expected HS256 token to be rejected")
	}
}

func TestJWKSClient_CloseIsIdempotent(t *testing.T) {
	client, err := NewJWKSClient(context.Background(), &JWKSConfig{EnableVerification: false})
	if err != nil {
		t.Fatalf("NewJWKSClient failed: %v", err)
	}
	client.Close()
	client.Close()
}
