package auth

import (
	"crypto/sha256"
	"errors"
	"net/http"

	"github.com/gorilla/sessions"
)

// SessionName is the name of the refresh-token session cookie.
const SessionName = "chemforge-session"

const sessionKeyRefreshToken = "refresh_token"

// ErrNoRefreshToken is returned when the session carries no refresh token.
var ErrNoRefreshToken = errors.New("no refresh token in session")

// SessionStore keeps the identity provider refresh token in a signed cookie,
// so browsers never see it in a readable form.
type SessionStore struct {
	store *sessions.CookieStore
}

// NewSessionStore creates the cookie-based session store.
//
// The secret is SHA-256 hashed to derive the 32-byte signing and encryption keys.
// It must be consistent across restarts and across servers behind a load balancer.
func NewSessionStore(secret string, cookie CookieSettings, maxAgeSeconds int) *SessionStore {
	hashKey := sha256.Sum256([]byte(secret))
	blockKey := sha256.Sum256([]byte("enc:" + secret))

	store := sessions.NewCookieStore(hashKey[:], blockKey[:])
	store.Options = &sessions.Options{
		Path:     "/",
		Domain:   cookie.Domain,
		MaxAge:   maxAgeSeconds,
		HttpOnly: true,
		Secure:   cookie.Secure,
		SameSite: http.SameSiteStrictMode,
	}
	return &SessionStore{store: store}
}

// SaveRefreshToken stores token in the session cookie on w.
func (s *SessionStore) SaveRefreshToken(w http.ResponseWriter, r *http.Request, token string) error {
	session, err := s.store.Get(r, SessionName)
	if err != nil && session == nil {
		return err
	}
	session.Values[sessionKeyRefreshToken] = token
	return session.Save(r, w)
}

// RefreshToken reads the refresh token from the request's session cookie.
func (s *SessionStore) RefreshToken(r *http.Request) (string, error) {
	session, err := s.store.Get(r, SessionName)
	if err != nil {
		return "", err
	}
	token, ok := session.Values[sessionKeyRefreshToken].(string)
	if !ok || token == "" {
		return "", ErrNoRefreshToken
	}
	return token, nil
}

// Clear expires the session cookie.
func (s *SessionStore) Clear(w http.ResponseWriter, r *http.Request) error {
	session, err := s.store.Get(r, SessionName)
	if err != nil && session == nil {
		return err
	}
	session.Options.MaxAge = -1
	delete(session.Values, sessionKeyRefreshToken)
	return session.Save(r, w)
}
