// internal/api/session.go
package api

import (
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zkwallet/zkwallet/pkg/keys"
)

const (
	sessionCookie = "zkwallet_session"
	sessionTTL    = 24 * time.Hour
)

type session struct {
	userID    int64
	expiresAt time.Time
}

// SessionStore is an in-memory token -> user map. Sessions die with the
// process; acceptable for a single-instance custodial service.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]session)}
}

// Create mints a session token: a uuid joined with 16 random bytes, so the
// token is both unique and unguessable.
func (s *SessionStore) Create(userID int64) (string, error) {
	raw, err := keys.RandomBytes(16)
	if err != nil {
		return "", err
	}
	token := uuid.NewString() + "." + hex.EncodeToString(raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = session{userID: userID, expiresAt: time.Now().Add(sessionTTL)}
	return token, nil
}

func (s *SessionStore) UserID(token string) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[token]
	if !ok {
		return 0, false
	}
	if time.Now().After(sess.expiresAt) {
		delete(s.sessions, token)
		return 0, false
	}
	return sess.userID, true
}

func (s *SessionStore) Destroy(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

func setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionTTL / time.Second),
	})
}

func clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}
