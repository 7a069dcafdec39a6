package courseware

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/kuitang/coursewalk/internal/errs"
)

// Session configuration
const (
	SessionDuration   = 24 * time.Hour
	SessionIDLength   = 32 // 256 bits
	SessionCookieName = "session_id"
	FlashCookieName   = "flash"
)

// CreateSession starts a session for userID and returns its id.
func (s *Store) CreateSession(ctx context.Context, userID string) (string, error) {
	buf := make([]byte, SessionIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session ID: %w", err)
	}
	id := base64.RawURLEncoding.EncodeToString(buf)

	now := s.now()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		id, userID, now.Add(SessionDuration).Unix(), now.Unix(),
	); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return id, nil
}

// SessionUser returns the user owning a live session.
func (s *Store) SessionUser(ctx context.Context, sessionID string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT u.id, u.username, u.first_name, u.last_name, u.email, u.password_hash, u.course, u.created_at
		 FROM sessions s JOIN users u ON u.id = s.user_id
		 WHERE s.session_id = ? AND s.expires_at > ?`,
		sessionID, s.now().Unix(),
	)
	u, err := scanUser(row)
	if err != nil {
		if errs.Is(err, errs.NotFound) {
			return nil, errs.New(errs.Unauthenticated, "session not found")
		}
		return nil, err
	}
	return u, nil
}

// DeleteSession removes a session (logout).
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Cookie helpers

func setSessionCookie(w http.ResponseWriter, sessionID string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(SessionDuration.Seconds()),
	})
}

func clearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

func sessionIDFromRequest(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// The flash message survives exactly one redirect.
func setFlash(w http.ResponseWriter, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     FlashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(message)),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func popFlash(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(FlashCookieName)
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{Name: FlashCookieName, Value: "", Path: "/", MaxAge: -1})
	msg, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil {
		return ""
	}
	return string(msg)
}
