package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the stored login.
type Session struct {
	Token     string
	Subject   string
	ExpiresAt time.Time // zero when the token carries no exp claim
	CreatedAt time.Time
}

// Expired reports whether the session's expiry is known and before now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SaveSession replaces the stored session with token.
//
// Subject and expiry are read from the token's claims without verifying the
// signature; the backend is the only party that can verify it. Opaque
// (non-JWT) tokens are stored with empty claims.
func (s *Store) SaveSession(ctx context.Context, token string, now time.Time) (Session, error) {
	sess := Session{Token: token, CreatedAt: now.UTC().Truncate(time.Second)}
	sess.Subject, sess.ExpiresAt = unverifiedClaims(token)

	var expires int64
	if !sess.ExpiresAt.IsZero() {
		expires = sess.ExpiresAt.Unix()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, token, subject, expires_at, created_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			subject = excluded.subject,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at
	`, sess.Token, sess.Subject, expires, sess.CreatedAt.Unix())
	if err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	return sess, nil
}

// Session returns the stored session, or ErrNotFound.
func (s *Store) Session(ctx context.Context) (Session, error) {
	var (
		sess             Session
		expires, created int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT token, subject, expires_at, created_at FROM sessions WHERE id = 1
	`).Scan(&sess.Token, &sess.Subject, &expires, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	if expires > 0 {
		sess.ExpiresAt = time.Unix(expires, 0).UTC()
	}
	sess.CreatedAt = time.Unix(created, 0).UTC()
	return sess, nil
}

// ClearSession deletes the stored session. Clearing an empty store is not
// an error.
func (s *Store) ClearSession(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Token returns the current bearer token, or "" when logged out.
func (s *Store) Token(ctx context.Context) (string, error) {
	sess, err := s.Session(ctx)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return sess.Token, nil
}

func unverifiedClaims(token string) (string, time.Time) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return "", time.Time{}
	}

	subject, _ := claims.GetSubject()
	var expires time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expires = exp.Time.UTC()
	}
	return subject, expires
}
