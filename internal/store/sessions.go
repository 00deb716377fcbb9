package store

import (
	"context"
	"time"

	"civicreport/internal/models"
)

// SessionRecord is what a currentUser slot holds: a copy of the user taken
// when the session began.
type SessionRecord struct {
	User      models.User `json:"user"`
	IssuedAt  time.Time   `json:"issuedAt"`
	ExpiresAt time.Time   `json:"expiresAt"`
}

func sessionKey(tokenHash string) string { return KeySessionPrefix + tokenHash }

// SetSession fills the slot for tokenHash, replacing whatever it held.
func (s *Store) SetSession(ctx context.Context, tokenHash string, u models.User, ttl time.Duration) (SessionRecord, error) {
	var existing SessionRecord
	version, err := s.Get(ctx, sessionKey(tokenHash), &existing)
	if err != nil {
		return SessionRecord{}, err
	}
	now := s.now().UTC()
	rec := SessionRecord{User: u.Public(), IssuedAt: now, ExpiresAt: now.Add(ttl)}
	if err := s.Set(ctx, sessionKey(tokenHash), rec, version); err != nil {
		return SessionRecord{}, err
	}
	return rec, nil
}

// Session returns the slot for tokenHash. Expired slots read as absent.
func (s *Store) Session(ctx context.Context, tokenHash string) (SessionRecord, bool, error) {
	var rec SessionRecord
	version, err := s.Get(ctx, sessionKey(tokenHash), &rec)
	if err != nil {
		return SessionRecord{}, false, err
	}
	if version == 0 {
		return SessionRecord{}, false, nil
	}
	if !rec.ExpiresAt.IsZero() && !s.now().Before(rec.ExpiresAt) {
		return SessionRecord{}, false, nil
	}
	return rec, true, nil
}

func (s *Store) ClearSession(ctx context.Context, tokenHash string) error {
	return s.engine.Delete(ctx, sessionKey(tokenHash))
}
