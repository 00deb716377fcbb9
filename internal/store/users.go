package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"civicreport/internal/models"
)

func (s *Store) Users(ctx context.Context) ([]models.User, error) {
	users := []models.User{}
	if _, err := s.Get(ctx, KeyUsers, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// FindUserByEmail scans the users collection for an exact email match.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (models.User, bool, error) {
	users, err := s.Users(ctx)
	if err != nil {
		return models.User{}, false, err
	}
	for _, u := range users {
		if u.Email == email {
			return u, true, nil
		}
	}
	return models.User{}, false, nil
}

// CreateUser assigns u a fresh id and appends it to users. The email check
// and the write happen against the same collection version.
func (s *Store) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	records, version, err := s.getRaw(ctx, KeyUsers)
	if err != nil {
		return models.User{}, err
	}
	taken := make(map[string]struct{}, len(records))
	for i, r := range records {
		var existing models.User
		if err := json.Unmarshal(r, &existing); err != nil {
			return models.User{}, fmt.Errorf("%w: users[%d]: %v", ErrCorrupt, i, err)
		}
		if existing.Email == u.Email {
			return models.User{}, ErrDuplicateEmail
		}
		taken[existing.ID] = struct{}{}
	}
	u.ID = nextID(s.now(), taken)
	raw, err := encode(u)
	if err != nil {
		return models.User{}, fmt.Errorf("encode user: %w", err)
	}
	if err := s.setRaw(ctx, KeyUsers, append(records, raw), version); err != nil {
		return models.User{}, err
	}
	return u, nil
}

// ImportUsers appends users whose id and email are both unused. Ids are kept.
func (s *Store) ImportUsers(ctx context.Context, incoming []models.User) (int, error) {
	records, version, err := s.getRaw(ctx, KeyUsers)
	if err != nil {
		return 0, err
	}
	ids := make(map[string]struct{}, len(records))
	emails := make(map[string]struct{}, len(records))
	for i, r := range records {
		var existing models.User
		if err := json.Unmarshal(r, &existing); err != nil {
			return 0, fmt.Errorf("%w: users[%d]: %v", ErrCorrupt, i, err)
		}
		ids[existing.ID] = struct{}{}
		emails[existing.Email] = struct{}{}
	}
	added := 0
	for _, u := range incoming {
		u.Email = strings.TrimSpace(u.Email)
		if _, dup := emails[u.Email]; dup {
			continue
		}
		if _, dup := ids[u.ID]; dup || u.ID == "" {
			u.ID = nextID(s.now(), ids)
		}
		raw, err := encode(u)
		if err != nil {
			return 0, fmt.Errorf("encode user: %w", err)
		}
		records = append(records, raw)
		ids[u.ID] = struct{}{}
		emails[u.Email] = struct{}{}
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := s.setRaw(ctx, KeyUsers, records, version); err != nil {
		return 0, err
	}
	return added, nil
}
