package service

import (
	"context"
	"strings"
	"time"

	"civicreport/internal/models"
)

// RolePolicy decides the role of a newly registered account.
type RolePolicy interface {
	RoleFor(email string) models.Role
}

// AllowList grants admin to an exact email match and citizen to everyone else.
type AllowList map[string]struct{}

func NewAllowList(emails []string) AllowList {
	out := AllowList{}
	for _, e := range emails {
		if e = strings.TrimSpace(e); e != "" {
			out[e] = struct{}{}
		}
	}
	return out
}

func (a AllowList) RoleFor(email string) models.Role {
	if _, ok := a[email]; ok {
		return models.RoleAdmin
	}
	return models.RoleCitizen
}

// Pacer waits d before an operation completes.
type Pacer func(ctx context.Context, d time.Duration) error

// Sleep is the default Pacer. It returns early with ctx.Err() on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoPacing skips every delay.
func NoPacing(context.Context, time.Duration) error { return nil }
