package models

import (
	"errors"
	"strings"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleCitizen Role = "citizen"
)

type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash,omitempty"`
	Role         Role   `json:"role"`
}

// Public returns a copy without credentials, suitable for sessions and responses.
func (u User) Public() User {
	u.PasswordHash = ""
	return u
}

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

type Report struct {
	ID          string `json:"id"`
	UserID      string `json:"userId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Media       string `json:"media,omitempty"`
	Status      Status `json:"status"`
	CreatedAt   string `json:"createdAt"`
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusResolved   Status = "resolved"
)

var ErrUnknownStatus = errors.New("unknown status")

// Statuses in lifecycle order.
var Statuses = []Status{StatusPending, StatusInProgress, StatusResolved}

// ParseStatus accepts the canonical values and the admin labels
// Submitted, In Progress and Resolved, ignoring case and surrounding space.
func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "pending", "submitted":
		return StatusPending, nil
	case "in-progress", "in progress", "in_progress", "inprogress":
		return StatusInProgress, nil
	case "resolved":
		return StatusResolved, nil
	}
	return "", ErrUnknownStatus
}

// Valid reports whether s is one of the canonical values.
func (s Status) Valid() bool {
	return s != "" && canonical(s) == s
}

func canonical(s Status) Status {
	c, err := ParseStatus(string(s))
	if err != nil {
		return ""
	}
	return c
}

func (s Status) rank() int {
	for i, st := range Statuses {
		if st == canonical(s) {
			return i
		}
	}
	return -1
}

// Label is the admin-facing wording of the status.
func (s Status) Label() string {
	switch canonical(s) {
	case StatusPending:
		return "Submitted"
	case StatusInProgress:
		return "In Progress"
	case StatusResolved:
		return "Resolved"
	}
	return string(s)
}

type TransitionPolicy string

const (
	// TransitionsFree allows any status from any status.
	TransitionsFree TransitionPolicy = "free"
	// TransitionsForward allows staying put or moving later in the lifecycle.
	TransitionsForward TransitionPolicy = "forward"
)

// Allowed reports whether a report may move from one status to another.
// Stored values outside the vocabulary can always be corrected.
func (p TransitionPolicy) Allowed(from, to Status) bool {
	if to.rank() < 0 {
		return false
	}
	if p != TransitionsForward {
		return true
	}
	fr := from.rank()
	if fr < 0 {
		return true
	}
	return to.rank() >= fr
}

type Summary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Resolved   int `json:"resolved"`
}

func Summarize(reports []Report) Summary {
	var s Summary
	for _, r := range reports {
		s.Total++
		switch canonical(r.Status) {
		case StatusPending:
			s.Pending++
		case StatusInProgress:
			s.InProgress++
		case StatusResolved:
			s.Resolved++
		}
	}
	return s
}
