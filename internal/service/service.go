package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"civicreport/internal/auth"
	"civicreport/internal/config"
	"civicreport/internal/events"
	"civicreport/internal/media"
	"civicreport/internal/models"
	"civicreport/internal/store"
)

var (
	ErrUnauthenticated    = errors.New("authentication required")
	ErrUnauthorized       = errors.New("admin role required")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidTransition  = errors.New("status transition not allowed")
)

// Session is an authenticated session as handed to the client.
type Session struct {
	Token     string      `json:"-"`
	User      models.User `json:"user"`
	ExpiresAt time.Time   `json:"expires_at"`
}

type Service struct {
	cfg         config.Config
	st          *store.Store
	media       media.Store
	events      events.Publisher
	logger      *zap.Logger
	roles       RolePolicy
	transitions models.TransitionPolicy
	hasher      *auth.Hasher
	pace        Pacer
	now         func() time.Time
}

type Option func(*Service)

func WithRolePolicy(p RolePolicy) Option { return func(s *Service) { s.roles = p } }

func WithPacer(p Pacer) Option { return func(s *Service) { s.pace = p } }

func WithHasher(h *auth.Hasher) Option { return func(s *Service) { s.hasher = h } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(cfg config.Config, st *store.Store, m media.Store, pub events.Publisher, logger *zap.Logger, opts ...Option) *Service {
	if m == nil {
		m = media.Inline{MaxBytes: cfg.MaxMediaBytes}
	}
	if pub == nil {
		pub = events.Noop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:         cfg,
		st:          st,
		media:       m,
		events:      pub,
		logger:      logger,
		roles:       NewAllowList(cfg.AdminEmails),
		transitions: models.TransitionPolicy(cfg.StatusTransitions),
		hasher:      auth.NewHasher(auth.DefaultParams),
		pace:        Sleep,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Ready(ctx context.Context) error { return s.st.Ping(ctx) }

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

// Register creates a citizen or admin account and starts a session for it.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Session, error) {
	name := strings.TrimSpace(in.Name)
	email := strings.TrimSpace(in.Email)
	if name == "" || email == "" || in.Password == "" {
		return Session{}, fmt.Errorf("%w: name, email and password are required", ErrValidation)
	}
	if len(in.Password) < s.cfg.PasswordMinLength {
		return Session{}, fmt.Errorf("%w: password must be at least %d characters", ErrValidation, s.cfg.PasswordMinLength)
	}
	if err := s.pace(ctx, s.cfg.RegisterDelay); err != nil {
		return Session{}, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return Session{}, err
	}
	u, err := s.st.CreateUser(ctx, models.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         s.roles.RoleFor(email),
	})
	if errors.Is(err, store.ErrDuplicateEmail) {
		return Session{}, ErrDuplicateEmail
	}
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("user registered", zap.String("user_id", u.ID), zap.String("email", u.Email), zap.String("role", string(u.Role)))
	return s.startSession(ctx, u)
}

// Login starts a session for the user with exactly this email and password.
// A failed attempt leaves every session slot untouched.
func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if err := s.pace(ctx, s.cfg.LoginDelay); err != nil {
		return Session{}, err
	}
	u, ok, err := s.st.FindUserByEmail(ctx, email)
	if err != nil {
		return Session{}, err
	}
	if !ok || !s.hasher.Verify(u.PasswordHash, password) {
		s.logger.Info("login failed", zap.String("email", email))
		return Session{}, ErrInvalidCredentials
	}
	s.logger.Info("user logged in", zap.String("user_id", u.ID), zap.String("email", u.Email))
	return s.startSession(ctx, u)
}

func (s *Service) startSession(ctx context.Context, u models.User) (Session, error) {
	raw, hash, err := auth.NewOpaqueToken()
	if err != nil {
		return Session{}, err
	}
	rec, err := s.st.SetSession(ctx, hash, u, s.cfg.SessionAbsoluteDuration())
	if err != nil {
		return Session{}, err
	}
	return Session{Token: raw, User: rec.User, ExpiresAt: rec.ExpiresAt}, nil
}

// Logout clears the session slot for token. Unknown or empty tokens are fine.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.st.ClearSession(ctx, auth.HashToken(token))
}

// CurrentSession returns the user recorded for token.
func (s *Service) CurrentSession(ctx context.Context, token string) (models.User, error) {
	if token == "" {
		return models.User{}, ErrUnauthenticated
	}
	rec, ok, err := s.st.Session(ctx, auth.HashToken(token))
	if err != nil {
		return models.User{}, err
	}
	if !ok {
		return models.User{}, ErrUnauthenticated
	}
	return rec.User, nil
}

func requireUser(actor *models.User) error {
	if actor == nil || actor.ID == "" {
		return ErrUnauthenticated
	}
	return nil
}

func requireAdmin(actor *models.User) error {
	if err := requireUser(actor); err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return ErrUnauthorized
	}
	return nil
}
