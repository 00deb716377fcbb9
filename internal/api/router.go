package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"civicreport/internal/config"
	"civicreport/internal/middleware"
	"civicreport/internal/models"
	"civicreport/internal/rate"
	"civicreport/internal/service"
	"civicreport/internal/store"
	"civicreport/internal/util"
	"civicreport/internal/version"
)

type Handlers struct {
	cfg     config.Config
	svc     *service.Service
	logger  *zap.Logger
	limiter *rate.Limiter
}

const (
	maxAuthBody = 16 << 10
	// Reports carry inline attachments; with no media limit configured the
	// body is still capped.
	maxReportBodyDefault = 32 << 20
)

func NewRouter(cfg config.Config, svc *service.Service, logger *zap.Logger) http.Handler {
	h := &Handlers{
		cfg:     cfg,
		svc:     svc,
		logger:  logger,
		limiter: rate.NewLimiter(),
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger(logger.Named("http"), cfg.TrustProxy))
	r.Use(middleware.SecurityHeaders)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "X-CSRF-Token", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
		}))
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, 200, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", h.Ready)
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, 200, version.Current())
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.RateLimit(h.limiter, "register", 10, time.Minute, cfg.TrustProxy)).Post("/register", h.Register)
		r.With(middleware.RateLimit(h.limiter, "login", 20, time.Minute, cfg.TrustProxy)).Post("/login", h.Login)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authn(svc, cfg.SessionCookieName, logger))
			r.Get("/me", h.Me)
			r.Get("/reports", h.MyReports)
			r.With(middleware.CSRFFromCookie(cfg.CSRFCookieName)).Post("/reports", h.CreateReport)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.AdminOnly)
				r.Get("/reports", h.AdminListReports)
				r.With(middleware.CSRFFromCookie(cfg.CSRFCookieName)).Post("/reports/{id}/status", h.AdminSetStatus)
			})
		})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		util.WriteError(w, http.StatusNotFound, "not_found", "route not found", middleware.RequestID(r.Context()))
	})

	return r
}

func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	ready := map[string]any{
		"checked_at": time.Now().UTC().Format(time.RFC3339),
		"store":      h.cfg.StoreDriver,
	}
	if err := h.svc.Ready(ctx); err != nil {
		ready["status"] = "degraded"
		ready["error"] = err.Error()
		util.WriteJSON(w, 503, ready)
		return
	}
	ready["status"] = "ready"
	util.WriteJSON(w, 200, ready)
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User      models.User `json:"user"`
	CSRFToken string      `json:"csrf_token"`
	ExpiresAt time.Time   `json:"expires_at"`
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req, maxAuthBody) {
		return
	}
	sess, err := h.svc.Register(r.Context(), service.RegisterInput{Name: req.Name, Email: req.Email, Password: req.Password})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.startSession(w, r, http.StatusCreated, sess)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req, maxAuthBody) {
		return
	}
	sess, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.startSession(w, r, http.StatusOK, sess)
}

func (h *Handlers) startSession(w http.ResponseWriter, r *http.Request, status int, sess service.Session) {
	// Replace rather than shadow a session this browser already had.
	if c, err := r.Cookie(h.cfg.SessionCookieName); err == nil && c.Value != "" && c.Value != sess.Token {
		if err := h.svc.Logout(r.Context(), c.Value); err != nil {
			h.logger.Warn("clear previous session", zap.String("request_id", middleware.RequestID(r.Context())), zap.Error(err))
		}
	}
	csrfToken := randomToken()
	h.setAuthCookies(w, r, sess.Token, csrfToken)
	util.WriteJSON(w, status, sessionResponse{User: sess.User, CSRFToken: csrfToken, ExpiresAt: sess.ExpiresAt})
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(h.cfg.SessionCookieName); err == nil && c.Value != "" {
		if err := h.svc.Logout(r.Context(), c.Value); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	h.clearAuthCookies(w, r)
	util.WriteJSON(w, 200, map[string]string{"status": "ok"})
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	util.WriteJSON(w, 200, u)
}

func (h *Handlers) MyReports(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	d, err := h.svc.Dashboard(r.Context(), u)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, d)
}

type createReportRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Media       string `json:"media"`
}

func (h *Handlers) CreateReport(w http.ResponseWriter, r *http.Request) {
	var req createReportRequest
	if !h.decode(w, r, &req, h.maxReportBody()) {
		return
	}
	u, _ := middleware.User(r.Context())
	rep, err := h.svc.CreateReport(r.Context(), u, service.NewReport{Title: req.Title, Description: req.Description, Media: req.Media})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	util.WriteJSON(w, http.StatusCreated, rep)
}

func (h *Handlers) maxReportBody() int64 {
	if h.cfg.MaxMediaBytes <= 0 {
		return maxReportBodyDefault
	}
	// base64 expansion plus room for the other fields
	return h.cfg.MaxMediaBytes/3*4 + 64<<10
}

func (h *Handlers) AdminListReports(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	reports, err := h.svc.ListAll(r.Context(), u)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, service.Dashboard{Reports: reports, Summary: service.Summary(reports)})
}

type setStatusRequest struct {
	Status string `json:"status"`
}

type setStatusResponse struct {
	Updated bool           `json:"updated"`
	Report  *models.Report `json:"report,omitempty"`
}

func (h *Handlers) AdminSetStatus(w http.ResponseWriter, r *http.Request) {
	var req setStatusRequest
	if !h.decode(w, r, &req, maxAuthBody) {
		return
	}
	u, _ := middleware.User(r.Context())
	rep, found, err := h.svc.UpdateStatus(r.Context(), u, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := setStatusResponse{Updated: found}
	if found {
		resp.Report = &rep
	}
	util.WriteJSON(w, 200, resp)
}

func (h *Handlers) decode(w http.ResponseWriter, r *http.Request, dst any, maxBytes int64) bool {
	if err := util.DecodeJSON(w, r, dst, maxBytes); err != nil {
		util.WriteError(w, 400, "bad_request", err.Error(), middleware.RequestID(r.Context()))
		return false
	}
	return true
}

// writeError is the single place service errors become HTTP responses.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	rid := middleware.RequestID(r.Context())
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		util.WriteError(w, http.StatusUnauthorized, "unauthenticated", err.Error(), rid)
	case errors.Is(err, service.ErrUnauthorized):
		util.WriteError(w, http.StatusForbidden, "forbidden", err.Error(), rid)
	case errors.Is(err, service.ErrInvalidCredentials):
		util.WriteError(w, http.StatusUnauthorized, "invalid_credentials", err.Error(), rid)
	case errors.Is(err, service.ErrDuplicateEmail):
		util.WriteError(w, http.StatusConflict, "duplicate_email", err.Error(), rid)
	case errors.Is(err, service.ErrValidation):
		util.WriteError(w, http.StatusBadRequest, "validation_failed", err.Error(), rid)
	case errors.Is(err, service.ErrInvalidStatus):
		util.WriteError(w, http.StatusBadRequest, "invalid_status", err.Error(), rid)
	case errors.Is(err, service.ErrInvalidTransition):
		util.WriteError(w, http.StatusConflict, "invalid_transition", err.Error(), rid)
	case errors.Is(err, store.ErrConflict):
		util.WriteError(w, http.StatusConflict, "conflict", "data changed concurrently, retry the request", rid)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.Info("request abandoned", zap.String("request_id", rid), zap.Error(err))
		util.WriteError(w, http.StatusServiceUnavailable, "request_canceled", "request canceled", rid)
	default:
		h.logger.Error("request failed", zap.String("request_id", rid), zap.String("path", r.URL.Path), zap.Error(err))
		util.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", rid)
	}
}

func randomToken() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}

func (h *Handlers) setAuthCookies(w http.ResponseWriter, r *http.Request, sessionToken, csrfToken string) {
	secure := h.cfg.ResolveCookieSecure(r)
	maxAge := int(h.cfg.SessionAbsoluteDuration().Seconds())
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    sessionToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CSRFCookieName,
		Value:    csrfToken,
		Path:     "/",
		HttpOnly: false,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func (h *Handlers) clearAuthCookies(w http.ResponseWriter, r *http.Request) {
	secure := h.cfg.ResolveCookieSecure(r)
	expiredAt := time.Unix(1, 0).UTC()
	for _, c := range []struct {
		name     string
		httpOnly bool
	}{
		{h.cfg.SessionCookieName, true},
		{h.cfg.CSRFCookieName, false},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     c.name,
			Value:    "",
			Path:     "/",
			HttpOnly: c.httpOnly,
			Secure:   secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
			Expires:  expiredAt,
		})
	}
}
