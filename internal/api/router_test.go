package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"

	"go.uber.org/zap/zaptest"

	"civicreport/internal/auth"
	"civicreport/internal/config"
	"civicreport/internal/kv"
	"civicreport/internal/models"
	"civicreport/internal/service"
	"civicreport/internal/store"
	"civicreport/internal/util"
)

func testConfig() config.Config {
	return config.Config{
		ListenAddr:          "127.0.0.1:0",
		StoreDriver:         "memory",
		SessionCookieName:   "civicreport_session",
		SessionAbsoluteHour: 24,
		CSRFCookieName:      "civicreport_csrf",
		AdminEmails:         []string{"admin@example.com"},
		StatusTransitions:   "free",
		PasswordMinLength:   1,
		MediaBackend:        "inline",
		EventsBackend:       "none",
	}
}

func newTestServer(t *testing.T, cfg config.Config) *httptest.Server {
	t.Helper()
	logger := zaptest.NewLogger(t)
	st := store.New(kv.NewMemory())
	svc := service.New(cfg, st, nil, nil, logger,
		service.WithPacer(service.NoPacing),
		service.WithHasher(auth.NewHasher(auth.Params{Memory: 1024, Iterations: 1, Parallelism: 1, KeyLen: 16, SaltLen: 8})),
	)
	srv := httptest.NewServer(NewRouter(cfg, svc, logger))
	t.Cleanup(srv.Close)
	return srv
}

type client struct {
	t    *testing.T
	srv  *httptest.Server
	http *http.Client
	csrf string
}

func newClient(t *testing.T, srv *httptest.Server) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &client{t: t, srv: srv, http: &http.Client{Jar: jar}}
}

func (c *client) do(method, path string, body any, out any) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.srv.URL+path, &buf)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.csrf != "" {
		req.Header.Set("X-CSRF-Token", c.csrf)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (c *client) register(name, email, pw string) models.User {
	c.t.Helper()
	var out sessionResponse
	if code := c.do("POST", "/api/v1/register", map[string]string{"name": name, "email": email, "password": pw}, &out); code != http.StatusCreated {
		c.t.Fatalf("register %s: expected 201, got %d", email, code)
	}
	c.csrf = out.CSRFToken
	return out.User
}

func (c *client) cookie(name string) string {
	u, _ := url.Parse(c.srv.URL)
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}

func TestHealthAndVersion(t *testing.T) {
	srv := newTestServer(t, testConfig())
	c := newClient(t, srv)
	for _, p := range []string{"/health/live", "/health/ready", "/version"} {
		if code := c.do("GET", p, nil, nil); code != 200 {
			t.Fatalf("%s: expected 200, got %d", p, code)
		}
	}
	var apiErr util.APIError
	if code := c.do("GET", "/nope", nil, &apiErr); code != 404 || apiErr.Code != "not_found" {
		t.Fatalf("expected json 404, got %d %+v", code, apiErr)
	}
}

func TestRegisterSetsCookiesAndRoles(t *testing.T) {
	srv := newTestServer(t, testConfig())
	admin := newClient(t, srv)
	if u := admin.register("Admin", "admin@example.com", "pw"); u.Role != models.RoleAdmin || u.PasswordHash != "" {
		t.Fatalf("unexpected admin user: %+v", u)
	}
	if admin.cookie("civicreport_session") == "" || admin.cookie("civicreport_csrf") != admin.csrf {
		t.Fatalf("expected session and csrf cookies to be set")
	}

	alice := newClient(t, srv)
	if u := alice.register("Alice", "alice@x.com", "pw2"); u.Role != models.RoleCitizen {
		t.Fatalf("unexpected citizen role: %+v", u)
	}

	var apiErr util.APIError
	dup := newClient(t, srv)
	code := dup.do("POST", "/api/v1/register", map[string]string{"name": "X", "email": "alice@x.com", "password": "x"}, &apiErr)
	if code != http.StatusConflict || apiErr.Code != "duplicate_email" || apiErr.RequestID == "" {
		t.Fatalf("expected 409 duplicate_email with request id, got %d %+v", code, apiErr)
	}

	code = dup.do("POST", "/api/v1/register", map[string]string{"name": "", "email": "z@x.com", "password": "x"}, &apiErr)
	if code != http.StatusBadRequest || apiErr.Code != "validation_failed" {
		t.Fatalf("expected 400 validation_failed, got %d %+v", code, apiErr)
	}
}

func TestLoginLogoutAndSessionGuard(t *testing.T) {
	srv := newTestServer(t, testConfig())
	newClient(t, srv).register("Alice", "alice@x.com", "pw2")

	c := newClient(t, srv)
	var apiErr util.APIError
	if code := c.do("GET", "/api/v1/me", nil, &apiErr); code != http.StatusUnauthorized || apiErr.Code != "unauthenticated" {
		t.Fatalf("expected 401 without session, got %d %+v", code, apiErr)
	}
	if code := c.do("POST", "/api/v1/login", map[string]string{"email": "alice@x.com", "password": "nope"}, &apiErr); code != http.StatusUnauthorized || apiErr.Code != "invalid_credentials" {
		t.Fatalf("expected 401 invalid_credentials, got %d %+v", code, apiErr)
	}

	var sess sessionResponse
	if code := c.do("POST", "/api/v1/login", map[string]string{"email": "alice@x.com", "password": "pw2"}, &sess); code != 200 {
		t.Fatalf("expected login 200, got %d", code)
	}
	var me models.User
	if code := c.do("GET", "/api/v1/me", nil, &me); code != 200 || me.Email != "alice@x.com" {
		t.Fatalf("expected /me to return alice, got %d %+v", code, me)
	}

	if code := c.do("POST", "/api/v1/logout", nil, nil); code != 200 {
		t.Fatalf("expected logout 200, got %d", code)
	}
	if code := c.do("GET", "/api/v1/me", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", code)
	}
	if code := newClient(t, srv).do("POST", "/api/v1/logout", nil, nil); code != 200 {
		t.Fatalf("expected logout without session to succeed, got %d", code)
	}
}

func TestReportLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t, testConfig())
	admin := newClient(t, srv)
	admin.register("Admin", "admin@example.com", "pw")
	alice := newClient(t, srv)
	aliceUser := alice.register("Alice", "alice@x.com", "pw2")

	csrf := alice.csrf
	alice.csrf = ""
	var apiErr util.APIError
	if code := alice.do("POST", "/api/v1/reports", map[string]string{"title": "Pothole", "description": "Big hole"}, &apiErr); code != http.StatusForbidden || apiErr.Code != "csrf_failed" {
		t.Fatalf("expected csrf failure, got %d %+v", code, apiErr)
	}
	alice.csrf = csrf

	var created models.Report
	if code := alice.do("POST", "/api/v1/reports", map[string]string{"title": "Pothole", "description": "Big hole"}, &created); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if created.UserID != aliceUser.ID || created.Status != models.StatusPending {
		t.Fatalf("unexpected report: %+v", created)
	}

	var mine service.Dashboard
	if code := alice.do("GET", "/api/v1/reports", nil, &mine); code != 200 || len(mine.Reports) != 1 || mine.Summary.Pending != 1 {
		t.Fatalf("unexpected dashboard: %d %+v", code, mine)
	}

	if code := alice.do("GET", "/api/v1/admin/reports", nil, &apiErr); code != http.StatusForbidden || apiErr.Code != "forbidden" {
		t.Fatalf("expected citizen to be denied admin view, got %d %+v", code, apiErr)
	}
	if code := alice.do("POST", "/api/v1/admin/reports/"+created.ID+"/status", map[string]string{"status": "resolved"}, nil); code != http.StatusForbidden {
		t.Fatalf("expected citizen status update to be denied, got %d", code)
	}

	var all service.Dashboard
	if code := admin.do("GET", "/api/v1/admin/reports", nil, &all); code != 200 || len(all.Reports) != 1 {
		t.Fatalf("unexpected admin list: %d %+v", code, all)
	}

	var upd setStatusResponse
	if code := admin.do("POST", "/api/v1/admin/reports/"+created.ID+"/status", map[string]string{"status": "Resolved"}, &upd); code != 200 || !upd.Updated || upd.Report.Status != models.StatusResolved {
		t.Fatalf("unexpected status update: %d %+v", code, upd)
	}
	upd = setStatusResponse{}
	if code := admin.do("POST", "/api/v1/admin/reports/missing/status", map[string]string{"status": "resolved"}, &upd); code != 200 || upd.Updated {
		t.Fatalf("expected unknown id to be a no-op, got %d %+v", code, upd)
	}
	if code := admin.do("POST", "/api/v1/admin/reports/"+created.ID+"/status", map[string]string{"status": "archived"}, &apiErr); code != http.StatusBadRequest || apiErr.Code != "invalid_status" {
		t.Fatalf("expected invalid_status, got %d %+v", code, apiErr)
	}

	if code := alice.do("GET", "/api/v1/reports", nil, &mine); code != 200 || mine.Reports[0].Status != models.StatusResolved || mine.Summary.Resolved != 1 {
		t.Fatalf("expected alice to see resolved report, got %d %+v", code, mine)
	}
}

func TestForwardTransitionsReturnConflict(t *testing.T) {
	cfg := testConfig()
	cfg.StatusTransitions = "forward"
	srv := newTestServer(t, cfg)
	admin := newClient(t, srv)
	admin.register("Admin", "admin@example.com", "pw")

	var created models.Report
	if code := admin.do("POST", "/api/v1/reports", map[string]string{"title": "t", "description": "d"}, &created); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if code := admin.do("POST", "/api/v1/admin/reports/"+created.ID+"/status", map[string]string{"status": "resolved"}, nil); code != 200 {
		t.Fatalf("expected forward move to succeed, got %d", code)
	}
	var apiErr util.APIError
	if code := admin.do("POST", "/api/v1/admin/reports/"+created.ID+"/status", map[string]string{"status": "pending"}, &apiErr); code != http.StatusConflict || apiErr.Code != "invalid_transition" {
		t.Fatalf("expected 409 invalid_transition, got %d %+v", code, apiErr)
	}
}

func TestCreateReportRejectsOversizedMedia(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMediaBytes = 4
	srv := newTestServer(t, cfg)
	c := newClient(t, srv)
	c.register("Alice", "alice@x.com", "pw")

	var apiErr util.APIError
	body := map[string]string{"title": "t", "description": "d", "media": "data:image/png;base64,iVBORw0KGgo="}
	if code := c.do("POST", "/api/v1/reports", body, &apiErr); code != http.StatusBadRequest || apiErr.Code != "validation_failed" {
		t.Fatalf("expected validation failure, got %d %+v", code, apiErr)
	}
}

func TestLoginIsRateLimited(t *testing.T) {
	srv := newTestServer(t, testConfig())
	c := newClient(t, srv)
	last := 0
	for i := 0; i < 21; i++ {
		last = c.do("POST", "/api/v1/login", map[string]string{"email": "x@x.com", "password": "x"}, nil)
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after limit, got %d", last)
	}
}
