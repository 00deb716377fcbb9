package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr string

	StoreDriver       string
	DBPath            string
	StoreDSN          string
	MongoDatabase     string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	SessionCookieName   string
	SessionAbsoluteHour int
	CSRFCookieName      string
	CookieSecure        bool
	TrustProxy          bool
	CORSAllowedOrigins  []string

	AdminEmails       []string
	StatusTransitions string
	PasswordMinLength int

	RegisterDelay time.Duration
	LoginDelay    time.Duration
	ReportDelay   time.Duration

	MediaBackend       string
	MaxMediaBytes      int64
	MinIOEndpoint      string
	MinIOAccessKey     string
	MinIOSecretKey     string
	MinIOBucket        string
	MinIOUseSSL        bool
	MinIOPublicBaseURL string

	EventsBackend string
	RabbitMQURL   string
	RabbitMQQueue string
	EventsBuffer  int

	LogLevel  string
	LogFormat string

	HTTPReadTimeoutSec       int
	HTTPReadHeaderTimeoutSec int
	HTTPWriteTimeoutSec      int
	HTTPIdleTimeoutSec       int
}

// source resolves a setting: process env, then .env (already merged into
// the process env by godotenv), then the optional YAML file.
type source struct {
	file map[string]string
}

func Load() (Config, error) {
	// godotenv never overrides variables that are already set.
	_ = godotenv.Load()

	src := source{}
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		values, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = values
	}

	cfg := Config{
		ListenAddr:               src.env("LISTEN_ADDR", ":8080"),
		StoreDriver:              strings.ToLower(src.env("STORE_DRIVER", "sqlite")),
		DBPath:                   src.env("APP_DB_PATH", "./data/civicreport.db"),
		StoreDSN:                 src.env("STORE_DSN", ""),
		MongoDatabase:            src.env("MONGO_DATABASE", "civicreport"),
		DBMaxOpenConns:           src.envInt("APP_DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:           src.envInt("APP_DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime:        time.Duration(src.envInt("APP_DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		SessionCookieName:        src.env("SESSION_COOKIE_NAME", "civicreport_session"),
		SessionAbsoluteHour:      src.envInt("SESSION_ABSOLUTE_HOURS", 24),
		CSRFCookieName:           src.env("CSRF_COOKIE_NAME", "civicreport_csrf"),
		CookieSecure:             src.envBool("COOKIE_SECURE", false),
		TrustProxy:               src.envBool("TRUST_PROXY", false),
		CORSAllowedOrigins:       src.envCSV("CORS_ALLOWED_ORIGINS", ""),
		AdminEmails:              src.envCSV("ADMIN_EMAILS", "admin@example.com"),
		StatusTransitions:        strings.ToLower(src.env("STATUS_TRANSITIONS", "free")),
		PasswordMinLength:        src.envInt("PASSWORD_MIN_LENGTH", 1),
		RegisterDelay:            time.Duration(src.envInt("REGISTER_DELAY_MS", 1200)) * time.Millisecond,
		LoginDelay:               time.Duration(src.envInt("LOGIN_DELAY_MS", 1000)) * time.Millisecond,
		ReportDelay:              time.Duration(src.envInt("REPORT_DELAY_MS", 1500)) * time.Millisecond,
		MediaBackend:             strings.ToLower(src.env("MEDIA_BACKEND", "inline")),
		MaxMediaBytes:            int64(src.envInt("MAX_MEDIA_BYTES", 0)),
		MinIOEndpoint:            src.env("MINIO_ENDPOINT", ""),
		MinIOAccessKey:           src.env("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:           src.env("MINIO_SECRET_KEY", ""),
		MinIOBucket:              src.env("MINIO_BUCKET", ""),
		MinIOUseSSL:              src.envBool("MINIO_USE_SSL", false),
		MinIOPublicBaseURL:       src.env("MINIO_PUBLIC_BASE_URL", ""),
		EventsBackend:            strings.ToLower(src.env("EVENTS_BACKEND", "log")),
		RabbitMQURL:              src.env("RABBITMQ_URL", ""),
		RabbitMQQueue:            src.env("RABBITMQ_QUEUE", "report_events"),
		EventsBuffer:             src.envInt("EVENTS_BUFFER", 256),
		LogLevel:                 strings.ToLower(src.env("LOG_LEVEL", "info")),
		LogFormat:                strings.ToLower(src.env("LOG_FORMAT", "json")),
		HTTPReadTimeoutSec:       src.envInt("HTTP_READ_TIMEOUT_SEC", 10),
		HTTPReadHeaderTimeoutSec: src.envInt("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		HTTPWriteTimeoutSec:      src.envInt("HTTP_WRITE_TIMEOUT_SEC", 30),
		HTTPIdleTimeoutSec:       src.envInt("HTTP_IDLE_TIMEOUT_SEC", 60),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case "memory", "sqlite":
	case "postgres", "mysql", "mongo":
		if strings.TrimSpace(c.StoreDSN) == "" {
			return fmt.Errorf("STORE_DSN is required when STORE_DRIVER=%s", c.StoreDriver)
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be one of: memory, sqlite, postgres, mysql, mongo")
	}
	if c.StoreDriver == "sqlite" && strings.TrimSpace(c.DBPath) == "" {
		return errors.New("APP_DB_PATH is required when STORE_DRIVER=sqlite")
	}
	if c.DBMaxOpenConns <= 0 || c.DBMaxIdleConns < 0 {
		return errors.New("invalid DB pool config")
	}
	if c.SessionAbsoluteHour <= 0 {
		return errors.New("session timeout must be positive")
	}
	switch c.StatusTransitions {
	case "free", "forward":
	default:
		return errors.New("STATUS_TRANSITIONS must be one of: free, forward")
	}
	if c.PasswordMinLength < 1 {
		return errors.New("password min length must be >= 1")
	}
	if c.RegisterDelay < 0 || c.LoginDelay < 0 || c.ReportDelay < 0 {
		return errors.New("pacing delays must not be negative")
	}
	if c.MaxMediaBytes < 0 {
		return errors.New("MAX_MEDIA_BYTES must not be negative")
	}
	switch c.MediaBackend {
	case "inline":
	case "minio":
		if strings.TrimSpace(c.MinIOEndpoint) == "" || strings.TrimSpace(c.MinIOBucket) == "" {
			return errors.New("MINIO_ENDPOINT and MINIO_BUCKET are required when MEDIA_BACKEND=minio")
		}
	default:
		return errors.New("MEDIA_BACKEND must be one of: inline, minio")
	}
	switch c.EventsBackend {
	case "none", "log":
	case "rabbitmq":
		if strings.TrimSpace(c.RabbitMQURL) == "" {
			return errors.New("RABBITMQ_URL is required when EVENTS_BACKEND=rabbitmq")
		}
	default:
		return errors.New("EVENTS_BACKEND must be one of: none, log, rabbitmq")
	}
	if c.EventsBuffer <= 0 {
		return errors.New("EVENTS_BUFFER must be positive")
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return errors.New("LOG_FORMAT must be one of: json, console")
	}
	if !c.CookieSecure && !isLocalListen(c.ListenAddr) {
		return errors.New("COOKIE_SECURE=false is allowed only for local listen addresses")
	}
	return nil
}

func (c Config) SessionAbsoluteDuration() time.Duration {
	return time.Duration(c.SessionAbsoluteHour) * time.Hour
}

// ResolveCookieSecure reports whether cookies for r should carry the Secure flag.
func (c Config) ResolveCookieSecure(r *http.Request) bool {
	if c.CookieSecure {
		return true
	}
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	return c.TrustProxy && strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https")
}

func readFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var decoded map[string]any
	if err := yaml.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	out := make(map[string]string, len(decoded))
	for k, v := range decoded {
		switch typed := v.(type) {
		case nil:
		case []any:
			parts := make([]string, 0, len(typed))
			for _, p := range typed {
				parts = append(parts, fmt.Sprint(p))
			}
			out[strings.ToUpper(k)] = strings.Join(parts, ",")
		default:
			out[strings.ToUpper(k)] = fmt.Sprint(typed)
		}
	}
	return out, nil
}

func (s source) lookup(k string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return s.file[k]
}

func (s source) env(k, d string) string {
	if v := s.lookup(k); v != "" {
		return v
	}
	return d
}

func (s source) envInt(k string, d int) int {
	v := s.lookup(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return d
	}
	return n
}

func (s source) envBool(k string, d bool) bool {
	v := s.lookup(k)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return d
	}
	return b
}

func (s source) envCSV(k, d string) []string {
	v := strings.TrimSpace(s.env(k, d))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isLocalListen(addr string) bool {
	a := strings.ToLower(strings.TrimSpace(addr))
	return strings.Contains(a, "127.0.0.1") || strings.Contains(a, "localhost") || strings.Contains(a, "[::1]") || strings.HasPrefix(a, ":")
}
