package blogdesk

import (
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// SiteConfig holds all configuration for a blogdesk server.
type SiteConfig struct {
	Name        string // Site name (default "Blog")
	URL         string // Canonical URL (default "http://localhost:3000")
	Description string // Site description for the RSS feed

	Addr         string // Listen address (default ":3000")
	DatabasePath string // SQLite path (default "data/blog.db")
	DatabaseURL  string // Postgres DSN; takes precedence over DatabasePath

	UploadDir       string // Local asset directory (default "data/uploads")
	UploadURLPrefix string // URL prefix for local assets (default "/uploads")
	S3              S3Config

	JWTSecret     string        // Required: identity token signing secret
	TokenExpiry   time.Duration // Lifetime of issued tokens (default 24h)
	SessionSecret string        // Required: session encryption secret
	CookieSecure  bool          // Set true for HTTPS

	AdminEmails     []string
	AdminIDs        []string
	DraftVisibility DraftVisibility // "relaxed" (default) or "owner"
	DefaultAvatar   string          // Avatar used when none is available

	MaxUploadSize  int           // Per-image byte limit (default 10MB)
	ListCacheTTL   time.Duration // Anonymous listing cache TTL (default 30s)
	WriteRateLimit int           // Writes per caller per minute (default 30)
	WriteRateBurst int           // Write burst (default 10)
}

// S3Config selects the S3 asset store when Bucket is set.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // For S3-compatible services such as MinIO
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string // Base URL objects are served from
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "Blog"
	}
	if c.URL == "" {
		c.URL = "http://localhost:3000"
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/blog.db"
	}
	if c.UploadDir == "" {
		c.UploadDir = "data/uploads"
	}
	if c.UploadURLPrefix == "" {
		c.UploadURLPrefix = "/uploads"
	}
	if c.S3.Region == "" {
		c.S3.Region = "us-east-1"
	}
	if c.TokenExpiry == 0 {
		c.TokenExpiry = 24 * time.Hour
	}
	if c.DraftVisibility == "" {
		c.DraftVisibility = DraftsRelaxed
	}
	if c.DefaultAvatar == "" {
		c.DefaultAvatar = DefaultAvatar
	}
	if c.MaxUploadSize == 0 {
		c.MaxUploadSize = DefaultMaxUploadSize
	}
	if c.ListCacheTTL == 0 {
		c.ListCacheTTL = 30 * time.Second
	}
	if c.WriteRateLimit == 0 {
		c.WriteRateLimit = 30
	}
	if c.WriteRateBurst == 0 {
		c.WriteRateBurst = 10
	}
}

// ConfigFromEnv reads a SiteConfig from the environment. Unset variables
// keep their defaults.
func ConfigFromEnv() SiteConfig {
	return SiteConfig{
		Name:         EnvOr("SITE_NAME", ""),
		URL:          EnvOr("SITE_URL", ""),
		Description:  EnvOr("SITE_DESCRIPTION", ""),
		Addr:         EnvOr("ADDR", ""),
		DatabasePath: EnvOr("DATABASE_PATH", ""),
		DatabaseURL:  EnvOr("DATABASE_URL", ""),

		UploadDir:       EnvOr("UPLOAD_DIR", ""),
		UploadURLPrefix: EnvOr("UPLOAD_URL_PREFIX", ""),
		S3: S3Config{
			Bucket:          EnvOr("S3_BUCKET", ""),
			Region:          EnvOr("S3_REGION", ""),
			Endpoint:        EnvOr("S3_ENDPOINT", ""),
			AccessKeyID:     EnvOr("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: EnvOr("S3_SECRET_ACCESS_KEY", ""),
			PublicBaseURL:   EnvOr("S3_PUBLIC_BASE_URL", ""),
		},

		JWTSecret:     EnvOr("JWT_SECRET", ""),
		TokenExpiry:   envDuration("TOKEN_EXPIRY"),
		SessionSecret: EnvOr("SESSION_SECRET", ""),
		CookieSecure:  EnvOr("COOKIE_SECURE", "") == "true",

		AdminEmails:     SplitList(EnvOr("ADMIN_EMAILS", "")),
		AdminIDs:        SplitList(EnvOr("ADMIN_IDS", "")),
		DraftVisibility: DraftVisibility(EnvOr("DRAFT_VISIBILITY", "")),
		DefaultAvatar:   EnvOr("DEFAULT_AVATAR", ""),

		MaxUploadSize:  envInt("MAX_UPLOAD_SIZE"),
		ListCacheTTL:   envDuration("LIST_CACHE_TTL"),
		WriteRateLimit: envInt("WRITE_RATE_LIMIT"),
		WriteRateBurst: envInt("WRITE_RATE_BURST"),
	}
}

func envInt(key string) int {
	v := EnvOr(key, "")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		slog.Warn("ignoring invalid integer setting", "key", key, "value", v)
		return 0
	}
	return n
}

func envDuration(key string) time.Duration {
	v := EnvOr(key, "")
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		slog.Warn("ignoring invalid duration setting", "key", key, "value", v)
		return 0
	}
	return d
}

// Option configures additional App behavior.
type Option func(*App)

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback runs after the built-in routes are registered.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithRecordStore overrides the record store selected from the config.
func WithRecordStore(s RecordStore) Option {
	return func(a *App) {
		a.Records = s
	}
}

// WithAssetStore overrides the asset store selected from the config.
func WithAssetStore(s AssetStore) Option {
	return func(a *App) {
		a.Assets = s
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(a *App) {
		a.Logger = l
	}
}
