// Package blogdesk is a blog content service built with Go and Echo. It
// provides role-based blog CRUD over JSON, image asset lifecycle management
// on local disk or S3, and an RSS feed.
//
// Callers authenticate with bearer tokens from an identity gateway or with a
// cookie session established from one. Records live in SQLite by default or
// in Postgres when a DSN is configured.
package blogdesk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
)

// App is the central blogdesk application. It wires together the stores,
// the blog service, the identity gateway, and the HTTP server.
type App struct {
	Config  SiteConfig
	Echo    *echo.Echo
	Records RecordStore
	Assets  AssetStore
	Roles   *RoleResolver
	Auth    *Authenticator
	Blogs   *BlogService
	Logger  *slog.Logger

	writeLimiter *WriteLimiter
	customRoutes []func(*App)
	ownsRecords  bool
}

// New creates a new App with the given configuration.
func New(cfg SiteConfig, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config: cfg,
		Echo:   echo.New(),
		Logger: slog.Default(),
	}
	a.Echo.HideBanner = true

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Setup validates the configuration, opens the stores, and registers
// middleware and routes. Start calls it; tests call it directly and drive
// a.Echo with httptest.
func (a *App) Setup(ctx context.Context) error {
	if a.Config.JWTSecret == "" {
		return fmt.Errorf("blogdesk: JWTSecret is required")
	}
	if a.Config.SessionSecret == "" {
		return fmt.Errorf("blogdesk: SessionSecret is required")
	}
	switch a.Config.DraftVisibility {
	case DraftsRelaxed, DraftsOwnerOnly:
	default:
		return fmt.Errorf("blogdesk: unknown draft visibility %q", a.Config.DraftVisibility)
	}

	if a.Records == nil {
		records, err := a.openRecordStore(ctx)
		if err != nil {
			return fmt.Errorf("blogdesk: init record store: %w", err)
		}
		a.Records = records
		a.ownsRecords = true
	}

	var uploadDir string
	if a.Assets == nil {
		if a.Config.S3.Bucket != "" {
			s3Store, err := NewS3AssetStore(a.Config.S3)
			if err != nil {
				return fmt.Errorf("blogdesk: init s3 asset store: %w", err)
			}
			a.Assets = s3Store
		} else {
			disk, err := NewDiskAssetStore(a.Config.UploadDir, a.Config.UploadURLPrefix)
			if err != nil {
				return fmt.Errorf("blogdesk: init asset store: %w", err)
			}
			a.Assets = disk
			uploadDir = disk.Dir()
		}
	} else if disk, ok := a.Assets.(*DiskAssetStore); ok {
		uploadDir = disk.Dir()
	}

	a.Roles = NewRoleResolver(a.Config.AdminEmails, a.Config.AdminIDs)
	a.Auth = NewAuthenticator(a.Config.JWTSecret, a.Config.TokenExpiry)
	a.Blogs = NewBlogService(a.Records, a.Assets, a.Roles,
		WithServiceLogger(a.Logger),
		WithDraftVisibility(a.Config.DraftVisibility),
		WithDefaultAvatar(a.Config.DefaultAvatar),
		WithMaxUploadSize(a.Config.MaxUploadSize),
		WithListCache(a.Config.ListCacheTTL),
	)
	a.writeLimiter = NewWriteLimiter(a.Config.WriteRateLimit, a.Config.WriteRateBurst)

	a.setupMiddleware()
	a.setupRoutes(uploadDir)

	for _, fn := range a.customRoutes {
		fn(a)
	}
	return nil
}

func (a *App) openRecordStore(ctx context.Context) (RecordStore, error) {
	if a.Config.DatabaseURL != "" {
		return NewPostgresStore(ctx, a.Config.DatabaseURL)
	}
	return NewSQLiteStore(a.Config.DatabasePath)
}

// Start sets the app up and serves until the server is shut down.
func (a *App) Start(ctx context.Context) error {
	if err := a.Setup(ctx); err != nil {
		return err
	}
	a.Logger.Info("blogdesk listening", "addr", a.Config.Addr)
	if err := a.Echo.Start(a.Config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Echo.Shutdown(ctx)
}

func (a *App) setupRoutes(uploadDir string) {
	e := a.Echo

	embeddedFS, _ := fs.Sub(EmbeddedAssets, "embedded")
	embeddedHandler := http.FileServer(http.FS(embeddedFS))
	e.GET("/public/profile_icon.svg", echo.WrapHandler(http.StripPrefix("/public/", embeddedHandler)))

	if uploadDir != "" {
		e.Static(a.Config.UploadURLPrefix, uploadDir)
	}

	e.GET("/healthz", handleHealth)
	e.GET("/metrics", metricsHandler())
	e.GET("/feed.xml", a.handleFeed)
	e.GET("/me", a.handleMe)
	e.POST("/auth/session", a.handleSessionCreate)
	e.DELETE("/auth/session", a.handleSessionDelete)

	limit := a.writeLimiter.Middleware()
	for _, prefix := range []string{"/blog", "/api/blog"} {
		g := e.Group(prefix)
		g.GET("", a.handleBlogList)
		g.GET("/:id", a.handleBlogGet)
		g.POST("", a.handleBlogCreate, limit)
		g.PUT("/:id", a.handleBlogUpdate, limit)
		g.DELETE("/:id", a.handleBlogDelete, limit)
	}
}

// Close cleans up resources. Call this when the app is shutting down.
// Stores supplied through options are left to their owner.
func (a *App) Close() error {
	if a.Records != nil && a.ownsRecords {
		return a.Records.Close()
	}
	return nil
}

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// MustEnv returns the value of the environment variable key, or fatally exits if empty.
func MustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("blogdesk: required environment variable %s is not set", key)
	}
	return v
}
