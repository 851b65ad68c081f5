package blogdesk

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (a *App) setupMiddleware() {
	e := a.Echo

	e.IPExtractor = echo.ExtractIPFromXFFHeader(
		echo.TrustLoopback(true),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(true),
	)

	e.HTTPErrorHandler = a.httpErrorHandler

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			c.Logger().Infof("%s %s -> %d (%s)", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	e.Use(middleware.Recover())
	e.Use(metricsMiddleware)

	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Level: 5,
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			return strings.HasPrefix(p, "/public/") || strings.HasPrefix(p, a.Config.UploadURLPrefix+"/")
		},
	}))

	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; img-src 'self' https: data:; frame-ancestors 'none'",
		HSTSMaxAge:            31536000,
		HSTSExcludeSubdomains: false,
	}))

	e.Use(middleware.BodyLimit(fmt.Sprintf("%dB", 2*a.Config.MaxUploadSize+(1<<20))))

	e.Use(session.Middleware(a.newSessionStore()))
	e.Use(a.identityMiddleware)

	e.Use(middleware.CSRFWithConfig(middleware.CSRFConfig{
		ContextKey:     middleware.DefaultCSRFConfig.ContextKey,
		TokenLookup:    "header:X-CSRF-Token,form:_csrf",
		CookieName:     "_csrf",
		CookiePath:     "/",
		CookieSameSite: http.SameSiteLaxMode,
		CookieSecure:   a.Config.CookieSecure,
		Skipper:        csrfSkipper,
		ErrorHandler: func(err error, c echo.Context) error {
			return Forbidden("missing or invalid CSRF token")
		},
	}))

	e.Use(cacheControlMiddleware(a.Config.UploadURLPrefix))
}

// csrfSkipper applies CSRF protection only to cookie-authenticated requests.
// Bearer-token and anonymous callers carry no ambient credentials.
func csrfSkipper(c echo.Context) bool {
	if c.Request().Header.Get(echo.HeaderAuthorization) != "" {
		return true
	}
	_, err := c.Cookie(sessionName)
	return err != nil
}

func cacheControlMiddleware(uploadPrefix string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := c.Request().URL.Path
			h := c.Response().Header()
			switch {
			case strings.HasPrefix(p, "/public/"), strings.HasPrefix(p, uploadPrefix+"/"):
				h.Set("Cache-Control", "public, max-age=31536000, immutable")
			case p == "/feed.xml":
				h.Set("Cache-Control", "public, max-age=3600")
			default:
				h.Set("Cache-Control", "no-store")
			}
			return next(c)
		}
	}
}

func (a *App) newSessionStore() *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(a.Config.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		MaxAge:   60 * 60 * 12,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.Config.CookieSecure,
	}
	return store
}

// CsrfToken extracts the CSRF token from the Echo context.
func CsrfToken(c echo.Context) string {
	token, _ := c.Get(middleware.DefaultCSRFConfig.ContextKey).(string)
	return token
}

// httpErrorHandler renders every error as {"kind", "message"}. Pipeline
// errors map by kind; server-side failures are logged and their details
// withheld from the client.
func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	body := errorBody{Kind: string(KindInternal), Message: "internal server error"}

	var appErr *Error
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		code = statusFor(appErr.Kind)
		body = errorBody{Kind: string(appErr.Kind), Message: appErr.Message}
	case errors.As(err, &httpErr):
		code = httpErr.Code
		body = errorBody{Kind: kindForStatus(code), Message: fmt.Sprintf("%v", httpErr.Message)}
	}

	if code >= 500 {
		c.Logger().Errorf("server error: %s %s -> %d: %v", c.Request().Method, c.Request().URL.Path, code, err)
		if body.Kind == string(KindStorage) || body.Kind == string(KindStore) {
			body.Message = "a storage backend failed, try again later"
		} else {
			body.Message = "internal server error"
		}
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, body)
	}
	if err != nil {
		c.Logger().Error(err)
	}
}

func statusFor(k ErrorKind) int {
	switch k {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func kindForStatus(code int) string {
	switch code {
	case http.StatusUnauthorized:
		return string(KindUnauthorized)
	case http.StatusForbidden:
		return string(KindForbidden)
	case http.StatusNotFound:
		return string(KindNotFound)
	case http.StatusTooManyRequests:
		return "rate_limited"
	}
	if code >= 400 && code < 500 {
		return string(KindValidation)
	}
	return string(KindInternal)
}
