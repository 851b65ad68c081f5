package blogdesk

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
)

const (
	sessionName        = "blogdesk_session"
	identityContextKey = "identity"
	bearerPrefix       = "Bearer "
)

// Claims are the identity gateway's token claims. The subject is the
// identity id.
type Claims struct {
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 identity tokens.
type Authenticator struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func NewAuthenticator(secret string, expiry time.Duration) *Authenticator {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &Authenticator{secret: []byte(secret), expiry: expiry, now: time.Now}
}

// Issue signs a token for id.
func (a *Authenticator) Issue(id Identity) (string, error) {
	if id.ID == "" {
		return "", errors.New("identity id is required")
	}
	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email:   id.Email,
		Name:    id.Name,
		Picture: id.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.expiry)),
		},
	})
	return token.SignedString(a.secret)
}

// Verify parses a token and returns the identity it carries.
func (a *Authenticator) Verify(tokenString string) (*Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return &Identity{
		ID:        claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
		AvatarURL: claims.Picture,
	}, nil
}

// IdentityFrom returns the caller set by the identity middleware, or nil for
// anonymous requests.
func IdentityFrom(c echo.Context) *Identity {
	id, _ := c.Get(identityContextKey).(*Identity)
	return id
}

// identityMiddleware resolves the caller from a bearer token or, failing
// that, from the cookie session. A malformed or invalid bearer token is
// rejected rather than treated as anonymous.
func (a *App) identityMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if header := c.Request().Header.Get(echo.HeaderAuthorization); header != "" {
			if !strings.HasPrefix(header, bearerPrefix) {
				return Unauthorized("authorization header must use the Bearer scheme")
			}
			id, err := a.Auth.Verify(strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix)))
			if err != nil {
				return Unauthorized("invalid or expired token")
			}
			c.Set(identityContextKey, id)
			return next(c)
		}
		if id := sessionIdentity(c); id != nil {
			c.Set(identityContextKey, id)
		}
		return next(c)
	}
}

func sessionIdentity(c echo.Context) *Identity {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return nil
	}
	id, _ := sess.Values["id"].(string)
	if id == "" {
		return nil
	}
	email, _ := sess.Values["email"].(string)
	name, _ := sess.Values["name"].(string)
	avatar, _ := sess.Values["avatar"].(string)
	return &Identity{ID: id, Email: email, Name: name, AvatarURL: avatar}
}

// handleSessionCreate exchanges a bearer token for a cookie session.
func (a *App) handleSessionCreate(c echo.Context) error {
	id := IdentityFrom(c)
	if id == nil {
		return Unauthorized("a bearer token is required to start a session")
	}
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return Internal("failed to load session", err)
	}
	sess.Values["id"] = id.ID
	sess.Values["email"] = id.Email
	sess.Values["name"] = id.Name
	sess.Values["avatar"] = id.AvatarURL
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		return Internal("failed to save session", err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"identity": id,
		"role":     a.Roles.Resolve(id),
	})
}

func (a *App) handleSessionDelete(c echo.Context) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return Internal("failed to load session", err)
	}
	sess.Options.MaxAge = -1
	if err := sess.Save(c.Request(), c.Response()); err != nil {
		return Internal("failed to clear session", err)
	}
	return c.NoContent(http.StatusNoContent)
}
