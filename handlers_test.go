package blogdesk

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, mutate ...func(*SiteConfig)) *App {
	t.Helper()
	dir := t.TempDir()
	cfg := SiteConfig{
		Name:          "Test Blog",
		URL:           "https://blog.example.com",
		DatabasePath:  filepath.Join(dir, "blog.db"),
		UploadDir:     filepath.Join(dir, "uploads"),
		JWTSecret:     "test-jwt-secret",
		SessionSecret: "test-session-secret-0123456789abcdef",
		AdminEmails:   []string{"admin@example.com"},
		ListCacheTTL:  -1,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	app := New(cfg, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, app.Setup(context.Background()))
	t.Cleanup(func() { app.Close() })
	return app
}

func tokenFor(t *testing.T, app *App, id *Identity) string {
	t.Helper()
	token, err := app.Auth.Issue(*id)
	require.NoError(t, err)
	return token
}

type formFile struct {
	field, name string
	data        []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...formFile) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	for _, f := range files {
		fw, err := w.CreateFormFile(f.field, f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

type request struct {
	method, target string
	body           io.Reader
	contentType    string
	token          string
	cookies        []*http.Cookie
	headers        map[string]string
}

func serve(app *App, r request) *httptest.ResponseRecorder {
	req := httptest.NewRequest(r.method, r.target, r.body)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	for _, c := range r.cookies {
		req.AddCookie(c)
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	app.Echo.ServeHTTP(rec, req)
	return rec
}

type blogResponse struct {
	Message string     `json:"message"`
	Blog    BlogRecord `json:"blog"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func createViaHTTP(t *testing.T, app *App, id *Identity, fields map[string]string) BlogRecord {
	t.Helper()
	all := map[string]string{"title": "Hello", "description": "<p>Hi</p>", "category": "Tech"}
	for k, v := range fields {
		all[k] = v
	}
	body, ct := multipartBody(t, all, formFile{"image", "cover.png", pngBytes(t, 32, 16)})
	rec := serve(app, request{method: http.MethodPost, target: "/blog", body: body, contentType: ct, token: tokenFor(t, app, id)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[blogResponse](t, rec).Blog
}

func TestCreateEndpoint(t *testing.T) {
	app := newTestApp(t)

	blog := createViaHTTP(t, app, userOne, nil)
	assert.Equal(t, "u1", blog.AuthorID)
	assert.Equal(t, StatusPublished, blog.Status)
	assert.Equal(t, int64(0), blog.Views)
	assert.Equal(t, "User One", blog.Author)
	assert.Equal(t, userOne.AvatarURL, blog.AuthorImg)
	require.True(t, strings.HasPrefix(blog.Image, "/uploads/image_cover_"), blog.Image)

	_, err := os.Stat(filepath.Join(app.Config.UploadDir, path.Base(blog.Image)))
	assert.NoError(t, err, "cover should be written to the upload dir")

	rec := serve(app, request{method: http.MethodGet, target: blog.Image})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateEndpointResponseShape(t *testing.T) {
	app := newTestApp(t)
	body, ct := multipartBody(t,
		map[string]string{"title": "Hello", "description": "d", "category": "Tech"},
		formFile{"image", "cover.png", pngBytes(t, 8, 8)})
	rec := serve(app, request{method: http.MethodPost, target: "/api/blog", body: body, contentType: ct, token: tokenFor(t, app, userOne)})
	require.Equal(t, http.StatusCreated, rec.Code)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Equal(t, "Blog created successfully", raw["message"])
	blog, ok := raw["blog"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"id", "title", "description", "category", "image", "author", "author_img", "authorId", "status", "views", "createdAt"} {
		assert.Contains(t, blog, key)
	}
}

func TestCreateEndpointErrors(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name     string
		token    string
		fields   map[string]string
		files    []formFile
		wantCode int
		wantKind string
	}{
		{
			name:     "anonymous",
			fields:   map[string]string{"title": "t", "description": "d", "category": "c"},
			files:    []formFile{{"image", "c.png", pngBytes(t, 8, 8)}},
			wantCode: http.StatusUnauthorized,
			wantKind: "unauthorized",
		},
		{
			name:     "missing image",
			token:    tokenFor(t, app, userOne),
			fields:   map[string]string{"title": "t", "description": "d", "category": "c"},
			wantCode: http.StatusBadRequest,
			wantKind: "validation",
		},
		{
			name:     "empty category",
			token:    tokenFor(t, app, userOne),
			fields:   map[string]string{"title": "t", "description": "d", "category": ""},
			files:    []formFile{{"image", "c.png", pngBytes(t, 8, 8)}},
			wantCode: http.StatusBadRequest,
			wantKind: "validation",
		},
		{
			name:     "not an image",
			token:    tokenFor(t, app, userOne),
			fields:   map[string]string{"title": "t", "description": "d", "category": "c"},
			files:    []formFile{{"image", "c.png", []byte("plain text")}},
			wantCode: http.StatusBadRequest,
			wantKind: "validation",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartBody(t, tt.fields, tt.files...)
			rec := serve(app, request{method: http.MethodPost, target: "/blog", body: body, contentType: ct, token: tt.token})
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantKind, decode[errorBody](t, rec).Kind)
		})
	}

	rec := serve(app, request{method: http.MethodGet, target: "/blog", token: tokenFor(t, app, admin)})
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()), "failed creates must not persist records")
}

func TestInvalidTokenIsRejected(t *testing.T) {
	app := newTestApp(t)

	for _, header := range []string{"Bearer not-a-token", "Basic dXNlcjpwYXNz"} {
		req := httptest.NewRequest(http.MethodGet, "/blog", nil)
		req.Header.Set("Authorization", header)
		rec := httptest.NewRecorder()
		app.Echo.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
	}
}

func TestUpdateEndpoint(t *testing.T) {
	app := newTestApp(t)
	blog := createViaHTTP(t, app, userOne, nil)

	body, ct := multipartBody(t, map[string]string{"title": "x"})
	rec := serve(app, request{method: http.MethodPut, target: "/blog/" + blog.ID, body: body, contentType: ct, token: tokenFor(t, app, userTwo)})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decode[errorBody](t, rec).Kind)

	body, ct = multipartBody(t, map[string]string{"title": "Renamed", "status": "draft"})
	rec = serve(app, request{method: http.MethodPut, target: "/blog/" + blog.ID, body: body, contentType: ct, token: tokenFor(t, app, userOne)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[blogResponse](t, rec)
	assert.Equal(t, "Blog updated successfully", resp.Message)
	assert.Equal(t, "Renamed", resp.Blog.Title)
	assert.Equal(t, StatusDraft, resp.Blog.Status)
	assert.Equal(t, blog.Description, resp.Blog.Description)
	assert.Equal(t, blog.Image, resp.Blog.Image)

	body, ct = multipartBody(t, nil)
	rec = serve(app, request{method: http.MethodPut, target: "/blog/missing", body: body, contentType: ct, token: tokenFor(t, app, admin)})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errorBody](t, rec).Kind)
}

func TestUpdateEndpointReplacesImage(t *testing.T) {
	app := newTestApp(t)
	blog := createViaHTTP(t, app, userOne, nil)
	oldFile := filepath.Join(app.Config.UploadDir, path.Base(blog.Image))

	body, ct := multipartBody(t, nil, formFile{"image", "fresh.png", pngBytes(t, 8, 8)})
	rec := serve(app, request{method: http.MethodPut, target: "/blog/" + blog.ID, body: body, contentType: ct, token: tokenFor(t, app, admin)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	updated := decode[blogResponse](t, rec).Blog
	assert.NotEqual(t, blog.Image, updated.Image)
	_, err := os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err), "replaced cover should be released")
	_, err = os.Stat(filepath.Join(app.Config.UploadDir, path.Base(updated.Image)))
	assert.NoError(t, err)
}

func TestDeleteEndpoint(t *testing.T) {
	app := newTestApp(t)
	blog := createViaHTTP(t, app, userOne, nil)
	file := filepath.Join(app.Config.UploadDir, path.Base(blog.Image))

	rec := serve(app, request{method: http.MethodDelete, target: "/blog/" + blog.ID, token: tokenFor(t, app, userTwo)})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(app, request{method: http.MethodDelete, target: "/blog/" + blog.ID})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(app, request{method: http.MethodDelete, target: "/blog/" + blog.ID, token: tokenFor(t, app, admin)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Blog deleted successfully", decode[map[string]string](t, rec)["message"])

	_, err := os.Stat(file)
	assert.True(t, os.IsNotExist(err))

	rec = serve(app, request{method: http.MethodGet, target: "/blog/" + blog.ID})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(app, request{method: http.MethodDelete, target: "/blog/" + blog.ID, token: tokenFor(t, app, admin)})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteEndpointKeepsBorrowedAvatar(t *testing.T) {
	app := newTestApp(t)
	alice := createViaHTTP(t, app, userOne, nil)
	file := filepath.Join(app.Config.UploadDir, path.Base(alice.Image))

	bob := createViaHTTP(t, app, userTwo, map[string]string{"author_img_url": alice.Image})
	assert.Equal(t, DefaultAvatar, bob.AuthorImg)

	rec := serve(app, request{method: http.MethodDelete, target: "/blog/" + bob.ID, token: tokenFor(t, app, userTwo)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, err := os.Stat(file)
	assert.NoError(t, err, "another author's cover must survive")
	rec = serve(app, request{method: http.MethodGet, target: alice.Image})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListEndpointVisibility(t *testing.T) {
	app := newTestApp(t)
	createViaHTTP(t, app, userOne, map[string]string{"title": "Public"})
	createViaHTTP(t, app, userOne, map[string]string{"title": "Secret", "status": "draft"})

	rec := serve(app, request{method: http.MethodGet, target: "/blog"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Public"}, titles(decode[[]BlogRecord](t, rec)))

	rec = serve(app, request{method: http.MethodGet, target: "/api/blog?authorId=u1", token: tokenFor(t, app, userOne)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"Public", "Secret"}, titles(decode[[]BlogRecord](t, rec)))

	rec = serve(app, request{method: http.MethodGet, target: "/blog?status=archived"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEndpointOwnerPolicy(t *testing.T) {
	app := newTestApp(t, func(c *SiteConfig) { c.DraftVisibility = DraftsOwnerOnly })
	createViaHTTP(t, app, userOne, map[string]string{"title": "Public"})
	draft := createViaHTTP(t, app, userOne, map[string]string{"title": "Secret", "status": "draft"})

	rec := serve(app, request{method: http.MethodGet, target: "/blog?authorId=u1", token: tokenFor(t, app, userTwo)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"Public"}, titles(decode[[]BlogRecord](t, rec)))

	rec = serve(app, request{method: http.MethodGet, target: "/blog/" + draft.ID, token: tokenFor(t, app, userTwo)})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(app, request{method: http.MethodGet, target: "/blog/" + draft.ID, token: tokenFor(t, app, userOne)})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetEndpointCountsViews(t *testing.T) {
	app := newTestApp(t)
	blog := createViaHTTP(t, app, userOne, nil)

	for want := int64(1); want <= 3; want++ {
		rec := serve(app, request{method: http.MethodGet, target: "/blog/" + blog.ID})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, want, decode[BlogRecord](t, rec).Views)
	}
}

func TestMeEndpoint(t *testing.T) {
	app := newTestApp(t)

	type meResponse struct {
		Identity    *Identity       `json:"identity"`
		Role        Role            `json:"role"`
		Permissions map[string]bool `json:"permissions"`
	}

	rec := serve(app, request{method: http.MethodGet, target: "/me"})
	require.Equal(t, http.StatusOK, rec.Code)
	anon := decode[meResponse](t, rec)
	assert.Nil(t, anon.Identity)
	assert.Equal(t, RoleReader, anon.Role)
	assert.False(t, anon.Permissions["create"])

	rec = serve(app, request{method: http.MethodGet, target: "/me", token: tokenFor(t, app, admin)})
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[meResponse](t, rec)
	assert.Equal(t, RoleAdmin, me.Role)
	assert.Equal(t, "a1", me.Identity.ID)
	assert.True(t, me.Permissions["create"])
	assert.True(t, me.Permissions["admin_dashboard"])
	assert.True(t, me.Permissions["author_dashboard"])

	rec = serve(app, request{method: http.MethodGet, target: "/me", token: tokenFor(t, app, userTwo)})
	author := decode[meResponse](t, rec)
	assert.Equal(t, RoleAuthor, author.Role)
	assert.False(t, author.Permissions["admin_dashboard"])
	assert.True(t, author.Permissions["author_dashboard"])
}

func TestSessionFlow(t *testing.T) {
	app := newTestApp(t)

	rec := serve(app, request{method: http.MethodPost, target: "/auth/session", token: tokenFor(t, app, userOne)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var session *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionName {
			session = c
		}
	}
	require.NotNil(t, session, "session cookie should be set")

	body, ct := multipartBody(t,
		map[string]string{"title": "t", "description": "d", "category": "c"},
		formFile{"image", "c.png", pngBytes(t, 8, 8)})
	rec = serve(app, request{method: http.MethodPost, target: "/blog", body: body, contentType: ct, cookies: []*http.Cookie{session}})
	assert.Equal(t, http.StatusForbidden, rec.Code, "cookie writes need a CSRF token")

	rec = serve(app, request{method: http.MethodGet, target: "/me", cookies: []*http.Cookie{session}})
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[map[string]any](t, rec)
	assert.Equal(t, "author", me["role"])
	csrfToken, _ := me["csrf_token"].(string)
	require.NotEmpty(t, csrfToken)
	var csrfCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "_csrf" {
			csrfCookie = c
		}
	}
	require.NotNil(t, csrfCookie)

	body, ct = multipartBody(t,
		map[string]string{"title": "t", "description": "d", "category": "c"},
		formFile{"image", "c.png", pngBytes(t, 8, 8)})
	rec = serve(app, request{
		method: http.MethodPost, target: "/blog", body: body, contentType: ct,
		cookies: []*http.Cookie{session, csrfCookie},
		headers: map[string]string{"X-CSRF-Token": csrfToken},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "u1", decode[blogResponse](t, rec).Blog.AuthorID)

	rec = serve(app, request{method: http.MethodDelete, target: "/auth/session", token: tokenFor(t, app, userOne)})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestWriteRateLimit(t *testing.T) {
	app := newTestApp(t, func(c *SiteConfig) {
		c.WriteRateLimit = 1
		c.WriteRateBurst = 1
	})
	token := tokenFor(t, app, userOne)

	body, ct := multipartBody(t, map[string]string{"title": "t"})
	rec := serve(app, request{method: http.MethodPost, target: "/blog", body: body, contentType: ct, token: token})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, ct = multipartBody(t, map[string]string{"title": "t"})
	rec = serve(app, request{method: http.MethodPost, target: "/blog", body: body, contentType: ct, token: token})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decode[errorBody](t, rec).Kind)

	// Reads are never limited.
	rec = serve(app, request{method: http.MethodGet, target: "/blog", token: token})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestFeedEndpoint(t *testing.T) {
	app := newTestApp(t)
	createViaHTTP(t, app, userOne, map[string]string{"title": "Visible Post"})
	createViaHTTP(t, app, userOne, map[string]string{"title": "Hidden Draft", "status": "draft"})

	rec := serve(app, request{method: http.MethodGet, target: "/feed.xml"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/rss+xml")
	assert.Contains(t, rec.Body.String(), "<title>Visible Post</title>")
	assert.NotContains(t, rec.Body.String(), "Hidden Draft")
	assert.Contains(t, rec.Body.String(), "https://blog.example.com/blog/")
}

func TestOperationalEndpoints(t *testing.T) {
	app := newTestApp(t)

	rec := serve(app, request{method: http.MethodGet, target: "/healthz"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = serve(app, request{method: http.MethodGet, target: "/metrics"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "blogdesk_http_requests_total")

	rec = serve(app, request{method: http.MethodGet, target: "/public/profile_icon.svg"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<svg")

	rec = serve(app, request{method: http.MethodGet, target: "/nope"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errorBody](t, rec).Kind)
}

func TestSetupRequiresSecrets(t *testing.T) {
	dir := t.TempDir()
	app := New(SiteConfig{DatabasePath: filepath.Join(dir, "b.db"), SessionSecret: "s"})
	assert.Error(t, app.Setup(context.Background()))

	app = New(SiteConfig{DatabasePath: filepath.Join(dir, "b.db"), JWTSecret: "j"})
	assert.Error(t, app.Setup(context.Background()))

	app = New(SiteConfig{DatabasePath: filepath.Join(dir, "b.db"), JWTSecret: "j", SessionSecret: "s", DraftVisibility: "bogus"})
	assert.Error(t, app.Setup(context.Background()))
}

func TestCustomRoutes(t *testing.T) {
	dir := t.TempDir()
	cfg := SiteConfig{
		DatabasePath:  filepath.Join(dir, "blog.db"),
		UploadDir:     filepath.Join(dir, "uploads"),
		JWTSecret:     "test-jwt-secret",
		SessionSecret: "test-session-secret-0123456789abcdef",
	}
	app := New(cfg,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithCustomRoutes(func(a *App) {
			a.Echo.GET("/whoami", func(c echo.Context) error {
				id := IdentityFrom(c)
				if id == nil {
					return c.String(http.StatusOK, "anonymous")
				}
				return c.String(http.StatusOK, id.ID+" "+string(a.Roles.Resolve(id)))
			})
		}),
	)
	require.NoError(t, app.Setup(context.Background()))
	t.Cleanup(func() { app.Close() })

	rec := serve(app, request{method: http.MethodGet, target: "/whoami"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anonymous", rec.Body.String())

	rec = serve(app, request{method: http.MethodGet, target: "/whoami", token: tokenFor(t, app, userOne)})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1 "+string(RoleAuthor), rec.Body.String())
}
