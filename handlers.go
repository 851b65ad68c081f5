package blogdesk

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
)

func (a *App) handleBlogList(c echo.Context) error {
	f := ListFilter{
		AuthorID: strings.TrimSpace(c.QueryParam("authorId")),
		Status:   Status(strings.TrimSpace(c.QueryParam("status"))),
		Category: strings.TrimSpace(c.QueryParam("category")),
	}
	records, err := a.Blogs.List(c.Request().Context(), f, IdentityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, records)
}

func (a *App) handleBlogGet(c echo.Context) error {
	rec, err := a.Blogs.Get(c.Request().Context(), c.Param("id"), IdentityFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

func (a *App) handleBlogCreate(c echo.Context) error {
	form, err := c.FormParams()
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return Validation("could not parse form")
	}
	in := CreateInput{
		Title:       form.Get("title"),
		Description: form.Get("description"),
		Content:     form.Get("content"),
		Category:    form.Get("category"),
		Status:      Status(strings.TrimSpace(form.Get("status"))),
		Author:      form.Get("author"),
	}
	if in.Image, err = a.readUpload(c, "image"); err != nil {
		return err
	}
	if in.AuthorImage, err = a.readUpload(c, "author_img"); err != nil {
		return err
	}
	in.AuthorImageURL = form.Get("author_img_url")
	if in.AuthorImageURL == "" {
		in.AuthorImageURL = form.Get("author_img")
	}

	rec, err := a.Blogs.Create(c.Request().Context(), IdentityFrom(c), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"message": "Blog created successfully",
		"blog":    rec,
	})
}

func (a *App) handleBlogUpdate(c echo.Context) error {
	form, err := c.FormParams()
	if err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return Validation("could not parse form")
	}
	in := UpdateInput{
		Title:       optionalField(form, "title"),
		Description: optionalField(form, "description"),
		Content:     optionalField(form, "content"),
		Category:    optionalField(form, "category"),
	}
	if v := optionalField(form, "status"); v != nil {
		s := Status(strings.TrimSpace(*v))
		in.Status = &s
	}
	if in.Image, err = a.readUpload(c, "image"); err != nil {
		return err
	}
	if in.AuthorImage, err = a.readUpload(c, "author_img"); err != nil {
		return err
	}

	rec, err := a.Blogs.Update(c.Request().Context(), IdentityFrom(c), c.Param("id"), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"message": "Blog updated successfully",
		"blog":    rec,
	})
}

func (a *App) handleBlogDelete(c echo.Context) error {
	if err := a.Blogs.Delete(c.Request().Context(), IdentityFrom(c), c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{
		"message": "Blog deleted successfully",
	})
}

// handleMe reports the caller's role and the dashboards it may open.
func (a *App) handleMe(c echo.Context) error {
	id := IdentityFrom(c)
	resp := map[string]any{
		"identity": id,
		"role":     a.Roles.Resolve(id),
		"permissions": map[string]bool{
			"create":           a.Roles.CanCreate(id),
			"admin_dashboard":  a.Roles.CanViewAdminDashboard(id),
			"author_dashboard": a.Roles.CanViewAuthorDashboard(id),
		},
	}
	if token := CsrfToken(c); token != "" {
		resp["csrf_token"] = token
	}
	return c.JSON(http.StatusOK, resp)
}

func handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// readUpload buffers the named multipart file. A missing field yields a nil
// Upload. At most MaxUploadSize+1 bytes are read so the service can reject
// oversized files without holding them whole.
func (a *App) readUpload(c echo.Context, field string) (*Upload, error) {
	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, Validation(fmt.Sprintf("could not read %s", field))
	}
	f, err := fh.Open()
	if err != nil {
		return nil, Internal(fmt.Sprintf("open %s upload", field), err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, int64(a.Config.MaxUploadSize)+1))
	if err != nil {
		return nil, Internal(fmt.Sprintf("read %s upload", field), err)
	}
	return &Upload{Filename: fh.Filename, Data: data}, nil
}

// optionalField returns nil when name was not submitted at all, so partial
// updates can tell an absent field from an empty one.
func optionalField(form url.Values, name string) *string {
	vs, ok := form[name]
	if !ok || len(vs) == 0 {
		return nil
	}
	v := vs[0]
	return &v
}
