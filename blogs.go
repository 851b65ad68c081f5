package blogdesk

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const (
	coverAssetPrefix  = "image"
	avatarAssetPrefix = "author_image"
	assetContentType  = "image/jpeg"

	// DefaultAvatar is served from the embedded assets.
	DefaultAvatar = "/public/profile_icon.svg"
)

// BlogService runs the blog write and read pipelines: validation, permission
// checks, asset upload and release, and record mutation.
//
// Asset uploads and record writes are not transactional. An upload followed
// by a failed record write leaves an orphaned asset, which is logged and not
// retried. Releasing a replaced or deleted asset is best effort.
type BlogService struct {
	records RecordStore
	assets  AssetStore
	roles   *RoleResolver
	log     *slog.Logger
	cache   *ListCache

	defaultAvatar string
	drafts        DraftVisibility
	maxUploadSize int
	now           func() time.Time
}

// ServiceOption configures a BlogService.
type ServiceOption func(*BlogService)

func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *BlogService) { s.log = l }
}

// WithListCache caches the anonymous published listing for ttl.
func WithListCache(ttl time.Duration) ServiceOption {
	return func(s *BlogService) { s.cache = NewListCache(ttl) }
}

func WithDraftVisibility(v DraftVisibility) ServiceOption {
	return func(s *BlogService) { s.drafts = v }
}

func WithDefaultAvatar(url string) ServiceOption {
	return func(s *BlogService) { s.defaultAvatar = url }
}

func WithMaxUploadSize(n int) ServiceOption {
	return func(s *BlogService) { s.maxUploadSize = n }
}

// NewBlogService wires the pipelines to their stores.
func NewBlogService(records RecordStore, assets AssetStore, roles *RoleResolver, opts ...ServiceOption) *BlogService {
	s := &BlogService{
		records:       records,
		assets:        assets,
		roles:         roles,
		log:           slog.Default(),
		defaultAvatar: DefaultAvatar,
		drafts:        DraftsRelaxed,
		maxUploadSize: DefaultMaxUploadSize,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates in, uploads the cover (and optional avatar) and inserts a
// new record owned by id.
func (s *BlogService) Create(ctx context.Context, id *Identity, in CreateInput) (BlogRecord, error) {
	if id == nil {
		return BlogRecord{}, Unauthorized("sign in to create a blog post")
	}
	if !s.roles.CanCreate(id) {
		return BlogRecord{}, Forbidden("you are not allowed to create blog posts")
	}

	title := strings.TrimSpace(in.Title)
	description := strings.TrimSpace(in.Description)
	category := strings.TrimSpace(in.Category)
	switch {
	case title == "":
		return BlogRecord{}, Validation("title is required")
	case description == "":
		return BlogRecord{}, Validation("description is required")
	case category == "":
		return BlogRecord{}, Validation("category is required")
	}
	status := in.Status
	if status == "" {
		status = StatusPublished
	}
	if !status.Valid() {
		return BlogRecord{}, Validation(fmt.Sprintf("status must be %q or %q", StatusDraft, StatusPublished))
	}
	if in.Image.Empty() {
		return BlogRecord{}, Validation("image is required")
	}
	cover, err := s.prepareImage("image", in.Image, coverMaxWidth)
	if err != nil {
		return BlogRecord{}, err
	}

	imageURL, err := s.putAsset(ctx, coverAssetPrefix, in.Image.Filename, cover)
	if err != nil {
		return BlogRecord{}, StorageFailure("failed to store image", err)
	}

	rec := BlogRecord{
		Title:       title,
		Description: description,
		Content:     in.Content,
		Category:    category,
		Image:       imageURL,
		Author:      authorName(id, in.Author),
		AuthorImg:   s.resolveAvatar(ctx, id, in),
		AuthorID:    id.ID,
		Status:      status,
	}
	if err := s.records.Insert(ctx, &rec); err != nil {
		s.log.WarnContext(ctx, "blog insert failed after upload, assets orphaned",
			"image", rec.Image, "author_img", rec.AuthorImg, "error", err)
		return BlogRecord{}, storeErr("failed to save blog post", err)
	}
	s.invalidate()
	return rec, nil
}

// resolveAvatar picks the author image for a new record: an uploaded avatar,
// then a supplied URL, then the identity's avatar, then the default. A failed
// avatar upload falls through to the next source.
func (s *BlogService) resolveAvatar(ctx context.Context, id *Identity, in CreateInput) string {
	if !in.AuthorImage.Empty() {
		data, err := s.prepareImage("author_img", in.AuthorImage, avatarMaxWidth)
		if err == nil {
			var url string
			url, err = s.putAsset(ctx, avatarAssetPrefix, in.AuthorImage.Filename, data)
			if err == nil {
				return url
			}
		}
		s.log.WarnContext(ctx, "avatar upload failed, falling back", "author_id", id.ID, "error", err)
	}
	// Store-owned URLs belong to other records and are never adopted.
	for _, u := range []string{strings.TrimSpace(in.AuthorImageURL), id.AvatarURL} {
		if u == "" {
			continue
		}
		if s.assets.Owns(u) {
			s.log.WarnContext(ctx, "ignoring store-owned avatar url", "author_id", id.ID, "url", u)
			continue
		}
		return u
	}
	return s.defaultAvatar
}

func authorName(id *Identity, fallback string) string {
	for _, name := range []string{id.Name, fallback, id.Email} {
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	return "Anonymous"
}

// Update merges the fields present in in onto the stored record. A new cover
// or avatar replaces the old one, which is then released.
func (s *BlogService) Update(ctx context.Context, id *Identity, blogID string, in UpdateInput) (BlogRecord, error) {
	if id == nil {
		return BlogRecord{}, Unauthorized("sign in to edit a blog post")
	}
	existing, err := s.records.Get(ctx, blogID)
	if err != nil {
		return BlogRecord{}, storeErr("failed to load blog post", err)
	}
	if !s.roles.CanEdit(id, existing.AuthorID) {
		return BlogRecord{}, Forbidden("you can only edit your own posts")
	}

	merged := existing
	mergeText(&merged.Title, in.Title)
	mergeText(&merged.Description, in.Description)
	mergeText(&merged.Category, in.Category)
	if in.Content != nil {
		merged.Content = *in.Content
	}
	if in.Status != nil && *in.Status != "" {
		if !in.Status.Valid() {
			return BlogRecord{}, Validation(fmt.Sprintf("status must be %q or %q", StatusDraft, StatusPublished))
		}
		merged.Status = *in.Status
	}

	var cover, avatar []byte
	if !in.Image.Empty() {
		if cover, err = s.prepareImage("image", in.Image, coverMaxWidth); err != nil {
			return BlogRecord{}, err
		}
	}
	if !in.AuthorImage.Empty() {
		if avatar, err = s.prepareImage("author_img", in.AuthorImage, avatarMaxWidth); err != nil {
			return BlogRecord{}, err
		}
	}

	var uploaded []string
	if cover != nil {
		url, err := s.putAsset(ctx, coverAssetPrefix, in.Image.Filename, cover)
		if err != nil {
			return BlogRecord{}, StorageFailure("failed to store image", err)
		}
		merged.Image = url
		uploaded = append(uploaded, url)
	}
	if avatar != nil {
		url, err := s.putAsset(ctx, avatarAssetPrefix, in.AuthorImage.Filename, avatar)
		if err != nil {
			s.log.WarnContext(ctx, "avatar upload failed, keeping previous", "blog_id", blogID, "error", err)
		} else {
			merged.AuthorImg = url
			uploaded = append(uploaded, url)
		}
	}

	updated, err := s.records.Update(ctx, merged)
	if err != nil {
		if len(uploaded) > 0 {
			s.log.WarnContext(ctx, "blog update failed after upload, assets orphaned",
				"blog_id", blogID, "assets", uploaded, "error", err)
		}
		return BlogRecord{}, storeErr("failed to update blog post", err)
	}

	if updated.Image != existing.Image {
		s.release(ctx, blogID, existing.Image)
	}
	if updated.AuthorImg != existing.AuthorImg {
		s.release(ctx, blogID, existing.AuthorImg)
	}
	s.invalidate()
	return updated, nil
}

// mergeText applies v to dst when it carries a non-blank value. Blank values
// keep the stored text, since title, description and category are required.
func mergeText(dst *string, v *string) {
	if v == nil {
		return
	}
	if t := strings.TrimSpace(*v); t != "" {
		*dst = t
	}
}

// Delete removes the record, then releases its store-owned assets.
func (s *BlogService) Delete(ctx context.Context, id *Identity, blogID string) error {
	if id == nil {
		return Unauthorized("sign in to delete a blog post")
	}
	existing, err := s.records.Get(ctx, blogID)
	if err != nil {
		return storeErr("failed to load blog post", err)
	}
	if !s.roles.CanDelete(id, existing.AuthorID) {
		return Forbidden("you can only delete your own posts")
	}

	if err := s.records.Delete(ctx, blogID); err != nil {
		return storeErr("failed to delete blog post", err)
	}
	s.invalidate()

	s.release(ctx, blogID, existing.Image)
	s.release(ctx, blogID, existing.AuthorImg)
	return nil
}

// List returns records matching f as seen by requester, newest first.
func (s *BlogService) List(ctx context.Context, f ListFilter, requester *Identity) ([]BlogRecord, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, Validation(fmt.Sprintf("status must be %q or %q", StatusDraft, StatusPublished))
	}
	f.RestrictDrafts, f.DraftOwner = false, ""

	if requester == nil && f.isZero() && s.cache != nil {
		records, err := s.cache.Get(ctx, func(ctx context.Context) ([]BlogRecord, error) {
			return s.records.List(ctx, ListFilter{Status: StatusPublished})
		})
		if err != nil {
			return nil, storeErr("failed to list blog posts", err)
		}
		return records, nil
	}

	if f.Status == "" && requester == nil {
		f.Status = StatusPublished
	}
	if s.drafts == DraftsOwnerOnly && s.roles.Resolve(requester) != RoleAdmin {
		f.RestrictDrafts = true
		if requester != nil {
			f.DraftOwner = requester.ID
		}
	}

	records, err := s.records.List(ctx, f)
	if err != nil {
		return nil, storeErr("failed to list blog posts", err)
	}
	if records == nil {
		records = []BlogRecord{}
	}
	return records, nil
}

// Get returns one record and counts the view. Under the owner-only draft
// policy a draft the requester may not see is reported as not found and is
// not counted.
func (s *BlogService) Get(ctx context.Context, blogID string, requester *Identity) (BlogRecord, error) {
	if s.drafts == DraftsOwnerOnly {
		rec, err := s.records.Get(ctx, blogID)
		if err != nil {
			return BlogRecord{}, storeErr("failed to load blog post", err)
		}
		if !rec.Published() && !s.roles.CanViewDraft(requester, rec.AuthorID) {
			return BlogRecord{}, blogNotFound(blogID)
		}
	}
	rec, err := s.records.IncrementViews(ctx, blogID)
	if err != nil {
		return BlogRecord{}, storeErr("failed to load blog post", err)
	}
	blogViewsTotal.Inc()
	return rec, nil
}

func (s *BlogService) prepareImage(field string, u *Upload, maxWidth int) ([]byte, error) {
	if len(u.Data) > s.maxUploadSize {
		return nil, Validation(fmt.Sprintf("%s is too large (max %d bytes)", field, s.maxUploadSize))
	}
	data, err := normalizeImage(u.Data, maxWidth)
	if err != nil {
		return nil, Validation(fmt.Sprintf("%s is not a supported image", field))
	}
	return data, nil
}

func (s *BlogService) putAsset(ctx context.Context, prefix, filename string, data []byte) (string, error) {
	url, err := s.assets.Put(ctx, assetName(prefix, filename, s.now()), assetContentType, data)
	observeAsset("put", err)
	return url, err
}

// release deletes url if this deployment's asset store owns it. Failures are
// logged and swallowed.
func (s *BlogService) release(ctx context.Context, blogID, url string) {
	if url == "" || !s.assets.Owns(url) {
		return
	}
	err := s.assets.Delete(ctx, url)
	observeAsset("delete", err)
	if err != nil {
		s.log.WarnContext(ctx, "asset release failed", "blog_id", blogID, "asset", url, "error", err)
	}
}

func (s *BlogService) invalidate() {
	if s.cache != nil {
		s.cache.Invalidate()
	}
}
