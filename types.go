package blogdesk

import "time"

// Status is the publication state of a blog record.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusDraft || s == StatusPublished
}

// BlogRecord is the persisted article entity.
//
// Author and AuthorImg are snapshots taken from the creator's identity at
// creation time. They are not re-synced when the profile changes; only an
// explicit avatar upload on update replaces AuthorImg.
type BlogRecord struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Content     string    `json:"content"`
	Category    string    `json:"category"`
	Image       string    `json:"image"`
	Author      string    `json:"author"`
	AuthorImg   string    `json:"author_img"`
	AuthorID    string    `json:"authorId"`
	Status      Status    `json:"status"`
	Views       int64     `json:"views"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Published reports whether the record is publicly visible.
func (r BlogRecord) Published() bool {
	return r.Status == StatusPublished
}

// Identity is the authenticated caller as reported by the identity gateway.
type Identity struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// Upload is a file taken from a multipart form, fully buffered.
type Upload struct {
	Filename string
	Data     []byte
}

// Empty reports whether the upload is missing or zero-sized. An empty upload
// is treated exactly like an absent one.
func (u *Upload) Empty() bool {
	return u == nil || len(u.Data) == 0
}

// CreateInput carries the fields of a create request.
type CreateInput struct {
	Title       string
	Description string
	Content     string
	Category    string
	Status      Status // empty means published
	Author      string // fallback display name when the identity has none

	Image          *Upload
	AuthorImage    *Upload
	AuthorImageURL string
}

// UpdateInput carries the fields of an update request. A nil field was not
// present in the request and keeps its stored value.
type UpdateInput struct {
	Title       *string
	Description *string
	Content     *string
	Category    *string
	Status      *Status

	Image       *Upload
	AuthorImage *Upload
}

// ListFilter narrows a listing. Zero values do not filter.
type ListFilter struct {
	AuthorID string
	Status   Status
	Category string

	// RestrictDrafts limits non-published records to those owned by
	// DraftOwner. With an empty DraftOwner only published records match.
	RestrictDrafts bool
	DraftOwner     string
}

func (f ListFilter) isZero() bool {
	return f == ListFilter{}
}
