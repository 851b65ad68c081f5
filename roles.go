package blogdesk

import "strings"

// Role is the authorization tier derived from an identity on every request.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleAuthor Role = "author"
	RoleReader Role = "reader"
)

// DraftVisibility selects who may see non-published records.
type DraftVisibility string

const (
	// DraftsRelaxed hides drafts only from anonymous listings. Single-record
	// fetches and authenticated listings see every status.
	DraftsRelaxed DraftVisibility = "relaxed"
	// DraftsOwnerOnly shows drafts only to their owner or an admin.
	DraftsOwnerOnly DraftVisibility = "owner"
)

// RoleResolver maps identities to roles using static admin allow-lists.
// It is immutable after construction and safe for concurrent use.
type RoleResolver struct {
	adminEmails map[string]struct{}
	adminIDs    map[string]struct{}
}

// NewRoleResolver builds a resolver. Emails are matched case-insensitively,
// ids exactly. Blank entries are ignored.
func NewRoleResolver(adminEmails, adminIDs []string) *RoleResolver {
	r := &RoleResolver{
		adminEmails: make(map[string]struct{}),
		adminIDs:    make(map[string]struct{}),
	}
	for _, e := range adminEmails {
		if e = normalizeEmail(e); e != "" {
			r.adminEmails[e] = struct{}{}
		}
	}
	for _, id := range adminIDs {
		if id = strings.TrimSpace(id); id != "" {
			r.adminIDs[id] = struct{}{}
		}
	}
	return r
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Resolve returns Reader for a nil identity, Admin for allow-listed
// identities and Author for everyone else.
func (r *RoleResolver) Resolve(id *Identity) Role {
	if id == nil {
		return RoleReader
	}
	if r.isAdmin(id) {
		return RoleAdmin
	}
	return RoleAuthor
}

func (r *RoleResolver) isAdmin(id *Identity) bool {
	if email := normalizeEmail(id.Email); email != "" {
		if _, ok := r.adminEmails[email]; ok {
			return true
		}
	}
	if id.ID != "" {
		if _, ok := r.adminIDs[id.ID]; ok {
			return true
		}
	}
	return false
}

// CanCreate reports whether id may create blog records.
func (r *RoleResolver) CanCreate(id *Identity) bool {
	role := r.Resolve(id)
	return role == RoleAdmin || role == RoleAuthor
}

// CanEdit reports whether id may edit a record owned by ownerID.
func (r *RoleResolver) CanEdit(id *Identity, ownerID string) bool {
	switch r.Resolve(id) {
	case RoleAdmin:
		return true
	case RoleAuthor:
		return id.ID != "" && id.ID == ownerID
	}
	return false
}

// CanDelete follows the same owner-or-admin rule as CanEdit.
func (r *RoleResolver) CanDelete(id *Identity, ownerID string) bool {
	return r.CanEdit(id, ownerID)
}

// CanViewDraft reports whether id may see a non-published record owned by
// ownerID.
func (r *RoleResolver) CanViewDraft(id *Identity, ownerID string) bool {
	return r.CanEdit(id, ownerID)
}

func (r *RoleResolver) CanViewAdminDashboard(id *Identity) bool {
	return r.Resolve(id) == RoleAdmin
}

func (r *RoleResolver) CanViewAuthorDashboard(id *Identity) bool {
	return r.CanCreate(id)
}
