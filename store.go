package blogdesk

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// RecordStore persists blog records. Implementations return a NotFound
// *Error for unknown ids and plain errors for everything else.
type RecordStore interface {
	// Insert assigns the id and timestamps and stores rec.
	Insert(ctx context.Context, rec *BlogRecord) error
	Get(ctx context.Context, id string) (BlogRecord, error)
	// List returns matching records newest first.
	List(ctx context.Context, f ListFilter) ([]BlogRecord, error)
	// Update persists the mutable fields of rec. ID, Author, AuthorID,
	// Views and CreatedAt are never written.
	Update(ctx context.Context, rec BlogRecord) (BlogRecord, error)
	Delete(ctx context.Context, id string) error
	// IncrementViews atomically adds one view and returns the new state.
	IncrementViews(ctx context.Context, id string) (BlogRecord, error)
	Close() error
}

const blogColumns = `id, title, description, content, category, image, author, author_img, author_id, status, views, created_at, updated_at`

// SQLiteStore is the default RecordStore, backed by an on-disk SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the SQLite database at path, ensures the
// data directory exists, and creates the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	// Pragmas go in the DSN so every pooled connection gets them; a busy
	// timeout set with Exec would only apply to one connection.
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=cache_size(-8000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS blogs (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    description TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL,
    image TEXT NOT NULL,
    author TEXT NOT NULL,
    author_img TEXT NOT NULL,
    author_id TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'published',
    views INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_blogs_author_id ON blogs(author_id);
CREATE INDEX IF NOT EXISTS idx_blogs_created_at ON blogs(created_at);
`)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteBlog(row rowScanner) (BlogRecord, error) {
	var r BlogRecord
	var status string
	var created, updated int64
	err := row.Scan(&r.ID, &r.Title, &r.Description, &r.Content, &r.Category, &r.Image,
		&r.Author, &r.AuthorImg, &r.AuthorID, &status, &r.Views, &created, &updated)
	if err != nil {
		return BlogRecord{}, err
	}
	r.Status = Status(status)
	r.CreatedAt = time.Unix(0, created).UTC()
	r.UpdatedAt = time.Unix(0, updated).UTC()
	return r, nil
}

func blogNotFound(id string) *Error {
	return NotFound(fmt.Sprintf("blog post %q not found", id))
}

// prepareInsert fills the store-managed fields of rec.
func prepareInsert(rec *BlogRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Status == "" {
		rec.Status = StatusPublished
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Views = 0
}

func (s *SQLiteStore) Insert(ctx context.Context, rec *BlogRecord) error {
	prepareInsert(rec)
	_, err := s.db.ExecContext(ctx, `INSERT INTO blogs (`+blogColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Title, rec.Description, rec.Content, rec.Category, rec.Image,
		rec.Author, rec.AuthorImg, rec.AuthorID, string(rec.Status), rec.Views,
		rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano())
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (BlogRecord, error) {
	rec, err := scanSQLiteBlog(s.db.QueryRowContext(ctx, `SELECT `+blogColumns+` FROM blogs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return BlogRecord{}, blogNotFound(id)
	}
	return rec, err
}

func (s *SQLiteStore) List(ctx context.Context, f ListFilter) ([]BlogRecord, error) {
	where, args := buildListWhere(f, func(int) string { return "?" })
	rows, err := s.db.QueryContext(ctx, `SELECT `+blogColumns+` FROM blogs`+where+` ORDER BY created_at DESC, rowid DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []BlogRecord{}
	for rows.Next() {
		rec, err := scanSQLiteBlog(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Update(ctx context.Context, rec BlogRecord) (BlogRecord, error) {
	updated, err := scanSQLiteBlog(s.db.QueryRowContext(ctx, `
UPDATE blogs SET title = ?, description = ?, content = ?, category = ?, image = ?, author_img = ?, status = ?, updated_at = ?
WHERE id = ?
RETURNING `+blogColumns,
		rec.Title, rec.Description, rec.Content, rec.Category, rec.Image, rec.AuthorImg,
		string(rec.Status), time.Now().UTC().UnixNano(), rec.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return BlogRecord{}, blogNotFound(rec.ID)
	}
	return updated, err
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blogs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return blogNotFound(id)
	}
	return nil
}

// IncrementViews runs a single UPDATE ... RETURNING statement, so concurrent
// readers never lose an increment.
func (s *SQLiteStore) IncrementViews(ctx context.Context, id string) (BlogRecord, error) {
	rec, err := scanSQLiteBlog(s.db.QueryRowContext(ctx, `UPDATE blogs SET views = views + 1 WHERE id = ? RETURNING `+blogColumns, id))
	if errors.Is(err, sql.ErrNoRows) {
		return BlogRecord{}, blogNotFound(id)
	}
	return rec, err
}

// buildListWhere renders the WHERE clause for f. placeholder returns the
// bind marker for the n-th (1-based) argument.
func buildListWhere(f ListFilter, placeholder func(n int) string) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.Replace(cond, "$", placeholder(len(args)), 1))
	}
	if f.AuthorID != "" {
		add("author_id = $", f.AuthorID)
	}
	if f.Status != "" {
		add("status = $", string(f.Status))
	}
	if f.Category != "" {
		add("lower(category) = lower($)", f.Category)
	}
	if f.RestrictDrafts {
		add("(status = 'published' OR author_id = $)", f.DraftOwner)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
