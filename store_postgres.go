package blogdesk

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a RecordStore backed by PostgreSQL through a pgx pool.
// It is selected when DATABASE_URL is configured.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn, verifies the connection and creates the
// schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
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
    status TEXT NOT NULL DEFAULT 'published' CHECK (status IN ('draft', 'published')),
    views BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_blogs_author_id ON blogs(author_id);
CREATE INDEX IF NOT EXISTS idx_blogs_created_at ON blogs(created_at);
`)
	return err
}

func scanPostgresBlog(row pgx.Row) (BlogRecord, error) {
	var r BlogRecord
	var status string
	err := row.Scan(&r.ID, &r.Title, &r.Description, &r.Content, &r.Category, &r.Image,
		&r.Author, &r.AuthorImg, &r.AuthorID, &status, &r.Views, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return BlogRecord{}, err
	}
	r.Status = Status(status)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}

func pgPlaceholder(n int) string {
	return "$" + strconv.Itoa(n)
}

func (s *PostgresStore) Insert(ctx context.Context, rec *BlogRecord) error {
	prepareInsert(rec)
	_, err := s.pool.Exec(ctx, `INSERT INTO blogs (`+blogColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.Title, rec.Description, rec.Content, rec.Category, rec.Image,
		rec.Author, rec.AuthorImg, rec.AuthorID, string(rec.Status), rec.Views,
		rec.CreatedAt, rec.UpdatedAt)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (BlogRecord, error) {
	rec, err := scanPostgresBlog(s.pool.QueryRow(ctx, `SELECT `+blogColumns+` FROM blogs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return BlogRecord{}, blogNotFound(id)
	}
	return rec, err
}

func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]BlogRecord, error) {
	where, args := buildListWhere(f, pgPlaceholder)
	rows, err := s.pool.Query(ctx, `SELECT `+blogColumns+` FROM blogs`+where+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []BlogRecord{}
	for rows.Next() {
		rec, err := scanPostgresBlog(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, rec BlogRecord) (BlogRecord, error) {
	updated, err := scanPostgresBlog(s.pool.QueryRow(ctx, `
UPDATE blogs SET title = $1, description = $2, content = $3, category = $4, image = $5, author_img = $6, status = $7, updated_at = $8
WHERE id = $9
RETURNING `+blogColumns,
		rec.Title, rec.Description, rec.Content, rec.Category, rec.Image, rec.AuthorImg,
		string(rec.Status), time.Now().UTC(), rec.ID))
	if errors.Is(err, pgx.ErrNoRows) {
		return BlogRecord{}, blogNotFound(rec.ID)
	}
	return updated, err
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM blogs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return blogNotFound(id)
	}
	return nil
}

func (s *PostgresStore) IncrementViews(ctx context.Context, id string) (BlogRecord, error) {
	rec, err := scanPostgresBlog(s.pool.QueryRow(ctx, `UPDATE blogs SET views = views + 1 WHERE id = $1 RETURNING `+blogColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return BlogRecord{}, blogNotFound(id)
	}
	return rec, err
}
