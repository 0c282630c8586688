package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ibeckermayer/threadmap/internal/config"
	"github.com/ibeckermayer/threadmap/internal/source"
	"github.com/ibeckermayer/threadmap/internal/types"
)

// Store handles all database operations. It doubles as an offline
// PostSource that replays previously captured posts.
type Store struct {
	db *sql.DB
}

var _ source.PostSource = (*Store)(nil)

// DefaultPath returns the location of the post database inside the cache directory.
func DefaultPath() (string, error) {
	cacheDir, err := config.CacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cacheDir, "posts.db"), nil
}

// New creates a new Store with SQLite backend
func New(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		author TEXT NOT NULL,
		author_name TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '',
		reply_to_author TEXT NOT NULL DEFAULT '',
		quoted_id TEXT NOT NULL DEFAULT '',
		conversation_id TEXT NOT NULL DEFAULT '',
		media_urls TEXT NOT NULL DEFAULT '[]',
		links TEXT NOT NULL DEFAULT '[]',
		created_at INTEGER NOT NULL DEFAULT 0,
		scraped_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		root_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		nodes INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_posts_conversation ON posts(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_posts_parent ON posts(parent_id);
	CREATE INDEX IF NOT EXISTS idx_runs_root ON runs(root_id, started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SavePost inserts or updates a post. An embedded quoted post is not saved;
// callers that want it persisted save it separately.
func (s *Store) SavePost(ctx context.Context, p types.Post) error {
	if err := p.Validate(); err != nil {
		return err
	}
	mediaJSON, _ := json.Marshal(nonNil(p.MediaURLs))
	linksJSON, _ := json.Marshal(nonNil(p.Links))

	var created int64
	if !p.CreatedAt.IsZero() {
		created = p.CreatedAt.UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, author, author_name, content, parent_id, reply_to_author,
			quoted_id, conversation_id, media_urls, links, created_at, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			author = excluded.author,
			author_name = excluded.author_name,
			content = excluded.content,
			parent_id = excluded.parent_id,
			reply_to_author = excluded.reply_to_author,
			quoted_id = excluded.quoted_id,
			conversation_id = excluded.conversation_id,
			media_urls = excluded.media_urls,
			links = excluded.links,
			created_at = excluded.created_at,
			scraped_at = excluded.scraped_at
	`, p.ID, p.Author, p.AuthorName, p.Text, p.ParentID, p.ReplyToAuthor,
		p.QuotedID, p.ConversationID, string(mediaJSON), string(linksJSON), created, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save post %s: %w", p.ID, err)
	}
	return nil
}

// FetchByID returns the stored post with the given id, or types.ErrNotFound.
func (s *Store) FetchByID(ctx context.Context, id string) (types.Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Post{}, fmt.Errorf("post %s: %w", id, types.ErrNotFound)
	}
	return p, err
}

// Search evaluates q against the stored posts in insertion order.
func (s *Store) Search(ctx context.Context, q source.Query) iter.Seq2[types.Post, error] {
	return func(yield func(types.Post, error) bool) {
		where, args := whereClause(q)
		rows, err := s.db.QueryContext(ctx, `SELECT `+postColumns+` FROM posts`+where+` ORDER BY rowid`, args...)
		if err != nil {
			yield(types.Post{}, fmt.Errorf("failed to search posts: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanPost(rows)
			if err != nil {
				yield(types.Post{}, err)
				return
			}
			if !yield(p, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(types.Post{}, fmt.Errorf("failed to search posts: %w", err))
		}
	}
}

// Run is one recorded extract invocation.
type Run struct {
	ID         string
	RootID     string
	StartedAt  time.Time
	FinishedAt time.Time
	Nodes      int
	Err        string
}

// RecordRun stores the outcome of an invocation.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, root_id, started_at, finished_at, nodes, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.RootID, r.StartedAt.UTC(), r.FinishedAt.UTC(), r.Nodes, r.Err)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", r.ID, err)
	}
	return nil
}

// Runs returns the recorded runs for a root post, oldest first.
func (s *Store) Runs(ctx context.Context, rootID string) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, root_id, started_at, finished_at, nodes, error
		FROM runs WHERE root_id = ?
		ORDER BY started_at, rowid
	`, rootID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.RootID, &r.StartedAt, &r.FinishedAt, &r.Nodes, &r.Err); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

const postColumns = `id, author, author_name, content, parent_id, reply_to_author,
	quoted_id, conversation_id, media_urls, links, created_at`

func whereClause(q source.Query) (string, []any) {
	var conds []string
	var args []any
	if q.From != "" {
		conds = append(conds, "author = ? COLLATE NOCASE")
		args = append(args, q.From)
	}
	if q.To != "" {
		conds = append(conds, "reply_to_author = ? COLLATE NOCASE")
		args = append(args, q.To)
	}
	if q.ConversationID != "" {
		conds = append(conds, "(CASE WHEN conversation_id = '' THEN id ELSE conversation_id END) = ?")
		args = append(args, q.ConversationID)
	}
	if q.URL != "" {
		conds = append(conds, "(instr(lower(content), lower(?)) > 0 OR instr(lower(links), lower(?)) > 0)")
		args = append(args, q.URL, q.URL)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPost(row scanner) (types.Post, error) {
	var p types.Post
	var mediaJSON, linksJSON string
	var created int64

	err := row.Scan(
		&p.ID, &p.Author, &p.AuthorName, &p.Text, &p.ParentID, &p.ReplyToAuthor,
		&p.QuotedID, &p.ConversationID, &mediaJSON, &linksJSON, &created,
	)
	if err != nil {
		return types.Post{}, err
	}

	if err := json.Unmarshal([]byte(mediaJSON), &p.MediaURLs); err != nil {
		return types.Post{}, fmt.Errorf("%w: post %s has bad media_urls: %v", types.ErrMalformedPost, p.ID, err)
	}
	if err := json.Unmarshal([]byte(linksJSON), &p.Links); err != nil {
		return types.Post{}, fmt.Errorf("%w: post %s has bad links: %v", types.ErrMalformedPost, p.ID, err)
	}
	if created != 0 {
		p.CreatedAt = time.UnixMilli(created).UTC()
	}
	return p, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
